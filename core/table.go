package core

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/signalsfoundry/telescope-simulator/model"
)

// Table formats.
//
// Curve files are two whitespace-separated columns, wavelength then
// value, with '#' comments. A "# wavelength_unit: nm" header converts the
// wavelength column from nanometres; the default is µm.
//
// Surface-list tables carry one surface per row with the columns
//
//	name  outer  inner  angle  temperature  action  filename
//
// in the declared physical units: outer/inner in metres, angle in
// degrees, temperature in °C. Units are normalised here, at decode time,
// so the rest of the pipeline only ever sees the internal unit system.
// Row order is the physical traversal order and is preserved exactly.

// ParseCurveTable reads a two-column curve file.
func ParseCurveTable(r io.Reader) (wavelengths, values []float64, err error) {
	sc := bufio.NewScanner(r)
	toUm := 1.0
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			if unit, ok := headerValue(text, "wavelength_unit"); ok {
				switch unit {
				case "um", "micron":
					toUm = 1.0
				case "nm":
					toUm = 1.0 / 1000.0
				default:
					return nil, nil, fmt.Errorf("line %d: unsupported wavelength unit %q", line, unit)
				}
			}
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, nil, fmt.Errorf("line %d: want 2 columns, got %d", line, len(fields))
		}
		w, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: bad wavelength %q: %w", line, fields[0], err)
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: bad value %q: %w", line, fields[1], err)
		}
		wavelengths = append(wavelengths, w*toUm)
		values = append(values, v)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	if len(wavelengths) == 0 {
		return nil, nil, fmt.Errorf("empty curve table")
	}
	return wavelengths, values, nil
}

// ParseSurfaceTable reads a surface-list table, normalising units. The
// source argument records the file identity for error reporting.
func ParseSurfaceTable(r io.Reader, source string) ([]model.SurfaceDefinition, error) {
	sc := bufio.NewScanner(r)
	var defs []model.SurfaceDefinition
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 7 {
			return nil, fmt.Errorf("line %d: want 7 columns (name outer inner angle temperature action filename), got %d", line, len(fields))
		}
		outer, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad outer aperture %q: %w", line, fields[1], err)
		}
		inner, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad inner aperture %q: %w", line, fields[2], err)
		}
		angle, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad angle %q: %w", line, fields[3], err)
		}
		tempC, err := strconv.ParseFloat(fields[4], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad temperature %q: %w", line, fields[4], err)
		}
		action := model.SurfaceAction(fields[5])
		if !action.Valid() {
			return nil, fmt.Errorf("line %d: unknown action %q", line, fields[5])
		}
		defs = append(defs, model.SurfaceDefinition{
			Name:         fields[0],
			OuterM:       outer,
			InnerM:       inner,
			AngleDeg:     angle,
			TemperatureK: model.CelsiusToKelvin(tempC),
			Action:       action,
			CurveRef:     fields[6],
			SourceFile:   source,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("empty surface table")
	}
	return defs, nil
}

// headerValue extracts "key: value" from a '#' comment line.
func headerValue(comment, key string) (string, bool) {
	text := strings.TrimSpace(strings.TrimPrefix(comment, "#"))
	k, v, ok := strings.Cut(text, ":")
	if !ok || strings.TrimSpace(k) != key {
		return "", false
	}
	return strings.TrimSpace(v), true
}
