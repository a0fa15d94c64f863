package core

import (
	"context"
	"fmt"
)

// Category places an effect in the optical train. The enumeration order
// is the physical traversal order of light: atmosphere, telescope, relay
// optics, instrument, instrument mode, detector. Trains always execute in
// this order regardless of how effects were declared.
type Category int

const (
	CategoryATMO Category = iota
	CategoryTEL
	CategoryRO
	CategoryINST
	CategoryINSTMode
	CategoryDET
)

var categoryNames = map[Category]string{
	CategoryATMO:     "ATMO",
	CategoryTEL:      "TEL",
	CategoryRO:       "RO",
	CategoryINST:     "INST",
	CategoryINSTMode: "INST_MODE",
	CategoryDET:      "DET",
}

func (c Category) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// ParseCategory maps a declared category keyword to the enum.
func ParseCategory(s string) (Category, error) {
	for c, n := range categoryNames {
		if n == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

// Status is an effect's lifecycle flag. Deprecated effects stay loadable
// for backward compatibility but are excluded wholesale from newly built
// trains; Planned effects are declared but not yet implemented and are
// likewise excluded. Skipping either is a normal branch, not an error.
type Status int

const (
	StatusActive Status = iota
	StatusDeprecated
	StatusPlanned
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusDeprecated:
		return "deprecated"
	case StatusPlanned:
		return "planned"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus maps a declared status keyword to the enum. The empty
// string means active.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "", "active":
		return StatusActive, nil
	case "deprecated":
		return StatusDeprecated, nil
	case "planned":
		return StatusPlanned, nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// Effect is one stage of the pipeline: a single transformation of the
// propagating scene with a declared category and lifecycle status.
// Effects must be stateless across exposures; the sole sanctioned
// exception is PersistenceEffect, which models detector persistence and
// says so explicitly.
type Effect interface {
	Name() string
	Category() Category
	Status() Status
	Apply(ctx context.Context, sc *Scene) error
}

// meta carries the identity fields every concrete effect shares.
type meta struct {
	name     string
	category Category
	status   Status
}

func (m meta) Name() string       { return m.name }
func (m meta) Category() Category { return m.category }
func (m meta) Status() Status     { return m.status }
