package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// KernelSumTolerance is the allowed deviation of a kernel's weight sum
// from 1 before it is rejected as unnormalised.
const KernelSumTolerance = 1e-6

// convFluxTolerance bounds the net flux change a convolution may
// introduce at image edges before renormalisation kicks in. Convolution
// output is rescaled so total flux is preserved to this relative
// tolerance.
const convFluxTolerance = 1e-9

// Kernel is a square, odd-sized 2D convolution kernel stored row-major.
type Kernel struct {
	Size int
	W    []float64
}

// NewKernel validates shape: rows must form a square of odd size.
func NewKernel(rows [][]float64) (*Kernel, error) {
	n := len(rows)
	if n == 0 || n%2 == 0 {
		return nil, &ConsistencyError{Subject: "psf kernel", Reason: fmt.Sprintf("size %d is not odd and positive", n)}
	}
	k := &Kernel{Size: n, W: make([]float64, n*n)}
	for y, row := range rows {
		if len(row) != n {
			return nil, &ConsistencyError{Subject: "psf kernel", Reason: fmt.Sprintf("row %d has %d values, want %d", y, len(row), n)}
		}
		copy(k.W[y*n:(y+1)*n], row)
	}
	return k, nil
}

// GaussianKernel builds a normalised Gaussian kernel with the given sigma
// in pixels.
func GaussianKernel(size int, sigma float64) (*Kernel, error) {
	if size%2 == 0 || size <= 0 {
		return nil, &ConsistencyError{Subject: "psf kernel", Reason: fmt.Sprintf("size %d is not odd and positive", size)}
	}
	k := &Kernel{Size: size, W: make([]float64, size*size)}
	c := size / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x-c), float64(y-c)
			k.W[y*size+x] = math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
		}
	}
	k.Normalize()
	return k, nil
}

// Sum returns the total kernel weight.
func (k *Kernel) Sum() float64 {
	var s float64
	for _, v := range k.W {
		s += v
	}
	return s
}

// Normalize rescales the kernel so its weights sum to 1.
func (k *Kernel) Normalize() {
	s := k.Sum()
	if s == 0 {
		return
	}
	for i := range k.W {
		k.W[i] /= s
	}
}

// CheckNormalized verifies the energy-conservation invariant
// |Σw − 1| ≤ KernelSumTolerance.
func (k *Kernel) CheckNormalized() error {
	if d := math.Abs(k.Sum() - 1); d > KernelSumTolerance {
		return &ConsistencyError{
			Subject: "psf kernel",
			Reason:  fmt.Sprintf("weights sum to %g, off by %g (tolerance %g)", k.Sum(), d, KernelSumTolerance),
		}
	}
	return nil
}

// PSF is a convolution stage: spatially invariant or varying across the
// field of view.
type PSF interface {
	// Convolve returns a new image of the same dimensions with the PSF
	// applied. The input is not modified.
	Convolve(img *Image) (*Image, error)
}

// FieldConstantPSF applies one kernel to the whole image via FFT
// convolution. Image edges are zero-padded; the result is renormalised to
// the input's total flux so edge handling introduces no net flux loss
// beyond convFluxTolerance.
type FieldConstantPSF struct {
	Kernel *Kernel
}

// NewFieldConstantPSF checks the kernel's normalisation invariant.
func NewFieldConstantPSF(k *Kernel) (*FieldConstantPSF, error) {
	if k == nil {
		return nil, &ConsistencyError{Subject: "psf", Reason: "nil kernel"}
	}
	if err := k.CheckNormalized(); err != nil {
		return nil, err
	}
	return &FieldConstantPSF{Kernel: k}, nil
}

// Convolve implements PSF.
func (p *FieldConstantPSF) Convolve(img *Image) (*Image, error) {
	out := convolveFFT(img, p.Kernel)
	renormalizeFlux(out, img.Sum())
	return out, nil
}

// FieldVaryingPSF divides the field of view into a GridW×GridH tile grid
// and convolves each tile with the kernel sampled at that field position.
//
// Kernel selection is nearest-neighbour: every pixel of a tile uses that
// tile's kernel, with no blending between adjacent kernels. Tile seams are
// therefore the dominant edge artefact; nearest-neighbour was chosen over
// a weighted blend because it keeps each kernel's shape exactly
// reproducible in the output, which the blended policy cannot guarantee.
// Kernels are indexed row-major and must cover the full grid with no
// gaps.
type FieldVaryingPSF struct {
	GridW, GridH int
	Kernels      []*Kernel
}

// NewFieldVaryingPSF validates full-field coverage and per-kernel
// normalisation.
func NewFieldVaryingPSF(gridW, gridH int, kernels []*Kernel) (*FieldVaryingPSF, error) {
	if gridW <= 0 || gridH <= 0 {
		return nil, &ConsistencyError{Subject: "field-varying psf", Reason: fmt.Sprintf("invalid grid %dx%d", gridW, gridH)}
	}
	if len(kernels) != gridW*gridH {
		return nil, &ConsistencyError{
			Subject: "field-varying psf",
			Reason:  fmt.Sprintf("have %d kernels for a %dx%d grid; field of view not fully covered", len(kernels), gridW, gridH),
		}
	}
	for i, k := range kernels {
		if k == nil {
			return nil, &ConsistencyError{Subject: "field-varying psf", Reason: fmt.Sprintf("kernel %d missing; field of view not fully covered", i)}
		}
		if err := k.CheckNormalized(); err != nil {
			return nil, &ConsistencyError{Subject: fmt.Sprintf("field-varying psf kernel %d", i), Reason: err.Error()}
		}
	}
	return &FieldVaryingPSF{GridW: gridW, GridH: gridH, Kernels: kernels}, nil
}

// KernelAt returns the kernel for a field position in pixels.
func (p *FieldVaryingPSF) KernelAt(x, y, width, height int) *Kernel {
	tx := x * p.GridW / width
	if tx >= p.GridW {
		tx = p.GridW - 1
	}
	ty := y * p.GridH / height
	if ty >= p.GridH {
		ty = p.GridH - 1
	}
	return p.Kernels[ty*p.GridW+tx]
}

// Convolve implements PSF. Each output pixel gathers input flux through
// the kernel of the tile the *source* pixel lies in, so a point source
// anywhere in a tile reproduces that tile's kernel exactly.
func (p *FieldVaryingPSF) Convolve(img *Image) (*Image, error) {
	out := NewImage(img.Width, img.Height)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			v := img.At(x, y)
			if v == 0 {
				continue
			}
			k := p.KernelAt(x, y, img.Width, img.Height)
			scatter(out, x, y, v, k)
		}
	}
	renormalizeFlux(out, img.Sum())
	return out, nil
}

// scatter distributes one source pixel's flux through a kernel.
func scatter(dst *Image, x, y int, v float64, k *Kernel) {
	half := k.Size / 2
	for ky := 0; ky < k.Size; ky++ {
		oy := y + ky - half
		if oy < 0 || oy >= dst.Height {
			continue
		}
		for kx := 0; kx < k.Size; kx++ {
			ox := x + kx - half
			if ox < 0 || ox >= dst.Width {
				continue
			}
			dst.Pix[oy*dst.Width+ox] += v * k.W[ky*k.Size+kx]
		}
	}
}

// renormalizeFlux rescales img so its total equals want, provided the
// relative deviation exceeds convFluxTolerance (flux leaked past the
// image boundary during convolution).
func renormalizeFlux(img *Image, want float64) {
	got := img.Sum()
	if got == 0 || want == 0 {
		return
	}
	if math.Abs(got-want)/math.Abs(want) > convFluxTolerance {
		img.Scale(want / got)
	}
}

// convolveFFT performs "same"-mode 2D linear convolution of img with a
// centred kernel using row/column FFTs, zero padding past the image
// boundary.
func convolveFFT(img *Image, k *Kernel) *Image {
	h, w := img.Height, img.Width
	// FFT grid large enough for linear convolution.
	fh := nextPow2(h + k.Size - 1)
	fw := nextPow2(w + k.Size - 1)

	a := make([]complex128, fh*fw)
	b := make([]complex128, fh*fw)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a[y*fw+x] = complex(img.Pix[y*w+x], 0)
		}
	}
	// Embed the kernel with its centre wrapped to (0,0) so the output is
	// not shifted.
	half := k.Size / 2
	for ky := 0; ky < k.Size; ky++ {
		for kx := 0; kx < k.Size; kx++ {
			oy := mod(ky-half, fh)
			ox := mod(kx-half, fw)
			b[oy*fw+ox] = complex(k.W[ky*k.Size+kx], 0)
		}
	}

	fft2(a, fh, fw, true)
	fft2(b, fh, fw, true)
	for i := range a {
		a[i] *= b[i]
	}
	fft2(a, fh, fw, false)

	// Gonum transforms are unnormalised: forward then inverse multiplies
	// by the grid size.
	scale := float64(fh * fw)
	out := NewImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[y*w+x] = real(a[y*fw+x]) / scale
		}
	}
	return out
}

// fft2 runs an in-place 2D FFT over a row-major grid: rows then columns.
func fft2(a []complex128, h, w int, forward bool) {
	rowFFT := fourier.NewCmplxFFT(w)
	colFFT := fourier.NewCmplxFFT(h)

	for y := 0; y < h; y++ {
		row := a[y*w : (y+1)*w]
		if forward {
			rowFFT.Coefficients(row, row)
		} else {
			rowFFT.Sequence(row, row)
		}
	}

	col := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = a[y*w+x]
		}
		if forward {
			colFFT.Coefficients(col, col)
		} else {
			colFFT.Sequence(col, col)
		}
		for y := 0; y < h; y++ {
			a[y*w+x] = col[y]
		}
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func mod(i, n int) int {
	m := i % n
	if m < 0 {
		m += n
	}
	return m
}
