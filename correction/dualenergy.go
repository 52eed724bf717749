package correction

import (
	"fmt"
	"math"
)

// FusionMode selects the dual-energy combination algorithm
type FusionMode int

// fusion modes
const (
	FusionWeighted FusionMode = iota
	FusionMaterial
	FusionLogarithmic
	FusionAdaptive
)

// logEpsilon keeps the logarithmic fusion away from log(0)
const logEpsilon = 1.0

// adaptiveGuard keeps the adaptive weights defined on flat regions
const adaptiveGuard = 1e-6

// material decomposition coefficients for the organic/inorganic views
const (
	organicHighCoeff   = 0.5
	inorganicDiffCoeff = 0.3
)

// DualEnergy fuses co-registered high- and low-energy images
type DualEnergy struct {
	Width  int
	Height int
	Depth  int
	Mode   FusionMode

	// WeightHigh and WeightLow are renormalised to sum to one at set time
	WeightHigh float32
	WeightLow  float32

	// MaterialCoeff is the c in y = H + c*(H - L)
	MaterialCoeff float32

	// WindowSize is the odd window for adaptive local statistics
	WindowSize int
}

// NewDualEnergy returns a fuser with equal weights and a 5x5 adaptive window
func NewDualEnergy(width, height, depth int) (*DualEnergy, error) {
	if err := validDepth(depth); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("correction: invalid geometry %dx%d", width, height)
	}
	return &DualEnergy{
		Width:         width,
		Height:        height,
		Depth:         depth,
		WeightHigh:    0.5,
		WeightLow:     0.5,
		MaterialCoeff: 1.0,
		WindowSize:    5,
	}, nil
}

// SetWeights installs the energy weights, renormalised to sum to one.
// Degenerate pairs fall back to an even split.
func (d *DualEnergy) SetWeights(wHigh, wLow float32) {
	sum := wHigh + wLow
	if sum <= 0 {
		d.WeightHigh, d.WeightLow = 0.5, 0.5
		return
	}
	d.WeightHigh = wHigh / sum
	d.WeightLow = wLow / sum
}

// OptimalWeights derives energy weights from the SNR proxy mean^2/variance
// of each image and installs them
func (d *DualEnergy) OptimalWeights(high, low []uint16) (float32, float32, error) {
	if err := d.check(high, low); err != nil {
		return 0, 0, err
	}
	snr := func(img []uint16) float64 {
		s := Statistics(img)
		v := s.StdDev * s.StdDev
		if v < adaptiveGuard {
			v = adaptiveGuard
		}
		return s.Mean * s.Mean / v
	}
	d.SetWeights(float32(snr(high)), float32(snr(low)))
	return d.WeightHigh, d.WeightLow, nil
}

func (d *DualEnergy) check(high, low []uint16) error {
	n := d.Width * d.Height
	if len(high) != n || len(low) != n {
		return ErrDimensionMismatch
	}
	return nil
}

// Fuse combines the two energies per the configured mode into a new buffer
func (d *DualEnergy) Fuse(high, low []uint16) ([]uint16, error) {
	if err := d.check(high, low); err != nil {
		return nil, err
	}
	out := make([]uint16, len(high))
	max := MaxValue(d.Depth)
	switch d.Mode {
	case FusionWeighted:
		for i := range high {
			f := d.WeightHigh*float32(high[i]) + d.WeightLow*float32(low[i])
			out[i] = quantize(f, max)
		}
	case FusionMaterial:
		for i := range high {
			h, l := float32(high[i]), float32(low[i])
			out[i] = quantize(h+d.MaterialCoeff*(h-l), max)
		}
	case FusionLogarithmic:
		for i := range high {
			h := float64(high[i]) + logEpsilon
			l := float64(low[i]) + logEpsilon
			f := math.Exp(float64(d.WeightHigh)*math.Log(h)+float64(d.WeightLow)*math.Log(l)) - logEpsilon
			out[i] = quantize(float32(f), max)
		}
	case FusionAdaptive:
		d.fuseAdaptive(out, high, low, max)
	default:
		return nil, fmt.Errorf("correction: unknown fusion mode %d", d.Mode)
	}
	return out, nil
}

// fuseAdaptive weights each pixel by the local variance ratio inside an odd
// window; the busier energy wins
func (d *DualEnergy) fuseAdaptive(out, high, low []uint16, max float32) {
	win := d.WindowSize
	if win < 3 || win%2 == 0 {
		win = 5
	}
	half := win / 2
	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			varH := localVariance(high, d.Width, d.Height, x, y, half)
			varL := localVariance(low, d.Width, d.Height, x, y, half)
			total := varH + varL + adaptiveGuard
			wH := float32(varH / total)
			wL := float32(varL / total)
			i := y*d.Width + x
			f := wH*float32(high[i]) + wL*float32(low[i])
			out[i] = quantize(f, max)
		}
	}
}

func localVariance(img []uint16, width, height, cx, cy, half int) float64 {
	var sum, sumSq float64
	n := 0
	for y := cy - half; y <= cy+half; y++ {
		if y < 0 || y >= height {
			continue
		}
		for x := cx - half; x <= cx+half; x++ {
			if x < 0 || x >= width {
				continue
			}
			v := float64(img[y*width+x])
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// MaterialImages derives the organic and inorganic material views:
// organic = clamp(L - 0.5*H), inorganic = clamp(H - 0.3*(H - L))
func (d *DualEnergy) MaterialImages(high, low []uint16) (organic, inorganic []uint16, err error) {
	if err := d.check(high, low); err != nil {
		return nil, nil, err
	}
	organic = make([]uint16, len(high))
	inorganic = make([]uint16, len(high))
	max := MaxValue(d.Depth)
	for i := range high {
		h, l := float32(high[i]), float32(low[i])
		organic[i] = quantize(l-organicHighCoeff*h, max)
		inorganic[i] = quantize(h-inorganicDiffCoeff*(h-l), max)
	}
	return organic, inorganic, nil
}
