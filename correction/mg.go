package correction

import (
	"fmt"
	"sort"
)

// MaxGainModes is the most gain modes the hardware supports
const MaxGainModes = 8

// MultiGain corrects data acquired with automatic gain-mode switching.  Each
// mode carries its own offset and gain tables; the baseline is shared.  The
// mode a pixel was acquired in is recovered from its intensity against a
// strictly monotonic threshold vector, optionally blending adjacent modes
// near each threshold to hide switching seams.
type MultiGain struct {
	Width  int
	Height int
	Depth  int
	Modes  int

	Offsets [][]uint16
	Gains   [][]float32

	Baseline       []uint16
	TargetBaseline uint16

	// Thresholds[k] is the exclusive upper edge of mode k for k < Modes-1;
	// the last mode matches everything above
	Thresholds []uint16

	// BlendWidth is the half-width of the blend band around each threshold;
	// zero disables blending
	BlendWidth uint16
}

// NewMultiGain returns an identity multi-gain correction with evenly spaced
// thresholds
func NewMultiGain(width, height, depth, modes int) (*MultiGain, error) {
	if err := validDepth(depth); err != nil {
		return nil, err
	}
	if modes < 1 || modes > MaxGainModes {
		return nil, fmt.Errorf("correction: gain mode count %d outside 1..%d", modes, MaxGainModes)
	}
	n := width * height
	m := &MultiGain{
		Width:          width,
		Height:         height,
		Depth:          depth,
		Modes:          modes,
		Offsets:        make([][]uint16, modes),
		Gains:          make([][]float32, modes),
		Baseline:       make([]uint16, n),
		TargetBaseline: DefaultTargetBaseline(depth),
		Thresholds:     make([]uint16, modes),
	}
	for k := 0; k < modes; k++ {
		m.Offsets[k] = make([]uint16, n)
		m.Gains[k] = make([]float32, n)
		for i := range m.Gains[k] {
			m.Gains[k][i] = 1.0
		}
		m.Thresholds[k] = uint16(uint32(MaxValue(depth)) * uint32(k+1) / uint32(modes))
	}
	return m, nil
}

// SetThresholds replaces the threshold vector; it must be strictly
// monotonic and sized to the mode count
func (m *MultiGain) SetThresholds(t []uint16) error {
	if len(t) != m.Modes {
		return fmt.Errorf("correction: %d thresholds for %d modes", len(t), m.Modes)
	}
	for k := 1; k < len(t); k++ {
		if t[k] <= t[k-1] {
			return fmt.Errorf("correction: thresholds must be strictly increasing (t[%d]=%d <= t[%d]=%d)",
				k, t[k], k-1, t[k-1])
		}
	}
	copy(m.Thresholds, t)
	return nil
}

// SelectMode returns the gain mode for an intensity: the smallest k with
// x < Thresholds[k], else the last mode
func (m *MultiGain) SelectMode(x uint16) int {
	k := sort.Search(m.Modes-1, func(k int) bool { return x < m.Thresholds[k] })
	return k
}

// CalibrateMode runs the single-mode offset and gain calibration for mode k
func (m *MultiGain) CalibrateMode(k int, darks [][]uint16, bright []uint16, target float32) error {
	if k < 0 || k >= m.Modes {
		return fmt.Errorf("correction: gain mode %d out of range", k)
	}
	n := m.Width * m.Height
	if err := averageInto(m.Offsets[k], darks, n); err != nil {
		return err
	}
	if len(bright) != n {
		return ErrDimensionMismatch
	}
	for i, b := range bright {
		c := float32(b) - float32(m.Offsets[k][i])
		if c <= 0 {
			m.Gains[k][i] = 1.0
			continue
		}
		g := target / c
		if g < GainMin {
			g = GainMin
		} else if g > GainMax {
			g = GainMax
		}
		m.Gains[k][i] = g
	}
	return nil
}

// Apply corrects a frame in place, selecting (and near thresholds blending)
// the per-mode tables by pixel intensity
func (m *MultiGain) Apply(img []uint16) error {
	if len(img) != m.Width*m.Height {
		return ErrDimensionMismatch
	}
	max := MaxValue(m.Depth)
	w := float32(m.BlendWidth)
	for i, x := range img {
		xf := float32(x)
		k := m.SelectMode(x)

		y := m.correctPixel(xf, i, k)
		if w > 0 {
			// blend against the neighbour mode when inside a band of
			// half-width w around a threshold; the lower mode's weight
			// rises toward the threshold and falls beyond it
			if k < m.Modes-1 {
				t := float32(m.Thresholds[k])
				if xf >= t-w {
					hi := m.correctPixel(xf, i, k+1)
					wl := (t + w - xf) / (2 * w)
					y = y*wl + hi*(1-wl)
				}
			}
			if k > 0 {
				t := float32(m.Thresholds[k-1])
				if xf <= t+w {
					lo := m.correctPixel(xf, i, k-1)
					wl := (t + w - xf) / (2 * w)
					y = lo*wl + y*(1-wl)
				}
			}
		}
		img[i] = quantize(y, max)
	}
	return nil
}

func (m *MultiGain) correctPixel(x float32, i, k int) float32 {
	y := x - float32(m.Offsets[k][i])
	y *= m.Gains[k][i]
	y -= float32(m.Baseline[i])
	return y + float32(m.TargetBaseline)
}

// AutoTuneThresholds sets the thresholds at the (k+1)/Modes percentiles of
// the intensity distribution of a representative frame
func (m *MultiGain) AutoTuneThresholds(img []uint16) error {
	if len(img) == 0 {
		return ErrNoFrames
	}
	bins := int(MaxValue(m.Depth)) + 1
	hist := make([]uint64, bins)
	for _, x := range img {
		v := int(x)
		if v >= bins {
			v = bins - 1
		}
		hist[v]++
	}
	cdf := make([]uint64, bins)
	var run uint64
	for i, h := range hist {
		run += h
		cdf[i] = run
	}
	total := run
	tuned := make([]uint16, m.Modes)
	for k := 0; k < m.Modes; k++ {
		want := total * uint64(k+1) / uint64(m.Modes)
		idx := sort.Search(bins, func(i int) bool { return cdf[i] >= want })
		if idx >= bins {
			idx = bins - 1
		}
		tuned[k] = uint16(idx)
	}
	// percentile ties on a flat histogram can collapse neighbours; nudge
	// them apart so the vector stays strictly monotonic
	for k := 1; k < m.Modes; k++ {
		if tuned[k] <= tuned[k-1] {
			tuned[k] = tuned[k-1] + 1
		}
	}
	return m.SetThresholds(tuned)
}
