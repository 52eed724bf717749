package correction

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/Odhiambo-20/XImage/mathx"
)

// MaxDetectors is the most detectors a stitched assembly supports
const MaxDetectors = 16

// DetectorTables is one detector's correction state plus its placement in
// the stitched output
type DetectorTables struct {
	ID int
	*Tables

	XOffset int
	YOffset int

	// Normalization evens out brightness across detectors; unity until
	// Normalize runs
	Normalization float32

	Active bool
}

// MultiDetector corrects and stitches up to 16 detectors into one canvas
type MultiDetector struct {
	Width  int
	Height int
	Depth  int

	Detectors []*DetectorTables

	// BlendOverlap enables linear blending where adjacent detectors overlap
	// in x; otherwise later detectors overwrite
	BlendOverlap bool
}

// NewMultiDetector returns an empty assembly with the given canvas geometry
func NewMultiDetector(width, height, depth int) (*MultiDetector, error) {
	if err := validDepth(depth); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("correction: invalid canvas %dx%d", width, height)
	}
	return &MultiDetector{Width: width, Height: height, Depth: depth}, nil
}

// AddDetector registers a detector with its own geometry and placement.
// Tables start as identity; calibrate them through the returned handle.
func (m *MultiDetector) AddDetector(id, width, height, xOff, yOff int) (*DetectorTables, error) {
	if len(m.Detectors) >= MaxDetectors {
		return nil, fmt.Errorf("correction: detector count limited to %d", MaxDetectors)
	}
	t, err := NewTables(width, height, m.Depth)
	if err != nil {
		return nil, err
	}
	d := &DetectorTables{
		ID:            id,
		Tables:        t,
		XOffset:       xOff,
		YOffset:       yOff,
		Normalization: 1.0,
		Active:        true,
	}
	m.Detectors = append(m.Detectors, d)
	return d, nil
}

func (m *MultiDetector) active() []*DetectorTables {
	out := make([]*DetectorTables, 0, len(m.Detectors))
	for _, d := range m.Detectors {
		if d.Active {
			out = append(out, d)
		}
	}
	return out
}

// Normalize computes per-detector normalization factors so every detector's
// mean gain lands on the global mean across active detectors
func (m *MultiDetector) Normalize() error {
	act := m.active()
	if len(act) == 0 {
		return fmt.Errorf("correction: no active detectors to normalize")
	}
	means := make([]float64, len(act))
	var global float64
	for i, d := range act {
		means[i] = d.MeanGain()
		global += means[i]
	}
	global /= float64(len(act))
	for i, d := range act {
		if means[i] == 0 {
			d.Normalization = 1.0
			continue
		}
		d.Normalization = float32(global / means[i])
	}
	return nil
}

// GainUniformity reports 1 - std(m)/mean(m), where m is each active
// detector's mean gain times its normalization factor,
// clamped to [0, 1]; unity means perfectly even response
func (m *MultiDetector) GainUniformity() float64 {
	act := m.active()
	if len(act) == 0 {
		return 0
	}
	means := make([]float64, len(act))
	for i, d := range act {
		means[i] = d.MeanGain() * float64(d.Normalization)
	}
	mean, std := stat.MeanStdDev(means, nil)
	if mean == 0 {
		return 0
	}
	if len(act) == 1 {
		return 1
	}
	return mathx.Clamp(1-std/mean, 0, 1)
}

// Apply corrects every active detector's input and stitches the results
// into a zeroed Width x Height canvas.  inputs must parallel Detectors;
// inactive entries may be nil.  Out-of-canvas pixels are dropped.
func (m *MultiDetector) Apply(inputs [][]uint16, flags Flags) ([]uint16, error) {
	if len(inputs) != len(m.Detectors) {
		return nil, fmt.Errorf("correction: %d inputs for %d detectors", len(inputs), len(m.Detectors))
	}
	canvas := make([]uint16, m.Width*m.Height)
	written := make([]bool, len(canvas))
	max := MaxValue(m.Depth)

	// extent of everything stitched so far, for overlap band computation
	maxX := -1

	for di, d := range m.Detectors {
		if !d.Active {
			continue
		}
		img := inputs[di]
		if len(img) != d.Width*d.Height {
			return nil, ErrDimensionMismatch
		}

		overlapStart := d.XOffset
		overlapWidth := 0
		if m.BlendOverlap && maxX >= 0 && maxX > d.XOffset {
			end := maxX
			if e := d.XOffset + d.Width; e < end {
				end = e
			}
			overlapWidth = end - overlapStart
		}

		for y := 0; y < d.Height; y++ {
			gy := d.YOffset + y
			if gy < 0 || gy >= m.Height {
				continue
			}
			for x := 0; x < d.Width; x++ {
				gx := d.XOffset + x
				if gx < 0 || gx >= m.Width {
					continue
				}
				i := y*d.Width + x
				v := float32(img[i])
				if flags.Offset {
					v -= float32(d.Offset[i])
				}
				if flags.Gain {
					v *= d.Gain[i] * d.Normalization
				}
				if flags.Baseline {
					v -= float32(d.Baseline[i])
				}
				v += float32(d.TargetBaseline)

				gi := gy*m.Width + gx
				if overlapWidth > 0 && written[gi] && gx < overlapStart+overlapWidth {
					// linear hand-off across the overlap band: the existing
					// detector dominates at the band's start, this one at
					// its end
					t := float32(gx-overlapStart) / float32(overlapWidth)
					v = float32(canvas[gi])*(1-t) + v*t
				}
				canvas[gi] = quantize(v, max)
				written[gi] = true
			}
		}

		if e := d.XOffset + d.Width; e > maxX {
			maxX = e
		}
	}
	return canvas, nil
}
