package correction

import (
	"fmt"
	"sort"
)

// gap detection tuning.  Minima are only trusted away from the image edges,
// below half the neighbouring smoothed variance.
const (
	gapEdgeMargin    = 50
	gapRelThreshold  = 0.5
	gapSmoothKernel  = 5
)

// Gap is a run of missing columns between detector modules
type Gap struct {
	Start int
	Width int
}

// PDC corrects pixel discontinuities at module and X-card seams.  Fill
// interpolates across the gap columns in place; Remove rebuilds a narrower
// image without them.
type PDC struct {
	Width  int
	Height int
	Depth  int
	Gaps   []Gap
}

// NewPDC returns a corrector for the given geometry with no gaps configured
func NewPDC(width, height, depth int) (*PDC, error) {
	if err := validDepth(depth); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("correction: invalid geometry %dx%d", width, height)
	}
	return &PDC{Width: width, Height: height, Depth: depth}, nil
}

// SetGaps installs the gap list, sorted and bounds-checked
func (p *PDC) SetGaps(gaps []Gap) error {
	sorted := append([]Gap{}, gaps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	end := 0
	for _, g := range sorted {
		if g.Width <= 0 || g.Start < 0 || g.Start+g.Width > p.Width {
			return fmt.Errorf("correction: gap %+v outside image of width %d", g, p.Width)
		}
		if g.Start < end {
			return fmt.Errorf("correction: gap %+v overlaps its predecessor", g)
		}
		end = g.Start + g.Width
	}
	p.Gaps = sorted
	return nil
}

// Fill interpolates every gap in place: each gap pixel is the in-row linear
// interpolation between the last valid pixel before the gap and the first
// after.  Gaps touching an edge copy the single valid neighbour.
func (p *PDC) Fill(img []uint16) error {
	if len(img) != p.Width*p.Height {
		return ErrDimensionMismatch
	}
	for y := 0; y < p.Height; y++ {
		row := img[y*p.Width : (y+1)*p.Width]
		for _, g := range p.Gaps {
			left := g.Start - 1
			right := g.Start + g.Width
			switch {
			case left < 0 && right >= p.Width:
				// the whole row is a gap; nothing to interpolate from
			case left < 0:
				for x := g.Start; x < right; x++ {
					row[x] = row[right]
				}
			case right >= p.Width:
				for x := g.Start; x < g.Start+g.Width; x++ {
					row[x] = row[left]
				}
			default:
				lv := float32(row[left])
				rv := float32(row[right])
				span := float32(g.Width + 1)
				for k := 1; k <= g.Width; k++ {
					t := float32(k) / span
					row[g.Start+k-1] = quantize(lv+(rv-lv)*t, MaxValue(p.Depth))
				}
			}
		}
	}
	return nil
}

// Remove rebuilds the image without the gap columns, returning the narrowed
// buffer and its width.  Rows are gathered over the valid columns; the
// vertical dimension is untouched.
func (p *PDC) Remove(img []uint16) ([]uint16, int, error) {
	if len(img) != p.Width*p.Height {
		return nil, 0, ErrDimensionMismatch
	}
	inGap := make([]bool, p.Width)
	total := 0
	for _, g := range p.Gaps {
		for x := g.Start; x < g.Start+g.Width; x++ {
			if !inGap[x] {
				inGap[x] = true
				total++
			}
		}
	}
	outW := p.Width - total
	if outW <= 0 {
		return nil, 0, fmt.Errorf("correction: gaps consume the whole width")
	}
	valid := make([]int, 0, outW)
	for x := 0; x < p.Width; x++ {
		if !inGap[x] {
			valid = append(valid, x)
		}
	}
	out := make([]uint16, outW*p.Height)
	for y := 0; y < p.Height; y++ {
		src := img[y*p.Width:]
		dst := out[y*outW:]
		for j, x := range valid {
			dst[j] = src[x]
		}
	}
	return out, outW, nil
}

// DetectGaps locates likely gap columns automatically: per-column variance,
// a 5-tap box smoothing (margins initialised from the nearest interior
// sample), then local minima at least 50 px from the edges that fall below
// half of both neighbours.
func DetectGaps(img []uint16, width, height int) []int {
	if width < 2*gapEdgeMargin || height == 0 || len(img) != width*height {
		return nil
	}
	variance := make([]float64, width)
	for x := 0; x < width; x++ {
		var sum, sumSq float64
		for y := 0; y < height; y++ {
			v := float64(img[y*width+x])
			sum += v
			sumSq += v * v
		}
		mean := sum / float64(height)
		variance[x] = sumSq/float64(height) - mean*mean
	}

	smoothed := make([]float64, width)
	half := gapSmoothKernel / 2
	for x := half; x < width-half; x++ {
		var s float64
		for k := -half; k <= half; k++ {
			s += variance[x+k]
		}
		smoothed[x] = s / gapSmoothKernel
	}
	// the kernel cannot reach the margins; carry the nearest interior value
	// so the minima scan never reads garbage
	for x := 0; x < half; x++ {
		smoothed[x] = smoothed[half]
		smoothed[width-1-x] = smoothed[width-1-half]
	}

	var gaps []int
	for x := gapEdgeMargin; x < width-gapEdgeMargin; x++ {
		if smoothed[x] < gapRelThreshold*smoothed[x-1] &&
			smoothed[x] < gapRelThreshold*smoothed[x+1] {
			gaps = append(gaps, x)
		}
	}
	return gaps
}
