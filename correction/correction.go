/*Package correction implements the radiometric pipeline for line-scan
detector data: offset (dark field), gain (bright field), baseline, multi-gain
with mode blending, pixel discontinuity correction across module seams,
multi-detector stitching, and dual-energy fusion.

All pixel math runs in float32 with round-half-up quantization and
saturation to [0, 2^depth - 1].  Calibration (writes to tables) and
application (reads) must not overlap; the pipeline documents this rather
than locking, because application is the per-line hot path.
*/
package correction

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/Odhiambo-20/XImage/mathx"
)

// supported pixel depths
const (
	Depth12 = 12
	Depth14 = 14
	Depth16 = 16
)

// gain clamp bounds applied at calibration time
const (
	GainMin = 0.1
	GainMax = 10.0
)

var (
	// ErrDimensionMismatch is generated when an image does not match the
	// table geometry at apply time.  Sessions treat it as fatal.
	ErrDimensionMismatch = errors.New("correction: image dimensions do not match tables")

	// ErrNoFrames is generated when a calibration is attempted with no input
	ErrNoFrames = errors.New("correction: calibration requires at least one frame")
)

func validDepth(depth int) error {
	switch depth {
	case Depth12, Depth14, Depth16:
		return nil
	}
	return fmt.Errorf("correction: unsupported pixel depth %d", depth)
}

// MaxValue returns the saturation ceiling for a pixel depth
func MaxValue(depth int) float32 {
	return float32(uint32(1)<<uint(depth) - 1)
}

// DefaultTargetBaseline returns the conventional mid-scale reference level
// for a depth
func DefaultTargetBaseline(depth int) uint16 {
	switch depth {
	case Depth12:
		return 2048
	case Depth14:
		return 8192
	default:
		return 32768
	}
}

// quantize clamps v to [0, max] and rounds half-up to an integer pixel
func quantize(v, max float32) uint16 {
	return mathx.RoundHalfUpU16(mathx.Clamp32(v, 0, max))
}

// Flags select which corrections an apply pass includes
type Flags struct {
	Offset   bool
	Gain     bool
	Baseline bool
}

// AllFlags enables every correction
var AllFlags = Flags{Offset: true, Gain: true, Baseline: true}

// Stat summarises an image or table
type Stat struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// Statistics computes mean, standard deviation, min and max of pixel data
func Statistics(img []uint16) Stat {
	if len(img) == 0 {
		return Stat{}
	}
	f := make([]float64, len(img))
	min, max := float64(img[0]), float64(img[0])
	for i, v := range img {
		fv := float64(v)
		f[i] = fv
		if fv < min {
			min = fv
		}
		if fv > max {
			max = fv
		}
	}
	mean, std := stat.MeanStdDev(f, nil)
	if math.IsNaN(std) { // single sample
		std = 0
	}
	return Stat{Mean: mean, StdDev: std, Min: min, Max: max}
}
