package correction

import (
	"testing"
)

func uniform(v uint16, n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestOffsetCalibrationRoundsMean(t *testing.T) {
	tb, err := NewTables(4, 1, Depth16)
	if err != nil {
		t.Fatal(err)
	}
	darks := [][]uint16{
		{10, 0, 100, 7},
		{11, 0, 101, 8},
		{11, 0, 101, 8},
	}
	if err := tb.CalibrateOffset(darks); err != nil {
		t.Fatal(err)
	}
	// (sum + N/2) / N
	want := []uint16{11, 0, 101, 8}
	for i, w := range want {
		if tb.Offset[i] != w {
			t.Errorf("offset[%d] = %d, want %d", i, tb.Offset[i], w)
		}
	}
}

func TestOffsetLinesReplicateAcrossRows(t *testing.T) {
	tb, err := NewTables(3, 4, Depth16)
	if err != nil {
		t.Fatal(err)
	}
	lines := [][]uint16{{1, 2, 3}, {3, 4, 5}}
	if err := tb.CalibrateOffsetLines(lines); err != nil {
		t.Fatal(err)
	}
	for y := 0; y < 4; y++ {
		for x, w := range []uint16{2, 3, 4} {
			if got := tb.Offset[y*3+x]; got != w {
				t.Errorf("offset[%d,%d] = %d, want %d", y, x, got, w)
			}
		}
	}
}

func TestGainCalibrationRoundTrip(t *testing.T) {
	// width 16, height 1, depth 14; dark all zero, bright all 8000 with
	// target 8000 yields unit gain; applying 1234 returns 1234
	tb, err := NewTables(16, 1, Depth14)
	if err != nil {
		t.Fatal(err)
	}
	tb.TargetBaseline = 0
	if err := tb.CalibrateOffset([][]uint16{uniform(0, 16)}); err != nil {
		t.Fatal(err)
	}
	if err := tb.CalibrateGain(uniform(8000, 16), 8000); err != nil {
		t.Fatal(err)
	}
	for i, g := range tb.Gain {
		if g != 1.0 {
			t.Fatalf("gain[%d] = %v, want 1.0", i, g)
		}
	}
	img := uniform(1234, 16)
	if err := tb.Apply(img, AllFlags); err != nil {
		t.Fatal(err)
	}
	for i, v := range img {
		if v != 1234 {
			t.Errorf("pixel %d = %d, want 1234", i, v)
		}
	}
}

func TestGainClamp(t *testing.T) {
	tb, _ := NewTables(3, 1, Depth16)
	// responses of 1 against target 65000 would want gain 65000; dead pixel
	// and an overly bright one round out the cases
	if err := tb.CalibrateGain([]uint16{1, 0, 65000}, 65000); err != nil {
		t.Fatal(err)
	}
	if tb.Gain[0] != GainMax {
		t.Errorf("gain[0] should clamp to %v, got %v", GainMax, tb.Gain[0])
	}
	if tb.Gain[1] != 1.0 {
		t.Errorf("dead pixel should get unit gain, got %v", tb.Gain[1])
	}
	if g := tb.Gain[2]; g < GainMin || g > GainMax {
		t.Errorf("gain[2] out of clamp range: %v", g)
	}
}

func TestGainOnlyIdentity(t *testing.T) {
	tb, _ := NewTables(8, 1, Depth12)
	tb.TargetBaseline = 0
	img := []uint16{0, 1, 100, 2047, 4094, 4095, 4095, 7}
	want := append([]uint16{}, img...)
	if err := tb.Apply(img, AllFlags); err != nil {
		t.Fatal(err)
	}
	for i := range img {
		if img[i] != want[i] {
			t.Errorf("identity broken at %d: %d != %d", i, img[i], want[i])
		}
	}
}

func TestOffsetOnlyIdentity(t *testing.T) {
	// offset[i]=c with target_baseline=c leaves the image untouched
	const c = 300
	tb, _ := NewTables(4, 1, Depth14)
	for i := range tb.Offset {
		tb.Offset[i] = c
	}
	tb.TargetBaseline = c
	img := []uint16{0, 500, 8000, 16383}
	want := append([]uint16{}, img...)
	if err := tb.Apply(img, AllFlags); err != nil {
		t.Fatal(err)
	}
	for i := range img {
		if img[i] != want[i] {
			t.Errorf("identity broken at %d: %d != %d", i, img[i], want[i])
		}
	}
}

func TestApplySaturates(t *testing.T) {
	tb, _ := NewTables(2, 1, Depth12)
	tb.TargetBaseline = 0
	for i := range tb.Gain {
		tb.Gain[i] = 10.0
	}
	img := []uint16{4095, 3000}
	if err := tb.Apply(img, AllFlags); err != nil {
		t.Fatal(err)
	}
	for i, v := range img {
		if v > 4095 {
			t.Errorf("pixel %d exceeds 12-bit ceiling: %d", i, v)
		}
	}
	if img[0] != 4095 {
		t.Errorf("expected saturation to 4095, got %d", img[0])
	}
}

func TestBaselineApply(t *testing.T) {
	tb, _ := NewTables(4, 1, Depth14)
	tb.TargetBaseline = 8192
	if err := tb.CalibrateBaseline([][]uint16{{8000, 8100, 8192, 8300}}); err != nil {
		t.Fatal(err)
	}
	img := []uint16{8000, 8100, 8192, 8300}
	// baseline-only: disable offset and gain
	if err := tb.Apply(img, Flags{Baseline: true}); err != nil {
		t.Fatal(err)
	}
	for i, v := range img {
		if v != 8192 {
			t.Errorf("pixel %d should land on the target baseline, got %d", i, v)
		}
	}
}

func TestApplyBaselineScaled(t *testing.T) {
	tb, _ := NewTables(2, 1, Depth16)
	tb.TargetBaseline = 1000
	tb.Baseline[0], tb.Baseline[1] = 900, 1100
	img := []uint16{500, 500}
	if err := tb.ApplyBaselineScaled(img, 2.0); err != nil {
		t.Fatal(err)
	}
	if img[0] != 1200 || img[1] != 800 {
		t.Errorf("scaled baseline: got %v, want [1200 800]", img)
	}
}

func TestDimensionMismatchIsFatal(t *testing.T) {
	tb, _ := NewTables(4, 2, Depth16)
	if err := tb.Apply(make([]uint16, 7), AllFlags); err != ErrDimensionMismatch {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if err := tb.ApplyLine(make([]uint16, 3), AllFlags); err != ErrDimensionMismatch {
		t.Errorf("expected ErrDimensionMismatch for line, got %v", err)
	}
}

func TestValidation(t *testing.T) {
	tb, _ := NewTables(1000, 1, Depth16)
	if rep := tb.Validate(); !rep.OK() || rep.BadGains != 0 {
		t.Errorf("identity tables should validate clean: %+v", rep)
	}
	tb.Gain[0] = 0 // one violator in 1000 pixels = 0.1%, still within budget
	if rep := tb.Validate(); !rep.OK() {
		t.Errorf("0.1%% violations should pass: %+v", rep)
	}
	tb.Gain[1] = -1
	if rep := tb.Validate(); rep.OK() {
		t.Errorf("0.2%% violations should fail: %+v", rep)
	}
}

func TestStatistics(t *testing.T) {
	s := Statistics([]uint16{2, 4, 4, 4, 5, 5, 7, 9})
	if s.Mean != 5 {
		t.Errorf("mean = %v, want 5", s.Mean)
	}
	if s.Min != 2 || s.Max != 9 {
		t.Errorf("min/max = %v/%v, want 2/9", s.Min, s.Max)
	}
	if s.StdDev < 2.0 || s.StdDev > 2.2 {
		t.Errorf("sample stddev = %v, want ~2.14", s.StdDev)
	}
}
