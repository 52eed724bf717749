package correction

import (
	"math"
	"testing"
)

func TestStitchWithOverlapBlend(t *testing.T) {
	m, err := NewMultiDetector(180, 10, Depth16)
	if err != nil {
		t.Fatal(err)
	}
	m.BlendOverlap = true
	a, err := m.AddDetector(0, 100, 10, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.AddDetector(1, 100, 10, 90, 0)
	if err != nil {
		t.Fatal(err)
	}
	a.TargetBaseline = 0
	b.TargetBaseline = 0

	inA := uniform(1000, 100*10)
	inB := uniform(2000, 100*10)
	out, err := m.Apply([][]uint16{inA, inB}, AllFlags)
	if err != nil {
		t.Fatal(err)
	}

	row := out[:180]
	for x := 0; x < 90; x++ {
		if row[x] != 1000 {
			t.Fatalf("col %d should be 1000, got %d", x, row[x])
		}
	}
	for x := 100; x < 180; x++ {
		if row[x] != 2000 {
			t.Fatalf("col %d should be 2000, got %d", x, row[x])
		}
	}
	// overlap band 90..99 ramps linearly from 1000 toward 2000
	prev := row[89]
	for x := 90; x < 100; x++ {
		want := 1000 + 100*uint16(x-90)
		if row[x] != want {
			t.Errorf("col %d: got %d want %d", x, row[x], want)
		}
		if row[x] < prev {
			t.Errorf("overlap ramp not monotonic at col %d", x)
		}
		prev = row[x]
	}
}

func TestStitchWithoutBlendOverwrites(t *testing.T) {
	m, _ := NewMultiDetector(180, 10, Depth16)
	a, _ := m.AddDetector(0, 100, 10, 0, 0)
	b, _ := m.AddDetector(1, 100, 10, 90, 0)
	a.TargetBaseline = 0
	b.TargetBaseline = 0

	out, err := m.Apply([][]uint16{uniform(1000, 1000), uniform(2000, 1000)}, AllFlags)
	if err != nil {
		t.Fatal(err)
	}
	if out[95] != 2000 {
		t.Errorf("without blending the later detector wins: got %d", out[95])
	}
}

func TestInactiveDetectorSkipped(t *testing.T) {
	m, _ := NewMultiDetector(100, 4, Depth16)
	a, _ := m.AddDetector(0, 50, 4, 0, 0)
	b, _ := m.AddDetector(1, 50, 4, 50, 0)
	a.TargetBaseline = 0
	b.TargetBaseline = 0
	b.Active = false

	out, err := m.Apply([][]uint16{uniform(700, 200), nil}, AllFlags)
	if err != nil {
		t.Fatal(err)
	}
	if out[10] != 700 {
		t.Errorf("active detector data missing: %d", out[10])
	}
	if out[60] != 0 {
		t.Errorf("inactive detector region should stay zero, got %d", out[60])
	}
}

func TestNormalization(t *testing.T) {
	m, _ := NewMultiDetector(100, 1, Depth16)
	a, _ := m.AddDetector(0, 50, 1, 0, 0)
	b, _ := m.AddDetector(1, 50, 1, 50, 0)
	for i := range a.Gain {
		a.Gain[i] = 2.0
		b.Gain[i] = 4.0
	}
	if err := m.Normalize(); err != nil {
		t.Fatal(err)
	}
	global := 3.0
	for _, d := range []*DetectorTables{a, b} {
		normalised := d.MeanGain() * float64(d.Normalization)
		if math.Abs(normalised-global) > 1e-6 {
			t.Errorf("detector %d normalised mean gain %v, want %v", d.ID, normalised, global)
		}
	}
}

func TestGainUniformity(t *testing.T) {
	m, _ := NewMultiDetector(100, 1, Depth16)
	a, _ := m.AddDetector(0, 50, 1, 0, 0)
	b, _ := m.AddDetector(1, 50, 1, 50, 0)
	for i := range a.Gain {
		a.Gain[i] = 2.0
		b.Gain[i] = 4.0
	}
	before := m.GainUniformity()
	if before >= 1 || before < 0 {
		t.Errorf("uneven gains should score below 1, got %v", before)
	}
	if err := m.Normalize(); err != nil {
		t.Fatal(err)
	}
	after := m.GainUniformity()
	if after < 0.999 {
		t.Errorf("normalised assembly should be uniform, got %v", after)
	}
}

func TestDetectorCountLimit(t *testing.T) {
	m, _ := NewMultiDetector(1000, 1, Depth16)
	for i := 0; i < MaxDetectors; i++ {
		if _, err := m.AddDetector(i, 10, 1, i*10, 0); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.AddDetector(99, 10, 1, 0, 0); err == nil {
		t.Error("17th detector must be rejected")
	}
}
