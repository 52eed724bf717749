package correction

import (
	"math"
	"testing"
)

func newDE(t *testing.T, mode FusionMode) *DualEnergy {
	t.Helper()
	d, err := NewDualEnergy(4, 4, Depth16)
	if err != nil {
		t.Fatal(err)
	}
	d.Mode = mode
	return d
}

func TestWeightedFusion(t *testing.T) {
	d := newDE(t, FusionWeighted)
	d.SetWeights(3, 1) // renormalises to 0.75/0.25
	if d.WeightHigh != 0.75 || d.WeightLow != 0.25 {
		t.Fatalf("weights not renormalised: %v/%v", d.WeightHigh, d.WeightLow)
	}
	out, err := d.Fuse(uniform(4000, 16), uniform(2000, 16))
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != 3500 {
		t.Errorf("weighted fusion: got %d want 3500", out[0])
	}
}

func TestDegenerateWeightsFallBack(t *testing.T) {
	d := newDE(t, FusionWeighted)
	d.SetWeights(0, 0)
	if d.WeightHigh != 0.5 || d.WeightLow != 0.5 {
		t.Errorf("zero weights should fall back to an even split: %v/%v", d.WeightHigh, d.WeightLow)
	}
}

func TestMaterialFusion(t *testing.T) {
	d := newDE(t, FusionMaterial)
	d.MaterialCoeff = 2.0
	out, err := d.Fuse(uniform(3000, 16), uniform(2500, 16))
	if err != nil {
		t.Fatal(err)
	}
	// 3000 + 2*(3000-2500) = 4000
	if out[0] != 4000 {
		t.Errorf("material fusion: got %d want 4000", out[0])
	}
}

func TestLogarithmicFusionIdentityOnEqualInputs(t *testing.T) {
	d := newDE(t, FusionLogarithmic)
	out, err := d.Fuse(uniform(5000, 16), uniform(5000, 16))
	if err != nil {
		t.Fatal(err)
	}
	// exp(0.5 ln a + 0.5 ln a) - eps = a - eps + eps = a
	if out[0] != 5000 {
		t.Errorf("log fusion of equal inputs: got %d want 5000", out[0])
	}
}

func TestAdaptiveFusionPrefersBusyEnergy(t *testing.T) {
	d := newDE(t, FusionAdaptive)
	// high energy carries structure, low is flat; the adaptive weights
	// should track the busy image almost entirely
	high := make([]uint16, 16)
	for i := range high {
		if i%2 == 0 {
			high[i] = 1000
		} else {
			high[i] = 3000
		}
	}
	low := uniform(500, 16)
	out, err := d.Fuse(high, low)
	if err != nil {
		t.Fatal(err)
	}
	for i := range out {
		dHigh := math.Abs(float64(out[i]) - float64(high[i]))
		dLow := math.Abs(float64(out[i]) - float64(low[i]))
		if dHigh > dLow {
			t.Fatalf("pixel %d: adaptive fusion drifted to the flat image (%d)", i, out[i])
		}
	}
}

func TestOptimalWeights(t *testing.T) {
	d := newDE(t, FusionWeighted)
	// clean image (high SNR) vs noisy one: the clean one must dominate
	clean := uniform(4000, 16)
	clean[0] = 4001 // a sliver of variance so the proxy stays finite
	noisy := make([]uint16, 16)
	for i := range noisy {
		if i%2 == 0 {
			noisy[i] = 1000
		} else {
			noisy[i] = 7000
		}
	}
	wh, wl, err := d.OptimalWeights(clean, noisy)
	if err != nil {
		t.Fatal(err)
	}
	if wh <= wl {
		t.Errorf("high-SNR image should get the larger weight: %v vs %v", wh, wl)
	}
	if math.Abs(float64(wh+wl)-1) > 1e-6 {
		t.Errorf("weights must sum to one, got %v", wh+wl)
	}
}

func TestMaterialImages(t *testing.T) {
	d := newDE(t, FusionMaterial)
	organic, inorganic, err := d.MaterialImages(uniform(2000, 16), uniform(1500, 16))
	if err != nil {
		t.Fatal(err)
	}
	// organic = 1500 - 0.5*2000 = 500; inorganic = 2000 - 0.3*500 = 1850
	if organic[0] != 500 {
		t.Errorf("organic: got %d want 500", organic[0])
	}
	if inorganic[0] != 1850 {
		t.Errorf("inorganic: got %d want 1850", inorganic[0])
	}
	// negative organic response clamps to zero
	organic, _, err = d.MaterialImages(uniform(4000, 16), uniform(1000, 16))
	if err != nil {
		t.Fatal(err)
	}
	if organic[0] != 0 {
		t.Errorf("organic clamp: got %d want 0", organic[0])
	}
}

func TestFuseDimensionMismatch(t *testing.T) {
	d := newDE(t, FusionWeighted)
	if _, err := d.Fuse(uniform(1, 16), uniform(1, 15)); err != ErrDimensionMismatch {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}
