package correction

import (
	"os"

	"gopkg.in/yaml.v2"
)

// LayoutEntry positions one detector inside a stitched assembly
type LayoutEntry struct {
	ID      int   `yaml:"id"`
	Width   int   `yaml:"width"`
	Height  int   `yaml:"height"`
	XOffset int   `yaml:"x_offset"`
	YOffset int   `yaml:"y_offset"`
	Active  *bool `yaml:"active"`
}

// Layout is the on-disk description of a multi-detector assembly
type Layout struct {
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	Depth        int           `yaml:"depth"`
	BlendOverlap bool          `yaml:"blend_overlap"`
	Detectors    []LayoutEntry `yaml:"detectors"`
}

// LoadLayout converts a (path to a) yaml file into a Layout
func LoadLayout(path string) (Layout, error) {
	l := Layout{}
	f, err := os.Open(path)
	if err != nil {
		return l, err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(&l)
	return l, err
}

// Build materialises the layout as a MultiDetector with identity tables
func (l Layout) Build() (*MultiDetector, error) {
	m, err := NewMultiDetector(l.Width, l.Height, l.Depth)
	if err != nil {
		return nil, err
	}
	m.BlendOverlap = l.BlendOverlap
	for _, e := range l.Detectors {
		d, err := m.AddDetector(e.ID, e.Width, e.Height, e.XOffset, e.YOffset)
		if err != nil {
			return nil, err
		}
		if e.Active != nil {
			d.Active = *e.Active
		}
	}
	return m, nil
}
