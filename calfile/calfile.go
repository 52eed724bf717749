/*Package calfile round-trips correction tables through their binary on-disk
form.

The format is little-endian and unversioned; readers validate the stored
dimensions before trusting the payload.  Single detector:

	[W u32][H u32][depth u32][offset u16 x W*H][gain f32 x W*H][baseline u16 x W*H]

Multi-detector:

	[N u32][depth u32] then per detector
	[id u32][W u32][H u32][xOff i32][yOff i32][active u8][norm f32][tables as above, headerless]
*/
package calfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/Odhiambo-20/XImage/correction"
)

// maxDim bounds a stored dimension so a corrupt header cannot drive a
// multi-gigabyte allocation
const maxDim = 1 << 20

var order = binary.LittleEndian

// Save writes single-detector tables to path
func Save(path string, t *correction.Tables) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := writeHeader(w, t); err != nil {
		return err
	}
	if err := writeTables(w, t); err != nil {
		return err
	}
	return w.Flush()
}

// Load reads single-detector tables from path, re-initialising to the
// stored dimensions
func Load(path string) (*correction.Tables, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var wdt, hgt, depth uint32
	if err := readU32s(r, &wdt, &hgt, &depth); err != nil {
		return nil, err
	}
	if err := checkDims(wdt, hgt); err != nil {
		return nil, err
	}
	t, err := correction.NewTables(int(wdt), int(hgt), int(depth))
	if err != nil {
		return nil, err
	}
	if err := readTables(r, t); err != nil {
		return nil, err
	}
	return t, nil
}

// SaveMulti writes a multi-detector assembly to path
func SaveMulti(path string, m *correction.MultiDetector) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	if err := writeU32s(w, uint32(len(m.Detectors)), uint32(m.Depth)); err != nil {
		return err
	}
	for _, d := range m.Detectors {
		active := uint8(0)
		if d.Active {
			active = 1
		}
		if err := writeU32s(w, uint32(d.ID), uint32(d.Width), uint32(d.Height)); err != nil {
			return err
		}
		if err := binary.Write(w, order, int32(d.XOffset)); err != nil {
			return err
		}
		if err := binary.Write(w, order, int32(d.YOffset)); err != nil {
			return err
		}
		if err := w.WriteByte(active); err != nil {
			return err
		}
		if err := binary.Write(w, order, math.Float32bits(d.Normalization)); err != nil {
			return err
		}
		if err := writeTables(w, d.Tables); err != nil {
			return err
		}
	}
	return w.Flush()
}

// LoadMulti reads a multi-detector assembly from path.  The canvas is sized
// to the union of the stored detector extents.
func LoadMulti(path string) (*correction.MultiDetector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var count, depth uint32
	if err := readU32s(r, &count, &depth); err != nil {
		return nil, err
	}
	if count == 0 || count > correction.MaxDetectors {
		return nil, fmt.Errorf("calfile: stored detector count %d out of range", count)
	}

	type rec struct {
		id, w, h   uint32
		xOff, yOff int32
		active     bool
		norm       float32
		tables     *correction.Tables
	}
	recs := make([]rec, 0, count)
	canvasW, canvasH := 0, 0
	for i := uint32(0); i < count; i++ {
		var rc rec
		if err := readU32s(r, &rc.id, &rc.w, &rc.h); err != nil {
			return nil, err
		}
		if err := checkDims(rc.w, rc.h); err != nil {
			return nil, err
		}
		if err := binary.Read(r, order, &rc.xOff); err != nil {
			return nil, err
		}
		if err := binary.Read(r, order, &rc.yOff); err != nil {
			return nil, err
		}
		var active uint8
		if err := binary.Read(r, order, &active); err != nil {
			return nil, err
		}
		rc.active = active != 0
		var normBits uint32
		if err := binary.Read(r, order, &normBits); err != nil {
			return nil, err
		}
		rc.norm = math.Float32frombits(normBits)

		t, err := correction.NewTables(int(rc.w), int(rc.h), int(depth))
		if err != nil {
			return nil, err
		}
		if err := readTables(r, t); err != nil {
			return nil, err
		}
		rc.tables = t
		recs = append(recs, rc)

		if e := int(rc.xOff) + int(rc.w); e > canvasW {
			canvasW = e
		}
		if e := int(rc.yOff) + int(rc.h); e > canvasH {
			canvasH = e
		}
	}

	m, err := correction.NewMultiDetector(canvasW, canvasH, int(depth))
	if err != nil {
		return nil, err
	}
	for _, rc := range recs {
		d, err := m.AddDetector(int(rc.id), int(rc.w), int(rc.h), int(rc.xOff), int(rc.yOff))
		if err != nil {
			return nil, err
		}
		copy(d.Offset, rc.tables.Offset)
		copy(d.Gain, rc.tables.Gain)
		copy(d.Baseline, rc.tables.Baseline)
		d.Active = rc.active
		d.Normalization = rc.norm
	}
	return m, nil
}

func writeHeader(w io.Writer, t *correction.Tables) error {
	return writeU32s(w, uint32(t.Width), uint32(t.Height), uint32(t.Depth))
}

func writeTables(w io.Writer, t *correction.Tables) error {
	if err := binary.Write(w, order, t.Offset); err != nil {
		return err
	}
	if err := binary.Write(w, order, t.Gain); err != nil {
		return err
	}
	return binary.Write(w, order, t.Baseline)
}

func readTables(r io.Reader, t *correction.Tables) error {
	if err := binary.Read(r, order, t.Offset); err != nil {
		return fmt.Errorf("calfile: offset table: %w", err)
	}
	if err := binary.Read(r, order, t.Gain); err != nil {
		return fmt.Errorf("calfile: gain table: %w", err)
	}
	if err := binary.Read(r, order, t.Baseline); err != nil {
		return fmt.Errorf("calfile: baseline table: %w", err)
	}
	return nil
}

func writeU32s(w io.Writer, vs ...uint32) error {
	for _, v := range vs {
		if err := binary.Write(w, order, v); err != nil {
			return err
		}
	}
	return nil
}

func readU32s(r io.Reader, vs ...*uint32) error {
	for _, v := range vs {
		if err := binary.Read(r, order, v); err != nil {
			return err
		}
	}
	return nil
}

func checkDims(w, h uint32) error {
	if w == 0 || h == 0 || w > maxDim || h > maxDim {
		return fmt.Errorf("calfile: stored dimensions %dx%d are implausible", w, h)
	}
	return nil
}
