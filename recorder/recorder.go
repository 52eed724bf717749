// Package recorder saves acquired frames to disk as FITS sequences with
// incrementing filenames in yyyy-mm-dd subfolders.  It is not thread safe;
// drive it from the sink callback or a single writer goroutine.
package recorder

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/Odhiambo-20/XImage/sink"
)

// Recorder writes frames below Root with the given filename Prefix
type Recorder struct {
	// counter is the internally incrementing counter
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// timeFldr is the subfolder with yyyy-mm-dd format
	timeFldr string

	// Enabled allows consumers to toggle recording without unplumbing the
	// recorder from their sink
	Enabled bool
}

// New returns an enabled recorder rooted at root
func New(root, prefix string) *Recorder {
	return &Recorder{Root: root, Prefix: prefix, Enabled: true}
}

// updateFolder checks the current time and updates the dated subfolder
func (r *Recorder) updateFolder() {
	now := time.Now()
	r.timeFldr = fmt.Sprintf("%04d-%02d-%02d", now.Year(), now.Month(), now.Day())
}

// mkDir makes the dated folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := path.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// SaveFrame writes one frame as a 16-bit FITS image and advances the
// counter.  Disabled recorders drop frames silently so they can stay wired
// into a sink.
func (r *Recorder) SaveFrame(f sink.FrameView) error {
	if !r.Enabled {
		return nil
	}
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return err
	}
	fn := path.Join(fldr, fmt.Sprintf("%s%06d.fits", r.Prefix, r.counter))
	fid, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer fid.Close()

	cards := []fitsio.Card{
		{Name: "DETW", Value: f.Width(), Comment: "pixels per line"},
		{Name: "DETH", Value: f.Lines(), Comment: "lines per frame"},
		{Name: "BITDEPTH", Value: f.Depth(), Comment: "detector bits per pixel"},
	}
	if err := writeFits(fid, cards, f); err != nil {
		return err
	}
	r.counter++
	return nil
}

// Incr resynchronises the filename counter against the folder contents; if
// the scan fails the counter is left alone
func (r *Recorder) Incr() {
	r.updateFolder()
	dn, _ := r.mkDir()
	files, err := os.ReadDir(dn)
	if err != nil {
		return
	}
	count := -1
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		bit := strings.TrimPrefix(fn, r.Prefix)
		bit = strings.TrimSuffix(bit, ".fits")
		n, err := strconv.Atoi(bit)
		if err != nil {
			continue
		}
		if n > count {
			count = n
		}
	}
	r.counter = count + 1
}

// writeFits streams one frame to w as a 16-bit FITS image
func writeFits(w *os.File, cards []fitsio.Card, f sink.FrameView) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(16, []int{f.Width(), f.Lines()})
	defer im.Close()
	if err := im.Header().Append(cards...); err != nil {
		return err
	}
	// FITS 16-bit data is signed; shift the unsigned pixels down
	raw := f.Bytes()
	buf := make([]int16, f.Width()*f.Lines())
	for i := range buf {
		v := uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
		buf[i] = int16(v - 32768)
	}
	if err := im.Write(buf); err != nil {
		return err
	}
	return fits.Write(im)
}
