/*Package frame reassembles the per-line UDP stream into complete 2-D frames.

The assembler owns one backing buffer which it reuses across frames: the sink
borrows it for the duration of OnFrameReady and the buffer is cleared before
the next line lands.  All mutation happens on the grab goroutine; Start, Stop
and SetLines are guarded so configuration cannot race a live stream.
*/
package frame

import (
	"fmt"
	"sync"

	"github.com/Odhiambo-20/XImage/sink"
)

// DefaultLinesPerFrame is how many lines make a frame when the caller does
// not say otherwise
const DefaultLinesPerFrame = 1024

// Frame is one assembled image.  It satisfies sink.FrameView.
type Frame struct {
	width int
	lines int
	depth int
	bpp   int
	buf   []byte
}

// Width returns the pixel count per line
func (f *Frame) Width() int { return f.width }

// Lines returns the line count per frame
func (f *Frame) Lines() int { return f.lines }

// Depth returns bits per pixel
func (f *Frame) Depth() int { return f.depth }

// Bytes returns the raw pixel buffer, row-major, pixels little-endian
func (f *Frame) Bytes() []byte { return f.buf }

// RowBytes returns the byte length of one line
func (f *Frame) RowBytes() int { return f.width * f.bpp }

// Row returns the raw bytes of line i
func (f *Frame) Row(i int) []byte {
	rb := f.RowBytes()
	return f.buf[i*rb : (i+1)*rb]
}

// Uint16s unpacks the buffer to one uint16 per pixel.  Only meaningful for
// depths that fit two bytes; the result is a copy.
func (f *Frame) Uint16s() []uint16 {
	out := make([]uint16, f.width*f.lines)
	for i := range out {
		out[i] = uint16(f.buf[2*i]) | uint16(f.buf[2*i+1])<<8
	}
	return out
}

func (f *Frame) clear() {
	for i := range f.buf {
		f.buf[i] = 0
	}
}

// Assembler buffers incoming lines and emits completed frames to its sink
type Assembler struct {
	mu sync.Mutex

	lines      int
	width      int
	depth      int
	headerMode bool

	frame   *Frame
	current int
	running bool

	// expect is the next line id when header mode is on; modulo-65536
	expect     uint16
	havePlaced bool

	linesReceived uint64
	framesEmitted uint64

	sink sink.ImgSink
}

// New returns an assembler producing frames of the given line count
func New(lines int) *Assembler {
	if lines <= 0 {
		lines = DefaultLinesPerFrame
	}
	return &Assembler{lines: lines}
}

// SetSink installs the frame/error sink.  The assembler never extends the
// sink's lifetime.
func (a *Assembler) SetSink(s sink.ImgSink) {
	a.mu.Lock()
	a.sink = s
	a.mu.Unlock()
}

// SetHeaderMode selects whether AddLine's lineID parameter is trusted for
// gap detection (true) or lines are placed in arrival order (false)
func (a *Assembler) SetHeaderMode(on bool) {
	a.mu.Lock()
	a.headerMode = on
	a.mu.Unlock()
}

// SetLines changes the lines-per-frame.  Illegal while running.
func (a *Assembler) SetLines(n int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		a.reportError(sink.ErrFrameConfig, "cannot change lines per frame while running")
		return fmt.Errorf("frame: cannot change lines per frame while running")
	}
	if n <= 0 {
		return fmt.Errorf("frame: lines per frame must be positive, got %d", n)
	}
	a.lines = n
	return nil
}

// Lines returns the configured lines-per-frame
func (a *Assembler) Lines() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lines
}

// Start allocates the backing buffer for width x lines at the given pixel
// depth and begins accepting lines
func (a *Assembler) Start(width, depth int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	if width <= 0 || depth <= 0 {
		a.reportError(sink.ErrFrameAlloc, fmt.Sprintf("cannot size a frame of %dx%d@%d", width, a.lines, depth))
		return fmt.Errorf("frame: invalid geometry %dx%d@%d bits", width, a.lines, depth)
	}
	bpp := (depth + 7) / 8
	a.width = width
	a.depth = depth
	a.frame = &Frame{
		width: width,
		lines: a.lines,
		depth: depth,
		bpp:   bpp,
		buf:   make([]byte, width*a.lines*bpp),
	}
	a.current = 0
	a.expect = 0
	a.havePlaced = false
	a.linesReceived = 0
	a.framesEmitted = 0
	a.running = true
	return nil
}

// Stop ceases accepting lines.  The buffer is retained for reuse by the
// next Start.
func (a *Assembler) Stop() {
	a.mu.Lock()
	a.running = false
	a.current = 0
	a.havePlaced = false
	a.mu.Unlock()
}

// Running reports whether the assembler is accepting lines
func (a *Assembler) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Counters returns (lines received, frames emitted, cursor position).  The
// invariant linesReceived == framesEmitted*linesPerFrame + current holds
// whenever no gaps have been skipped.
func (a *Assembler) Counters() (linesReceived, framesEmitted uint64, current int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.linesReceived, a.framesEmitted, a.current
}

// AddLine places one line.  Checks run in order: session running, length
// match, then gap handling (header mode) and placement.  A completed frame
// is dispatched to the sink synchronously; the buffer is cleared after the
// callback returns.
func (a *Assembler) AddLine(data []byte, lineID uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running || a.frame == nil {
		return
	}
	if len(data) != a.frame.RowBytes() {
		a.reportError(sink.ErrLineLength,
			fmt.Sprintf("line length mismatch: got %d bytes, want %d", len(data), a.frame.RowBytes()))
		return
	}

	if a.headerMode && a.havePlaced {
		gap := int(lineID - a.expect) // modulo-65536 distance
		if gap > 0 && gap < 32768 {
			a.skip(gap)
		}
	}

	copy(a.frame.Row(a.current), data)
	a.current++
	a.linesReceived++
	a.expect = lineID + 1
	a.havePlaced = true
	if a.current == a.lines {
		a.emit()
	}
}

// skip advances the cursor over lost lines.  Rows under the skip stay zero
// (the buffer is cleared between frames).  If the gap runs past the end of
// the frame, the partial frame is emitted as-is and the cursor wraps.
func (a *Assembler) skip(gap int) {
	if s := a.sink; s != nil {
		s.OnEvent(sink.EventPacketLoss, uint32(gap))
	}
	avail := a.lines - a.current
	if gap >= avail {
		a.emit()
		return
	}
	a.current += gap
}

func (a *Assembler) emit() {
	if s := a.sink; s != nil {
		s.OnFrameReady(a.frame)
	}
	a.frame.clear()
	a.current = 0
	a.framesEmitted++
}

func (a *Assembler) reportError(id uint32, msg string) {
	if s := a.sink; s != nil {
		s.OnError(id, msg)
	}
}
