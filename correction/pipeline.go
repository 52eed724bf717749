package correction

import (
	"github.com/Odhiambo-20/XImage/sink"
)

// correctedFrame is the view handed downstream after the pipeline has run;
// it owns its pixels, so it stays valid even though the assembler reuses
// the original buffer
type correctedFrame struct {
	width int
	lines int
	depth int
	buf   []byte
}

func (c *correctedFrame) Width() int    { return c.width }
func (c *correctedFrame) Lines() int    { return c.lines }
func (c *correctedFrame) Depth() int    { return c.depth }
func (c *correctedFrame) Bytes() []byte { return c.buf }

// Closer is the handle the pipeline uses to shut acquisition down when it
// hits a fatal fault.  *grab.Session satisfies it.
type Closer interface {
	Close() error
}

// FrameCorrector sits between the frame assembler and a consumer sink,
// applying per-frame corrections on the grab goroutine before forwarding.
// It must return promptly like any sink; keep the chain lean for fast line
// rates.
type FrameCorrector struct {
	// Tables, when set, applies single-detector offset/gain/baseline
	Tables *Tables

	// Flags gates the table corrections; defaults to everything
	Flags Flags

	// PDC, when set, fills module seams in place after the tables
	PDC *PDC

	// Next receives the corrected frames and all passed-through errors
	// and events
	Next sink.ImgSink

	// Session is the owning acquisition session.  A table/image dimension
	// mismatch at apply time is fatal: the corrector reports it once and
	// closes the session.
	Session Closer

	fatal bool
}

// NewFrameCorrector chains a corrector ahead of next with all table flags on
func NewFrameCorrector(next sink.ImgSink) *FrameCorrector {
	return &FrameCorrector{Flags: AllFlags, Next: next}
}

// OnError passes errors straight through
func (fc *FrameCorrector) OnError(id uint32, msg string) {
	if fc.Next != nil {
		fc.Next.OnError(id, msg)
	}
}

// OnEvent passes events straight through
func (fc *FrameCorrector) OnEvent(id uint32, data uint32) {
	if fc.Next != nil {
		fc.Next.OnEvent(id, data)
	}
}

// OnFrameReady corrects the frame and forwards the result.  A geometry
// mismatch between frame and tables is fatal: it is reported once and the
// owning session is closed; the offending frame is not forwarded.
func (fc *FrameCorrector) OnFrameReady(f sink.FrameView) {
	if fc.Next == nil || fc.fatal {
		return
	}
	raw := f.Bytes()
	px := make([]uint16, f.Width()*f.Lines())
	for i := range px {
		px[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}

	if fc.Tables != nil {
		if err := fc.Tables.Apply(px, fc.Flags); err != nil {
			fc.fail(err)
			return
		}
	}
	if fc.PDC != nil {
		if err := fc.PDC.Fill(px); err != nil {
			fc.fail(err)
			return
		}
	}

	out := &correctedFrame{
		width: f.Width(),
		lines: f.Lines(),
		depth: f.Depth(),
		buf:   make([]byte, len(px)*2),
	}
	for i, v := range px {
		out.buf[2*i] = byte(v)
		out.buf[2*i+1] = byte(v >> 8)
	}
	fc.Next.OnFrameReady(out)
}

// fail reports a fatal pipeline fault and closes the owning session.  The
// close runs on its own goroutine: OnFrameReady executes on the grab
// goroutine, and Close joins it, so closing inline would deadlock.
func (fc *FrameCorrector) fail(err error) {
	fc.fatal = true
	fc.Next.OnError(sink.ErrFrameConfig, err.Error())
	if fc.Session != nil {
		go fc.Session.Close()
	}
}
