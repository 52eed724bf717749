package correction

import (
	"testing"
	"time"

	"github.com/Odhiambo-20/XImage/sink"
)

type pipeSink struct {
	errors []uint32
	frames []sink.FrameView
}

func (p *pipeSink) OnError(id uint32, msg string)  { p.errors = append(p.errors, id) }
func (p *pipeSink) OnEvent(id uint32, data uint32) {}
func (p *pipeSink) OnFrameReady(f sink.FrameView)  { p.frames = append(p.frames, f) }

type rawFrame struct {
	w, l, d int
	buf     []byte
}

func (r rawFrame) Width() int    { return r.w }
func (r rawFrame) Lines() int    { return r.l }
func (r rawFrame) Depth() int    { return r.d }
func (r rawFrame) Bytes() []byte { return r.buf }

func frameOf(vals []uint16, w, l int) rawFrame {
	buf := make([]byte, len(vals)*2)
	for i, v := range vals {
		buf[2*i] = byte(v)
		buf[2*i+1] = byte(v >> 8)
	}
	return rawFrame{w: w, l: l, d: 16, buf: buf}
}

func pixelsOf(f sink.FrameView) []uint16 {
	raw := f.Bytes()
	out := make([]uint16, f.Width()*f.Lines())
	for i := range out {
		out[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	return out
}

func TestCorrectorAppliesTables(t *testing.T) {
	tb, err := NewTables(4, 2, Depth16)
	if err != nil {
		t.Fatal(err)
	}
	tb.TargetBaseline = 0
	for i := range tb.Offset {
		tb.Offset[i] = 100
	}

	next := &pipeSink{}
	fc := NewFrameCorrector(next)
	fc.Tables = tb

	fc.OnFrameReady(frameOf([]uint16{600, 600, 600, 600, 700, 700, 700, 700}, 4, 2))
	if len(next.frames) != 1 {
		t.Fatalf("expected one forwarded frame, got %d", len(next.frames))
	}
	got := pixelsOf(next.frames[0])
	for i, v := range got[:4] {
		if v != 500 {
			t.Errorf("pixel %d: got %d want 500", i, v)
		}
	}
	for i, v := range got[4:] {
		if v != 600 {
			t.Errorf("pixel %d: got %d want 600", i+4, v)
		}
	}
}

type closeWaiter struct {
	closed chan struct{}
}

func (c *closeWaiter) Close() error {
	close(c.closed)
	return nil
}

func TestCorrectorMismatchIsFatal(t *testing.T) {
	tb, _ := NewTables(16, 16, Depth16)
	next := &pipeSink{}
	cw := &closeWaiter{closed: make(chan struct{})}
	fc := NewFrameCorrector(next)
	fc.Tables = tb
	fc.Session = cw

	f := frameOf([]uint16{1, 2, 3, 4}, 4, 1)
	fc.OnFrameReady(f)
	if len(next.errors) != 1 || next.errors[0] != sink.ErrFrameConfig {
		t.Errorf("expected one frame-config error, got %v", next.errors)
	}
	if len(next.frames) != 0 {
		t.Fatal("a mismatched frame must not be forwarded")
	}
	select {
	case <-cw.closed:
	case <-time.After(time.Second):
		t.Fatal("dimension mismatch must close the owning session")
	}

	// the corrector is dead after a fatal fault; nothing else flows
	fc.OnFrameReady(f)
	if len(next.errors) != 1 || len(next.frames) != 0 {
		t.Error("no further deliveries expected after the fatal report")
	}
}

func TestCorrectorWithPDC(t *testing.T) {
	p, err := NewPDC(4, 1, Depth16)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetGaps([]Gap{{Start: 1, Width: 2}}); err != nil {
		t.Fatal(err)
	}
	next := &pipeSink{}
	fc := NewFrameCorrector(next)
	fc.PDC = p

	fc.OnFrameReady(frameOf([]uint16{300, 0, 0, 600}, 4, 1))
	got := pixelsOf(next.frames[0])
	if got[1] != 400 || got[2] != 500 {
		t.Errorf("seam not filled: %v", got)
	}
}

func TestCorrectorPassThrough(t *testing.T) {
	next := &pipeSink{}
	fc := NewFrameCorrector(next)
	fc.OnError(sink.ErrLineLength, "short line")
	fc.OnEvent(sink.EventPacketLoss, 3)
	if len(next.errors) != 1 || next.errors[0] != sink.ErrLineLength {
		t.Errorf("error not forwarded: %v", next.errors)
	}
}
