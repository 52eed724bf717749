/*Package grab runs the image side of a detector session: it owns the image
socket, feeds the line stream into a frame assembler, and reports acquisition
statistics.

One goroutine per open session does all the receiving.  Receive timeouts are
polls, not failures; Stop raises a flag and joins the goroutine, relying on
the short image timeout to bound the join.
*/
package grab

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Odhiambo-20/XImage/control"
	"github.com/Odhiambo-20/XImage/detector"
	"github.com/Odhiambo-20/XImage/frame"
	"github.com/Odhiambo-20/XImage/sink"
	"github.com/Odhiambo-20/XImage/transport"
	"github.com/Odhiambo-20/XImage/wire"
)

var (
	// ErrNotOpen is generated when Grab is called before Open
	ErrNotOpen = errors.New("grab: session not open")

	// ErrGrabbing is generated when Grab is called while already grabbing
	ErrGrabbing = errors.New("grab: acquisition already running")
)

// Stats are the acquisition counters, reported at close and available on
// demand
type Stats struct {
	PacketsReceived uint64
	PacketsLost     uint64
	LinesReceived   uint64
	FramesGrabbed   uint64
}

// Session is the image channel to one detector
type Session struct {
	mu sync.Mutex

	desc detector.Descriptor
	ctrl *control.Session
	asm  *frame.Assembler
	conn *transport.ImageConn
	snk  sink.ImgSink

	opened        bool
	grabbing      bool
	stopRequested bool
	stopC         chan struct{}
	done          chan struct{}
	headerMode    bool
	timeout       time.Duration

	framesToGrab uint64
	stats        Stats

	// lossLimiter keeps a lossy link from flooding the sink with
	// packet-loss events; counters still see every loss
	lossLimiter *rate.Limiter
}

// NewSession returns a closed grab session feeding the given assembler
func NewSession(asm *frame.Assembler) *Session {
	return &Session{
		asm:         asm,
		timeout:     transport.DefaultImageTimeout,
		lossLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// SetSink installs the frame/error sink
func (s *Session) SetSink(snk sink.ImgSink) {
	s.mu.Lock()
	s.snk = snk
	s.mu.Unlock()
}

// SetHeader selects whether incoming packets carry the per-line header
func (s *Session) SetHeader(on bool) {
	s.mu.Lock()
	s.headerMode = on
	s.asm.SetHeaderMode(on)
	s.mu.Unlock()
}

// SetTimeout changes the image receive timeout
func (s *Session) SetTimeout(d time.Duration) {
	s.mu.Lock()
	s.timeout = d
	if s.conn != nil {
		s.conn.SetTimeout(d)
	}
	s.mu.Unlock()
}

// Open binds the image socket for the descriptor's image port.  The command
// session is retained so acquisition can be correlated with device state;
// it must already be open.
func (s *Session) Open(d detector.Descriptor, ctrl *control.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	if ctrl == nil || !ctrl.IsOpen() {
		s.report(sink.ErrGrabState, "grab open requires an open command session")
		return ErrNotOpen
	}
	conn, err := transport.ListenImage(int(d.ImgPort), s.timeout)
	if err != nil {
		s.report(sink.ErrGrabState, err.Error())
		return err
	}
	s.desc = d
	s.ctrl = ctrl
	s.conn = conn
	s.opened = true
	s.stats = Stats{}
	log.Printf("[grab] open on image port %d", d.ImgPort)
	return nil
}

// Close stops any running acquisition and releases the socket, logging the
// session's statistics
func (s *Session) Close() error {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.opened = false
	log.Printf("[grab] closed; packets received %d, packets lost %d, lines received %d",
		s.stats.PacketsReceived, s.stats.PacketsLost, s.stats.LinesReceived)
	return err
}

// IsOpen reports whether the image socket is bound
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// IsGrabbing reports whether the receive goroutine is running
func (s *Session) IsGrabbing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grabbing
}

// Statistics returns a copy of the acquisition counters
func (s *Session) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Grab starts acquisition of n frames; n == 0 runs until Stop.  The frame
// assembler is started with the descriptor's geometry.
func (s *Session) Grab(n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		s.report(sink.ErrGrabState, "grab attempted before open")
		return ErrNotOpen
	}
	if s.grabbing {
		s.report(sink.ErrGrabActive, "acquisition already running")
		return ErrGrabbing
	}

	width := int(s.desc.PixelCount)
	depth := int(s.desc.PixelDepth)
	if depth == 0 {
		depth = detector.DefaultPixelDepth
	}
	s.asm.SetSink(&grabSink{s: s})
	if err := s.asm.Start(width, depth); err != nil {
		s.report(sink.ErrGrabActive, fmt.Sprintf("failed to start frame assembly: %v", err))
		return err
	}

	s.framesToGrab = n
	s.stats.FramesGrabbed = 0
	s.stopC = make(chan struct{})
	s.done = make(chan struct{})
	s.stopRequested = false
	s.grabbing = true
	go s.run(s.conn, s.stopC, s.done)
	log.Printf("[grab] acquisition started (%d frames, 0 = unbounded)", n)
	return nil
}

// Snap acquires exactly one frame and blocks until it lands or the deadline
// passes
func (s *Session) Snap(deadline time.Duration) error {
	if err := s.Grab(1); err != nil {
		return err
	}
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	select {
	case <-done:
	case <-time.After(deadline):
		s.Stop()
		return fmt.Errorf("grab: snap did not complete within %v", deadline)
	}
	s.Stop()
	return nil
}

// Stop raises the stop flag and joins the receive goroutine.  It does not
// forcibly unblock a receive in progress; the image timeout bounds the wait.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.grabbing {
		s.mu.Unlock()
		return
	}
	done := s.done
	if !s.stopRequested {
		s.stopRequested = true
		close(s.stopC)
	}
	s.mu.Unlock()
	<-done

	s.mu.Lock()
	s.grabbing = false
	s.mu.Unlock()
	s.asm.Stop()
	log.Print("[grab] acquisition stopped")
}

func (s *Session) run(conn *transport.ImageConn, stopC, done chan struct{}) {
	defer close(done)
	buf := make([]byte, transport.MaxDatagram)
	for {
		select {
		case <-stopC:
			return
		default:
		}

		n, err := conn.Recv(buf)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			if errors.Is(err, transport.ErrClosed) {
				return
			}
			s.report(sink.ErrGrabState, fmt.Sprintf("image receive: %v", err))
			return
		}
		if n == 0 {
			continue
		}
		s.processPacket(buf[:n])

		s.mu.Lock()
		doneGrabbing := s.framesToGrab > 0 && s.stats.FramesGrabbed >= s.framesToGrab
		s.mu.Unlock()
		if doneGrabbing {
			s.mu.Lock()
			s.grabbing = false
			s.mu.Unlock()
			s.asm.Stop()
			return
		}
	}
}

func (s *Session) processPacket(pkt []byte) {
	s.mu.Lock()
	s.stats.PacketsReceived++
	headerMode := s.headerMode
	lineCounter := uint16(s.stats.LinesReceived)
	s.mu.Unlock()

	if headerMode {
		h, err := wire.ParseImageHeader(pkt)
		if err != nil {
			s.mu.Lock()
			s.stats.PacketsLost++
			s.mu.Unlock()
			return
		}
		payload := pkt[wire.ImageHeaderSize:]
		if int(h.DataLen) <= len(payload) {
			payload = payload[:h.DataLen]
		}
		s.asm.AddLine(payload, h.LineID)
	} else {
		s.asm.AddLine(pkt, lineCounter)
	}
	s.mu.Lock()
	s.stats.LinesReceived++
	s.mu.Unlock()
}

func (s *Session) report(id uint32, msg string) {
	log.Printf("[grab] error %d: %s", id, msg)
	if snk := s.snk; snk != nil {
		snk.OnError(id, msg)
	}
}

// grabSink sits between the assembler and the caller's sink, keeping the
// session's counters and rate-limiting loss chatter
type grabSink struct {
	s *Session
}

func (g *grabSink) OnError(id uint32, msg string) {
	if snk := g.s.snk; snk != nil {
		snk.OnError(id, msg)
	}
}

func (g *grabSink) OnEvent(id uint32, data uint32) {
	if id == sink.EventPacketLoss {
		g.s.mu.Lock()
		g.s.stats.PacketsLost += uint64(data)
		g.s.mu.Unlock()
		if !g.s.lossLimiter.Allow() {
			return
		}
	}
	if snk := g.s.snk; snk != nil {
		snk.OnEvent(id, data)
	}
}

func (g *grabSink) OnFrameReady(f sink.FrameView) {
	if snk := g.s.snk; snk != nil {
		snk.OnFrameReady(f)
	}
	g.s.mu.Lock()
	g.s.stats.FramesGrabbed++
	g.s.mu.Unlock()
}
