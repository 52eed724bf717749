/*Package control implements the stateful command session against a GCU:
open/close with a liveness handshake, typed register reads and writes,
executable commands, and the heartbeat that watches device health.

The device is half-duplex; a single command mutex serialises every
request/response exchange, so responses pair with requests in FIFO order by
construction.  A separate session mutex guards open/close and configuration
so lifecycle changes cannot race in-flight commands.
*/
package control

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/Odhiambo-20/XImage/detector"
	"github.com/Odhiambo-20/XImage/sink"
	"github.com/Odhiambo-20/XImage/transport"
	"github.com/Odhiambo-20/XImage/wire"
)

// DefaultTimeout is the command round-trip deadline
const DefaultTimeout = 20 * time.Second

// handshakeTimeout bounds each liveness probe during Open; the full open is
// further bounded by the backoff's elapsed cap
const handshakeTimeout = 500 * time.Millisecond

var (
	// ErrNotOpen is generated when a command is issued against a closed session
	ErrNotOpen = errors.New("control: session not open")

	// ErrAlreadyOpen is generated when Open is called twice
	ErrAlreadyOpen = errors.New("control: session already open")
)

type state int

const (
	stateClosed state = iota
	stateOpening
	stateOpen
	stateClosing
)

// Session is a command channel to one GCU.  The zero value is not usable;
// create sessions with NewSession.
type Session struct {
	mu    sync.Mutex // lifecycle and configuration
	cmdMu sync.Mutex // one request/response in flight at a time

	desc    detector.Descriptor
	conn    *transport.CommandConn
	timeout time.Duration
	snk     sink.CmdSink
	st      state

	// sentinel controls whether command packets carry the 0xAA55 prefix;
	// newer firmware requires it
	sentinel bool

	hbEnabled bool
	hb        *heartbeat
}

// NewSession returns a closed session with default timeout and heartbeat
// enabled
func NewSession() *Session {
	return &Session{
		timeout:   DefaultTimeout,
		hbEnabled: true,
	}
}

// SetSink installs the error/event sink.  Safe to call at any time; the
// session never extends the sink's lifetime.
func (s *Session) SetSink(snk sink.CmdSink) {
	s.mu.Lock()
	s.snk = snk
	s.mu.Unlock()
}

// SetTimeout changes the command round-trip deadline
func (s *Session) SetTimeout(d time.Duration) {
	s.mu.Lock()
	s.timeout = d
	if s.conn != nil {
		s.conn.SetTimeout(d)
	}
	s.mu.Unlock()
}

// SetSentinel selects whether requests carry the 0xAA55 transport prefix
func (s *Session) SetSentinel(on bool) {
	s.mu.Lock()
	s.sentinel = on
	s.mu.Unlock()
}

// Descriptor returns the descriptor the session was opened with
func (s *Session) Descriptor() detector.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc
}

// IsOpen reports whether the session is open
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st == stateOpen
}

// Open binds the command socket and performs one liveness read to confirm
// the device answers.  On success the heartbeat starts (when enabled); on
// any failure the session returns to closed.
func (s *Session) Open(d detector.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st != stateClosed {
		return ErrAlreadyOpen
	}
	if err := d.Validate(false); err != nil {
		s.report(sink.ErrInvalidArgument, err.Error())
		return err
	}
	s.st = stateOpening

	conn, err := transport.DialCommand(d.CmdAddr(), s.timeout)
	if err != nil {
		s.st = stateClosed
		s.report(sink.ErrOpenFailed, err.Error())
		return err
	}

	// probe the device with a cheap register read; the GCU does not like
	// being hammered right after boot, so back off between attempts
	conn.SetTimeout(handshakeTimeout)
	probe := func() error {
		req, err := wire.NewRead(wire.GCUFirmware, 0)
		if err != nil {
			return backoff.Permanent(err)
		}
		buf, _, err := conn.SendRecv(s.encode(req))
		if err != nil {
			return err
		}
		_, err = wire.DecodeResponse(req, buf)
		return err
	}
	err = backoff.Retry(probe, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		conn.Close()
		s.st = stateClosed
		s.report(sink.ErrOpenFailed, fmt.Sprintf("liveness handshake with %s failed: %v", d.CmdAddr(), err))
		return fmt.Errorf("control: open %s: %w", d.CmdAddr(), err)
	}
	conn.SetTimeout(s.timeout)

	s.desc = d
	s.conn = conn
	s.st = stateOpen
	log.Printf("[control] session open to %s", d.CmdAddr())

	if s.hbEnabled {
		s.hb = startHeartbeat(s)
	}
	return nil
}

// Close stops the heartbeat, releases the socket and returns the session to
// closed.  Closing a closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.st != stateOpen {
		s.mu.Unlock()
		return nil
	}
	s.st = stateClosing
	hb := s.hb
	s.hb = nil
	s.mu.Unlock()

	// join the heartbeat outside the session lock; it may be mid-exchange
	if hb != nil {
		hb.stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.conn.Close()
	s.conn = nil
	s.st = stateClosed
	log.Printf("[control] session to %s closed", s.desc.CmdAddr())
	return err
}

// EnableHeartbeat turns the health monitor on or off.  Disabling joins the
// monitor goroutine before returning.
func (s *Session) EnableHeartbeat(enable bool) {
	s.mu.Lock()
	if s.hbEnabled == enable {
		s.mu.Unlock()
		return
	}
	s.hbEnabled = enable
	var toStop *heartbeat
	if enable && s.st == stateOpen {
		s.hb = startHeartbeat(s)
	} else if !enable {
		toStop = s.hb
		s.hb = nil
	}
	s.mu.Unlock()
	if toStop != nil {
		toStop.stop()
	}
}

// Operate executes a command code (save, load, restore defaults, frame
// trigger generation)
func (s *Session) Operate(code wire.Code) error {
	req, err := wire.NewOperate(code)
	if err != nil {
		s.report(sink.ErrUnsupportedCode, err.Error())
		return err
	}
	_, err = s.exchange(req, true)
	return err
}

// ReadUint reads a scalar register.  dmIndex 0 addresses the GCU, 1..N a
// specific detector module; 0xFF is invalid for reads.
func (s *Session) ReadUint(code wire.Code, dmIndex byte) (uint64, error) {
	req, err := wire.NewRead(code, dmIndex)
	if err != nil {
		s.report(sink.ErrUnsupportedCode, err.Error())
		return 0, err
	}
	resp, err := s.exchange(req, true)
	if err != nil {
		return 0, err
	}
	return resp.Uint(code.PayloadLayout())
}

// ReadString reads a string register (serial numbers)
func (s *Session) ReadString(code wire.Code, dmIndex byte) (string, error) {
	req, err := wire.NewRead(code, dmIndex)
	if err != nil {
		s.report(sink.ErrUnsupportedCode, err.Error())
		return "", err
	}
	resp, err := s.exchange(req, true)
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}

// WriteUint writes a scalar register.  dmIndex 0xFF broadcasts to all
// modules where the register supports it.
func (s *Session) WriteUint(code wire.Code, value uint64, dmIndex byte) error {
	req, err := wire.NewWrite(code, value, dmIndex)
	if err != nil {
		s.report(sink.ErrUnsupportedCode, err.Error())
		return err
	}
	_, err = s.exchange(req, true)
	return err
}

// Health reads the GCU info register and parses device telemetry from it
func (s *Session) Health() (wire.GCUHealth, error) {
	return s.health(true)
}

func (s *Session) health(loud bool) (wire.GCUHealth, error) {
	req, err := wire.NewRead(wire.GCUInfo, 0)
	if err != nil {
		return wire.GCUHealth{}, err
	}
	timeout := s.timeout
	if !loud {
		// heartbeat probes must resolve within one heartbeat period so the
		// monitor can be joined promptly on close
		timeout = heartbeatPeriod
	}
	resp, err := s.exchangeTimeout(req, loud, timeout)
	if err != nil {
		return wire.GCUHealth{}, err
	}
	return wire.ParseGCUHealth(resp.Data)
}

// exchange runs one serialized request/response cycle.  When loud, failures
// are delivered to the sink exactly once; the heartbeat path is quiet and
// applies its own miss accounting.
func (s *Session) exchange(req wire.Request, loud bool) (wire.Response, error) {
	return s.exchangeTimeout(req, loud, s.timeout)
}

func (s *Session) exchangeTimeout(req wire.Request, loud bool, timeout time.Duration) (wire.Response, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	open := s.st == stateOpen
	s.mu.Unlock()
	if !open || conn == nil {
		if loud {
			s.report(sink.ErrNotOpen, "command issued against a closed session")
		}
		return wire.Response{}, ErrNotOpen
	}

	buf, _, err := conn.SendRecvTimeout(s.encode(req), timeout)
	if err != nil {
		if loud {
			s.report(sink.ErrSendFailed, fmt.Sprintf("%s %s: %v", req.Op, req.Code, err))
		}
		return wire.Response{}, fmt.Errorf("control: %s %s: %w", req.Op, req.Code, err)
	}
	resp, err := wire.DecodeResponse(req, buf)
	if err != nil {
		if loud {
			id := sink.ErrShortResponse
			var werr *wire.Error
			if errors.As(err, &werr) && werr.Kind == wire.ErrKindDeviceError {
				id = sink.ErrDeviceError
			}
			s.report(id, fmt.Sprintf("%s %s: %v", req.Op, req.Code, err))
		}
		return resp, err
	}
	return resp, nil
}

func (s *Session) encode(req wire.Request) []byte {
	pkt := req.Encode()
	if s.sentinel {
		pkt = wire.PrependSentinel(pkt)
	}
	return pkt
}

func (s *Session) report(id uint32, msg string) {
	log.Printf("[control] error %d: %s", id, msg)
	if snk := s.snk; snk != nil {
		snk.OnError(id, msg)
	}
}

func (s *Session) event(id uint32, data float32) {
	if snk := s.snk; snk != nil {
		snk.OnEvent(id, data)
	}
}
