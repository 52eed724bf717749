/*Package transport provides the UDP endpoints used to talk to a GCU.

Three endpoint types exist, one per traffic pattern:

	1.  CommandConn, a connected request/response socket on the command port.
	    Deadlines are per-exchange and equal to the session timeout.
	2.  ImageConn, a bound receive socket for the line stream.  Its timeout is
	    short (1s by default) and a timeout is an ordinary poll result, not a
	    failure.
	3.  BroadcastConn, a broadcast socket used for discovery, which collects
	    replies for a bounded window.

Every error leaving this package is one of three species: a timeout
(IsTimeout returns true), ErrClosed, or an I/O error from the socket.
*/
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// MaxDatagram is the largest packet the device emits on any channel
const MaxDatagram = 65536

// DefaultImageTimeout is the receive timeout on the image stream
const DefaultImageTimeout = 1 * time.Second

// DefaultDiscoveryWindow bounds how long a discovery broadcast collects
// responses
const DefaultDiscoveryWindow = 2 * time.Second

// ErrClosed is generated when an endpoint is used after Close
var ErrClosed = errors.New("transport: use of closed endpoint")

// IsTimeout reports whether err is a receive deadline expiry
func IsTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// CommandConn is the request/response endpoint on the command port
type CommandConn struct {
	conn    *net.UDPConn
	timeout time.Duration
	buf     []byte
}

// DialCommand connects a command endpoint to addr ("ip:port")
func DialCommand(addr string, timeout time.Duration) (*CommandConn, error) {
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, err
	}
	return &CommandConn{conn: conn, timeout: timeout, buf: make([]byte, MaxDatagram)}, nil
}

// SetTimeout changes the per-exchange deadline
func (c *CommandConn) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SendRecv ships one request datagram and waits for one response, returning
// the response bytes and the elapsed round-trip time.  The returned slice is
// only valid until the next call.
func (c *CommandConn) SendRecv(pkt []byte) ([]byte, time.Duration, error) {
	return c.SendRecvTimeout(pkt, c.timeout)
}

// SendRecvTimeout is SendRecv with a one-shot deadline override.  The
// heartbeat uses this to keep its probes shorter than the command timeout.
func (c *CommandConn) SendRecvTimeout(pkt []byte, timeout time.Duration) ([]byte, time.Duration, error) {
	if c.conn == nil {
		return nil, 0, ErrClosed
	}
	start := time.Now()
	deadline := start.Add(timeout)
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return nil, 0, err
	}
	if _, err := c.conn.Write(pkt); err != nil {
		return nil, time.Since(start), err
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, 0, err
	}
	n, err := c.conn.Read(c.buf)
	if err != nil {
		return nil, time.Since(start), err
	}
	return c.buf[:n], time.Since(start), nil
}

// Close releases the socket.  Further calls return ErrClosed.
func (c *CommandConn) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ImageConn is the bound receive endpoint for the line stream
type ImageConn struct {
	conn    *net.UDPConn
	timeout time.Duration
}

// ListenImage binds the image endpoint on the given local port.  Port 0
// picks an ephemeral port (LocalAddr reports which).
func ListenImage(port int, timeout time.Duration) (*ImageConn, error) {
	if timeout <= 0 {
		timeout = DefaultImageTimeout
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	// the device can burst a full frame of lines faster than the assembler
	// drains; a deep kernel buffer absorbs it
	conn.SetReadBuffer(4 * 1024 * 1024)
	return &ImageConn{conn: conn, timeout: timeout}, nil
}

// LocalAddr returns the bound address
func (c *ImageConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// SetTimeout changes the per-recv deadline
func (c *ImageConn) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Recv reads one line packet into buf.  A deadline expiry comes back as a
// timeout error; callers poll again.
func (c *ImageConn) Recv(buf []byte) (int, error) {
	if c.conn == nil {
		return 0, ErrClosed
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	n, _, err := c.conn.ReadFromUDP(buf)
	return n, err
}

// Close releases the socket
func (c *ImageConn) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// BroadcastConn is the discovery endpoint, bound to a specific adapter so
// the broadcast leaves the right interface
type BroadcastConn struct {
	conn *net.UDPConn
	port int
}

// OpenBroadcast binds a broadcast-capable socket on the adapter with the
// given local IP.  port is the remote command port discovery targets.
func OpenBroadcast(adapterIP string, port int) (*BroadcastConn, error) {
	ip := net.ParseIP(adapterIP)
	if ip == nil {
		return nil, fmt.Errorf("transport: %q is not a valid adapter IP", adapterIP)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip})
	if err != nil {
		return nil, err
	}
	return &BroadcastConn{conn: conn, port: port}, nil
}

// BroadcastTo overrides the destination address, for tests that stand in a
// device stub on loopback instead of the subnet broadcast address.
var BroadcastTo = net.IPv4bcast

// Send ships one datagram to the broadcast address without waiting for
// replies; configuration and reset packets go out this way
func (b *BroadcastConn) Send(payload []byte) error {
	if b.conn == nil {
		return ErrClosed
	}
	dst := &net.UDPAddr{IP: BroadcastTo, Port: b.port}
	_, err := b.conn.WriteToUDP(payload, dst)
	return err
}

// Discover sends the payload to the broadcast address and collects responses
// until the window closes, invoking each for every datagram received.  The
// window elapsing is success, not an error.
func (b *BroadcastConn) Discover(payload []byte, window time.Duration, each func(data []byte, from *net.UDPAddr)) error {
	if b.conn == nil {
		return ErrClosed
	}
	if window <= 0 {
		window = DefaultDiscoveryWindow
	}
	dst := &net.UDPAddr{IP: BroadcastTo, Port: b.port}
	if _, err := b.conn.WriteToUDP(payload, dst); err != nil {
		return err
	}
	deadline := time.Now().Add(window)
	buf := make([]byte, MaxDatagram)
	for {
		if err := b.conn.SetReadDeadline(deadline); err != nil {
			return err
		}
		n, from, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			if IsTimeout(err) {
				return nil
			}
			return err
		}
		each(buf[:n], from)
	}
}

// Close releases the socket
func (b *BroadcastConn) Close() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
