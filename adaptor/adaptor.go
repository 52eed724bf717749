/*Package adaptor discovers detectors on a local subnet and reconfigures
their network identity.

Discovery broadcasts a fixed solicitation on the command port and collects
DeviceInfo replies for a bounded window; devices are keyed by MAC so a chatty
device cannot appear twice.  Configure and Restore are MAC-targeted because
they are exactly the operations that change a device's IP; both wait for the
device to reboot and do not reconnect on their own.
*/
package adaptor

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/Odhiambo-20/XImage/detector"
	"github.com/Odhiambo-20/XImage/sink"
	"github.com/Odhiambo-20/XImage/transport"
	"github.com/Odhiambo-20/XImage/wire"
)

// rebootWait is how long a device takes to come back after a network
// reconfiguration.  A variable so tests can compress time.
var rebootWait = 3 * time.Second

var (
	// ErrNotOpen is generated when discovery or configuration is attempted
	// before Open
	ErrNotOpen = errors.New("adaptor: not open")

	// ErrOpen is generated when Bind is called on an open adaptor
	ErrOpen = errors.New("adaptor: cannot rebind while open")
)

// Adaptor owns the broadcast socket and the set of discovered devices
type Adaptor struct {
	mu sync.Mutex

	adapterIP string
	cmdPort   int
	window    time.Duration

	conn  *transport.BroadcastConn
	found []detector.Descriptor
	snk   sink.CmdSink
}

// New returns a closed adaptor targeting the default command port
func New() *Adaptor {
	return &Adaptor{
		cmdPort: detector.DefaultCmdPort,
		window:  transport.DefaultDiscoveryWindow,
	}
}

// SetSink installs the error/event sink
func (a *Adaptor) SetSink(s sink.CmdSink) {
	a.mu.Lock()
	a.snk = s
	a.mu.Unlock()
}

// Bind selects the local adapter the broadcast should leave from.  Illegal
// while open.
func (a *Adaptor) Bind(adapterIP string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		a.report(sink.ErrAdaptorState, "cannot change adapter IP while open")
		return ErrOpen
	}
	if net.ParseIP(adapterIP) == nil {
		a.report(sink.ErrInvalidArgument, fmt.Sprintf("invalid adapter IP %q", adapterIP))
		return fmt.Errorf("adaptor: invalid adapter IP %q", adapterIP)
	}
	a.adapterIP = adapterIP
	return nil
}

// Open binds the broadcast socket on the bound adapter
func (a *Adaptor) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return nil
	}
	if a.adapterIP == "" {
		a.report(sink.ErrInvalidArgument, "adapter IP not set")
		return fmt.Errorf("adaptor: adapter IP not set")
	}
	conn, err := transport.OpenBroadcast(a.adapterIP, a.cmdPort)
	if err != nil {
		a.report(sink.ErrNetworkInit, err.Error())
		return err
	}
	a.conn = conn
	a.found = nil
	log.Printf("[adaptor] open on %s", a.adapterIP)
	return nil
}

// Close releases the socket and forgets discovered devices
func (a *Adaptor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	a.found = nil
	return err
}

// IsOpen reports whether the broadcast socket is bound
func (a *Adaptor) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

// Connect runs one discovery round and returns how many devices answered.
// Running it again replaces the discovered set; the same physical topology
// yields the same set.
func (a *Adaptor) Connect() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		a.report(sink.ErrNotInitialized, "discovery attempted before open")
		return 0, ErrNotOpen
	}

	byMAC := map[[6]byte]detector.Descriptor{}
	var order [][6]byte
	err := a.conn.Discover(wire.DiscoveryRequest(), a.window, func(data []byte, from *net.UDPAddr) {
		info, err := wire.ParseDeviceInfo(data)
		if err != nil {
			// not a device record; other chatter on the port is expected
			return
		}
		if _, seen := byMAC[info.MAC]; !seen {
			order = append(order, info.MAC)
		}
		byMAC[info.MAC] = descriptorFrom(info)
	})
	if err != nil {
		a.report(sink.ErrDiscovery, err.Error())
		return 0, err
	}

	a.found = a.found[:0]
	for _, mac := range order {
		d := byMAC[mac]
		log.Printf("[adaptor] device %d: %s (MAC %s)", len(a.found)+1, d.IP, d.MACString())
		a.found = append(a.found, d)
	}
	a.event(sink.EventDiscoveryCount, float32(len(a.found)))
	return len(a.found), nil
}

// Count returns the size of the discovered set
func (a *Adaptor) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.found)
}

// Get returns a copy of the i-th discovered descriptor
func (a *Adaptor) Get(i int) (detector.Descriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.found) {
		a.report(sink.ErrDiscovery, fmt.Sprintf("device index %d out of range (have %d)", i, len(a.found)))
		return detector.Descriptor{}, fmt.Errorf("adaptor: device index %d out of range", i)
	}
	return a.found[i], nil
}

// Configure rewrites the addressed device's IP and ports.  The target is
// identified by MAC; the device reboots to apply, so the caller must
// rediscover before opening a session against the new address.
func (a *Adaptor) Configure(d detector.Descriptor) error {
	a.mu.Lock()
	if a.conn == nil {
		a.mu.Unlock()
		a.report(sink.ErrNotInitialized, "configure attempted before open")
		return ErrNotOpen
	}
	if err := d.Validate(true); err != nil {
		a.mu.Unlock()
		a.report(sink.ErrInvalidArgument, err.Error())
		return err
	}
	pkt, err := wire.ConfigureRequest(d.MAC, d.IP, d.CmdPort, d.ImgPort)
	if err != nil {
		a.mu.Unlock()
		a.report(sink.ErrInvalidArgument, err.Error())
		return err
	}
	err = a.conn.Send(pkt)
	a.mu.Unlock()
	if err != nil {
		a.report(sink.ErrConfigure, err.Error())
		return err
	}
	log.Printf("[adaptor] configured %s -> %s:%d/%d, waiting for reboot", d.MACString(), d.IP, d.CmdPort, d.ImgPort)
	time.Sleep(rebootWait)
	return nil
}

// Restore resets every discovered device to factory network defaults
// (192.168.1.2, ports 3000/4001), then waits out the reboot
func (a *Adaptor) Restore() error {
	a.mu.Lock()
	if a.conn == nil {
		a.mu.Unlock()
		a.report(sink.ErrNotInitialized, "restore attempted before open")
		return ErrNotOpen
	}
	if len(a.found) == 0 {
		a.mu.Unlock()
		a.report(sink.ErrDiscovery, "no devices discovered to restore")
		return fmt.Errorf("adaptor: no devices discovered")
	}
	devices := append([]detector.Descriptor{}, a.found...)
	conn := a.conn
	a.mu.Unlock()

	for _, d := range devices {
		if err := conn.Send(wire.ResetRequest(d.MAC)); err != nil {
			a.report(sink.ErrConfigure, fmt.Sprintf("restore %s: %v", d.MACString(), err))
			return err
		}
		log.Printf("[adaptor] restored %s to factory defaults", d.MACString())
	}
	time.Sleep(rebootWait)
	return nil
}

func descriptorFrom(info wire.DeviceInfo) detector.Descriptor {
	d := detector.Descriptor{
		IP:              info.IP,
		MAC:             info.MAC,
		CmdPort:         info.CmdPort,
		ImgPort:         info.ImgPort,
		SerialNumber:    info.SerialNumber,
		PixelCount:      info.PixelCount,
		ModuleCount:     info.ModuleCount,
		CardType:        info.CardType,
		FirmwareVersion: info.FirmwareVersion,
		PixelDepth:      detector.DefaultPixelDepth,
	}
	return d
}

func (a *Adaptor) report(id uint32, msg string) {
	log.Printf("[adaptor] error %d: %s", id, msg)
	if s := a.snk; s != nil {
		s.OnError(id, msg)
	}
}

func (a *Adaptor) event(id uint32, data float32) {
	if s := a.snk; s != nil {
		s.OnEvent(id, data)
	}
}
