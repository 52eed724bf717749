package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// opcodes on the maintenance plane.  These never appear in the register
// command set; they are answered by the GCU's bootstrap listener.
const (
	opDiscover     = 0x74
	opConfigureNet = 0x76
	opResetNet     = 0x77
)

// DeviceInfoSize is the wire size of a discovery response record
const DeviceInfoSize = 146

// DeviceInfo is the record a GCU returns in answer to a discovery broadcast
type DeviceInfo struct {
	MAC             [6]byte
	IP              string
	CmdPort         uint16
	ImgPort         uint16
	SerialNumber    string
	PixelCount      uint32
	ModuleCount     uint8
	CardType        uint8
	FirmwareVersion uint16
}

// DiscoveryRequest returns the fixed broadcast payload that solicits
// DeviceInfo records.  It is addressed to all modules so unconfigured
// devices answer too.
func DiscoveryRequest() []byte {
	buf := []byte{opDiscover, byte(OpRead), BroadcastDM, 0}
	return AppendCrc(buf)
}

// ParseDeviceInfo decodes a discovery response record.  The trailing
// reserved block is ignored; the embedded checksum covers everything ahead
// of it.
func ParseDeviceInfo(buf []byte) (DeviceInfo, error) {
	if len(buf) < DeviceInfoSize {
		return DeviceInfo{}, &Error{Kind: ErrKindShort}
	}
	want := binary.LittleEndian.Uint16(buf[82:84])
	if Crc16(buf[:82]) != want {
		return DeviceInfo{}, &Error{Kind: ErrKindCrc}
	}
	var d DeviceInfo
	copy(d.MAC[:], buf[0:6])
	d.IP = cstr(buf[6:38])
	d.CmdPort = binary.LittleEndian.Uint16(buf[38:40])
	d.ImgPort = binary.LittleEndian.Uint16(buf[40:42])
	d.SerialNumber = cstr(buf[42:74])
	d.PixelCount = binary.LittleEndian.Uint32(buf[74:78])
	d.ModuleCount = buf[78]
	d.CardType = buf[79]
	d.FirmwareVersion = binary.LittleEndian.Uint16(buf[80:82])
	return d, nil
}

// EncodeDeviceInfo renders d to its wire form.  Exported for device stubs.
func EncodeDeviceInfo(d DeviceInfo) []byte {
	buf := make([]byte, DeviceInfoSize)
	copy(buf[0:6], d.MAC[:])
	copy(buf[6:38], d.IP)
	binary.LittleEndian.PutUint16(buf[38:40], d.CmdPort)
	binary.LittleEndian.PutUint16(buf[40:42], d.ImgPort)
	copy(buf[42:74], d.SerialNumber)
	binary.LittleEndian.PutUint32(buf[74:78], d.PixelCount)
	buf[78] = d.ModuleCount
	buf[79] = d.CardType
	binary.LittleEndian.PutUint16(buf[80:82], d.FirmwareVersion)
	binary.LittleEndian.PutUint16(buf[82:84], Crc16(buf[:82]))
	return buf
}

// ConfigureRequest builds the MAC-targeted packet that rewrites a device's
// IP and ports.  The device applies it and reboots.
func ConfigureRequest(mac [6]byte, ip string, cmdPort, imgPort uint16) ([]byte, error) {
	ip4 := net.ParseIP(ip).To4()
	if ip4 == nil {
		return nil, fmt.Errorf("configure: %q is not an IPv4 address", ip)
	}
	buf := []byte{opConfigureNet, byte(OpWrite), 0, 14}
	buf = append(buf, mac[:]...)
	buf = append(buf, ip4...)
	buf = binary.BigEndian.AppendUint16(buf, cmdPort)
	buf = binary.BigEndian.AppendUint16(buf, imgPort)
	return AppendCrc(buf), nil
}

// ResetRequest builds the MAC-targeted packet that restores a device to
// factory network defaults
func ResetRequest(mac [6]byte) []byte {
	buf := []byte{opResetNet, byte(OpWrite), 0, 6}
	buf = append(buf, mac[:]...)
	return AppendCrc(buf)
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
