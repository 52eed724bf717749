package wire

import "encoding/binary"

// ImageHeaderSize is the byte length of the optional per-line header
const ImageHeaderSize = 24

// energy flag values in the image header
const (
	EnergyLow  = 0
	EnergyHigh = 1
)

// ImageHeader is the optional per-line header on image packets.  All fields
// are little-endian; the checksum covers the header bytes ahead of it.
type ImageHeader struct {
	PacketID    uint32
	LineID      uint16
	TimestampUS uint32
	EnergyFlag  uint8
	ModuleID    uint8
	DataLen     uint16
}

// ParseImageHeader decodes and checks the line header at the front of pkt.
// The payload follows at pkt[ImageHeaderSize:].
func ParseImageHeader(pkt []byte) (ImageHeader, error) {
	if len(pkt) < ImageHeaderSize {
		return ImageHeader{}, &Error{Kind: ErrKindShort}
	}
	want := binary.LittleEndian.Uint16(pkt[14:16])
	if Crc16(pkt[:14]) != want {
		return ImageHeader{}, &Error{Kind: ErrKindCrc}
	}
	return ImageHeader{
		PacketID:    binary.LittleEndian.Uint32(pkt[0:4]),
		LineID:      binary.LittleEndian.Uint16(pkt[4:6]),
		TimestampUS: binary.LittleEndian.Uint32(pkt[6:10]),
		EnergyFlag:  pkt[10],
		ModuleID:    pkt[11],
		DataLen:     binary.LittleEndian.Uint16(pkt[12:14]),
	}, nil
}

// EncodeImageHeader renders h to its 24-byte wire form, checksum included.
// Exported for device stubs and replay tools.
func EncodeImageHeader(h ImageHeader) []byte {
	buf := make([]byte, ImageHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.PacketID)
	binary.LittleEndian.PutUint16(buf[4:6], h.LineID)
	binary.LittleEndian.PutUint32(buf[6:10], h.TimestampUS)
	buf[10] = h.EnergyFlag
	buf[11] = h.ModuleID
	binary.LittleEndian.PutUint16(buf[12:14], h.DataLen)
	binary.LittleEndian.PutUint16(buf[14:16], Crc16(buf[:14]))
	// bytes 16..23 reserved, zero
	return buf
}
