package wire

import "github.com/snksoft/crc"

// the GCU uses the reflected 0xA001 CRC16 (polynomial 0x8005), init 0xFFFF,
// no final xor.  This is not one of the stock parameter sets, so it is
// spelled out here.
var crcTable = crc.NewTable(&crc.Parameters{
	Width:      16,
	Polynomial: 0x8005,
	ReflectIn:  true,
	ReflectOut: true,
	Init:       0xFFFF,
	FinalXor:   0x0000,
})

// Crc16 computes the device checksum over b
func Crc16(b []byte) uint16 {
	return uint16(crcTable.CalculateCRC(b))
}

// AppendCrc appends the checksum of b to b, least significant byte first,
// and returns the extended slice
func AppendCrc(b []byte) []byte {
	c := Crc16(b)
	return append(b, byte(c), byte(c>>8))
}

// VerifyCrc checks that the trailing two bytes of b are the checksum of the
// rest.  Buffers shorter than three bytes never verify.
func VerifyCrc(b []byte) bool {
	if len(b) < 3 {
		return false
	}
	n := len(b) - 2
	want := uint16(b[n]) | uint16(b[n+1])<<8
	return Crc16(b[:n]) == want
}
