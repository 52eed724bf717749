package wire

import "testing"

func TestCrcRoundTrip(t *testing.T) {
	seqs := [][]byte{
		{},
		{0x00},
		{0xFF},
		{0x20, 0x01, 0x00, 0x04, 0x00, 0x00, 0x30, 0x39},
		{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
	}
	for _, s := range seqs {
		withCrc := AppendCrc(append([]byte{}, s...))
		if !VerifyCrc(withCrc) && len(s) > 0 {
			t.Errorf("verify(append(s, crc16(s))) failed for % X", s)
		}
	}
}

func TestCrcDetectsSingleBitFlips(t *testing.T) {
	msg := AppendCrc([]byte{0x20, 0x01, 0x00, 0x04, 0x00, 0x00, 0x30, 0x39})
	for i := 0; i < len(msg); i++ {
		for bit := uint(0); bit < 8; bit++ {
			flipped := append([]byte{}, msg...)
			flipped[i] ^= 1 << bit
			if VerifyCrc(flipped) {
				t.Fatalf("1-bit flip at byte %d bit %d went undetected", i, bit)
			}
		}
	}
}

func TestCrcKnownVector(t *testing.T) {
	// the reflected 0xA001 variant with init 0xFFFF is the MODBUS checksum;
	// "123456789" is the standard check input
	got := Crc16([]byte("123456789"))
	if got != 0x4B37 {
		t.Errorf("crc16 check value: got %#04x want 0x4b37", got)
	}
}
