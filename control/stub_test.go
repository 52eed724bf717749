package control

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"

	"github.com/Odhiambo-20/XImage/wire"
)

// deviceStub is an in-memory GCU that answers the command protocol on a
// loopback UDP socket
type deviceStub struct {
	conn *net.UDPConn

	mu        sync.Mutex
	registers map[byte]uint64
	strings   map[byte]string
	health    []byte

	// corruptNext XORs the last byte of the next response with 0xFF
	corruptNext bool
	// failNext makes the next response carry a device error code
	failNext byte
	// dropAll silences the stub entirely, simulating loss of contact
	dropAll bool

	requests [][]byte
}

func newDeviceStub(t *testing.T) *deviceStub {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal("could not bind device stub:", err)
	}
	t.Cleanup(func() { conn.Close() })
	d := &deviceStub{
		conn:      conn,
		registers: map[byte]uint64{},
		strings: map[byte]string{
			wire.GCUSerial.Opcode(): "GCU-STUB-1",
			wire.DMSerial.Opcode():  "DM-STUB-1",
		},
		// 23.5 C and 41.2 %RH, tenths, little-endian
		health: []byte{0xEB, 0x00, 0x9C, 0x01},
	}
	d.registers[wire.GCUFirmware.Opcode()] = 0x0102
	go d.serve()
	return d
}

func (d *deviceStub) addr() *net.UDPAddr {
	return d.conn.LocalAddr().(*net.UDPAddr)
}

func (d *deviceStub) serve() {
	buf := make([]byte, 2048)
	for {
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		pkt := wire.StripSentinel(append([]byte{}, buf[:n]...))
		if len(pkt) < 6 || !wire.VerifyCrc(pkt) {
			continue
		}
		d.mu.Lock()
		d.requests = append(d.requests, pkt)
		if d.dropAll {
			d.mu.Unlock()
			continue
		}
		resp := d.respond(pkt)
		if d.corruptNext {
			resp[len(resp)-1] ^= 0xFF
			d.corruptNext = false
		}
		d.mu.Unlock()
		d.conn.WriteToUDP(resp, from)
	}
}

// respond is called with d.mu held
func (d *deviceStub) respond(pkt []byte) []byte {
	opcode, op := pkt[0], wire.Op(pkt[1])
	if d.failNext != 0 {
		code := d.failNext
		d.failNext = 0
		return wire.EncodeResponse(opcode, op, code, nil)
	}
	switch op {
	case wire.OpWrite:
		dataLen := int(pkt[3])
		var v uint64
		for _, b := range pkt[4 : 4+dataLen] {
			v = v<<8 | uint64(b)
		}
		d.registers[opcode] = v
		return wire.EncodeResponse(opcode, op, 0, pkt[4:4+dataLen])
	case wire.OpRead:
		if opcode == wire.GCUInfo.Opcode() {
			return wire.EncodeResponse(opcode, op, 0, d.health)
		}
		if s, ok := d.strings[opcode]; ok {
			return wire.EncodeResponse(opcode, op, 0, []byte(s))
		}
		v := d.registers[opcode]
		data := scalarBytes(opcode, v)
		return wire.EncodeResponse(opcode, op, 0, data)
	case wire.OpExecute, wire.OpLoad:
		return wire.EncodeResponse(opcode, op, 0, nil)
	}
	return wire.EncodeResponse(opcode, op, 1, nil)
}

func scalarBytes(opcode byte, v uint64) []byte {
	for _, code := range wire.Codes() {
		if code.Opcode() != opcode {
			continue
		}
		switch code.PayloadLayout() {
		case wire.PayloadU8:
			return []byte{byte(v)}
		case wire.PayloadU16:
			return binary.BigEndian.AppendUint16(nil, uint16(v))
		case wire.PayloadU32:
			return binary.BigEndian.AppendUint32(nil, uint32(v))
		}
	}
	return nil
}

func (d *deviceStub) lastRequest() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requests) == 0 {
		return nil
	}
	return d.requests[len(d.requests)-1]
}

func (d *deviceStub) setCorruptNext() {
	d.mu.Lock()
	d.corruptNext = true
	d.mu.Unlock()
}

func (d *deviceStub) setFailNext(code byte) {
	d.mu.Lock()
	d.failNext = code
	d.mu.Unlock()
}

func (d *deviceStub) setDropAll(drop bool) {
	d.mu.Lock()
	d.dropAll = drop
	d.mu.Unlock()
}
