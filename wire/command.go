package wire

import "fmt"

// Op is the wire operation byte
type Op byte

// wire operation bytes.  Load is distinct from Execute: settings and default
// recall go through the load operation, saves through execute.
const (
	OpExecute Op = 0x00
	OpWrite   Op = 0x01
	OpRead    Op = 0x02
	OpLoad    Op = 0x04
)

func (o Op) String() string {
	switch o {
	case OpExecute:
		return "execute"
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	case OpLoad:
		return "load"
	}
	return fmt.Sprintf("op(%#02x)", byte(o))
}

// Payload describes the operand layout of a register
type Payload int

// payload layouts.  Multi-byte scalars are big-endian on the wire; strings
// are raw bytes whose length comes from the response header.
const (
	PayloadNone Payload = iota
	PayloadU8
	PayloadU16
	PayloadU32
	PayloadString
)

// Size returns the encoded operand size in bytes, or 0 for none/string
func (p Payload) Size() int {
	switch p {
	case PayloadU8:
		return 1
	case PayloadU16:
		return 2
	case PayloadU32:
		return 4
	}
	return 0
}

// Code identifies one operation in the device command set
type Code int

// the command set, per the GCU command list.  Scalar registers support read
// and write; executables and loads carry no operand.
const (
	SaveSettings Code = iota
	LoadSettings
	RestoreDefaults
	GenFrameTrigger

	IntegrationTime
	NonIntegrationTime
	OperationMode
	DMGain
	ChannelConfig
	BaselineValue
	LED
	LineTriggerMode
	LineTriggerEnable
	LineTriggerFineDelay
	LineTriggerRawDelay
	FrameTriggerMode
	FrameTriggerEnable
	FrameTriggerDelay
	TriggerParity
	OutputScale

	PixelNumber
	PixelSize
	GCUFirmware
	GCUSerial
	DMSerial
	GCUInfo

	numCodes
)

// BroadcastDM addresses all detector modules at once.  It is valid for
// writes only; reads of a broadcast index are rejected before hitting the
// wire.
const BroadcastDM = 0xFF

type cmdSpec struct {
	name    string
	opcode  byte
	payload Payload
	perDM   bool // dm byte carries a module index rather than always 0
	read    bool
	write   bool
	exec    Op // nonzero read/write aside: the op byte used by Operate
	hasExec bool
}

// the wire-level table is authoritative; opcode 0x10 is shared by save and
// load settings, which the op byte disambiguates.
var cmdTable = map[Code]cmdSpec{
	SaveSettings:    {name: "save settings", opcode: 0x10, exec: OpExecute, hasExec: true},
	LoadSettings:    {name: "load settings", opcode: 0x10, exec: OpLoad, hasExec: true},
	RestoreDefaults: {name: "restore defaults", opcode: 0x11, exec: OpLoad, hasExec: true},
	GenFrameTrigger: {name: "generate frame trigger", opcode: 0x57, exec: OpExecute, hasExec: true},

	IntegrationTime:      {name: "integration time", opcode: 0x20, payload: PayloadU32, read: true, write: true},
	NonIntegrationTime:   {name: "non-integration time", opcode: 0x21, payload: PayloadU16, read: true, write: true},
	OperationMode:        {name: "operation mode", opcode: 0x22, payload: PayloadU8, read: true, write: true},
	DMGain:               {name: "DM gain", opcode: 0x23, payload: PayloadU16, perDM: true, read: true, write: true},
	ChannelConfig:        {name: "channel config", opcode: 0x25, payload: PayloadU32, read: true, write: true},
	BaselineValue:        {name: "baseline value", opcode: 0x35, payload: PayloadU16, perDM: true, read: true, write: true},
	LED:                  {name: "LED", opcode: 0x75, payload: PayloadU8, read: true, write: true},
	LineTriggerMode:      {name: "line trigger mode", opcode: 0x50, payload: PayloadU8, read: true, write: true},
	LineTriggerEnable:    {name: "line trigger enable", opcode: 0x51, payload: PayloadU8, read: true, write: true},
	LineTriggerFineDelay: {name: "line trigger fine delay", opcode: 0x52, payload: PayloadU16, read: true, write: true},
	LineTriggerRawDelay:  {name: "line trigger raw delay", opcode: 0x53, payload: PayloadU16, read: true, write: true},
	FrameTriggerMode:     {name: "frame trigger mode", opcode: 0x54, payload: PayloadU8, read: true, write: true},
	FrameTriggerEnable:   {name: "frame trigger enable", opcode: 0x55, payload: PayloadU16, read: true, write: true},
	FrameTriggerDelay:    {name: "frame trigger delay", opcode: 0x56, payload: PayloadU32, read: true, write: true},
	TriggerParity:        {name: "trigger parity", opcode: 0x5A, payload: PayloadU8, read: true, write: true},
	OutputScale:          {name: "output scale", opcode: 0x43, payload: PayloadU16, read: true, write: true},

	PixelNumber: {name: "pixel number", opcode: 0x64, payload: PayloadU16, read: true},
	PixelSize:   {name: "pixel size", opcode: 0x65, payload: PayloadU8, read: true},
	GCUFirmware: {name: "GCU firmware", opcode: 0x68, payload: PayloadU16, read: true},
	GCUSerial:   {name: "GCU serial", opcode: 0x62, payload: PayloadString, read: true},
	DMSerial:    {name: "DM serial", opcode: 0x63, payload: PayloadString, perDM: true, read: true},
	GCUInfo:     {name: "GCU info", opcode: 0x72, payload: PayloadString, read: true},
}

func (c Code) lookup() (cmdSpec, error) {
	s, ok := cmdTable[c]
	if !ok {
		return cmdSpec{}, fmt.Errorf("unknown command code %d", int(c))
	}
	return s, nil
}

// String returns the human name of the code
func (c Code) String() string {
	if s, ok := cmdTable[c]; ok {
		return s.name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Opcode returns the wire opcode for the code
func (c Code) Opcode() byte {
	s, _ := c.lookup()
	return s.opcode
}

// PayloadLayout returns the operand layout of the code
func (c Code) PayloadLayout() Payload {
	s, _ := c.lookup()
	return s.payload
}

// PerDM reports whether the dm byte addresses a specific module for this code
func (c Code) PerDM() bool {
	s, _ := c.lookup()
	return s.perDM
}

// Readable reports whether the code supports the read operation
func (c Code) Readable() bool {
	s, _ := c.lookup()
	return s.read
}

// Writable reports whether the code supports the write operation
func (c Code) Writable() bool {
	s, _ := c.lookup()
	return s.write
}

// Executable reports whether the code is an executable/load command and which
// op byte it uses
func (c Code) Executable() (Op, bool) {
	s, _ := c.lookup()
	return s.exec, s.hasExec
}

// Codes returns every known code, ordered; used for table-driven tests and
// documentation output
func Codes() []Code {
	out := make([]Code, 0, int(numCodes))
	for c := Code(0); c < numCodes; c++ {
		if _, ok := cmdTable[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
