package smp

import (
	"encoding/binary"
	"fmt"
)

// Op is an SMP operation code.
type Op uint8

const (
	OpRead Op = iota
	OpReadRsp
	OpWrite
	OpWriteRsp
)

// Group is an SMP command group.
type Group uint16

const (
	GroupDefault Group = 0
	GroupImage   Group = 1
	GroupStat    Group = 2
	GroupConfig  Group = 3
	GroupLog     Group = 4
	GroupCrash   Group = 5
	GroupSplit   Group = 6
	GroupRun     Group = 7
	GroupFs      Group = 8
	GroupShell   Group = 9
	GroupPerUser Group = 64
)

func (g Group) known() bool {
	switch g {
	case GroupDefault, GroupImage, GroupStat, GroupConfig, GroupLog,
		GroupCrash, GroupSplit, GroupRun, GroupFs, GroupShell, GroupPerUser:
		return true
	default:
		return false
	}
}

// Default-group command ids.
const (
	CmdEcho  uint8 = 0
	CmdReset uint8 = 5
)

// Image-group command ids.
const (
	CmdImageState  uint8 = 0
	CmdImageUpload uint8 = 1
	CmdImageErase  uint8 = 5
)

// Header is the fixed 8-byte SMP header, big-endian on the wire.
type Header struct {
	Op    Op
	Flags uint8
	Len   uint16
	Group Group
	Seq   uint8
	Id    uint8
}

// Marshal serialises h into the fixed 8-byte wire header: Op, Flags, Len
// (big-endian u16), Group (big-endian u16), Seq, Id.
func (h Header) Marshal() [8]byte {
	var b [8]byte
	b[0] = uint8(h.Op)
	b[1] = h.Flags
	binary.BigEndian.PutUint16(b[2:4], h.Len)
	binary.BigEndian.PutUint16(b[4:6], uint16(h.Group))
	b[6] = h.Seq
	b[7] = h.Id
	return b
}

// UnmarshalHeader parses the first 8 bytes of b as an SMP header. An
// unknown Group value is a fatal decode error for the transaction.
func UnmarshalHeader(b []byte) (Header, error) {
	if len(b) < 8 {
		return Header{}, fmt.Errorf("%w: header needs 8 bytes, got %d", ErrProtocol, len(b))
	}

	h := Header{
		Op:    Op(b[0]),
		Flags: b[1],
		Len:   binary.BigEndian.Uint16(b[2:4]),
		Group: Group(binary.BigEndian.Uint16(b[4:6])),
		Seq:   b[6],
		Id:    b[7],
	}

	if h.Op > OpWriteRsp {
		return Header{}, fmt.Errorf("%w: unknown op %d", ErrProtocol, h.Op)
	}
	if !h.Group.known() {
		return Header{}, fmt.Errorf("%w: unknown group %d", ErrProtocol, h.Group)
	}

	return h, nil
}
