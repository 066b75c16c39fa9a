package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mcumgr-go/smp/frame"
)

// header mirrors the 8-byte SMP header fields this package needs to
// inspect without importing package smp (which imports transport),
// avoiding an import cycle.
type header struct {
	Op    byte
	Flags byte
	Len   uint16
	Group uint16
	Seq   byte
	Id    byte
}

func decodeHeader(b []byte) header {
	return header{
		Op:    b[0],
		Flags: b[1],
		Len:   binary.BigEndian.Uint16(b[2:4]),
		Group: binary.BigEndian.Uint16(b[4:6]),
		Seq:   b[6],
		Id:    b[7],
	}
}

func encodeHeader(h header) []byte {
	b := make([]byte, 8)
	b[0] = h.Op
	b[1] = h.Flags
	binary.BigEndian.PutUint16(b[2:4], h.Len)
	binary.BigEndian.PutUint16(b[4:6], h.Group)
	b[6] = h.Seq
	b[7] = h.Id
	return b
}

const (
	opRead     = 0
	opReadRsp  = 1
	opWriteRsp = 3

	groupDefault = 0
	groupImage   = 1

	cmdReset       = 5
	cmdImageState  = 0
	cmdImageUpload = 1
	cmdImageErase  = 5
)

// TestTransport is the in-memory SMP device emulator selected by the
// pseudo-device name "test". It answers List, Upload, Erase, Reset, and
// Test/Confirm requests by reproducing exact on-wire framing, so an
// end-to-end test exercises both the frame and header codecs.
type TestTransport struct {
	out       bytes.Buffer // bytes queued for the client to read
	images    []imageEntry
	totalLen  uint32
	lineWidth int
}

type imageEntry struct {
	Image     uint32 `cbor:"image"`
	Slot      uint32 `cbor:"slot"`
	Version   string `cbor:"version"`
	Hash      []byte `cbor:"hash"`
	Bootable  bool   `cbor:"bootable"`
	Pending   bool   `cbor:"pending"`
	Confirmed bool   `cbor:"confirmed"`
	Active    bool   `cbor:"active"`
	Permanent bool   `cbor:"permanent"`
}

var _ Transport = (*TestTransport)(nil)

// NewTestTransport returns a freshly seeded emulator with one canned
// image entry in slot 0.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		lineWidth: 4096,
		images: []imageEntry{{
			Image:   1,
			Slot:    0,
			Version: "1.0.0",
			Hash:    bytes.Repeat([]byte{0}, 32),
			Active:  true,
		}},
	}
}

// BytesAvailable implements Transport.
func (t *TestTransport) BytesAvailable() (uint32, error) {
	return uint32(t.out.Len()), nil
}

// ReadByte implements Transport.
func (t *TestTransport) ReadByte() (byte, error) {
	b, err := t.out.ReadByte()
	if err != nil {
		return 0, ErrTimeout
	}
	return b, nil
}

// SetReadTimeout implements Transport; the emulator never blocks, so this
// is a no-op kept only to satisfy the interface.
func (t *TestTransport) SetReadTimeout(time.Duration) error { return nil }

// WriteAll implements Transport: the device receives one complete framed
// request per call (the transceiver always writes a whole frame in one
// write) and queues the framed response for subsequent reads.
func (t *TestTransport) WriteAll(p []byte) error {
	payload, err := frame.Unwrap(bytes.NewReader(p))
	if err != nil {
		return fmt.Errorf("test transport: decode request: %w", err)
	}

	hdr := decodeHeader(payload[:8])
	body := payload[8:]

	respHdr, respBody, err := t.handle(hdr, body)
	if err != nil {
		return fmt.Errorf("test transport: handle request: %w", err)
	}

	respHdr.Len = uint16(len(respBody))
	framed, err := frame.Wrap(append(encodeHeader(respHdr), respBody...), t.lineWidth)
	if err != nil {
		return fmt.Errorf("test transport: encode response: %w", err)
	}

	t.out.Write(framed)
	return nil
}

func (t *TestTransport) handle(hdr header, body []byte) (header, []byte, error) {
	switch {
	case hdr.Group == groupDefault && hdr.Id == cmdReset:
		return t.reply(hdr, opWriteRsp, map[string]any{"rc": 0})

	case hdr.Group == groupImage && hdr.Id == cmdImageState && hdr.Op == opRead:
		resp := map[string]any{"images": t.images}
		return t.reply(hdr, opReadRsp, resp)

	case hdr.Group == groupImage && hdr.Id == cmdImageState:
		// test/confirm
		return t.reply(hdr, opWriteRsp, map[string]any{"rc": 0})

	case hdr.Group == groupImage && hdr.Id == cmdImageErase:
		return t.reply(hdr, opWriteRsp, map[string]any{"rc": 0})

	case hdr.Group == groupImage && hdr.Id == cmdImageUpload:
		return t.handleUpload(hdr, body)

	default:
		return header{}, nil, fmt.Errorf("unhandled group=%d id=%d", hdr.Group, hdr.Id)
	}
}

func (t *TestTransport) reply(req header, op byte, body map[string]any) (header, []byte, error) {
	encoded, err := cbor.Marshal(body)
	if err != nil {
		return header{}, nil, err
	}
	return header{Op: op, Group: req.Group, Seq: req.Seq, Id: req.Id}, encoded, nil
}

func (t *TestTransport) handleUpload(req header, body []byte) (header, []byte, error) {
	var upload struct {
		Off  uint32  `cbor:"off"`
		Len  *uint32 `cbor:"len,omitempty"`
		Data []byte  `cbor:"data"`
	}
	if err := cbor.Unmarshal(body, &upload); err != nil {
		return header{}, nil, fmt.Errorf("decode upload request: %w", err)
	}

	if upload.Off == 0 && upload.Len != nil {
		t.totalLen = *upload.Len
	}

	newOff := upload.Off + uint32(len(upload.Data))
	if newOff > t.totalLen {
		newOff = t.totalLen
	}

	return t.reply(req, opWriteRsp, map[string]any{"rc": 0, "off": newOff})
}
