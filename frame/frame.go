// Package frame implements the SMP serial line framing: a length-prefixed,
// CRC-16/XMODEM-protected, base64 payload split across marker-prefixed
// lines. See the header codec in package smp for what the framed payload
// itself contains.
package frame

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/mcumgr-go/smp/internal/crc"
)

// ErrFraming is returned (wrapped) for any malformed frame: a wrong
// marker byte, a base64 decode failure, a length-prefix mismatch, or a
// CRC mismatch. It is always fatal for the transaction it occurs in.
var ErrFraming = errors.New("smp: framing error")

var (
	startMarker        = [2]byte{0x06, 0x09}
	continuationMarker = [2]byte{0x04, 0x14}
)

const (
	lineTerminator  = 0x0A
	tolerantLeadCR  = 0x0D
	markerAndLFCost = 4 // two marker bytes + trailing LF (3), plus one spare byte
)

// Wrap encodes payload (an SMP header concatenated with its CBOR body)
// into the on-wire line-framed byte sequence: a u16 length prefix and
// CRC-16/XMODEM trailer, base64-encoded and split across marker-prefixed,
// LF-terminated lines. lineLength must be at least 16; it bounds every
// output line including its marker and terminator.
func Wrap(payload []byte, lineLength int) ([]byte, error) {
	if lineLength < 16 {
		return nil, fmt.Errorf("smp/frame: line length %d too small", lineLength)
	}
	if len(payload) > 65535-2 {
		return nil, fmt.Errorf("smp/frame: payload of %d bytes too large to frame", len(payload))
	}

	checksum := crc.Checksum(payload)

	framed := make([]byte, 0, 2+len(payload)+2)
	framed = binary.BigEndian.AppendUint16(framed, uint16(len(payload)+2))
	framed = append(framed, payload...)
	framed = binary.BigEndian.AppendUint16(framed, checksum)

	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(framed)))
	base64.StdEncoding.Encode(encoded, framed)

	out := make([]byte, 0, len(encoded)+len(encoded)/(lineLength-markerAndLFCost)*markerAndLFCost+markerAndLFCost)

	sliceWidth := lineLength - markerAndLFCost
	for written := 0; written < len(encoded); {
		if written == 0 {
			out = append(out, startMarker[0], startMarker[1])
		} else {
			out = append(out, continuationMarker[0], continuationMarker[1])
		}

		n := min(sliceWidth, len(encoded)-written)
		out = append(out, encoded[written:written+n]...)
		out = append(out, lineTerminator)
		written += n
	}

	return out, nil
}

// Unwrap consumes a framed byte sequence from r and returns the
// original payload, verifying the length prefix and CRC-16/XMODEM
// trailer. It reads exactly the bytes belonging to one frame; trailing
// bytes on r are left untouched.
func Unwrap(r io.ByteReader) ([]byte, error) {
	var b64 []byte
	var expectedLen int
	first := true

	for {
		if err := expectMarker(r, first); err != nil {
			return nil, err
		}
		first = false

		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		b64 = append(b64, line...)

		// A line boundary may split a 4-character base64 quantum, so only
		// the complete quanta accumulated so far are decoded.
		decoded, err := base64.StdEncoding.DecodeString(string(b64[:len(b64)-len(b64)%4]))
		if err != nil {
			return nil, fmt.Errorf("%w: base64 decode: %v", ErrFraming, err)
		}

		if expectedLen == 0 && len(decoded) >= 2 {
			if l := binary.BigEndian.Uint16(decoded); l > 0 {
				expectedLen = int(l)
			}
		}

		if expectedLen != 0 && len(decoded)-2 >= expectedLen {
			return finish(decoded, expectedLen)
		}
	}
}

func finish(decoded []byte, expectedLen int) ([]byte, error) {
	if len(decoded) < 2 || expectedLen != len(decoded)-2 {
		return nil, fmt.Errorf("%w: length mismatch: header=%d, actual=%d", ErrFraming, expectedLen, len(decoded)-2)
	}

	payload := decoded[2 : len(decoded)-2]
	readChecksum := binary.BigEndian.Uint16(decoded[len(decoded)-2:])
	if want := crc.Checksum(payload); readChecksum != want {
		return nil, fmt.Errorf("%w: crc mismatch: got 0x%04X, want 0x%04X", ErrFraming, readChecksum, want)
	}

	return payload, nil
}

func expectMarker(r io.ByteReader, first bool) error {
	want := continuationMarker
	if first {
		want = startMarker
	}

	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if !first && b == tolerantLeadCR {
		// tolerate a leading CR on continuation lines, then re-read the real marker byte
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
	}
	if b != want[0] {
		return fmt.Errorf("%w: expected marker byte 0x%02X, got 0x%02X", ErrFraming, want[0], b)
	}

	b, err = r.ReadByte()
	if err != nil {
		return err
	}
	if b != want[1] {
		return fmt.Errorf("%w: expected marker byte 0x%02X, got 0x%02X", ErrFraming, want[1], b)
	}

	return nil
}

func readLine(r io.ByteReader) ([]byte, error) {
	var line []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == lineTerminator {
			return line, nil
		}
		line = append(line, b)
	}
}

// FitReduce computes the retry chunk size when a built frame overshoots
// the MTU by excess bytes. It returns the reduced tryLength to retry
// with, or ok=false if the MTU cannot fit any chunk at all (the caller
// should report "MTU too small").
func FitReduce(excess, tryLength int) (reduced int, ok bool) {
	if excess > tryLength {
		return 0, false
	}
	reduced = tryLength - (excess*3/4 + 3)
	if reduced <= 0 {
		return 0, false
	}
	return reduced, true
}
