package smp

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mcumgr-go/smp/frame"
	"github.com/mcumgr-go/smp/transport"
)

// ProgressFunc is invoked after each accepted upload chunk with the bytes
// confirmed so far and the total image size.
type ProgressFunc func(done, total uint32)

// uploadSession tracks the transient state of one Upload call: the
// target slot, the full image's size and SHA-256, and the engine's
// running offset/chunk-size/accounting.
type uploadSession struct {
	data      []byte
	sha       [sha256.Size]byte
	slot      uint32
	off       uint32
	sent      uint32
	confirmed uint32
	tryLength int
}

// Upload reads the file at path into memory and transfers it to slot in
// chunks. A filename containing "slot1" or "slot3" (case-insensitive)
// overrides slot, a convenience for callers that name images by their
// target slot. progress may be nil.
func (c *Client) Upload(ctx context.Context, path string, slot uint32, progress ProgressFunc) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read firmware file: %w", err)
	}

	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "slot1"):
		slot = 1
	case strings.Contains(lower, "slot3"):
		slot = 3
	}

	s := &uploadSession{
		data:      data,
		sha:       sha256.Sum256(data),
		slot:      slot,
		tryLength: c.specs.MTU,
	}

	for s.off < uint32(len(s.data)) {
		if err := c.uploadChunk(ctx, s, progress); err != nil {
			return err
		}
	}

	if s.confirmed != s.sent {
		lossPct := 100 - s.confirmed*100/s.sent
		slog.Warn("upload packet loss", "percent", lossPct, "sent", s.sent, "confirmed", s.confirmed)
	}

	return nil
}

// uploadChunk sends one image-offset worth of data, retrying on timeout
// up to NbRetry times and fitting try_length to the configured MTU.
func (c *Client) uploadChunk(ctx context.Context, s *uploadSession, progress ProgressFunc) error {
	retries := c.specs.NbRetry
	offStart := s.off
	s.tryLength = c.specs.MTU
	seq := nextSeq()

	for {
		wire, reqHdr, err := c.fitChunk(s, seq)
		if err != nil {
			return err
		}

		s.sent++
		respHdr, respBody, err := c.transceive(ctx, wire)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				if retries == 0 {
					return err
				}
				retries--
				continue
			}
			return err
		}

		if err := checkAnswer(reqHdr, respHdr); err != nil {
			return err
		}

		if err := checkRc(respBody); err != nil {
			return err
		}

		var rsp ImageUploadRsp
		if err := cbor.Unmarshal(respBody, &rsp); err != nil {
			return fmt.Errorf("decode upload response: %w", err)
		}

		s.off = rsp.Off
		s.confirmed++

		if progress != nil {
			progress(s.off, uint32(len(s.data)))
		}

		if s.off == offStart {
			return fmt.Errorf("%w: wrong offset received", ErrProtocol)
		}

		if offStart == 0 {
			if err := c.transport.SetReadTimeout(time.Duration(c.specs.SubsequentTimeoutMS) * time.Millisecond); err != nil {
				return fmt.Errorf("lower read timeout: %w", err)
			}
		}

		return nil
	}
}

// fitChunk builds the upload request for the current offset, shrinking
// tryLength until the framed request fits the configured MTU.
func (c *Client) fitChunk(s *uploadSession, seq uint8) ([]byte, Header, error) {
	for {
		tryLength := s.tryLength
		if int(s.off)+tryLength > len(s.data) {
			tryLength = len(s.data) - int(s.off)
		}

		req := ImageUploadReq{
			Image: uint8(s.slot),
			Off:   s.off,
			Data:  s.data[int(s.off) : int(s.off)+tryLength],
		}
		if s.off == 0 {
			req.Len = uint32(len(s.data))
			req.SHA = s.sha[:]
		}

		body, err := cbor.Marshal(req)
		if err != nil {
			return nil, Header{}, fmt.Errorf("encode upload request: %w", err)
		}

		wire, hdr, err := c.buildRequest(OpWrite, GroupImage, CmdImageUpload, body, seq)
		if err != nil {
			return nil, Header{}, err
		}

		if len(wire) > c.specs.MTU {
			excess := len(wire) - c.specs.MTU
			reduced, ok := frame.FitReduce(excess, tryLength)
			if !ok {
				return nil, Header{}, ErrMTUTooSmall
			}
			s.tryLength = reduced
			continue
		}

		return wire, hdr, nil
	}
}
