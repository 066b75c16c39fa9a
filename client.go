// Package smp implements a host-side client for the Simple Management
// Protocol used by MCUboot-based embedded devices: header and CBOR body
// codecs, the line-framed serial transport contract, and the
// request/response engine (including the image-upload state machine)
// built on top of it.
package smp

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/mcumgr-go/smp/frame"
	"github.com/mcumgr-go/smp/transport"
)

// SerialSpecs configures one set of transactions. It is constructed once
// from caller input and is immutable for the lifetime of a Client.
type SerialSpecs struct {
	Device              string
	InitialTimeoutS     uint32
	SubsequentTimeoutMS uint32
	NbRetry             uint32
	LineLength          int
	MTU                 int
	Baudrate            uint32
}

// Client drives SMP transactions over a Transport.
type Client struct {
	transport transport.Transport
	specs     SerialSpecs
}

// NewClient returns a Client that issues requests over t using specs for
// line length, MTU, and retry/timeout behaviour.
func NewClient(t transport.Transport, specs SerialSpecs) *Client {
	return &Client{transport: t, specs: specs}
}

// buildRequest composes a request frame: header (with Len set to the
// exact body length) concatenated with body, passed through the frame
// codec at the client's configured line length. It returns both the
// on-wire bytes and the header that was sent.
func (c *Client) buildRequest(op Op, group Group, id uint8, body []byte, seq uint8) ([]byte, Header, error) {
	hdr := Header{
		Op:    op,
		Flags: 0,
		Len:   uint16(len(body)),
		Group: group,
		Seq:   seq,
		Id:    id,
	}

	raw := hdr.Marshal()
	payload := append(raw[:], body...)

	wire, err := frame.Wrap(payload, c.specs.LineLength)
	if err != nil {
		return nil, Header{}, err
	}

	return wire, hdr, nil
}

// checkAnswer validates a response header against the request it
// answers: sequence echo, and Read/Write -> ReadRsp/WriteRsp pairing
// within the same group.
func checkAnswer(req, resp Header) error {
	if resp.Seq != req.Seq {
		return fmt.Errorf("%w: wrong sequence number: got %d, want %d", ErrProtocol, resp.Seq, req.Seq)
	}

	var wantOp Op
	switch req.Op {
	case OpRead:
		wantOp = OpReadRsp
	case OpWrite:
		wantOp = OpWriteRsp
	default:
		return fmt.Errorf("%w: request op %d cannot be answered", ErrProtocol, req.Op)
	}

	if resp.Op != wantOp || resp.Group != req.Group {
		return fmt.Errorf("%w: wrong response type: op=%d group=%d", ErrProtocol, resp.Op, resp.Group)
	}

	return nil
}

// transceive performs one round trip: drain stale input, write the
// framed request, unwrap the framed response, parse its header, and
// leave the CBOR body undecoded for the caller.
func (c *Client) transceive(ctx context.Context, wire []byte) (Header, []byte, error) {
	if err := ctx.Err(); err != nil {
		return Header{}, nil, err
	}

	if err := transport.Drain(c.transport); err != nil {
		return Header{}, nil, fmt.Errorf("drain input: %w", err)
	}

	if err := c.transport.WriteAll(wire); err != nil {
		return Header{}, nil, fmt.Errorf("write request: %w", err)
	}

	payload, err := frame.Unwrap(c.transport)
	if err != nil {
		return Header{}, nil, err
	}

	hdr, err := UnmarshalHeader(payload)
	if err != nil {
		return Header{}, nil, err
	}

	return hdr, payload[8:], nil
}

// checkRc decodes body looking for an "rc" key; a non-zero value is a
// device-reported failure carrying that value verbatim.
func checkRc(body []byte) error {
	var rc rcBody
	if err := cbor.Unmarshal(body, &rc); err != nil {
		// Not every response body is a map with an rc key (e.g. reset may
		// answer with an empty body); absence of rc is not an error.
		return nil
	}
	if rc.Rc != nil && *rc.Rc != 0 {
		return &DeviceError{Rc: *rc.Rc}
	}
	return nil
}

// roundTrip composes, sends, and validates one transaction: build the
// request, transceive it, check the response header, then check rc.
func (c *Client) roundTrip(ctx context.Context, op Op, group Group, id uint8, body []byte) (Header, []byte, error) {
	seq := nextSeq()

	wire, reqHdr, err := c.buildRequest(op, group, id, body, seq)
	if err != nil {
		return Header{}, nil, err
	}

	respHdr, respBody, err := c.transceive(ctx, wire)
	if err != nil {
		return Header{}, nil, err
	}

	if err := checkAnswer(reqHdr, respHdr); err != nil {
		return Header{}, nil, err
	}

	if err := checkRc(respBody); err != nil {
		return Header{}, nil, err
	}

	return respHdr, respBody, nil
}
