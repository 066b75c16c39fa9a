package smp

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mcumgr-go/smp/frame"
	"github.com/mcumgr-go/smp/transport"
)

func testClient(tr transport.Transport) *Client {
	return NewClient(tr, SerialSpecs{
		InitialTimeoutS:     1,
		SubsequentTimeoutMS: 50,
		NbRetry:             2,
		LineLength:          128,
		MTU:                 512,
	})
}

func TestListReturnsSeededImage(t *testing.T) {
	c := testClient(transport.NewTestTransport())

	state, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %s", err)
	}
	if len(state.Images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(state.Images))
	}
	if !state.Images[0].Active {
		t.Fatalf("expected seeded image to be active")
	}
}

func TestResetSucceeds(t *testing.T) {
	c := testClient(transport.NewTestTransport())
	if err := c.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %s", err)
	}
}

func TestResetFailsWhenDeviceReportsRc(t *testing.T) {
	tr := newFakeDeviceTransport(2)
	c := testClient(tr)

	err := c.Reset(context.Background())
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("expected a DeviceError, got %v (%T)", err, err)
	}
	if devErr.Rc != 2 {
		t.Fatalf("Rc = %d, want 2", devErr.Rc)
	}
}

func TestTestWithConfirmSucceeds(t *testing.T) {
	c := testClient(transport.NewTestTransport())
	confirm := true
	hash := bytes.Repeat([]byte{0xAB}, 32)

	if err := c.Test(context.Background(), hash, &confirm); err != nil {
		t.Fatalf("Test: %s", err)
	}
}

func TestEraseAcceptsNilSlot(t *testing.T) {
	c := testClient(transport.NewTestTransport())
	if err := c.Erase(context.Background(), nil); err != nil {
		t.Fatalf("Erase: %s", err)
	}
}

func TestTransceiveFailsOnCorruptedFrame(t *testing.T) {
	tr := newFakeDeviceTransport(0)
	tr.corrupt = true
	c := testClient(tr)

	_, err := c.List(context.Background())
	if err == nil {
		t.Fatalf("expected an error from a corrupted response frame")
	}
}

// fakeDeviceTransport answers every request with a fixed rc, optionally
// corrupting the framed bytes it queues for reading back (one bit of a
// base64 character in the first line) so frame.Unwrap rejects them.
type fakeDeviceTransport struct {
	rc      int64
	corrupt bool
	out     bytes.Buffer
}

func newFakeDeviceTransport(rc int64) *fakeDeviceTransport {
	return &fakeDeviceTransport{rc: rc}
}

var _ transport.Transport = (*fakeDeviceTransport)(nil)

func (f *fakeDeviceTransport) WriteAll(p []byte) error {
	payload, err := frame.Unwrap(bytes.NewReader(p))
	if err != nil {
		return err
	}
	reqHdr, err := UnmarshalHeader(payload)
	if err != nil {
		return err
	}

	wantOp := OpWriteRsp
	if reqHdr.Op == OpRead {
		wantOp = OpReadRsp
	}
	respHdr := Header{Op: wantOp, Group: reqHdr.Group, Seq: reqHdr.Seq, Id: reqHdr.Id}

	body, err := cbor.Marshal(map[string]any{"rc": f.rc})
	if err != nil {
		return err
	}
	respHdr.Len = uint16(len(body))

	raw := respHdr.Marshal()
	framed, err := frame.Wrap(append(raw[:], body...), 128)
	if err != nil {
		return err
	}

	if f.corrupt && len(framed) > 10 {
		framed[10] ^= 0x01
	}

	f.out.Write(framed)
	return nil
}

func (f *fakeDeviceTransport) ReadByte() (byte, error) {
	b, err := f.out.ReadByte()
	if err != nil {
		return 0, transport.ErrTimeout
	}
	return b, nil
}

func (f *fakeDeviceTransport) BytesAvailable() (uint32, error) {
	return uint32(f.out.Len()), nil
}

func (f *fakeDeviceTransport) SetReadTimeout(time.Duration) error { return nil }
