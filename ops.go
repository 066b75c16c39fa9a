package smp

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// List requests the device's image state table.
func (c *Client) List(ctx context.Context) (ImageStateRsp, error) {
	body, err := cbor.Marshal(map[string]any{})
	if err != nil {
		return ImageStateRsp{}, fmt.Errorf("encode list request: %w", err)
	}

	_, respBody, err := c.roundTrip(ctx, OpRead, GroupImage, CmdImageState, body)
	if err != nil {
		return ImageStateRsp{}, err
	}

	var state ImageStateRsp
	if err := cbor.Unmarshal(respBody, &state); err != nil {
		return ImageStateRsp{}, fmt.Errorf("decode list response: %w", err)
	}

	return state, nil
}

// Reset asks the device to reboot.
func (c *Client) Reset(ctx context.Context) error {
	_, _, err := c.roundTrip(ctx, OpWrite, GroupDefault, CmdReset, []byte{})
	return err
}

// Test marks an image (identified by its SHA-256 hash) pending, and
// optionally confirms it outright.
func (c *Client) Test(ctx context.Context, hash []byte, confirm *bool) error {
	body, err := cbor.Marshal(ImageStateReq{Hash: hash, Confirm: confirm})
	if err != nil {
		return fmt.Errorf("encode test request: %w", err)
	}

	_, _, err = c.roundTrip(ctx, OpWrite, GroupImage, CmdImageState, body)
	return err
}

// Erase wipes the given slot, or the device's default slot if slot is nil.
func (c *Client) Erase(ctx context.Context, slot *uint32) error {
	body, err := cbor.Marshal(ImageEraseReq{Slot: slot})
	if err != nil {
		return fmt.Errorf("encode erase request: %w", err)
	}

	_, _, err = c.roundTrip(ctx, OpWrite, GroupImage, CmdImageErase, body)
	return err
}
