package smp

// CBOR request/response bodies for the image and default command groups,
// encoded with github.com/fxamacker/cbor/v2.
//
// Optional fields use `,omitempty` so that an absent value is omitted
// from the encoded map entirely rather than encoded as CBOR null,
// mirroring the Rust side's "skip if none" option handling.

// ImageUploadReq is one chunk of a firmware image upload.
type ImageUploadReq struct {
	Image   uint8  `cbor:"image"`
	Data    []byte `cbor:"data"`
	Off     uint32 `cbor:"off"`
	Len     uint32 `cbor:"len,omitempty"`
	SHA     []byte `cbor:"sha,omitempty"`
	Upgrade bool   `cbor:"upgrade,omitempty"`
}

// ImageUploadRsp is the device's answer to one upload chunk.
type ImageUploadRsp struct {
	Rc  int64  `cbor:"rc"`
	Off uint32 `cbor:"off"`
}

// ImageStateReq requests that an image be marked test/confirm pending.
type ImageStateReq struct {
	Hash    []byte `cbor:"hash"`
	Confirm *bool  `cbor:"confirm,omitempty"`
}

// ImageStateEntry describes one image slot as returned by List.
type ImageStateEntry struct {
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

// ImageStateRsp is the response to a List (or test/confirm) request.
type ImageStateRsp struct {
	Images      []ImageStateEntry `cbor:"images"`
	SplitStatus *int              `cbor:"splitStatus,omitempty"`
}

// ImageEraseReq optionally names the slot to erase; absent means device
// default.
type ImageEraseReq struct {
	Slot *uint32 `cbor:"slot,omitempty"`
}

// rcBody is the minimal shape every response shares: an integer result
// code. Responses are decoded into this first to check rc before any
// operation-specific decode.
type rcBody struct {
	Rc *int64 `cbor:"rc"`
}
