package transport

import (
	"strings"
	"time"
)

// Open returns the Transport named by device: the in-memory emulator for
// the pseudo-device name "test" (case-insensitive), or a real serial port
// otherwise. This is the single place the "test" pseudo-device selection
// rule is implemented; the CLI opens its transport through it.
func Open(device string, baud uint32, initialTimeout time.Duration) (Transport, error) {
	if strings.EqualFold(device, "test") {
		return NewTestTransport(), nil
	}
	return OpenSerial(device, baud, initialTimeout)
}

// Closer is implemented by transports that hold an OS resource needing
// release; TestTransport does not implement it.
type Closer interface {
	Close() error
}
