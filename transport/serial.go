package transport

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.bug.st/serial"
)

// SerialTransport is a Transport backed by a real serial port, via
// go.bug.st/serial.
type SerialTransport struct {
	port    serial.Port
	timeout time.Duration
	pending []byte
}

var _ Transport = (*SerialTransport)(nil)

// OpenSerial opens device at baud, with readTimeout applied to every
// subsequent ReadByte call until SetReadTimeout changes it.
func OpenSerial(device string, baud uint32, readTimeout time.Duration) (*SerialTransport, error) {
	mode := &serial.Mode{BaudRate: int(baud)}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", device, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set initial read timeout: %w", err)
	}

	return &SerialTransport{port: port, timeout: readTimeout}, nil
}

// Close releases the underlying serial port.
func (s *SerialTransport) Close() error {
	return s.port.Close()
}

// BytesAvailable implements Transport. go.bug.st/serial exposes no direct
// "bytes queued" query, so it is approximated by a non-blocking drain:
// the read timeout is dropped to zero momentarily and whatever arrives is
// buffered in s.pending for ReadByte to serve first.
func (s *SerialTransport) BytesAvailable() (uint32, error) {
	if err := s.port.SetReadTimeout(0); err != nil {
		return 0, fmt.Errorf("probe read timeout: %w", err)
	}
	defer s.port.SetReadTimeout(s.timeout)

	buf := make([]byte, 4096)
	for {
		n, err := s.port.Read(buf)
		if err != nil {
			return uint32(len(s.pending)), fmt.Errorf("probe read: %w", err)
		}
		if n == 0 {
			return uint32(len(s.pending)), nil
		}
		s.pending = append(s.pending, buf[:n]...)
		if n < len(buf) {
			return uint32(len(s.pending)), nil
		}
	}
}

// ReadByte implements Transport.
func (s *SerialTransport) ReadByte() (byte, error) {
	if len(s.pending) > 0 {
		b := s.pending[0]
		s.pending = s.pending[1:]
		return b, nil
	}

	var buf [1]byte
	n, err := s.port.Read(buf[:])
	if err != nil {
		return 0, fmt.Errorf("read byte: %w", err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	return buf[0], nil
}

// WriteAll implements Transport.
func (s *SerialTransport) WriteAll(p []byte) error {
	for len(p) > 0 {
		n, err := s.port.Write(p)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		p = p[n:]
	}
	return nil
}

// SetReadTimeout implements Transport.
func (s *SerialTransport) SetReadTimeout(d time.Duration) error {
	s.timeout = d
	return s.port.SetReadTimeout(d)
}

// AutoDetect picks a bootloader serial port without requiring the
// caller to name one: if there is exactly one candidate, use it;
// otherwise it is an error the caller should surface with the full
// candidate list.
func AutoDetect() (string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return "", fmt.Errorf("list serial ports: %w", err)
	}

	if runtime.GOOS == "darwin" {
		filtered := ports[:0]
		for _, p := range ports {
			if strings.Contains(p, "cu.usbmodem") {
				filtered = append(filtered, p)
			}
		}
		ports = filtered
	}

	switch len(ports) {
	case 0:
		return "", errors.New("no serial port found")
	case 1:
		return ports[0], nil
	default:
		return "", fmt.Errorf("more than one serial port found: %s", strings.Join(ports, ", "))
	}
}
