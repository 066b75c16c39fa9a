package smp

import (
	"crypto/rand"
	"sync/atomic"
)

// seqCounter holds the process-wide next sequence number. It is seeded
// once from a uniform random byte and advanced with natural uint8
// wraparound by every subsequent call. It is intentionally global: the
// protocol is transport-local and strictly single-in-flight, so no
// caller can observe ordering between distinct transactions.
var seqCounter atomic.Uint32

func init() {
	var b [1]byte
	_, _ = rand.Read(b[:])
	seqCounter.Store(uint32(b[0]))
}

// nextSeq returns the next sequence id, wrapping naturally through the
// uint8 range.
func nextSeq() uint8 {
	return uint8(seqCounter.Add(1) - 1)
}
