// Package normalize holds the pure helpers every relayer instance must agree on:
// message fingerprints, decimal rescaling and address encodings.
package normalize

import (
	"strconv"

	"github.com/spaolacci/murmur3"
)

// Fingerprint derives the message ID for an origin transaction. It is
// murmur3 (x86, 32-bit) over the transaction hash with the shared seed,
// rendered in base 10, so every instance derives the same value.
func Fingerprint(txHash string, seed uint32) string {
	return strconv.FormatUint(uint64(murmur3.Sum32WithSeed([]byte(txHash), seed)), 10)
}

// JobID derives the queue identity of the settlement job for a message.
func JobID(message string, seed uint32) string {
	return "job-" + Fingerprint(message, seed)
}

// MessageBytes returns the bytes that are signed and submitted on chain.
func MessageBytes(message string) []byte {
	return []byte(message)
}
