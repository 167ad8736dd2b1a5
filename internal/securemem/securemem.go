// Package securemem keeps credentials such as pushed cookie headers in
// memguard-protected memory so they stay out of swap and the regular Go heap.
package securemem

import (
	"crypto/subtle"

	"github.com/awnumar/memguard"
)

// String is an immutable secret held in a memguard locked buffer.
type String struct {
	buf *memguard.LockedBuffer
}

// NewString copies plaintext into locked memory.
func NewString(plaintext string) *String {
	if plaintext == "" {
		return &String{}
	}
	return &String{buf: memguard.NewBufferFromBytes([]byte(plaintext))}
}

func (s *String) alive() bool {
	return s != nil && s.buf != nil && s.buf.IsAlive()
}

// String returns a plaintext copy. The copy lives in regular memory.
func (s *String) String() string {
	if !s.alive() {
		return ""
	}
	return string(s.buf.Bytes())
}

// Len returns the length of the secret in bytes.
func (s *String) Len() int {
	if !s.alive() {
		return 0
	}
	return s.buf.Size()
}

// IsEmpty reports whether the secret is empty or destroyed.
func (s *String) IsEmpty() bool {
	return s.Len() == 0
}

// Equal compares against plaintext in constant time.
func (s *String) Equal(other string) bool {
	if !s.alive() {
		return other == ""
	}
	return subtle.ConstantTimeCompare(s.buf.Bytes(), []byte(other)) == 1
}

// WithValue calls fn with a plaintext view that must not be retained.
func (s *String) WithValue(fn func(string)) {
	if !s.alive() {
		fn("")
		return
	}
	fn(string(s.buf.Bytes()))
}

// Destroy wipes the secret. Destroy is idempotent.
func (s *String) Destroy() {
	if s == nil || s.buf == nil {
		return
	}
	s.buf.Destroy()
	s.buf = nil
}

// Cleanup purges every memguard buffer. Call it once right before exit.
func Cleanup() {
	memguard.Purge()
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	memguard.WipeBytes(b)
}
