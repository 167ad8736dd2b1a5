package securemem

import "sync"

// Value is a replaceable secret with last-writer-wins semantics. Replacing or
// clearing the value destroys the previous buffer.
type Value struct {
	mu  sync.RWMutex
	cur *String
}

// Store replaces the current secret with plaintext.
func (v *Value) Store(plaintext string) {
	next := NewString(plaintext)

	v.mu.Lock()
	prev := v.cur
	v.cur = next
	v.mu.Unlock()

	prev.Destroy()
}

// Load returns a plaintext copy of the current secret, or "" when unset.
func (v *Value) Load() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cur.String()
}

// Equal compares the current secret against plaintext in constant time.
func (v *Value) Equal(plaintext string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cur.Equal(plaintext)
}

// IsSet reports whether a non-empty secret is stored.
func (v *Value) IsSet() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return !v.cur.IsEmpty()
}

// Clear destroys the current secret.
func (v *Value) Clear() {
	v.mu.Lock()
	prev := v.cur
	v.cur = nil
	v.mu.Unlock()

	prev.Destroy()
}
