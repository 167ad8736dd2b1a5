// Package genai holds the credentials the AI client authenticates with and
// the client itself. Cookie headers arrive from the cookie bridge; the
// client forwards them as a Cookie request header.
package genai

import (
	"sync/atomic"

	"github.com/codefionn/cookiebridge/internal/securemem"
)

// Credentials is the cookie header currently used for the AI service.
// Updates can be switched off without unsubscribing, mirroring the
// "use cookie bridge" toggle in the config.
type Credentials struct {
	header  securemem.Value
	enabled atomic.Bool
	version atomic.Uint64
}

// NewCredentials creates credentials seeded with an initial header, usually
// the one persisted in the config file.
func NewCredentials(initial string, enabled bool) *Credentials {
	c := &Credentials{}
	if initial != "" {
		c.header.Store(initial)
	}
	c.enabled.Store(enabled)
	return c
}

// SetEnabled toggles whether Update accepts new headers.
func (c *Credentials) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

// Enabled reports whether bridge updates are accepted.
func (c *Credentials) Enabled() bool {
	return c.enabled.Load()
}

// Update replaces the header if updates are enabled. It has the signature of
// a cookie bridge subscriber.
func (c *Credentials) Update(header string) {
	if !c.enabled.Load() || header == "" {
		return
	}
	c.header.Store(header)
	c.version.Add(1)
}

// CookieHeader returns a plaintext copy of the current header.
func (c *Credentials) CookieHeader() string {
	return c.header.Load()
}

// Version increases by one on every accepted Update.
func (c *Credentials) Version() uint64 {
	return c.version.Load()
}

// Clear forgets the header.
func (c *Credentials) Clear() {
	c.header.Clear()
	c.version.Add(1)
}
