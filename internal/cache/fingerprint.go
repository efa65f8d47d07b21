package cache

import (
	"crypto/sha256"
	"fmt"

	"github.com/conduit-ai/conduit/internal/provider"
)

// Fingerprint computes the cache key for a request: SHA-256 over the model
// and every message in order, as NUL-separated role:content segments.
// Message order matters and content is hashed verbatim, so a reordered or
// reformatted conversation keys differently.
func Fingerprint(req provider.Request) string {
	h := sha256.New()
	h.Write([]byte(req.Model))
	for _, m := range req.Messages {
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte(":"))
		h.Write([]byte(m.Content))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
