package registry

import (
	"sync"

	"github.com/convex-community/convex-go/values"
)

// Handle references one observer slot on a shared subscription. Callers
// never hold the subscription itself.
type Handle struct {
	registry   *registryImpl
	fp         values.Fingerprint
	observerID int64
	once       sync.Once
}

// Fingerprint identifies the live query this handle observes.
func (h *Handle) Fingerprint() values.Fingerprint {
	return h.fp
}

// Unsubscribe detaches the observer. The wire subscription closes when the
// last handle for the fingerprint unsubscribes. Safe to call more than once.
func (h *Handle) Unsubscribe() {
	h.once.Do(func() {
		h.registry.unsubscribe(h.fp, h.observerID)
	})
}
