package session

import (
	"context"
	"sync"

	"github.com/haakenstad/ledgerlight/internal/logging"
)

type registration struct {
	callback func()
}

// ExpiryNotifier holds at most one callback to run when the server rejects
// the session. A single active authenticated view owns the reaction, so a
// new registration replaces the previous one.
type ExpiryNotifier struct {
	mu      sync.Mutex
	current *registration
}

func NewExpiryNotifier() *ExpiryNotifier {
	return &ExpiryNotifier{}
}

// Register installs callback, replacing any previous registration. The
// returned unregister func is idempotent and only clears its own
// registration, never one that replaced it.
func (n *ExpiryNotifier) Register(callback func()) func() {
	reg := &registration{callback: callback}

	n.mu.Lock()
	n.current = reg
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.current == reg {
			n.current = nil
		}
	}
}

// NotifyExpired invokes the registered callback, once per expiry event.
func (n *ExpiryNotifier) NotifyExpired(ctx context.Context) {
	n.mu.Lock()
	reg := n.current
	n.mu.Unlock()

	if reg == nil {
		logging.FromContext(ctx).Warn("session expired with no registered callback")
		return
	}

	logging.FromContext(ctx).Info("session expired, invoking registered callback")
	reg.callback()
}
