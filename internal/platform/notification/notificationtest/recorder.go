// Package notificationtest provides an in-memory notifier for tests of
// packages that emit notifications.
package notificationtest

import (
	"context"
	"sync"

	"github.com/labreport/labreport/internal/platform/notification"
)

// Recorder keeps every notification it receives, synchronously.
type Recorder struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (r *Recorder) Notify(_ context.Context, n notification.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// Sent returns a copy of the recorded notifications.
func (r *Recorder) Sent() []notification.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Notification(nil), r.sent...)
}
