package notification

import (
	"context"
	"sync"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []Notification
	Fail error
}

func (r *recordingSink) Name() string { return "recorder" }

func (r *recordingSink) Deliver(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingSink) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}
