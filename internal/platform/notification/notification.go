// Package notification delivers in-app notifications about report workflow
// events. Delivery is asynchronous: producers enqueue on a Dispatcher, which
// fans each notification out to the configured sinks, one worker per sink.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Notification Types
// ---------------------------------------------------------------------------

type Type string

const (
	TypeReportSigned   Type = "report_signed"
	TypeReportApproved Type = "report_approved"
	TypeReportRejected Type = "report_rejected"
)

type Notification struct {
	ID          int64     `json:"id"`
	RecipientID int64     `json:"recipient_id"`
	Type        Type      `json:"type"`
	Message     string    `json:"message"`
	ReportID    *int64    `json:"report_id,omitempty"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sink is one delivery target: the inbox table, a pub/sub channel, etc.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// Budgeted sinks need longer than deliverTimeout per notification, e.g.
// because they retry.
type Budgeted interface {
	Timeout() time.Duration
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

const deliverTimeout = 5 * time.Second

// lane is one sink's private queue. A slow or failing sink only backs up its
// own lane.
type lane struct {
	sink    Sink
	queue   chan Notification
	timeout time.Duration
}

// Dispatcher queues notifications and fans them out from Run, one worker per
// sink. Notify never blocks: when a queue is full the notification is dropped
// and logged.
type Dispatcher struct {
	queue  chan Notification
	lanes  []*lane
	logger zerolog.Logger
	onDrop func()
	now    func() time.Time
}

func NewDispatcher(size int, logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	d := &Dispatcher{
		queue:  make(chan Notification, size),
		logger: logger.With().Str("component", "notification").Logger(),
		now:    time.Now,
	}
	for _, s := range sinks {
		timeout := deliverTimeout
		if b, ok := s.(Budgeted); ok && b.Timeout() > 0 {
			timeout = b.Timeout()
		}
		d.lanes = append(d.lanes, &lane{sink: s, queue: make(chan Notification, size), timeout: timeout})
	}
	return d
}

// OnDrop registers a callback invoked for every dropped notification.
func (d *Dispatcher) OnDrop(fn func()) {
	d.onDrop = fn
}

func (d *Dispatcher) Notify(_ context.Context, n Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now().UTC()
	}

	select {
	case d.queue <- n:
	default:
		d.dropped(n, "")
	}
}

func (d *Dispatcher) dropped(n Notification, sink string) {
	ev := d.logger.Warn().
		Int64("recipient_id", n.RecipientID).
		Str("type", string(n.Type))
	if sink != "" {
		ev = ev.Str("sink", sink)
	}
	ev.Msg("notification queue full, dropping")
	if d.onDrop != nil {
		d.onDrop()
	}
}

// Run delivers queued notifications until ctx is cancelled, then drains
// whatever is still buffered and waits for the sink workers to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, l := range d.lanes {
		wg.Add(1)
		go func(l *lane) {
			defer wg.Done()
			d.work(l)
		}(l)
	}

	for {
		select {
		case <-ctx.Done():
			d.drain()
			for _, l := range d.lanes {
				close(l.queue)
			}
			wg.Wait()
			return nil
		case n := <-d.queue:
			d.fanOut(n)
		}
	}
}

func (d *Dispatcher) fanOut(n Notification) {
	for _, l := range d.lanes {
		select {
		case l.queue <- n:
		default:
			d.dropped(n, l.sink.Name())
		}
	}
}

// drain hands the remaining notifications to the lanes, waiting for room.
func (d *Dispatcher) drain() {
	for {
		select {
		case n := <-d.queue:
			for _, l := range d.lanes {
				l.queue <- n
			}
		default:
			return
		}
	}
}

func (d *Dispatcher) work(l *lane) {
	for n := range l.queue {
		// detached from the producer's request; it has usually finished by now
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		err := l.sink.Deliver(ctx, n)
		cancel()
		if err != nil {
			d.logger.Error().Err(err).
				Str("sink", l.sink.Name()).
				Int64("recipient_id", n.RecipientID).
				Str("type", string(n.Type)).
				Msg("notification delivery failed")
		}
	}
}
