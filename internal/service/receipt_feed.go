// Package service wires domain components into the running pipeline:
// orchestration, heartbeat, knowledge ingestion, and the async receipt
// feed.
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ReceiptObserver receives sealed receipts after they are on the chain.
// Observers must not block; slow observers cause feed drops, never
// chain stalls.
type ReceiptObserver interface {
	ObserveReceipt(ctx context.Context, sequence uint64, jobID, stage, decision, reasonCode string)
}

// feedEvent is the compact per-receipt notification.
type feedEvent struct {
	sequence uint64
	jobID    string
	stage    string
	decision string
	reason   string
}

// ReceiptFeed fans receipt notifications out to observers on a
// background worker. Chain appends stay synchronous; the feed only
// carries after-the-fact notifications, so dropping under pressure is
// safe.
type ReceiptFeed struct {
	observers []ReceiptObserver
	events    chan feedEvent
	done      chan struct{}
	wg        sync.WaitGroup
	logger    *slog.Logger

	channelSize int
	sendTimeout time.Duration
	dropCount   atomic.Int64
	stopOnce    sync.Once
}

// FeedOption configures ReceiptFeed.
type FeedOption func(*ReceiptFeed)

// WithFeedChannelSize sets the notification buffer size.
func WithFeedChannelSize(size int) FeedOption {
	return func(f *ReceiptFeed) {
		f.events = make(chan feedEvent, size)
		f.channelSize = size
	}
}

// WithFeedSendTimeout sets the backpressure timeout. 0 drops
// immediately when the buffer is full.
func WithFeedSendTimeout(timeout time.Duration) FeedOption {
	return func(f *ReceiptFeed) {
		f.sendTimeout = timeout
	}
}

// NewReceiptFeed creates a feed over the given observers.
func NewReceiptFeed(observers []ReceiptObserver, logger *slog.Logger, opts ...FeedOption) *ReceiptFeed {
	const defaultChannelSize = 1000
	f := &ReceiptFeed{
		observers:   observers,
		events:      make(chan feedEvent, defaultChannelSize),
		done:        make(chan struct{}),
		logger:      logger,
		channelSize: defaultChannelSize,
		sendTimeout: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start launches the fan-out worker.
func (f *ReceiptFeed) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				// Drain what is already buffered before exiting.
				for {
					select {
					case ev := <-f.events:
						f.dispatch(ctx, ev)
					default:
						return
					}
				}
			case ev := <-f.events:
				f.dispatch(ctx, ev)
			}
		}
	}()
}

// Publish queues one receipt notification. It never blocks longer than
// the send timeout; overflow increments the drop counter.
func (f *ReceiptFeed) Publish(sequence uint64, jobID, stage, decision, reasonCode string) {
	ev := feedEvent{
		sequence: sequence,
		jobID:    jobID,
		stage:    stage,
		decision: decision,
		reason:   reasonCode,
	}

	if f.sendTimeout <= 0 {
		select {
		case f.events <- ev:
		default:
			f.noteDrop()
		}
		return
	}

	timer := time.NewTimer(f.sendTimeout)
	defer timer.Stop()
	select {
	case f.events <- ev:
	case <-timer.C:
		f.noteDrop()
	}
}

// DropCount returns the number of notifications dropped so far.
func (f *ReceiptFeed) DropCount() int64 {
	return f.dropCount.Load()
}

// Stop terminates the worker after draining buffered notifications.
func (f *ReceiptFeed) Stop() {
	f.stopOnce.Do(func() {
		close(f.done)
	})
	f.wg.Wait()
}

func (f *ReceiptFeed) dispatch(ctx context.Context, ev feedEvent) {
	for _, obs := range f.observers {
		obs.ObserveReceipt(ctx, ev.sequence, ev.jobID, ev.stage, ev.decision, ev.reason)
	}
}

func (f *ReceiptFeed) noteDrop() {
	n := f.dropCount.Add(1)
	if n == 1 || n%100 == 0 {
		f.logger.Warn("receipt feed overflow; notifications dropped", "dropped", n)
	}
}

// LogObserver writes receipt notifications to the structured log at
// debug level. The default observer when no external sink is wired.
type LogObserver struct {
	Logger *slog.Logger
}

// ObserveReceipt implements ReceiptObserver.
func (o LogObserver) ObserveReceipt(_ context.Context, sequence uint64, jobID, stage, decision, reasonCode string) {
	o.Logger.Debug("receipt appended",
		"sequence", sequence,
		"job_id", jobID,
		"stage", stage,
		"decision", decision,
		"reason", reasonCode,
	)
}

// Compile-time interface verification.
var _ ReceiptObserver = LogObserver{}
