// Package receipt coalesces read acknowledgements so that opening a
// conversation with dozens of unread messages produces one upstream call,
// not one per message.
package receipt

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Marker sends a read acknowledgement upstream. Satisfied by
// *provider.Client.
type Marker interface {
	MarkRead(ctx context.Context, conversationID string, providerMessageIDs []string) error
}

// Batcher accumulates provider message ids per conversation and flushes
// them on a fixed interval, one call per conversation per flush. Ids are
// deduplicated while queued; a failed flush requeues its batch for the next
// tick.
type Batcher struct {
	marker   Marker
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a batcher flushing every interval.
func New(marker Marker, interval time.Duration, logger *zap.Logger) *Batcher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Batcher{
		marker:   marker,
		interval: interval,
		logger:   logger,
		pending:  make(map[string]map[string]struct{}),
	}
}

// EnqueueRead queues ids for acknowledgement. Empty batches are ignored.
func (b *Batcher) EnqueueRead(conversationID string, providerMessageIDs []string) {
	if conversationID == "" || len(providerMessageIDs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.pending[conversationID]
	if !ok {
		set = make(map[string]struct{})
		b.pending[conversationID] = set
	}
	for _, id := range providerMessageIDs {
		if id != "" {
			set[id] = struct{}{}
		}
	}
}

// Start launches the flush loop.
func (b *Batcher) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.Flush(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the loop after a final flush attempt.
func (b *Batcher) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.Flush(ctx)
}

// Flush drains the queue, one MarkRead per conversation. Failed batches go
// back into the queue.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	batches := b.pending
	b.pending = make(map[string]map[string]struct{})
	b.mu.Unlock()

	for conv, set := range batches {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		if err := b.marker.MarkRead(ctx, conv, ids); err != nil {
			b.logger.Warn("mark read failed, requeueing",
				zap.String("conversation_id", conv),
				zap.Int("count", len(ids)),
				zap.Error(err))
			b.EnqueueRead(conv, ids)
		}
	}
}
