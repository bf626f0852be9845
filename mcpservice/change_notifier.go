package mcpservice

import (
	"context"
	"sync"
)

// ChangeNotifier is a small in-process pub-sub used by the containers to
// signal that their list changed. The zero value is ready to use.
type ChangeNotifier struct {
	subscribersMu sync.RWMutex
	subscribers   []chan struct{}
	closed        bool
}

var _ ChangeSubscriber = (*ChangeNotifier)(nil)

// Notify signals every subscriber. Sends never block: a subscriber that
// already has a pending signal is not signalled twice.
func (cn *ChangeNotifier) Notify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cn.subscribersMu.RLock()
	defer cn.subscribersMu.RUnlock()

	if cn.closed {
		return nil
	}

	for _, ch := range cn.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Close closes all subscriber channels. Later subscribers get a closed
// channel. Close is idempotent.
func (cn *ChangeNotifier) Close() {
	cn.subscribersMu.Lock()
	if cn.closed {
		cn.subscribersMu.Unlock()
		return
	}
	cn.closed = true
	subs := cn.subscribers
	cn.subscribers = nil
	cn.subscribersMu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// Subscriber returns a channel, buffered with capacity 1, that receives a
// signal whenever Notify is called.
func (cn *ChangeNotifier) Subscriber() <-chan struct{} {
	cn.subscribersMu.Lock()
	defer cn.subscribersMu.Unlock()

	if cn.closed {
		ch := make(chan struct{})
		close(ch)
		return ch
	}

	ch := make(chan struct{}, 1)
	cn.subscribers = append(cn.subscribers, ch)
	return ch
}
