package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/yungbote/objective-cascade/internal/realtime"
)

type subscriber struct {
	pattern string
	ch      chan realtime.Message
}

// localBus fans messages out over buffered channels inside one process.
// A subscriber whose buffer is full drops the message.
type localBus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	buffer int
	closed bool
}

func NewLocalBus(buffer int) Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &localBus{subs: map[*subscriber]struct{}{}, buffer: buffer}
}

func (b *localBus) Publish(ctx context.Context, msg realtime.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("local bus closed")
	}
	for s := range b.subs {
		if !realtime.Matches(s.pattern, msg.Topic) {
			continue
		}
		select {
		case s.ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func (b *localBus) StartForwarder(ctx context.Context, pattern string, onMsg func(m realtime.Message)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	s := &subscriber{pattern: pattern, ch: make(chan realtime.Message, b.buffer)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("local bus closed")
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-s.ch:
				onMsg(m)
			}
		}
	}()
	return nil
}

func (b *localBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
