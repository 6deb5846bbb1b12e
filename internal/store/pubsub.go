package store

import "sync"

// broker is the in-process publish/subscribe fan-out used by the memory and
// badger backends. Handlers run on their own goroutine so a slow subscriber
// never blocks a publisher; unsubscribing removes the handler under the same
// lock publishers take, so no dispatch starts after unsubscribe returns.
type broker struct {
	mu          sync.Mutex
	nextID      uint64
	subscribers map[string]map[uint64]func([]byte)
}

func newBroker() *broker {
	return &broker{subscribers: make(map[string]map[uint64]func([]byte))}
}

func (b *broker) publish(channel string, payload []byte) {
	b.mu.Lock()
	handlers := make([]func([]byte), 0, len(b.subscribers[channel]))
	for _, h := range b.subscribers[channel] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		go h(append([]byte(nil), payload...))
	}
}

func (b *broker) subscribe(channel string, handler func([]byte)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[uint64]func([]byte))
	}
	b.subscribers[channel][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers[channel], id)
		if len(b.subscribers[channel]) == 0 {
			delete(b.subscribers, channel)
		}
	}
}
