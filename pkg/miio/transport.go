package miio

import "sync"

// transport fans the socket's close and error signals out to observers.
type transport struct {
	mu      sync.Mutex
	onClose map[int]func()
	onError map[int]func(error)
	next    int
}

func newTransport() *transport {
	return &transport{
		onClose: make(map[int]func()),
		onError: make(map[int]func(error)),
	}
}

func (t *transport) OnClose(handler func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	t.onClose[id] = handler
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.onClose, id)
	}
}

func (t *transport) OnError(handler func(error)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	t.onError[id] = handler
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.onError, id)
	}
}

func (t *transport) fireClose() {
	t.mu.Lock()
	handlers := make([]func(), 0, len(t.onClose))
	for _, h := range t.onClose {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

func (t *transport) fireError(err error) {
	t.mu.Lock()
	handlers := make([]func(error), 0, len(t.onError))
	for _, h := range t.onError {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}
