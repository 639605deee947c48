package lifecycle

import (
	"context"
	"sync"

	"github.com/xiaot623/paybridge/internal/domain"
)

// Handler reacts to one host lifecycle signal.
type Handler func(ctx context.Context)

// Listeners is a registry of signal handlers. Every Add returns the function
// that removes exactly that registration.
type Listeners struct {
	mu       sync.RWMutex
	next     int
	handlers map[domain.Signal]map[int]Handler
	order    map[domain.Signal][]int
}

// NewListeners creates an empty registry.
func NewListeners() *Listeners {
	return &Listeners{
		handlers: make(map[domain.Signal]map[int]Handler),
		order:    make(map[domain.Signal][]int),
	}
}

// Add registers h for sig.
func (l *Listeners) Add(sig domain.Signal, h Handler) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.next
	l.next++
	if l.handlers[sig] == nil {
		l.handlers[sig] = make(map[int]Handler)
	}
	l.handlers[sig][id] = h
	l.order[sig] = append(l.order[sig], id)

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(sig, id) })
	}
}

func (l *Listeners) remove(sig domain.Signal, id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.handlers[sig], id)
	ids := l.order[sig]
	for i, v := range ids {
		if v == id {
			l.order[sig] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
}

// Emit calls the handlers registered for sig in registration order and
// returns how many ran.
func (l *Listeners) Emit(ctx context.Context, sig domain.Signal) int {
	l.mu.RLock()
	hs := make([]Handler, 0, len(l.order[sig]))
	for _, id := range l.order[sig] {
		hs = append(hs, l.handlers[sig][id])
	}
	l.mu.RUnlock()

	for _, h := range hs {
		h(ctx)
	}
	return len(hs)
}

// Count returns the number of handlers registered for sig.
func (l *Listeners) Count(sig domain.Signal) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.handlers[sig])
}
