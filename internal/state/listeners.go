// Package state holds the client's session and settings state. Stores are
// plain in-memory containers; persistence and transport observe them through
// listeners.
package state

import (
	"sync"

	"github.com/ashureev/fluxion-chat/internal/domain"
)

// Slice names the part of the state a change touched.
type Slice string

const (
	SliceConnection Slice = "connection"
	SliceTyping     Slice = "typing"
	SliceClientID   Slice = "client_id"
	SliceMessages   Slice = "messages"
	SliceProgress   Slice = "progress"
	SliceLLMConfig  Slice = "llm_config"
)

// Change describes one state transition. Only the fields relevant to Slice
// are set. Cleared is true when a log slice was emptied.
type Change struct {
	Slice     Slice
	Connected bool
	Typing    bool
	ClientID  string
	Message   *domain.Message
	Progress  *domain.ProgressEvent
	Cleared   bool
	LLMConfig domain.LLMConfig
}

// Listener receives changes synchronously, in mutation order. It must not
// mutate the store it is subscribed to.
type Listener func(Change)

type listenerSet struct {
	mu   sync.Mutex
	next int
	fns  map[int]Listener
}

func (l *listenerSet) add(fn Listener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]Listener)
	}
	id := l.next
	l.next++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func (l *listenerSet) notify(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	l.mu.Lock()
	fns := make([]Listener, 0, len(l.fns))
	for id := 0; id < l.next; id++ {
		if fn, ok := l.fns[id]; ok {
			fns = append(fns, fn)
		}
	}
	l.mu.Unlock()

	for _, ch := range changes {
		for _, fn := range fns {
			fn(ch)
		}
	}
}
