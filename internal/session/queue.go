package session

import (
	"sync"

	"github.com/dkeye/VoiceAgent/internal/rtclient"
)

type itemKind int

const (
	itemEvent itemKind = iota
	itemConnectResult
)

type item struct {
	session string
	kind    itemKind
	event   rtclient.Event
	err     error
}

// queue is an unbounded FIFO. Transport callbacks never block on it.
type queue struct {
	mu    sync.Mutex
	items []item
	ready chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) push(it item) {
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue) drain() []item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
