package eventlog

import (
	"sync"

	"github.com/fiscaldata/reconciler_backend/models"
)

const subscriberBuffer = 256

// broadcaster fans appended entries out to live subscribers. Publish never
// blocks: a subscriber that cannot keep up loses entries rather than
// applying backpressure to the append path.
type broadcaster struct {
	mu     sync.Mutex
	nextId int
	subs   map[int]chan models.LogEntry
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan models.LogEntry)}
}

func (b *broadcaster) publish(entry models.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

func (b *broadcaster) subscribe() (int, chan models.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextId
	b.nextId++
	ch := make(chan models.LogEntry, subscriberBuffer)
	b.subs[id] = ch
	return id, ch
}

func (b *broadcaster) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *broadcaster) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
