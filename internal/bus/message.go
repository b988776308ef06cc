package bus

import (
	"sync"
	"time"
)

// DirectMessage is one accepted chat message on its way to its recipient.
type DirectMessage struct {
	ID     string
	From   string
	To     string
	Body   string
	SentAt time.Time
}

// localRouter backs the mock transport. Messages for handles without an
// attached handler are parked until the recipient attaches.
type localRouter struct {
	mu       sync.Mutex
	handlers map[string]func(DirectMessage)
	parked   map[string][]DirectMessage
}

var defaultRouter = &localRouter{
	handlers: make(map[string]func(DirectMessage)),
	parked:   make(map[string][]DirectMessage),
}

func (r *localRouter) deliver(msg DirectMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handler, ok := r.handlers[msg.To]; ok {
		go handler(msg)
		return
	}
	r.parked[msg.To] = append(r.parked[msg.To], msg)
}

func (r *localRouter) attach(handle string, handler func(DirectMessage)) {
	r.mu.Lock()
	r.handlers[handle] = handler
	pending := append([]DirectMessage(nil), r.parked[handle]...)
	delete(r.parked, handle)
	r.mu.Unlock()

	for _, msg := range pending {
		handler(msg)
	}
}

func (r *localRouter) detach(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, handle)
}
