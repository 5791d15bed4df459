package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// EventType names a lifecycle or fetch event.
type EventType string

const (
	EventInstall  EventType = "install"
	EventActivate EventType = "activate"
	EventFetch    EventType = "fetch"
)

// HandlerFunc handles one event. Asynchronous work that must finish before
// the event is done is registered with Event.WaitUntil.
type HandlerFunc func(ctx context.Context, e *Event) error

// Event is a single dispatched install, activate or fetch event.
type Event struct {
	ID      string
	Type    EventType
	Request *Request
	Created time.Time

	group    *errgroup.Group
	lifetime context.Context

	mu        sync.Mutex
	responded bool
	response  *Response
	err       error
}

// newEvent creates an event whose extended work runs under lifetime.
func newEvent(lifetime context.Context, typ EventType, req *Request) *Event {
	g, gctx := errgroup.WithContext(lifetime)
	return &Event{
		ID:       uuid.New().String(),
		Type:     typ,
		Request:  req,
		Created:  time.Now(),
		group:    g,
		lifetime: gctx,
	}
}

// WaitUntil extends the event's lifetime until fn returns. The first
// failing fn cancels the context handed to the others and is reported by
// Wait.
func (e *Event) WaitUntil(fn func(ctx context.Context) error) {
	e.group.Go(func() error { return fn(e.lifetime) })
}

// Wait blocks until every WaitUntil function has returned.
func (e *Event) Wait() error {
	return e.group.Wait()
}

// RespondWith settles a fetch event with a response or a failure. A fetch
// event nobody responds to falls through to default handling.
func (e *Event) RespondWith(resp *Response, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.responded {
		return ErrAlreadyResponded
	}
	e.responded = true
	e.response = resp
	e.err = err
	return nil
}

// Result returns what the handlers responded with.
func (e *Event) Result() (resp *Response, responded bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.response, e.responded, e.err
}

// Notice describes a lifecycle or fetch outcome for subscribers.
type Notice struct {
	EventID  string    `json:"event_id"`
	Type     EventType `json:"type"`
	Action   string    `json:"action"`
	State    State     `json:"state"`
	URL      string    `json:"url,omitempty"`
	Cache    string    `json:"cache,omitempty"`
	Strategy string    `json:"strategy,omitempty"`
	Source   Source    `json:"source,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}
