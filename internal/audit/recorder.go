package audit

import (
	"context"
	"log"

	"github.com/ziadkadry99/sitecache/internal/worker"
)

// FromNotice converts a worker notice into an audit entry. Fetch notices
// are not audited.
func FromNotice(n worker.Notice) (Entry, bool) {
	if n.Type == worker.EventFetch {
		return Entry{}, false
	}
	return Entry{
		Timestamp: n.Time,
		EventID:   n.EventID,
		Event:     string(n.Type),
		Action:    Action(n.Action),
		State:     string(n.State),
		Cache:     n.Cache,
		Detail:    n.Error,
	}, true
}

// Follow records lifecycle notices until notices is closed or ctx is done.
func (s *Store) Follow(ctx context.Context, notices <-chan worker.Notice) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			entry, ok := FromNotice(n)
			if !ok {
				continue
			}
			if err := s.Log(context.WithoutCancel(ctx), entry); err != nil {
				log.Printf("audit: %v", err)
			}
		}
	}
}
