package ashquery

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription is a cancellable registration token. Cancel is idempotent and
// fully releases whatever underlying observer the subscription holds.
type Subscription struct {
	id     uuid.UUID
	once   sync.Once
	cancel func()
}

func newSubscription(cancel func()) *Subscription {
	return &Subscription{id: uuid.New(), cancel: cancel}
}

func (s *Subscription) ID() uuid.UUID { return s.id }

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
