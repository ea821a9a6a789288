package ashquery

import (
	"sync"

	"github.com/google/uuid"
)

// PressureLevel is a memory-pressure signal level fed to the client's default
// eviction policy. Warning and Critical both trigger a sweep of
// subscriber-less stores; Normal triggers none.
type PressureLevel int8

const (
	PressureNormal PressureLevel = iota
	PressureWarning
	PressureCritical
)

func (l PressureLevel) String() string {
	switch l {
	case PressureNormal:
		return "normal"
	case PressureWarning:
		return "warning"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// PressureSource is an observable stream of pressure levels, supplied by the
// platform. Subscribe emits the current level immediately.
type PressureSource interface {
	Subscribe(onChange func(level PressureLevel)) *Subscription
}

// ObservedPressure is a settable PressureSource for tests and platform
// adapters.
type ObservedPressure struct {
	mu    sync.Mutex
	level PressureLevel
	subs  map[uuid.UUID]func(PressureLevel)
}

func NewObservedPressure(initial PressureLevel) *ObservedPressure {
	return &ObservedPressure{level: initial, subs: make(map[uuid.UUID]func(PressureLevel))}
}

func (o *ObservedPressure) Subscribe(onChange func(PressureLevel)) *Subscription {
	o.mu.Lock()
	current := o.level
	sub := newSubscription(nil)
	o.subs[sub.ID()] = onChange
	o.mu.Unlock()

	sub.cancel = func() {
		o.mu.Lock()
		delete(o.subs, sub.ID())
		o.mu.Unlock()
	}

	onChange(current)
	return sub
}

// Set publishes a new level to every subscriber.
func (o *ObservedPressure) Set(level PressureLevel) {
	o.mu.Lock()
	o.level = level
	handlers := make([]func(PressureLevel), 0, len(o.subs))
	for _, h := range o.subs {
		handlers = append(handlers, h)
	}
	o.mu.Unlock()

	for _, h := range handlers {
		h(level)
	}
}
