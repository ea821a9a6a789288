package ashquery

import (
	"sync"

	"github.com/google/uuid"
)

// Condition is a composable, observable boolean gate for automatic execution.
// IsSatisfied is a synchronous, side-effect-free read. Subscribe emits the
// current value immediately, then once per subsequent change notification;
// combinators re-emit once per underlying emission and do not deduplicate
// unchanged combined values.
type Condition interface {
	IsSatisfied(rc *RunContext) bool
	Subscribe(rc *RunContext, onChange func(satisfied bool)) *Subscription
}

/**
 * Constant conditions.
 */

type alwaysCondition struct {
	sat   bool
	emits bool
}

// Always is a constant condition that emits its value once at subscribe time.
func Always(satisfied bool) Condition {
	return &alwaysCondition{sat: satisfied, emits: true}
}

// AlwaysSilent is a constant condition that never emits. It represents
// manual-only operations such as mutations, which never run automatically.
func AlwaysSilent(satisfied bool) Condition {
	return &alwaysCondition{sat: satisfied, emits: false}
}

func (c *alwaysCondition) IsSatisfied(*RunContext) bool { return c.sat }

func (c *alwaysCondition) Subscribe(_ *RunContext, onChange func(bool)) *Subscription {
	if c.emits {
		onChange(c.sat)
	}
	return newSubscription(nil)
}

/**
 * Observed condition: a settable boolean publisher. Platform sources (network
 * reachability, app foreground) and tests feed one of these; a single instance
 * is commonly shared across many stores.
 */

type Observed struct {
	mu   sync.Mutex
	sat  bool
	subs map[uuid.UUID]func(bool)
}

func NewObserved(initial bool) *Observed {
	return &Observed{sat: initial, subs: make(map[uuid.UUID]func(bool))}
}

func (o *Observed) IsSatisfied(*RunContext) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sat
}

func (o *Observed) Subscribe(_ *RunContext, onChange func(bool)) *Subscription {
	o.mu.Lock()
	current := o.sat
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

// Set publishes a new value. Every Set notifies all subscribers, including
// when the value did not change; edge-only delivery is a subscriber concern.
func (o *Observed) Set(satisfied bool) {
	o.mu.Lock()
	o.sat = satisfied
	handlers := make([]func(bool), 0, len(o.subs))
	for _, h := range o.subs {
		handlers = append(handlers, h)
	}
	o.mu.Unlock()

	for _, h := range handlers {
		h(satisfied)
	}
}

/**
 * Combinators.
 */

type binaryCondition struct {
	lhs, rhs Condition
	combine  func(a, b bool) bool
}

// And is satisfied when both operands are satisfied.
func And(lhs, rhs Condition) Condition {
	return &binaryCondition{lhs: lhs, rhs: rhs, combine: func(a, b bool) bool { return a && b }}
}

// Or is satisfied when either operand is satisfied.
func Or(lhs, rhs Condition) Condition {
	return &binaryCondition{lhs: lhs, rhs: rhs, combine: func(a, b bool) bool { return a || b }}
}

func (c *binaryCondition) IsSatisfied(rc *RunContext) bool {
	return c.combine(c.lhs.IsSatisfied(rc), c.rhs.IsSatisfied(rc))
}

func (c *binaryCondition) Subscribe(rc *RunContext, onChange func(bool)) *Subscription {
	var mu sync.Mutex
	a, b := c.lhs.IsSatisfied(rc), c.rhs.IsSatisfied(rc)
	// operand emissions arriving while ready is false are the immediate ones;
	// they only refresh the cached operand value, the combined initial value
	// is emitted exactly once below
	ready := false

	emit := func() {
		mu.Lock()
		if !ready {
			mu.Unlock()
			return
		}
		v := c.combine(a, b)
		mu.Unlock()
		onChange(v)
	}

	lsub := c.lhs.Subscribe(rc, func(sat bool) {
		mu.Lock()
		a = sat
		mu.Unlock()
		emit()
	})
	rsub := c.rhs.Subscribe(rc, func(sat bool) {
		mu.Lock()
		b = sat
		mu.Unlock()
		emit()
	})

	mu.Lock()
	initial := c.combine(a, b)
	ready = true
	mu.Unlock()
	onChange(initial)

	return newSubscription(func() {
		lsub.Cancel()
		rsub.Cancel()
	})
}

type notCondition struct {
	inner Condition
}

// Not inverts a condition.
func Not(inner Condition) Condition { return &notCondition{inner: inner} }

func (c *notCondition) IsSatisfied(rc *RunContext) bool {
	return !c.inner.IsSatisfied(rc)
}

func (c *notCondition) Subscribe(rc *RunContext, onChange func(bool)) *Subscription {
	var mu sync.Mutex
	current := c.inner.IsSatisfied(rc)
	ready := false

	sub := c.inner.Subscribe(rc, func(sat bool) {
		mu.Lock()
		current = sat
		if !ready {
			mu.Unlock()
			return
		}
		mu.Unlock()
		onChange(!sat)
	})

	mu.Lock()
	initial := !current
	ready = true
	mu.Unlock()
	onChange(initial)

	return newSubscription(sub.Cancel)
}
