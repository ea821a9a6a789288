package ashquery

import "time"

// Status is the lifecycle phase of an operation's cached entry.
type Status int8

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// State is the serializable record of one path's cached value. It is mutated
// only by the owning store under its lock; subscribers receive copies.
//
// ValueUpdateCount and ErrorUpdateCount are monotone and incremented exactly
// once per logical run that reaches a terminal outcome; retried attempts
// inside a run do not touch them.
type State[V any] struct {
	Value            V         `json:"value"`
	HasValue         bool      `json:"has_value"`
	Status           Status    `json:"status"`
	Err              error     `json:"-"`
	ValueUpdateCount int64     `json:"value_update_count"`
	ErrorUpdateCount int64     `json:"error_update_count"`
	ActiveTasks      int       `json:"active_tasks"`
	LastUpdatedAt    time.Time `json:"last_updated_at"`
}

func (s State[V]) IsIdle() bool    { return s.Status == StatusIdle }
func (s State[V]) IsLoading() bool { return s.Status == StatusLoading }
func (s State[V]) IsSuccess() bool { return s.Status == StatusSuccess }
func (s State[V]) IsFailure() bool { return s.Status == StatusFailure }

// neverResolved reports that no run has ever reached a terminal outcome.
func (s State[V]) neverResolved() bool {
	return s.ValueUpdateCount == 0 && s.ErrorUpdateCount == 0
}
