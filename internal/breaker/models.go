package breaker

import "time"

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Code maps a state onto the gauge encoding used by the metrics.
func (s State) Code() int {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// BreakerState is the persisted row shared by every worker process. All
// mutations go through a conditional update on Version; a plain read
// followed by a write is never correct here.
type BreakerState struct {
	Service      string     `json:"service"`
	State        State      `json:"state"`
	FailureCount int        `json:"failure_count"`
	SuccessCount int        `json:"success_count"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Version      int64      `json:"-"`
}
