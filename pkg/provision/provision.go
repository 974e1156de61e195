// Package provision holds the outcome type shared by the idempotent create operations.
package provision

// Result reports whether an idempotent create call made a new resource or found one in place.
type Result int

const (
	Created Result = iota
	AlreadyExisted
)

func (r Result) String() string {
	switch r {
	case Created:
		return "created"
	case AlreadyExisted:
		return "already existed"
	default:
		return "unknown"
	}
}

// Outcome names the resource an idempotent call acted on.
type Outcome struct {
	Kind   string
	Name   string
	Result Result
}
