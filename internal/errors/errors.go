package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the runtime's failure categories.
var (
	// ErrConfig - bad static setup; fatal at start-up for the affected component only
	ErrConfig = errors.New("configuration error")

	// ErrTransport - I/O or protocol failure talking to an LLM or tool server
	ErrTransport = errors.New("transport error")

	// ErrProtocol - malformed JSON-RPC exchange (missing result, error member present)
	ErrProtocol = errors.New("protocol error")

	// ErrNotFound - resource not found (session, tool, model)
	ErrNotFound = errors.New("not found")

	// ErrTransient - retryable condition (timeout, rate limit, network)
	ErrTransient = errors.New("transient error")

	// ErrInternal - invariant violation; should not occur under correct driving
	ErrInternal = errors.New("internal error")
)

// InvalidTransitionError reports a state-machine event that is not legal in
// the current state. This is a programming-error guard, not a recoverable
// user-facing condition.
type InvalidTransitionError struct {
	Current   string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.Current, e.Requested)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInternal
}

// MaxTurnsError reports that a conversation hit its turn budget before the
// model produced a final answer.
type MaxTurnsError struct {
	MaxTurns int
}

func (e *MaxTurnsError) Error() string {
	return fmt.Sprintf("max interaction turns exceeded: %d", e.MaxTurns)
}

// IsMaxTurns reports whether err is (or wraps) a turn-budget violation.
func IsMaxTurns(err error) bool {
	var mt *MaxTurnsError
	return errors.As(err, &mt)
}
