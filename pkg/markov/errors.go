package markov

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOrder is returned by Build when the requested n-gram length is
	// not a positive integer.
	ErrInvalidOrder = errors.New("markov: order must be at least 1")
	// ErrInsufficientData is returned by Build when the token sequence is too
	// short to form a single window of order+1 tokens.
	ErrInsufficientData = errors.New("markov: not enough tokens to build a table")
	// ErrEmptyModel is returned when generation is requested against a nil or
	// empty table.
	ErrEmptyModel = errors.New("markov: table has no entries")
	// ErrInvalidLength is returned when the requested output length is shorter
	// than the table's order.
	ErrInvalidLength = errors.New("markov: target length is shorter than the order")
	// ErrUnseenTransition matches any *UnseenTransitionError under errors.Is.
	ErrUnseenTransition = errors.New("markov: unseen transition")
)

// UnseenTransitionError reports that a random walk reached an n-gram that was
// never recorded with a successor, so the walk cannot continue. This happens
// when the walk lands on the final n-gram of the source sequence and that
// n-gram appears nowhere else.
type UnseenTransitionError struct {
	// Prefix is the trailing n-gram that has no entry in the table.
	Prefix NGram
	// Position is the number of tokens generated when the walk stopped.
	Position int
}

func (e *UnseenTransitionError) Error() string {
	return fmt.Sprintf("markov: unseen transition from %s after %d tokens", e.Prefix, e.Position)
}

// Is lets errors.Is(err, ErrUnseenTransition) match.
func (e *UnseenTransitionError) Is(target error) bool {
	return target == ErrUnseenTransition
}
