package markov

import (
	"context"
	"fmt"
	"log/slog"
)

// TokenStream delivers the tokens of a streaming generation on C. C is closed
// once generation completes, fails or is cancelled; Err then reports why it
// stopped early.
type TokenStream struct {
	C   <-chan string
	err error
}

// Err returns nil when the stream delivered every requested token, the
// *UnseenTransitionError when the walk hit a dead end, or the context's error
// on cancellation. It must only be called after C has been closed.
func (s *TokenStream) Err() error { return s.err }

// GenerateStream performs the same walk as Generate but hands each token to
// the caller as soon as it is chosen, starting with the n seed tokens. The
// producing goroutine exits when the receiver stops draining C and ctx is
// cancelled.
func GenerateStream(ctx context.Context, t *Table, length int, opts ...GenerateOption) (*TokenStream, error) {
	if t.Len() == 0 {
		return nil, ErrEmptyModel
	}
	if length < t.order {
		return nil, fmt.Errorf("%w: length %d, order %d", ErrInvalidLength, length, t.order)
	}

	options := newGenerateOptions(opts)
	tokenChan := make(chan string)
	stream := &TokenStream{C: tokenChan}

	go func() {
		defer close(tokenChan)

		send := func(text string) bool {
			select {
			case <-ctx.Done():
				stream.err = ctx.Err()
				options.logger.DebugContext(ctx, "Generation stream cancelled by context")
				return false
			case tokenChan <- text:
				return true
			}
		}

		w := newWalk(t, options.rng, t.order)
		for _, text := range w.tokens() {
			if !send(text) {
				return
			}
		}

		for w.len() < length {
			entry, err := w.current()
			if err != nil {
				stream.err = err
				options.logger.DebugContext(ctx, "Generation stream terminated due to dead-end",
					slog.Int("generated_length", w.len()),
					slog.Int("target_length", length),
				)
				return
			}
			next := chooseNextToken(entry.chains, entry.total, options)
			if !send(t.vocab[next]) {
				return
			}
			w.push(next)
		}
	}()

	return stream, nil
}
