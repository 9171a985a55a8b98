package markov

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
)

// generateOptions Is used by the generate functions to configure default options.
type generateOptions struct {
	rng         *rand.Rand
	temperature float64
	topK        int
	maxLength   int
	logger      *slog.Logger
}

// GenerateOption is a function that configures generation parameters. It's used
// as a variadic argument in Generate and GenerateInteractive.
type GenerateOption func(*generateOptions)

// NewRand returns the PCG-backed generator WithSeed uses. Sharing one across
// several Generate calls through WithRand continues a single stream instead
// of replaying it.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// WithSeed makes generation reproducible by drawing every random decision
// from a PCG source seeded with seed.
func WithSeed(seed uint64) GenerateOption {
	return func(o *generateOptions) { o.rng = NewRand(seed) }
}

// WithRand supplies the random source directly. A nil source is ignored.
func WithRand(r *rand.Rand) GenerateOption {
	return func(o *generateOptions) {
		if r != nil {
			o.rng = r
		}
	}
}

// WithTemperature adjusts the randomness of the token selection.
// A value of 1.0 is standard weighted random selection, where a suffix is
// picked with probability count/total.
// Values > 1.0 increase randomness (making less frequent tokens more likely).
// Values < 1.0 decrease randomness (making more frequent tokens even more likely).
// A value of 0 or less results in deterministic selection (always choosing the
// most frequent token, first seen on ties).
func WithTemperature(t float64) GenerateOption {
	return func(o *generateOptions) { o.temperature = t }
}

// WithTopK restricts the token selection pool to the top `k` most frequent tokens
// at each step. A value of 0 disables Top-K sampling.
func WithTopK(k int) GenerateOption {
	return func(o *generateOptions) { o.topK = k }
}

// WithMaxLength bounds interactive generation to n tokens. Zero means the
// session runs until the user quits. Generate ignores it and uses its length
// argument instead.
func WithMaxLength(n int) GenerateOption {
	return func(o *generateOptions) { o.maxLength = n }
}

// WithLogger sets the logger used for generation diagnostics. By default, all
// logs are discarded.
func WithLogger(logger *slog.Logger) GenerateOption {
	return func(o *generateOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newGenerateOptions(opts []GenerateOption) *generateOptions {
	options := &generateOptions{
		temperature: 1.0,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.rng == nil {
		options.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return options
}

// Generate performs a frequency-weighted random walk over t and returns
// exactly length tokens. The walk starts from an n-gram chosen uniformly from
// the table's keys, then repeatedly samples a suffix of the trailing n tokens.
//
// It returns ErrEmptyModel for an empty table, ErrInvalidLength when length is
// shorter than the table's order, and an *UnseenTransitionError when the walk
// reaches an n-gram that has no recorded suffix.
func Generate(ctx context.Context, t *Table, length int, opts ...GenerateOption) ([]string, error) {
	if t.Len() == 0 {
		return nil, ErrEmptyModel
	}
	if length < t.order {
		return nil, fmt.Errorf("%w: length %d, order %d", ErrInvalidLength, length, t.order)
	}

	options := newGenerateOptions(opts)
	w := newWalk(t, options.rng, length)

	for w.len() < length {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := w.current()
		if err != nil {
			options.logger.DebugContext(ctx, "Generation terminated due to dead-end",
				slog.Int("order", t.order),
				slog.Int("generated_length", w.len()),
				slog.Int("target_length", length),
			)
			return nil, err
		}
		w.push(chooseNextToken(entry.chains, entry.total, options))
	}

	options.logger.DebugContext(ctx, "Generation terminated by reaching target length",
		slog.Int("order", t.order),
		slog.Int("generated_length", w.len()),
	)
	return w.tokens(), nil
}

// walk is the per-call state of a generation: the growing output, kept as
// vocabulary IDs, and a reusable key buffer.
type walk struct {
	table  *Table
	ids    []int
	keyBuf []byte
}

func newWalk(t *Table, rng *rand.Rand, capacity int) *walk {
	start := t.prefixes[rng.IntN(len(t.prefixes))].tokens
	ids := make([]int, len(start), max(capacity, len(start)))
	copy(ids, start)
	return &walk{table: t, ids: ids}
}

func (w *walk) len() int { return len(w.ids) }

func (w *walk) push(id int) { w.ids = append(w.ids, id) }

// current returns the suffix distribution of the trailing n-gram.
func (w *walk) current() (*prefixEntry, error) {
	prefix := w.ids[len(w.ids)-w.table.order:]
	w.keyBuf = appendPrefixKey(w.keyBuf[:0], prefix)
	entry, ok := w.table.lookupKey(w.keyBuf)
	if !ok {
		return nil, &UnseenTransitionError{Prefix: w.table.text(prefix), Position: len(w.ids)}
	}
	return entry, nil
}

func (w *walk) tokens() []string {
	return w.table.text(w.ids)
}

// chooseNextToken abstracts the token selection logic from the generation loop.
// It never reorders choices, which belong to the shared table.
func chooseNextToken(choices []chainToken, totalFreq int, options *generateOptions) int {
	var nextToken int

	// topK filtering
	if options.topK > 0 && options.topK < len(choices) {
		ranked := make([]chainToken, len(choices))
		copy(ranked, choices)
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Freq > ranked[j].Freq
		})
		choices = ranked[:options.topK]
		totalFreq = 0
		for _, choice := range choices {
			totalFreq += choice.Freq
		}
	}

	// temperature selection
	if options.temperature <= 0 { // Deterministic
		maxFreq := -1
		for _, choice := range choices {
			if choice.Freq > maxFreq {
				maxFreq = choice.Freq
				nextToken = choice.Id
			}
		}
	} else if options.temperature == 1.0 { // Standard weighted random
		randChoice := options.rng.IntN(totalFreq)
		for _, choice := range choices {
			randChoice -= choice.Freq
			if randChoice < 0 {
				nextToken = choice.Id
				break
			}
		}
	} else { // Temperature-based sampling
		logProbabilities := make([]float64, len(choices))
		epsilon := math.Inf(-1)
		for i, choice := range choices {
			lp := math.Log(float64(choice.Freq)) / options.temperature
			logProbabilities[i] = lp
			if lp > epsilon {
				epsilon = lp
			}
		}
		var totalWeight float64
		weights := make([]float64, len(choices))
		for i, lp := range logProbabilities {
			w := math.Exp(lp - epsilon)
			weights[i] = w
			totalWeight += w
		}
		nextToken = choices[len(choices)-1].Id
		randChoice := options.rng.Float64() * totalWeight
		for i, choice := range choices {
			randChoice -= weights[i]
			if randChoice < 0 {
				nextToken = choice.Id
				break
			}
		}
	}
	return nextToken
}
