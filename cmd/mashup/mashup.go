package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"

	"github.com/CTAG07/Mashup/pkg/corpus"
	"github.com/CTAG07/Mashup/pkg/journal"
	"github.com/CTAG07/Mashup/pkg/markov"
)

// Request describes one generation run.
type Request struct {
	Files      []string
	Generation GenerationConfig
	Seed       *uint64
	// Interactive runs hand each branch point to the user; MaxLength bounds
	// them when positive.
	Interactive bool
	MaxLength   int
}

// Result is the outcome of a run.
type Result struct {
	Tokens []string
	Text   string
	Table  markov.TableStats
	RunID  string
}

// Mashup wires the corpus tokenizer, the Markov table and the optional run
// journal together. It is shared by the CLI and the HTTP API.
type Mashup struct {
	journal *journal.Journal // nil when the journal is disabled
	logger  *slog.Logger
}

// NewMashup creates a Mashup. j may be nil.
func NewMashup(j *journal.Journal, logger *slog.Logger) *Mashup {
	return &Mashup{journal: j, logger: logger}
}

// prepared is a request whose corpus has been loaded and whose table is built.
type prepared struct {
	req    Request
	tok    *corpus.Tokenizer
	corpus *corpus.Corpus
	table  *markov.Table
	opts   []markov.GenerateOption
}

// prepare tokenizes the request's files and builds the table.
func (m *Mashup) prepare(ctx context.Context, req Request) (*prepared, error) {
	gen := req.Generation

	tok, err := gen.Tokenizer()
	if err != nil {
		return nil, err
	}
	c, err := tok.Load(req.Files...)
	if err != nil {
		return nil, err
	}

	table, err := markov.Build(c.Tokens, gen.Order)
	if err != nil {
		return nil, fmt.Errorf("failed to build table: %w", err)
	}
	stats := table.Stats()
	m.logger.InfoContext(ctx, "Table built",
		slog.Int("files", len(c.Sources)),
		slog.Int("tokens", len(c.Tokens)),
		slog.Int("order", stats.Order),
		slog.Int("prefixes", stats.Prefixes),
		slog.Int("branch_points", stats.BranchPoints),
		slog.Int("vocab_size", stats.VocabSize),
	)

	var rng *rand.Rand
	if req.Seed != nil {
		rng = markov.NewRand(*req.Seed)
	}
	return &prepared{
		req:    req,
		tok:    tok,
		corpus: c,
		table:  table,
		opts: []markov.GenerateOption{
			markov.WithRand(rng),
			markov.WithTemperature(gen.Temperature),
			markov.WithTopK(gen.TopK),
			markov.WithLogger(m.logger),
		},
	}, nil
}

// Run tokenizes the request's files, builds a table and generates from it.
// Interactive runs read commands from in and write the dialogue to out.
func (m *Mashup) Run(ctx context.Context, req Request, in io.Reader, out io.Writer) (*Result, error) {
	p, err := m.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	var tokens []string
	if req.Interactive {
		opts := append(p.opts, markov.WithMaxLength(req.MaxLength))
		tokens, err = markov.GenerateInteractive(ctx, p.table, in, out, opts...)
	} else {
		tokens, err = m.generate(ctx, p.table, req.Generation.Length, req.Generation.Retries, p.opts)
	}
	if err != nil {
		return nil, err
	}

	return m.finish(ctx, p, tokens), nil
}

// stream writes a prepared run to w one token at a time, calling flush after
// each write. On error the text written so far stays written.
func (m *Mashup) stream(ctx context.Context, p *prepared, w io.Writer, flush func()) (*Result, error) {
	s, err := markov.GenerateStream(ctx, p.table, p.req.Generation.Length, p.opts...)
	if err != nil {
		return nil, err
	}

	var (
		tokens   []string
		writeErr error
	)
	for token := range s.C {
		if writeErr != nil {
			continue // drain so the producer can exit
		}
		if len(tokens) > 0 {
			_, writeErr = io.WriteString(w, p.tok.Separator())
		}
		if writeErr == nil {
			_, writeErr = io.WriteString(w, token)
		}
		tokens = append(tokens, token)
		flush()
	}
	if writeErr != nil {
		return nil, fmt.Errorf("failed to write stream: %w", writeErr)
	}
	if err = s.Err(); err != nil {
		return nil, err
	}
	if _, err = io.WriteString(w, p.tok.Terminal()); err != nil {
		return nil, fmt.Errorf("failed to write stream: %w", err)
	}
	flush()

	return m.finish(ctx, p, tokens), nil
}

// finish joins the tokens and records the run when the journal is enabled.
func (m *Mashup) finish(ctx context.Context, p *prepared, tokens []string) *Result {
	res := &Result{
		Tokens: tokens,
		Text:   p.tok.Join(tokens),
		Table:  p.table.Stats(),
	}
	if m.journal == nil {
		return res
	}

	sources := make([]journal.Source, len(p.corpus.Sources))
	for i, src := range p.corpus.Sources {
		sources[i] = journal.Source{Path: src.Path, Tokens: src.Tokens}
	}
	run, err := m.journal.Record(ctx, journal.Run{
		Unit:         p.tok.Unit().String(),
		Order:        p.req.Generation.Order,
		TargetLength: p.req.Generation.Length,
		TokenCount:   len(tokens),
		Seed:         p.req.Seed,
		Interactive:  p.req.Interactive,
		Sources:      sources,
		Output:       res.Text,
	})
	if err != nil {
		// The text is still good; only the history entry is lost.
		m.logger.ErrorContext(ctx, "Failed to record run", slog.Any("error", err))
		return res
	}
	res.RunID = run.ID
	return res
}

// generate runs batch generation, restarting from a fresh random key up to
// retries times when the walk reaches an unseen transition.
func (m *Mashup) generate(ctx context.Context, table *markov.Table, length, retries int, opts []markov.GenerateOption) ([]string, error) {
	for attempt := 0; ; attempt++ {
		tokens, err := markov.Generate(ctx, table, length, opts...)
		if err == nil || !errors.Is(err, markov.ErrUnseenTransition) || attempt >= retries {
			return tokens, err
		}
		m.logger.WarnContext(ctx, "Generation reached an unseen transition, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("retries", retries),
			slog.Any("error", err),
		)
	}
}
