package markov

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"testing"
)

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name   string
		order  int
		length int
		seed   uint64
	}{
		{name: "order 1 short", order: 1, length: 5, seed: 1},
		{name: "order 1 long", order: 1, length: 200, seed: 2},
		{name: "order 2", order: 2, length: 60, seed: 3},
		{name: "order 2 one step", order: 2, length: 3, seed: 4},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			table := mustBuild(t, fishText, tc.order)

			output, err := Generate(ctx, table, tc.length, WithSeed(tc.seed))
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if len(output) != tc.length {
				t.Fatalf("len(output) = %d, want %d", len(output), tc.length)
			}

			for i := 0; i+tc.order < len(output); i++ {
				key := NGram(output[i : i+tc.order])
				suffixes, ok := table.Suffixes(key)
				if !ok {
					t.Fatalf("window %s at %d is not a key", key, i)
				}
				next := output[i+tc.order]
				if !slices.ContainsFunc(suffixes, func(s Suffix) bool { return s.Token == next }) {
					t.Errorf("%q never followed %s in the corpus", next, key)
				}
			}
		})
	}
}

func TestGenerateLengthEqualsOrder(t *testing.T) {
	table := mustBuild(t, fishText, 2)

	output, err := Generate(context.Background(), table, 2, WithSeed(9))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(output) != 2 {
		t.Fatalf("len(output) = %d, want 2", len(output))
	}
	if !table.Contains(NGram(output)) {
		t.Errorf("output %v should be exactly one seed n-gram", output)
	}
}

func TestGenerateSeedIsReproducible(t *testing.T) {
	ctx := context.Background()
	table := mustBuild(t, fishText, 1)

	first, err := Generate(ctx, table, 40, WithSeed(1234))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	second, err := Generate(ctx, table, 40, WithSeed(1234))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("same seed produced different output:\n%v\n%v", first, second)
	}
}

func TestGenerateErrors(t *testing.T) {
	ctx := context.Background()
	table := mustBuild(t, fishText, 2)

	testCases := []struct {
		name   string
		table  *Table
		length int
		want   error
	}{
		{name: "nil table", table: nil, length: 5, want: ErrEmptyModel},
		{name: "zero table", table: &Table{}, length: 5, want: ErrEmptyModel},
		{name: "length below order", table: table, length: 1, want: ErrInvalidLength},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			output, err := Generate(ctx, tc.table, tc.length)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Generate() error = %v, want %v", err, tc.want)
			}
			if output != nil {
				t.Errorf("Generate() returned output %v alongside an error", output)
			}
		})
	}
}

func TestGenerateUnseenTransition(t *testing.T) {
	// Every walk over "a b c" runs into "c", which was never followed by anything.
	table := mustBuild(t, "a b c", 1)

	for seed := uint64(0); seed < 10; seed++ {
		_, err := Generate(context.Background(), table, 4, WithSeed(seed))
		if !errors.Is(err, ErrUnseenTransition) {
			t.Fatalf("seed %d: error = %v, want ErrUnseenTransition", seed, err)
		}
		var unseen *UnseenTransitionError
		if !errors.As(err, &unseen) {
			t.Fatalf("seed %d: error %T is not an *UnseenTransitionError", seed, err)
		}
		if !reflect.DeepEqual(unseen.Prefix, NGram{"c"}) {
			t.Errorf("seed %d: Prefix = %s, want [\"c\"]", seed, unseen.Prefix)
		}
		if unseen.Position < 2 || unseen.Position > 3 {
			t.Errorf("seed %d: Position = %d, want 2 or 3", seed, unseen.Position)
		}
	}
}

func TestGenerateCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	table := mustBuild(t, fishText, 1)
	if _, err := Generate(ctx, table, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("Generate() error = %v, want context.Canceled", err)
	}
}

func TestChooseNextTokenWeighting(t *testing.T) {
	const trials = 10000
	choices := []chainToken{{Id: 0, Freq: 3}, {Id: 1, Freq: 1}}
	options := newGenerateOptions([]GenerateOption{WithSeed(42)})

	hits := 0
	for i := 0; i < trials; i++ {
		if chooseNextToken(choices, 4, options) == 0 {
			hits++
		}
	}

	rate := float64(hits) / trials
	if rate < 0.72 || rate > 0.78 {
		t.Errorf("token with 3/4 of the weight chosen at rate %.3f, want about 0.75", rate)
	}
}

func TestChooseNextTokenOptions(t *testing.T) {
	choices := []chainToken{{Id: 7, Freq: 2}, {Id: 8, Freq: 5}, {Id: 9, Freq: 5}}
	original := slices.Clone(choices)

	testCases := []struct {
		name string
		opts []GenerateOption
		want []int
	}{
		{name: "temperature zero picks first most frequent", opts: []GenerateOption{WithTemperature(0)}, want: []int{8}},
		{name: "top 1 keeps first most frequent", opts: []GenerateOption{WithTopK(1)}, want: []int{8}},
		{name: "top 2 drops the rare token", opts: []GenerateOption{WithTopK(2)}, want: []int{8, 9}},
		{name: "high temperature stays in range", opts: []GenerateOption{WithTemperature(3)}, want: []int{7, 8, 9}},
		{name: "low temperature stays in range", opts: []GenerateOption{WithTemperature(0.2)}, want: []int{7, 8, 9}},
	}

	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			options := newGenerateOptions(append(tc.opts, WithSeed(uint64(i))))
			for trial := 0; trial < 200; trial++ {
				got := chooseNextToken(choices, 12, options)
				if !slices.Contains(tc.want, got) {
					t.Fatalf("chooseNextToken() = %d, want one of %v", got, tc.want)
				}
			}
			if !reflect.DeepEqual(choices, original) {
				t.Fatalf("chooseNextToken reordered the shared choices: %v", choices)
			}
		})
	}
}

func BenchmarkGenerate(b *testing.B) {
	corpus := createBenchmarkCorpus()
	ctx := context.Background()

	for _, order := range []int{1, 2, 3} {
		table, err := Build(corpus, order)
		if err != nil {
			b.Fatalf("Build() setup for benchmark failed: %v", err)
		}
		b.Run(fmt.Sprintf("Order%d", order), func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				// Dead ends are possible on real text; only unexpected errors fail.
				if _, err := Generate(ctx, table, 50, WithSeed(uint64(i))); err != nil && !errors.Is(err, ErrUnseenTransition) {
					b.Fatalf("Generate() failed: %v", err)
				}
			}
		})
	}
}
