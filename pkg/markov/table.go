package markov

import (
	"fmt"
	"sort"
	"strconv"
)

// NGram is an ordered tuple of consecutive tokens used as a lookup key in a
// Table. Two NGrams are equal when every position holds the same token.
type NGram []string

// String renders the n-gram with each token quoted, so whitespace tokens from
// character-level corpora stay visible in logs and errors.
func (g NGram) String() string {
	return fmt.Sprintf("%q", []string(g))
}

// Suffix is a token observed immediately after an n-gram, together with the
// number of times it was observed there.
type Suffix struct {
	Token string
	Count int
}

// Choice is a Suffix ranked for presentation. Index is its position in the
// ranking and Percent its share of the n-gram's total count (0-100).
type Choice struct {
	Suffix
	Index   int
	Percent float64
}

// chainToken is a suffix stored by vocabulary ID.
type chainToken struct {
	Id   int
	Freq int
}

// chainLink identifies a (prefix, next token) pair while building.
type chainLink struct {
	prefixID    int
	nextTokenID int
}

// prefixEntry holds one n-gram and its suffix distribution. chains keeps the
// order in which suffixes were first seen.
type prefixEntry struct {
	tokens []int
	chains []chainToken
	total  int
}

// Table maps every n-gram of a token sequence to the distribution of tokens
// that followed it. Tokens are interned into a vocabulary and n-grams are keyed
// by their space-separated vocabulary IDs, so token text can never collide
// with the key encoding.
//
// A Table is immutable once Build returns and may be shared by concurrent
// generators.
type Table struct {
	order     int
	vocab     []string
	vocabIDs  map[string]int
	prefixes  []prefixEntry
	prefixIDs map[string]int
	totalFreq int
}

// Build slides a window of n+1 tokens over tokens with stride 1. The first n
// tokens of each window form the key and the last one is counted as a suffix
// of that key. The result is a pure function of its input.
func Build(tokens []string, n int) (*Table, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidOrder, n)
	}
	if len(tokens) <= n {
		return nil, fmt.Errorf("%w: %d tokens cannot fill a window of %d", ErrInsufficientData, len(tokens), n+1)
	}

	t := &Table{
		order:     n,
		vocabIDs:  make(map[string]int),
		prefixIDs: make(map[string]int),
	}

	ids := make([]int, len(tokens))
	for i, token := range tokens {
		ids[i] = t.intern(token)
	}

	links := make(map[chainLink]int)
	var keyBuf []byte
	for i := 0; i+n < len(ids); i++ {
		prefix := ids[i : i+n]
		next := ids[i+n]

		keyBuf = appendPrefixKey(keyBuf[:0], prefix)
		prefixID, ok := t.prefixIDs[string(keyBuf)]
		if !ok {
			prefixID = len(t.prefixes)
			t.prefixIDs[string(keyBuf)] = prefixID
			t.prefixes = append(t.prefixes, prefixEntry{tokens: prefix})
		}

		entry := &t.prefixes[prefixID]
		link := chainLink{prefixID: prefixID, nextTokenID: next}
		if idx, seen := links[link]; seen {
			entry.chains[idx].Freq++
		} else {
			links[link] = len(entry.chains)
			entry.chains = append(entry.chains, chainToken{Id: next, Freq: 1})
		}
		entry.total++
		t.totalFreq++
	}

	return t, nil
}

func (t *Table) intern(token string) int {
	if id, ok := t.vocabIDs[token]; ok {
		return id
	}
	id := len(t.vocab)
	t.vocab = append(t.vocab, token)
	t.vocabIDs[token] = id
	return id
}

// appendPrefixKey writes the space-separated decimal IDs of prefix to buf.
func appendPrefixKey(buf []byte, prefix []int) []byte {
	for j, tokenID := range prefix {
		if j > 0 {
			buf = append(buf, ' ')
		}
		buf = strconv.AppendInt(buf, int64(tokenID), 10)
	}
	return buf
}

// Order returns the n-gram length the table was built with. A nil table has
// order 0.
func (t *Table) Order() int {
	if t == nil {
		return 0
	}
	return t.order
}

// Len returns the number of distinct n-grams in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.prefixes)
}

// TotalFrequency returns the sum of all suffix counts, which equals the
// number of windows in the source sequence.
func (t *Table) TotalFrequency() int {
	if t == nil {
		return 0
	}
	return t.totalFreq
}

// Keys returns every n-gram in the order it was first seen.
func (t *Table) Keys() []NGram {
	if t == nil {
		return nil
	}
	keys := make([]NGram, len(t.prefixes))
	for i := range t.prefixes {
		keys[i] = t.text(t.prefixes[i].tokens)
	}
	return keys
}

// Contains reports whether ngram is a key of the table.
func (t *Table) Contains(ngram NGram) bool {
	_, ok := t.lookup(ngram)
	return ok
}

// Suffixes returns the suffix distribution of ngram in first-seen order. The
// boolean is false when ngram is not a key.
func (t *Table) Suffixes(ngram NGram) ([]Suffix, bool) {
	entry, ok := t.lookup(ngram)
	if !ok {
		return nil, false
	}
	suffixes := make([]Suffix, len(entry.chains))
	for i, c := range entry.chains {
		suffixes[i] = Suffix{Token: t.vocab[c.Id], Count: c.Freq}
	}
	return suffixes, true
}

// Ranked returns the suffixes of ngram ordered by descending count. Ties keep
// first-seen order.
func (t *Table) Ranked(ngram NGram) ([]Choice, bool) {
	entry, ok := t.lookup(ngram)
	if !ok {
		return nil, false
	}
	return t.rank(entry), true
}

func (t *Table) rank(entry *prefixEntry) []Choice {
	choices := make([]Choice, len(entry.chains))
	for i, c := range entry.chains {
		choices[i] = Choice{
			Suffix:  Suffix{Token: t.vocab[c.Id], Count: c.Freq},
			Percent: 100 * float64(c.Freq) / float64(entry.total),
		}
	}
	sort.SliceStable(choices, func(i, j int) bool {
		return choices[i].Count > choices[j].Count
	})
	for i := range choices {
		choices[i].Index = i
	}
	return choices
}

func (t *Table) lookup(ngram NGram) (*prefixEntry, bool) {
	if t == nil || len(ngram) != t.order {
		return nil, false
	}
	ids := make([]int, len(ngram))
	for i, token := range ngram {
		id, ok := t.vocabIDs[token]
		if !ok {
			return nil, false
		}
		ids[i] = id
	}
	return t.lookupKey(appendPrefixKey(nil, ids))
}

// lookupKey finds the entry for an encoded prefix key.
func (t *Table) lookupKey(key []byte) (*prefixEntry, bool) {
	prefixID, ok := t.prefixIDs[string(key)]
	if !ok {
		return nil, false
	}
	return &t.prefixes[prefixID], true
}

func (t *Table) text(ids []int) NGram {
	out := make(NGram, len(ids))
	for i, id := range ids {
		out[i] = t.vocab[id]
	}
	return out
}
