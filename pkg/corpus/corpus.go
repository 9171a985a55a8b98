package corpus

import (
	"errors"
	"fmt"
	"os"
)

// ErrNoSources is returned when a corpus is loaded from an empty file list.
var ErrNoSources = errors.New("corpus: no source files")

// Source records how many tokens one file contributed to a Corpus.
type Source struct {
	Path   string `json:"path"`
	Tokens int    `json:"tokens"`
}

// Corpus is the concatenated token sequence of one or more files. Windows
// spanning the boundary between two files are part of the sequence, which is
// what lets a model mash two authors together.
type Corpus struct {
	Tokens  []string
	Sources []Source
}

// TokenizeFile opens the file at path and tokenizes its contents.
func (t *Tokenizer) TokenizeFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus file: %w", err)
	}
	defer func() { _ = f.Close() }()

	tokens, err := t.Tokenize(f)
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize %s: %w", path, err)
	}
	return tokens, nil
}

// Load tokenizes every file in order and concatenates the results.
func (t *Tokenizer) Load(paths ...string) (*Corpus, error) {
	if len(paths) == 0 {
		return nil, ErrNoSources
	}
	c := &Corpus{Sources: make([]Source, 0, len(paths))}
	for _, path := range paths {
		tokens, err := t.TokenizeFile(path)
		if err != nil {
			return nil, err
		}
		c.Tokens = append(c.Tokens, tokens...)
		c.Sources = append(c.Sources, Source{Path: path, Tokens: len(tokens)})
	}
	return c, nil
}

// TokenizeFiles is Load without the per-file bookkeeping.
func (t *Tokenizer) TokenizeFiles(paths ...string) ([]string, error) {
	c, err := t.Load(paths...)
	if err != nil {
		return nil, err
	}
	return c.Tokens, nil
}

// SourcePaths returns the file paths in load order.
func (c *Corpus) SourcePaths() []string {
	paths := make([]string, len(c.Sources))
	for i, s := range c.Sources {
		paths[i] = s.Path
	}
	return paths
}
