package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// Unit selects the granularity of tokens.
type Unit int

const (
	// UnitWord splits lines on whitespace into lowercase words.
	UnitWord Unit = iota
	// UnitCharacter emits every rune, whitespace and newlines included.
	UnitCharacter
)

// String returns the canonical name of the unit.
func (u Unit) String() string {
	switch u {
	case UnitWord:
		return "word"
	case UnitCharacter:
		return "character"
	default:
		return fmt.Sprintf("Unit(%d)", int(u))
	}
}

// ErrUnknownUnit is returned by ParseUnit for unrecognised names.
var ErrUnknownUnit = errors.New("corpus: unknown unit")

// ParseUnit converts a unit name such as "word" or "char" into a Unit.
func ParseUnit(name string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "word", "words", "w":
		return UnitWord, nil
	case "character", "characters", "char", "chars", "c":
		return UnitCharacter, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, name)
	}
}

// Tokenizer splits text into tokens and joins generated tokens back into
// text. Its behavior can be customized with functional options.
type Tokenizer struct {
	unit            Unit
	splitHyphens    bool
	keepPunctuation bool
	skipHeader      bool
	separator       string
	terminal        string
}

// Option Is a function that configures a Tokenizer.
type Option func(*Tokenizer)

// WithUnit Sets whether tokens are words or characters.
// Default: UnitWord
func WithUnit(u Unit) Option {
	return func(t *Tokenizer) {
		t.unit = u
	}
}

// WithSplitHyphens Sets whether "-" is replaced by a space before splitting,
// so "well-known" becomes two words. In character mode the hyphen becomes a
// space token.
// Default: true
func WithSplitHyphens(split bool) Option {
	return func(t *Tokenizer) {
		t.splitHyphens = split
	}
}

// WithKeepPunctuation Sets whether leading and trailing punctuation stays
// attached to words. Character mode ignores it.
// Default: false
func WithKeepPunctuation(keep bool) Option {
	return func(t *Tokenizer) {
		t.keepPunctuation = keep
	}
}

// WithSkipHeader Sets whether Project Gutenberg boilerplate is removed
// before tokenizing. See StripGutenberg.
// Default: false
func WithSkipHeader(skip bool) Option {
	return func(t *Tokenizer) {
		t.skipHeader = skip
	}
}

// WithSeparator Sets the string used for joining tokens.
// Default: " "
func WithSeparator(sep string) Option {
	return func(t *Tokenizer) {
		t.separator = sep
	}
}

// WithTerminal Sets the mark appended to joined output.
// Default: "."
func WithTerminal(terminal string) Option {
	return func(t *Tokenizer) {
		t.terminal = terminal
	}
}

// NewTokenizer creates a new tokenizer with default settings, which can be
// overridden by providing one or more Option functions.
func NewTokenizer(opts ...Option) *Tokenizer {
	t := &Tokenizer{
		unit:         UnitWord,
		splitHyphens: true,
		separator:    " ",
		terminal:     ".",
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Unit returns the configured token unit.
func (t *Tokenizer) Unit() Unit { return t.unit }

// Separator returns the string placed between joined tokens.
func (t *Tokenizer) Separator() string { return t.separator }

// Terminal returns the mark appended after the last token.
func (t *Tokenizer) Terminal() string { return t.terminal }

// Join builds output text from generated tokens: tokens separated by the
// configured separator, followed by the terminal mark.
func (t *Tokenizer) Join(tokens []string) string {
	return strings.Join(tokens, t.separator) + t.terminal
}

// Tokenize reads r to the end and returns all of its tokens in order.
func (t *Tokenizer) Tokenize(r io.Reader) ([]string, error) {
	stream, err := t.NewStream(r)
	if err != nil {
		return nil, err
	}
	var tokens []string
	for {
		token, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return tokens, nil
		}
		if err != nil {
			return nil, fmt.Errorf("tokenizer error: %w", err)
		}
		tokens = append(tokens, token)
	}
}

// NewStream returns a Stream over r. When header skipping is enabled the whole
// input is read up front, since the end marker can only be found by looking
// ahead.
func (t *Tokenizer) NewStream(r io.Reader) (*Stream, error) {
	if t.skipHeader {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read text: %w", err)
		}
		r = strings.NewReader(StripGutenberg(string(data)))
	}
	return &Stream{
		reader:    bufio.NewReader(r),
		tokenizer: t,
	}, nil
}

// splitLine appends the tokens of one line (including its newline, if any) to
// dst.
func (t *Tokenizer) splitLine(line string, dst []string) []string {
	if t.splitHyphens {
		line = strings.ReplaceAll(line, "-", " ")
	}

	if t.unit == UnitCharacter {
		for _, r := range line {
			dst = append(dst, string(r))
		}
		return dst
	}

	for _, word := range strings.Fields(line) {
		if !t.keepPunctuation {
			word = strings.TrimFunc(word, unicode.IsPunct)
		}
		if word == "" {
			continue
		}
		dst = append(dst, strings.ToLower(word))
	}
	return dst
}

// Stream is a stateful tokenizer over an io.Reader that returns one token at
// a time.
type Stream struct {
	reader    *bufio.Reader
	tokenizer *Tokenizer
	buffer    []string
	err       error
}

// Next returns the next token from the stream. When the stream is exhausted,
// it returns an empty string and io.EOF. Any other error indicates a problem
// reading from the underlying reader.
func (s *Stream) Next() (string, error) {
	for len(s.buffer) == 0 { // Loop until we have tokens
		if s.err != nil {
			return "", s.err
		}
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.err = err
		}
		if line != "" {
			s.buffer = s.tokenizer.splitLine(line, s.buffer[:0])
		}
	}

	token := s.buffer[0]
	s.buffer = s.buffer[1:] // Consume the token
	return token, nil
}
