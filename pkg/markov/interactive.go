package markov

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// State is the state of an interactive generation session.
type State int

const (
	// StateAwaitingChoice means the session will present the next branch point.
	StateAwaitingChoice State = iota
	// StateDone means the session has finished and holds its final output.
	StateDone
)

// CommandKind tags the variants of a parsed user command.
type CommandKind int

const (
	// CommandInvalid is any input that is not one of the other commands.
	CommandInvalid CommandKind = iota
	// CommandSelect picks a ranked suffix by its index.
	CommandSelect
	// CommandRandom samples the next token exactly like batch generation.
	CommandRandom
	// CommandQuit ends the session early.
	CommandQuit
)

// Command is one parsed line of interactive input.
type Command struct {
	Kind  CommandKind
	Index int    // Valid when Kind is CommandSelect.
	Raw   string // The line as entered, without the trailing newline.
}

// ParseCommand interprets a line of input against a list of n ranked choices.
// "r"/"random" and "q"/"quit" are matched case-insensitively; a decimal index
// must fall in [0, n).
func ParseCommand(line string, n int) Command {
	cmd := Command{Kind: CommandInvalid, Raw: line}
	word := strings.ToLower(strings.TrimSpace(line))
	switch word {
	case "r", "random":
		cmd.Kind = CommandRandom
	case "q", "quit":
		cmd.Kind = CommandQuit
	default:
		idx, err := strconv.Atoi(word)
		if err == nil && idx >= 0 && idx < n && strconv.Itoa(idx) == word {
			cmd.Kind = CommandSelect
			cmd.Index = idx
		}
	}
	return cmd
}

// session is the state machine behind GenerateInteractive.
type session struct {
	walk    *walk
	in      *bufio.Scanner
	out     io.Writer
	options *generateOptions
	state   State
	// rejected suppresses the next re-display of the text and choices after
	// invalid input, so only the rejection message repeats.
	rejected bool
	// forced counts tokens appended without a branch point since the last
	// prompt. Once it exceeds the number of keys the walk is in a cycle, which
	// ends an unbounded session; a bounded one runs on to its length.
	forced int
}

// GenerateInteractive runs a generation where the user picks each branch.
// It seeds the output like Generate, then at every n-gram with more than one
// suffix writes the text so far and the ranked suffixes to out and reads one
// command per line from in. N-grams with a single suffix are extended without
// prompting.
//
// The session ends when the user quits, in reaches end of input, or the
// WithMaxLength bound is reached. Without a bound it also ends when the walk
// enters a cycle that never branches again. An *UnseenTransitionError is returned together
// with the tokens generated before the dead end.
func GenerateInteractive(ctx context.Context, t *Table, in io.Reader, out io.Writer, opts ...GenerateOption) ([]string, error) {
	if t.Len() == 0 {
		return nil, ErrEmptyModel
	}
	options := newGenerateOptions(opts)
	if options.maxLength > 0 && options.maxLength < t.order {
		return nil, fmt.Errorf("%w: length %d, order %d", ErrInvalidLength, options.maxLength, t.order)
	}

	s := &session{
		walk:    newWalk(t, options.rng, options.maxLength),
		in:      bufio.NewScanner(in),
		out:     out,
		options: options,
		state:   StateAwaitingChoice,
	}

	for s.state != StateDone {
		if err := ctx.Err(); err != nil {
			return s.walk.tokens(), err
		}
		if err := s.step(); err != nil {
			options.logger.DebugContext(ctx, "Interactive generation stopped",
				slog.Int("generated_length", s.walk.len()),
				slog.Any("error", err),
			)
			return s.walk.tokens(), err
		}
	}

	options.logger.DebugContext(ctx, "Interactive generation finished",
		slog.Int("generated_length", s.walk.len()),
	)
	return s.walk.tokens(), nil
}

// step advances the session by at most one token.
func (s *session) step() error {
	if s.options.maxLength > 0 && s.walk.len() >= s.options.maxLength {
		s.state = StateDone
		return nil
	}

	entry, err := s.walk.current()
	if err != nil {
		return err
	}
	if len(entry.chains) == 1 {
		s.forced++
		if s.options.maxLength == 0 && s.forced > s.walk.table.Len() {
			s.printf("\nNo further choices can be reached, stopping.\n")
			s.state = StateDone
			return nil
		}
		s.walk.push(entry.chains[0].Id)
		return nil
	}
	s.forced = 0

	choices := s.walk.table.rank(entry)
	if !s.rejected {
		s.display(choices)
	}
	s.rejected = false

	s.printf("Enter the number of the word you choose: ")
	line, err := s.readLine()
	if errors.Is(err, io.EOF) {
		s.printf("\nEnd of input, stopping.\n")
		s.state = StateDone
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read choice: %w", err)
	}

	cmd := ParseCommand(line, len(choices))
	switch cmd.Kind {
	case CommandSelect:
		chosen := choices[cmd.Index].Token
		s.walk.push(s.walk.table.vocabIDs[chosen])
		s.printf("You chose the next word: %q\n", chosen)
	case CommandRandom:
		id := chooseNextToken(entry.chains, entry.total, s.options)
		s.walk.push(id)
		s.printf("You chose to randomly select the next word: %q\n", s.walk.table.vocab[id])
	case CommandQuit:
		s.printf("Quitting.\n")
		s.state = StateDone
	default:
		s.printf("%s is not a valid choice.\n\n", cmd.Raw)
		s.printf("To select the next word, enter the number next to it.\n")
		s.printf("To have the next word chosen randomly, enter \"r\" or \"random\".\n")
		s.printf("To quit, enter \"q\" or \"quit\".\n\n")
		s.rejected = true
	}
	return nil
}

func (s *session) display(choices []Choice) {
	s.printf("\nTEXT SO FAR:\n%s\n", strings.Join(s.walk.tokens(), " "))
	s.printf("\nNEXT WORDS:\n")
	for _, c := range choices {
		s.printf("%d: %q, %.1f%%\n", c.Index, c.Token, c.Percent)
	}
	s.printf("\n")
}

func (s *session) readLine() (string, error) {
	if !s.in.Scan() {
		if err := s.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.in.Text(), nil
}

func (s *session) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}
