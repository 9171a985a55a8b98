package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/CTAG07/Mashup/pkg/journal"
	"github.com/joho/godotenv"
	"github.com/kr/pretty"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var errNoInput = errors.New("no input files given")

// cliFlags holds the parsed command line. Generation flags only override the
// config when they were given explicitly; set records which ones were.
type cliFlags struct {
	configPath  string
	interactive bool
	serve       bool
	printConfig bool
	version     bool
	history     int
	prune       time.Duration

	order       int
	length      int
	unit        string
	seed        uint64
	skipHeader  bool
	temperature float64
	topK        int
	retries     int
	journal     bool

	set   map[string]bool
	files []string
}

func parseFlags(args []string, output io.Writer) (*cliFlags, error) {
	f := &cliFlags{}
	fs := flag.NewFlagSet("mashup", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), "Usage: mashup [flags] file...\n\nGenerates text from an n-gram Markov model of the given files.\n\nFlags:\n")
		fs.PrintDefaults()
	}

	fs.StringVar(&f.configPath, "config", "./mashup.json", "path to the JSON config file")
	fs.BoolVar(&f.interactive, "interactive", false, "choose each branching word yourself")
	fs.BoolVar(&f.serve, "serve", false, "run the HTTP API instead of generating")
	fs.BoolVar(&f.printConfig, "print-config", false, "print the effective configuration and exit")
	fs.BoolVar(&f.version, "version", false, "print version information and exit")
	fs.IntVar(&f.history, "history", 0, "print the last `N` journal runs and exit")
	fs.DurationVar(&f.prune, "prune", 0, "delete journal runs older than this `age` and exit")

	fs.IntVar(&f.order, "n", 0, "n-gram order (tokens of context)")
	fs.IntVar(&f.length, "length", 0, "number of tokens to generate")
	fs.StringVar(&f.unit, "unit", "", "token unit: word or character")
	fs.Uint64Var(&f.seed, "seed", 0, "random seed for reproducible output")
	fs.BoolVar(&f.skipHeader, "skip-header", false, "strip Project Gutenberg header and footer")
	fs.Float64Var(&f.temperature, "temperature", 0, "sampling temperature (1 = observed frequencies)")
	fs.IntVar(&f.topK, "top-k", 0, "sample only among the k most frequent suffixes")
	fs.IntVar(&f.retries, "retries", 0, "restarts allowed after reaching an unseen transition")
	fs.BoolVar(&f.journal, "journal", false, "record the run in the journal database")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	f.set = make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	f.files = fs.Args()
	return f, nil
}

// apply overrides config values with the flags that were set explicitly.
func (f *cliFlags) apply(cfg *Config) {
	g := cfg.Generation
	if f.set["n"] {
		g.Order = f.order
	}
	if f.set["length"] {
		g.Length = f.length
	}
	if f.set["unit"] {
		g.Unit = f.unit
	}
	if f.set["skip-header"] {
		g.SkipHeader = f.skipHeader
	}
	if f.set["temperature"] {
		g.Temperature = f.temperature
	}
	if f.set["top-k"] {
		g.TopK = f.topK
	}
	if f.set["retries"] {
		g.Retries = f.retries
	}
	if f.set["journal"] {
		cfg.Journal.Enabled = f.journal
	}
}

func (f *cliFlags) seedPtr() *uint64 {
	if !f.set["seed"] {
		return nil
	}
	seed := f.seed
	return &seed
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("mashup failed", "error", err)
		}
		os.Exit(1)
	}
}

// run executes one invocation of the tool.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if flags.version {
		_, _ = fmt.Fprintf(stdout, "mashup %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		return nil
	}

	// A missing .env is normal.
	_ = godotenv.Load()

	cfg, err := LoadConfig(flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	flags.apply(cfg)

	if flags.printConfig {
		_, err = pretty.Fprintf(stdout, "%# v\n", cfg)
		return err
	}
	if err = cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))

	var j *journal.Journal
	if cfg.Journal.Enabled || flags.history > 0 || flags.prune > 0 {
		var closeJournal func()
		j, closeJournal, err = openJournal(cfg.Journal, logger)
		if err != nil {
			return err
		}
		defer closeJournal()
	}

	switch {
	case flags.prune > 0:
		removed, err := j.Prune(ctx, time.Now().Add(-flags.prune))
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "Removed %d runs.\n", removed)
		return nil
	case flags.history > 0:
		return printHistory(ctx, stdout, j, flags.history)
	case flags.serve:
		api := NewAPI(cfg, j, logger)
		return serve(ctx, cfg.Server.Addr, api.Routes(), logger)
	}

	if len(flags.files) == 0 {
		return errNoInput
	}

	req := Request{
		Files:       flags.files,
		Generation:  *cfg.Generation,
		Seed:        flags.seedPtr(),
		Interactive: flags.interactive,
	}
	// Interactive runs are open-ended unless a length was asked for.
	if flags.interactive && flags.set["length"] {
		req.MaxLength = cfg.Generation.Length
	}

	res, err := NewMashup(j, logger).Run(ctx, req, stdin, stdout)
	if err != nil {
		return err
	}
	if flags.interactive {
		_, _ = fmt.Fprintf(stdout, "\nFINAL TEXT:\n")
	}
	_, err = fmt.Fprintln(stdout, res.Text)
	return err
}

// openJournal opens the journal database, creating its directory and schema
// when needed. The returned func closes both the journal and the database.
func openJournal(cfg *JournalConfig, logger *slog.Logger) (*journal.Journal, func(), error) {
	if err := os.MkdirAll(cfg.journalDir(), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	db, err := initDB(cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err = journal.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to setup journal schema: %w", err)
	}
	j, err := journal.New(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("error creating journal: %w", err)
	}
	j.SetLogger(logger)

	return j, func() {
		j.Close()
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}, nil
}

const historyOutputWidth = 60

func printHistory(ctx context.Context, w io.Writer, j *journal.Journal, limit int) error {
	runs, err := j.Recent(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCREATED\tUNIT\tN\tTOKENS\tSOURCES\tOUTPUT")
	for _, run := range runs {
		output := run.Output
		if utf8.RuneCountInString(output) > historyOutputWidth {
			output = string([]rune(output)[:historyOutputWidth]) + "..."
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%q\n",
			run.ID, run.CreatedAt.Local().Format(time.DateTime), run.Unit, run.Order, run.TokenCount, len(run.Sources), output)
	}
	return tw.Flush()
}
