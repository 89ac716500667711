// Package askdb implements the askdb command line.
package askdb

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/askdb/askdb/internal/app"
	"github.com/askdb/askdb/internal/assistant"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/export"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/present"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/secrets"
	"github.com/askdb/askdb/internal/seed"
)

const separatorWidth = 100

// DemoQuestions is the reference question set run by `ask --demo`.
var DemoQuestions = []string{
	"List all customers in Canada.",
	"Which employees are sales agents?",
	"What are the 5 most purchased tracks?",
	"Show total sales per country in decending order.",
	"Which artists have more than 5 albums?",
	"list three expensive albums",
	"What is the total revenue from sales?",
}

// SecretStore is the keyring surface the CLI needs.
type SecretStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

type Options struct {
	// Lookup replaces the process environment and .env file.
	Lookup config.LookupFunc
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Translator replaces the configured model client.
	Translator nl2sql.Translator
	// Secrets replaces the OS keyring.
	Secrets SecretStore
}

// exitError carries a runtime failure; anything else returned by cobra is a
// usage error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func runtimeError(err error) error {
	return &exitError{code: 1, err: err}
}

// Run executes the CLI and returns the process exit code: 0 on success, 1
// on a runtime failure and 2 on a usage error.
func Run(ctx context.Context, args []string, opts Options) int {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.Stdin == nil {
		opts.Stdin = strings.NewReader("")
	}

	r := &runner{opts: opts}
	root := r.rootCommand()
	root.SetArgs(args)
	root.SetIn(opts.Stdin)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			_, _ = fmt.Fprintln(opts.Stderr, pterm.NewStyle(pterm.FgRed).Sprint("error: "+exitErr.err.Error()))
		}
		return exitErr.code
	}
	_, _ = fmt.Fprintf(opts.Stderr, "error: %v\n\n", err)
	if cmd == nil {
		cmd = root
	}
	_, _ = fmt.Fprint(opts.Stderr, cmd.UsageString())
	return 2
}

type runner struct {
	opts   Options
	cfg    config.Config
	logger *slog.Logger
}

func (r *runner) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "askdb",
		Short:         "Ask questions about a SQL database in plain language",
		Long:          "askdb sends your question and the database schema to a hosted language model, runs the SQL it writes and prints the rows.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return r.loadConfig()
		},
	}
	root.AddCommand(
		r.askCommand(),
		r.schemaCommand(),
		r.queryCommand(),
		r.seedCommand(),
		r.keyCommand(),
	)
	return root
}

func (r *runner) loadConfig() error {
	var (
		cfg config.Config
		err error
	)
	if r.opts.Lookup != nil {
		cfg, err = config.Load("askdb", r.opts.Lookup)
	} else {
		cfg, err = config.LoadFromEnv("askdb")
	}
	if err != nil {
		return runtimeError(fmt.Errorf("load config: %w", err))
	}
	r.cfg = cfg
	r.logger = observability.NewLogger(cfg, r.opts.Stderr)
	return nil
}

type askFlags struct {
	demo     bool
	sqlOnly  bool
	format   string
	rowLimit int
	export   bool
	upload   bool
}

func (r *runner) askCommand() *cobra.Command {
	flags := &askFlags{}
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Translate a question to SQL, run it and print the result",
		Example: `  askdb ask "Which employees are sales agents?"
  askdb ask --demo
  askdb ask --format csv --row-limit 50 "List all customers in Canada."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			questions := DemoQuestions
			if !flags.demo {
				question := strings.TrimSpace(strings.Join(args, " "))
				if question == "" {
					return errors.New("a question is required (or use --demo)")
				}
				questions = []string{question}
			} else if len(args) > 0 {
				return errors.New("--demo does not take a question")
			}
			if flags.rowLimit < 0 {
				return errors.New("--row-limit must be >= 0")
			}
			if flags.upload {
				flags.export = true
			}
			return r.ask(cmd.Context(), questions, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.demo, "demo", false, "Run the built-in Chinook question set")
	cmd.Flags().BoolVar(&flags.sqlOnly, "sql-only", false, "Print the generated SQL without running it")
	cmd.Flags().StringVar(&flags.format, "format", "", "Output format: table, json or csv (default from ASKDB_DISPLAY_FORMAT)")
	cmd.Flags().IntVar(&flags.rowLimit, "row-limit", 0, "Maximum rows fetched per query (default from ASKDB_QUERY_ROW_LIMIT)")
	cmd.Flags().BoolVar(&flags.export, "export", false, "Write each result to a Parquet file in ASKDB_EXPORT_DIR")
	cmd.Flags().BoolVar(&flags.upload, "upload", false, "Upload each Parquet export to the object store and print a download link")
	return cmd
}

func (r *runner) ask(ctx context.Context, questions []string, flags *askFlags) error {
	if flags.upload {
		r.cfg.Export.Upload = true
	}
	renderOpts, err := r.renderOptions(flags.format)
	if err != nil {
		return err
	}

	db, dialect, err := r.openDatabase(ctx)
	if err != nil {
		return runtimeError(err)
	}
	defer func() { _ = db.Close() }()

	translator, err := r.translator(ctx, dialect)
	if err != nil {
		return runtimeError(err)
	}
	service, err := r.assistant(ctx, db, dialect, translator)
	if err != nil {
		return runtimeError(err)
	}

	var exporter *export.Exporter
	if flags.export && !flags.sqlOnly {
		exporter, err = app.NewExporter(ctx, r.cfg)
		if err != nil {
			return runtimeError(fmt.Errorf("configure export: %w", err))
		}
	}

	out := r.opts.Stdout
	failed := 0
	for _, question := range questions {
		if !r.answer(ctx, out, service, exporter, question, flags, renderOpts) {
			failed++
		}
	}
	if failed > 0 {
		return &exitError{code: 1, err: fmt.Errorf("%d of %d questions failed", failed, len(questions))}
	}
	return nil
}

// answer prints one question block and reports whether it succeeded. Failures
// are printed in place of the result so the remaining questions still run.
// Each question gets its own trace id for the log lines it produces.
func (r *runner) answer(ctx context.Context, out io.Writer, service *assistant.Service, exporter *export.Exporter, question string, flags *askFlags, renderOpts present.Options) bool {
	ctx = observability.ContextWithTraceID(ctx, observability.NewTraceID())
	bold := pterm.NewStyle(pterm.Bold)
	_, _ = fmt.Fprintf(out, "\n%s %s\n", bold.Sprint("Question:"), question)
	defer func() {
		_, _ = fmt.Fprintf(out, "\n%s\n\n", strings.Repeat("=", separatorWidth))
	}()

	if flags.sqlOnly {
		translated, err := service.Translate(ctx, question)
		_, _ = fmt.Fprintf(out, "%s %s\n", bold.Sprint("SQL Query:"), translated.SQL)
		if err != nil {
			r.printFailure(ctx, out, err)
			return false
		}
		return true
	}

	answer, err := service.Ask(ctx, question, flags.rowLimit)
	_, _ = fmt.Fprintf(out, "%s %s\n", bold.Sprint("SQL Query:"), answer.SQL)
	_, _ = fmt.Fprintln(out, bold.Sprint("Result:"))
	if err != nil {
		r.printFailure(ctx, out, err)
		return false
	}
	if err := present.Render(out, answer.Result, renderOpts); err != nil {
		r.printFailure(ctx, out, err)
		return false
	}

	if exporter != nil {
		output, err := exporter.Export(ctx, answer.Result, export.Target{Local: true, Upload: r.cfg.Export.Upload})
		if err != nil {
			_, _ = fmt.Fprintln(out, pterm.NewStyle(pterm.FgRed).Sprintf("Export failed: %v", err))
			return false
		}
		if output.Path != "" {
			_, _ = fmt.Fprintf(out, "Exported %d rows to %s\n", output.Rows, output.Path)
		}
		if output.URL != "" {
			_, _ = fmt.Fprintf(out, "Download: %s\n", output.URL)
		}
	}
	return true
}

func (r *runner) printFailure(ctx context.Context, out io.Writer, err error) {
	r.logger.Debug("question failed",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("stage", assistant.StageOf(err)),
		slog.Any("error", err))
	red := pterm.NewStyle(pterm.FgRed)
	switch {
	case assistant.StageOf(err) == assistant.StageTranslate:
		_, _ = fmt.Fprintln(out, red.Sprintf("Error generating SQL with LLM: %v", errors.Unwrap(err)))
	case assistant.StageOf(err) == assistant.StageGuard:
		_, _ = fmt.Fprintln(out, red.Sprintf("Query rejected: %v", errors.Unwrap(err)))
	case assistant.StageOf(err) == assistant.StageExecute:
		_, _ = fmt.Fprintln(out, red.Sprintf("Error executing SQL: %v", errors.Unwrap(err)))
	default:
		_, _ = fmt.Fprintln(out, red.Sprintf("Error: %v", err))
	}
}

func (r *runner) schemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the schema description sent to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, dialect, err := r.openDatabase(ctx)
			if err != nil {
				return runtimeError(err)
			}
			defer func() { _ = db.Close() }()

			loaded, err := schema.Load(ctx, db, dialect, schema.Options{SchemaName: r.cfg.Database.SchemaName})
			if err != nil {
				return runtimeError(err)
			}
			_, _ = fmt.Fprint(r.opts.Stdout, loaded.Text())
			return nil
		},
	}
}

func (r *runner) queryCommand() *cobra.Command {
	var (
		format   string
		rowLimit int
	)
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a SQL statement directly, without the model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rowLimit < 0 {
				return errors.New("--row-limit must be >= 0")
			}
			renderOpts, err := r.renderOptions(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, dialect, err := r.openDatabase(ctx)
			if err != nil {
				return runtimeError(err)
			}
			defer func() { _ = db.Close() }()

			service, err := r.assistant(ctx, db, dialect, nil)
			if err != nil {
				return runtimeError(err)
			}
			result, err := service.Execute(ctx, strings.Join(args, " "), rowLimit)
			if err != nil {
				return runtimeError(err)
			}
			if err := present.Render(r.opts.Stdout, result, renderOpts); err != nil {
				return runtimeError(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Output format: table, json or csv")
	cmd.Flags().IntVar(&rowLimit, "row-limit", 0, "Maximum rows fetched")
	return cmd
}

func (r *runner) seedCommand() *cobra.Command {
	var scriptPath string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the sample database from the bundled Chinook script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if scriptPath != "" {
				r.cfg.Seed.ScriptPath = scriptPath
			}
			result, err := r.seed(cmd.Context())
			if err != nil {
				return runtimeError(err)
			}
			if result.Skipped {
				_, _ = fmt.Fprintf(r.opts.Stdout, "%s already applied to %s\n", result.Script, r.cfg.Database.DSN)
				return nil
			}
			_, _ = fmt.Fprintf(r.opts.Stdout, "Applied %s to %s (%d statements)\n", result.Script, r.cfg.Database.DSN, result.Statements)
			return nil
		},
	}
	cmd.Flags().StringVar(&scriptPath, "script", "", "SQL script to apply instead of the bundled sample (e.g. Chinook_Sqlite.sql)")
	return cmd
}

func (r *runner) keyCommand() *cobra.Command {
	key := &cobra.Command{
		Use:   "key",
		Short: "Manage the model API key stored in the OS keyring",
	}
	key.AddCommand(&cobra.Command{
		Use:   "set [api-key]",
		Short: "Store the model API key (reads stdin when no argument is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := ""
			if len(args) == 1 {
				value = args[0]
			} else {
				line, err := bufio.NewReader(r.opts.Stdin).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return runtimeError(fmt.Errorf("read api key: %w", err))
				}
				value = line
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return errors.New("api key is empty")
			}
			store, err := r.secrets()
			if err != nil {
				return runtimeError(err)
			}
			if err := store.Set(secrets.KeyAIAPIKey, value); err != nil {
				return runtimeError(err)
			}
			_, _ = fmt.Fprintln(r.opts.Stdout, "API key stored")
			return nil
		},
	})
	key.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the stored model API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := r.secrets()
			if err != nil {
				return runtimeError(err)
			}
			if err := store.Delete(secrets.KeyAIAPIKey); err != nil {
				return runtimeError(err)
			}
			_, _ = fmt.Fprintln(r.opts.Stdout, "API key removed")
			return nil
		},
	})
	return key
}

func (r *runner) renderOptions(format string) (present.Options, error) {
	opts := present.Options{
		Format:      r.cfg.Display.Format,
		MaxRows:     r.cfg.Display.MaxRows,
		MaxColWidth: r.cfg.Display.MaxColWidth,
	}
	if format = strings.ToLower(strings.TrimSpace(format)); format != "" {
		switch format {
		case present.FormatTable, present.FormatJSON, present.FormatCSV:
			opts.Format = format
		default:
			return present.Options{}, fmt.Errorf("unsupported --format %q", format)
		}
	}
	return opts, nil
}

// openDatabase applies the seed script first when ASKDB_SEED_AUTO_APPLY is
// set, so a fresh checkout can ask questions immediately.
func (r *runner) openDatabase(ctx context.Context) (*sql.DB, database.Dialect, error) {
	if r.cfg.Seed.AutoApply {
		if _, err := r.seed(ctx); err != nil {
			return nil, "", err
		}
	}
	db, dialect, err := app.OpenDatabase(ctx, r.cfg)
	if err != nil {
		if r.cfg.Database.Driver == config.DriverSQLite {
			return nil, "", fmt.Errorf("%w (run `askdb seed` to create the sample database)", err)
		}
		return nil, "", err
	}
	return db, dialect, nil
}

func (r *runner) seed(ctx context.Context) (seed.Result, error) {
	script, err := app.SeedScript(r.cfg)
	if err != nil {
		return seed.Result{}, err
	}
	result, err := seed.Bootstrap(ctx, app.DatabaseConfig(r.cfg), script)
	if err != nil {
		return seed.Result{}, err
	}
	r.logger.Debug("seed script processed", slog.String("script", result.Script), slog.Bool("skipped", result.Skipped))
	return result, nil
}

func (r *runner) translator(ctx context.Context, dialect database.Dialect) (nl2sql.Translator, error) {
	if r.opts.Translator != nil {
		return r.opts.Translator, nil
	}
	var reader app.SecretReader
	if r.cfg.AI.APIKey == "" {
		store, err := r.secrets()
		if err != nil {
			r.logger.Debug("keyring unavailable", slog.Any("error", err))
		} else {
			reader = store
		}
	}
	return app.NewTranslator(ctx, r.cfg, dialect, reader)
}

func (r *runner) assistant(ctx context.Context, db *sql.DB, dialect database.Dialect, translator nl2sql.Translator) (*assistant.Service, error) {
	return assistant.New(ctx, assistant.Deps{
		DB:            db,
		Dialect:       dialect,
		SchemaOptions: schema.Options{SchemaName: r.cfg.Database.SchemaName},
		Translator:    translator,
		ReadOnly:      r.cfg.Query.ReadOnly,
		RowLimit:      r.cfg.Query.RowLimit,
		Logger:        r.logger,
	})
}

func (r *runner) secrets() (SecretStore, error) {
	if r.opts.Secrets != nil {
		return r.opts.Secrets, nil
	}
	return app.OpenSecrets(r.cfg)
}
