package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/docflow"
	"github.com/deepnoodle-ai/docflow/llm"
)

// CLI configuration
type cliConfig struct {
	ConfigFile string
	Inputs     []string
	BaseDir    string
	Resume     string
	Decisions  map[string]string
	Verbose    bool
	JSON       bool
}

func main() {
	cli := parseFlags()

	cfg, err := loadConfig(cli)
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}

	if cli.Resume == "" && len(cli.Inputs) == 0 {
		color.Red("Error: at least one input file is required")
		flag.Usage()
		os.Exit(1)
	}
	if len(cfg.RenderCommand) == 0 {
		color.Red("Error: render_command is required in the config file")
		os.Exit(1)
	}
	if len(cfg.LintCommand) == 0 {
		cfg.LintCommand = []string{"markdownlint", "--json"}
	}

	logger := setupLogger(cli)

	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = cfg.BaseDir + "/state"
	}
	stateStore, err := docflow.NewFileStateStore(stateDir)
	if err != nil {
		log.Fatalf("Failed to create state store: %v", err)
	}

	ctx := context.Background()

	var session *docflow.Session
	var state *docflow.State
	if cli.Resume != "" {
		session, state, err = resumeSession(ctx, cli, cfg, stateStore, logger)
	} else {
		session, state, err = startSession(cli, cfg, logger)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}

	generator, err := llm.NewAnthropicGenerator(llm.AnthropicOptions{
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	})
	if err != nil {
		log.Fatalf("Failed to create generator: %v", err)
	}

	engine, err := docflow.NewEngine(docflow.EngineOptions{
		Session:   session,
		Generator: generator,
		Renderer: &docflow.ExecRenderer{
			Command: cfg.RenderCommand,
			Timeout: cfg.RenderTimeout.Std(),
		},
		Linter: &docflow.ExecLinter{
			Command: cfg.LintCommand,
			Timeout: cfg.LintTimeout.Std(),
		},
		StateStore:            stateStore,
		EventLog:              docflow.NewFileEventLog(session.LogsDir()),
		Logger:                logger,
		MaxFixAttempts:        cfg.MaxFixAttempts,
		MaxConversionAttempts: cfg.MaxConversionAttempts,
		MaxRetries:            cfg.MaxRetries,
		GenerateTimeout:       cfg.GenerateTimeout.Std(),
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	color.Green("Starting pipeline (session: %s)...", session.ID())

	err = engine.Run(ctx, state)
	switch {
	case errors.Is(err, docflow.ErrAwaitingInput):
		fmt.Println()
		color.Yellow("Input needed: %s", state.PendingQuestion)
		color.White("Resume with: %s -resume %s -decision <ref>=<path|skip>", os.Args[0], session.ID())
	case err != nil:
		color.Red("Pipeline failed: %v", err)
		color.White("Failure report: %s", session.Path(docflow.ErrorReportFileName))
		os.Exit(1)
	default:
		color.Green("Pipeline complete!")
		color.White("Output: %s", session.OutputPath())
		color.White("Quality score: %d", state.QualityScore)
	}
}

func parseFlags() *cliConfig {
	cli := &cliConfig{
		Decisions: make(map[string]string),
	}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to the YAML config file (optional)")
	flag.StringVar(&cli.ConfigFile, "c", "", "Path to the YAML config file (shorthand)")

	var inputFlags stringSlice
	flag.Var(&inputFlags, "input", "Input file to convert (can be used multiple times)")
	flag.Var(&inputFlags, "i", "Input file to convert (shorthand, can be used multiple times)")

	flag.StringVar(&cli.BaseDir, "base-dir", "", "Directory for session sandboxes (overrides config)")
	flag.StringVar(&cli.Resume, "resume", "", "Resume the session with this ID")
	flag.StringVar(&cli.Resume, "r", "", "Resume the session with this ID (shorthand)")

	var decisionFlags stringSlice
	flag.Var(&decisionFlags, "decision", "Answer for a missing reference in format ref=path or ref=skip (can be used multiple times)")
	flag.Var(&decisionFlags, "d", "Answer for a missing reference (shorthand)")

	flag.BoolVar(&cli.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&cli.Verbose, "v", false, "Enable verbose logging (shorthand)")
	flag.BoolVar(&cli.JSON, "json", false, "Emit logs as JSON")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `docflow - convert text inputs into validated DOCX documents

Usage: %s [options] -input <file.md>

Examples:
  # Convert a document
  %s -input notes.md

  # Convert with a config file and verbose logging
  %s -config docflow.yaml -input report.txt -v

  # Resume a session that asked about missing images
  %s -resume sess_01h455vb4pex5vsknk084sn02q -decision diagram.png=skip

Options:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()

	cli.Inputs = inputFlags
	for _, d := range decisionFlags {
		parts := strings.SplitN(d, "=", 2)
		if len(parts) != 2 {
			fmt.Fprintf(os.Stderr, "Error: invalid decision format '%s'. Use ref=path or ref=skip\n", d)
			os.Exit(1)
		}
		cli.Decisions[parts[0]] = parts[1]
	}

	return cli
}

// Custom flag type for handling multiple values
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func loadConfig(cli *cliConfig) (*docflow.Config, error) {
	cfg := docflow.DefaultConfig()
	if cli.ConfigFile != "" {
		loaded, err := docflow.LoadConfigFile(cli.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cli.BaseDir != "" {
		cfg.BaseDir = cli.BaseDir
	}
	return cfg, nil
}

func setupLogger(cli *cliConfig) *slog.Logger {
	if cli.JSON {
		return docflow.NewJSONLogger()
	}
	level := slog.LevelWarn
	if cli.Verbose {
		level = slog.LevelDebug
	}
	return docflow.NewLoggerWithLevel(level)
}

// startSession sanitizes the inputs, creates a fresh sandbox, and copies the
// inputs into it.
func startSession(cli *cliConfig, cfg *docflow.Config, logger *slog.Logger) (*docflow.Session, *docflow.State, error) {
	sanitizer := docflow.NewSanitizer(cfg.Sanitizer)

	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	for _, input := range cli.Inputs {
		if _, err := sanitizer.Validate(input, cwd); err != nil {
			return nil, nil, fmt.Errorf("input rejected: %w", err)
		}
	}

	session, err := docflow.NewSession(docflow.SessionOptions{
		BaseDir: cfg.BaseDir,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	var copies []string
	for _, input := range cli.Inputs {
		copied, err := session.AddInput(input)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to add input: %w", err)
		}
		copies = append(copies, copied)
	}

	return session, docflow.NewState(session.ID(), copies), nil
}

// resumeSession reopens a sandbox, loads its persisted state, and injects
// any decisions so the pipeline can answer its pending question.
func resumeSession(ctx context.Context, cli *cliConfig, cfg *docflow.Config, store docflow.StateStore, logger *slog.Logger) (*docflow.Session, *docflow.State, error) {
	session, err := docflow.OpenSession(docflow.SessionOptions{
		BaseDir: cfg.BaseDir,
		ID:      cli.Resume,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session: %w", err)
	}

	state, err := store.LoadState(ctx, cli.Resume)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load state: %w", err)
	}
	if state == nil {
		return nil, nil, fmt.Errorf("no saved state for session %s", cli.Resume)
	}

	if state.PendingQuestion != "" {
		if state.Decisions == nil {
			state.Decisions = make(map[string]string)
		}
		for ref, answer := range cli.Decisions {
			state.Decisions[ref] = answer
		}
		state.PendingQuestion = ""
	}

	return session, state, nil
}
