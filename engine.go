package docflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// EngineOptions configures a pipeline Engine.
type EngineOptions struct {
	// Required collaborators.
	Session   *Session
	Generator Generator
	Renderer  Renderer
	Linter    Linter

	// Optional; defaulted from the session when nil.
	Checkpoints *CheckpointStore
	Resolver    *Resolver
	Handlers    *HandlerRegistry
	Tools       []Tool

	// Optional; null implementations when nil.
	StateStore StateStore
	EventLog   EventLog
	Quality    *QualityValidator
	Logger     *slog.Logger

	// Attempt ceilings; zero means 3.
	MaxFixAttempts        int
	MaxConversionAttempts int
	MaxRetries            int

	// Per-operation timeouts; zero means no timeout.
	GenerateTimeout time.Duration
}

// Engine drives one document-generation pipeline over a session: scan
// assets, draft with tools, validate, checkpoint, render, quality-check,
// and recover from failures by classifying, fixing, and rolling back.
type Engine struct {
	session     *Session
	generator   Generator
	renderer    Renderer
	linter      Linter
	checkpoints *CheckpointStore
	resolver    *Resolver
	handlers    *HandlerRegistry
	registry    ToolRegistry
	stateStore  StateStore
	eventLog    EventLog
	quality     *QualityValidator
	logger      *slog.Logger

	maxFixAttempts        int
	maxConversionAttempts int
	maxRetries            int
	generateTimeout       time.Duration

	mu      sync.Mutex
	running bool
}

// NewEngine wires up an Engine, building default collaborators inside the
// session sandbox for anything not supplied.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if opts.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if opts.Linter == nil {
		return nil, fmt.Errorf("linter is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger := opts.Logger.With("session_id", opts.Session.ID())

	if opts.Checkpoints == nil {
		store, err := NewCheckpointStore(CheckpointStoreOptions{
			Dir:       opts.Session.CheckpointsDir(),
			DraftPath: opts.Session.DraftPath(),
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		opts.Checkpoints = store
	}
	if opts.Resolver == nil {
		resolver, err := NewResolver(ResolverOptions{
			InputsDir:   opts.Session.InputsDir(),
			AssetsDir:   opts.Session.AssetsDir(),
			AllowedBase: opts.Session.Root(),
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		opts.Resolver = resolver
	}
	if opts.Handlers == nil {
		handlers, err := NewHandlerRegistry(HandlerRegistryOptions{
			DraftPath: opts.Session.DraftPath(),
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		opts.Handlers = handlers
	}
	if opts.Tools == nil {
		tools, err := SessionTools(SessionToolsOptions{
			Session:     opts.Session,
			Checkpoints: opts.Checkpoints,
			Resolver:    opts.Resolver,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		opts.Tools = tools
	}
	if opts.StateStore == nil {
		opts.StateStore = NewNullStateStore()
	}
	if opts.EventLog == nil {
		opts.EventLog = NewNullEventLog()
	}
	if opts.Quality == nil {
		opts.Quality = NewQualityValidator()
	}
	if opts.MaxFixAttempts <= 0 {
		opts.MaxFixAttempts = 3
	}
	if opts.MaxConversionAttempts <= 0 {
		opts.MaxConversionAttempts = 3
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	return &Engine{
		session:               opts.Session,
		generator:             opts.Generator,
		renderer:              opts.Renderer,
		linter:                opts.Linter,
		checkpoints:           opts.Checkpoints,
		resolver:              opts.Resolver,
		handlers:              opts.Handlers,
		registry:              NewToolRegistry(opts.Tools...),
		stateStore:            opts.StateStore,
		eventLog:              opts.EventLog,
		quality:               opts.Quality,
		logger:                logger,
		maxFixAttempts:        opts.MaxFixAttempts,
		maxConversionAttempts: opts.MaxConversionAttempts,
		maxRetries:            opts.MaxRetries,
		generateTimeout:       opts.GenerateTimeout,
	}, nil
}

// Run advances the pipeline until it completes, fails, or needs input. When
// the generator asks a question, Run persists the state and returns
// ErrAwaitingInput; inject decisions into the state and call Run again to
// resume.
func (e *Engine) Run(ctx context.Context, state *State) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine is already running")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	if state == nil {
		return fmt.Errorf("state is required")
	}
	if state.Status == StatusPending {
		state.Status = StatusRunning
		e.logEvent(ctx, NewEvent(state.SessionID, EventSessionCreated, map[string]any{
			"input_files": state.InputFiles,
		}))
	} else if state.Status == StatusAwaitingInput && state.PendingQuestion == "" {
		state.Status = StatusRunning
	}

	for {
		select {
		case <-ctx.Done():
			e.saveState(state)
			return ctx.Err()
		default:
		}

		e.logger.Debug("pipeline stage", "stage", string(state.Stage))
		var err error
		switch state.Stage {
		case StageScanningAssets:
			err = e.runScanning(ctx, state)
		case StageHumanInput:
			err = e.runHumanInput(ctx, state)
		case StageDrafting:
			err = e.runDrafting(ctx, state)
		case StageToolUse:
			err = e.runToolUse(ctx, state)
		case StageValidating:
			err = e.runValidating(ctx, state)
		case StageCheckpointing:
			err = e.runCheckpointing(ctx, state)
		case StageRendering:
			err = e.runRendering(ctx, state)
		case StageQualityChecking:
			err = e.runQualityChecking(ctx, state)
		case StageErrorHandling:
			err = e.runErrorHandling(ctx, state)
		case StageRollingBack:
			err = e.runRollingBack(ctx, state)
		case StageComplete:
			return e.finishComplete(ctx, state)
		case StageFailed:
			return e.finishFailed(ctx, state)
		default:
			return fmt.Errorf("unknown stage %q", state.Stage)
		}
		if err != nil {
			e.saveState(state)
			return err
		}
	}
}

// transition moves the pipeline to the next stage, records the event, and
// persists state.
func (e *Engine) transition(ctx context.Context, state *State, to Stage) {
	from := state.Stage
	state.Stage = to
	e.logEvent(ctx, TransitionEvent(state.SessionID, from, to))
	e.logger.Info("stage transition", "from", string(from), "to", string(to))
	e.saveState(state)
}

func (e *Engine) saveState(state *State) {
	if err := e.stateStore.SaveState(context.Background(), state); err != nil {
		e.logger.Warn("failed to persist state", "error", err)
	}
}

func (e *Engine) logEvent(ctx context.Context, event *Event) {
	if err := e.eventLog.LogEvent(ctx, event); err != nil {
		e.logger.Warn("failed to log event", "event_type", string(event.Type), "error", err)
	}
}

func (e *Engine) runScanning(ctx context.Context, state *State) error {
	scan, err := e.resolver.Scan(state.InputFiles)
	if err != nil {
		state.LastError = err.Error()
		state.ErrorCategory = ErrorCategoryGeneration
		e.transition(ctx, state, StageFailed)
		return nil
	}
	state.FoundRefs = scan.Found
	copied, rewritten := e.resolver.ApplyScanResults(scan.Found)
	e.logger.Info("assets applied", "copied", copied, "rewritten", rewritten)

	for _, ref := range scan.Missing {
		state.AddMissingRef(ref)
	}
	if len(scan.Missing) > 0 {
		state.PendingQuestion = missingRefsQuestion(scan.Missing)
		e.transition(ctx, state, StageHumanInput)
		return nil
	}
	e.transition(ctx, state, StageDrafting)
	return nil
}

// runHumanInput either interrupts the run (question still unanswered) or
// applies the user's decisions to the missing references and resumes
// drafting. A missing decision counts as a skip.
func (e *Engine) runHumanInput(ctx context.Context, state *State) error {
	if state.PendingQuestion != "" {
		state.Status = StatusAwaitingInput
		e.logger.Info("awaiting human input", "question", state.PendingQuestion)
		e.saveState(state)
		return ErrAwaitingInput
	}

	for _, ref := range state.MissingRefs {
		decision := ""
		if state.Decisions != nil {
			decision = strings.TrimSpace(state.Decisions[ref.OriginalPath])
		}
		sourcePath := filepath.Join(e.session.InputsDir(), filepath.Base(ref.SourceFile))

		if decision == "" || strings.EqualFold(decision, "skip") {
			if decision == "" {
				e.logger.Warn("no decision for missing reference, skipping",
					"ref", ref.OriginalPath)
			}
			if _, err := e.resolver.InsertPlaceholder(sourcePath, ref.OriginalPath); err != nil {
				e.logger.Warn("failed to insert placeholder",
					"ref", ref.OriginalPath, "error", err)
			}
			continue
		}

		if _, err := e.resolver.HandleUpload(decision, ref.OriginalPath, ref.SourceFile); err != nil {
			e.logger.Warn("upload decision failed, inserting placeholder",
				"ref", ref.OriginalPath, "upload", decision, "error", err)
			if _, err := e.resolver.InsertPlaceholder(sourcePath, ref.OriginalPath); err != nil {
				e.logger.Warn("failed to insert placeholder",
					"ref", ref.OriginalPath, "error", err)
			}
		}
	}

	state.Status = StatusRunning
	e.transition(ctx, state, StageDrafting)
	return nil
}

func (e *Engine) runDrafting(ctx context.Context, state *State) error {
	userMsg := Message{Role: RoleUser, Content: buildUserPrompt(state)}
	req := &GenerateRequest{
		System:   draftingSystemPrompt,
		Messages: append(append([]Message{}, state.Messages...), userMsg),
		Tools:    e.registry.Definitions(),
	}

	genCtx := ctx
	if e.generateTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, e.generateTimeout)
		defer cancel()
	}
	resp, err := e.generator.Generate(genCtx, req)
	if err != nil {
		// Generation failures are fatal; there is nothing to fix in the
		// draft.
		state.LastError = err.Error()
		state.ErrorCategory = ErrorCategoryGeneration
		e.logEvent(ctx, NewEvent(state.SessionID, EventError, map[string]any{
			"category": ErrorCategoryGeneration,
			"error":    truncate(err.Error(), maxEventResultLength),
		}))
		e.transition(ctx, state, StageFailed)
		return nil
	}

	state.Messages = append(state.Messages, userMsg, Message{
		Role:      RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	if IsCompletion(resp) {
		state.DraftComplete = true
	}
	if q := ExtractPendingQuestion(resp); q != "" && state.PendingQuestion == "" {
		state.PendingQuestion = q
	}

	if len(resp.ToolCalls) > 0 {
		e.transition(ctx, state, StageToolUse)
		return nil
	}
	next := routeAfterTools(state)
	if next == StageDrafting {
		// No tool calls, no completion, no question: surface the reply to
		// the user instead of looping.
		state.PendingQuestion = truncate(strings.TrimSpace(resp.Content), maxPendingQuestionLength)
		if state.PendingQuestion == "" {
			state.PendingQuestion = "The generator returned no actionable output. Continue or abort?"
		}
		next = StageHumanInput
	}
	e.transition(ctx, state, next)
	return nil
}

func (e *Engine) runToolUse(ctx context.Context, state *State) error {
	if len(state.Messages) == 0 {
		e.transition(ctx, state, StageDrafting)
		return nil
	}
	last := state.Messages[len(state.Messages)-1]
	upd := &StateUpdate{}

	for _, call := range last.ToolCalls {
		var result string
		var err error
		if tool, ok := e.registry[call.Name]; ok {
			result, err = tool.Execute(ctx, call.Params)
		} else {
			err = fmt.Errorf("unknown tool %q", call.Name)
		}
		if err != nil {
			e.logger.Warn("tool failed", "tool", call.Name, "error", err)
			result = "Error: " + err.Error()
		}
		e.logEvent(ctx, ToolCallEvent(state.SessionID, call.Name, call.Params, result))

		upd.Messages = append(upd.Messages, Message{
			Role:       RoleTool,
			Content:    result,
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
		if err != nil {
			continue
		}
		switch call.Name {
		case "create_checkpoint":
			id := result
			upd.LastCheckpoint = &id
		case "ask_user":
			if state.PendingQuestion == "" {
				question := result
				upd.PendingQuestion = &question
			}
		}
	}

	state.Merge(upd)
	e.transition(ctx, state, routeAfterTools(state))
	return nil
}

func (e *Engine) runValidating(ctx context.Context, state *State) error {
	result, err := e.linter.Lint(ctx, e.session.DraftPath())
	if err != nil {
		result = &LintResult{
			Passed: false,
			Issues: []ValidationIssue{{
				Rule:        "lint",
				Description: "Lint run failed",
				Detail:      err.Error(),
			}},
		}
	}
	state.ValidationPassed = result.Passed
	state.ValidationIssues = result.Issues
	e.logEvent(ctx, NewEvent(state.SessionID, EventValidationRan, map[string]any{
		"passed":      result.Passed,
		"issue_count": len(result.Issues),
	}))

	next := routeAfterValidation(state, e.maxFixAttempts)
	if !result.Passed {
		if next == StageDrafting {
			state.FixAttempts++
		} else {
			e.logger.Warn("fix attempts exhausted, continuing with validation issues",
				"issue_count", len(result.Issues))
		}
	}
	e.transition(ctx, state, next)
	return nil
}

func (e *Engine) runCheckpointing(ctx context.Context, state *State) error {
	id, err := e.checkpoints.Save(fmt.Sprintf("chapter_%d", state.Chapter))
	if err != nil {
		state.LastError = err.Error()
		state.ErrorCategory = ErrorCategoryCheckpoint
		e.transition(ctx, state, StageErrorHandling)
		return nil
	}
	e.logEvent(ctx, NewEvent(state.SessionID, EventCheckpointSaved, map[string]any{
		"checkpoint_id": id,
		"chapter":       state.Chapter,
	}))
	// The tool-set checkpoint marker is consumed here; rollbacks find the
	// newest snapshot through the store.
	state.LastCheckpoint = ""
	state.Chapter++
	e.transition(ctx, state, routeAfterCheckpoint(state))
	return nil
}

func (e *Engine) runRendering(ctx context.Context, state *State) error {
	if state.ConversionAttempts >= e.maxConversionAttempts {
		state.LastError = fmt.Sprintf("conversion attempts exhausted (%d)", state.ConversionAttempts)
		state.ErrorCategory = ErrorCategoryRender
		e.transition(ctx, state, StageFailed)
		return nil
	}
	e.logEvent(ctx, NewEvent(state.SessionID, EventConversionStarted, map[string]any{
		"attempt": state.ConversionAttempts + 1,
	}))

	doc, err := ParseDraftFile(e.session.DraftPath())
	if err != nil {
		e.recordRenderFailure(ctx, state, err)
		return nil
	}
	if err := doc.WriteFile(e.session.StructurePath()); err != nil {
		e.recordRenderFailure(ctx, state, err)
		return nil
	}
	state.StructurePath = e.session.StructurePath()

	if err := e.renderer.Render(ctx, state.StructurePath, e.session.OutputPath()); err != nil {
		e.recordRenderFailure(ctx, state, err)
		return nil
	}
	state.OutputPath = e.session.OutputPath()
	e.transition(ctx, state, StageQualityChecking)
	return nil
}

func (e *Engine) recordRenderFailure(ctx context.Context, state *State, err error) {
	state.ConversionAttempts++
	state.LastError = err.Error()
	state.ErrorCategory = ErrorCategoryRender
	e.logEvent(ctx, NewEvent(state.SessionID, EventError, map[string]any{
		"category": ErrorCategoryRender,
		"error":    truncate(err.Error(), maxEventResultLength),
	}))
	e.transition(ctx, state, StageErrorHandling)
}

func (e *Engine) runQualityChecking(ctx context.Context, state *State) error {
	result := e.quality.Validate(state.OutputPath)
	state.QualityPassed = result.Passed
	state.QualityIssues = result.Issues
	state.QualityScore = result.Score
	if result.Passed {
		e.transition(ctx, state, StageComplete)
		return nil
	}
	state.LastError = strings.Join(result.Issues, "; ")
	state.ErrorCategory = ErrorCategoryQuality
	e.transition(ctx, state, StageErrorHandling)
	return nil
}

func (e *Engine) runErrorHandling(ctx context.Context, state *State) error {
	record := Classify(state.LastError)
	e.logEvent(ctx, NewEvent(state.SessionID, EventErrorClassified, map[string]any{
		"category": string(record.Category),
		"line":     record.Line,
	}))

	outcome, err := e.handlers.Dispatch(ctx, record)
	if err != nil {
		outcome = "Fix failed: " + err.Error()
	}
	state.HandlerOutcome = outcome
	e.logEvent(ctx, NewEvent(state.SessionID, EventErrorFixAttempted, map[string]any{
		"category": string(record.Category),
		"outcome":  truncate(outcome, maxEventResultLength),
	}))

	next := routeAfterErrorHandling(state, e.maxRetries, e.checkpoints.Latest() != "")
	if next == StageRollingBack {
		state.RetryCount++
	}
	e.transition(ctx, state, next)
	return nil
}

func (e *Engine) runRollingBack(ctx context.Context, state *State) error {
	id := e.checkpoints.Latest()
	before, _ := os.ReadFile(e.session.DraftPath())
	if err := e.checkpoints.Restore(id); err != nil {
		e.logger.Warn("rollback skipped", "checkpoint_id", id, "error", err)
	}
	after, _ := os.ReadFile(e.session.DraftPath())
	state.LastRollbackDiff = RollbackDiff(string(before), string(after))
	e.logger.Info("rollback performed",
		"checkpoint_id", id, "diff", state.LastRollbackDiff)

	state.LastCheckpoint = ""
	e.transition(ctx, state, StageDrafting)
	return nil
}

func (e *Engine) finishComplete(ctx context.Context, state *State) error {
	state.Status = StatusCompleted
	state.EndTime = time.Now()
	e.logEvent(ctx, NewEvent(state.SessionID, EventSessionCompleted, map[string]any{
		"quality_score": state.QualityScore,
		"output_path":   state.OutputPath,
	}))
	if e.session.Status() == SessionStatusActive {
		if err := e.session.Archive(); err != nil {
			e.logger.Warn("failed to archive session", "error", err)
		} else {
			state.OutputPath = e.session.OutputPath()
		}
	}
	e.saveState(state)
	e.logger.Info("pipeline complete", "quality_score", state.QualityScore)
	return nil
}

func (e *Engine) finishFailed(ctx context.Context, state *State) error {
	state.Status = StatusFailed
	state.EndTime = time.Now()
	if err := WriteFailureArtifacts(e.session, state); err != nil {
		e.logger.Warn("failed to write failure artifacts", "error", err)
	}
	e.logEvent(ctx, NewEvent(state.SessionID, EventSessionFailed, map[string]any{
		"category": state.ErrorCategory,
		"error":    truncate(state.LastError, maxEventResultLength),
	}))
	if e.session.Status() == SessionStatusActive {
		if err := e.session.Discard(); err != nil {
			e.logger.Warn("failed to discard session", "error", err)
		}
	}
	e.saveState(state)
	return fmt.Errorf("pipeline failed (%s): %s", state.ErrorCategory, state.LastError)
}
