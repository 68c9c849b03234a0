package docflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage identifies where the pipeline currently is.
type Stage string

const (
	StageScanningAssets  Stage = "scanning_assets"
	StageHumanInput      Stage = "human_input"
	StageDrafting        Stage = "drafting"
	StageToolUse         Stage = "tool_use"
	StageValidating      Stage = "validating"
	StageCheckpointing   Stage = "checkpointing"
	StageRendering       Stage = "rendering"
	StageQualityChecking Stage = "quality_checking"
	StageErrorHandling   Stage = "error_handling"
	StageRollingBack     Stage = "rolling_back"
	StageComplete        Stage = "complete"
	StageFailed          Stage = "failed"
)

// Status is the coarse run status of a pipeline.
type Status string

const (
	StatusPending       Status = "pending"
	StatusRunning       Status = "running"
	StatusAwaitingInput Status = "awaiting_input"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// State is the complete serializable record of one pipeline run. Everything
// the engine needs to resume after an interrupt lives here.
type State struct {
	SessionID string `json:"session_id"`
	Stage     Stage  `json:"stage"`
	Status    Status `json:"status"`

	// Inputs and produced artifacts.
	InputFiles    []string `json:"input_files"`
	DraftPath     string   `json:"draft_path,omitempty"`
	StructurePath string   `json:"structure_path,omitempty"`
	OutputPath    string   `json:"output_path,omitempty"`

	// Drafting progress.
	FileIndex     int  `json:"file_index"`
	Chapter       int  `json:"chapter"`
	DraftComplete bool `json:"draft_complete"`

	// LastCheckpoint is set by the checkpoint tool and consumed by the
	// checkpointing stage; empty means no checkpoint awaits validation.
	LastCheckpoint string `json:"last_checkpoint,omitempty"`

	// Bounded attempt counters. Each has a ceiling and none is ever reset.
	FixAttempts        int `json:"fix_attempts"`
	ConversionAttempts int `json:"conversion_attempts"`
	RetryCount         int `json:"retry_count"`

	// Last failure seen by the engine.
	LastError        string `json:"last_error,omitempty"`
	ErrorCategory    string `json:"error_category,omitempty"`
	HandlerOutcome   string `json:"handler_outcome,omitempty"`
	LastRollbackDiff string `json:"last_rollback_diff,omitempty"`

	// Image references discovered while scanning inputs. MissingRefs is
	// append-only.
	FoundRefs   []ImageRef `json:"found_refs,omitempty"`
	MissingRefs []ImageRef `json:"missing_refs,omitempty"`

	// Human interaction. Decisions is keyed by the original reference path;
	// the value is "skip" or the path of an uploaded replacement.
	PendingQuestion string            `json:"pending_question,omitempty"`
	Decisions       map[string]string `json:"decisions,omitempty"`

	// Validation and quality results.
	ValidationPassed bool              `json:"validation_passed"`
	ValidationIssues []ValidationIssue `json:"validation_issues,omitempty"`
	QualityPassed    bool              `json:"quality_passed"`
	QualityIssues    []string          `json:"quality_issues,omitempty"`
	QualityScore     int               `json:"quality_score"`

	// Messages is the generator conversation transcript, append-only.
	Messages []Message `json:"messages,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitzero"`
}

// NewState creates the initial state for a session over the given input
// files.
func NewState(sessionID string, inputFiles []string) *State {
	return &State{
		SessionID:  sessionID,
		Stage:      StageScanningAssets,
		Status:     StatusPending,
		InputFiles: inputFiles,
		Decisions:  map[string]string{},
		StartTime:  time.Now(),
	}
}

// StateUpdate carries the fields a tool round may change. Nil pointers leave
// the corresponding scalar untouched; list fields always append.
type StateUpdate struct {
	PendingQuestion *string
	LastCheckpoint  *string
	DraftComplete   *bool
	Messages        []Message
	MissingRefs     []ImageRef
}

// Merge folds an update into the state: scalars overwrite, lists append.
func (s *State) Merge(u *StateUpdate) {
	if u == nil {
		return
	}
	if u.PendingQuestion != nil {
		s.PendingQuestion = *u.PendingQuestion
	}
	if u.LastCheckpoint != nil {
		s.LastCheckpoint = *u.LastCheckpoint
	}
	if u.DraftComplete != nil {
		s.DraftComplete = *u.DraftComplete
	}
	s.Messages = append(s.Messages, u.Messages...)
	for _, ref := range u.MissingRefs {
		s.AddMissingRef(ref)
	}
}

// AddMissingRef appends a missing reference unless the same original path
// from the same source file is already recorded.
func (s *State) AddMissingRef(ref ImageRef) {
	for _, existing := range s.MissingRefs {
		if existing.OriginalPath == ref.OriginalPath && existing.SourceFile == ref.SourceFile {
			return
		}
	}
	s.MissingRefs = append(s.MissingRefs, ref)
}

// Copy returns a deep copy of the state.
func (s *State) Copy() (*State, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to copy state: %w", err)
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to copy state: %w", err)
	}
	return &out, nil
}

// Terminal reports whether the pipeline has ended.
func (s *State) Terminal() bool {
	return s.Stage == StageComplete || s.Stage == StageFailed
}
