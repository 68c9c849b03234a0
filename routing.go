package docflow

// routeAfterTools decides the next stage once a tool round has been folded
// into the state. Priority is fixed: an unanswered question beats a fresh
// checkpoint, which beats draft completion, which beats more drafting.
func routeAfterTools(s *State) Stage {
	if s.PendingQuestion != "" {
		return StageHumanInput
	}
	if s.LastCheckpoint != "" {
		return StageValidating
	}
	if s.DraftComplete {
		return StageRendering
	}
	return StageDrafting
}

// routeAfterValidation sends a failing draft back to drafting until the fix
// ceiling is hit, after which the pipeline continues with issues recorded.
func routeAfterValidation(s *State, maxFixAttempts int) Stage {
	if s.ValidationPassed {
		return StageCheckpointing
	}
	if s.FixAttempts >= maxFixAttempts {
		return StageCheckpointing
	}
	return StageDrafting
}

// routeAfterCheckpoint continues drafting until the draft is complete, then
// moves to rendering.
func routeAfterCheckpoint(s *State) Stage {
	if s.DraftComplete {
		return StageRendering
	}
	return StageDrafting
}

// routeAfterErrorHandling rolls back when a checkpoint exists and retries
// remain; otherwise the run fails terminally. hasCheckpoint is whether any
// draft snapshot exists to restore.
func routeAfterErrorHandling(s *State, maxRetries int, hasCheckpoint bool) Stage {
	if hasCheckpoint && s.RetryCount < maxRetries {
		return StageRollingBack
	}
	return StageFailed
}
