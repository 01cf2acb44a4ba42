package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"quiznerd/internal/oracle"
	"quiznerd/internal/recorder"
	"quiznerd/internal/scratchpad"

	"go.uber.org/zap"
)

// Identity is the credential pair echoed into every answer payload.
type Identity struct {
	Email  string
	Secret string
}

// Session drives one quiz run from the intake URL until the quiz signals
// completion, the retry budget runs out, or the context is cancelled.
type Session struct {
	ID       string
	identity Identity
	startURL string

	surface Surface
	oracle  oracle.Client
	builder *Builder
	exec    *Executor
	pad     *scratchpad.Store
	rec     *recorder.Recorder
	log     *zap.Logger

	maxApproaches int
	budget        time.Duration

	// Per-level bookkeeping, reset on every level transition.
	levelStartURL string
	lastOutcome   string
	level         levelState

	// Learned once a submission succeeds; survives level transitions.
	knownSubmissionURL string

	// Set when the session stops for a reason other than quiz completion.
	stopReason string
}

// SessionDeps carries the collaborators a Session needs. Every field is
// required except Recorder, where nil disables tracing.
type SessionDeps struct {
	Surface  Surface
	Oracle   oracle.Client
	Builder  *Builder
	Executor *Executor
	Pad      *scratchpad.Store
	Recorder *recorder.Recorder
	Log      *zap.Logger
}

func NewSession(id string, identity Identity, startURL string, maxApproaches int, budget time.Duration, deps SessionDeps) *Session {
	return &Session{
		ID:            id,
		identity:      identity,
		startURL:      startURL,
		surface:       deps.Surface,
		oracle:        deps.Oracle,
		builder:       deps.Builder,
		exec:          deps.Executor,
		pad:           deps.Pad,
		rec:           deps.Recorder,
		log:           deps.Log,
		maxApproaches: maxApproaches,
		budget:        budget,
	}
}

// Run executes decision cycles until the quiz is finished or something
// terminal happens. It returns nil when the session stopped on its own terms
// (completion, or retry budget spent with no way forward) and an error for
// oracle failure or cancellation.
func (s *Session) Run(ctx context.Context) error {
	if s.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.budget)
		defer cancel()
	}

	s.rec.Log(recorder.EventSessionStart, s.ID, map[string]string{"url": s.startURL})

	cycle := 0
	for {
		cycle++
		if err := ctx.Err(); err != nil {
			s.rec.Log(recorder.EventSessionEnd, s.ID, map[string]string{"outcome": "aborted"})
			return fmt.Errorf("session aborted: %w", err)
		}

		done, err := s.runCycle(ctx, cycle)
		if err != nil {
			s.rec.Log(recorder.EventSessionEnd, s.ID, map[string]string{"outcome": "error", "error": err.Error()})
			return err
		}
		if done {
			outcome := s.stopReason
			if outcome == "" {
				outcome = "done"
			}
			s.rec.Log(recorder.EventSessionEnd, s.ID, map[string]string{"outcome": outcome})
			return nil
		}
	}
}

// runCycle performs one observe-decide-act iteration. It returns done=true
// when the quiz is finished and an error only for terminal conditions.
func (s *Session) runCycle(ctx context.Context, cycle int) (bool, error) {
	snap, err := s.surface.Snapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("capture page: %w", err)
	}
	if s.levelStartURL == "" {
		// The first snapshot after a transition fixes the level's canonical
		// URL, after any redirects have settled.
		s.levelStartURL = snap.URL
	}

	obs := s.builder.Build(ctx, snap, Observation{
		LevelStartURL:      s.levelStartURL,
		LastOutcome:        s.lastOutcome,
		Scratchpad:         s.pad.Read(),
		KnownSubmissionURL: s.knownSubmissionURL,
		AttemptsUsed:       s.level.attempts,
		AttemptsMax:        s.maxApproaches,
	})
	s.rec.Log(recorder.EventCycle, s.ID, map[string]interface{}{
		"cycle": cycle,
		"url":   obs.CurrentURL,
	})

	reply, err := s.oracle.Decide(ctx, oracle.Request{
		System: systemPrompt,
		Prompt: renderPrompt(obs),
		Media:  obs.Media,
	})
	if err != nil {
		// No decision source means no way to make progress.
		return false, fmt.Errorf("oracle unavailable: %w", err)
	}

	action, err := ParseDecision(reply)
	if err != nil {
		s.lastOutcome = fmt.Sprintf("your previous reply was rejected: %v", err)
		s.log.Warn("decision rejected", zap.String("session", s.ID), zap.Error(err))
		return false, nil
	}
	s.rec.Log(recorder.EventDecision, s.ID, map[string]string{"action": string(action.Kind)})

	if action.Note != "" {
		if err := s.pad.Append(action.Note + "\n"); err != nil {
			s.log.Warn("scratchpad append failed", zap.String("session", s.ID), zap.Error(err))
		}
	}

	switch action.Kind {
	case ActionNavigate:
		s.lastOutcome = s.exec.Navigate(ctx, action.URL)
		return false, nil

	case ActionExecuteCode:
		s.lastOutcome = s.exec.ExecuteCode(ctx, action.Code)
		return false, nil

	case ActionSubmit:
		return s.handleSubmit(ctx, action)

	case ActionDone:
		s.log.Info("quiz declared complete", zap.String("session", s.ID))
		return true, nil

	default:
		s.lastOutcome = fmt.Sprintf("your reply was not understood as a valid action: %s", action.Raw)
		return false, nil
	}
}

func (s *Session) handleSubmit(ctx context.Context, action Action) (bool, error) {
	target := action.SubmitURL
	if target == "" {
		target = s.knownSubmissionURL
	}
	if target == "" {
		s.lastOutcome = "no submission endpoint is known; find the answer endpoint on the page first"
		return false, nil
	}
	resolved, err := ResolveURL(s.surface.CurrentURL(), target)
	if err != nil {
		s.lastOutcome = fmt.Sprintf("submission endpoint unusable: %v", err)
		return false, nil
	}

	payload := action.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if _, ok := payload["email"]; !ok {
		payload["email"] = s.identity.Email
	}
	if _, ok := payload["secret"]; !ok {
		payload["secret"] = s.identity.Secret
	}
	// The quiz server keys grading on the level URL, not wherever the
	// browser has wandered to since.
	payload["url"] = s.levelStartURL

	result := s.exec.Submit(ctx, resolved, payload)
	s.rec.Log(recorder.EventSubmission, s.ID, map[string]interface{}{
		"endpoint": resolved,
		"kind":     string(result.Kind),
		"status":   result.Status,
	})
	s.log.Info("submission graded",
		zap.String("session", s.ID),
		zap.String("kind", string(result.Kind)),
		zap.Int("status", result.Status))

	switch result.Kind {
	case ResultCorrect:
		s.knownSubmissionURL = resolved
		if result.NextURL == "" {
			return true, nil
		}
		return false, s.advanceLevel(ctx, result.NextURL, recorder.EventLevelAdvance)

	case ResultNonJSON:
		// A non-erroring final response with no structured verdict is the
		// quiz's way of saying there is nothing more to grade.
		return true, nil

	case ResultIncorrect:
		s.level.noteSoftPass(result.NextURL)
		s.level.recordIncorrect(answerFingerprint(payload))
		s.lastOutcome = result.String()
		return s.checkExhaustion(ctx)

	default: // ResultTransport
		s.level.recordFailure()
		s.lastOutcome = result.String()
		return s.checkExhaustion(ctx)
	}
}

// checkExhaustion enforces the per-level retry budget. When the budget is
// spent and the server ever offered a next URL alongside a rejection, the
// session force-advances through it rather than stalling forever.
func (s *Session) checkExhaustion(ctx context.Context) (bool, error) {
	if !s.level.exhausted(s.maxApproaches) {
		return false, nil
	}
	if s.level.softPassURL != "" {
		next := s.level.softPassURL
		s.log.Warn("retry budget spent, advancing through offered url",
			zap.String("session", s.ID), zap.String("url", next))
		s.rec.Log(recorder.EventSoftPass, s.ID, map[string]string{"url": next})
		return false, s.advanceLevel(ctx, next, recorder.EventSoftPass)
	}
	// Nothing left to try and nowhere to go; stop rather than loop forever.
	s.log.Warn("retry budget exhausted with no way forward",
		zap.String("session", s.ID), zap.String("level", s.levelStartURL))
	s.stopReason = "retry_budget_exhausted"
	return true, nil
}

// advanceLevel navigates to the next level and resets all per-level state.
func (s *Session) advanceLevel(ctx context.Context, nextURL, event string) error {
	resolved, err := ResolveURL(s.surface.CurrentURL(), nextURL)
	if err != nil {
		return fmt.Errorf("next level url unusable: %w", err)
	}
	if err := s.surface.Navigate(ctx, resolved); err != nil {
		return fmt.Errorf("advance to next level: %w", err)
	}
	if event == recorder.EventLevelAdvance {
		s.rec.Log(recorder.EventLevelAdvance, s.ID, map[string]string{"url": resolved})
	}

	if err := s.pad.Clear(); err != nil {
		s.log.Warn("scratchpad clear failed", zap.String("session", s.ID), zap.Error(err))
	}
	s.level.reset()
	s.levelStartURL = ""
	s.lastOutcome = ""
	return nil
}

// answerFingerprint canonicalizes the answer portion of a payload so the
// duplicate-answer rule compares substance, not injected bookkeeping fields.
func answerFingerprint(payload map[string]interface{}) string {
	trimmed := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch k {
		case "email", "secret", "url":
		default:
			trimmed[k] = v
		}
	}
	b, err := json.Marshal(trimmed)
	if err != nil {
		return fmt.Sprintf("%v", trimmed)
	}
	return string(b)
}
