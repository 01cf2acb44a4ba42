package agent

import (
	"context"
	"fmt"
	"net/http"

	"quiznerd/internal/browser"
	"quiznerd/internal/config"
	"quiznerd/internal/oracle"
	"quiznerd/internal/recorder"
	"quiznerd/internal/sandbox"
	"quiznerd/internal/scratchpad"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Solver launches a fresh browser and session per quiz request. It is safe
// for concurrent use; each Solve call owns its own resources end to end.
type Solver struct {
	cfg    config.Config
	oracle oracle.Client
	rec    *recorder.Recorder
	log    *zap.Logger
}

func NewSolver(cfg config.Config, oracleClient oracle.Client, rec *recorder.Recorder, log *zap.Logger) *Solver {
	return &Solver{cfg: cfg, oracle: oracleClient, rec: rec, log: log}
}

// Solve runs one complete quiz session against startURL. It blocks until the
// session ends and always tears down the browser and scratchpad.
func (s *Solver) Solve(ctx context.Context, email, secret, startURL string) error {
	sessionID := uuid.New().String()
	log := s.log.With(zap.String("session", sessionID))
	log.Info("starting quiz session", zap.String("url", startURL))

	renderer := browser.NewRenderer(s.cfg.Browser, log)
	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if err := renderer.Shutdown(); err != nil {
			log.Warn("browser shutdown", zap.Error(err))
		}
	}()

	if err := renderer.OpenPage(ctx, startURL); err != nil {
		return fmt.Errorf("open quiz page: %w", err)
	}

	pad, err := scratchpad.New(s.cfg.Agent.ScratchpadDir, sessionID)
	if err != nil {
		return fmt.Errorf("create scratchpad: %w", err)
	}
	defer func() {
		if err := pad.Remove(); err != nil {
			log.Warn("scratchpad cleanup", zap.Error(err))
		}
	}()

	if err := s.rec.Start(sessionID); err != nil {
		log.Warn("trace recording unavailable", zap.Error(err))
	}

	httpClient := &http.Client{Timeout: s.cfg.Agent.SubmissionTimeout()}
	runner := sandbox.NewRunner(s.cfg.Sandbox, log)

	session := NewSession(sessionID, Identity{Email: email, Secret: secret}, startURL,
		s.cfg.Agent.MaxApproaches, s.cfg.Agent.Budget(), SessionDeps{
			Surface:  renderer,
			Oracle:   s.oracle,
			Builder:  NewBuilder(s.cfg.Agent.MaxContentBytes, httpClient, log),
			Executor: NewExecutor(renderer, runner, httpClient, log),
			Pad:      pad,
			Recorder: s.rec,
			Log:      log,
		})

	if err := session.Run(ctx); err != nil {
		log.Error("session ended with error", zap.Error(err))
		return err
	}
	log.Info("session finished")
	return nil
}
