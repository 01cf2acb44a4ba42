package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quiznerd/internal/browser"
	"quiznerd/internal/sandbox"

	"go.uber.org/zap"
)

// Surface is the rendering capability the loop drives. *browser.Renderer
// satisfies it; tests substitute fakes.
type Surface interface {
	Navigate(ctx context.Context, url string) error
	Snapshot(ctx context.Context) (*browser.Snapshot, error)
	CurrentURL() string
}

// CodeRunner is the sandboxed execution capability.
type CodeRunner interface {
	Run(ctx context.Context, code string) (sandbox.Result, error)
}

// Executor dispatches validated actions to their side effects and folds the
// results into observation strings for the next cycle.
type Executor struct {
	surface Surface
	runner  CodeRunner
	client  *http.Client
	log     *zap.Logger
}

func NewExecutor(surface Surface, runner CodeRunner, client *http.Client, log *zap.Logger) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{surface: surface, runner: runner, client: client, log: log}
}

// Navigate resolves target against the current location and moves the page.
func (e *Executor) Navigate(ctx context.Context, target string) string {
	resolved, err := ResolveURL(e.surface.CurrentURL(), target)
	if err != nil {
		return fmt.Sprintf("navigation skipped: %v", err)
	}
	if err := e.surface.Navigate(ctx, resolved); err != nil {
		return fmt.Sprintf("navigation to %s failed: %v", resolved, err)
	}
	return fmt.Sprintf("navigated to %s", resolved)
}

// ExecuteCode runs the oracle's code; failure is fatal to the step only.
func (e *Executor) ExecuteCode(ctx context.Context, code string) string {
	res, err := e.runner.Run(ctx, code)
	if err != nil {
		return fmt.Sprintf("code execution could not start: %v", err)
	}
	switch {
	case res.TimedOut:
		return fmt.Sprintf("code execution timed out after %s; partial stdout:\n%s", res.Elapsed.Round(time.Millisecond), res.Stdout)
	case res.ExitCode != 0:
		return fmt.Sprintf("code execution failed (exit %d):\n%s", res.ExitCode, strings.TrimSpace(res.Stderr))
	case strings.TrimSpace(res.Stdout) == "":
		return "code executed but printed nothing to stdout"
	default:
		return fmt.Sprintf("code output:\n%s", strings.TrimSpace(res.Stdout))
	}
}

// Submit posts the answer payload and classifies the server's reply.
func (e *Executor) Submit(ctx context.Context, submitURL string, payload map[string]interface{}) SubmissionResult {
	body, err := json.Marshal(payload)
	if err != nil {
		return SubmissionResult{Kind: ResultTransport, Reason: fmt.Sprintf("marshal payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, bytes.NewReader(body))
	if err != nil {
		return SubmissionResult{Kind: ResultTransport, Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return SubmissionResult{Kind: ResultTransport, Reason: fmt.Sprintf("post %s: %v", submitURL, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		// The POST itself landed; a 2xx status means the server took the
		// answer even though we lost the body.
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return SubmissionResult{Kind: ResultNonJSON, Status: resp.StatusCode, Reason: "response body unreadable"}
		}
		return SubmissionResult{Kind: ResultTransport, Status: resp.StatusCode, Reason: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SubmissionResult{
			Kind:   ResultTransport,
			Status: resp.StatusCode,
			Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, snippet(string(raw))),
			Body:   snippet(string(raw)),
		}
	}

	var parsed struct {
		Correct *bool  `json:"correct"`
		URL     string `json:"url"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Correct == nil {
		return SubmissionResult{Kind: ResultNonJSON, Status: resp.StatusCode, Body: snippet(string(raw))}
	}

	if *parsed.Correct {
		return SubmissionResult{Kind: ResultCorrect, NextURL: parsed.URL}
	}
	return SubmissionResult{Kind: ResultIncorrect, NextURL: parsed.URL, Reason: parsed.Reason}
}
