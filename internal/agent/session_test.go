package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"quiznerd/internal/oracle"
	"quiznerd/internal/scratchpad"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// scriptedOracle replays canned replies, holding the last one forever.
type scriptedOracle struct {
	replies []string
	err     error
	calls   int
	prompts []string
}

func (o *scriptedOracle) Decide(ctx context.Context, req oracle.Request) (string, error) {
	o.prompts = append(o.prompts, req.Prompt)
	if o.err != nil {
		return "", o.err
	}
	i := o.calls
	if i >= len(o.replies) {
		i = len(o.replies) - 1
	}
	o.calls++
	return o.replies[i], nil
}

func (o *scriptedOracle) Name() string { return "scripted" }

func newTestSession(t *testing.T, surface *fakeSurface, orc oracle.Client, maxApproaches int) *Session {
	t.Helper()
	log := zaptest.NewLogger(t)

	pad, err := scratchpad.New(t.TempDir(), "test-session")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pad.Remove() })

	return NewSession("test-session", Identity{Email: "s@e.com", Secret: "hunter2"},
		surface.current, maxApproaches, 0, SessionDeps{
			Surface:  surface,
			Oracle:   orc,
			Builder:  NewBuilder(50_000, nil, log),
			Executor: NewExecutor(surface, &fakeRunner{}, http.DefaultClient, log),
			Pad:      pad,
			Log:      log,
		})
}

func submitReply(url string, answer interface{}) string {
	b, _ := json.Marshal(map[string]interface{}{
		"action":     "submit",
		"submit_url": url,
		"payload":    map[string]interface{}{"answer": answer},
	})
	return string(b)
}

func TestSessionSolvesTwoLevels(t *testing.T) {
	var graded []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		graded = append(graded, payload)

		resp := map[string]interface{}{"correct": true}
		if len(graded) == 1 {
			resp["url"] = "/level/2"
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	surface := &fakeSurface{current: "https://quiz.example/level/1"}
	orc := &scriptedOracle{replies: []string{
		submitReply(srv.URL, "alpha"),
		submitReply(srv.URL, "beta"),
	}}

	sess := newTestSession(t, surface, orc, 10)
	require.NoError(t, sess.Run(context.Background()))

	require.Len(t, graded, 2)
	assert.Equal(t, "https://quiz.example/level/1", graded[0]["url"])
	assert.Equal(t, "s@e.com", graded[0]["email"])
	assert.Equal(t, "hunter2", graded[0]["secret"])
	// The second submission is keyed on the second level's URL.
	assert.Equal(t, "https://quiz.example/level/2", graded[1]["url"])

	assert.Equal(t, []string{"https://quiz.example/level/2"}, surface.navigated)
	assert.Equal(t, srv.URL, sess.knownSubmissionURL)
}

func TestSessionPayloadURLIsLevelStartNotCurrent(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"correct": true})
	}))
	defer srv.Close()

	surface := &fakeSurface{current: "https://quiz.example/level/1"}
	orc := &scriptedOracle{replies: []string{
		`{"action": "navigate", "url": "https://quiz.example/hints"}`,
		submitReply(srv.URL, "gamma"),
	}}

	sess := newTestSession(t, surface, orc, 10)
	require.NoError(t, sess.Run(context.Background()))

	assert.Equal(t, "https://quiz.example/level/1", captured["url"])
}

func TestSessionOracleNoteGoesToScratchpad(t *testing.T) {
	surface := &fakeSurface{current: "https://quiz.example/level/1"}
	orc := &scriptedOracle{replies: []string{
		`{"action": "navigate", "url": "/a", "note": "the answer hides in the footer"}`,
		`{"action": "done"}`,
	}}

	sess := newTestSession(t, surface, orc, 10)
	require.NoError(t, sess.Run(context.Background()))

	assert.Contains(t, sess.pad.Read(), "the answer hides in the footer")
	// The second prompt carries the note back to the oracle.
	require.Len(t, orc.prompts, 2)
	assert.Contains(t, orc.prompts[1], "the answer hides in the footer")
}

func TestSessionScratchpadClearedOnAdvance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"correct": true, "url": "/level/2"})
	}))
	defer srv.Close()

	surface := &fakeSurface{current: "https://quiz.example/level/1"}
	reply, _ := json.Marshal(map[string]interface{}{
		"action": "submit", "submit_url": srv.URL,
		"payload": map[string]interface{}{"answer": 1},
		"note":    "level one reasoning",
	})
	orc := &scriptedOracle{replies: []string{string(reply), `{"action": "done"}`}}

	sess := newTestSession(t, surface, orc, 10)
	require.NoError(t, sess.Run(context.Background()))

	assert.Equal(t, "(scratchpad is empty)", sess.pad.Read())
	assert.Equal(t, 0, sess.level.attempts)
}

func TestSessionUnparseableRepliesDoNotTerminate(t *testing.T) {
	surface := &fakeSurface{current: "https://quiz.example/level/1"}
	orc := &scriptedOracle{replies: []string{
		"I am thinking about it...",
		`{"action": "navigate"}`,
		`{"action": "done"}`,
	}}

	sess := newTestSession(t, surface, orc, 10)
	require.NoError(t, sess.Run(context.Background()))
	assert.Equal(t, 3, orc.calls)
	// The rejection is surfaced back to the oracle.
	assert.Contains(t, orc.prompts[2], "missing required url field")
}

func TestSessionOracleFailureTerminates(t *testing.T) {
	surface := &fakeSurface{current: "https://quiz.example/level/1"}
	orc := &scriptedOracle{err: errors.New("both backends down")}

	sess := newTestSession(t, surface, orc, 10)
	err := sess.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle unavailable")
}

func TestSessionSoftPassAfterExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"correct": false, "reason": "nope", "url": "https://quiz.example/level/2",
		})
	}))
	defer srv.Close()

	surface := &fakeSurface{current: "https://quiz.example/level/1"}
	orc := &scriptedOracle{replies: []string{
		submitReply(srv.URL, "same"),
		submitReply(srv.URL, "same"),
		`{"action": "done"}`,
	}}

	// One approach: the repeated identical wrong answer consumes it.
	sess := newTestSession(t, surface, orc, 1)
	require.NoError(t, sess.Run(context.Background()))

	assert.Equal(t, []string{"https://quiz.example/level/2"}, surface.navigated)
	assert.Equal(t, 0, sess.level.attempts)
}

func TestSessionExhaustionWithoutEscapeStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	surface := &fakeSurface{current: "https://quiz.example/level/1"}
	orc := &scriptedOracle{replies: []string{submitReply(srv.URL, "x")}}

	// Giving up on the level is a stop, not a failure.
	sess := newTestSession(t, surface, orc, 2)
	require.NoError(t, sess.Run(context.Background()))
	assert.Equal(t, "retry_budget_exhausted", sess.stopReason)
	assert.Equal(t, 2, sess.level.attempts)
	assert.Empty(t, surface.navigated)
}

func TestSessionEndpointLearnedOnlyOnSuccess(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"correct": false, "reason": "wrong"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"correct": true})
	}))
	defer srv.Close()

	surface := &fakeSurface{current: "https://quiz.example/level/1"}
	orc := &scriptedOracle{replies: []string{
		submitReply(srv.URL, "first guess"),
		submitReply(srv.URL, "second guess"),
	}}

	sess := newTestSession(t, surface, orc, 10)
	require.NoError(t, sess.Run(context.Background()))

	// The rejected submission must not have taught the endpoint; only the
	// graded-correct one does.
	require.Len(t, orc.prompts, 2)
	assert.NotContains(t, orc.prompts[1], "worked previously")
	assert.Equal(t, srv.URL, sess.knownSubmissionURL)
}

func TestSessionAbortsOnContextCancel(t *testing.T) {
	surface := &fakeSurface{current: "https://quiz.example/level/1"}
	orc := &scriptedOracle{replies: []string{`{"action": "navigate", "url": "/loop"}`}}

	ctx, cancel := context.WithCancel(context.Background())
	sess := newTestSession(t, surface, orc, 10)

	// Cancel after a few cycles by wrapping the oracle.
	orcWrapped := &cancellingOracle{inner: orc, cancel: cancel, after: 3}
	sess.oracle = orcWrapped

	err := sess.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aborted")
}

func TestSessionNoSubmissionEndpointKnown(t *testing.T) {
	surface := &fakeSurface{current: "https://quiz.example/level/1"}
	orc := &scriptedOracle{replies: []string{
		`{"action": "submit", "payload": {"answer": 1}}`,
		`{"action": "done"}`,
	}}

	sess := newTestSession(t, surface, orc, 10)
	require.NoError(t, sess.Run(context.Background()))
	assert.Contains(t, orc.prompts[1], "no submission endpoint is known")
}

// cancellingOracle cancels the session context after a fixed call count.
type cancellingOracle struct {
	inner  *scriptedOracle
	cancel context.CancelFunc
	after  int
}

func (o *cancellingOracle) Decide(ctx context.Context, req oracle.Request) (string, error) {
	if o.inner.calls >= o.after {
		o.cancel()
	}
	return o.inner.Decide(ctx, req)
}

func (o *cancellingOracle) Name() string { return "cancelling" }

func TestAnswerFingerprintIgnoresInjectedFields(t *testing.T) {
	a := map[string]interface{}{"answer": 42, "email": "a@b.c", "secret": "s", "url": "https://q/1"}
	b := map[string]interface{}{"answer": 42, "email": "other@b.c", "secret": "t", "url": "https://q/2"}
	c := map[string]interface{}{"answer": 43, "email": "a@b.c", "secret": "s", "url": "https://q/1"}

	assert.Equal(t, answerFingerprint(a), answerFingerprint(b))
	assert.NotEqual(t, answerFingerprint(a), answerFingerprint(c))
}

func TestSessionLevelStartURLFixedByFirstSnapshot(t *testing.T) {
	// The intake URL redirects; the level key must be the settled URL.
	surface := &fakeSurface{current: "https://quiz.example/level/1-redirected"}
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, `{"correct": true}`)
	}))
	defer srv.Close()

	orc := &scriptedOracle{replies: []string{submitReply(srv.URL, "z")}}
	sess := newTestSession(t, surface, orc, 10)
	sess.startURL = "https://quiz.example/start"

	require.NoError(t, sess.Run(context.Background()))
	assert.Equal(t, "https://quiz.example/level/1-redirected", captured["url"])
}
