package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quiznerd/internal/browser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBuildAttachesScreenshotAndDistillsContent(t *testing.T) {
	b := NewBuilder(50_000, nil, zaptest.NewLogger(t))

	snap := &browser.Snapshot{
		URL:        "https://quiz.example/level/1",
		HTML:       `<html><body><p>Question text</p><script>x = atob("c2VjcmV0IGhpbnQ=")</script></body></html>`,
		Screenshot: []byte{0x89, 0x50, 0x4e, 0x47},
	}

	obs := b.Build(context.Background(), snap, Observation{LevelStartURL: "https://quiz.example/level/1"})

	assert.Equal(t, "https://quiz.example/level/1", obs.CurrentURL)
	assert.Contains(t, obs.Content, "Question text")
	assert.Contains(t, obs.Content, "decoded page payloads")
	assert.Contains(t, obs.Content, "secret hint")

	require.Len(t, obs.Media, 1)
	assert.Equal(t, "image/png", obs.Media[0].MIMEType)
}

func TestBuildFetchesReferencedAudio(t *testing.T) {
	clip := []byte("RIFF fake wav bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/clips/question.wav", r.URL.Path)
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(clip)
	}))
	defer srv.Close()

	b := NewBuilder(50_000, srv.Client(), zaptest.NewLogger(t))
	snap := &browser.Snapshot{
		URL:  srv.URL + "/level/3",
		HTML: `<html><body><audio src="/clips/question.wav"></audio></body></html>`,
	}

	obs := b.Build(context.Background(), snap, Observation{})
	require.Len(t, obs.Media, 1)
	assert.Equal(t, "audio/wav", obs.Media[0].MIMEType)
	assert.Equal(t, clip, obs.Media[0].Data)
}

func TestBuildToleratesAudioFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	b := NewBuilder(50_000, srv.Client(), zaptest.NewLogger(t))
	snap := &browser.Snapshot{
		URL:  srv.URL,
		HTML: `<audio src="/gone.mp3"></audio>`,
	}

	obs := b.Build(context.Background(), snap, Observation{})
	assert.Empty(t, obs.Media)
}

func TestBuildBoundsContentForHugePages(t *testing.T) {
	var huge strings.Builder
	huge.WriteString("<html><body>")
	for i := 0; i < 20_000; i++ {
		fmt.Fprintf(&huge, "<p>row %d</p>", i)
	}
	huge.WriteString("</body></html>")

	b := NewBuilder(50_000, nil, zaptest.NewLogger(t))
	obs := b.Build(context.Background(), &browser.Snapshot{URL: "https://q/1", HTML: huge.String()}, Observation{})
	assert.LessOrEqual(t, len(obs.Content), 50_000+len(TruncationMarker))
}

func TestBuildBoundsContentForHugeDecodedPayloads(t *testing.T) {
	// The page bulk hides inside an atob() blob rather than the markup.
	blob := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("secret question text ", 100_000)))
	page := fmt.Sprintf(`<html><body><p>tiny visible part</p><script>q = atob("%s")</script></body></html>`, blob)

	const maxBytes = 50_000
	b := NewBuilder(maxBytes, nil, zaptest.NewLogger(t))
	obs := b.Build(context.Background(), &browser.Snapshot{URL: "https://q/1", HTML: page}, Observation{})

	assert.LessOrEqual(t, len(obs.Content), maxBytes+len(TruncationMarker))
	assert.True(t, strings.HasSuffix(obs.Content, TruncationMarker))
	assert.Contains(t, obs.Content, "decoded page payloads")
	assert.Contains(t, obs.Content, "secret question text")
}

func TestRenderPromptLayout(t *testing.T) {
	obs := Observation{
		Content:            "<p>question</p>",
		CurrentURL:         "https://q/hints",
		LevelStartURL:      "https://q/level/1",
		LastOutcome:        "incorrect: wrong color",
		Scratchpad:         "tried blue",
		KnownSubmissionURL: "https://q/answer",
		PageSubmitURL:      "https://q/api/submit",
		AttemptsUsed:       2,
		AttemptsMax:        10,
	}

	prompt := renderPrompt(obs)
	assert.Contains(t, prompt, "https://q/hints")
	assert.Contains(t, prompt, "https://q/level/1")
	assert.Contains(t, prompt, "https://q/api/submit")
	assert.Contains(t, prompt, "https://q/answer")
	assert.Contains(t, prompt, "2 of 10")
	assert.Contains(t, prompt, "incorrect: wrong color")
	assert.Contains(t, prompt, "tried blue")
	assert.Contains(t, prompt, "<p>question</p>")
}
