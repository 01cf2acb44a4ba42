package agent

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistillPageDropsNoise(t *testing.T) {
	raw := `<html><head>
		<meta charset="utf-8">
		<style>body { color: red }</style>
		<script>console.log("tracking")</script>
	</head><body>
		<h1 class="fancy" id="title">Level 1</h1>
		<p>What is 6 times 7?</p>
		<form action="https://quiz.example/answer" method="post">
			<input type="text" name="answer" value="">
		</form>
	</body></html>`

	got := DistillPage(raw, 50_000)

	assert.Contains(t, got.Text, "Level 1")
	assert.Contains(t, got.Text, "What is 6 times 7?")
	assert.Contains(t, got.Text, `action="https://quiz.example/answer"`)
	assert.Contains(t, got.Text, `name="answer"`)
	assert.NotContains(t, got.Text, "color: red")
	assert.NotContains(t, got.Text, "tracking")
	assert.NotContains(t, got.Text, "class=")
	assert.Equal(t, "https://quiz.example/answer", got.SubmitURL)
}

func TestDistillPageBoundedSize(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 5000; i++ {
		fmt.Fprintf(&b, "<p>paragraph number %d with some filler text</p>", i)
	}
	b.WriteString("</body></html>")

	const maxBytes = 50_000
	got := DistillPage(b.String(), maxBytes)
	assert.LessOrEqual(t, len(got.Text), maxBytes+len(TruncationMarker))
	assert.True(t, strings.HasSuffix(got.Text, TruncationMarker))

	small := DistillPage("<html><body><p>tiny</p></body></html>", maxBytes)
	assert.False(t, strings.HasSuffix(small.Text, TruncationMarker))
}

func TestDistillPageDecodesAtobPayloads(t *testing.T) {
	hidden := "The answer is the square root of 1764."
	b64 := base64.StdEncoding.EncodeToString([]byte(hidden))
	raw := fmt.Sprintf(`<html><body>
		<div id="q"></div>
		<script>document.getElementById("q").innerHTML = atob("%s");</script>
	</body></html>`, b64)

	got := DistillPage(raw, 50_000)
	assert.Equal(t, []string{hidden}, got.Decoded)
	assert.NotContains(t, got.Text, b64)
}

func TestDistillPageAtobWithoutPadding(t *testing.T) {
	b64 := strings.TrimRight(base64.StdEncoding.EncodeToString([]byte("hi there")), "=")
	raw := fmt.Sprintf(`<script>x = atob('%s')</script>`, b64)

	got := DistillPage(raw, 50_000)
	assert.Equal(t, []string{"hi there"}, got.Decoded)
}

func TestDistillPageFindsSubmitInstruction(t *testing.T) {
	raw := `<html><body>
		<p>Solve the riddle. Post your answer to https://quiz.example/api/submit.</p>
	</body></html>`

	got := DistillPage(raw, 50_000)
	assert.Equal(t, "https://quiz.example/api/submit", got.SubmitURL)
}

func TestDistillPageDetectsAudio(t *testing.T) {
	raw := `<html><body>
		<audio src="/clips/question.mp3"></audio>
	</body></html>`
	got := DistillPage(raw, 50_000)
	assert.Equal(t, "/clips/question.mp3", got.AudioURL)

	linked := DistillPage(`<a href="/hidden/clue.wav">listen</a>`, 50_000)
	assert.Equal(t, "/hidden/clue.wav", linked.AudioURL)

	none := DistillPage(`<a href="/about.html">about</a>`, 50_000)
	assert.Empty(t, none.AudioURL)
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, target, want string
	}{
		{"https://quiz.example/level/1", "/level/2", "https://quiz.example/level/2"},
		{"https://quiz.example/level/1", "next", "https://quiz.example/level/next"},
		{"https://quiz.example/level/1", "https://other.example/x", "https://other.example/x"},
		{"", "https://quiz.example/", "https://quiz.example/"},
	}
	for _, tt := range tests {
		got, err := ResolveURL(tt.base, tt.target)
		assert.NoError(t, err, "%q + %q", tt.base, tt.target)
		assert.Equal(t, tt.want, got)
	}

	_, err := ResolveURL("https://quiz.example/", "")
	assert.Error(t, err)
}
