package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"quiznerd/internal/browser"
	"quiznerd/internal/oracle"

	"go.uber.org/zap"
)

// maxMediaBytes caps fetched side-channel media so a huge clip cannot blow
// up the oracle request.
const maxMediaBytes = 4 << 20

// Observation is the decision context handed to the oracle. Its text size
// is bounded independent of input page size.
type Observation struct {
	Content            string
	CurrentURL         string
	LevelStartURL      string
	LastOutcome        string
	Scratchpad         string
	KnownSubmissionURL string
	PageSubmitURL      string
	AttemptsUsed       int
	AttemptsMax        int
	Media              []oracle.Media
}

// Builder assembles observations from page snapshots.
type Builder struct {
	maxContentBytes int
	httpClient      *http.Client
	log             *zap.Logger
}

func NewBuilder(maxContentBytes int, httpClient *http.Client, log *zap.Logger) *Builder {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Builder{
		maxContentBytes: maxContentBytes,
		httpClient:      httpClient,
		log:             log,
	}
}

// Build distills the snapshot and attaches side-channel media. The screenshot
// rides along as an image part; a detected audio clip is fetched (bounded)
// and attached too.
func (b *Builder) Build(ctx context.Context, snap *browser.Snapshot, obs Observation) Observation {
	page := DistillPage(snap.HTML, b.maxContentBytes)

	content := page.Text
	if len(page.Decoded) > 0 {
		// Decoded atob payloads are the hidden question text; surface them
		// prominently rather than losing them with the script tags. The
		// payloads count against the same cap as the markup, so the combined
		// content stays bounded no matter what the page encodes.
		content += "\n--- decoded page payloads ---\n" + strings.Join(page.Decoded, "\n")
		content = clamp(content, b.maxContentBytes)
	}

	obs.Content = content
	obs.CurrentURL = snap.URL
	obs.PageSubmitURL = page.SubmitURL

	if len(snap.Screenshot) > 0 {
		obs.Media = append(obs.Media, oracle.Media{MIMEType: "image/png", Data: snap.Screenshot})
	}
	if page.AudioURL != "" {
		if m, ok := b.fetchAudio(ctx, snap.URL, page.AudioURL); ok {
			obs.Media = append(obs.Media, m)
		}
	}
	return obs
}

// fetchAudio resolves and downloads a referenced clip, bounded in size.
// Failures just drop the attachment; audio is a hint, not a requirement.
func (b *Builder) fetchAudio(ctx context.Context, baseURL, audioURL string) (oracle.Media, bool) {
	resolved, err := ResolveURL(baseURL, audioURL)
	if err != nil {
		return oracle.Media{}, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return oracle.Media{}, false
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.log.Warn("audio fetch failed", zap.String("url", resolved), zap.Error(err))
		return oracle.Media{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return oracle.Media{}, false
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil || len(data) == 0 {
		return oracle.Media{}, false
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" || strings.HasPrefix(mime, "application/octet-stream") {
		mime = mimeForAudioURL(resolved)
	}
	return oracle.Media{MIMEType: mime, Data: data}, true
}

func mimeForAudioURL(u string) string {
	switch {
	case strings.Contains(u, ".wav"):
		return "audio/wav"
	case strings.Contains(u, ".ogg"), strings.Contains(u, ".opus"):
		return "audio/ogg"
	case strings.Contains(u, ".m4a"):
		return "audio/mp4"
	default:
		return "audio/mpeg"
	}
}

// ResolveURL resolves target against base, so relative links from the page
// or the oracle become absolute before dispatch.
func ResolveURL(base, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("empty url")
	}
	t, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", target, err)
	}
	if t.IsAbs() {
		return t.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return "", fmt.Errorf("cannot resolve relative url %q against %q", target, base)
	}
	return b.ResolveReference(t).String(), nil
}
