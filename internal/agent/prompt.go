package agent

import (
	"fmt"
	"strings"
)

// systemPrompt fixes the oracle's role and the reply contract. The reply
// must be a single JSON object so the decision parser has a fighting chance.
const systemPrompt = `You are an autonomous agent solving a web quiz, one page at a time.
Each turn you receive the current page content (sanitized HTML), your
scratchpad notes, the outcome of your previous action, and optionally a
screenshot and audio clip from the page.

Reply with ONE JSON object and nothing else:
  {"action": "navigate", "url": "<absolute or page-relative URL>", "note": "<optional scratchpad note>"}
  {"action": "execute_code", "code": "<python3 script printing its result to stdout>", "note": "..."}
  {"action": "submit", "submit_url": "<endpoint>", "payload": {"answer": <value>, ...}, "note": "..."}
  {"action": "done", "note": "..."}

Rules:
- Quiz pages state where to post answers; use that endpoint in submit_url.
- The payload's email, secret, and url fields are filled in for you; supply
  the answer and any extra fields the page demands.
- Code runs with network access and a 30 second limit; print only the final
  answer.
- If an answer was wrong, change your approach instead of repeating it.
- Use "done" only when the quiz is finished or no progress is possible.`

// renderPrompt lays the observation out as the oracle's user prompt.
func renderPrompt(obs Observation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Current URL: %s\n", obs.CurrentURL)
	if obs.LevelStartURL != "" && obs.LevelStartURL != obs.CurrentURL {
		fmt.Fprintf(&b, "This level started at: %s\n", obs.LevelStartURL)
	}
	if obs.PageSubmitURL != "" {
		fmt.Fprintf(&b, "Submission endpoint advertised by this page: %s\n", obs.PageSubmitURL)
	}
	if obs.KnownSubmissionURL != "" {
		fmt.Fprintf(&b, "Submission endpoint that worked previously: %s\n", obs.KnownSubmissionURL)
	}
	if obs.AttemptsMax > 0 {
		fmt.Fprintf(&b, "Approaches used on this level: %d of %d\n", obs.AttemptsUsed, obs.AttemptsMax)
	}

	if obs.LastOutcome != "" {
		b.WriteString("\nOutcome of your previous action:\n")
		b.WriteString(obs.LastOutcome)
		b.WriteByte('\n')
	}

	b.WriteString("\nYour scratchpad:\n")
	b.WriteString(obs.Scratchpad)
	b.WriteByte('\n')

	b.WriteString("\nPage content:\n")
	b.WriteString(obs.Content)
	b.WriteByte('\n')

	return b.String()
}
