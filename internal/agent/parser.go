package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawDecision mirrors the JSON shape the oracle is instructed to produce.
// Payload stays raw so a broken fragment can be repaired without losing the
// rest of the decision.
type rawDecision struct {
	Action    string          `json:"action"`
	URL       string          `json:"url"`
	Code      string          `json:"code"`
	SubmitURL string          `json:"submit_url"`
	Payload   json.RawMessage `json:"payload"`
	Note      string          `json:"note"`
}

// ParseDecision converts a raw oracle reply into a validated Action.
// Oracle output is inherently unreliable input: unrecognized action values
// yield ActionUnknown, and a recognized action missing required fields
// returns an error describing the omission so the loop can surface it as an
// observation and continue.
func ParseDecision(reply string) (Action, error) {
	cleaned := stripFences(reply)
	obj := extractObject(cleaned)
	if obj == "" {
		return Action{Kind: ActionUnknown, Raw: snippet(reply)}, nil
	}

	var dec rawDecision
	if err := json.Unmarshal([]byte(obj), &dec); err != nil {
		return Action{Kind: ActionUnknown, Raw: snippet(reply)}, nil
	}

	note := strings.TrimSpace(dec.Note)

	switch strings.ToLower(strings.TrimSpace(dec.Action)) {
	case "navigate":
		if strings.TrimSpace(dec.URL) == "" {
			return Action{}, fmt.Errorf("navigate action missing required url field")
		}
		return Action{Kind: ActionNavigate, URL: strings.TrimSpace(dec.URL), Note: note}, nil

	case "execute_code":
		if strings.TrimSpace(dec.Code) == "" {
			return Action{}, fmt.Errorf("execute_code action missing required code field")
		}
		return Action{Kind: ActionExecuteCode, Code: dec.Code, Note: note}, nil

	case "submit":
		payload, err := parsePayload(dec.Payload)
		if err != nil {
			return Action{}, fmt.Errorf("submit action payload unusable: %w", err)
		}
		return Action{
			Kind:      ActionSubmit,
			SubmitURL: strings.TrimSpace(dec.SubmitURL),
			Payload:   payload,
			Note:      note,
		}, nil

	case "done":
		return Action{Kind: ActionDone, Note: note}, nil

	default:
		return Action{Kind: ActionUnknown, Raw: snippet(reply)}, nil
	}
}

// parsePayload decodes the submit payload, attempting best-effort repair of
// broken fragments (stray fences, trailing junk) before giving up.
func parsePayload(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err == nil {
		return payload, nil
	}

	// The payload may have arrived as a JSON string containing an object.
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		repaired := extractObject(stripFences(asString))
		if repaired != "" {
			if err := json.Unmarshal([]byte(repaired), &payload); err == nil {
				return payload, nil
			}
		}
		return nil, fmt.Errorf("payload string does not contain a JSON object")
	}

	// Last resort: slice out the first balanced object within the fragment.
	repaired := extractObject(string(raw))
	if repaired != "" && repaired != string(raw) {
		if err := json.Unmarshal([]byte(repaired), &payload); err == nil {
			return payload, nil
		}
	}

	return nil, fmt.Errorf("payload is not a JSON object")
}

// stripFences removes markdown code fences around the reply.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag on the opening fence.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractObject returns the first balanced {...} object in s, tolerating
// leading prose and trailing junk. Strings and escapes are respected.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
