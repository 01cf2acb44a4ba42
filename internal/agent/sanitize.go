package agent

import (
	"encoding/base64"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// TruncationMarker is appended whenever sanitized content hits the size cap.
const TruncationMarker = "\n[content truncated]"

// Tags whose subtrees carry no information the oracle can act on.
var droppedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"meta":     true,
	"link":     true,
	"noscript": true,
	"svg":      true,
	"iframe":   true,
	"template": true,
}

// Attributes worth keeping: everything needed to locate actionable elements,
// nothing that styles or scripts them.
var keptAttrs = map[string]bool{
	"href":   true,
	"src":    true,
	"action": true,
	"method": true,
	"name":   true,
	"value":  true,
	"id":     true,
	"type":   true,
	"alt":    true,
}

var (
	atobRe       = regexp.MustCompile("atob\\(\\s*[`'\"]([A-Za-z0-9+/=_-]+)[`'\"]\\s*\\)")
	submitURLRe  = regexp.MustCompile(`[Pp]ost your answer to (https?://[^\s"'<>]+)`)
	formActionRe = regexp.MustCompile(`<form[^>]+action="(https?://[^"]+)"`)
	audioExtRe   = regexp.MustCompile(`(?i)\.(mp3|wav|ogg|opus|m4a)(\?[^\s"'<>]*)?$`)
)

// PageContent is the distilled view of a rendered page.
type PageContent struct {
	// Sanitized markup, bounded by the caller's size cap.
	Text string
	// Base64 payloads decoded from atob() calls; quiz pages hide the
	// question this way and the sanitizer would otherwise drop it with the
	// script tag.
	Decoded []string
	// Submission endpoint advertised by the page, when present.
	SubmitURL string
	// First audio clip referenced by the page, when present.
	AudioURL string
}

// DistillPage sanitizes raw HTML down to its informative parts and extracts
// side-channel signals in the same pass. The returned Text is bounded by
// maxBytes regardless of input size.
func DistillPage(rawHTML string, maxBytes int) PageContent {
	content := PageContent{}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		// Unparseable markup still gets a bounded, best-effort view.
		content.Text = clamp(rawHTML, maxBytes)
		content.Decoded = decodeAtobPayloads(rawHTML)
		content.SubmitURL = findSubmitURL(rawHTML)
		return content
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := collapseSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte('\n')
			}
			return
		case html.ElementNode:
			tag := strings.ToLower(n.Data)
			if droppedTags[tag] {
				if tag == "script" {
					content.Decoded = append(content.Decoded, decodeAtobPayloads(textOf(n))...)
				}
				return
			}
			if content.AudioURL == "" {
				content.AudioURL = audioSource(tag, n)
			}
			writeOpenTag(&b, tag, n)
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
			b.WriteString("</" + tag + ">\n")
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	content.Text = clamp(b.String(), maxBytes)
	content.SubmitURL = findSubmitURL(rawHTML)
	return content
}

func writeOpenTag(b *strings.Builder, tag string, n *html.Node) {
	b.WriteByte('<')
	b.WriteString(tag)
	for _, attr := range n.Attr {
		if keptAttrs[strings.ToLower(attr.Key)] {
			b.WriteString(" " + attr.Key + `="` + attr.Val + `"`)
		}
	}
	b.WriteByte('>')
}

func audioSource(tag string, n *html.Node) string {
	attrVal := func(key string) string {
		for _, a := range n.Attr {
			if strings.EqualFold(a.Key, key) {
				return a.Val
			}
		}
		return ""
	}
	switch tag {
	case "audio", "source":
		if src := attrVal("src"); src != "" {
			return src
		}
	case "a":
		if href := attrVal("href"); audioExtRe.MatchString(href) {
			return href
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// decodeAtobPayloads extracts and decodes base64 strings passed to atob().
func decodeAtobPayloads(script string) []string {
	var out []string
	for _, m := range atobRe.FindAllStringSubmatch(script, -1) {
		b64 := m[1]
		if pad := len(b64) % 4; pad != 0 {
			b64 += strings.Repeat("=", 4-pad)
		}
		decoded, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			continue
		}
		out = append(out, string(decoded))
	}
	return out
}

// findSubmitURL looks for the "Post your answer to <url>" instruction quiz
// pages carry, falling back to the first absolute form action.
func findSubmitURL(rawHTML string) string {
	if m := submitURLRe.FindStringSubmatch(rawHTML); m != nil {
		return strings.TrimRight(m[1], ".,;:")
	}
	if m := formActionRe.FindStringSubmatch(rawHTML); m != nil {
		return m[1]
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clamp(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + TruncationMarker
}
