package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</\s*(script|style|noscript)\s*>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	entities = strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#39;", "'", "&apos;", "'",
	)
)

// ExtractText derives plain text from a fetched evidence body.
// HTML bodies are stripped of markup; textual bodies pass through. Bodies that
// do not decode as UTF-8 text are refused, in which case callers fall back to
// hashing the raw bytes.
func ExtractText(contentType string, body []byte) (string, error) {
	mediaType := contentType
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))

	if !utf8.Valid(body) {
		return "", fmt.Errorf("body is not valid UTF-8 text (content type %q)", contentType)
	}
	text := string(body)

	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml" || looksLikeHTML(text):
		text = scriptRe.ReplaceAllString(text, " ")
		text = tagRe.ReplaceAllString(text, " ")
		text = entities.Replace(text)
		return CollapseWhitespace(text), nil
	case strings.HasPrefix(mediaType, "text/"),
		mediaType == "application/json",
		mediaType == "application/xml",
		mediaType == "application/x-yaml",
		mediaType == "":
		return CollapseWhitespace(text), nil
	default:
		return "", fmt.Errorf("unsupported content type for text extraction: %q", contentType)
	}
}

func looksLikeHTML(text string) bool {
	head := strings.ToLower(text)
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}
