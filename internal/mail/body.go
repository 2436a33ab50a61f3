package mail

import (
	"encoding/base64"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	gmail "google.golang.org/api/gmail/v1"
)

// stripPolicy removes every tag, leaving only text content.
var stripPolicy = bluemonday.StrictPolicy()

// extractBody pulls the message body out of the MIME tree. text/plain is
// preferred; a text/html part is returned as-is (NormalizeBody strips it
// later); with neither, the provider snippet stands in.
func extractBody(msg *gmail.Message) string {
	if msg.Payload == nil {
		return msg.Snippet
	}

	if body := findPart(msg.Payload, "text/plain"); body != "" {
		return body
	}
	if body := findPart(msg.Payload, "text/html"); body != "" {
		return body
	}
	return msg.Snippet
}

// findPart walks the part tree for the first part of the wanted MIME type
// and returns its decoded body.
func findPart(part *gmail.MessagePart, mimeType string) string {
	var body string
	walkParts(part, func(p *gmail.MessagePart) {
		if body == "" && p.MimeType == mimeType && p.Body != nil && p.Body.Data != "" {
			body = p.Body.Data
		}
	})
	if body == "" {
		return ""
	}
	return decodeBody(body)
}

// walkParts recursively walks through message parts.
func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}

	fn(part)

	for _, subpart := range part.Parts {
		walkParts(subpart, fn)
	}
}

// decodeBody decodes base64url-encoded body data. Some senders use
// standard base64, so that is tried second.
func decodeBody(data string) string {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(decoded)
}

// NormalizeBody reduces a message body to plain text: markup stripped,
// entities unescaped, whitespace collapsed. Plain-text input passes through
// with only whitespace normalization.
func NormalizeBody(body string) string {
	text := stripPolicy.Sanitize(body)
	text = html.UnescapeString(text)
	return collapseWhitespace(text)
}

// collapseWhitespace folds runs of whitespace into single spaces, keeping
// line breaks so list-like mail bodies stay readable.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
