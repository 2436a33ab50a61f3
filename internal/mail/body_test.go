package mail

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	gmail "google.golang.org/api/gmail/v1"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestExtractBody_PrefersPlainText(t *testing.T) {
	msg := &gmail.Message{
		Snippet: "snippet text",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Parts: []*gmail.MessagePart{
				{
					MimeType: "text/html",
					Body:     &gmail.MessagePartBody{Data: b64("<p>html body</p>")},
				},
				{
					MimeType: "text/plain",
					Body:     &gmail.MessagePartBody{Data: b64("plain body")},
				},
			},
		},
	}

	assert.Equal(t, "plain body", extractBody(msg))
}

func TestExtractBody_FallsBackToHTML(t *testing.T) {
	msg := &gmail.Message{
		Snippet: "snippet text",
		Payload: &gmail.MessagePart{
			MimeType: "text/html",
			Body:     &gmail.MessagePartBody{Data: b64("<p>html only</p>")},
		},
	}

	assert.Equal(t, "<p>html only</p>", extractBody(msg))
}

func TestExtractBody_FallsBackToSnippet(t *testing.T) {
	msg := &gmail.Message{Snippet: "snippet only"}
	assert.Equal(t, "snippet only", extractBody(msg))

	msg = &gmail.Message{
		Snippet: "snippet only",
		Payload: &gmail.MessagePart{MimeType: "multipart/mixed"},
	}
	assert.Equal(t, "snippet only", extractBody(msg))
}

func TestExtractBody_NestedParts(t *testing.T) {
	msg := &gmail.Message{
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Parts: []*gmail.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmail.MessagePart{
						{
							MimeType: "text/plain",
							Body:     &gmail.MessagePartBody{Data: b64("nested plain")},
						},
					},
				},
			},
		},
	}

	assert.Equal(t, "nested plain", extractBody(msg))
}

func TestDecodeBody_StandardBase64Fallback(t *testing.T) {
	std := base64.StdEncoding.EncodeToString([]byte("standard+encoded/body"))
	assert.Equal(t, "standard+encoded/body", decodeBody(std))

	assert.Equal(t, "", decodeBody("not base64 at all!"))
}

func TestNormalizeBody(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text passes through",
			in:   "hello world",
			want: "hello world",
		},
		{
			name: "tags stripped",
			in:   "<div><b>bold</b> and <a href=\"http://x\">link</a></div>",
			want: "bold and link",
		},
		{
			name: "entities unescaped",
			in:   "fish &amp; chips",
			want: "fish & chips",
		},
		{
			name: "whitespace collapsed per line",
			in:   "a   b\t c\n\n\nnext   line\n",
			want: "a b c\nnext line",
		},
		{
			name: "scripts removed entirely",
			in:   "before<script>alert(1)</script>after",
			want: "beforeafter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeBody(tt.in))
		})
	}
}

func TestHeaderValue(t *testing.T) {
	msg := &gmail.Message{
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Quarterly report"},
				{Name: "From", Value: "Alice <alice@example.com>"},
			},
		},
	}

	assert.Equal(t, "Quarterly report", HeaderValue(msg, "Subject"))
	assert.Equal(t, "Quarterly report", HeaderValue(msg, "subject"))
	assert.Equal(t, "Alice <alice@example.com>", HeaderValue(msg, "From"))
	assert.Equal(t, "", HeaderValue(msg, "To"))
	assert.Equal(t, "", HeaderValue(&gmail.Message{}, "Subject"))
}
