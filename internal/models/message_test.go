package models

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessageRequestValidate(t *testing.T) {
	req := SendMessageRequest{
		ConversationID: uuid.New(),
		Content:        "hello",
		ClientKey:      "ck-1",
	}
	require.NoError(t, req.Validate())
	assert.Equal(t, KindText, req.Kind, "kind defaults to text")

	missingKey := req
	missingKey.ClientKey = ""
	assert.Error(t, missingKey.Validate())

	missingConv := req
	missingConv.ConversationID = uuid.Nil
	assert.Error(t, missingConv.Validate())

	badKind := req
	badKind.Kind = "sticker"
	assert.Error(t, badKind.Validate())

	empty := req
	empty.Content = ""
	assert.Error(t, empty.Validate())

	attachmentOnly := req
	attachmentOnly.Content = ""
	attachmentOnly.Kind = KindImage
	attachmentOnly.Attachment = &Attachment{Name: "photo.jpg", URL: "https://cdn.example/photo.jpg"}
	assert.NoError(t, attachmentOnly.Validate())
}

func TestSnippetTruncation(t *testing.T) {
	short := "orçamento para revisão"
	assert.Equal(t, short, Snippet(short))

	long := strings.Repeat("a", 500)
	got := Snippet(long)
	assert.Equal(t, snippetMax, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))

	// Multibyte content must be cut on rune boundaries.
	multibyte := strings.Repeat("ção", 100)
	assert.True(t, utf8.ValidString(Snippet(multibyte)))
}
