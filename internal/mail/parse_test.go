package mail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// crlf converts a readable heredoc-style message to proper wire format.
func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseBodyMultipart(t *testing.T) {
	raw := crlf(`From: Alice <alice@example.com>
To: bob@example.com
Subject: quarterly numbers
Content-Type: multipart/mixed; boundary="frontier"

--frontier
Content-Type: text/plain; charset=utf-8

Numbers attached.
--frontier
Content-Type: text/html; charset=utf-8

<p>Numbers <b>attached</b>.</p>
--frontier
Content-Type: application/pdf
Content-Disposition: attachment; filename="q3.pdf"

%PDF-1.4 not really a pdf
--frontier--
`)

	text, html, attachments, err := ParseBody(raw)
	require.NoError(t, err)

	assert.Equal(t, "Numbers attached.", text)
	assert.Contains(t, html, "<b>attached</b>")
	require.Len(t, attachments, 1)
	assert.Equal(t, "q3.pdf", attachments[0].Filename)
	assert.Equal(t, "application/pdf", attachments[0].MIMEType)
	assert.Equal(t, int64(len("%PDF-1.4 not really a pdf")), attachments[0].Size)
}

func TestParseBodyPlainText(t *testing.T) {
	raw := crlf(`From: a@example.com
To: b@example.com
Subject: hi
Content-Type: text/plain; charset=utf-8

just text
`)

	text, html, attachments, err := ParseBody(raw)
	require.NoError(t, err)

	assert.Equal(t, "just text\r\n", text)
	assert.Empty(t, html)
	assert.Empty(t, attachments)
}

func TestParseBodyMalformed(t *testing.T) {
	_, _, _, err := ParseBody([]byte("this is not an rfc822 message at all"))
	assert.Error(t, err)
}
