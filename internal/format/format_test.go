package format

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailgram/internal/model"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"ampersand", "a & b", "a &amp; b"},
		{"tags", "<script>alert(1)</script>", "&lt;script&gt;alert(1)&lt;/script&gt;"},
		{"mixed", "x < y && y > z", "x &lt; y &amp;&amp; y &gt; z"},
		{"untouched", `quotes " and ' stay`, `quotes " and ' stay`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Escape(tt.in))
		})
	}
}

func TestFormatShortBodyUnmodified(t *testing.T) {
	f := New(100)
	msg := &model.ParsedMessage{
		Envelope: model.Envelope{
			Subject: "Weekly report",
			From:    "Alice <alice@example.com>",
			Date:    time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
		},
		TextBody: "All systems nominal.",
	}

	out := f.Format(msg)

	assert.Contains(t, out, "<b>Weekly report</b>")
	assert.Contains(t, out, "From: Alice &lt;alice@example.com&gt;")
	assert.Contains(t, out, "Date: 2025-03-14 09:30")
	assert.Contains(t, out, "All systems nominal.")
	assert.NotContains(t, out, "…")
}

func TestFormatTruncatesLongBody(t *testing.T) {
	const max = 50
	f := New(max)
	msg := &model.ParsedMessage{
		Envelope: model.Envelope{Subject: "s", From: "f"},
		TextBody: strings.Repeat("a", 200),
	}

	out := f.Format(msg)

	require.Contains(t, out, "…")
	// The excerpt is the line holding the body.
	var excerpt string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "a") {
			excerpt = line
		}
	}
	require.NotEmpty(t, excerpt)
	assert.Equal(t, max, len([]rune(excerpt)))
	assert.True(t, strings.HasSuffix(excerpt, "…"))
}

func TestFormatEmitsShortBodyVerbatim(t *testing.T) {
	f := New(100)
	body := "  indented first line\nsecond  line"
	msg := &model.ParsedMessage{
		Envelope: model.Envelope{Subject: "s", From: "f"},
		TextBody: body,
	}

	assert.Contains(t, f.Format(msg), body,
		"a body under the cap is embedded unmodified")
}

func TestFormatWhitespaceBodyFallsBackToHTML(t *testing.T) {
	f := New(100)
	msg := &model.ParsedMessage{
		Envelope: model.Envelope{Subject: "s", From: "f"},
		TextBody: "  \n\t",
		HTMLBody: "<p>real content</p>",
	}

	assert.Contains(t, f.Format(msg), "real content")
}

func TestFormatFallsBackToStrippedHTML(t *testing.T) {
	f := New(500)
	msg := &model.ParsedMessage{
		Envelope: model.Envelope{Subject: "s", From: "f"},
		HTMLBody: "<div><p>First line</p><p>Second &amp; last</p></div>",
	}

	out := f.Format(msg)

	assert.Contains(t, out, "First line")
	assert.Contains(t, out, "Second &amp; last") // re-escaped after entity decode
	assert.NotContains(t, out, "<div>")
	assert.NotContains(t, out, "<p>")
}

func TestFormatAttachmentSummary(t *testing.T) {
	f := New(500)
	msg := &model.ParsedMessage{
		Envelope: model.Envelope{Subject: "s", From: "f"},
		TextBody: "see attached",
		Attachments: []model.Attachment{
			{Filename: "report.pdf", MIMEType: "application/pdf", Size: 12345},
			{Filename: "", MIMEType: "image/png", Size: 99},
		},
	}

	out := f.Format(msg)

	assert.Contains(t, out, "Attachments (2):")
	assert.Contains(t, out, "report.pdf (application/pdf, 12345 bytes)")
	assert.Contains(t, out, "(unnamed) (image/png, 99 bytes)")
}

func TestFormatNoSubjectPlaceholder(t *testing.T) {
	f := New(500)
	msg := &model.ParsedMessage{
		Envelope: model.Envelope{From: "f"},
	}

	assert.Contains(t, f.Format(msg), "(no subject)")
}

func TestStripHTML(t *testing.T) {
	in := "<html><body>Hello<br>world &nbsp;&gt; ok</body></html>"
	out := StripHTML(in)
	assert.Equal(t, "Hello\nworld  > ok", out)
}
