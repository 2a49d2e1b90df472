// Package format renders parsed mail messages as Telegram HTML text.
package format

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nhle/mailgram/internal/model"
)

// DefaultMaxBodyChars is the default body excerpt cap.
const DefaultMaxBodyChars = 1500

// ellipsis marks a truncated body excerpt.
const ellipsis = "…"

// Formatter turns a parsed message into chat-safe HTML-mode text.
type Formatter struct {
	maxBodyChars int
}

// New creates a Formatter with the given body excerpt cap. A
// non-positive cap falls back to DefaultMaxBodyChars.
func New(maxBodyChars int) *Formatter {
	if maxBodyChars <= 0 {
		maxBodyChars = DefaultMaxBodyChars
	}
	return &Formatter{maxBodyChars: maxBodyChars}
}

// markupEscaper replaces the three markup metacharacters accepted by
// Telegram's HTML parse mode. Nothing else is altered.
var markupEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// Escape replaces &, < and > with their entity equivalents so
// user-supplied text cannot inject or break markup.
func Escape(s string) string {
	return markupEscaper.Replace(s)
}

// Format renders sender, subject, timestamp, a body excerpt, and an
// attachment summary into Telegram HTML markup.
func (f *Formatter) Format(msg *model.ParsedMessage) string {
	var b strings.Builder

	subject := msg.Envelope.Subject
	if subject == "" {
		subject = "(no subject)"
	}

	b.WriteString("✉ <b>")
	b.WriteString(Escape(subject))
	b.WriteString("</b>\n")
	b.WriteString("From: ")
	b.WriteString(Escape(msg.Envelope.From))
	b.WriteString("\n")
	if !msg.Envelope.Date.IsZero() {
		b.WriteString("Date: ")
		b.WriteString(msg.Envelope.Date.Format("2006-01-02 15:04"))
		b.WriteString("\n")
	}

	if excerpt := f.excerpt(msg); excerpt != "" {
		b.WriteString("\n")
		b.WriteString(Escape(excerpt))
		b.WriteString("\n")
	}

	if len(msg.Attachments) > 0 {
		b.WriteString(fmt.Sprintf("\nAttachments (%d):\n", len(msg.Attachments)))
		for _, att := range msg.Attachments {
			name := att.Filename
			if name == "" {
				name = "(unnamed)"
			}
			b.WriteString(fmt.Sprintf(
				"• %s (%s, %d bytes)\n",
				Escape(name), Escape(att.MIMEType), att.Size,
			))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// excerpt picks the plain text body, falling back to stripped HTML,
// and truncates it to the configured cap. The ellipsis marker counts
// toward the cap so the result never exceeds it.
func (f *Formatter) excerpt(msg *model.ParsedMessage) string {
	// The plain body is emitted as-is; whitespace only decides
	// whether to fall back to the HTML part.
	body := msg.TextBody
	if strings.TrimSpace(body) == "" {
		body = ""
		if msg.HTMLBody != "" {
			body = StripHTML(msg.HTMLBody)
		}
	}

	runes := []rune(body)
	if len(runes) <= f.maxBodyChars {
		return body
	}
	return string(runes[:f.maxBodyChars-1]) + ellipsis
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes HTML tags from a string and decodes common
// entities, providing a basic plain-text rendering.
func StripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}
