package model

import "time"

// Envelope holds the parsed envelope data from an IMAP message.
type Envelope struct {
	MessageID string
	Subject   string
	From      string
	To        []string
	Date      time.Time
	UID       uint32
}

// ParsedMessage holds the full parsed content of an email message.
// It is produced by the mail parser and treated as read-only by the
// rest of the pipeline.
type ParsedMessage struct {
	Envelope    Envelope
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// Attachment holds metadata about a message attachment. Attachment
// bodies are never downloaded; only descriptors are kept.
type Attachment struct {
	Filename string
	Size     int64
	MIMEType string
}
