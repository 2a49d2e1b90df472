package mail

import (
	"errors"
	"fmt"
)

// ConnectError indicates that an IMAP session could not be established
// (dial, handshake, or authentication).
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IsConnectError reports whether err (or any error in its chain) is a
// ConnectError.
func IsConnectError(err error) bool {
	var cerr *ConnectError
	return errors.As(err, &cerr)
}

// MailboxOpenError indicates that the configured mailbox could not be
// selected. It is fatal to the session: the caller tears the session
// down and schedules a fresh connection cycle.
type MailboxOpenError struct {
	Mailbox string
	Err     error
}

func (e *MailboxOpenError) Error() string {
	return fmt.Sprintf("opening mailbox %s: %v", e.Mailbox, e.Err)
}

func (e *MailboxOpenError) Unwrap() error {
	return e.Err
}

// IsMailboxOpenError reports whether err (or any error in its chain)
// is a MailboxOpenError.
func IsMailboxOpenError(err error) bool {
	var merr *MailboxOpenError
	return errors.As(err, &merr)
}
