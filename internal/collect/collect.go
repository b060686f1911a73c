// Package collect fetches candidate report messages from mail sources.
//
// A Source abstracts where messages come from (a directory of .eml files, an
// mbox archive, a live IMAP account). All sources return fully parsed items,
// newest first, so downstream matching is source-agnostic.
package collect

import (
	"bytes"
	"context"
	"io"
	"os"
	"sort"
	"time"

	"github.com/emersion/go-message/mail"

	"frontpipe/pkg/errors"
)

// Attachment is a named payload carried by a candidate message.
type Attachment interface {
	// Name returns the attachment filename as sent.
	Name() string
	// Save writes the attachment payload to the given path.
	Save(path string) error
}

// Item is a candidate message: a subject line, a received instant and zero
// or more attachments.
type Item interface {
	Subject() string
	Received() time.Time
	Attachments() []Attachment
	// Raw returns the original message bytes, for archival.
	Raw() []byte
}

// Source fetches candidate items received within the lookback window.
// Implementations return items sorted newest first.
type Source interface {
	Fetch(ctx context.Context, window time.Duration) ([]Item, error)
}

// memAttachment holds an attachment payload decoded into memory.
type memAttachment struct {
	name string
	data []byte
}

func (a *memAttachment) Name() string { return a.name }

// Data exposes the decoded payload for content inspection.
func (a *memAttachment) Data() []byte { return a.data }

func (a *memAttachment) Save(path string) error {
	if err := os.WriteFile(path, a.data, 0o644); err != nil {
		return errors.CollaboratorError(errors.CodeAttachmentFailed, a.name, err)
	}
	return nil
}

// message is a parsed mail item.
type message struct {
	subject     string
	received    time.Time
	attachments []Attachment
	raw         []byte
}

func (m *message) Subject() string           { return m.subject }
func (m *message) Received() time.Time       { return m.received }
func (m *message) Attachments() []Attachment { return m.attachments }
func (m *message) Raw() []byte               { return m.raw }

// parseMessage decodes a raw RFC 5322 message into an item. Attachment
// payloads are decoded eagerly so the item stays usable after the source
// connection is gone.
func parseMessage(raw []byte) (Item, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.CollaboratorError(errors.CodeParseFailed, "message", err)
	}

	msg := &message{raw: raw}
	msg.subject, _ = mr.Header.Subject()
	if date, err := mr.Header.Date(); err == nil {
		msg.received = date
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.CollaboratorError(errors.CodeParseFailed, msg.subject, err)
		}

		header, ok := part.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		name, err := header.Filename()
		if err != nil || name == "" {
			continue
		}
		data, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, errors.CollaboratorError(errors.CodeAttachmentFailed, name, err)
		}
		msg.attachments = append(msg.attachments, &memAttachment{name: name, data: data})
	}

	return msg, nil
}

// sortNewestFirst orders items by received time descending, in place.
func sortNewestFirst(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Received().After(items[j].Received())
	})
}

// withinWindow reports whether an item arrived inside the lookback window
// ending at now. A zero window accepts everything.
func withinWindow(received, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	return !received.Before(now.Add(-window))
}
