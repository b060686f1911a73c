// Package models defines the feed definitions and the per-day row set that
// the reconciliation run mutates.
//
// A Feed describes one expected recurring report from one counterparty and
// stream. A FeedRow is the mutable per-target-date incarnation of a Feed;
// its status only changes through the transition methods, which enforce the
// lifecycle rules.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a feed row for one target date.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFound     Status = "found"
	StatusWrongDate Status = "wrong_date"
	StatusSaved     Status = "saved"
	StatusFailed    Status = "failed"
	StatusManual    Status = "manual"
)

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsValid checks if the status is one of the known lifecycle states
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusFound, StatusWrongDate, StatusSaved, StatusFailed, StatusManual:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a row in this status is skipped entirely on
// subsequent passes for the same target date. Failed rows are not terminal:
// they get one fresh attempt per invocation.
func (s Status) IsTerminal() bool {
	return s == StatusSaved || s == StatusManual
}

// transitions holds the allowed target statuses per current status. A
// same-status transition is always allowed so that re-runs can refresh the
// note without churning the lifecycle.
var transitions = map[Status][]Status{
	StatusPending:   {StatusFound, StatusWrongDate, StatusSaved, StatusFailed, StatusManual},
	StatusWrongDate: {StatusPending, StatusSaved, StatusFailed},
	StatusFound:     {StatusSaved, StatusFailed},
	StatusFailed:    {StatusPending, StatusFound, StatusWrongDate, StatusSaved},
	StatusSaved:     {},
	StatusManual:    {},
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DateSource names where a feed's report date is read from.
type DateSource string

const (
	DateSourceSubject  DateSource = "subject"
	DateSourceFilename DateSource = "filename"
	DateSourceContent  DateSource = "content"
	DateSourceReceived DateSource = "received"
)

// IsValid checks if the date source is supported
func (d DateSource) IsValid() bool {
	switch d {
	case DateSourceSubject, DateSourceFilename, DateSourceContent, DateSourceReceived:
		return true
	default:
		return false
	}
}

// Channel names the transport a feed arrives on. Only email feeds ship a
// collector; the remaining channels exist so operators can track them as
// manual rows.
type Channel string

const (
	ChannelEmail  Channel = "email"
	ChannelFTP    Channel = "ftp"
	ChannelSFTP   Channel = "sftp"
	ChannelAPI    Channel = "api"
	ChannelPortal Channel = "portal"
	ChannelManual Channel = "manual"
)

// IsValid checks if the channel is one of the allowed kinds
func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelFTP, ChannelSFTP, ChannelAPI, ChannelPortal, ChannelManual:
		return true
	default:
		return false
	}
}

// ExpectedPatterns holds the matching rules for one feed. All fields are
// regular expressions except DateOrder and SaveRaw.
type ExpectedPatterns struct {
	SubjectRegex        string   `json:"subject_regex,omitempty" mapstructure:"subject_regex"`
	AttachmentRegex     string   `json:"attachment_regex,omitempty" mapstructure:"attachment_regex"`
	FilenameRegex       string   `json:"filename_regex,omitempty" mapstructure:"filename_regex"`
	ContentRegex        string   `json:"content_regex,omitempty" mapstructure:"content_regex"`
	RequiredAttachments []string `json:"required_attachments,omitempty" mapstructure:"required_attachments"`
	ExtractOnly         string   `json:"extract_only,omitempty" mapstructure:"extract_only"`
	DateOrder           string   `json:"date_order,omitempty" mapstructure:"date_order"`
	SaveRaw             bool     `json:"save_raw,omitempty" mapstructure:"save_raw"`
}

// HasMatchRule reports whether the patterns declare at least one of the
// subject/attachment/required-attachment rules an email feed needs.
func (p ExpectedPatterns) HasMatchRule() bool {
	return p.SubjectRegex != "" || p.AttachmentRegex != "" || len(p.RequiredAttachments) > 0
}

// Feed is one expected recurring report, immutable per run.
type Feed struct {
	Counterparty       string           `json:"counterparty" mapstructure:"counterparty"`
	Stream             string           `json:"stream" mapstructure:"stream"`
	Channel            Channel          `json:"channel" mapstructure:"channel"`
	Patterns           ExpectedPatterns `json:"expected_patterns" mapstructure:"expected_patterns"`
	DateSource         DateSource       `json:"date_source" mapstructure:"date_source"`
	ReportDateFormat   string           `json:"report_date_format" mapstructure:"report_date_format"`
	ArrivalWindowLocal string           `json:"arrival_window_local" mapstructure:"arrival_window_local"`
	Mailbox            string           `json:"mailbox,omitempty" mapstructure:"mailbox"`
	FolderPath         []string         `json:"folder_path,omitempty" mapstructure:"folder_path"`
	Manual             bool             `json:"manual" mapstructure:"manual"`
	Note               string           `json:"note,omitempty" mapstructure:"note"`
}

// Key returns the counterparty/stream identifier used in logs and audit
// events.
func (f *Feed) Key() string {
	return f.Counterparty + "/" + f.Stream
}

// Validate performs basic validation on the Feed
func (f *Feed) Validate() error {
	if strings.TrimSpace(f.Counterparty) == "" {
		return fmt.Errorf("feed counterparty cannot be empty")
	}
	if strings.TrimSpace(f.Stream) == "" {
		return fmt.Errorf("feed stream cannot be empty")
	}
	if !f.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q for feed %s", f.Channel, f.Key())
	}
	if f.DateSource != "" && !f.DateSource.IsValid() {
		return fmt.Errorf("invalid date source %q for feed %s", f.DateSource, f.Key())
	}
	if f.Channel == ChannelEmail && !f.Manual && !f.Patterns.HasMatchRule() {
		return fmt.Errorf("email feed %s needs subject/attachment matching rules", f.Key())
	}
	return nil
}

// FeedRow is the mutable per-target-date state of one feed.
type FeedRow struct {
	Feed

	Status      Status   `json:"status"`
	RowNote     string   `json:"row_note,omitempty"`
	SavedPaths  []string `json:"saved_paths,omitempty"`
	LastEventTS string   `json:"last_event_ts,omitempty"`
}

// NewRow creates the initial row for a feed. Manual feeds start in the
// manual status and are never collected.
func NewRow(feed Feed) *FeedRow {
	status := StatusPending
	if feed.Manual {
		status = StatusManual
	}
	return &FeedRow{
		Feed:    feed,
		Status:  status,
		RowNote: feed.Note,
	}
}

// NewRowSet builds the day's row set from the configured feeds, in
// configuration order.
func NewRowSet(feeds []Feed) []*FeedRow {
	rows := make([]*FeedRow, 0, len(feeds))
	for _, feed := range feeds {
		rows = append(rows, NewRow(feed))
	}
	return rows
}

// Transition moves the row to the given status, recording the note. It
// rejects steps the lifecycle does not allow and rejects a saved status
// without saved paths, so an inconsistent row cannot be represented.
func (r *FeedRow) Transition(next Status, note string) error {
	if !next.IsValid() {
		return fmt.Errorf("unknown status %q for feed %s", next, r.Key())
	}
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for feed %s", r.Status, next, r.Key())
	}
	if next == StatusSaved && len(r.SavedPaths) == 0 {
		return fmt.Errorf("feed %s cannot be saved without saved paths", r.Key())
	}

	r.Status = next
	r.RowNote = note
	r.LastEventTS = time.Now().UTC().Format(time.RFC3339)
	return nil
}

// MarkSaved records the relocated paths and transitions the row to saved in
// one step.
func (r *FeedRow) MarkSaved(paths []string, note string) error {
	if len(paths) == 0 {
		return fmt.Errorf("feed %s cannot be saved without saved paths", r.Key())
	}
	r.SavedPaths = append(r.SavedPaths, paths...)
	return r.Transition(StatusSaved, note)
}

// AppendSavedPath records one relocated file. Partial relocations stay
// visible even when the row later fails.
func (r *FeedRow) AppendSavedPath(path string) {
	r.SavedPaths = append(r.SavedPaths, path)
}

// SavedPathDisplay returns the semicolon-joined display form of the saved
// paths.
func (r *FeedRow) SavedPathDisplay() string {
	return strings.Join(r.SavedPaths, ";")
}

// Revisitable reports whether the current pass should process this row.
func (r *FeedRow) Revisitable() bool {
	switch r.Status {
	case StatusPending, StatusFound, StatusWrongDate, StatusFailed:
		return true
	default:
		return false
	}
}

// String returns a string representation of the FeedRow
func (r *FeedRow) String() string {
	return fmt.Sprintf("FeedRow{Feed: %s, Channel: %s, Status: %s}", r.Key(), r.Channel, r.Status)
}
