// Package matcher evaluates candidate messages against a feed's expectation
// rules and the run's target date.
//
// Matching is a pure function of the candidate list: the matcher never
// touches the filesystem or the network. Candidates are assumed newest first
// and the first one satisfying every rule wins.
package matcher

import (
	"fmt"
	"regexp"

	"frontpipe/internal/collect"
	"frontpipe/internal/dates"
	"frontpipe/internal/models"
	"frontpipe/pkg/errors"
)

// ResultKind classifies the outcome of evaluating one feed against the
// current candidates.
type ResultKind string

const (
	// KindNoCandidates means nothing even matched the subject rule.
	KindNoCandidates ResultKind = "no_candidates"
	// KindInsufficient means a subject matched but no single candidate
	// carried everything the feed requires.
	KindInsufficient ResultKind = "insufficient"
	// KindWrongDate means the best candidates carried a report date other
	// than the target date.
	KindWrongDate ResultKind = "wrong_date"
	// KindSatisfied means one candidate satisfied every rule.
	KindSatisfied ResultKind = "satisfied"
)

// NoteNoMatch is the row note recorded when no candidate matched.
const NoteNoMatch = "no_matching_email"

// NoteWaiting is the row note recorded when matching candidates exist but
// the required attachments are not all present yet.
const NoteWaiting = "waiting for required attachments"

// Match is the outcome of one evaluation.
type Match struct {
	Kind ResultKind
	// Item is the winning candidate when Kind is KindSatisfied.
	Item collect.Item
	// Kept are the attachments to relocate, in message order.
	Kept []collect.Attachment
	// ReportDate is the date extracted from the winning candidate, when
	// the feed declares a date source that yields one.
	ReportDate string
	// Note is a short human-readable explanation for the row.
	Note string
}

// flexibleDatePattern recognizes human-readable dates like "05-Mar-2025" or
// "03/05/2025" in subject lines.
const flexibleDatePattern = `(?i)(?P<day>\d{1,2})[-/ ](?P<month>[A-Za-z]{3}|\d{1,2})[-/ ](?P<year>\d{4})`

// dataCarrier is satisfied by attachments whose payload is available in
// memory, which all collect sources provide.
type dataCarrier interface {
	Data() []byte
}

// Matcher holds one feed's compiled expectation rules for one target date.
type Matcher struct {
	feed       models.Feed
	targetDate string
	resolver   *dates.Resolver

	subjectRe   *regexp.Regexp
	attachRe    *regexp.Regexp
	filenameRe  *regexp.Regexp
	contentRe   *regexp.Regexp
	extractRe   *regexp.Regexp
	requiredRes []*regexp.Regexp
}

// New compiles the feed's patterns against the given target date. Every
// pattern is compiled up front so a malformed feed definition surfaces as a
// configuration error before any candidate is examined.
func New(feed models.Feed, targetDate string, resolver *dates.Resolver) (*Matcher, error) {
	m := &Matcher{feed: feed, targetDate: targetDate, resolver: resolver}

	var err error
	if m.subjectRe, err = compilePattern(feed.Patterns.SubjectRegex, "subject_regex"); err != nil {
		return nil, err
	}
	if m.attachRe, err = compilePattern(feed.Patterns.AttachmentRegex, "attachment_regex"); err != nil {
		return nil, err
	}
	if m.filenameRe, err = compilePattern(feed.Patterns.FilenameRegex, "filename_regex"); err != nil {
		return nil, err
	}
	if m.contentRe, err = compilePattern(feed.Patterns.ContentRegex, "content_regex"); err != nil {
		return nil, err
	}
	if m.extractRe, err = compilePattern(feed.Patterns.ExtractOnly, "extract_only"); err != nil {
		return nil, err
	}
	for _, pattern := range feed.Patterns.RequiredAttachments {
		re, err := compilePattern(pattern, "required_attachments")
		if err != nil {
			return nil, err
		}
		m.requiredRes = append(m.requiredRes, re)
	}
	return m, nil
}

func compilePattern(pattern, setting string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.ConfigError(errors.CodeInvalidPattern, setting, pattern, err)
	}
	return re, nil
}

// ExtractOnlyPattern returns the compiled archive member filter, or nil when
// the feed extracts everything.
func (m *Matcher) ExtractOnlyPattern() *regexp.Regexp {
	return m.extractRe
}

// SaveRaw reports whether the feed wants the whole raw message archived
// alongside its attachments.
func (m *Matcher) SaveRaw() bool {
	return m.feed.Patterns.SaveRaw
}

// Evaluate scans the candidates, newest first, and returns the first one
// that satisfies every rule, or a classification of why none did.
func (m *Matcher) Evaluate(items []collect.Item) Match {
	sawSubject := false
	wrongDates := map[string]bool{}

	for _, item := range items {
		if m.subjectRe != nil && !m.subjectRe.MatchString(item.Subject()) {
			continue
		}
		sawSubject = true

		reportDate, dated, ok := m.candidateDate(item)
		if dated && reportDate != m.targetDate {
			wrongDates[reportDate] = true
			continue
		}
		if !ok {
			continue
		}

		kept, complete := m.keepAttachments(item)
		if !complete {
			continue
		}

		if m.feed.DateSource == models.DateSourceFilename {
			if mismatch := m.filenameMismatch(kept); mismatch != "" {
				wrongDates[mismatch] = true
				continue
			}
		}
		if m.feed.DateSource == models.DateSourceContent {
			mismatch, ok := m.contentMismatch(kept)
			if mismatch != "" {
				wrongDates[mismatch] = true
				continue
			}
			if !ok {
				continue
			}
		}

		return Match{
			Kind:       KindSatisfied,
			Item:       item,
			Kept:       kept,
			ReportDate: reportDate,
		}
	}

	if len(wrongDates) > 0 {
		return Match{Kind: KindWrongDate, Note: wrongDateNote(wrongDates, m.targetDate)}
	}
	if sawSubject {
		return Match{Kind: KindInsufficient, Note: NoteWaiting}
	}
	return Match{Kind: KindNoCandidates, Note: NoteNoMatch}
}

// candidateDate extracts the report date the candidate message itself
// carries, for the date sources resolvable before attachments are kept.
// dated reports whether a date was extracted, ok whether the candidate may
// proceed.
func (m *Matcher) candidateDate(item collect.Item) (reportDate string, dated, ok bool) {
	switch m.feed.DateSource {
	case models.DateSourceSubject:
		date, err := m.extractWithFeedFormat(item.Subject(), m.subjectRe)
		if err != nil {
			// the subject rule matched but carries no readable date,
			// leave the candidate in play without a date claim
			return "", false, true
		}
		return date, true, true
	case models.DateSourceReceived:
		if m.resolver == nil {
			return "", false, true
		}
		return m.resolver.CalendarDate(item.Received()), true, true
	default:
		return "", false, true
	}
}

// extractWithFeedFormat pulls a date out of text using the feed's format
// convention. Strict formats read the named "ymd" capture of the given
// pattern; the auto format falls back to a generic human-readable pattern.
func (m *Matcher) extractWithFeedFormat(text string, re *regexp.Regexp) (string, error) {
	format := m.feed.ReportDateFormat
	if dates.FormatIsFlexible(format) {
		order := dates.FlexibleOrder(format)
		if order == "" || order == dates.OrderDayMonthYear {
			if m.feed.Patterns.DateOrder != "" {
				order = m.feed.Patterns.DateOrder
			}
		}
		return dates.ExtractFlexible(text, flexibleDatePattern, order)
	}
	if re == nil || !hasGroup(re, "ymd") {
		return "", errors.ExtractionError(errors.CodeNoMatch, text, nil)
	}
	return dates.Extract(text, re.String(), format)
}

func hasGroup(re *regexp.Regexp, name string) bool {
	for _, n := range re.SubexpNames() {
		if n == name {
			return true
		}
	}
	return false
}

// keepAttachments selects the attachments the feed wants from one
// candidate. With a required set, every required pattern must be matched by
// some attachment on this same message. Otherwise the attachment regex
// filters. An attachment is only ever kept through one of those two rules;
// a feed with neither is satisfiable solely via save_raw.
func (m *Matcher) keepAttachments(item collect.Item) ([]collect.Attachment, bool) {
	atts := item.Attachments()

	if len(m.requiredRes) > 0 {
		var kept []collect.Attachment
		used := make(map[int]bool)
		for _, re := range m.requiredRes {
			found := false
			for i, att := range atts {
				if used[i] || !re.MatchString(att.Name()) {
					continue
				}
				used[i] = true
				kept = append(kept, att)
				found = true
				break
			}
			if !found {
				return nil, false
			}
		}
		return kept, true
	}

	if m.attachRe != nil {
		var kept []collect.Attachment
		for _, att := range atts {
			if m.attachRe.MatchString(att.Name()) {
				kept = append(kept, att)
			}
		}
		return kept, len(kept) > 0
	}

	if m.feed.Patterns.SaveRaw {
		return nil, true
	}
	return nil, false
}

// filenameMismatch checks kept attachment names against the target date
// when the feed dates its reports in the filename. It returns the first
// mismatching date found, or empty when every readable name agrees.
func (m *Matcher) filenameMismatch(kept []collect.Attachment) string {
	for _, att := range kept {
		date, err := m.extractWithFeedFormat(att.Name(), m.filenameRe)
		if err != nil {
			continue
		}
		if date != m.targetDate {
			return date
		}
	}
	return ""
}

// contentMismatch inspects kept attachment payloads for an embedded report
// date. ok is false when a content rule exists but no payload was readable.
func (m *Matcher) contentMismatch(kept []collect.Attachment) (mismatch string, ok bool) {
	if m.contentRe == nil {
		return "", true
	}
	readable := false
	for _, att := range kept {
		carrier, has := att.(dataCarrier)
		if !has {
			continue
		}
		readable = true
		date, err := m.extractWithFeedFormat(string(carrier.Data()), m.contentRe)
		if err != nil {
			continue
		}
		if date != m.targetDate {
			return date, true
		}
	}
	return "", readable
}

func wrongDateNote(seen map[string]bool, target string) string {
	for date := range seen {
		if len(seen) == 1 {
			return fmt.Sprintf("report dated %s, expected %s", date, target)
		}
	}
	return fmt.Sprintf("reports dated other than %s", target)
}
