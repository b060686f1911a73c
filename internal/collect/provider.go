package collect

import (
	"context"
	"path/filepath"
	"time"

	"frontpipe/internal/models"
	"frontpipe/pkg/errors"
	"frontpipe/pkg/logger"
)

// Collector kinds accepted by the provider.
const (
	KindDir  = "dir"
	KindMbox = "mbox"
	KindIMAP = "imap"
)

// SourceProvider resolves the message source serving a given feed.
type SourceProvider interface {
	SourceFor(feed models.Feed) (Source, error)
}

// ProviderOptions selects and configures the collector backing email feeds.
type ProviderOptions struct {
	// Kind is one of dir, mbox or imap.
	Kind string
	// Path is the .eml directory (dir) or archive file (mbox).
	Path string
	// IMAP holds connection settings when Kind is imap.
	IMAP IMAPOptions
}

// Provider builds sources on demand and caches them per mailbox, so feeds
// sharing a mailbox share a source.
type Provider struct {
	opts    ProviderOptions
	log     logger.Logger
	sources map[string]Source
}

// NewProvider creates a provider for the configured collector kind.
func NewProvider(opts ProviderOptions, log logger.Logger) (*Provider, error) {
	switch opts.Kind {
	case KindDir, KindMbox, KindIMAP:
	default:
		return nil, errors.ConfigError(errors.CodeInvalidConfig, "collector.kind", opts.Kind, nil)
	}
	if log == nil {
		log = logger.GetGlobalLogger().WithComponent("collect")
	}
	return &Provider{opts: opts, log: log, sources: make(map[string]Source)}, nil
}

// SourceFor returns the source serving the feed's mailbox. Only email feeds
// have sources; other channels report that no collector is wired.
func (p *Provider) SourceFor(feed models.Feed) (Source, error) {
	if feed.Channel != models.ChannelEmail {
		return nil, errors.CollaboratorError(errors.CodeNoCollector, feed.Key(), nil)
	}

	key := feed.Mailbox
	if src, ok := p.sources[key]; ok {
		return src, nil
	}

	src, err := p.build(feed)
	if err != nil {
		return nil, err
	}
	p.sources[key] = src
	return src, nil
}

func (p *Provider) build(feed models.Feed) (Source, error) {
	switch p.opts.Kind {
	case KindDir:
		dir := p.opts.Path
		if feed.Mailbox != "" {
			dir = filepath.Join(dir, feed.Mailbox)
		}
		return NewDirSource(dir, p.log), nil
	case KindMbox:
		return NewMboxSource(p.opts.Path, p.log), nil
	case KindIMAP:
		opts := p.opts.IMAP
		if feed.Mailbox != "" {
			opts.Mailbox = feed.Mailbox
		}
		return NewIMAPSource(opts, p.log)
	}
	return nil, errors.ConfigError(errors.CodeInvalidConfig, "collector.kind", p.opts.Kind, nil)
}

// MemorySource is an in-memory source used by tests and by the manual
// channel tooling.
type MemorySource struct {
	Items []Item
	Err   error
}

// Fetch returns the canned items newest first, ignoring the window.
func (s *MemorySource) Fetch(_ context.Context, _ time.Duration) ([]Item, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	items := make([]Item, len(s.Items))
	copy(items, s.Items)
	sortNewestFirst(items)
	return items, nil
}

// NewMemoryItem builds an item directly from parts, bypassing mail parsing.
func NewMemoryItem(subject string, received time.Time, attachments ...Attachment) Item {
	return &message{subject: subject, received: received, attachments: attachments}
}

// NewMemoryRawItem builds an item that also carries raw message bytes.
func NewMemoryRawItem(subject string, received time.Time, raw []byte, attachments ...Attachment) Item {
	return &message{subject: subject, received: received, raw: raw, attachments: attachments}
}

// NewMemoryAttachment builds an in-memory attachment.
func NewMemoryAttachment(name string, data []byte) Attachment {
	return &memAttachment{name: name, data: data}
}
