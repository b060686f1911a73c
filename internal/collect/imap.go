package collect

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"frontpipe/pkg/errors"
	"frontpipe/pkg/logger"
)

// IMAPOptions configures an IMAPSource connection.
type IMAPOptions struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	// Mailbox is the folder searched for candidates, INBOX by default.
	Mailbox string
}

// IMAPSource fetches candidate messages from a live IMAP mailbox. Each Fetch
// opens a fresh connection; polling intervals are long enough that keeping a
// session alive buys nothing.
type IMAPSource struct {
	opts IMAPOptions
	log  logger.Logger
}

// NewIMAPSource creates an IMAP-backed source.
func NewIMAPSource(opts IMAPOptions, log logger.Logger) (*IMAPSource, error) {
	if opts.Host == "" {
		return nil, errors.ConfigError(errors.CodeMissingConfig, "imap.host", "", nil)
	}
	if opts.Port <= 0 {
		return nil, errors.ConfigError(errors.CodeInvalidConfig, "imap.port", opts.Port, nil)
	}
	if opts.Mailbox == "" {
		opts.Mailbox = "INBOX"
	}
	if log == nil {
		log = logger.GetGlobalLogger().WithComponent("collect.imap")
	}
	return &IMAPSource{opts: opts, log: log}, nil
}

// Fetch searches the mailbox for messages received since the window start
// and downloads their full bodies, returning parsed items newest first.
func (s *IMAPSource) Fetch(ctx context.Context, window time.Duration) ([]Item, error) {
	client, cleanup, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if _, err := client.Select(s.opts.Mailbox, nil).Wait(); err != nil {
		return nil, errors.CollaboratorError(errors.CodeFetchFailed, s.opts.Mailbox, err)
	}

	criteria := &imapv2.SearchCriteria{}
	now := time.Now()
	if window > 0 {
		criteria.Since = now.Add(-window)
	}
	searchData, err := client.Search(criteria, nil).Wait()
	if err != nil {
		return nil, errors.CollaboratorError(errors.CodeFetchFailed, s.opts.Mailbox, err)
	}

	seqNums := searchData.AllSeqNums()
	if len(seqNums) == 0 {
		return nil, nil
	}

	bodySection := &imapv2.FetchItemBodySection{}
	fetchOptions := &imapv2.FetchOptions{
		Envelope:    true,
		BodySection: []*imapv2.FetchItemBodySection{bodySection},
	}
	buffers, err := client.Fetch(imapv2.SeqSetNum(seqNums...), fetchOptions).Collect()
	if err != nil {
		return nil, errors.CollaboratorError(errors.CodeFetchFailed, s.opts.Mailbox, err)
	}

	var items []Item
	for _, buf := range buffers {
		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			continue
		}
		item, err := parseMessage(raw)
		if err != nil {
			s.log.WithError(err).Warn("Skipping unparseable IMAP message")
			continue
		}
		if !withinWindow(item.Received(), now, window) {
			// SINCE has day resolution, trim the edge here
			continue
		}
		items = append(items, item)
	}

	sortNewestFirst(items)
	s.log.WithFields(logger.Fields{
		"mailbox": s.opts.Mailbox,
		"matched": len(seqNums),
		"kept":    len(items),
	}).Debug("IMAP fetch complete")
	return items, nil
}

func (s *IMAPSource) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	options := &imapclient.Options{}
	if s.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         s.opts.Host,
			InsecureSkipVerify: s.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)
	if s.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, errors.CollaboratorError(errors.CodeFetchFailed, address, err)
	}

	if err := client.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, errors.CollaboratorError(errors.CodeFetchFailed, address, err)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				s.log.WithError(err).Debug("IMAP logout failed")
			}
		}
		_ = client.Close()
	}
	return client, cleanup, nil
}
