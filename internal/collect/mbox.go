package collect

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/emersion/go-mbox"

	"frontpipe/pkg/errors"
	"frontpipe/pkg/logger"
)

// MboxSource reads candidate messages from a single mbox archive file.
type MboxSource struct {
	path string
	log  logger.Logger
}

// NewMboxSource creates a source reading messages from the mbox file at path.
func NewMboxSource(path string, log logger.Logger) *MboxSource {
	if log == nil {
		log = logger.GetGlobalLogger().WithComponent("collect.mbox")
	}
	return &MboxSource{path: path, log: log}
}

// Fetch reads every message in the archive and returns the items received
// inside the window, newest first. Individual malformed messages are
// skipped with a warning.
func (s *MboxSource) Fetch(ctx context.Context, window time.Duration) ([]Item, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, errors.CollaboratorError(errors.CodeFetchFailed, s.path, err)
	}
	defer f.Close()

	now := time.Now()
	reader := mbox.NewReader(f)

	var items []Item
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgReader, err := reader.NextMessage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.CollaboratorError(errors.CodeFetchFailed, s.path, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, errors.CollaboratorError(errors.CodeFetchFailed, s.path, err)
		}
		item, err := parseMessage(raw)
		if err != nil {
			s.log.WithError(err).WithField("index", index).Warn("Skipping unparseable mbox message")
			continue
		}
		if !withinWindow(item.Received(), now, window) {
			continue
		}
		items = append(items, item)
	}

	sortNewestFirst(items)
	return items, nil
}
