package collect

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"frontpipe/pkg/errors"
	"frontpipe/pkg/logger"
)

// DirSource reads candidate messages from a directory of .eml files. It is
// the simplest source and the one exercised in local setups where mail is
// exported by another process.
type DirSource struct {
	dir string
	log logger.Logger
}

// NewDirSource creates a source reading .eml files from dir.
func NewDirSource(dir string, log logger.Logger) *DirSource {
	if log == nil {
		log = logger.GetGlobalLogger().WithComponent("collect.dir")
	}
	return &DirSource{dir: dir, log: log}
}

// Fetch parses every .eml file in the directory and returns the items that
// arrived inside the window, newest first. Unparseable files are skipped
// with a warning rather than failing the whole fetch.
func (s *DirSource) Fetch(ctx context.Context, window time.Duration) ([]Item, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.CollaboratorError(errors.CodeFetchFailed, s.dir, err)
	}

	now := time.Now()
	var items []Item
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".eml") {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			s.log.WithError(err).WithField("file", path).Warn("Skipping unreadable message file")
			continue
		}
		item, err := parseMessage(raw)
		if err != nil {
			s.log.WithError(err).WithField("file", path).Warn("Skipping unparseable message file")
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
