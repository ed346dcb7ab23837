package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/deckbridge/deckbridge/internal/datacache"
	"github.com/deckbridge/deckbridge/internal/devtool"
)

// SessionProvider hands out the currently attached debugging session.
type SessionProvider interface {
	Session() devtool.Session
}

// DatasetFetcher extracts datasets from the debugged application over
// the worker channel. The sandbox API is expected to expose an
// exportDataset function on the marker global returning the dataset's
// group structure.
type DatasetFetcher struct {
	bridge   *Bridge
	sessions SessionProvider
	marker   string
	logger   *slog.Logger
}

// NewDatasetFetcher creates a DatasetFetcher.
func NewDatasetFetcher(b *Bridge, sessions SessionProvider, marker string, logger *slog.Logger) *DatasetFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &DatasetFetcher{bridge: b, sessions: sessions, marker: marker, logger: logger}
}

// Fetch runs the export call for key and decodes the result.
func (f *DatasetFetcher) Fetch(ctx context.Context, key string) (*datacache.Dataset, error) {
	sess := f.sessions.Session()
	if sess == nil {
		return nil, ErrNoExecutionContext
	}

	keyJSON, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("encoding dataset key: %w", err)
	}
	code := fmt.Sprintf("%s.exportDataset(%s)", f.marker, keyJSON)

	raw, err := f.bridge.Run(ctx, sess, ChannelWorker, code)
	if err != nil {
		return nil, err
	}

	var ds datacache.Dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("decoding dataset for key %q: %w", key, err)
	}
	f.logger.Debug("fetched dataset", "key", key, "groups", len(ds.Groups))
	return &ds, nil
}
