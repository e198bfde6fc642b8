package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/caselane/caselane/pkg/models"
)

// LocalFileArchiver writes expired interactions as JSONL files to a
// local directory, one file per archived batch:
//
//	{basePath}/interactions/2026-09-01T15-04-05.123456789Z.jsonl[.gz]
type LocalFileArchiver struct {
	basePath string
	compress bool
}

// NewLocalFileArchiver creates a file-based archiver. If basePath is
// empty, it defaults to "~/.caselane/archive".
func NewLocalFileArchiver(basePath string, compress bool) *LocalFileArchiver {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			basePath = "/tmp/caselane/archive"
		} else {
			basePath = filepath.Join(home, ".caselane", "archive")
		}
	}
	return &LocalFileArchiver{basePath: basePath, compress: compress}
}

// ArchiveInteractions writes the batch to one JSONL file. A partially
// written file is removed on error.
func (a *LocalFileArchiver) ArchiveInteractions(ctx context.Context, interactions []models.Interaction) error {
	if len(interactions) == 0 {
		return nil
	}

	dir := filepath.Join(a.basePath, "interactions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive mkdir: %w", err)
	}

	// Nanosecond stamp keeps batches written back to back in distinct
	// files.
	name := time.Now().UTC().Format("2006-01-02T15-04-05.000000000Z") + ".jsonl"
	if a.compress {
		name += ".gz"
	}
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive create: %w", err)
	}

	var enc *json.Encoder
	var gz *gzip.Writer
	if a.compress {
		gz = gzip.NewWriter(f)
		enc = json.NewEncoder(gz)
	} else {
		enc = json.NewEncoder(f)
	}

	write := func() error {
		for _, it := range interactions {
			if err := enc.Encode(it); err != nil {
				return err
			}
		}
		if gz != nil {
			if err := gz.Close(); err != nil {
				return err
			}
		}
		return f.Close()
	}
	if err := write(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("archive write: %w", err)
	}

	log.Info().Str("path", path).Int("records", len(interactions)).Msg("Interactions archived")
	return nil
}
