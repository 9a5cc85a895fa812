// Package state persists the sync record between runs and hands it to version control.
//
// The record lives in a single pretty-printed JSON file holding an ordered list of tag
// names. Writes go to a temporary file in the same directory which is then renamed over
// the canonical path, so the previous state stays readable if a write is interrupted.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ortelius/release-mirror/model"
	"go.uber.org/zap"
)

// Publisher hands a saved file to external persistence, e.g. a git commit and push.
// A publisher must treat "nothing to commit" as success.
type Publisher interface {
	Publish(ctx context.Context, path, message string) error
}

// rename is swapped out in tests to simulate a crash before the rename step
var rename = os.Rename

// syncDir is swapped out in tests to observe the directory flush
var syncDir = fsyncDir

// fsyncDir flushes a directory entry so a completed rename survives a power loss
func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Store reads and writes the sync record file
type Store struct {
	path      string
	publisher Publisher
	logger    *zap.Logger

	lastPublished []byte
	published     bool
}

// NewStore creates a store for the file at path. publisher may be nil, in which case Publish is a no-op.
func NewStore(path string, publisher Publisher, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:      path,
		publisher: publisher,
		logger:    logger.With(zap.String("state_file", path)),
	}
}

// Path returns the canonical location of the state file
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted record. A missing file is created empty; an unreadable or
// malformed file is logged and treated as empty. Load never fails.
func (s *Store) Load() *model.SyncRecord {
	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("state file not found, starting with an empty record")
		rec := model.NewSyncRecord()
		if err := s.Save(rec); err != nil {
			s.logger.Warn("failed to create state file", zap.Error(err))
		}
		return rec
	}
	if err != nil {
		s.logger.Error("failed to read state file, starting with an empty record", zap.Error(err))
		return model.NewSyncRecord()
	}

	var tags []string
	if err := json.Unmarshal(content, &tags); err != nil {
		s.logger.Warn("state file is corrupt, resetting to an empty record", zap.Error(err))
		return model.NewSyncRecord()
	}

	rec := model.NewSyncRecord(tags...)
	if rec.Len() != len(tags) {
		s.logger.Warn("state file contains duplicate tags, keeping the first occurrence",
			zap.Int("duplicates", len(tags)-rec.Len()))
	}

	s.logger.Info("loaded sync record", zap.Int("synced", rec.Len()))
	return rec
}

// Save writes the full record atomically: temp file in the same directory, fsync, rename,
// then fsync of the directory.
func (s *Store) Save(rec *model.SyncRecord) error {
	content, err := Encode(rec)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(content); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Chmod(tempPath, 0o644); err != nil {
		return fmt.Errorf("failed to set state file mode: %w", err)
	}

	if err := rename(tempPath, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	success = true

	// not every platform can fsync a directory; the rename itself already happened
	if err := syncDir(dir); err != nil {
		s.logger.Debug("failed to sync state directory", zap.String("dir", dir), zap.Error(err))
	}

	s.logger.Debug("saved sync record", zap.Int("synced", rec.Len()))
	return nil
}

// Publish hands the saved state file to the publisher. It reports success without doing
// anything when the file is unchanged since this store last published it. A loaded file is
// never assumed published, since the push of an earlier run may have failed. Failures are
// logged, never fatal.
func (s *Store) Publish(ctx context.Context, message string) bool {
	if s.publisher == nil {
		return true
	}

	content, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Error("failed to read state file for publish", zap.Error(err))
		return false
	}

	if s.published && bytes.Equal(content, s.lastPublished) {
		s.logger.Debug("state unchanged since last publish, nothing to do")
		return true
	}

	if err := s.publisher.Publish(ctx, s.path, message); err != nil {
		s.logger.Error("failed to publish state, progress is kept locally", zap.String("message", message), zap.Error(err))
		return false
	}

	s.lastPublished = content
	s.published = true
	s.logger.Info("published state", zap.String("message", message))
	return true
}

// Checkpoint saves the record and publishes it. It reports whether both steps succeeded.
func (s *Store) Checkpoint(ctx context.Context, rec *model.SyncRecord, message string) bool {
	if err := s.Save(rec); err != nil {
		s.logger.Error("failed to save sync record", zap.Error(err))
		return false
	}
	return s.Publish(ctx, message)
}

// Encode renders a record in the persisted layout: a two-space indented JSON array of
// tag names, non-ASCII left unescaped, trailing newline.
func Encode(rec *model.SyncRecord) ([]byte, error) {
	tags := rec.Tags()
	if tags == nil {
		tags = []string{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tags); err != nil {
		return nil, fmt.Errorf("failed to encode sync record: %w", err)
	}
	return buf.Bytes(), nil
}
