package store

import (
	"encoding/hex"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"golang.org/x/crypto/blake2b"

	"github.com/matt-riley/flagkit/internal/core"
	"github.com/matt-riley/flagkit/internal/logging"
)

// FileStore serves definitions from a document on disk, reloading it lazily
// on access once the TTL has elapsed and the file's modification time has
// changed. It is safe for concurrent use; concurrent reloads may race and the
// last one to finish wins.
type FileStore struct {
	path string
	opts options

	current atomic.Pointer[snapshot]
}

// NewFileStore returns a store for the document at path. The document is not
// read until the first Find or FindAll.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrFilePathRequired
	}

	o := newOptions(opts)
	if o.parser == nil {
		o.parser = ParserFor(FormatForPath(path))
	}

	return &FileStore{path: path, opts: o}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Find(key string) (core.Definition, bool) {
	if isBlank(key) {
		return core.Definition{}, false
	}

	def, ok := s.load().definitions[key]
	return def, ok
}

func (s *FileStore) FindAll() map[string]core.Definition {
	return copyDefinitions(s.load().definitions)
}

// LoadedAt reports when the current snapshot was loaded or last confirmed
// unchanged. It is zero before the first access.
func (s *FileStore) LoadedAt() time.Time {
	if snap := s.current.Load(); snap != nil {
		return snap.loadedAt
	}
	return time.Time{}
}

// Revision fingerprints the document bytes behind the current snapshot. It is
// empty when nothing has been parsed.
func (s *FileStore) Revision() string {
	if snap := s.current.Load(); snap != nil {
		return snap.revision
	}
	return ""
}

func (s *FileStore) load() *snapshot {
	now := s.opts.now()
	prev := s.current.Load()

	if prev != nil && s.opts.ttl > 0 && now.Sub(prev.loadedAt) < s.opts.ttl {
		return prev
	}

	info, statErr := os.Stat(s.path)
	if prev != nil && s.opts.ttl > 0 && statErr == nil && prev.modTimeKnown && info.ModTime().Equal(prev.modTime) {
		next := *prev
		next.loadedAt = now
		s.current.Store(&next)
		s.opts.report(LoadUnchanged, len(next.definitions))
		return &next
	}

	next := s.reload(now, prev, info, statErr)
	s.current.Store(next)
	return next
}

func (s *FileStore) reload(now time.Time, prev *snapshot, info fs.FileInfo, statErr error) *snapshot {
	if errors.Is(statErr, fs.ErrNotExist) {
		return s.missing(now)
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s.missing(now)
	}
	if err != nil {
		return s.failed(now, prev, oops.
			In("file_store").
			Code("read_failed").
			With("path", s.path).
			Wrapf(err, "read flag document"))
	}

	definitions, err := s.opts.parser(data)
	if err != nil {
		return s.failed(now, prev, oops.
			In("file_store").
			Code("parse_failed").
			With("path", s.path).
			Wrapf(err, "parse flag document"))
	}
	if definitions == nil {
		definitions = map[string]core.Definition{}
	}

	next := &snapshot{
		definitions: definitions,
		loadedAt:    now,
		revision:    fingerprint(data),
	}
	if statErr == nil {
		next.modTime = info.ModTime()
		next.modTimeKnown = true
	}

	s.opts.logger.Debug("flag document loaded",
		"path", s.path,
		"definitions", len(definitions),
		"revision", next.revision,
	)
	s.opts.report(LoadParsed, len(definitions))
	return next
}

func (s *FileStore) missing(now time.Time) *snapshot {
	s.opts.logger.Debug("flag document missing", "path", s.path)
	s.opts.report(LoadMissing, 0)
	return emptySnapshot(now)
}

// failed leaves the modification time unknown so the next access past the
// TTL retries the load.
func (s *FileStore) failed(now time.Time, prev *snapshot, err error) *snapshot {
	logging.LogError(s.opts.logger, slog.LevelWarn, "flag document reload failed", err,
		"preserve_on_error", s.opts.preserveOnError)

	next := emptySnapshot(now)
	if s.opts.preserveOnError && prev != nil {
		next.definitions = prev.definitions
		next.revision = prev.revision
	}

	s.opts.report(LoadFailed, len(next.definitions))
	return next
}

// fingerprint is the hex form of the first 16 bytes of the BLAKE2b-256 sum.
func fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
