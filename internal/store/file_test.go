package store

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-riley/flagkit/internal/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingParser struct {
	calls atomic.Int32
}

func (p *countingParser) Parse(data []byte) (map[string]core.Definition, error) {
	p.calls.Add(1)
	return ParseJSON(data)
}

type loadRecorder struct {
	mu       sync.Mutex
	outcomes []LoadOutcome
}

func (r *loadRecorder) hook(outcome LoadOutcome, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *loadRecorder) last() LoadOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return ""
	}
	return r.outcomes[len(r.outcomes)-1]
}

var fileEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// writeDocument writes content and pins its modification time to
// fileEpoch plus version hours, so tests control mtime changes exactly.
func writeDocument(t *testing.T, path, content string, version int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	mtime := fileEpoch.Add(time.Duration(version) * time.Hour)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	_, err := NewFileStore("  ")
	require.ErrorIs(t, err, ErrFilePathRequired)
}

func TestFileStoreServesCachedSnapshotWithinTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.json")
	writeDocument(t, path, `{"a": {"enabled": true}}`, 1)

	clock := newFakeClock()
	parser := &countingParser{}
	s, err := NewFileStore(path, WithTTL(time.Minute), WithClock(clock.Now), WithParser(parser.Parse))
	require.NoError(t, err)

	first := s.FindAll()
	writeDocument(t, path, `{"a": {"enabled": false}, "b": {}}`, 2)
	clock.Advance(30 * time.Second)

	assert.Equal(t, first, s.FindAll())
	assert.Equal(t, int32(1), parser.calls.Load())
}

func TestFileStoreReloadsChangedDocumentAfterTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.json")
	writeDocument(t, path, `{"a": {"enabled": true}}`, 1)

	clock := newFakeClock()
	recorder := &loadRecorder{}
	s, err := NewFileStore(path, WithTTL(time.Minute), WithClock(clock.Now), WithLoadHook(recorder.hook))
	require.NoError(t, err)

	def, ok := s.Find("a")
	require.True(t, ok)
	assert.True(t, def.Enabled())
	firstRevision := s.Revision()

	writeDocument(t, path, `{"a": {"enabled": false}, "b": {}}`, 2)
	clock.Advance(2 * time.Minute)

	def, ok = s.Find("a")
	require.True(t, ok)
	assert.False(t, def.Enabled())
	_, ok = s.Find("b")
	assert.True(t, ok)
	assert.NotEqual(t, firstRevision, s.Revision())
	assert.Equal(t, LoadParsed, recorder.last())
}

func TestFileStoreSkipsParseWhenModTimeUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.json")
	writeDocument(t, path, `{"a": {}}`, 1)

	clock := newFakeClock()
	parser := &countingParser{}
	recorder := &loadRecorder{}
	s, err := NewFileStore(path,
		WithTTL(time.Minute),
		WithClock(clock.Now),
		WithParser(parser.Parse),
		WithLoadHook(recorder.hook),
	)
	require.NoError(t, err)

	_, ok := s.Find("a")
	require.True(t, ok)
	firstLoad := s.LoadedAt()

	clock.Advance(5 * time.Minute)
	_, ok = s.Find("a")
	require.True(t, ok)

	assert.Equal(t, int32(1), parser.calls.Load())
	assert.True(t, s.LoadedAt().After(firstLoad), "loadedAt must advance")
	assert.Equal(t, clock.Now(), s.LoadedAt())
	assert.Equal(t, LoadUnchanged, recorder.last())
}

func TestFileStoreZeroTTLParsesEveryAccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.json")
	writeDocument(t, path, `{"a": {}}`, 1)

	parser := &countingParser{}
	s, err := NewFileStore(path, WithTTL(-time.Second), WithParser(parser.Parse))
	require.NoError(t, err)

	for range 3 {
		_, ok := s.Find("a")
		require.True(t, ok)
	}
	assert.Equal(t, int32(3), parser.calls.Load())
}

func TestFileStoreMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.json")

	clock := newFakeClock()
	recorder := &loadRecorder{}
	s, err := NewFileStore(path, WithTTL(time.Minute), WithClock(clock.Now), WithLoadHook(recorder.hook))
	require.NoError(t, err)

	assert.Empty(t, s.FindAll())
	assert.Equal(t, LoadMissing, recorder.last())
	assert.Empty(t, s.Revision())

	writeDocument(t, path, `{"a": {}}`, 1)
	clock.Advance(2 * time.Minute)

	_, ok := s.Find("a")
	assert.True(t, ok)
}

func TestFileStoreFailedReloadDiscardsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.json")
	writeDocument(t, path, `{"a": {}}`, 1)

	clock := newFakeClock()
	parser := &countingParser{}
	recorder := &loadRecorder{}
	s, err := NewFileStore(path,
		WithTTL(time.Minute),
		WithClock(clock.Now),
		WithParser(parser.Parse),
		WithLoadHook(recorder.hook),
	)
	require.NoError(t, err)

	_, ok := s.Find("a")
	require.True(t, ok)

	writeDocument(t, path, `{"a": {`, 2)
	clock.Advance(2 * time.Minute)

	_, ok = s.Find("a")
	assert.False(t, ok)
	assert.Equal(t, LoadFailed, recorder.last())

	// Same mtime as the broken write: a failed load must still be retried.
	writeDocument(t, path, `{"a": {}}`, 2)
	clock.Advance(2 * time.Minute)

	_, ok = s.Find("a")
	assert.True(t, ok)
	assert.Equal(t, int32(3), parser.calls.Load())
}

func TestFileStorePreserveOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.json")
	writeDocument(t, path, `{"a": {}}`, 1)

	clock := newFakeClock()
	s, err := NewFileStore(path, WithTTL(time.Minute), WithClock(clock.Now), WithPreserveOnError(true))
	require.NoError(t, err)

	_, ok := s.Find("a")
	require.True(t, ok)
	revision := s.Revision()

	writeDocument(t, path, `not json`, 2)
	clock.Advance(2 * time.Minute)

	_, ok = s.Find("a")
	assert.True(t, ok)
	assert.Equal(t, revision, s.Revision())
}

func TestFileStoreLogsFailedReloadAtWarn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.json")
	writeDocument(t, path, `{"a": {`, 1)

	var buf bytes.Buffer
	s, err := NewFileStore(path, WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	require.NoError(t, err)

	_, ok := s.Find("a")
	require.False(t, ok)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "flag document reload failed", entry["msg"])
	assert.Equal(t, "parse_failed", entry["code"])
	assert.Equal(t, "file_store", entry["domain"])
	assert.Equal(t, false, entry["preserve_on_error"])
}

func TestFileStoreBlankKeyDoesNotLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.json")
	writeDocument(t, path, `{"a": {}}`, 1)

	s, err := NewFileStore(path)
	require.NoError(t, err)

	for _, key := range []string{"", "  ", "\t"} {
		_, ok := s.Find(key)
		assert.False(t, ok, "Find(%q)", key)
	}
	assert.True(t, s.LoadedAt().IsZero())
}

func TestFileStoreFindAllReturnsCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.json")
	writeDocument(t, path, `{"a": {}}`, 1)

	s, err := NewFileStore(path, WithTTL(time.Hour))
	require.NoError(t, err)

	all := s.FindAll()
	delete(all, "a")

	_, ok := s.Find("a")
	assert.True(t, ok)
}

func TestFileStoreChoosesParserFromExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.yaml")
	writeDocument(t, path, "a:\n  rolloutPercent: 25\n", 1)

	s, err := NewFileStore(path)
	require.NoError(t, err)

	def, ok := s.Find("a")
	require.True(t, ok)
	assert.Equal(t, 25, def.RolloutPercent())
	assert.Equal(t, path, s.Path())
}

func TestFileStoreConcurrentAccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.json")
	writeDocument(t, path, `{"a": {}}`, 1)

	s, err := NewFileStore(path, WithTTL(0))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 50 {
				s.Find("a")
				s.FindAll()
			}
		})
	}
	wg.Wait()

	_, ok := s.Find("a")
	assert.True(t, ok)
}
