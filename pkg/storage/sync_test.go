package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/froyostack/pkg/engine"
)

type putRecord struct {
	key  string
	body string
	meta engine.ObjectMetadata
}

// memStore is an in-memory ObjectStore recording uploads in completion order.
type memStore struct {
	mu       sync.Mutex
	buckets  map[string]bool
	puts     []putRecord
	objects  map[string]map[string]int64
	failKey  string
	listErr  error
	deleted  [][]string
	putDelay time.Duration
}

func newMemStore() *memStore {
	return &memStore{buckets: map[string]bool{}, objects: map[string]map[string]int64{}}
}

func (m *memStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buckets[bucket], nil
}

func (m *memStore) CreateBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucket] = true
	return nil
}

func (m *memStore) PutObject(ctx context.Context, bucket, key string, body io.ReadSeeker, _ int64, meta engine.ObjectMetadata) error {
	if m.putDelay > 0 {
		select {
		case <-time.After(m.putDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if key == m.failKey {
		return errors.New("connection reset")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts = append(m.puts, putRecord{key: key, body: string(data), meta: meta})
	if m.objects[bucket] == nil {
		m.objects[bucket] = map[string]int64{}
	}
	m.objects[bucket][key] = int64(len(data))
	return nil
}

func (m *memStore) ListObjects(_ context.Context, bucket, prefix string) ([]engine.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []engine.ObjectInfo
	for k, size := range m.objects[bucket] {
		if strings.HasPrefix(k, prefix) {
			out = append(out, engine.ObjectInfo{Key: k, Size: size})
		}
	}
	return out, nil
}

func (m *memStore) DeleteObjects(_ context.Context, bucket string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, keys)
	for _, k := range keys {
		delete(m.objects[bucket], k)
	}
	return nil
}

func (m *memStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.puts))
	for i, p := range m.puts {
		out[i] = p.key
	}
	return out
}

func (m *memStore) record(key string) putRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.puts {
		if p.key == key {
			return p
		}
	}
	return putRecord{}
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func TestUploadTree_MetadataRules(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.html":          "<html></html>",
		"assets/app.js":       "console.log(1)",
		"assets/app.js.map":   "{}",
		"assets/logo.svg":     "<svg/>",
		"robots.txt":          "User-agent: *",
		"downloads/guide.pdf": "%PDF-1.4",
	})
	store := newMemStore()
	s := NewSyncer(store, 4, zerolog.Nop())

	rules := []Rule{
		{Pattern: "**/*.map", ShouldUpload: func(string) bool { return false }},
		{Pattern: "assets", Metadata: engine.ObjectMetadata{CacheControl: "public, max-age=31536000, immutable"}},
		{Pattern: "downloads/*.pdf", Metadata: engine.ObjectMetadata{
			ContentDisposition: "attachment",
			Extra:              map[string]string{"owner": "docs"},
		}},
		{Pattern: "**/*.js", Metadata: engine.ObjectMetadata{CacheControl: "never applied"}},
	}

	var progress [][2]int
	res, err := s.UploadTree(context.Background(), root, "site", rules, Options{
		Prefix:   "web",
		Progress: func(done, total int) { progress = append(progress, [2]int{done, total}) },
	})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Uploaded)
	assert.Equal(t, 1, res.Skipped)

	keys := store.keys()
	sort.Strings(keys)
	assert.Equal(t, []string{
		"web/assets/app.js",
		"web/assets/logo.svg",
		"web/downloads/guide.pdf",
		"web/index.html",
		"web/robots.txt",
	}, keys)

	js := store.record("web/assets/app.js")
	assert.Equal(t, "public, max-age=31536000, immutable", js.meta.CacheControl)
	assert.Contains(t, js.meta.ContentType, "javascript")

	pdf := store.record("web/downloads/guide.pdf")
	assert.Equal(t, BaselineCacheControl, pdf.meta.CacheControl)
	assert.Equal(t, "attachment", pdf.meta.ContentDisposition)
	assert.Equal(t, "docs", pdf.meta.Extra["owner"])

	html := store.record("web/index.html")
	assert.Equal(t, BaselineCacheControl, html.meta.CacheControl)
	assert.Contains(t, html.meta.ContentType, "text/html")

	require.Len(t, progress, 5)
	assert.Equal(t, [2]int{5, 5}, progress[4])
}

func TestSyncSite_HTMLLast(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.html":       "<html></html>",
		"about/index.html": "<html></html>",
		"a.js":             "a",
		"b.css":            "b",
		"img/c.png":        "c",
		"img/d.png":        "d",
	})
	store := newMemStore()
	s := NewSyncer(store, 8, zerolog.Nop())

	res, err := s.SyncSite(context.Background(), root, "site", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Uploaded)

	keys := store.keys()
	require.Len(t, keys, 6)
	for i, k := range keys {
		if i < 4 {
			assert.False(t, IsHTML(k), "asset expected at position %d, got %s", i, k)
		} else {
			assert.True(t, IsHTML(k), "html expected at position %d, got %s", i, k)
		}
	}
}

func TestUploadTree_FailureAbortsPass(t *testing.T) {
	root := writeTree(t, map[string]string{"a.js": "a", "b.js": "b", "index.html": "x"})
	store := newMemStore()
	store.failKey = "b.js"
	s := NewSyncer(store, 1, zerolog.Nop())

	_, err := s.SyncSite(context.Background(), root, "site", nil, Options{})
	require.Error(t, err)

	var failure *engine.UploadFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "b.js", failure.Key)
	assert.Equal(t, filepath.Join(root, "b.js"), failure.Path)
	assert.NotContains(t, store.keys(), "index.html")
}

func TestUploadTree_InvalidPattern(t *testing.T) {
	s := NewSyncer(newMemStore(), 1, zerolog.Nop())
	_, err := s.UploadTree(context.Background(), t.TempDir(), "b", []Rule{{Pattern: "[a-"}}, Options{})
	assert.Error(t, err)
}

func TestEnsureBucket(t *testing.T) {
	store := newMemStore()
	s := NewSyncer(store, 1, zerolog.Nop())

	require.NoError(t, s.EnsureBucket(context.Background(), "deploy"))
	assert.True(t, store.buckets["deploy"])
	require.NoError(t, s.EnsureBucket(context.Background(), "deploy"))
}

func TestEmpty(t *testing.T) {
	store := newMemStore()
	store.objects["deploy"] = map[string]int64{}
	for i := 0; i < 1500; i++ {
		store.objects["deploy"][fmt.Sprintf("functions/f-%04d.zip", i)] = 1
	}
	total := len(store.objects["deploy"])
	s := NewSyncer(store, 1, zerolog.Nop())

	n, err := s.Empty(context.Background(), "deploy", "")
	require.NoError(t, err)
	assert.Equal(t, total, n)
	assert.Empty(t, store.objects["deploy"])
	require.Len(t, store.deleted, 2)
	assert.Len(t, store.deleted[0], 1000)
}

func TestEmpty_MissingBucket(t *testing.T) {
	store := newMemStore()
	store.listErr = fmt.Errorf("list-objects site: %w", engine.ErrBucketNotFound)
	s := NewSyncer(store, 1, zerolog.Nop())

	n, err := s.Empty(context.Background(), "site", "")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.deleted)

	store.listErr = errors.New("connection reset")
	_, err = s.Empty(context.Background(), "site", "")
	assert.Error(t, err)
}

func TestKeysAndUploadFile(t *testing.T) {
	root := writeTree(t, map[string]string{"users.zip": "PK"})
	store := newMemStore()
	s := NewSyncer(store, 1, zerolog.Nop())

	require.NoError(t, s.UploadFile(context.Background(), "deploy", "functions/users-abc.zip",
		filepath.Join(root, "users.zip"), engine.ObjectMetadata{ContentType: "application/zip"}))

	keys, err := s.Keys(context.Background(), "deploy", "functions/")
	require.NoError(t, err)
	assert.Contains(t, keys, "functions/users-abc.zip")

	err = s.UploadFile(context.Background(), "deploy", "functions/x.zip", filepath.Join(root, "missing.zip"), engine.ObjectMetadata{})
	var failure *engine.UploadFailure
	assert.True(t, errors.As(err, &failure))
}
