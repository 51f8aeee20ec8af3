package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/moby/patternmatcher"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/froyostack/pkg/engine"
)

// BaselineCacheControl is applied to every object unless a rule overrides it.
const BaselineCacheControl = "no-cache"

// Rule attaches upload metadata to files whose relative path matches Pattern.
// Patterns use .dockerignore syntax: "*.html" matches at the root only and
// "**/*.html" at any depth.
type Rule struct {
	Pattern  string
	Metadata engine.ObjectMetadata

	// ShouldUpload, when set, skips matched files for which it returns false.
	ShouldUpload func(relPath string) bool
}

// Options tune one UploadTree pass.
type Options struct {
	// Prefix is prepended to every object key.
	Prefix string

	// Filter selects the files of this pass. Nil selects every file.
	Filter func(relPath string) bool

	// Progress is called after each completed upload with (completed, total).
	// Calls are serialized.
	Progress func(completed, total int)
}

// Result summarizes one UploadTree pass.
type Result struct {
	Uploaded int
	Skipped  int
	Bytes    int64
}

// Syncer uploads local directory trees to an object store.
type Syncer struct {
	store       engine.ObjectStore
	concurrency int
	logger      zerolog.Logger
}

// NewSyncer creates a syncer uploading at most concurrency files at once.
func NewSyncer(store engine.ObjectStore, concurrency int, logger zerolog.Logger) *Syncer {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Syncer{
		store:       store,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "storage-sync").Logger(),
	}
}

type compiledRule struct {
	Rule
	matcher *patternmatcher.PatternMatcher
}

type uploadItem struct {
	path string
	rel  string
	size int64
	meta engine.ObjectMetadata
}

// UploadTree uploads every selected file under root to bucket. Metadata comes
// from the first matching rule merged over the no-cache baseline. Files are
// uploaded in parallel; the first failure cancels the pass and is returned as
// an *engine.UploadFailure.
func (s *Syncer) UploadTree(ctx context.Context, root, bucket string, rules []Rule, opts Options) (*Result, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		m, err := patternmatcher.New([]string{r.Pattern})
		if err != nil {
			return nil, fmt.Errorf("invalid rule pattern %q: %w", r.Pattern, err)
		}
		compiled = append(compiled, compiledRule{Rule: r, matcher: m})
	}

	result := &Result{}
	var items []uploadItem
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if opts.Filter != nil && !opts.Filter(rel) {
			return nil
		}

		meta := engine.ObjectMetadata{CacheControl: BaselineCacheControl}
		for _, r := range compiled {
			matched, err := r.matcher.MatchesOrParentMatches(rel)
			if err != nil {
				return fmt.Errorf("match %s: %w", rel, err)
			}
			if !matched {
				continue
			}
			if r.ShouldUpload != nil && !r.ShouldUpload(rel) {
				result.Skipped++
				return nil
			}
			meta = mergeMetadata(meta, r.Metadata)
			break
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		items = append(items, uploadItem{path: p, rel: rel, size: info.Size(), meta: meta})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	total := len(items)
	var (
		mu        sync.Mutex
		completed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, item := range items {
		g.Go(func() error {
			key := path.Join(opts.Prefix, item.rel)
			if err := s.upload(gctx, bucket, key, item); err != nil {
				return &engine.UploadFailure{Path: item.path, Key: key, Err: err}
			}

			mu.Lock()
			defer mu.Unlock()
			completed++
			result.Uploaded++
			result.Bytes += item.size
			if opts.Progress != nil {
				opts.Progress(completed, total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("bucket", bucket).
		Int("uploaded", result.Uploaded).
		Int("skipped", result.Skipped).
		Str("bytes", humanize.Bytes(uint64(result.Bytes))).
		Msg("Uploaded tree")

	return result, nil
}

func (s *Syncer) upload(ctx context.Context, bucket, key string, item uploadItem) error {
	f, err := os.Open(item.path)
	if err != nil {
		return err
	}
	defer f.Close()

	meta := item.meta
	if meta.ContentType == "" {
		meta.ContentType = detectContentType(item.path)
	}
	return s.store.PutObject(ctx, bucket, key, f, item.size, meta)
}

// SyncSite uploads root in two passes: every non-HTML file first, then the HTML
// files, so an index page never references assets that are not uploaded yet.
func (s *Syncer) SyncSite(ctx context.Context, root, bucket string, rules []Rule, opts Options) (*Result, error) {
	assets := opts
	assets.Filter = and(opts.Filter, func(rel string) bool { return !IsHTML(rel) })
	first, err := s.UploadTree(ctx, root, bucket, rules, assets)
	if err != nil {
		return nil, fmt.Errorf("asset pass: %w", err)
	}

	pages := opts
	pages.Filter = and(opts.Filter, IsHTML)
	second, err := s.UploadTree(ctx, root, bucket, rules, pages)
	if err != nil {
		return nil, fmt.Errorf("html pass: %w", err)
	}

	return &Result{
		Uploaded: first.Uploaded + second.Uploaded,
		Skipped:  first.Skipped + second.Skipped,
		Bytes:    first.Bytes + second.Bytes,
	}, nil
}

// IsHTML reports whether relPath is an HTML document.
func IsHTML(relPath string) bool {
	ext := strings.ToLower(path.Ext(relPath))
	return ext == ".html" || ext == ".htm"
}

func and(a, b func(string) bool) func(string) bool {
	if a == nil {
		return b
	}
	return func(rel string) bool { return a(rel) && b(rel) }
}

// EnsureBucket creates bucket unless it already exists.
func (s *Syncer) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.store.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	s.logger.Info().Str("bucket", bucket).Msg("Creating bucket")
	if err := s.store.CreateBucket(ctx, bucket); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// deleteBatch is the largest batch a single delete call accepts.
const deleteBatch = 1000

// Empty deletes every object under prefix and returns how many were removed.
// A bucket that no longer exists counts as already empty.
func (s *Syncer) Empty(ctx context.Context, bucket, prefix string) (int, error) {
	objects, err := s.store.ListObjects(ctx, bucket, prefix)
	if errors.Is(err, engine.ErrBucketNotFound) {
		s.logger.Info().Str("bucket", bucket).Msg("Bucket already deleted, nothing to empty")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", bucket, err)
	}
	keys := make([]string, len(objects))
	for i, o := range objects {
		keys[i] = o.Key
	}
	sort.Strings(keys)

	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		if err := s.store.DeleteObjects(ctx, bucket, keys[start:end]); err != nil {
			return start, fmt.Errorf("delete objects from %s: %w", bucket, err)
		}
	}
	s.logger.Info().Str("bucket", bucket).Int("deleted", len(keys)).Msg("Emptied bucket")
	return len(keys), nil
}

// Keys lists the object keys under prefix as a set.
func (s *Syncer) Keys(ctx context.Context, bucket, prefix string) (map[string]struct{}, error) {
	objects, err := s.store.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	keys := make(map[string]struct{}, len(objects))
	for _, o := range objects {
		keys[o.Key] = struct{}{}
	}
	return keys, nil
}

// UploadFile uploads a single local file to key.
func (s *Syncer) UploadFile(ctx context.Context, bucket, key, localPath string, meta engine.ObjectMetadata) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return &engine.UploadFailure{Path: localPath, Key: key, Err: err}
	}
	if err := s.upload(ctx, bucket, key, uploadItem{path: localPath, size: info.Size(), meta: meta}); err != nil {
		return &engine.UploadFailure{Path: localPath, Key: key, Err: err}
	}
	return nil
}

func mergeMetadata(base, over engine.ObjectMetadata) engine.ObjectMetadata {
	if over.ContentType != "" {
		base.ContentType = over.ContentType
	}
	if over.CacheControl != "" {
		base.CacheControl = over.CacheControl
	}
	if over.ContentEncoding != "" {
		base.ContentEncoding = over.ContentEncoding
	}
	if over.ContentDisposition != "" {
		base.ContentDisposition = over.ContentDisposition
	}
	if len(over.Extra) > 0 {
		extra := make(map[string]string, len(base.Extra)+len(over.Extra))
		for k, v := range base.Extra {
			extra[k] = v
		}
		for k, v := range over.Extra {
			extra[k] = v
		}
		base.Extra = extra
	}
	return base
}

func detectContentType(p string) string {
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	if m, err := mimetype.DetectFile(p); err == nil {
		return m.String()
	}
	return "application/octet-stream"
}
