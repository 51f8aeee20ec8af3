package artifact

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// bundleName is the single archive entry; the runtime handler is index.handler.
	bundleName = "index.js"

	// archiveExt is the extension of packaged bundles.
	archiveExt = "zip"

	// KeyPrefix is the object-store prefix of every function bundle.
	KeyPrefix = "functions/"
)

// archiveTime is the fixed modification time written into every archive entry.
var archiveTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Source is one function to package.
type Source struct {
	// File is the entry source file.
	File string

	// Name is the logical function name.
	Name string
}

// Descriptor describes a packaged function bundle. Packaging unchanged source
// with unchanged options yields an identical descriptor.
type Descriptor struct {
	SourceFile      string        `json:"source_file"`
	LogicalName     string        `json:"logical_name"`
	ContentHash     digest.Digest `json:"content_hash"`
	LocalBundlePath string        `json:"local_bundle_path"`
	RemoteKey       string        `json:"remote_key"`
	Size            int64         `json:"size"`
}

// RemoteKey derives the content-addressed object key of a bundle.
func RemoteKey(logicalName string, hash digest.Digest) string {
	return fmt.Sprintf("%s%s-%s.%s", KeyPrefix, logicalName, hash.Encoded(), archiveExt)
}

// Packager bundles, hashes and archives function sources.
type Packager struct {
	bundler     Bundler
	outDir      string
	opts        BuildOptions
	concurrency int
	logger      zerolog.Logger
}

// Option configures a Packager.
type Option func(*Packager)

// WithConcurrency bounds parallel packaging in PackageAll.
func WithConcurrency(n int) Option {
	return func(p *Packager) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithBundler replaces the default esbuild bundler.
func WithBundler(b Bundler) Option {
	return func(p *Packager) {
		p.bundler = b
	}
}

// NewPackager creates a packager writing archives into outDir.
func NewPackager(outDir string, opts BuildOptions, logger zerolog.Logger, options ...Option) *Packager {
	p := &Packager{
		bundler:     EsbuildBundler{},
		outDir:      outDir,
		opts:        opts,
		concurrency: 4,
		logger:      logger.With().Str("component", "packager").Logger(),
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// PackageFunction bundles one source, hashes the bundled output and writes a
// single-entry archive named after the logical name and hash.
func (p *Packager) PackageFunction(ctx context.Context, src Source) (*Descriptor, error) {
	if src.Name == "" {
		return nil, fmt.Errorf("function %s has no logical name", src.File)
	}

	bundle, err := p.bundler.Bundle(ctx, src.File, p.opts)
	if err != nil {
		return nil, err
	}

	hash := digest.FromBytes(bundle)
	archive, err := Archive(bundle)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", src.Name, err)
	}

	if err := os.MkdirAll(p.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	key := RemoteKey(src.Name, hash)
	local := filepath.Join(p.outDir, path.Base(key))
	if err := os.WriteFile(local, archive, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", local, err)
	}

	p.logger.Info().
		Str("function", src.Name).
		Str("hash", hash.Encoded()[:12]).
		Str("bundle", humanize.Bytes(uint64(len(bundle)))).
		Str("archive", humanize.Bytes(uint64(len(archive)))).
		Msg("Packaged function")

	return &Descriptor{
		SourceFile:      src.File,
		LogicalName:     src.Name,
		ContentHash:     hash,
		LocalBundlePath: local,
		RemoteKey:       key,
		Size:            int64(len(archive)),
	}, nil
}

// PackageAll packages independent sources in parallel. Descriptors are returned
// in the order of sources; the first failure cancels the rest.
func (p *Packager) PackageAll(ctx context.Context, sources []Source) ([]*Descriptor, error) {
	out := make([]*Descriptor, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, src := range sources {
		g.Go(func() error {
			d, err := p.PackageFunction(gctx, src)
			if err != nil {
				return fmt.Errorf("package %s: %w", src.Name, err)
			}
			out[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Archive compresses bundle into a zip whose single entry is index.js. The
// output depends only on bundle.
func Archive(bundle []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	hdr := &zip.FileHeader{
		Name:     bundleName,
		Method:   zip.Deflate,
		Modified: archiveTime,
	}
	hdr.SetMode(0o644)

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(bundle); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
