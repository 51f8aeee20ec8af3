package policy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultReloadDelay is how long Watch waits for policy edits to settle.
const DefaultReloadDelay = 300 * time.Millisecond

// Loader reads project policies from .rego files and YAML policy manifests.
//
// A manifest lists policies that point at a .rego file or carry their module
// inline:
//
//	policies:
//	  - name: encrypted-buckets
//	    file: encryption.rego
//	    severity: error
//	  - name: no-public-read
//	    tags: [security]
//	    rego: |
//	      package froyo.custom.public
//	      ...
type Loader struct {
	logger      zerolog.Logger
	reloadDelay time.Duration

	mu    sync.Mutex
	cache map[string]cachedFile
}

type cachedFile struct {
	modTime time.Time
	size    int64
	policy  Policy
}

type manifest struct {
	Policies []manifestEntry `yaml:"policies"`
}

type manifestEntry struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	File        string   `yaml:"file"`
	Rego        string   `yaml:"rego"`
	Severity    Severity `yaml:"severity"`
	Disabled    bool     `yaml:"disabled"`
	Tags        []string `yaml:"tags"`
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:      logger.With().Str("component", "policy-loader").Logger(),
		reloadDelay: DefaultReloadDelay,
		cache:       make(map[string]cachedFile),
	}
}

// LoadFromPaths loads policies from files and directories. Directories are
// walked recursively; hidden directories and *_test.rego files are skipped.
// A file that fails to parse fails the whole load.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	seen := make(map[string]string)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		policies, err := l.loadFromPath(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		for _, p := range policies {
			if prev, ok := seen[p.Name]; ok {
				return nil, fmt.Errorf("policy %q is defined in both %s and %s", p.Name, prev, p.Source)
			}
			seen[p.Name] = p.Source
		}
		all = append(all, policies...)
	}

	l.logger.Debug().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return all, nil
}

func (l *Loader) loadFromPath(path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if info.IsDir() {
		return l.loadFromDirectory(path)
	}
	return l.loadFromFile(path, info)
}

// loadFromDirectory loads manifests first. A .rego file referenced by one of
// them is not loaded again on its own.
func (l *Loader) loadFromDirectory(root string) ([]Policy, error) {
	var regoFiles, manifests []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isPolicyFile(path) {
			return nil
		}
		if filepath.Ext(path) == ".rego" {
			regoFiles = append(regoFiles, path)
		} else {
			manifests = append(manifests, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	var policies []Policy
	referenced := make(map[string]bool)
	for _, path := range manifests {
		loaded, refs, err := l.loadManifest(path)
		if err != nil {
			return nil, err
		}
		policies = append(policies, loaded...)
		for _, ref := range refs {
			referenced[ref] = true
		}
	}

	for _, path := range regoFiles {
		if referenced[path] {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		p, err := l.loadRego(path, info)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, nil
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego":
		return !strings.HasSuffix(path, "_test.rego")
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func (l *Loader) loadFromFile(path string, info fs.FileInfo) ([]Policy, error) {
	switch filepath.Ext(path) {
	case ".rego":
		p, err := l.loadRego(path, info)
		if err != nil {
			return nil, err
		}
		return []Policy{p}, nil
	case ".yaml", ".yml":
		policies, _, err := l.loadManifest(path)
		return policies, err
	default:
		return nil, fmt.Errorf("unsupported policy file: %s", path)
	}
}

// loadRego parses a .rego file, reusing the previous parse while the file's
// size and mtime are unchanged.
func (l *Loader) loadRego(path string, info fs.FileInfo) (Policy, error) {
	l.mu.Lock()
	cached, ok := l.cache[path]
	l.mu.Unlock()
	if ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached.policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read file: %w", err)
	}
	p, err := parseRegoFile(path, data)
	if err != nil {
		return Policy{}, err
	}

	l.mu.Lock()
	l.cache[path] = cachedFile{modTime: info.ModTime(), size: info.Size(), policy: p}
	l.mu.Unlock()

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Msg("Policy file parsed")
	return p, nil
}

func (l *Loader) loadManifest(path string) ([]Policy, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}
	return parseManifest(path, data)
}

// parseRegoFile turns a .rego file into a policy named after the file. Leading
// comments become the description; "# severity: <level>" sets the severity.
func parseRegoFile(path string, data []byte) (Policy, error) {
	description, severity, err := extractHeader(string(data))
	if err != nil {
		return Policy{}, fmt.Errorf("%s: %w", path, err)
	}
	return Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: description,
		Rego:        string(data),
		Severity:    severity,
		Enabled:     true,
		Source:      path,
	}, nil
}

// parseManifest returns the policies of a manifest and the .rego files it references.
func parseManifest(path string, data []byte) ([]Policy, []string, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m manifest
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("failed to parse policy manifest %s: %w", path, err)
	}

	policies := make([]Policy, 0, len(m.Policies))
	var refs []string
	for i, entry := range m.Policies {
		p, err := entry.policy(filepath.Dir(path))
		if err != nil {
			return nil, nil, fmt.Errorf("%s: policy %d: %w", path, i, err)
		}
		if entry.File == "" {
			p.Source = path
		} else {
			refs = append(refs, p.Source)
		}
		policies = append(policies, p)
	}
	return policies, refs, nil
}

// policy resolves one manifest entry. Fields set in the manifest win over the
// header comments of the referenced file.
func (e manifestEntry) policy(dir string) (Policy, error) {
	var p Policy
	switch {
	case e.File != "" && e.Rego != "":
		return Policy{}, fmt.Errorf("file and rego are mutually exclusive")
	case e.File != "":
		path := e.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Policy{}, fmt.Errorf("failed to read %s: %w", e.File, err)
		}
		if p, err = parseRegoFile(path, data); err != nil {
			return Policy{}, err
		}
	case e.Rego != "":
		if e.Name == "" {
			return Policy{}, fmt.Errorf("inline policies need a name")
		}
		p = Policy{Rego: e.Rego, Severity: SeverityWarning}
	default:
		return Policy{}, fmt.Errorf("one of file or rego is required")
	}

	if e.Name != "" {
		p.Name = e.Name
	}
	if e.Description != "" {
		p.Description = e.Description
	}
	if e.Severity != "" {
		if !validSeverity(e.Severity) {
			return Policy{}, fmt.Errorf("unknown severity %q", e.Severity)
		}
		p.Severity = e.Severity
	}
	p.Enabled = !e.Disabled
	p.Tags = e.Tags
	return p, nil
}

func validSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// extractHeader reads the comment block before the first statement.
func extractHeader(content string) (string, Severity, error) {
	var description strings.Builder
	severity := SeverityWarning

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			break
		}
		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if level, ok := strings.CutPrefix(comment, "severity:"); ok {
			severity = Severity(strings.TrimSpace(level))
			if !validSeverity(severity) {
				return "", "", fmt.Errorf("unknown severity %q", severity)
			}
			continue
		}
		if comment == "" {
			continue
		}
		if description.Len() > 0 {
			description.WriteString(" ")
		}
		description.WriteString(comment)
	}

	return description.String(), severity, nil
}

// Watch reloads the policies under paths whenever a policy file changes and
// hands them to reloadFn. It returns once the watches are set up; watching
// stops when ctx is done.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		// Editors replace files by rename, which drops a watch on the file itself.
		dir := path
		if !info.IsDir() {
			dir = filepath.Dir(path)
		}
		if err := addDirs(watcher, dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	go l.processEvents(ctx, watcher, paths, reloadFn)

	l.logger.Info().Int("paths", len(paths)).Msg("Watching policy paths")
	return nil
}

func addDirs(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, paths []string, reloadFn func([]Policy) error) {
	defer watcher.Close()

	timer := time.NewTimer(l.reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addDirs(watcher, event.Name); err != nil {
						l.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch directory")
					}
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !isPolicyFile(event.Name) {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")
			timer.Reset(l.reloadDelay)

		case <-timer.C:
			if err := l.reload(ctx, paths, reloadFn); err != nil {
				l.logger.Error().Err(err).Msg("Failed to reload policies, keeping the previous set")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	if err := reloadFn(policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}
	l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
	return nil
}
