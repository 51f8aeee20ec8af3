package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const denyNothing = "package %s\n\nimport rego.v1\n\ndeny contains msg if {\n\tfalse\n\tmsg := \"never\"\n}\n"

func writePolicy(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func byName(policies []Policy) map[string]Policy {
	out := make(map[string]Policy, len(policies))
	for _, p := range policies {
		out[p.Name] = p
	}
	return out
}

func TestLoadFromPaths_RegoFile(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "encrypted-buckets.rego")
	writePolicy(t, policyFile, `# Buckets must be encrypted.
# severity: error
package froyo.custom.encryption

import rego.v1

deny contains msg if {
	some id, res in input.template.Resources
	res.Type == "AWS::S3::Bucket"
	not res.Properties.BucketEncryption
	msg := sprintf("%s is not encrypted", [id])
}`)

	loaded, err := loader.LoadFromPaths(context.Background(), []string{policyFile})
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(loaded))
	}

	p := loaded[0]
	if p.Name != "encrypted-buckets" {
		t.Errorf("Expected name from file, got '%s'", p.Name)
	}
	if p.Description != "Buckets must be encrypted." {
		t.Errorf("Unexpected description '%s'", p.Description)
	}
	if p.Severity != SeverityError {
		t.Errorf("Expected severity '%s', got '%s'", SeverityError, p.Severity)
	}
	if !p.Enabled || p.Builtin {
		t.Error("Loaded policies must be enabled and never built-in")
	}
	if p.Source != policyFile {
		t.Errorf("Expected source %s, got %s", policyFile, p.Source)
	}
}

func TestLoadFromPaths_Manifest(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writePolicy(t, filepath.Join(dir, "rules", "encryption.rego"), "# Encrypt everything.\n# severity: warning\npackage froyo.custom.encryption")
	writePolicy(t, filepath.Join(dir, "standalone.rego"), "package froyo.custom.standalone")
	writePolicy(t, filepath.Join(dir, "policies.yaml"), `policies:
  - name: encrypted-buckets
    file: rules/encryption.rego
    severity: critical
    tags: [security]
  - name: no-public-read
    description: Site buckets stay private.
    disabled: true
    rego: |
      package froyo.custom.public
`)

	loaded, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("Expected 3 policies, got %d: %v", len(loaded), byName(loaded))
	}

	policies := byName(loaded)
	enc, ok := policies["encrypted-buckets"]
	if !ok {
		t.Fatal("Expected the manifest name to replace the file name")
	}
	if _, ok := policies["encryption"]; ok {
		t.Error("A file referenced by a manifest must not load on its own")
	}
	if enc.Severity != SeverityCritical {
		t.Errorf("Manifest severity should win, got '%s'", enc.Severity)
	}
	if enc.Description != "Encrypt everything." {
		t.Errorf("Expected description from the file header, got '%s'", enc.Description)
	}
	if len(enc.Tags) != 1 || enc.Tags[0] != "security" {
		t.Errorf("Unexpected tags %v", enc.Tags)
	}

	inline := policies["no-public-read"]
	if inline.Enabled {
		t.Error("Disabled manifest entries must load disabled")
	}
	if inline.Severity != SeverityWarning {
		t.Errorf("Inline policies default to warning, got '%s'", inline.Severity)
	}
	if !strings.HasSuffix(inline.Source, "policies.yaml") {
		t.Errorf("Inline policy source should be the manifest, got %s", inline.Source)
	}

	if _, ok := policies["standalone"]; !ok {
		t.Error("Expected unreferenced .rego files to load")
	}
}

func TestLoadFromDirectory_Skips(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writePolicy(t, filepath.Join(dir, "p1.rego"), "package p1")
	writePolicy(t, filepath.Join(dir, "nested", "p2.rego"), "package p2")
	writePolicy(t, filepath.Join(dir, "p1_test.rego"), "package p1_test")
	writePolicy(t, filepath.Join(dir, ".git", "p3.rego"), "package p3")
	writePolicy(t, filepath.Join(dir, "README.md"), "# Policies")

	loaded, err := loader.loadFromDirectory(dir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	policies := byName(loaded)
	if len(policies) != 2 {
		t.Fatalf("Expected p1 and p2, got %v", policies)
	}
	for _, name := range []string{"p1", "p2"} {
		if _, ok := policies[name]; !ok {
			t.Errorf("Expected policy %s", name)
		}
	}
}

func TestLoadFromPaths_Errors(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		path    string
		wantErr string
	}{
		{
			name:    "missing path",
			path:    "missing",
			wantErr: "failed to stat path",
		},
		{
			name:    "unsupported file",
			files:   map[string]string{"notes.txt": "not a policy"},
			path:    "notes.txt",
			wantErr: "unsupported policy file",
		},
		{
			name:    "bad severity header",
			files:   map[string]string{"p.rego": "# severity: fatal\npackage p"},
			path:    ".",
			wantErr: `unknown severity "fatal"`,
		},
		{
			name:    "unknown manifest field",
			files:   map[string]string{"policies.yaml": "policies:\n  - name: x\n    rego: package x\n    owner: me\n"},
			path:    ".",
			wantErr: "failed to parse policy manifest",
		},
		{
			name:    "file and rego",
			files:   map[string]string{"policies.yaml": "policies:\n  - file: a.rego\n    rego: package a\n"},
			path:    "policies.yaml",
			wantErr: "mutually exclusive",
		},
		{
			name:    "inline without name",
			files:   map[string]string{"policies.yaml": "policies:\n  - rego: package a\n"},
			path:    "policies.yaml",
			wantErr: "need a name",
		},
		{
			name: "duplicate names",
			files: map[string]string{
				"a/dup.rego": "package a",
				"b/dup.rego": "package b",
			},
			path:    ".",
			wantErr: `policy "dup" is defined in both`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writePolicy(t, filepath.Join(dir, name), content)
			}

			_, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{filepath.Join(dir, tt.path)})
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExtractHeader(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		description  string
		wantSeverity Severity
	}{
		{
			name:         "single line comment",
			content:      "# This is a test policy\npackage test",
			description:  "This is a test policy",
			wantSeverity: SeverityWarning,
		},
		{
			name:         "multi line comments",
			content:      "# This is a test policy\n# that spans multiple lines\npackage test",
			description:  "This is a test policy that spans multiple lines",
			wantSeverity: SeverityWarning,
		},
		{
			name:         "no comments",
			content:      "package test\n# trailing comment",
			wantSeverity: SeverityWarning,
		},
		{
			name:         "severity line",
			content:      "# First line\n#\n# severity: critical\n# Second line\npackage test",
			description:  "First line Second line",
			wantSeverity: SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			description, severity, err := extractHeader(tt.content)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if description != tt.description {
				t.Errorf("Expected description '%s', got '%s'", tt.description, description)
			}
			if severity != tt.wantSeverity {
				t.Errorf("Expected severity '%s', got '%s'", tt.wantSeverity, severity)
			}
		})
	}
}

func TestLoadRego_Cache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "cached.rego")
	writePolicy(t, policyFile, "# Old.\npackage cached")

	if _, err := loader.LoadFromPaths(context.Background(), []string{policyFile}); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Fatalf("Expected 1 cache entry, got %d", len(loader.cache))
	}

	writePolicy(t, policyFile, "# New description.\npackage cached")
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(policyFile, later, later); err != nil {
		t.Fatalf("Failed to touch file: %v", err)
	}

	loaded, err := loader.LoadFromPaths(context.Background(), []string{policyFile})
	if err != nil {
		t.Fatalf("Failed to reload policy: %v", err)
	}
	if loaded[0].Description != "New description." {
		t.Errorf("Expected a changed file to be parsed again, got '%s'", loaded[0].Description)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	loader.reloadDelay = 20 * time.Millisecond

	dir := t.TempDir()
	writePolicy(t, filepath.Join(dir, "first.rego"), "package first")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 1)
	err := loader.Watch(ctx, []string{dir}, func(p []Policy) error {
		select {
		case reloaded <- p:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writePolicy(t, filepath.Join(dir, "notes.txt"), "ignored")
	writePolicy(t, filepath.Join(dir, "second.rego"), "package second")

	select {
	case policies := <-reloaded:
		if len(policies) != 2 {
			t.Errorf("Expected 2 policies after reload, got %d", len(policies))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatch_MissingPath(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	err := loader.Watch(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, func([]Policy) error { return nil })
	if err == nil {
		t.Fatal("Expected an error for a missing path")
	}
}
