package artifact

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// BuildOptions control how a function source is bundled.
type BuildOptions struct {
	// Externals are module names left out of the bundle.
	Externals []string

	// NodeVersion is the target Node.js major version (e.g. "20").
	NodeVersion string

	// Minify shrinks the bundle.
	Minify bool
}

// Bundler turns one entry file into a single self-contained script.
type Bundler interface {
	Bundle(ctx context.Context, sourceFile string, opts BuildOptions) ([]byte, error)
}

// EsbuildBundler bundles with esbuild into one CommonJS file for the Node.js runtime.
type EsbuildBundler struct{}

// Bundle builds sourceFile and all of its imports except opts.Externals.
func (EsbuildBundler) Bundle(ctx context.Context, sourceFile string, opts BuildOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", sourceFile, err)
	}

	nodeVersion := opts.NodeVersion
	if nodeVersion == "" {
		nodeVersion = "20"
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:       []string{abs},
		AbsWorkingDir:     filepath.Dir(abs),
		Bundle:            true,
		Platform:          api.PlatformNode,
		Format:            api.FormatCommonJS,
		Engines:           []api.Engine{{Name: api.EngineNode, Version: nodeVersion}},
		External:          opts.Externals,
		Outfile:           bundleName,
		Write:             false,
		Sourcemap:         api.SourceMapNone,
		LegalComments:     api.LegalCommentsNone,
		MinifyWhitespace:  opts.Minify,
		MinifySyntax:      opts.Minify,
		MinifyIdentifiers: opts.Minify,
		LogLevel:          api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, m := range result.Errors {
			if m.Location != nil {
				msgs = append(msgs, fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text))
			} else {
				msgs = append(msgs, m.Text)
			}
		}
		return nil, fmt.Errorf("bundle %s: %s", sourceFile, strings.Join(msgs, "; "))
	}

	for _, f := range result.OutputFiles {
		if strings.HasSuffix(f.Path, ".js") {
			return f.Contents, nil
		}
	}
	return nil, fmt.Errorf("bundle %s: esbuild produced no JavaScript output", sourceFile)
}
