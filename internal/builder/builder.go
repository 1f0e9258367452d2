// Package builder runs the asset build steps: vendoring node packages,
// extracting inline template assets, bundling with esbuild, generating
// tailwind styles and copying the rest to the static folder.
package builder

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fluxbase-eu/fluxassets/internal/livereload"
	"github.com/fluxbase-eu/fluxassets/internal/manifest"
	"github.com/fluxbase-eu/fluxassets/internal/observability"
	"github.com/fluxbase-eu/fluxassets/internal/pipeline"
	"github.com/fluxbase-eu/fluxassets/internal/staticcopy"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Output collects what builders produce during a build
type Output struct {
	Mapping manifest.Mapping
	// Ignore lists assets-relative files that must not be copied to static
	Ignore []string
}

// NewOutput creates an empty output
func NewOutput() *Output {
	return &Output{Mapping: manifest.Mapping{}}
}

// Builder is one build step
type Builder interface {
	Name() string
	Build(ctx context.Context, out *Output) error
}

// DevEnv is passed to development workers
type DevEnv struct {
	// Watch keeps the worker running and rebuilding on changes; false builds
	// once with development settings
	Watch bool
	// Notifier is pinged after a rebuild; may be nil
	Notifier livereload.Notifier
	// TemplateFolders are watched in addition to the configured ones
	TemplateFolders []string
	// ReloadTemplates pings live reload when a template changes
	ReloadTemplates bool
}

// Ping notifies live reload if a notifier is set
func (e DevEnv) Ping(ctx context.Context) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to send live reload ping")
	}
}

// DevWorker is implemented by builders with a development mode
type DevWorker interface {
	Dev(ctx context.Context, env DevEnv) error
}

// DevPreparer is implemented by builders that must finish some work before
// any development worker starts
type DevPreparer interface {
	Prepare(ctx context.Context) error
}

// Runner runs builders in order
type Runner struct {
	p        *pipeline.Pipeline
	builders []Builder
	copier   *staticcopy.Copier
	metrics  *observability.Metrics
}

// NewRunner creates a runner. With no builders the defaults for the
// pipeline's configuration are used.
func NewRunner(p *pipeline.Pipeline, builders ...Builder) *Runner {
	if len(builders) == 0 {
		builders = Defaults(p)
	}
	return &Runner{
		p:        p,
		builders: builders,
		copier:   staticcopy.New(nil),
		metrics:  p.Metrics(),
	}
}

// Defaults returns the standard builders in build order
func Defaults(p *pipeline.Pipeline) []Builder {
	cfg := p.Config()
	builders := []Builder{
		NewNodeDeps(p),
		NewTemplates(p),
		NewEsbuild(p),
		NewTailwind(p),
	}
	if cfg.CacheWorker.Enabled {
		builders = append(builders, NewCacheWorker(p))
	}
	return builders
}

// Builders returns the runner's builders
func (r *Runner) Builders() []Builder {
	return r.builders
}

func (r *Runner) step(ctx context.Context, b Builder, step string, fn func(ctx context.Context) error) error {
	ctx, span := observability.StartBuildSpan(ctx, b.Name(), step)
	started := time.Now()
	err := fn(ctx)
	observability.EndSpan(span, started, err)
	r.metrics.RecordBuild(b.Name(), time.Since(started), err)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", b.Name(), step, err)
	}
	log.Debug().Str("builder", b.Name()).Str("step", step).Dur("duration", time.Since(started)).Msg("Builder finished")
	return nil
}

// Build runs every builder, copies the remaining assets to the static folder
// when it is separate, and writes the mapping file
func (r *Runner) Build(ctx context.Context) (manifest.Mapping, error) {
	out := NewOutput()
	for _, b := range r.builders {
		if err := r.step(ctx, b, "build", func(ctx context.Context) error {
			return b.Build(ctx, out)
		}); err != nil {
			return nil, err
		}
	}

	cfg := r.p.Config()
	if cfg.Assets.SeparateFolder() {
		files, err := r.copier.CopyAssets(cfg.Assets.Folder, cfg.Assets.StaticFolder, cfg.Assets.Stamp, r.copyIgnore(out))
		if err != nil {
			return nil, fmt.Errorf("failed to copy assets: %w", err)
		}
		for src, dest := range files {
			o := manifest.URLOutput(dest)
			if strings.HasSuffix(dest, ".js") {
				o.Meta.MapAs = src
			}
			out.Mapping[src] = []manifest.Output{o}
		}
		log.Info().Int("files", len(files)).Str("dest", cfg.Assets.StaticFolder).Msg("Copied assets to static folder")
	}

	if err := r.p.Store().Write(out.Mapping, manifest.WriteOptions{}); err != nil {
		return nil, err
	}
	r.p.MapMappedFiles()
	log.Info().Int("entries", len(out.Mapping)).Str("file", r.p.Store().Path()).Msg("Wrote asset mapping")
	return out.Mapping, nil
}

// copyIgnore lists files that builders consumed: bundle entries, tailwind
// input and whatever the builders reported
func (r *Runner) copyIgnore(out *Output) []string {
	cfg := r.p.Config()
	ignore := append([]string(nil), out.Ignore...)
	for _, e := range r.p.Registry().All() {
		if e.IsExternal() || e.IsAbs() || e.PackageOrigin != "" {
			continue
		}
		ignore = append(ignore, filepath.ToSlash(e.SourcePath))
	}
	if cfg.Tailwind.Enabled() {
		ignore = append(ignore, cfg.Tailwind.Input)
	}
	return ignore
}

// Dev prepares every builder in order, then runs the development workers
// concurrently until ctx is done or one of them fails. Builders without a
// development mode build once during preparation.
func (r *Runner) Dev(ctx context.Context, env DevEnv) error {
	var workers []Builder
	for _, b := range r.builders {
		if p, ok := b.(DevPreparer); ok {
			if err := r.step(ctx, b, "prepare", p.Prepare); err != nil {
				return err
			}
		}
		if _, ok := b.(DevWorker); ok {
			workers = append(workers, b)
			continue
		}
		if err := r.step(ctx, b, "build", func(ctx context.Context) error {
			return b.Build(ctx, NewOutput())
		}); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, b := range workers {
		w := b.(DevWorker)
		g.Go(func() error {
			return r.step(ctx, b, "dev", func(ctx context.Context) error {
				return w.Dev(ctx, env)
			})
		})
	}
	return g.Wait()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
