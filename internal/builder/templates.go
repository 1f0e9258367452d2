package builder

import (
	"context"
	"path/filepath"

	"github.com/fluxbase-eu/fluxassets/internal/config"
	"github.com/fluxbase-eu/fluxassets/internal/livereload"
	"github.com/fluxbase-eu/fluxassets/internal/pipeline"
	"github.com/fluxbase-eu/fluxassets/internal/templates"
	"github.com/rs/zerolog/log"
)

// Templates extracts inline asset blocks from templates into the assets
// folder and registers them as bundles
type Templates struct {
	p      *pipeline.Pipeline
	cfg    *config.Config
	engine *templates.Engine
}

// NewTemplates creates the templates builder
func NewTemplates(p *pipeline.Pipeline) *Templates {
	cfg := p.Config()
	return &Templates{
		p:   p,
		cfg: cfg,
		engine: templates.NewEngine(templates.Options{
			Folders: cfg.Assets.TemplateFolders,
			Inliner: p.Inliner(true),
		}),
	}
}

// Name implements Builder
func (b *Templates) Name() string { return "templates" }

// Extract writes every inline block and returns how many were found
func (b *Templates) Extract() (int, error) {
	n, err := b.engine.ExtractAll()
	if err != nil {
		return n, err
	}
	log.Info().Int("blocks", n).Msg("Extracted inline assets from templates")
	return n, nil
}

// Build implements Builder
func (b *Templates) Build(_ context.Context, _ *Output) error {
	if !b.cfg.Assets.Inline {
		return nil
	}
	_, err := b.Extract()
	return err
}

// Prepare implements DevPreparer. Inline blocks must exist on disk before
// the bundler starts.
func (b *Templates) Prepare(ctx context.Context) error {
	return b.Build(ctx, nil)
}

// Dev implements DevWorker. Changed templates are extracted again and, when
// requested, trigger a live reload.
func (b *Templates) Dev(ctx context.Context, env DevEnv) error {
	if !env.Watch || (!b.cfg.Assets.Inline && !env.ReloadTemplates) {
		return nil
	}
	folders := append(append([]string(nil), b.cfg.Assets.TemplateFolders...), env.TemplateFolders...)
	w := livereload.NewWatcher(folders, livereload.WatchOptions{
		Filter: livereload.ExtensionFilter("html"),
	}, func(ev livereload.Event) {
		if b.cfg.Assets.Inline {
			name, err := filepath.Rel(ev.Root, ev.Path)
			if err != nil {
				name = ev.Path
			}
			if _, err := b.engine.ExtractFile(filepath.ToSlash(name), ev.Path); err != nil {
				log.Warn().Err(err).Str("template", name).Msg("Failed to extract inline assets")
				return
			}
		}
		if env.ReloadTemplates {
			env.Ping(ctx)
		}
	})
	return w.Run(ctx)
}
