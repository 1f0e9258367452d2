package builder

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fluxbase-eu/fluxassets/internal/config"
	"github.com/fluxbase-eu/fluxassets/internal/manifest"
	"github.com/fluxbase-eu/fluxassets/internal/pipeline"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

//go:embed assets/cache-worker.js
var cacheWorkerTemplate string

// CacheWorker writes a service worker that precaches every built asset
type CacheWorker struct {
	p   *pipeline.Pipeline
	cfg *config.Config
}

// NewCacheWorker creates the cache worker builder
func NewCacheWorker(p *pipeline.Pipeline) *CacheWorker {
	return &CacheWorker{p: p, cfg: p.Config()}
}

// Name implements Builder
func (b *CacheWorker) Name() string { return "cache-worker" }

// Filename is where the worker is written
func (b *CacheWorker) Filename() string {
	return filepath.Join(b.cfg.Assets.OutputFolder, b.cfg.CacheWorker.Filename)
}

// CacheName returns the configured cache name or a fresh random one
func (b *CacheWorker) CacheName() string {
	if b.cfg.CacheWorker.Name != "" {
		return b.cfg.CacheWorker.Name
	}
	return "assets-" + uuid.NewString()[:8]
}

// URLs lists every mapped output URL, hints included, followed by the
// tailwind stylesheet and the configured extra URLs
func (b *CacheWorker) URLs(m manifest.Mapping) []string {
	res := b.p.Resolver()
	seen := make(map[string]bool)
	var urls []string
	add := func(u string) {
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}
	for _, key := range m.Keys() {
		for _, out := range m[key] {
			add(res.URLFor(out.URL, out.Meta.Modifier, false))
		}
	}
	add(b.p.TailwindOutputURL())
	for _, u := range b.cfg.CacheWorker.URLs {
		add(u)
	}
	if urls == nil {
		urls = []string{}
	}
	return urls
}

// Generate renders the worker source
func (b *CacheWorker) Generate(cacheName string, urls []string) (string, error) {
	name, err := json.Marshal(cacheName)
	if err != nil {
		return "", err
	}
	list, err := json.Marshal(urls)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/* AUTO-GENERATED SERVICE WORKER */\n\nconst CACHE_NAME = %s;\nconst CACHE_URLS = %s;\n\n%s", name, list, cacheWorkerTemplate), nil
}

// Build implements Builder
func (b *CacheWorker) Build(_ context.Context, out *Output) error {
	m := out.Mapping
	if len(m) == 0 {
		m = b.p.Store().Current()
	}
	name := b.CacheName()
	src, err := b.Generate(name, b.URLs(m))
	if err != nil {
		return err
	}
	filename := b.Filename()
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}
	if err := os.WriteFile(filename, []byte(src), 0o644); err != nil {
		return fmt.Errorf("failed to write cache worker: %w", err)
	}
	log.Info().Str("file", filename).Str("cache", name).Msg("Wrote cache worker")
	return nil
}

// Dev implements DevWorker. Nothing is precached during development.
func (b *CacheWorker) Dev(context.Context, DevEnv) error { return nil }
