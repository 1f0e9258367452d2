package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/fluxbase-eu/fluxassets/internal/bundle"
	"github.com/fluxbase-eu/fluxassets/internal/config"
	"github.com/fluxbase-eu/fluxassets/internal/manifest"
	"github.com/fluxbase-eu/fluxassets/internal/observability"
	"github.com/fluxbase-eu/fluxassets/internal/pipeline"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

var esbuildWatchDone = regexp.MustCompile(`\[watch\] build finished`)

// Esbuild bundles every registered entrypoint with esbuild, either through
// the esbuild binary (or a custom script) or in process through its Go API
type Esbuild struct {
	p   *pipeline.Pipeline
	cfg *config.Config
}

// NewEsbuild creates the esbuild builder
func NewEsbuild(p *pipeline.Pipeline) *Esbuild {
	return &Esbuild{p: p, cfg: p.Config()}
}

// Name implements Builder
func (b *Esbuild) Name() string {
	if b.cfg.Esbuild.Script != "" {
		return b.cfg.Esbuild.Script
	}
	return "esbuild"
}

// Entrypoints lists the registered entries with the path esbuild sees and
// the command-line form "out=path"
func (b *Esbuild) Entrypoints() (entries []bundle.Entrypoint, inputs, args []string) {
	for _, e := range b.p.Registry().All() {
		if e.IsExternal() {
			continue
		}
		path := b.p.Registry().ResolvePath(e, b.cfg.Assets.Folder)
		entries = append(entries, e)
		inputs = append(inputs, path)
		if e.OutputName != "" {
			args = append(args, e.OutputName+"="+path)
		} else {
			args = append(args, path)
		}
	}
	return entries, inputs, args
}

// Command returns the command line and extra environment for a build
func (b *Esbuild) Command(watch, dev bool, metafile string) ([]string, map[string]string, error) {
	ec := b.cfg.Esbuild
	_, inputs, entrypoints := b.Entrypoints()

	var cmd []string
	if ec.Script != "" {
		cmd = commandWithArgs(ScriptCommand(ec.Script), ec.Args...)
	} else {
		if len(ec.Bin) == 0 {
			return nil, nil, errors.New("esbuild.bin is not configured")
		}
		args := append([]string(nil), entrypoints...)
		args = append(args,
			"--bundle",
			"--format=esm",
			"--asset-names=[dir]/[name]-[hash]",
			"--chunk-names=[dir]/[name]-[hash]",
			"--entry-names=[dir]/[name]-[hash]",
			"--outbase="+b.cfg.Assets.Folder,
			"--outdir="+b.cfg.Assets.OutputFolder,
		)
		for _, alias := range sortedKeys(ec.Aliases) {
			args = append(args, fmt.Sprintf("--alias:%s=%s", alias, ec.Aliases[alias]))
		}
		for _, ext := range ec.External {
			args = append(args, "--external:"+ext)
		}
		if ec.Splitting {
			args = append(args, "--splitting")
		}
		if len(ec.Target) > 0 {
			args = append(args, "--target="+strings.Join(ec.Target, ","))
		}
		if metafile != "" {
			args = append(args, "--metafile="+metafile)
		}
		if dev {
			args = append(args, "--sourcemap")
		} else {
			args = append(args, "--minify")
		}
		if watch {
			args = append(args, "--watch")
		}
		args = append(args, ec.Args...)
		cmd = commandWithArgs(ec.Bin, args...)
	}

	aliases := make([]string, 0, len(ec.Aliases))
	for _, alias := range sortedKeys(ec.Aliases) {
		aliases = append(aliases, alias+"="+ec.Aliases[alias])
	}
	env := map[string]string{
		"NODE_PATH":           b.cfg.Assets.NodeModulesPath,
		"ESBUILD_DEV":         flag(dev),
		"ESBUILD_WATCH":       flag(watch),
		"ESBUILD_INPUTS":      strings.Join(inputs, ";"),
		"ESBUILD_ENTRYPOINTS": strings.Join(entrypoints, ";"),
		"ESBUILD_OUTBASE":     b.cfg.Assets.Folder,
		"ESBUILD_OUTDIR":      b.cfg.Assets.OutputFolder,
		"ESBUILD_METAFILE":    metafile,
		"ESBUILD_SPLITTING":   flag(ec.Splitting),
		"ESBUILD_TARGET":      strings.Join(ec.Target, ","),
		"ESBUILD_ALIASES":     strings.Join(aliases, ";"),
		"ESBUILD_EXTERNAL":    strings.Join(ec.External, ";"),
	}
	return cmd, env, nil
}

// ScriptCommand is the command that runs a custom esbuild script
func ScriptCommand(script string) []string {
	return []string{"node", script}
}

func flag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// metafilePath returns where the metafile goes and a cleanup function. A
// cached metafile stays on disk after the build.
func (b *Esbuild) metafilePath() (string, func(), error) {
	if b.cfg.Esbuild.CacheMetafile && b.cfg.Esbuild.Metafile != "" {
		return b.cfg.Esbuild.Metafile, func() {}, nil
	}
	f, err := os.CreateTemp("", "assets*.json")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create metafile: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return name, func() { _ = os.Remove(name) }, nil
}

// Converter returns the metafile converter for this configuration
func (b *Esbuild) Converter() *manifest.Converter {
	reg := b.p.Registry()
	return &manifest.Converter{
		AssetsFolder: b.cfg.Assets.Folder,
		OutputFolder: b.cfg.Assets.OutputFolder,
		OutputURL:    b.cfg.Assets.OutputURL,
		ResolvePath: func(e bundle.Entrypoint) string {
			return reg.ResolvePath(e, b.cfg.Assets.Folder)
		},
	}
}

// ConvertMetafile converts metafile data against the registered entries
func (b *Esbuild) ConvertMetafile(ctx context.Context, source string, data []byte) (*manifest.Result, error) {
	ctx, span := observability.StartConvertSpan(ctx, source)
	meta, err := manifest.ParseMetafile(source, data)
	if err != nil {
		observability.RecordError(ctx, err)
		span.End()
		return nil, err
	}
	entries, _, _ := b.Entrypoints()
	res := b.Converter().ConvertMetafile(meta, entries)
	observability.SetSpanAttributes(ctx,
		attribute.Int("manifest.entrypoints", len(entries)),
		attribute.Int("manifest.entries", len(res.Mapping)),
	)
	observability.AddSpanEvent(ctx, "metafile.converted")
	span.End()
	return res, nil
}

// ConvertMetafileFile reads and converts a metafile
func (b *Esbuild) ConvertMetafileFile(ctx context.Context, filename string) (*manifest.Result, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read metafile: %w", err)
	}
	return b.ConvertMetafile(ctx, filename, data)
}

// WriteMapping converts a metafile and writes the mapping file. On a decode
// error the previous mapping file is left untouched.
func (b *Esbuild) WriteMapping(ctx context.Context, filename, out string, merge bool) error {
	res, err := b.ConvertMetafileFile(ctx, filename)
	if err != nil {
		return err
	}
	store := b.p.Store()
	if out != "" && out != store.Path() {
		store = manifest.NewStore(out, manifest.StoreOptions{})
		if merge {
			if _, err := store.Load(); err != nil {
				return err
			}
		}
	}
	if err := store.Write(res.Mapping, manifest.WriteOptions{Merge: merge}); err != nil {
		return err
	}
	if store == b.p.Store() {
		b.p.MapMappedFiles()
	}
	return nil
}

// Build implements Builder
func (b *Esbuild) Build(ctx context.Context, out *Output) error {
	if b.p.Registry().Len() == 0 {
		return nil
	}
	res, err := b.run(ctx, false, false)
	if err != nil {
		return err
	}
	for k, v := range res.Mapping {
		out.Mapping[k] = v
	}
	out.Ignore = append(out.Ignore, res.Inputs...)
	return nil
}

// run builds once and converts the resulting metafile
func (b *Esbuild) run(ctx context.Context, dev bool, write bool) (*manifest.Result, error) {
	if b.cfg.Esbuild.Mode == "api" {
		result := api.Build(b.apiOptions(dev))
		if err := apiErrors(result.Errors); err != nil {
			return nil, err
		}
		res, err := b.ConvertMetafile(ctx, "esbuild", []byte(result.Metafile))
		if err != nil {
			return nil, err
		}
		if write {
			return res, b.writeResult(res)
		}
		return res, nil
	}

	metafile, cleanup, err := b.metafilePath()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	cmd, env, err := b.Command(false, dev, metafile)
	if err != nil {
		return nil, err
	}
	proc := &Process{Builder: b.Name(), Args: cmd, Env: env}
	if err := proc.Run(ctx); err != nil {
		return nil, err
	}
	res, err := b.ConvertMetafileFile(ctx, metafile)
	if err != nil {
		return nil, err
	}
	if write {
		return res, b.writeResult(res)
	}
	return res, nil
}

func (b *Esbuild) writeResult(res *manifest.Result) error {
	if err := b.p.Store().Write(res.Mapping, manifest.WriteOptions{}); err != nil {
		return err
	}
	b.p.MapMappedFiles()
	return nil
}

// Dev implements DevWorker. In watch mode every finished rebuild rewrites
// the mapping and pings live reload.
func (b *Esbuild) Dev(ctx context.Context, env DevEnv) error {
	if b.p.Registry().Len() == 0 {
		return nil
	}
	if !env.Watch {
		_, err := b.run(ctx, true, true)
		return err
	}
	if b.cfg.Esbuild.Mode == "api" {
		return b.watchAPI(ctx, env)
	}

	metafile, cleanup, err := b.metafilePath()
	if err != nil {
		return err
	}
	defer cleanup()

	cmd, procEnv, err := b.Command(true, true, metafile)
	if err != nil {
		return err
	}
	proc := &Process{
		Builder:   b.Name(),
		Args:      cmd,
		Env:       procEnv,
		MatchLine: esbuildWatchDone,
		OnLine: func(string) {
			if err := b.WriteMapping(ctx, metafile, "", false); err != nil {
				log.Warn().Err(err).Msg("Keeping previous asset mapping")
				return
			}
			env.Ping(ctx)
		},
	}
	return proc.Run(ctx)
}

func (b *Esbuild) watchAPI(ctx context.Context, env DevEnv) error {
	opts := b.apiOptions(true)
	opts.Plugins = append(opts.Plugins, api.Plugin{
		Name: "fluxassets-mapping",
		Setup: func(build api.PluginBuild) {
			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				if len(result.Errors) > 0 {
					return api.OnEndResult{}, nil
				}
				res, err := b.ConvertMetafile(ctx, "esbuild", []byte(result.Metafile))
				if err == nil {
					err = b.writeResult(res)
				}
				if err != nil {
					log.Warn().Err(err).Msg("Keeping previous asset mapping")
					return api.OnEndResult{}, nil
				}
				log.Info().Str("builder", b.Name()).Msg("[watch] build finished")
				env.Ping(ctx)
				return api.OnEndResult{}, nil
			})
		},
	})

	bctx, ctxErr := api.Context(opts)
	if ctxErr != nil {
		return apiErrors(ctxErr.Errors)
	}
	defer bctx.Dispose()

	if err := bctx.Watch(api.WatchOptions{}); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (b *Esbuild) apiOptions(dev bool) api.BuildOptions {
	ec := b.cfg.Esbuild
	entries, _, _ := b.Entrypoints()
	points := make([]api.EntryPoint, 0, len(entries))
	for _, e := range entries {
		points = append(points, api.EntryPoint{
			InputPath:  b.p.Registry().ResolvePath(e, b.cfg.Assets.Folder),
			OutputPath: e.OutputName,
		})
	}

	wd, _ := os.Getwd()
	opts := api.BuildOptions{
		EntryPointsAdvanced: points,
		Bundle:              true,
		Write:               true,
		Metafile:            true,
		Format:              api.FormatESModule,
		AssetNames:          "[dir]/[name]-[hash]",
		ChunkNames:          "[dir]/[name]-[hash]",
		EntryNames:          "[dir]/[name]-[hash]",
		Outbase:             b.cfg.Assets.Folder,
		Outdir:              b.cfg.Assets.OutputFolder,
		Alias:               ec.Aliases,
		External:            ec.External,
		Splitting:           ec.Splitting,
		AbsWorkingDir:       wd,
		NodePaths:           []string{b.cfg.Assets.NodeModulesPath},
		LogLevel:            api.LogLevelWarning,
	}
	opts.Target, opts.Engines = parseTargets(ec.Target)
	if dev {
		opts.Sourcemap = api.SourceMapLinked
	} else {
		opts.MinifyWhitespace = true
		opts.MinifyIdentifiers = true
		opts.MinifySyntax = true
	}
	return opts
}

var esTargets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"es2023": api.ES2023,
	"es2024": api.ES2024,
	"esnext": api.ESNext,
}

var engineNames = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"ie":      api.EngineIE,
	"ios":     api.EngineIOS,
	"node":    api.EngineNode,
	"opera":   api.EngineOpera,
	"safari":  api.EngineSafari,
	"deno":    api.EngineDeno,
}

var engineRe = regexp.MustCompile(`^([a-z]+)(\d[\d.]*)$`)

// parseTargets turns command-line targets like "es2020" or "chrome58" into
// API options. Unknown targets are logged and ignored.
func parseTargets(targets []string) (api.Target, []api.Engine) {
	target := api.DefaultTarget
	var engines []api.Engine
	for _, t := range targets {
		t = strings.ToLower(strings.TrimSpace(t))
		if es, ok := esTargets[t]; ok {
			target = es
			continue
		}
		if m := engineRe.FindStringSubmatch(t); m != nil {
			if name, ok := engineNames[m[1]]; ok {
				engines = append(engines, api.Engine{Name: name, Version: m[2]})
				continue
			}
		}
		log.Warn().Str("target", t).Msg("Ignoring unknown esbuild target")
	}
	return target, engines
}

func apiErrors(msgs []api.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		text := m.Text
		if m.Location != nil {
			text = fmt.Sprintf("%s:%d: %s", filepath.ToSlash(m.Location.File), m.Location.Line, m.Text)
		}
		texts = append(texts, text)
	}
	return fmt.Errorf("esbuild failed: %s", strings.Join(texts, "; "))
}
