package builder

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/fluxbase-eu/fluxassets/internal/config"
	"github.com/fluxbase-eu/fluxassets/internal/manifest"
	"github.com/fluxbase-eu/fluxassets/internal/pipeline"
	"github.com/fluxbase-eu/fluxassets/internal/reference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Assets: config.AssetsConfig{
			Folder:          filepath.Join(dir, "assets"),
			StaticFolder:    filepath.Join(dir, "static"),
			StaticURLPath:   "/static",
			URLPath:         "/assets",
			OutputFolder:    filepath.Join(dir, "static", "dist"),
			OutputURL:       "/static/dist",
			MappingFile:     filepath.Join(dir, "assets.json"),
			NodeModulesPath: filepath.Join(dir, "node_modules"),
			TemplateFolders: []string{filepath.Join(dir, "templates")},
			Bundles:         map[string][]string{"main": {"app.js"}},
		},
		Esbuild: config.EsbuildConfig{
			Mode: "binary",
			Bin:  []string{"esbuild"},
		},
		Tailwind: config.TailwindConfig{
			Bin: []string{"tailwindcss"},
		},
		CacheWorker: config.CacheWorkerConfig{Filename: "cache-worker.js"},
		LiveReload:  config.LiveReloadConfig{Port: 7878},
	}
}

func newPipeline(t *testing.T, cfg *config.Config) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(cfg, pipeline.Options{})
	require.NoError(t, err)
	return p
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestMergeEnv(t *testing.T) {
	out := mergeEnv([]string{"PATH=/bin", "NODE_PATH=old", "HOME=/root"}, map[string]string{
		"NODE_PATH": "new",
		"A":         "1",
	})
	assert.Equal(t, []string{"PATH=/bin", "HOME=/root", "A=1", "NODE_PATH=new"}, out)

	base := []string{"X=1"}
	assert.Equal(t, base, mergeEnv(base, nil))
}

func TestParseTargets(t *testing.T) {
	target, engines := parseTargets([]string{"es2020", "Chrome58", "safari11.1", "netscape4"})
	assert.Equal(t, api.ES2020, target)
	assert.Equal(t, []api.Engine{
		{Name: api.EngineChrome, Version: "58"},
		{Name: api.EngineSafari, Version: "11.1"},
	}, engines)

	target, engines = parseTargets(nil)
	assert.Equal(t, api.DefaultTarget, target)
	assert.Empty(t, engines)
}

func TestEsbuild_Command(t *testing.T) {
	cfg := testConfig(t)
	cfg.Esbuild.Splitting = true
	cfg.Esbuild.Target = []string{"es2020"}
	cfg.Esbuild.External = []string{"react"}
	cfg.Esbuild.Aliases = map[string]string{"ui": "./ui"}
	cfg.Esbuild.Args = []string{"--log-level=info"}
	cfg.Assets.Bundles = map[string][]string{"main": {"app.js", "page.js=out"}}
	p := newPipeline(t, cfg)
	b := NewEsbuild(p)

	tests := []struct {
		name    string
		watch   bool
		dev     bool
		present []string
		absent  []string
	}{
		{
			name:    "production",
			present: []string{"--minify", "--metafile=meta.json"},
			absent:  []string{"--sourcemap", "--watch"},
		},
		{
			name:    "dev watch",
			watch:   true,
			dev:     true,
			present: []string{"--sourcemap", "--watch"},
			absent:  []string{"--minify"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, env, err := b.Command(tt.watch, tt.dev, "meta.json")
			require.NoError(t, err)

			assert.Equal(t, "esbuild", cmd[0])
			assert.Equal(t, filepath.Join(cfg.Assets.Folder, "app.js"), cmd[1])
			assert.Equal(t, "out="+filepath.Join(cfg.Assets.Folder, "page.js"), cmd[2])
			assert.Subset(t, cmd, []string{
				"--bundle",
				"--format=esm",
				"--entry-names=[dir]/[name]-[hash]",
				"--outbase=" + cfg.Assets.Folder,
				"--outdir=" + cfg.Assets.OutputFolder,
				"--alias:ui=./ui",
				"--external:react",
				"--splitting",
				"--target=es2020",
			})
			assert.Subset(t, cmd, tt.present)
			for _, a := range tt.absent {
				assert.NotContains(t, cmd, a)
			}
			assert.Equal(t, "--log-level=info", cmd[len(cmd)-1])

			assert.Equal(t, flag(tt.dev), env["ESBUILD_DEV"])
			assert.Equal(t, flag(tt.watch), env["ESBUILD_WATCH"])
			assert.Equal(t, "meta.json", env["ESBUILD_METAFILE"])
			assert.Equal(t, "ui=./ui", env["ESBUILD_ALIASES"])
			assert.Equal(t, cfg.Assets.OutputFolder, env["ESBUILD_OUTDIR"])
		})
	}

	t.Run("custom script", func(t *testing.T) {
		cfg.Esbuild.Script = "esbuild.mjs"
		defer func() { cfg.Esbuild.Script = "" }()
		cmd, env, err := b.Command(false, false, "meta.json")
		require.NoError(t, err)
		assert.Equal(t, []string{"node", "esbuild.mjs", "--log-level=info"}, cmd)
		assert.Equal(t, "esbuild.mjs", b.Name())
		assert.Contains(t, env["ESBUILD_ENTRYPOINTS"], "out="+filepath.Join(cfg.Assets.Folder, "page.js"))
	})

	t.Run("missing bin", func(t *testing.T) {
		cfg.Esbuild.Bin = nil
		defer func() { cfg.Esbuild.Bin = []string{"esbuild"} }()
		_, _, err := b.Command(false, false, "")
		assert.Error(t, err)
	})
}

func TestEsbuild_WriteMapping(t *testing.T) {
	cfg := testConfig(t)
	p := newPipeline(t, cfg)
	b := NewEsbuild(p)

	wd, err := os.Getwd()
	require.NoError(t, err)
	rel := func(p string) string {
		r, err := filepath.Rel(wd, p)
		require.NoError(t, err)
		return filepath.ToSlash(r)
	}
	meta := map[string]any{
		"inputs": map[string]any{
			rel(filepath.Join(cfg.Assets.Folder, "app.js")): map[string]any{"bytes": 10, "imports": []any{}},
		},
		"outputs": map[string]any{
			rel(filepath.Join(cfg.Assets.OutputFolder, "app-ABC.js")): map[string]any{
				"bytes":      10,
				"imports":    []any{},
				"entryPoint": rel(filepath.Join(cfg.Assets.Folder, "app.js")),
				"inputs":     map[string]any{},
			},
		},
	}
	data, err := json.Marshal(meta)
	require.NoError(t, err)
	metafile := filepath.Join(t.TempDir(), "meta.json")
	writeFile(t, metafile, string(data))

	require.NoError(t, b.WriteMapping(context.Background(), metafile, "", false))
	outs, ok := p.Store().Current().Lookup("app.js")
	require.True(t, ok)
	require.Len(t, outs, 1)
	assert.Equal(t, "/static/dist/app-ABC.js", outs[0].URL)

	t.Run("conversion is recorded on its span", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		prev := otel.GetTracerProvider()
		otel.SetTracerProvider(provider)
		t.Cleanup(func() {
			otel.SetTracerProvider(prev)
			_ = provider.Shutdown(context.Background())
		})

		require.NoError(t, b.WriteMapping(context.Background(), metafile, "", false))

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "manifest.convert", spans[0].Name())
		assert.Contains(t, spans[0].Attributes(), attribute.Int("manifest.entrypoints", 1))
		require.Len(t, spans[0].Events(), 1)
		assert.Equal(t, "metafile.converted", spans[0].Events()[0].Name)
	})

	t.Run("invalid metafile keeps the mapping", func(t *testing.T) {
		writeFile(t, metafile, "{not json")
		err := b.WriteMapping(context.Background(), metafile, "", false)
		require.Error(t, err)
		assert.True(t, manifest.IsDecodeError(err))
		_, ok := p.Store().Current().Lookup("app.js")
		assert.True(t, ok)
	})
}

func TestTailwind(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tailwind.Input = "main.css"
	cfg.Tailwind.Args = []string{"--optimize"}
	cfg.Tailwind.SuggestedContent = []string{"lib/**/*.py"}
	p := newPipeline(t, cfg)
	b := NewTailwind(p)

	created, err := b.EnsureInput()
	require.NoError(t, err)
	assert.True(t, created)
	data, err := os.ReadFile(b.InputPath())
	require.NoError(t, err)
	assert.Equal(t, DefaultTailwindInput, string(data))

	created, err = b.EnsureInput()
	require.NoError(t, err)
	assert.False(t, created)

	cmd, env, err := b.Command(true, false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"tailwindcss",
		"-i", b.InputPath(),
		"-o", filepath.Join(cfg.Assets.OutputFolder, "main.css"),
		"--minify",
		"--watch",
		"--optimize",
	}, cmd)
	assert.Equal(t, b.InputPath(), env["TAILWIND_INPUT"])
	assert.Equal(t, b.OutputPath(), env["TAILWIND_OUTPUT"])
	assert.True(t, strings.HasSuffix(env["TAILWIND_CONTENT"], "/**/*.js;lib/**/*.py"))

	cmd, _, err = b.Command(false, true)
	require.NoError(t, err)
	assert.NotContains(t, cmd, "--minify")
	assert.NotContains(t, cmd, "--watch")

	t.Run("expansion", func(t *testing.T) {
		cfg.Tailwind.ExpandEnv = true
		cfg.Tailwind.Sources = []string{"../templates"}
		defer func() {
			cfg.Tailwind.ExpandEnv = false
			cfg.Tailwind.Sources = nil
		}()
		t.Setenv("BRAND_COLOR", "#ff0000")
		writeFile(t, b.InputPath(), "@import \"tailwindcss\";\n@theme { --color-brand: ${BRAND_COLOR}; --x: $UNSET_FLUX_VAR; }\n")

		cmd, env, err := b.Command(false, false)
		require.NoError(t, err)
		assert.Equal(t, b.ExpandedPath(), cmd[2])
		assert.Equal(t, b.ExpandedPath(), env["TAILWIND_INPUT"])

		out, err := os.ReadFile(b.ExpandedPath())
		require.NoError(t, err)
		assert.Equal(t, "@import \"tailwindcss\";\n@source \"../templates\";\n@theme { --color-brand: #ff0000; --x: ${UNSET_FLUX_VAR}; }\n", string(out))

		b.cleanup()
		assert.NoFileExists(t, b.ExpandedPath())
	})
}

func TestInsertSources(t *testing.T) {
	assert.Equal(t, "@source \"a\";\nbody {}", insertSources("body {}", []string{"a"}))
	assert.Equal(t,
		"/* x */\n@import \"tailwindcss\" prefix(tw);\n@source \"a\";\n@source \"b\";\n",
		insertSources("/* x */\n@import \"tailwindcss\" prefix(tw);\n", []string{"a", "b"}))
}

func TestNodeDeps(t *testing.T) {
	assert.Equal(t, NodePackage{Name: "htmx.org", Source: "export * from 'htmx.org'"}, ParseNodePackage("htmx.org"))
	assert.Equal(t, NodePackage{Name: "alpine", Source: "export { default } from 'alpinejs'"}, ParseNodePackage("alpine:export { default } from 'alpinejs'"))

	cfg := testConfig(t)
	p := newPipeline(t, cfg)
	b := NewNodeDeps(p)

	out := b.VendorPath("htmx.org")
	assert.Equal(t, filepath.Join(cfg.Assets.OutputFolder, "vendor", "htmx.org.js"), out)
	assert.Equal(t, []string{
		"--bundle",
		"--minify",
		"--format=esm",
		"--sourcefile=htmx.org.js",
		"--outfile=" + out,
	}, b.VendorArgs(ParseNodePackage("htmx.org"), out))

	t.Run("existing vendor files are kept", func(t *testing.T) {
		cfg.Assets.ExposeNodePackages = []string{"htmx.org"}
		cfg.Esbuild.Bin = []string{"/nonexistent/esbuild"}
		writeFile(t, out, "cached")
		require.NoError(t, b.Build(context.Background(), NewOutput()))
	})

	t.Run("copies files from node_modules", func(t *testing.T) {
		cfg.Assets.ExposeNodePackages = nil
		cfg.Assets.CopyFromNodeModules = map[string]string{"pkg/dist/pkg.css": "vendor/pkg.css"}
		writeFile(t, filepath.Join(cfg.Assets.NodeModulesPath, "pkg", "dist", "pkg.css"), "a{}")
		require.NoError(t, b.Build(context.Background(), NewOutput()))
		assert.FileExists(t, filepath.Join(cfg.Assets.StaticFolder, "vendor", "pkg.css"))
	})
}

func TestTemplates_Build(t *testing.T) {
	cfg := testConfig(t)
	cfg.Assets.Inline = true
	cfg.Assets.Bundles = nil
	writeFile(t, filepath.Join(cfg.Assets.TemplateFolders[0], "pages", "home.html"),
		"<h1>Home</h1>\n<script bundle>console.log('home')</script>\n<style bundle=\"@theme\">h1 { color: red }</style>\n")
	p := newPipeline(t, cfg)
	b := NewTemplates(p)

	require.NoError(t, b.Prepare(context.Background()))

	js, err := os.ReadFile(filepath.Join(cfg.Assets.Folder, "pages", "home.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log('home')", string(js))
	assert.FileExists(t, filepath.Join(cfg.Assets.Folder, "pages", "home.css"))

	assert.True(t, p.Registry().Has("pages/home.js"))
	assert.True(t, p.Registry().Has("@theme"))
	assert.Equal(t, []string{"pages/home.js", "pages/home.css"}, p.Defaults())

	t.Run("second extraction is stable", func(t *testing.T) {
		require.NoError(t, b.Build(context.Background(), NewOutput()))
		assert.Equal(t, 2, p.Registry().Len())
	})

	t.Run("disabled", func(t *testing.T) {
		cfg.Assets.Inline = false
		defer func() { cfg.Assets.Inline = true }()
		require.NoError(t, os.Remove(filepath.Join(cfg.Assets.Folder, "pages", "home.js")))
		require.NoError(t, b.Build(context.Background(), NewOutput()))
		assert.NoFileExists(t, filepath.Join(cfg.Assets.Folder, "pages", "home.js"))
	})
}

func TestCacheWorker(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheWorker.Enabled = true
	cfg.CacheWorker.URLs = []string{"/offline.html"}
	cfg.Tailwind.Input = "main.css"
	p := newPipeline(t, cfg)
	b := NewCacheWorker(p)

	assert.Regexp(t, regexp.MustCompile(`^assets-[0-9a-f]{8}$`), b.CacheName())

	out := NewOutput()
	out.Mapping = manifest.Mapping{
		"app.js": {
			manifest.URLOutput("/static/dist/app-1.js"),
			manifest.ModifiedOutput("/static/dist/chunk-2.js", reference.ModifierModulePreload),
		},
		"logo.png": {manifest.URLOutput("logo-3.png")},
	}
	assert.Equal(t, []string{
		"/static/dist/app-1.js",
		"/static/dist/chunk-2.js",
		"/static/logo-3.png",
		"/static/dist/main.css",
		"/offline.html",
	}, b.URLs(out.Mapping))

	cfg.CacheWorker.Name = "v1"
	require.NoError(t, b.Build(context.Background(), out))
	src, err := os.ReadFile(b.Filename())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(src), "/* AUTO-GENERATED SERVICE WORKER */\n\nconst CACHE_NAME = \"v1\";\nconst CACHE_URLS = [\"/static/dist/app-1.js\","))
	assert.Contains(t, string(src), "caches.open(CACHE_NAME)")
}

func TestGenerateScript(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "esbuild.mjs")
	require.NoError(t, GenerateScript(filename, false))
	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ESBUILD_ENTRYPOINTS")

	err = GenerateScript(filename, false)
	assert.True(t, errors.Is(err, ErrScriptExists))
	assert.NoError(t, GenerateScript(filename, true))
}

func TestProcess_Run(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	var (
		mu    sync.Mutex
		lines []string
	)
	proc := &Process{
		Builder:   "test",
		Args:      []string{"sh", "-c", `read x; echo "got $x"; echo "Done in $FLUX_TEST"; echo other >&2`},
		Env:       map[string]string{"FLUX_TEST": "5ms"},
		Stdin:     strings.NewReader("input\n"),
		MatchLine: regexp.MustCompile(`^(Done in|got)`),
		OnLine: func(line string) {
			mu.Lock()
			defer mu.Unlock()
			lines = append(lines, line)
		},
	}
	require.NoError(t, proc.Run(context.Background()))
	assert.Equal(t, []string{"got input", "Done in 5ms"}, lines)

	t.Run("failure", func(t *testing.T) {
		err := (&Process{Builder: "test", Args: []string{"sh", "-c", "exit 3"}}).Run(context.Background())
		assert.Error(t, err)
	})

	t.Run("empty command", func(t *testing.T) {
		assert.Error(t, (&Process{Builder: "test"}).Run(context.Background()))
	})
}

type fakeBuilder struct {
	name    string
	log     *[]string
	mu      *sync.Mutex
	mapping manifest.Mapping
	ignore  []string
	err     error
}

func (f *fakeBuilder) Name() string { return f.name }

func (f *fakeBuilder) record(step string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.log = append(*f.log, f.name+":"+step)
}

func (f *fakeBuilder) Build(_ context.Context, out *Output) error {
	f.record("build")
	for k, v := range f.mapping {
		out.Mapping[k] = v
	}
	out.Ignore = append(out.Ignore, f.ignore...)
	return f.err
}

type fakeWorker struct {
	fakeBuilder
}

func (f *fakeWorker) Prepare(context.Context) error {
	f.record("prepare")
	return nil
}

func (f *fakeWorker) Dev(context.Context, DevEnv) error {
	f.record("dev")
	return nil
}

func TestRunner_Build(t *testing.T) {
	cfg := testConfig(t)
	cfg.Assets.Stamp = false
	writeFile(t, filepath.Join(cfg.Assets.Folder, "app.js"), "bundled")
	writeFile(t, filepath.Join(cfg.Assets.Folder, "skip.txt"), "consumed")
	writeFile(t, filepath.Join(cfg.Assets.Folder, "lib", "util.js"), "export {}")
	writeFile(t, filepath.Join(cfg.Assets.Folder, "img", "logo.png"), "png")
	p := newPipeline(t, cfg)

	var (
		mu    sync.Mutex
		calls []string
	)
	bundler := &fakeBuilder{
		name: "bundler", log: &calls, mu: &mu,
		mapping: manifest.Mapping{"app.js": {manifest.URLOutput("/static/dist/app-1.js")}},
		ignore:  []string{"skip.txt"},
	}
	other := &fakeBuilder{name: "other", log: &calls, mu: &mu}

	mapping, err := NewRunner(p, bundler, other).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"bundler:build", "other:build"}, calls)

	assert.Equal(t, []manifest.Output{manifest.URLOutput("/static/dist/app-1.js")}, mapping["app.js"])
	assert.Equal(t, []manifest.Output{manifest.URLOutput("img/logo.png")}, mapping["img/logo.png"])
	require.Len(t, mapping["lib/util.js"], 1)
	assert.Equal(t, "lib/util.js", mapping["lib/util.js"][0].Meta.MapAs)
	assert.NotContains(t, mapping, "skip.txt")

	assert.FileExists(t, filepath.Join(cfg.Assets.StaticFolder, "img", "logo.png"))
	assert.NoFileExists(t, filepath.Join(cfg.Assets.StaticFolder, "app.js"))
	assert.NoFileExists(t, filepath.Join(cfg.Assets.StaticFolder, "skip.txt"))

	stored, err := manifest.NewStore(cfg.Assets.MappingFile, manifest.StoreOptions{}).Load()
	require.NoError(t, err)
	assert.Equal(t, mapping.Keys(), stored.Keys())
	assert.Equal(t, "/static/lib/util.js", p.ImportMap().Imports()["lib/util.js"])

	t.Run("builder failure stops the build", func(t *testing.T) {
		calls = nil
		bundler.err = errors.New("boom")
		defer func() { bundler.err = nil }()
		_, err := NewRunner(p, bundler, other).Build(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bundler build failed")
		assert.Equal(t, []string{"bundler:build"}, calls)
	})
}

func TestRunner_Dev(t *testing.T) {
	cfg := testConfig(t)
	p := newPipeline(t, cfg)

	var (
		mu    sync.Mutex
		calls []string
	)
	plain := &fakeBuilder{name: "plain", log: &calls, mu: &mu}
	worker := &fakeWorker{fakeBuilder{name: "worker", log: &calls, mu: &mu}}
	second := &fakeWorker{fakeBuilder{name: "second", log: &calls, mu: &mu}}

	require.NoError(t, NewRunner(p, worker, plain, second).Dev(context.Background(), DevEnv{}))

	require.Len(t, calls, 5)
	assert.Equal(t, []string{"worker:prepare", "plain:build", "second:prepare"}, calls[:3])
	assert.ElementsMatch(t, []string{"worker:dev", "second:dev"}, calls[3:])
}

func TestDefaults(t *testing.T) {
	cfg := testConfig(t)
	p := newPipeline(t, cfg)

	names := func(bs []Builder) []string {
		out := make([]string, 0, len(bs))
		for _, b := range bs {
			out = append(out, b.Name())
		}
		return out
	}
	assert.Equal(t, []string{"node-deps", "templates", "esbuild", "tailwind"}, names(Defaults(p)))

	cfg.CacheWorker.Enabled = true
	assert.Equal(t, []string{"node-deps", "templates", "esbuild", "tailwind", "cache-worker"}, names(Defaults(p)))
}
