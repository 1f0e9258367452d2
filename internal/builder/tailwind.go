package builder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fluxbase-eu/fluxassets/internal/config"
	"github.com/fluxbase-eu/fluxassets/internal/livereload"
	"github.com/fluxbase-eu/fluxassets/internal/pipeline"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultTailwindInput is written when the configured input is missing
const DefaultTailwindInput = "@import \"tailwindcss\";\n"

var (
	tailwindDone   = regexp.MustCompile(`^Done in`)
	tailwindImport = regexp.MustCompile(`^@import\s+"tailwindcss"`)
)

// Tailwind generates the stylesheet with the tailwindcss CLI
type Tailwind struct {
	p   *pipeline.Pipeline
	cfg *config.Config
}

// NewTailwind creates the tailwind builder
func NewTailwind(p *pipeline.Pipeline) *Tailwind {
	return &Tailwind{p: p, cfg: p.Config()}
}

// Name implements Builder
func (b *Tailwind) Name() string { return "tailwind" }

// InputPath is the configured input inside the assets folder
func (b *Tailwind) InputPath() string {
	return filepath.Join(b.cfg.Assets.Folder, b.cfg.Tailwind.Input)
}

// OutputPath is where the generated stylesheet is written
func (b *Tailwind) OutputPath() string {
	return filepath.Join(b.cfg.Assets.OutputFolder, b.cfg.Tailwind.Input)
}

// ExpandedPath is the preprocessed copy of the input used when env vars or
// sources are expanded
func (b *Tailwind) ExpandedPath() string {
	return b.InputPath() + ".expanded.css"
}

func (b *Tailwind) expands() bool {
	return b.cfg.Tailwind.ExpandEnv || len(b.cfg.Tailwind.Sources) > 0
}

// EnsureInput creates the input file when it does not exist. It reports
// whether a file was created.
func (b *Tailwind) EnsureInput() (bool, error) {
	if !b.cfg.Tailwind.Enabled() {
		return false, errors.New("tailwind.input is not configured")
	}
	input := b.InputPath()
	if _, err := os.Stat(input); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(input), 0o755); err != nil {
		return false, fmt.Errorf("failed to create input directory: %w", err)
	}
	if err := os.WriteFile(input, []byte(DefaultTailwindInput), 0o644); err != nil {
		return false, fmt.Errorf("failed to create tailwind input: %w", err)
	}
	log.Info().Str("file", input).Msg("Created tailwind input")
	return true, nil
}

// Expand writes the expanded input and returns the path tailwind should
// read. Without expansion the input itself is returned.
func (b *Tailwind) Expand() (string, error) {
	input := b.InputPath()
	if !b.expands() {
		return input, nil
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return "", fmt.Errorf("failed to read tailwind input: %w", err)
	}
	source := string(data)
	if b.cfg.Tailwind.ExpandEnv {
		source = expandEnv(source)
	}
	if len(b.cfg.Tailwind.Sources) > 0 {
		source = insertSources(source, b.cfg.Tailwind.Sources)
	}
	expanded := b.ExpandedPath()
	if err := os.WriteFile(expanded, []byte(source), 0o644); err != nil {
		return "", fmt.Errorf("failed to write expanded input: %w", err)
	}
	return expanded, nil
}

// expandEnv replaces $VAR and ${VAR} with environment values. Unset
// variables are left in place.
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return "${" + name + "}"
	})
}

// insertSources adds @source lines after the tailwind import, or at the top
// when there is none
func insertSources(source string, sources []string) string {
	lines := strings.Split(source, "\n")
	at := 0
	for i, line := range lines {
		if tailwindImport.MatchString(line) {
			at = i + 1
			break
		}
	}
	add := make([]string, 0, len(sources))
	for _, src := range sources {
		add = append(add, fmt.Sprintf("@source %q;", src))
	}
	out := make([]string, 0, len(lines)+len(add))
	out = append(out, lines[:at]...)
	out = append(out, add...)
	out = append(out, lines[at:]...)
	return strings.Join(out, "\n")
}

// Command returns the command line and extra environment for a run
func (b *Tailwind) Command(watch, dev bool) ([]string, map[string]string, error) {
	tc := b.cfg.Tailwind
	if len(tc.Bin) == 0 {
		return nil, nil, errors.New("tailwind.bin is not configured")
	}
	input, err := b.Expand()
	if err != nil {
		return nil, nil, err
	}
	output := b.OutputPath()

	args := []string{"-i", input, "-o", output}
	if !dev {
		args = append(args, "--minify")
	}
	if watch {
		args = append(args, "--watch")
	}
	args = append(args, tc.Args...)

	content := make([]string, 0, len(b.cfg.Assets.TemplateFolders)+1+len(tc.SuggestedContent))
	for _, folder := range b.cfg.Assets.TemplateFolders {
		content = append(content, filepath.ToSlash(folder)+"/**/*.html")
	}
	content = append(content, filepath.ToSlash(b.cfg.Assets.StaticFolder)+"/**/*.js")
	content = append(content, tc.SuggestedContent...)

	env := map[string]string{
		"TAILWIND_CONTENT": strings.Join(content, ";"),
		"TAILWIND_INPUT":   input,
		"TAILWIND_OUTPUT":  output,
	}
	return commandWithArgs(tc.Bin, args...), env, nil
}

// Build implements Builder
func (b *Tailwind) Build(ctx context.Context, out *Output) error {
	if !b.cfg.Tailwind.Enabled() {
		return nil
	}
	if _, err := b.EnsureInput(); err != nil {
		return err
	}
	cmd, env, err := b.Command(false, false)
	if err != nil {
		return err
	}
	defer b.cleanup()
	out.Ignore = append(out.Ignore, filepath.ToSlash(b.cfg.Tailwind.Input))
	return (&Process{Builder: b.Name(), Args: cmd, Env: env}).Run(ctx)
}

// Dev implements DevWorker. In watch mode the input is re-expanded when it
// changes and every finished build pings live reload.
func (b *Tailwind) Dev(ctx context.Context, env DevEnv) error {
	if !b.cfg.Tailwind.Enabled() {
		return nil
	}
	if _, err := b.EnsureInput(); err != nil {
		return err
	}
	cmd, procEnv, err := b.Command(env.Watch, true)
	if err != nil {
		return err
	}
	defer b.cleanup()

	proc := &Process{Builder: b.Name(), Args: cmd, Env: procEnv}
	if !env.Watch {
		return proc.Run(ctx)
	}
	proc.MatchLine = tailwindDone
	proc.OnLine = func(string) { env.Ping(ctx) }

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return proc.Run(ctx) })
	if b.expands() {
		input, _ := filepath.Abs(b.InputPath())
		w := livereload.NewWatcher([]string{filepath.Dir(input)}, livereload.WatchOptions{
			Filter: func(p string) bool {
				abs, _ := filepath.Abs(p)
				return abs == input
			},
		}, func(livereload.Event) {
			if _, err := b.Expand(); err != nil {
				log.Warn().Err(err).Msg("Failed to expand tailwind input")
			}
		})
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

func (b *Tailwind) cleanup() {
	if !b.expands() {
		return
	}
	if err := os.Remove(b.ExpandedPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Debug().Err(err).Msg("Failed to remove expanded tailwind input")
	}
}
