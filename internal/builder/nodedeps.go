package builder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/fluxbase-eu/fluxassets/internal/config"
	"github.com/fluxbase-eu/fluxassets/internal/pipeline"
	"github.com/fluxbase-eu/fluxassets/internal/staticcopy"
	"github.com/rs/zerolog/log"
)

// NodePackage is a node package exposed to the browser as an ES module
type NodePackage struct {
	Name string
	// Source is the module body bundled for the package
	Source string
}

// ParseNodePackage parses "name" or "name:source". Without a source the
// package re-exports everything.
func ParseNodePackage(s string) NodePackage {
	name, source, ok := strings.Cut(s, ":")
	if !ok {
		source = fmt.Sprintf("export * from '%s'", name)
	}
	return NodePackage{Name: name, Source: source}
}

// NodeDeps vendors exposed node packages and copies files out of
// node_modules
type NodeDeps struct {
	p      *pipeline.Pipeline
	cfg    *config.Config
	copier *staticcopy.Copier
}

// NewNodeDeps creates the node dependencies builder
func NewNodeDeps(p *pipeline.Pipeline) *NodeDeps {
	return &NodeDeps{p: p, cfg: p.Config(), copier: staticcopy.New(nil)}
}

// Name implements Builder
func (b *NodeDeps) Name() string { return "node-deps" }

// VendorPath is the output file of a vendored package
func (b *NodeDeps) VendorPath(name string) string {
	return filepath.Join(b.cfg.Assets.OutputFolder, "vendor", name+".js")
}

// Build implements Builder
func (b *NodeDeps) Build(ctx context.Context, _ *Output) error {
	for _, s := range b.cfg.Assets.ExposeNodePackages {
		if err := b.vendor(ctx, ParseNodePackage(s)); err != nil {
			return err
		}
	}
	if len(b.cfg.Assets.CopyFromNodeModules) > 0 {
		if err := b.copier.CopyFiles(b.cfg.Assets.CopyFromNodeModules, b.cfg.Assets.NodeModulesPath, b.cfg.Assets.StaticFolder); err != nil {
			return fmt.Errorf("failed to copy files from node modules: %w", err)
		}
	}
	return nil
}

// vendor bundles one package unless its output already exists
func (b *NodeDeps) vendor(ctx context.Context, pkg NodePackage) error {
	outfile := b.VendorPath(pkg.Name)
	if _, err := os.Stat(outfile); err == nil {
		log.Debug().Str("package", pkg.Name).Msg("Vendored package already built")
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outfile), 0o755); err != nil {
		return fmt.Errorf("failed to create vendor directory: %w", err)
	}

	log.Info().Str("package", pkg.Name).Str("file", outfile).Msg("Vendoring node package")
	if b.cfg.Esbuild.Mode == "api" || len(b.cfg.Esbuild.Bin) == 0 {
		result := api.Build(b.vendorOptions(pkg, outfile))
		return apiErrors(result.Errors)
	}
	proc := &Process{
		Builder: b.Name(),
		Args:    commandWithArgs(b.cfg.Esbuild.Bin, b.VendorArgs(pkg, outfile)...),
		Env:     map[string]string{"NODE_PATH": b.cfg.Assets.NodeModulesPath},
		Stdin:   strings.NewReader(pkg.Source),
	}
	return proc.Run(ctx)
}

// VendorArgs are the esbuild flags used to vendor a package from stdin
func (b *NodeDeps) VendorArgs(pkg NodePackage, outfile string) []string {
	return []string{
		"--bundle",
		"--minify",
		"--format=esm",
		"--sourcefile=" + pkg.Name + ".js",
		"--outfile=" + outfile,
	}
}

func (b *NodeDeps) vendorOptions(pkg NodePackage, outfile string) api.BuildOptions {
	wd, _ := os.Getwd()
	return api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   pkg.Source,
			Sourcefile: pkg.Name + ".js",
			ResolveDir: wd,
			Loader:     api.LoaderJS,
		},
		Bundle:            true,
		Write:             true,
		Format:            api.FormatESModule,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		Outfile:           outfile,
		AbsWorkingDir:     wd,
		NodePaths:         []string{b.cfg.Assets.NodeModulesPath},
		LogLevel:          api.LogLevelWarning,
	}
}
