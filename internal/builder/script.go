package builder

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

//go:embed assets/esbuild.mjs
var esbuildScript []byte

// ErrScriptExists is returned when generating over an existing script
var ErrScriptExists = errors.New("esbuild script already exists")

// GenerateScript writes the customizable esbuild build script. An existing
// file is only replaced with force.
func GenerateScript(filename string, force bool) error {
	if !force {
		if _, err := os.Stat(filename); err == nil {
			return fmt.Errorf("%w: %s", ErrScriptExists, filename)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return os.WriteFile(filename, esbuildScript, 0o644)
}

// RunScript runs the configured esbuild script with extra arguments and the
// same environment a build would get
func (b *Esbuild) RunScript(ctx context.Context, args ...string) error {
	if b.cfg.Esbuild.Script == "" {
		return errors.New("esbuild.script is not configured")
	}
	_, env, err := b.Command(false, false, "")
	if err != nil {
		return err
	}
	proc := &Process{
		Builder: b.Name(),
		Args:    commandWithArgs(ScriptCommand(b.cfg.Esbuild.Script), args...),
		Env:     env,
	}
	return proc.Run(ctx)
}
