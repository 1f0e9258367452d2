package builder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Process is an external build tool run as a subprocess. Its combined output
// is logged line by line under the builder's name.
type Process struct {
	Builder string
	Args    []string
	Env     map[string]string
	Dir     string
	Stdin   io.Reader
	// MatchLine selects the output lines that trigger OnLine; nil matches all
	MatchLine *regexp.Regexp
	// OnLine is called for each matching output line
	OnLine func(line string)
}

// Command returns the exec.Cmd for the process
func (p *Process) Command(ctx context.Context) (*exec.Cmd, error) {
	if len(p.Args) == 0 {
		return nil, fmt.Errorf("%s: no command to run", p.Builder)
	}
	cmd := exec.CommandContext(ctx, p.Args[0], p.Args[1:]...) //nolint:gosec // command comes from configuration
	cmd.Dir = p.Dir
	cmd.Env = mergeEnv(os.Environ(), p.Env)
	cmd.Stdin = p.Stdin
	return cmd, nil
}

// Run starts the process and waits for it to exit
func (p *Process) Run(ctx context.Context) error {
	cmd, err := p.Command(ctx)
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	log.Debug().Str("builder", p.Builder).Strs("args", p.Args).Msg("Starting build process")
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return fmt.Errorf("%s: failed to start %s: %w", p.Builder, p.Args[0], err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.scan(pr)
	}()

	runErr := cmd.Wait()
	_ = pw.Close()
	wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	if runErr != nil {
		return fmt.Errorf("%s: %w", p.Builder, runErr)
	}
	return nil
}

func (p *Process) scan(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		log.Info().Str("builder", p.Builder).Msg(line)
		if p.OnLine != nil && (p.MatchLine == nil || p.MatchLine.MatchString(line)) {
			p.OnLine(line)
		}
	}
	// drain so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}

// mergeEnv overlays extra on base, with extra keys applied in sorted order
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, ok := extra[name]; ok {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

// commandWithArgs appends args to a configured command line
func commandWithArgs(bin []string, args ...string) []string {
	out := make([]string, 0, len(bin)+len(args))
	out = append(out, bin...)
	return append(out, args...)
}
