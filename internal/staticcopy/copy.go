// Package staticcopy copies asset files into the static folder, optionally
// stamping their names with a content hash.
package staticcopy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// StampLength is the number of hex digits of the content hash kept in
// stamped file names
const StampLength = 10

// Copier copies files on a filesystem
type Copier struct {
	fs afero.Fs
}

// New creates a copier. A nil fs means the OS filesystem.
func New(fs afero.Fs) *Copier {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Copier{fs: fs}
}

// Fs returns the underlying filesystem
func (c *Copier) Fs() afero.Fs {
	return c.fs
}

// CopyAssets copies every file under src to dest, skipping the relative
// paths in ignore. It returns relative source path -> relative destination
// path. With stamp, destinations become name-<hash>.ext.
func (c *Copier) CopyAssets(src, dest string, stamp bool, ignore []string) (map[string]string, error) {
	skip := make(map[string]struct{}, len(ignore))
	for _, p := range ignore {
		skip[filepath.ToSlash(filepath.Clean(p))] = struct{}{}
	}

	files := make(map[string]string)
	err := afero.Walk(c.fs, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, ok := skip[rel]; ok {
			return nil
		}
		target := rel
		if stamp {
			sum, err := c.HashFile(p)
			if err != nil {
				return err
			}
			target = Stamp(rel, sum)
		}
		files[rel] = target
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", src, err)
	}

	if err := c.CopyFiles(files, src, dest); err != nil {
		return nil, err
	}
	return files, nil
}

// Stamp inserts a content hash before the extension of rel
func Stamp(rel, sum string) string {
	if len(sum) > StampLength {
		sum = sum[:StampLength]
	}
	ext := filepath.Ext(rel)
	return strings.TrimSuffix(rel, ext) + "-" + sum + ext
}

// CopyFiles copies source -> destination pairs, relative to srcFolder and
// outFolder when those are set. Missing sources are logged and skipped.
// Existing targets are replaced, except that a directory source copied to a
// destination ending in "/" is placed inside it.
func (c *Copier) CopyFiles(files map[string]string, srcFolder, outFolder string) error {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, srcRel := range keys {
		destRel := files[srcRel]
		src := srcRel
		if srcFolder != "" {
			src = filepath.Join(srcFolder, filepath.FromSlash(srcRel))
		}
		info, err := c.fs.Stat(src)
		if err != nil {
			log.Warn().Str("file", src).Err(err).Msg("Cannot copy file")
			continue
		}

		target := filepath.FromSlash(destRel)
		if outFolder != "" {
			target = filepath.Join(outFolder, target)
		}

		if info.IsDir() {
			if _, err := c.fs.Stat(target); err == nil {
				if strings.HasSuffix(destRel, "/") {
					target = filepath.Join(target, filepath.Base(src))
				} else {
					log.Debug().Str("target", target).Msg("Removing target of file copy")
					if err := c.fs.RemoveAll(target); err != nil {
						return fmt.Errorf("failed to remove %s: %w", target, err)
					}
				}
			}
			log.Debug().Str("from", src).Str("to", target).Msg("Copying directory")
			if err := c.copyTree(src, target); err != nil {
				return err
			}
			continue
		}

		log.Debug().Str("from", src).Str("to", target).Msg("Copying file")
		if err := c.copyFile(src, target, info.Mode()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Copier) copyTree(src, dest string) error {
	return afero.Walk(c.fs, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return c.fs.MkdirAll(target, 0o755)
		}
		return c.copyFile(p, target, info.Mode())
	})
}

func (c *Copier) copyFile(src, dest string, mode os.FileMode) error {
	if err := c.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dest, err)
	}
	in, err := c.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := c.fs.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

// HashFile returns the hex sha256 of a file's content
func (c *Copier) HashFile(p string) (string, error) {
	f, err := c.fs.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
