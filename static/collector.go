// Package static gathers an application's static assets into a single
// serving directory, the way the deployment entrypoint's collectstatic
// step did. Collection is idempotent and never prompts.
package static

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"appboot/metrics"
)

// Result summarizes a collection run.
type Result struct {
	Copied        int // files written because new or changed
	Skipped       int // files already current at the destination
	PostProcessed int // hashed copies written in manifest mode
}

// Collector copies static assets from ordered source directories into the
// serving root. When two sources contain the same relative path, the first
// source wins.
type Collector struct {
	sourceDirs []string
	root       string
	manifest   bool
	logger     *zap.SugaredLogger
}

// NewCollector creates a collector. root is created if missing.
func NewCollector(sourceDirs []string, root string, manifest bool, logger *zap.SugaredLogger) *Collector {
	return &Collector{
		sourceDirs: sourceDirs,
		root:       root,
		manifest:   manifest,
		logger:     logger,
	}
}

// Collect walks every source directory and copies changed files into the
// root. Unchanged files (same size, destination not older) are skipped, so
// re-running with unchanged sources is a no-op. In manifest mode each file
// additionally gets a content-hashed copy recorded in staticmanifest.json.
func (c *Collector) Collect() (Result, error) {
	var result Result

	if err := os.MkdirAll(c.root, 0755); err != nil {
		return result, fmt.Errorf("failed to create static root %s: %w", c.root, err)
	}

	// First source containing a relative path wins
	seen := make(map[string]bool)
	manifest := make(map[string]string)

	for _, src := range c.sourceDirs {
		info, err := os.Stat(src)
		if err != nil {
			return result, fmt.Errorf("static source %s: %w", src, err)
		}
		if !info.IsDir() {
			return result, fmt.Errorf("static source %s is not a directory", src)
		}

		err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			if seen[rel] {
				c.logger.Debugw("Skipping shadowed asset", "path", rel, "source", src)
				return nil
			}
			seen[rel] = true

			copied, err := c.copyFile(path, rel)
			if err != nil {
				return fmt.Errorf("failed to collect %s: %w", rel, err)
			}
			if copied {
				result.Copied++
				metrics.StaticFilesCopied.Inc()
			} else {
				result.Skipped++
			}

			if c.manifest {
				hashed, wrote, err := c.postProcess(rel)
				if err != nil {
					return fmt.Errorf("failed to post-process %s: %w", rel, err)
				}
				manifest[filepath.ToSlash(rel)] = filepath.ToSlash(hashed)
				if wrote {
					result.PostProcessed++
				}
			}
			return nil
		})
		if err != nil {
			return result, err
		}
	}

	if c.manifest {
		if err := writeManifest(c.root, manifest); err != nil {
			return result, err
		}
	}

	c.logger.Infow("Static assets collected",
		"copied", result.Copied,
		"skipped", result.Skipped,
		"post_processed", result.PostProcessed,
		"root", c.root)

	return result, nil
}

// copyFile copies src into the root at rel if the destination is missing
// or stale. Reports whether a copy happened.
func (c *Collector) copyFile(src, rel string) (bool, error) {
	dst := filepath.Join(c.root, rel)

	srcInfo, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	if dstInfo, err := os.Stat(dst); err == nil {
		if dstInfo.Size() == srcInfo.Size() && !dstInfo.ModTime().Before(srcInfo.ModTime()) {
			return false, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return false, err
	}

	in, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return false, err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return false, err
	}
	if err := out.Close(); err != nil {
		return false, err
	}

	return true, nil
}

// postProcess writes a content-hashed sibling of the collected file and
// returns its relative path. Already-current hashed copies are not
// rewritten.
func (c *Collector) postProcess(rel string) (string, bool, error) {
	collected := filepath.Join(c.root, rel)

	data, err := os.ReadFile(collected)
	if err != nil {
		return "", false, err
	}

	sum := sha256.Sum256(data)
	hashedRel := hashedName(rel, hex.EncodeToString(sum[:])[:12])
	hashedPath := filepath.Join(c.root, hashedRel)

	if info, err := os.Stat(hashedPath); err == nil && info.Size() == int64(len(data)) {
		return hashedRel, false, nil
	}

	if err := os.WriteFile(hashedPath, data, 0644); err != nil {
		return "", false, err
	}
	return hashedRel, true, nil
}

// hashedName inserts the content hash before the extension:
// css/site.css -> css/site.d41d8cd98f00.css
func hashedName(rel, hash string) string {
	ext := filepath.Ext(rel)
	base := strings.TrimSuffix(rel, ext)
	return base + "." + hash + ext
}
