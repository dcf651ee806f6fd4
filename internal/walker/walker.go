// Package walker discovers the source files of a repository.
//
// Walk honors an ignore list, a maximum file size and a deterministic
// sample rate. Files that are excluded for size are not dropped silently:
// they are returned as Skipped entries so run summaries can list them.
// Load reads the surviving candidates in parallel.
package walker

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/coderag/pkg/types"
)

// Skip reasons recorded in Skipped entries
const (
	ReasonTooLarge   = "too_large"
	ReasonSampled    = "sampled"
	ReasonSymlink    = "symlink"
	ReasonUnreadable = "unreadable"
)

// Options controls traversal
type Options struct {
	Ignore     []string // base names or glob patterns matched against base name and relative path
	MaxSize    int64    // bytes; 0 disables the limit
	SampleRate float64  // fraction of eligible files kept; 0 or 1 keeps all
	Manifests  []string // manifest base names, never sampled out
	Workers    int      // Load parallelism
}

// Candidate is a file that survived filtering
type Candidate struct {
	Path     string // relative, slash-separated
	AbsPath  string
	Size     int64
	ModTime  time.Time
	Language types.Language
}

// Skipped is a file excluded from processing, with the reason
type Skipped struct {
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
	Size   int64  `json:"size,omitempty" yaml:"size,omitempty"`
}

// Result is the outcome of a walk
type Result struct {
	Root    string
	Files   []Candidate
	Skipped []Skipped
}

// Walk traverses root and classifies every regular file. Results are
// sorted by relative path.
func Walk(ctx context.Context, root string, opts Options) (*Result, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	manifests := make(map[string]bool, len(opts.Manifests))
	for _, m := range opts.Manifests {
		manifests[m] = true
	}

	res := &Result{Root: absRoot}
	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == absRoot || d == nil {
				return err
			}
			// an unreadable directory costs its subtree, not the walk
			rel, _ := filepath.Rel(absRoot, p)
			res.Skipped = append(res.Skipped, Skipped{Path: filepath.ToSlash(rel), Reason: ReasonUnreadable})
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == absRoot {
			return nil
		}

		rel, relErr := filepath.Rel(absRoot, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if ignored(rel, d.Name(), opts.Ignore) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			res.Skipped = append(res.Skipped, Skipped{Path: rel, Reason: ReasonSymlink})
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{Path: rel, Reason: ReasonUnreadable})
			return nil
		}
		if opts.MaxSize > 0 && fi.Size() > opts.MaxSize {
			res.Skipped = append(res.Skipped, Skipped{Path: rel, Reason: ReasonTooLarge, Size: fi.Size()})
			return nil
		}
		if !manifests[d.Name()] && !Sampled(rel, opts.SampleRate) {
			res.Skipped = append(res.Skipped, Skipped{Path: rel, Reason: ReasonSampled, Size: fi.Size()})
			return nil
		}

		res.Files = append(res.Files, Candidate{
			Path:     rel,
			AbsPath:  p,
			Size:     fi.Size(),
			ModTime:  fi.ModTime(),
			Language: types.DetectLanguage(rel),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].Path < res.Files[j].Path })
	sort.Slice(res.Skipped, func(i, j int) bool { return res.Skipped[i].Path < res.Skipped[j].Path })
	return res, nil
}

// ignored reports whether rel matches any ignore pattern
func ignored(rel, base string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern == base || pattern == rel {
			return true
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
		if strings.Contains(pattern, "/") {
			if ok, _ := path.Match(pattern, rel); ok {
				return true
			}
		}
	}
	return false
}

// Load reads the candidates in parallel. Unreadable files are returned as
// Skipped; only context cancellation fails the call. The returned files keep
// the order of files.
func Load(ctx context.Context, files []Candidate, workers int) ([]types.SourceFile, []Skipped, error) {
	if workers <= 0 {
		workers = 1
	}

	loaded := make([]*types.SourceFile, len(files))
	var (
		mu      sync.Mutex
		skipped []Skipped
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c := files[i]
			content, err := os.ReadFile(c.AbsPath)
			if err != nil {
				mu.Lock()
				skipped = append(skipped, Skipped{Path: c.Path, Reason: ReasonUnreadable, Size: c.Size})
				mu.Unlock()
				return nil
			}
			loaded[i] = &types.SourceFile{
				Path:     c.Path,
				Content:  content,
				Size:     int64(len(content)),
				Language: c.Language,
				ModTime:  c.ModTime,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	out := make([]types.SourceFile, 0, len(files))
	for _, f := range loaded {
		if f != nil {
			out = append(out, *f)
		}
	}
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Path < skipped[j].Path })
	return out, skipped, nil
}

// ReadFile loads one file relative to root
func ReadFile(root, rel string) (types.SourceFile, error) {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return types.SourceFile{}, err
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return types.SourceFile{}, err
	}
	return types.SourceFile{
		Path:     rel,
		Content:  content,
		Size:     int64(len(content)),
		Language: types.DetectLanguage(rel),
		ModTime:  info.ModTime(),
	}, nil
}
