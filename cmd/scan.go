package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FindDocumentsImpl expands paths into the markdown documents to run. Files
// are taken as given; directories are walked recursively for *.md files,
// skipping hidden directories and buildDir (an absolute path) so generated
// output is never run as input. The result is deduplicated and sorted by
// absolute path. It is an Impl function: it performs OS filesystem
// operations.
func FindDocumentsImpl(ctx context.Context, paths []string, buildDir string) ([]string, error) {
	seen := make(map[string]string)
	add := func(p string) error {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		if _, ok := seen[abs]; !ok {
			seen[abs] = filepath.Clean(p)
		}
		return nil
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("checking %s: %w", root, err)
		}
		if !info.IsDir() {
			if err := add(root); err != nil {
				return nil, err
			}
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && skipDir(path, d.Name(), buildDir) {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(d.Name(), ".md") {
				return nil
			}
			return add(path)
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", root, err)
		}
	}

	abs := make([]string, 0, len(seen))
	for a := range seen {
		abs = append(abs, a)
	}
	sort.Strings(abs)
	files := make([]string, 0, len(abs))
	for _, a := range abs {
		files = append(files, seen[a])
	}
	return files, nil
}

// skipDir reports whether a directory below a walk root is left out.
func skipDir(path, name, buildDir string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	if buildDir == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	return err == nil && abs == filepath.Clean(buildDir)
}
