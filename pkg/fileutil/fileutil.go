// Package fileutil provides file utilities with tmp+mv semantics.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/eunmann/txn-batch-report/pkg/logging"
)

const tmpSuffix = ".tmp"

// Exists returns true if the file exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsNonEmpty returns true if the file exists and has non-zero size.
func IsNonEmpty(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() > 0
}

// WriteTmpThenMove writes to a temporary file then atomically moves it to the final path.
// The writeFunc receives the temporary path and should write the complete file.
func WriteTmpThenMove(tmpDir, outPath string, writeFunc func(tmpPath string) error) error {
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return fmt.Errorf("create tmp dir: %w", err)
	}

	tmpPath := filepath.Join(tmpDir, filepath.Base(outPath)+tmpSuffix)

	if err := writeFunc(tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := syncFile(tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp to final: %w", err)
	}

	return nil
}

// WriteFileAtomic writes data to path through a temporary file in the same directory.
func WriteFileAtomic(path string, data []byte) error {
	return WriteTmpThenMove(filepath.Dir(path), path, func(tmpPath string) error {
		return os.WriteFile(tmpPath, data, 0644)
	})
}

func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	err = f.Sync()
	f.Close()
	return err
}

// CleanupTmpFiles removes .tmp files left in dir by interrupted writes.
// A missing dir is not an error.
func CleanupTmpFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir, err)
	}

	var removed int
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		if os.Remove(filepath.Join(dir, e.Name())) == nil {
			removed++
		}
	}

	if removed > 0 {
		logging.L().Debug().Int("files_removed", removed).Str("dir", dir).Msg("cleaned up tmp files")
	}
	return nil
}

// LatestWithPrefix returns the path of the file in dir whose name starts with
// prefix and ends with one of exts, choosing the greatest name. Names that
// embed a sortable timestamp therefore select the newest file. It returns
// false when nothing matches.
func LatestWithPrefix(dir, prefix string, exts ...string) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		for _, ext := range exts {
			if strings.HasSuffix(name, ext) {
				names = append(names, name)
				break
			}
		}
	}
	if len(names) == 0 {
		return "", false, nil
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), true, nil
}
