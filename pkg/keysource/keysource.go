// Package keysource loads and writes the public key lists consumed by the
// key group driver.
package keysource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/eunmann/txn-batch-report/pkg/fileutil"
	"github.com/eunmann/txn-batch-report/pkg/store"
)

// FileName is the report name of extracted key lists.
const FileName = "public-keys"

// ErrNoKeyFile is returned when no key list file can be found.
var ErrNoKeyFile = errors.New("no key file")

// Source provides a key list.
type Source interface {
	Keys(ctx context.Context) ([]string, error)
}

// Static is an in-memory key list.
type Static []string

// Keys implements Source.
func (s Static) Keys(context.Context) ([]string, error) {
	out := make([]string, len(s))
	copy(out, s)
	return out, nil
}

// File reads a JSON array of strings or a parquet file with a publicKey column.
type File struct {
	Path string
}

// Keys implements Source.
func (f File) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !fileutil.Exists(f.Path) {
		return nil, fmt.Errorf("%w: %s", ErrNoKeyFile, f.Path)
	}
	if strings.EqualFold(filepath.Ext(f.Path), ".parquet") {
		return readParquet(f.Path)
	}
	return readJSON(f.Path)
}

// Latest reads the newest key file in Dir whose name starts with Prefix.
// Names carry a sortable timestamp, so the greatest name is the newest.
type Latest struct {
	Dir    string
	Prefix string
}

// Resolve returns the path Latest would read.
func (l Latest) Resolve() (string, error) {
	prefix := l.Prefix
	if prefix == "" {
		prefix = FileName + "_"
	}
	path, ok, err := fileutil.LatestWithPrefix(l.Dir, prefix, ".json", ".parquet")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: no %s* file in %s, run extract-keys first", ErrNoKeyFile, prefix, l.Dir)
	}
	return path, nil
}

// Keys implements Source.
func (l Latest) Keys(ctx context.Context) ([]string, error) {
	path, err := l.Resolve()
	if err != nil {
		return nil, err
	}
	return File{Path: path}.Keys(ctx)
}

func readJSON(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", path, err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

type keyRow struct {
	PublicKey string `parquet:"publicKey"`
}

func readParquet(path string) ([]string, error) {
	rows, err := parquet.ReadFile[keyRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet key file %s: %w", path, err)
	}
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.PublicKey
	}
	return keys, nil
}

// WriteJSON writes keys as an indented JSON array.
func WriteJSON(w io.Writer, keys []string) error {
	if keys == nil {
		keys = []string{}
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// WriteParquet writes keys as a single publicKey column.
func WriteParquet(w io.Writer, keys []string) error {
	rows := make([]keyRow, len(keys))
	for i, k := range keys {
		rows[i] = keyRow{PublicKey: k}
	}
	return parquet.Write(w, rows)
}

// FromRecords extracts the string values of field, skipping records without one.
func FromRecords(recs []store.Record, field string) []string {
	keys := make([]string, 0, len(recs))
	for _, r := range recs {
		if k, ok := r[field].(string); ok && k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
