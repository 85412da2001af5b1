package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Load reads a saved report, decompressing by file extension.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &PersistenceFailure{Path: path, Err: err}
	}
	defer f.Close()
	return Decode(f, path)
}

// Decode reads a report from r. name selects the decompression.
func Decode(r io.Reader, name string) (*Document, error) {
	rc, err := decompressor(r, name)
	if err != nil {
		return nil, &PersistenceFailure{Path: name, Err: err}
	}
	defer rc.Close()

	var doc Document
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, &PersistenceFailure{Path: name, Err: fmt.Errorf("decode: %w", err)}
	}
	return &doc, nil
}
