package main

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

func isGzip(path string) bool {
	return strings.HasSuffix(path, ".gz")
}

// loadJSON decodes a JSON file, transparently gunzipping .gz paths.
func loadJSON[X any](inputPath string) (*X, error) {
	if inputPath == "" {
		return nil, errors.New("no path specified")
	}
	f, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %q: %w", inputPath, err)
	}
	defer f.Close()
	var r io.Reader = f
	if isGzip(inputPath) {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip reader for %q: %w", inputPath, err)
		}
		defer zr.Close()
		r = zr
	}
	var value X
	if err := json.NewDecoder(r).Decode(&value); err != nil {
		return nil, fmt.Errorf("failed to decode JSON of %q: %w", inputPath, err)
	}
	return &value, nil
}

// writeJSON encodes value to outputPath, gzipping .gz paths. "-" writes to
// stdout, an empty path writes nothing.
func writeJSON[X any](outputPath string, value X) error {
	if outputPath == "" {
		return nil
	}
	if outputPath == "-" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	}
	f, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file %q: %w", outputPath, err)
	}
	var w io.Writer = f
	var zw *gzip.Writer
	if isGzip(outputPath) {
		zw = gzip.NewWriter(f)
		w = zw
	}
	if err := json.NewEncoder(w).Encode(value); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode JSON to %q: %w", outputPath, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to flush gzip stream of %q: %w", outputPath, err)
		}
	}
	return f.Close()
}
