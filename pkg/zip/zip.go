// Package zip bundles in-memory files into a zip archive.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"
)

type Asset struct {
	Filename string
	Data     []byte
	Modified time.Time
}

// Archive writes assets in order. Repeated filenames get a numeric suffix so
// no entry shadows another.
func Archive(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	seen := make(map[string]int, len(assets))
	for _, asset := range assets {
		name := uniqueName(asset.Filename, seen)
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: asset.Modified})
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}

func uniqueName(name string, seen map[string]int) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n+1, ext)
}
