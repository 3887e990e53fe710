package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/shrinkpic/internal/domain"
	"github.com/klauspost/compress/zip"
)

const DefaultZipName = "compressed-images.zip"

// WriteZip writes every result into a zip stream under its output name.
// Repeated names get a numeric suffix before the extension.
func WriteZip(w io.Writer, results []domain.ProcessedResult) error {
	if len(results) == 0 {
		return errors.New("no results to archive")
	}

	zw := zip.NewWriter(w)
	seen := make(map[string]int, len(results))
	modified := time.Now()
	for i, res := range results {
		name := uniqueName(entryName(res, i), seen)
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("create zip entry %s: %w", name, err)
		}
		if _, err := fw.Write(res.Data); err != nil {
			return fmt.Errorf("write zip entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish zip: %w", err)
	}
	return nil
}

// SaveIndividual writes one result into dir and returns its path.
func SaveIndividual(dir string, res domain.ProcessedResult) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return writeFile(dir, entryName(res, 0), res.Data)
}

// SaveAll writes every result of a run into dir, naming repeated output
// names the same way WriteZip does. It returns the written paths in order.
func SaveAll(dir string, results []domain.ProcessedResult) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	seen := make(map[string]int, len(results))
	paths := make([]string, 0, len(results))
	for i, res := range results {
		path, err := writeFile(dir, uniqueName(entryName(res, i), seen), res.Data)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(dir, name string, data []byte) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func entryName(res domain.ProcessedResult, index int) string {
	name := filepath.Base(strings.ReplaceAll(res.OutputName, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = "image-" + strconv.Itoa(index+1) + "." + res.Format.Extension()
	}
	return name
}

func uniqueName(name string, seen map[string]int) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	candidate := fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
	if _, taken := seen[candidate]; taken {
		return uniqueName(candidate, seen)
	}
	seen[candidate] = 1
	return candidate
}
