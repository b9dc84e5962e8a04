package policyopa

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type bundleHashPayload struct {
	Files []bundleHashFile `json:"files"`
}

type bundleHashFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// ComputeBundleHashFromPath produces a stable digest over the bundle's
// normative files, so a decision can pin the exact policy that made it.
func ComputeBundleHashFromPath(bundlePath string) (string, error) {
	return ComputeBundleHashFromFS(os.DirFS(bundlePath), ".")
}

func ComputeBundleHashFromFS(fsys fs.FS, root string) (string, error) {
	files, err := collectBundleFiles(fsys, root)
	if err != nil {
		return "", err
	}
	payload := bundleHashPayload{Files: files}
	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return sha256Hex(canonical), nil
}

func collectBundleFiles(fsys fs.FS, root string) ([]bundleHashFile, error) {
	var files []bundleHashFile
	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == "." {
			return nil
		}
		if d.IsDir() {
			if shouldSkipDir(path) {
				return fs.SkipDir
			}
			return nil
		}
		if !isNormativeFile(path) {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		files = append(files, bundleHashFile{
			Path:   filepath.ToSlash(path),
			SHA256: sha256Hex(data),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}

func shouldSkipDir(path string) bool {
	base := filepath.Base(path)
	return base == "vendor" || strings.HasPrefix(base, ".")
}

func isNormativeFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if base == "data.json" || base == "manifest.json" {
		return true
	}
	return strings.HasSuffix(base, ".rego")
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
