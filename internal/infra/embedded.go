package infra

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed pkllib/*.pkl
var pklLib embed.FS

//go:embed example.pkl
var examplePkl []byte

// ExamplePkl returns the starter configuration written by `pklkb init`.
func ExamplePkl() []byte {
	return examplePkl
}

// ExtractPklLib materialises the bundled Pkl library into a temporary
// directory laid out as <root>/karabiner_pkl/lib/*.pkl, the structure
// `modulepath:` imports resolve against. The returned cleanup removes the
// whole temp tree.
func ExtractPklLib() (root string, cleanup func(), err error) {
	tmpDir, err := os.MkdirTemp("", "pklkb-lib-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temporary directory: %w", err)
	}
	cleanup = func() { os.RemoveAll(tmpDir) }

	libDir := filepath.Join(tmpDir, "karabiner_pkl", "lib")
	if err := os.MkdirAll(libDir, 0755); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to create module directory: %w", err)
	}

	entries, err := fs.Glob(pklLib, "pkllib/*.pkl")
	if err != nil {
		cleanup()
		return "", nil, err
	}

	for _, name := range entries {
		content, err := pklLib.ReadFile(name)
		if err != nil {
			cleanup()
			return "", nil, err
		}
		dest := filepath.Join(libDir, filepath.Base(name))
		if err := os.WriteFile(dest, content, 0644); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("failed to write embedded file %s: %w", name, err)
		}
	}

	return tmpDir, cleanup, nil
}

// EmbeddedPklFiles lists the bundled library files (for status display).
func EmbeddedPklFiles() []string {
	entries, err := fs.Glob(pklLib, "pkllib/*.pkl")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, filepath.Base(e))
	}
	return names
}
