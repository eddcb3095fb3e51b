// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"fmt"
	"os"
	"path/filepath"
)

// FakePkl writes an executable shell script that stands in for the pkl CLI
// during integration tests. The script ignores its arguments and emits the
// configured output.
type FakePkl struct {
	Dir string
}

// NewFakePkl creates a fake pkl generator rooted at dir.
func NewFakePkl(dir string) *FakePkl {
	return &FakePkl{Dir: dir}
}

// Path returns the location the fake binary is written to.
func (f *FakePkl) Path() string {
	return filepath.Join(f.Dir, "pkl")
}

// Succeed installs a fake pkl that prints the given JSON on stdout and
// exits zero.
func (f *FakePkl) Succeed(jsonOutput string) error {
	script := fmt.Sprintf("#!/bin/sh\ncat <<'EOF'\n%s\nEOF\n", jsonOutput)
	return os.WriteFile(f.Path(), []byte(script), 0755)
}

// Fail installs a fake pkl that prints the given diagnostic on stderr and
// exits non-zero.
func (f *FakePkl) Fail(stderr string) error {
	script := fmt.Sprintf("#!/bin/sh\ncat >&2 <<'EOF'\n%s\nEOF\nexit 1\n", stderr)
	return os.WriteFile(f.Path(), []byte(script), 0755)
}
