package infra

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/pklkb/internal/domain"
)

const downloadTimeout = 30 * time.Second

// Importer copies Pkl modules into the user library directory so the
// evaluator can resolve them through modulepath: imports. Sources are local
// files or http(s) URLs.
type Importer struct {
	libDir string
	client *http.Client
	logger *zap.Logger
}

// NewImporter creates an importer targeting the user library directory.
func NewImporter(logger *zap.Logger) (*Importer, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewImporterWithDir(filepath.Join(home, ".config", "karabiner_pkl", "lib"), logger)
}

// NewImporterWithDir creates an importer with a specific library directory (for testing).
func NewImporterWithDir(libDir string, logger *zap.Logger) (*Importer, error) {
	if err := os.MkdirAll(libDir, 0755); err != nil {
		return nil, &domain.WriteError{Path: libDir, Err: err}
	}
	return &Importer{
		libDir: libDir,
		client: &http.Client{},
		logger: logger,
	}, nil
}

// LibDir returns the library directory path.
func (im *Importer) LibDir() string {
	return im.libDir
}

// Import copies source into the library under name (defaulting to the
// source's file name). Imported files must carry the .pkl extension.
func (im *Importer) Import(ctx context.Context, source, name string) error {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return im.importFromURL(ctx, source, name)
	}
	return im.importFromFile(source, name)
}

func (im *Importer) importFromURL(ctx context.Context, url, name string) error {
	im.logger.Info("importing from URL", zap.String("url", url))

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "pklkb")

	resp, err := im.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download file: HTTP %d", resp.StatusCode)
	}

	if name == "" {
		parts := strings.Split(strings.TrimSuffix(url, "/"), "/")
		name = parts[len(parts)-1]
	}
	if err := validatePklName(name); err != nil {
		return err
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	target := filepath.Join(im.libDir, name)
	im.warnOnOverwrite(target, name)

	if err := os.WriteFile(target, content, 0644); err != nil {
		return &domain.WriteError{Path: target, Err: err}
	}

	im.logger.Info("imported", zap.String("source", url), zap.String("target", target))
	return nil
}

func (im *Importer) importFromFile(path, name string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return &domain.ReadError{Path: path, Err: err}
	}

	if name == "" {
		name = filepath.Base(path)
	}
	if err := validatePklName(name); err != nil {
		return err
	}

	target := filepath.Join(im.libDir, name)
	im.warnOnOverwrite(target, name)

	if err := os.WriteFile(target, content, 0644); err != nil {
		return &domain.WriteError{Path: target, Err: err}
	}

	im.logger.Info("imported", zap.String("source", path), zap.String("target", target))
	return nil
}

// List returns the sorted names of imported .pkl files.
func (im *Importer) List() ([]string, error) {
	entries, err := os.ReadDir(im.libDir)
	if err != nil {
		return nil, &domain.ReadError{Path: im.libDir, Err: err}
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".pkl") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func (im *Importer) warnOnOverwrite(target, name string) {
	if Exists(target) {
		im.logger.Warn("file already exists in lib directory, overwriting",
			zap.String("name", name))
	}
}

func validatePklName(name string) error {
	if !strings.HasSuffix(name, ".pkl") {
		return &domain.ValidationError{Message: "imported files must have .pkl extension"}
	}
	return nil
}
