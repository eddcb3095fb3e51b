package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/eliteGoblin/pklkb/internal/domain"
)

// Options tweak a single pipeline run.
type Options struct {
	// ProfileName renames the compiled fragment's first profile.
	ProfileName string

	// OutputPath overrides the target document path.
	OutputPath string
}

// Pipeline drives one compile cycle: evaluate the source, merge the
// fragment into the existing target document, write the result atomically.
type Pipeline struct {
	evaluator  domain.Evaluator
	sourcePath string
	outputPath string
	logger     *zap.Logger
}

// NewPipeline creates a pipeline for the given source and target paths.
func NewPipeline(evaluator domain.Evaluator, sourcePath, outputPath string, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		evaluator:  evaluator,
		sourcePath: sourcePath,
		outputPath: outputPath,
		logger:     logger,
	}
}

// SourcePath returns the watched source file path.
func (p *Pipeline) SourcePath() string {
	return p.sourcePath
}

// OutputPath returns the default target document path.
func (p *Pipeline) OutputPath() string {
	return p.outputPath
}

// Run executes one compile-merge-write cycle.
func (p *Pipeline) Run(ctx context.Context, opts Options) error {
	fragment, err := p.evaluator.Evaluate(ctx, p.sourcePath, opts.ProfileName)
	if err != nil {
		return err
	}

	outputPath := p.outputPath
	if opts.OutputPath != "" {
		outputPath = opts.OutputPath
	}

	existing, err := LoadDocument(outputPath)
	if err != nil {
		return err
	}

	merged, err := Merge(existing, fragment)
	if err != nil {
		return err
	}

	if err := writeDocument(outputPath, merged); err != nil {
		return err
	}

	p.logger.Info("wrote configuration",
		zap.String("output", outputPath),
		zap.Int("profiles", len(merged.Profiles)))
	return nil
}

// Check evaluates the source without merging or writing.
func (p *Pipeline) Check(ctx context.Context) error {
	_, err := p.evaluator.Evaluate(ctx, p.sourcePath, "")
	return err
}

// writeDocument persists the document atomically (temp file + rename), so
// the downstream daemon never observes a half-written file.
func writeDocument(path string, doc *domain.Document) error {
	data, err := doc.Encode()
	if err != nil {
		return &domain.WriteError{Path: path, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &domain.WriteError{Path: path, Err: err}
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return &domain.WriteError{Path: tmpPath, Err: err}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return &domain.WriteError{Path: path, Err: err}
	}
	return nil
}
