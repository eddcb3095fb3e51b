package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/pklkb/internal/domain"
)

// PklEvaluator implements domain.Evaluator by invoking the pkl CLI.
type PklEvaluator struct {
	pklPath      string
	embeddedRoot string
	userLibDir   string
	logger       *zap.Logger
	cleanup      func()
}

// NewPklEvaluator locates the pkl CLI and extracts the bundled library.
// A missing CLI is a NotFoundError with install instructions.
func NewPklEvaluator(logger *zap.Logger) (*PklEvaluator, error) {
	pklPath, err := exec.LookPath("pkl")
	if err != nil {
		return nil, &domain.NotFoundError{
			What: "pkl CLI",
			Hint: "install from https://pkl-lang.org or via Homebrew: brew install pkl",
		}
	}

	embeddedRoot, cleanup, err := ExtractPklLib()
	if err != nil {
		return nil, err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		cleanup()
		return nil, err
	}

	return &PklEvaluator{
		pklPath:      pklPath,
		embeddedRoot: embeddedRoot,
		userLibDir:   filepath.Join(home, ".config", "karabiner_pkl", "lib"),
		logger:       logger,
		cleanup:      cleanup,
	}, nil
}

// NewPklEvaluatorWithPaths creates an evaluator with explicit paths (for testing).
func NewPklEvaluatorWithPaths(pklPath, embeddedRoot, userLibDir string, logger *zap.Logger) *PklEvaluator {
	return &PklEvaluator{
		pklPath:      pklPath,
		embeddedRoot: embeddedRoot,
		userLibDir:   userLibDir,
		logger:       logger,
	}
}

// Close removes the extracted library files.
func (e *PklEvaluator) Close() error {
	if e.cleanup != nil {
		e.cleanup()
		e.cleanup = nil
	}
	return nil
}

// Evaluate compiles sourcePath into a configuration fragment. Non-zero exit
// is a CompileError carrying the evaluator's diagnostic and a best-effort
// source span; structurally bad output is a ValidationError. The profile
// name override is applied only after validation, so validation always sees
// the evaluator's native output.
func (e *PklEvaluator) Evaluate(ctx context.Context, sourcePath, profileOverride string) (*domain.Document, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, &domain.ReadError{Path: sourcePath, Err: err}
	}

	e.logger.Info("compiling", zap.String("source", sourcePath))

	args := []string{
		"eval", "--format=json",
		"--module-path", strings.Join(e.modulePaths(), ":"),
		sourcePath,
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.pklPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		source, readErr := os.ReadFile(sourcePath)
		if readErr != nil {
			return nil, &domain.ReadError{Path: sourcePath, Err: readErr}
		}

		msg, span := parsePklDiagnostic(stderr.String(), string(source))
		if msg == "" {
			msg = err.Error()
		}
		return nil, &domain.CompileError{
			Message: msg,
			Source:  string(source),
			Span:    span,
		}
	}

	doc, err := decodeFragment(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	if profileOverride != "" {
		if err := doc.Profiles[0].SetName(profileOverride); err != nil {
			return nil, &domain.ValidationError{Message: err.Error()}
		}
	}
	return doc, nil
}

// modulePaths composes the evaluator search roots: the bundled library
// first, then the user library if it exists. Earlier roots win on name
// collisions, so the order is fixed.
func (e *PklEvaluator) modulePaths() []string {
	paths := []string{e.embeddedRoot}
	if e.userLibDir != "" {
		if info, err := os.Stat(e.userLibDir); err == nil && info.IsDir() {
			paths = append(paths, e.userLibDir)
		}
	}
	return paths
}

// decodeFragment unwraps the evaluator's envelope and validates the result.
func decodeFragment(output []byte) (*domain.Document, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(output, &envelope); err != nil {
		return nil, &domain.ValidationError{Message: "evaluator output is not valid JSON: " + err.Error()}
	}

	config, ok := envelope["config"]
	if !ok {
		return nil, &domain.ValidationError{Message: "output must contain a 'config' field"}
	}

	var doc domain.Document
	if err := json.Unmarshal(config, &doc); err != nil {
		return nil, &domain.ValidationError{Message: "configuration must be an object: " + err.Error()}
	}

	if len(doc.Profiles) == 0 {
		return nil, &domain.ValidationError{Message: "configuration must contain at least one profile"}
	}
	return &doc, nil
}

var (
	errorBannerRe   = regexp.MustCompile(`––[^–\n]*Error ––`)
	lineMarkerRe    = regexp.MustCompile(`line (\d+)\)`)
	trailingLocRe   = regexp.MustCompile(`\s*\(line \d+\)\s*$`)
	caretNeedleByte = byte('^')
)

// parsePklDiagnostic extracts the human-readable message and a best-effort
// source span from evaluator stderr. The message is the text after the
// error banner up to the first blank line, with a trailing "(line N)"
// location stripped. The span is computed from the last "line N)" marker
// and the caret column, when present.
func parsePklDiagnostic(stderr, source string) (string, *domain.Span) {
	msg := strings.TrimSpace(stderr)
	if loc := errorBannerRe.FindStringIndex(stderr); loc != nil {
		rest := stderr[loc[1]:]
		if end := strings.Index(rest, "\n\n"); end >= 0 {
			rest = rest[:end]
		}
		msg = strings.TrimSpace(rest)
	}
	msg = trailingLocRe.ReplaceAllString(msg, "")

	return msg, parseErrorSpan(stderr, source)
}

// parseErrorSpan locates the diagnostic within the source text. Fallible by
// design: nil when stderr carries no usable location.
func parseErrorSpan(stderr, source string) *domain.Span {
	matches := lineMarkerRe.FindAllStringSubmatch(stderr, -1)
	if len(matches) == 0 {
		return nil
	}
	lineNum, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil || lineNum < 1 {
		return nil
	}

	// Column from the caret marker line, when the evaluator printed one.
	col := 1
	for _, line := range strings.Split(stderr, "\n") {
		if idx := strings.IndexByte(line, caretNeedleByte); idx >= 0 {
			col = idx + 1
			break
		}
	}

	offset := 0
	for idx, line := range strings.Split(source, "\n") {
		if idx+1 == lineNum {
			offset += col - 1
			return &domain.Span{Offset: offset, Len: 1}
		}
		offset += len(line) + 1
	}
	return nil
}

// Ensure PklEvaluator implements domain.Evaluator.
var _ domain.Evaluator = (*PklEvaluator)(nil)
