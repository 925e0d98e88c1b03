package vision

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// OCR shells out to the tesseract CLI.
type OCR struct {
	binary string
	psm    int
	logger *slog.Logger
}

func NewOCR(binary string, psm int, logger *slog.Logger) *OCR {
	if binary == "" {
		binary = "tesseract"
	}
	if psm <= 0 {
		psm = 6
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OCR{binary: binary, psm: psm, logger: logger.With("component", "ocr")}
}

// Available reports whether the tesseract binary can be found.
func (o *OCR) Available() error {
	if _, err := exec.LookPath(o.binary); err != nil {
		return fmt.Errorf("ocr: %w", err)
	}
	return nil
}

// ExtractText runs tesseract on path and returns the recognised text, trimmed.
func (o *OCR) ExtractText(ctx context.Context, path string) (string, error) {
	if !IsImage(path) {
		return "", fmt.Errorf("ocr %s: %w", path, ErrNotImage)
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, o.binary, path, "stdout", "--psm", strconv.Itoa(o.psm))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("ocr %s: %w: %s", path, err, msg)
		}
		return "", fmt.Errorf("ocr %s: %w", path, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ExtractTextOrEmpty degrades any OCR failure to empty text and a log line.
func (o *OCR) ExtractTextOrEmpty(ctx context.Context, path string) string {
	text, err := o.ExtractText(ctx, path)
	if err != nil {
		o.logger.Warn("ocr failed", "path", path, "error", err)
		return ""
	}
	return text
}
