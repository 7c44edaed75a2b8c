package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/archivemergeflow/internal/process"
)

// ErrConverterUnavailable is returned when no converter binary is installed.
var ErrConverterUnavailable = errors.New("no headless document converter available")

// Converter drives a headless office suite (soffice/libreoffice) to convert one file
// at a time. Every call gets a private user profile so concurrent conversions do not
// fight over the suite's profile lock.
type Converter struct {
	binaries []string
	logger   *slog.Logger
}

// NewConverter looks for the first of binaries on PATH at each call.
func NewConverter(binaries []string, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{binaries: binaries, logger: logger}
}

// Binary returns the converter that would be used.
func (c *Converter) Binary() (string, error) {
	if len(c.binaries) == 0 {
		return "", ErrConverterUnavailable
	}
	bin, err := process.LookPath(c.binaries...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConverterUnavailable, err)
	}
	return bin, nil
}

// Convert turns src into the given target format ("docx", "pdf") and moves the result
// to dest. It succeeds only when the tool exits zero and the expected, non-empty
// output file exists. A tool running longer than timeout is killed.
func (c *Converter) Convert(ctx context.Context, src, format, dest string, timeout time.Duration) error {
	bin, err := c.Binary()
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp(filepath.Dir(dest), ".convert-*")
	if err != nil {
		return fmt.Errorf("failed to create conversion dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	profile := filepath.Join(tmp, "profile")
	outDir := filepath.Join(tmp, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create conversion dir: %w", err)
	}

	args := []string{
		"--headless",
		"--norestore",
		"--nolockcheck",
		"-env:UserInstallation=file://" + filepath.ToSlash(profile),
		"--convert-to", format,
		"--outdir", outDir,
		src,
	}
	logCtx := c.logger.With("binary", filepath.Base(bin), "source", filepath.Base(src), "format", format)
	logCtx.Debug("Starting external conversion.")

	res, err := process.Run(ctx, process.Command{Binary: bin, Args: args, Dir: tmp, Timeout: timeout})
	if err != nil {
		if res != nil && res.TimedOut {
			logCtx.Warn("External conversion timed out.", "timeout", timeout.String())
			return fmt.Errorf("%s timed out after %s: %w", filepath.Base(bin), timeout, err)
		}
		return fmt.Errorf("%s failed: %w%s", filepath.Base(bin), err, stderrTail(res))
	}

	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	produced := filepath.Join(outDir, stem+"."+format)
	info, err := os.Stat(produced)
	if err != nil {
		return fmt.Errorf("%s exited cleanly but produced no %s output%s", filepath.Base(bin), format, stderrTail(res))
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s produced an empty %s file", filepath.Base(bin), format)
	}
	if err := os.Rename(produced, dest); err != nil {
		return fmt.Errorf("failed to move converted file into place: %w", err)
	}
	logCtx.Debug("External conversion finished.", "duration", res.Duration.String())
	return nil
}

func stderrTail(res *process.Result) string {
	if res == nil {
		return ""
	}
	msg := strings.TrimSpace(string(bytes.ToValidUTF8(res.Stderr, nil)))
	if msg == "" {
		return ""
	}
	if len(msg) > 300 {
		msg = "..." + msg[len(msg)-300:]
	}
	return ": " + msg
}
