package capture

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/mattn/go-shellwords"
)

// helperDevice records through an OS-level helper such as
// termux-microphone-record, invoked as `<command> -o <path> -d <ms>`.
type helperDevice struct {
	cmd        []string
	outputPath string
	duration   time.Duration
	format     Format
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewHelperDevice(cfg config.FallbackConfig, format Format, duration time.Duration) (Device, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse fallback command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("fallback command is empty")
	}
	return &helperDevice{
		cmd:        args,
		outputPath: cfg.OutputPath,
		duration:   duration,
		format:     format,
		runCommand: runCommand,
	}, nil
}

func (h *helperDevice) Name() string { return h.cmd[0] }

func (h *helperDevice) Open(ctx context.Context) (Stream, error) {
	pcm, err := h.Record(ctx, h.duration)
	if err != nil {
		return nil, err
	}
	return newBufferedStream(h.format, pcm), nil
}

func (h *helperDevice) Record(ctx context.Context, d time.Duration) ([]byte, error) {
	args := append([]string{}, h.cmd[1:]...)
	args = append(args, "-o", h.outputPath, "-d", strconv.FormatInt(d.Milliseconds(), 10))

	if output, err := h.runCommand(ctx, h.cmd[0], args...); err != nil {
		if detail := strings.TrimSpace(string(output)); detail != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", h.cmd[0], err, detail)
		}
		return nil, fmt.Errorf("%s failed: %w", h.cmd[0], err)
	}

	pcm, format, err := ReadWAVFile(h.outputPath)
	if err != nil {
		return nil, err
	}
	if err := checkFormat(h.outputPath, format, h.format); err != nil {
		return nil, err
	}
	return pcm, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
