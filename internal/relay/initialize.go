package relay

import (
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/mattn/go-shellwords"
)

// Initialize checks that the configured recognizer backend and input files
// exist. It returns a *ConfigurationError naming the missing path.
func Initialize(cfg config.Config) error {
	switch cfg.Recognizer.Mode {
	case "whisper-exec":
		args, err := shellwords.NewParser().Parse(cfg.Recognizer.Command)
		if err != nil {
			return &ConfigurationError{Reason: "Invalid recognizer command", Path: cfg.Recognizer.Command, Err: err}
		}
		if len(args) == 0 {
			return &ConfigurationError{Reason: "Recognizer command is empty"}
		}
		if err := checkBinary(args[0]); err != nil {
			return &ConfigurationError{Reason: "Recognizer binary not found", Path: args[0], Err: err}
		}
		if cfg.Recognizer.ModelPath != "" {
			if err := checkPath(cfg.Recognizer.ModelPath); err != nil {
				return &ConfigurationError{Reason: "Model not found", Path: cfg.Recognizer.ModelPath, Err: err}
			}
		}
	case "vosk":
		if err := checkPath(cfg.Recognizer.ModelPath); err != nil {
			return &ConfigurationError{Reason: "Model not found", Path: cfg.Recognizer.ModelPath, Err: err}
		}
	}
	if cfg.Capture.Backend == "wav" {
		if err := checkPath(cfg.Capture.InputFile); err != nil {
			return &ConfigurationError{Reason: "Input file not found", Path: cfg.Capture.InputFile, Err: err}
		}
	}
	return nil
}

func checkPath(path string) error {
	if path == "" {
		return os.ErrNotExist
	}
	_, err := os.Stat(path)
	return err
}

func checkBinary(name string) error {
	if !strings.ContainsRune(name, os.PathSeparator) {
		_, err := exec.LookPath(name)
		if errors.Is(err, exec.ErrNotFound) {
			return os.ErrNotExist
		}
		return err
	}
	info, err := os.Stat(name)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.New("is a directory")
	}
	return nil
}
