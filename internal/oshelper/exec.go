// Package oshelper copies content to the system clipboard and sends
// paste keystrokes by shelling out to the platform's native tooling.
package oshelper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const commandTimeout = 15 * time.Second

// RunResult captures the output of a helper process.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type runOptions struct {
	input            []byte
	timeout          time.Duration
	allowNonZeroExit bool
}

func runCommand(ctx context.Context, name string, args []string, opts runOptions) (RunResult, error) {
	timeout := opts.timeout
	if timeout == 0 {
		timeout = commandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	if opts.input != nil {
		cmd.Stdin = bytes.NewReader(opts.input)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := RunResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			if opts.allowNonZeroExit {
				return result, nil
			}
			details := strings.TrimSpace(result.Stderr)
			if details == "" {
				details = strings.TrimSpace(result.Stdout)
			}
			if details != "" {
				return result, fmt.Errorf("oshelper: %s exited %d: %s", name, result.ExitCode, details)
			}
			return result, fmt.Errorf("oshelper: %s exited %d", name, result.ExitCode)
		}
		return result, fmt.Errorf("oshelper: run %s: %w", name, err)
	}
	return result, nil
}

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
