package oshelper

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"strings"
	"time"
)

// PasteOptions controls retry behavior for the paste keystroke.
type PasteOptions struct {
	Retries int
	Delay   int // milliseconds between attempts
	App     string
}

// PasteResult reports which tool delivered the keystroke and how many
// attempts it took.
type PasteResult struct {
	Success  bool   `json:"success"`
	Platform string `json:"platform"`
	Tool     string `json:"tool,omitempty"`
	Attempts int    `json:"attempts"`
}

// Paste sends an OS-level paste keystroke to the frontmost application.
func Paste(ctx context.Context, opts PasteOptions) (PasteResult, error) {
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Delay <= 0 {
		opts.Delay = 500
	}

	switch runtime.GOOS {
	case "darwin":
		return pasteMac(ctx, opts), nil
	case "linux":
		return pasteLinux(ctx, opts), nil
	case "windows":
		return pasteWindows(ctx, opts), nil
	default:
		return PasteResult{Platform: runtime.GOOS}, fmt.Errorf("oshelper: unsupported platform: %s", runtime.GOOS)
	}
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func pasteMac(ctx context.Context, opts PasteOptions) PasteResult {
	script := "tell application \"System Events\"\n  keystroke \"v\" using command down\nend tell"
	if opts.App != "" {
		script = fmt.Sprintf("tell application \"%s\"\n  activate\nend tell\ndelay 0.3\n%s", escapeAppleScript(opts.App), script)
	}

	for i := 1; i <= opts.Retries; i++ {
		result, err := runCommand(ctx, "osascript", []string{"-e", script}, runOptions{allowNonZeroExit: true})
		if err == nil && result.ExitCode == 0 {
			return PasteResult{Success: true, Platform: "darwin", Tool: "osascript", Attempts: i}
		}
		if msg := strings.TrimSpace(result.Stderr); msg != "" {
			log.Printf("[OSHelper] paste attempt %d/%d failed: %s", i, opts.Retries, msg)
		}
		if i < opts.Retries {
			sleepCtx(ctx, time.Duration(opts.Delay)*time.Millisecond)
		}
	}
	return PasteResult{Platform: "darwin", Tool: "osascript", Attempts: opts.Retries}
}

func pasteLinux(ctx context.Context, opts PasteOptions) PasteResult {
	tools := []struct {
		cmd  string
		args []string
	}{
		{"xdotool", []string{"key", "ctrl+v"}},
		{"ydotool", []string{"key", "29:1", "47:1", "47:0", "29:0"}},
	}

	var lastTool string
	attempts := 0
	for _, tool := range tools {
		if !commandExists(tool.cmd) {
			continue
		}
		lastTool = tool.cmd
		for i := 1; i <= opts.Retries; i++ {
			attempts++
			result, err := runCommand(ctx, tool.cmd, tool.args, runOptions{allowNonZeroExit: true})
			if err == nil && result.ExitCode == 0 {
				return PasteResult{Success: true, Platform: "linux", Tool: tool.cmd, Attempts: attempts}
			}
			if i < opts.Retries {
				log.Printf("[OSHelper] paste attempt %d/%d failed (%s)", i, opts.Retries, tool.cmd)
				sleepCtx(ctx, time.Duration(opts.Delay)*time.Millisecond)
			}
		}
		log.Printf("[OSHelper] %s exhausted %d retries, trying next tool", tool.cmd, opts.Retries)
	}
	return PasteResult{Platform: "linux", Tool: lastTool, Attempts: attempts}
}

func pasteWindows(ctx context.Context, opts PasteOptions) PasteResult {
	script := `Add-Type -AssemblyName System.Windows.Forms; [System.Windows.Forms.SendKeys]::SendWait("^v")`

	for i := 1; i <= opts.Retries; i++ {
		result, err := runCommand(ctx, "powershell.exe", []string{"-NoProfile", "-Command", script}, runOptions{allowNonZeroExit: true})
		if err == nil && result.ExitCode == 0 {
			return PasteResult{Success: true, Platform: "windows", Tool: "powershell", Attempts: i}
		}
		if i < opts.Retries {
			log.Printf("[OSHelper] paste attempt %d/%d failed", i, opts.Retries)
			sleepCtx(ctx, time.Duration(opts.Delay)*time.Millisecond)
		}
	}
	return PasteResult{Platform: "windows", Tool: "powershell", Attempts: opts.Retries}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
