package oshelper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

var supportedImageExts = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

func imageMimeType(ext string) (string, error) {
	mime, ok := supportedImageExts[strings.ToLower(ext)]
	if !ok {
		if ext == "" {
			ext = "(none)"
		}
		return "", fmt.Errorf("oshelper: unsupported image type %s (supported: .jpg, .jpeg, .png, .gif, .webp)", ext)
	}
	return mime, nil
}

// CopyImageToClipboard places an image file on the system clipboard as
// image data, not as a file path.
func CopyImageToClipboard(ctx context.Context, imagePath string) error {
	if imagePath == "" {
		return fmt.Errorf("oshelper: image path must not be empty")
	}
	abs, err := filepath.Abs(imagePath)
	if err != nil {
		return fmt.Errorf("oshelper: resolve %s: %w", imagePath, err)
	}
	mime, err := imageMimeType(filepath.Ext(abs))
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("oshelper: file not found: %s", abs)
	}

	switch runtime.GOOS {
	case "darwin":
		return copyImageMac(ctx, abs)
	case "linux":
		return copyImageLinux(ctx, abs, mime)
	case "windows":
		return copyImageWindows(ctx, abs)
	default:
		return fmt.Errorf("oshelper: unsupported platform: %s", runtime.GOOS)
	}
}

// CopyHTMLToClipboard places HTML on the clipboard as rich text, with a
// plain-text fallback where the platform supports one.
func CopyHTMLToClipboard(ctx context.Context, html string) error {
	if html == "" {
		return fmt.Errorf("oshelper: html content must not be empty")
	}

	switch runtime.GOOS {
	case "darwin":
		return copyHTMLMac(ctx, html)
	case "linux":
		return copyHTMLLinux(ctx, html)
	case "windows":
		return copyHTMLWindows(ctx, html)
	default:
		return fmt.Errorf("oshelper: unsupported platform: %s", runtime.GOOS)
	}
}

// macOS has no CLI that writes image or rich-text pasteboard types, so a
// short Swift helper is compiled on the fly.
const swiftClipboardSource = `import AppKit
import Foundation

func die(_ message: String, _ code: Int32 = 1) -> Never {
  FileHandle.standardError.write(message.data(using: .utf8)!)
  exit(code)
}

if CommandLine.arguments.count < 3 {
  die("Usage: clipboard.swift <image|html> <path>\n")
}

let mode = CommandLine.arguments[1]
let inputPath = CommandLine.arguments[2]
let pasteboard = NSPasteboard.general
pasteboard.clearContents()

switch mode {
case "image":
  guard let image = NSImage(contentsOfFile: inputPath) else {
    die("Failed to load image: \(inputPath)\n")
  }
  if !pasteboard.writeObjects([image]) {
    die("Failed to write image to clipboard\n")
  }

case "html":
  let url = URL(fileURLWithPath: inputPath)
  let data: Data
  do {
    data = try Data(contentsOf: url)
  } catch {
    die("Failed to read HTML file: \(inputPath)\n")
  }

  _ = pasteboard.setData(data, forType: .html)

  let options: [NSAttributedString.DocumentReadingOptionKey: Any] = [
    .documentType: NSAttributedString.DocumentType.html,
    .characterEncoding: String.Encoding.utf8.rawValue
  ]

  if let attr = try? NSAttributedString(data: data, options: options, documentAttributes: nil) {
    pasteboard.setString(attr.string, forType: .string)
    if let rtf = try? attr.data(
      from: NSRange(location: 0, length: attr.length),
      documentAttributes: [.documentType: NSAttributedString.DocumentType.rtf]
    ) {
      _ = pasteboard.setData(rtf, forType: .rtf)
    }
  } else if let html = String(data: data, encoding: .utf8) {
    pasteboard.setString(html, forType: .string)
  }

default:
  die("Unknown mode: \(mode)\n")
}
`

func withTempDir(prefix string, fn func(dir string) error) error {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return fmt.Errorf("oshelper: create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	return fn(dir)
}

func copyImageMac(ctx context.Context, imagePath string) error {
	return withTempDir("cpb-img-", func(dir string) error {
		swiftPath := filepath.Join(dir, "clipboard.swift")
		if err := os.WriteFile(swiftPath, []byte(swiftClipboardSource), 0o600); err != nil {
			return fmt.Errorf("oshelper: write helper: %w", err)
		}
		_, err := runCommand(ctx, "swift", []string{swiftPath, "image", imagePath}, runOptions{})
		return err
	})
}

func copyHTMLMac(ctx context.Context, html string) error {
	return withTempDir("cpb-html-", func(dir string) error {
		swiftPath := filepath.Join(dir, "clipboard.swift")
		htmlPath := filepath.Join(dir, "input.html")
		if err := os.WriteFile(swiftPath, []byte(swiftClipboardSource), 0o600); err != nil {
			return fmt.Errorf("oshelper: write helper: %w", err)
		}
		if err := os.WriteFile(htmlPath, []byte(html), 0o600); err != nil {
			return fmt.Errorf("oshelper: write html: %w", err)
		}
		_, err := runCommand(ctx, "swift", []string{swiftPath, "html", htmlPath}, runOptions{})
		return err
	})
}

func copyImageLinux(ctx context.Context, imagePath, mime string) error {
	if commandExists("wl-copy") {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("oshelper: read %s: %w", imagePath, err)
		}
		_, err = runCommand(ctx, "wl-copy", []string{"--type", mime}, runOptions{input: data})
		return err
	}
	if commandExists("xclip") {
		_, err := runCommand(ctx, "xclip", []string{"-selection", "clipboard", "-t", mime, "-i", imagePath}, runOptions{})
		return err
	}
	return fmt.Errorf("oshelper: no clipboard tool found, install wl-clipboard (wl-copy) or xclip")
}

func copyHTMLLinux(ctx context.Context, html string) error {
	if commandExists("wl-copy") {
		_, err := runCommand(ctx, "wl-copy", []string{"--type", "text/html"}, runOptions{input: []byte(html)})
		return err
	}
	if commandExists("xclip") {
		return withTempDir("cpb-html-", func(dir string) error {
			htmlPath := filepath.Join(dir, "input.html")
			if err := os.WriteFile(htmlPath, []byte(html), 0o600); err != nil {
				return fmt.Errorf("oshelper: write html: %w", err)
			}
			_, err := runCommand(ctx, "xclip", []string{"-selection", "clipboard", "-t", "text/html", "-i", htmlPath}, runOptions{})
			return err
		})
	}
	return fmt.Errorf("oshelper: no clipboard tool found, install wl-clipboard (wl-copy) or xclip")
}

func copyImageWindows(ctx context.Context, imagePath string) error {
	script := strings.Join([]string{
		"Add-Type -AssemblyName System.Windows.Forms",
		"Add-Type -AssemblyName System.Drawing",
		fmt.Sprintf("$bytes = [System.IO.File]::ReadAllBytes('%s')", psQuote(imagePath)),
		"$ms = New-Object System.IO.MemoryStream(,$bytes)",
		"$obj = New-Object System.Windows.Forms.DataObject",
		`$obj.SetData("PNG", $ms)`,
		"[System.Windows.Forms.Clipboard]::SetDataObject($obj, $true)",
		"$ms.Dispose()",
	}, "; ")
	_, err := runCommand(ctx, "powershell.exe", []string{"-NoProfile", "-Sta", "-Command", script}, runOptions{})
	return err
}

func copyHTMLWindows(ctx context.Context, html string) error {
	return withTempDir("cpb-html-", func(dir string) error {
		htmlPath := filepath.Join(dir, "input.html")
		if err := os.WriteFile(htmlPath, []byte(html), 0o600); err != nil {
			return fmt.Errorf("oshelper: write html: %w", err)
		}
		script := strings.Join([]string{
			"Add-Type -AssemblyName System.Windows.Forms",
			fmt.Sprintf("$html = Get-Content -Raw -LiteralPath '%s'", psQuote(htmlPath)),
			"[System.Windows.Forms.Clipboard]::SetText($html, [System.Windows.Forms.TextDataFormat]::Html)",
		}, "; ")
		_, err := runCommand(ctx, "powershell.exe", []string{"-NoProfile", "-Sta", "-Command", script}, runOptions{})
		return err
	})
}

func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
