package registry

import (
	"context"
	"fmt"

	"github.com/browserbridge/bridge/internal/oshelper"
	"github.com/browserbridge/bridge/internal/schema"
)

func tabIDProp() schema.Prop {
	return schema.Prop{Type: "integer", Description: "Target tab ID (defaults to active tab)"}
}

// Builtin installs the browser command table. Panics on duplicate names,
// which can only happen through a programming error.
func Builtin(r *Registry) {
	r.MustDefine(Definition{
		Name:            "browser_navigate",
		Description:     "Navigate a browser tab to a URL",
		ExecutorCommand: "navigate",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"url":   {Type: "string", Description: "The URL to navigate to"},
				"tabId": tabIDProp(),
			},
			Required: []string{"url"},
		},
		Annotations: &Annotations{OpenWorld: true},
	})

	r.MustDefine(Definition{
		Name:            "browser_tab_list",
		Description:     "List all open browser tabs with their IDs, URLs, titles, and active state",
		ExecutorCommand: "tab.list",
		Params:          &schema.Object{},
		Annotations:     &Annotations{ReadOnly: true},
	})

	r.MustDefine(Definition{
		Name:            "browser_tab_create",
		Description:     "Create a new browser tab, optionally navigating to a URL",
		ExecutorCommand: "tab.create",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"url": {Type: "string", Description: "URL to open in the new tab"},
			},
		},
	})

	r.MustDefine(Definition{
		Name:            "browser_tab_close",
		Description:     "Close a browser tab by its ID",
		ExecutorCommand: "tab.close",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"tabId": {Type: "integer", Description: "ID of the tab to close"},
			},
			Required: []string{"tabId"},
		},
		Annotations: &Annotations{Destructive: true},
	})

	r.MustDefine(Definition{
		Name:            "browser_click",
		Description:     "Click an element matching a CSS selector",
		ExecutorCommand: "click",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"selector": {Type: "string", Description: "CSS selector of the element to click"},
				"tabId":    tabIDProp(),
			},
			Required: []string{"selector"},
		},
		Annotations: &Annotations{Destructive: true},
	})

	r.MustDefine(Definition{
		Name:            "browser_type",
		Description:     "Type text into an element matching a CSS selector",
		ExecutorCommand: "type",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"selector": {Type: "string", Description: "CSS selector of the input element"},
				"text":     {Type: "string", Description: "Text to type into the element"},
				"tabId":    tabIDProp(),
			},
			Required: []string{"selector", "text"},
		},
		Annotations: &Annotations{Destructive: true},
	})

	r.MustDefine(Definition{
		Name:            "browser_press",
		Description:     "Press a keyboard key, optionally with modifier keys",
		ExecutorCommand: "press",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"key":       {Type: "string", Description: "Key to press (e.g. 'Enter', 'Tab', 'a')"},
				"modifiers": {Type: "array", Description: "Modifier keys: 'shift', 'ctrl', 'alt', 'meta'", Items: &schema.Prop{Type: "string"}},
				"tabId":     tabIDProp(),
			},
			Required: []string{"key"},
		},
		Annotations: &Annotations{Destructive: true},
	})

	r.MustDefine(Definition{
		Name:            "browser_scroll",
		Description:     "Scroll the page to absolute coordinates or scroll an element into view",
		ExecutorCommand: "scroll",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"x":        {Type: "number", Description: "Horizontal scroll position in pixels"},
				"y":        {Type: "number", Description: "Vertical scroll position in pixels"},
				"selector": {Type: "string", Description: "CSS selector of element to scroll into view"},
				"tabId":    tabIDProp(),
			},
		},
	})

	r.MustDefine(Definition{
		Name:            "browser_wait_for_element",
		Description:     "Wait for an element matching a CSS selector to appear in the DOM",
		ExecutorCommand: "wait",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"selector": {Type: "string", Description: "CSS selector to wait for"},
				"timeout":  {Type: "number", Description: "Maximum wait time in milliseconds (default 10000)"},
				"tabId":    tabIDProp(),
			},
			Required: []string{"selector"},
		},
		Annotations: &Annotations{ReadOnly: true},
	})

	r.MustDefine(Definition{
		Name:            "browser_query",
		Description:     "Query elements matching a CSS selector. Returns tag name, text content, and specified attributes for each match.",
		ExecutorCommand: "query",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"selector": {Type: "string", Description: "CSS selector to query"},
				"attrs":    {Type: "array", Description: "Attributes to extract (defaults to id, class, href, src, data-testid)", Items: &schema.Prop{Type: "string"}},
				"tabId":    tabIDProp(),
			},
			Required: []string{"selector"},
		},
		Annotations: &Annotations{ReadOnly: true},
	})

	r.MustDefine(Definition{
		Name:            "browser_query_text",
		Description:     "Get the text content of an element matching a CSS selector",
		ExecutorCommand: "query.text",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"selector": {Type: "string", Description: "CSS selector to query"},
				"tabId":    tabIDProp(),
			},
			Required: []string{"selector"},
		},
		Annotations: &Annotations{ReadOnly: true},
	})

	r.MustDefine(Definition{
		Name:            "browser_screenshot",
		Description:     "Capture a screenshot of the visible area of a tab",
		ExecutorCommand: "screenshot",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"tabId":    tabIDProp(),
				"selector": {Type: "string", Description: "CSS selector of element to capture (currently captures full visible area)"},
			},
		},
		Annotations: &Annotations{ReadOnly: true},
	})

	r.MustDefine(Definition{
		Name:            "browser_cookie_get",
		Description:     "Get cookies for a URL, optionally filtered by name",
		ExecutorCommand: "cookie.get",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"url":  {Type: "string", Description: "URL to get cookies for"},
				"name": {Type: "string", Description: "Cookie name to filter by"},
			},
			Required: []string{"url"},
		},
		Annotations: &Annotations{ReadOnly: true},
	})

	r.MustDefine(Definition{
		Name:            "browser_cookie_set",
		Description:     "Set a cookie",
		ExecutorCommand: "cookie.set",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"cookie": {Type: "object", Description: "Cookie object with url, name, value, and optional fields"},
			},
			Required: []string{"cookie"},
		},
	})

	r.MustDefine(Definition{
		Name:            "browser_evaluate",
		Description:     "Execute a JavaScript expression in the page context. Requires BRIDGE_ENABLE_EVALUATE=true.",
		ExecutorCommand: "evaluate",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"expression": {Type: "string", Description: "JavaScript expression to evaluate"},
				"tabId":      tabIDProp(),
			},
			Required: []string{"expression"},
		},
		Annotations: &Annotations{OpenWorld: true},
	})

	r.MustDefine(Definition{
		Name:            "browser_file_set",
		Description:     "Set files on a file input element using the browser debugger protocol",
		ExecutorCommand: "file.set",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"selector": {Type: "string", Description: "CSS selector of the file input element"},
				"paths":    {Type: "array", Description: "Array of file paths to set", Items: &schema.Prop{Type: "string"}},
				"tabId":    tabIDProp(),
			},
			Required: []string{"selector"},
		},
		Annotations: &Annotations{Destructive: true},
	})

	r.MustDefine(Definition{
		Name:            "browser_clipboard_write",
		Description:     "Write text, HTML, or an image to the clipboard",
		ExecutorCommand: "clipboard.write",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"text":        {Type: "string", Description: "Plain text to write to clipboard"},
				"html":        {Type: "string", Description: "HTML content to write to clipboard"},
				"imageBase64": {Type: "string", Description: "Base64-encoded PNG image to write to clipboard"},
			},
		},
	})

	defineOSCommands(r)
}

// defineOSCommands installs the local-handler commands that run in the
// gateway process itself, with no executor round trip.
func defineOSCommands(r *Registry) {
	r.MustDefine(Definition{
		Name:            "os_clipboard_write",
		Description:     "Copy an image file or HTML content to the system clipboard. Use this before os_paste to paste content into applications that detect synthetic events.",
		ExecutorCommand: "os.clipboard.write",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"imagePath": {Type: "string", Description: "Absolute path to image file (.jpg, .png, .gif, .webp)"},
				"html":      {Type: "string", Description: "HTML content to copy as rich text"},
			},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			imagePath, _ := params["imagePath"].(string)
			html, _ := params["html"].(string)
			switch {
			case imagePath != "":
				if err := oshelper.CopyImageToClipboard(ctx, imagePath); err != nil {
					return nil, err
				}
				return map[string]any{"copied": "image", "path": imagePath}, nil
			case html != "":
				if err := oshelper.CopyHTMLToClipboard(ctx, html); err != nil {
					return nil, err
				}
				return map[string]any{"copied": "html", "length": len(html)}, nil
			default:
				return nil, fmt.Errorf("provide imagePath or html")
			}
		},
		Annotations: &Annotations{Destructive: true},
	})

	r.MustDefine(Definition{
		Name:            "os_paste",
		Description:     "Send a real OS-level paste keystroke (Cmd+V on macOS, Ctrl+V on Linux/Windows). Pastes whatever is on the system clipboard into the frontmost application.",
		ExecutorCommand: "os.paste",
		Params: &schema.Object{
			Props: map[string]schema.Prop{
				"retries": {Type: "integer", Description: "Number of retry attempts (default: 3)", Minimum: schema.Min(1), Maximum: schema.Max(10)},
				"delay":   {Type: "integer", Description: "Delay between retries in ms (default: 500)", Minimum: schema.Min(100), Maximum: schema.Max(5000)},
				"app":     {Type: "string", Description: "macOS only: application name to activate before pasting"},
			},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			opts := oshelper.PasteOptions{}
			if v, ok := params["retries"].(float64); ok {
				opts.Retries = int(v)
			}
			if v, ok := params["delay"].(float64); ok {
				opts.Delay = int(v)
			}
			if v, ok := params["app"].(string); ok {
				opts.App = v
			}
			return oshelper.Paste(ctx, opts)
		},
		Annotations: &Annotations{Destructive: true},
	})
}
