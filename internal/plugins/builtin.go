package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/browserbridge/bridge/internal/schema"
)

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Builtin returns the plugins compiled into the gateway.
func Builtin() []*Plugin {
	return []*Plugin{xPost(), wechatPost()}
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func xPost() *Plugin {
	return &Plugin{
		Name:    "x",
		Version: "0.1.0",
		Commands: map[string]Command{
			"post": {
				Description: "Post a tweet to X/Twitter",
				Params: &schema.Object{
					Props: map[string]schema.Prop{
						"text":   {Type: "string", Description: "Tweet text"},
						"images": {Type: "array", Description: "Absolute paths of images to attach", Items: &schema.Prop{Type: "string"}},
					},
					Required: []string{"text"},
				},
				Execute: func(ctx context.Context, params map[string]any, ec ExecutionContext) (any, error) {
					text, _ := params["text"].(string)
					if text == "" {
						return nil, fmt.Errorf("missing 'text' parameter")
					}

					steps := []struct {
						command string
						params  map[string]any
					}{
						{"navigate", map[string]any{"url": "https://x.com/compose/post"}},
						{"wait", map[string]any{"selector": "[data-testid='tweetTextarea_0']", "timeout": 10000}},
					}
					for _, step := range steps {
						if _, err := ec.Send(ctx, step.command, step.params); err != nil {
							return nil, err
						}
					}
					if err := pause(ctx, 500*time.Millisecond); err != nil {
						return nil, err
					}

					if _, err := ec.Send(ctx, "click", map[string]any{"selector": "[data-testid='tweetTextarea_0']"}); err != nil {
						return nil, err
					}
					if _, err := ec.Send(ctx, "type", map[string]any{"selector": "[data-testid='tweetTextarea_0']", "text": text}); err != nil {
						return nil, err
					}

					if images, ok := params["images"].([]any); ok && len(images) > 0 {
						_, err := ec.Send(ctx, "file.set", map[string]any{
							"selector": "input[type='file'][accept*='image']",
							"paths":    images,
						})
						if err != nil {
							return nil, err
						}
						if err := pause(ctx, 2*time.Second); err != nil {
							return nil, err
						}
					}

					if err := pause(ctx, time.Second); err != nil {
						return nil, err
					}
					if _, err := ec.Send(ctx, "click", map[string]any{"selector": "[data-testid='tweetButton']"}); err != nil {
						return nil, err
					}
					if err := pause(ctx, 2*time.Second); err != nil {
						return nil, err
					}

					preview := text
					if len(preview) > 50 {
						preview = preview[:50]
					}
					ec.Log(fmt.Sprintf("Posted tweet: %s...", preview))
					return map[string]any{"success": true}, nil
				},
			},
		},
	}
}

func wechatPost() *Plugin {
	return &Plugin{
		Name:    "wechat",
		Version: "0.1.0",
		Commands: map[string]Command{
			"post": {
				Description: "Post an article to WeChat Official Account",
				Params: &schema.Object{
					Props: map[string]schema.Prop{
						"title":      {Type: "string", Description: "Article title"},
						"html":       {Type: "string", Description: "Article body as HTML"},
						"coverImage": {Type: "string", Description: "Absolute path of the cover image"},
					},
					Required: []string{"title", "html"},
				},
				Execute: func(ctx context.Context, params map[string]any, ec ExecutionContext) (any, error) {
					title, _ := params["title"].(string)
					html, _ := params["html"].(string)
					if title == "" || html == "" {
						return nil, fmt.Errorf("missing 'title' or 'html'")
					}

					if _, err := ec.Send(ctx, "navigate", map[string]any{"url": "https://mp.weixin.qq.com/"}); err != nil {
						return nil, err
					}
					if _, err := ec.Send(ctx, "wait", map[string]any{"selector": ".weui-desktop-account__nickname", "timeout": 15000}); err != nil {
						return nil, err
					}

					if _, err := ec.Send(ctx, "navigate", map[string]any{"url": "https://mp.weixin.qq.com/cgi-bin/appmsg?action=edit&type=77"}); err != nil {
						return nil, err
					}
					if _, err := ec.Send(ctx, "wait", map[string]any{"selector": "#title", "timeout": 10000}); err != nil {
						return nil, err
					}
					if err := pause(ctx, time.Second); err != nil {
						return nil, err
					}

					if _, err := ec.Send(ctx, "click", map[string]any{"selector": "#title"}); err != nil {
						return nil, err
					}
					if _, err := ec.Send(ctx, "type", map[string]any{"selector": "#title", "text": title}); err != nil {
						return nil, err
					}

					expression := fmt.Sprintf(`
            const editor = document.querySelector('#edui1_contentplaceholder');
            if (editor) {
              editor.innerHTML = %s;
              editor.dispatchEvent(new Event('input', { bubbles: true }));
            }
          `, jsonString(html))
					if _, err := ec.Send(ctx, "evaluate", map[string]any{"expression": expression}); err != nil {
						return nil, err
					}

					if err := pause(ctx, time.Second); err != nil {
						return nil, err
					}
					ec.Log(fmt.Sprintf("Drafted WeChat article: %s", title))
					return map[string]any{"success": true, "message": "Article drafted. Review and publish manually."}, nil
				},
			},
		},
	}
}
