// Package webfetch provides the web_fetch tool: it downloads a page and
// converts its HTML to compact markdown for the model.
package webfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hupe1980/researchmesh/tool"
	"golang.org/x/net/html"
)

// ToolName is the name under which the fetch tool is registered.
const ToolName = "web_fetch"

// DefaultMaxLength is the default content length in characters.
const DefaultMaxLength = 20000

const maxBodyBytes = 2 << 20

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// Page is the observation payload of one web_fetch call.
type Page struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Options configures the web_fetch tool.
type Options struct {
	Client    *http.Client
	UserAgent string
	MaxLength int
}

// New returns the web_fetch tool.
func New(optFns ...func(o *Options)) *tool.FunctionTool {
	opts := Options{
		Client:    &http.Client{Timeout: 30 * time.Second},
		UserAgent: "Mozilla/5.0 (compatible; researchmesh/1.0)",
		MaxLength: DefaultMaxLength,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The absolute http(s) URL to fetch",
			},
			"max_length": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Maximum content length in characters (default: %d)", opts.MaxLength),
			},
		},
		"required": []string{"url"},
	}

	return tool.NewFunctionTool(
		ToolName,
		"Fetch a web page and return its main content as markdown",
		params,
		func(ctx context.Context, args map[string]any) (any, error) {
			return fetch(ctx, opts, args)
		},
	)
}

func fetch(ctx context.Context, opts Options, args map[string]any) (Page, error) {
	url, _ := args["url"].(string)
	url = strings.TrimSpace(url)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return Page{}, tool.NewToolError(ToolName, fmt.Sprintf("invalid url %q", url), tool.CodeValidation)
	}

	maxLength := opts.MaxLength
	if ml, ok := args["max_length"].(float64); ok && ml > 0 {
		maxLength = int(ml)
	}
	if ml, ok := args["max_length"].(int); ok && ml > 0 {
		maxLength = ml
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := opts.Client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, fmt.Errorf("failed to read response: %w", err)
	}

	page := Page{URL: url}
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		page.Content = string(body)
	} else {
		title, markdown, err := HTMLToMarkdown(string(body))
		if err != nil {
			return Page{}, fmt.Errorf("failed to convert to markdown: %w", err)
		}
		page.Title, page.Content = title, markdown
	}

	if r := []rune(page.Content); len(r) > maxLength {
		page.Content = string(r[:maxLength]) + "\n\n[...truncated...]"
		page.Truncated = true
	}
	return page, nil
}

// HTMLToMarkdown converts HTML to a simplified markdown document and returns
// the page title separately.
func HTMLToMarkdown(htmlContent string) (string, string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", "", err
	}

	var (
		sb    strings.Builder
		title string
	)
	extractText(doc, &sb, &title, 0)
	return strings.TrimSpace(title), cleanMarkdown(sb.String()), nil
}

func extractText(n *html.Node, sb *strings.Builder, title *string, depth int) {
	if depth > 100 {
		return
	}

	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header", "form":
			return
		case "title":
			if n.FirstChild != nil && *title == "" {
				*title = n.FirstChild.Data
			}
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n" + strings.Repeat("#", int(n.Data[1]-'0')) + " ")
		case "p", "div", "section", "article", "table":
			sb.WriteString("\n\n")
		case "br", "tr":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "pre":
			sb.WriteString("\n\n```\n")
		case "strong", "b":
			sb.WriteString("**")
		case "em", "i":
			sb.WriteString("*")
		case "a":
			if href := getAttr(n, "href"); href != "" && !strings.HasPrefix(href, "#") {
				sb.WriteString("[")
			}
		case "img":
			if alt := getAttr(n, "alt"); alt != "" {
				sb.WriteString(fmt.Sprintf("[Image: %s]", alt))
			}
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, title, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n")
		case "pre":
			sb.WriteString("\n```\n\n")
		case "strong", "b":
			sb.WriteString("**")
		case "em", "i":
			sb.WriteString("*")
		case "a":
			if href := getAttr(n, "href"); href != "" && !strings.HasPrefix(href, "#") {
				sb.WriteString(fmt.Sprintf("](%s)", href))
			}
		}
	}
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// cleanMarkdown collapses runs of blank lines and spaces and trims every line.
func cleanMarkdown(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
