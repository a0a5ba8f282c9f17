// Package docgen renders markdown into documents in the user's
// storage.
package docgen

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/stewardhq/steward/internal/platform"
	"github.com/stewardhq/steward/internal/tools"
)

// Provider serves the document generation tool. Rendered documents
// land in the user's Documents folder.
type Provider struct {
	logger *slog.Logger
	md     goldmark.Markdown
}

func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		logger: logger,
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

func (p *Provider) CategoryName() string { return "documents" }

// IsAvailable always reports true: rendering is local and the upload
// target is the same storage every user has.
func (p *Provider) IsAvailable(ctx context.Context, pc *platform.Client) bool {
	return true
}

func (p *Provider) Tools(ctx context.Context, pc *platform.Client) ([]*tools.Tool, error) {
	t := &userTools{pc: pc, md: p.md, logger: p.logger}

	return []*tools.Tool{
		{
			Name:        "generate_document",
			Description: "Render markdown content into an HTML document saved in the user's Documents folder.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title": map[string]any{
						"type":        "string",
						"description": "Document title, used as the file name",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Document body in markdown",
					},
				},
				"required": []string{"title", "content"},
			},
			Safety:  tools.SafetyDangerous,
			Handler: t.generateDocument,
		},
	}, nil
}

type userTools struct {
	pc     *platform.Client
	md     goldmark.Markdown
	logger *slog.Logger
}

func (t *userTools) generateDocument(ctx context.Context, args map[string]any) (string, error) {
	title, _ := args["title"].(string)
	content, _ := args["content"].(string)
	if title == "" || content == "" {
		return "", fmt.Errorf("title and content are required")
	}

	html, err := Render(t.md, title, content)
	if err != nil {
		return "", err
	}

	relPath := "Documents/" + SanitizeFileName(title) + ".html"
	if err := t.pc.PutFile(ctx, relPath, html); err != nil {
		return "", fmt.Errorf("upload document: %w", err)
	}

	t.logger.Info("document generated", "user", t.pc.UserID(), "path", relPath)
	return fmt.Sprintf("Document '%s' saved to %s.", title, relPath), nil
}

// Render converts markdown into a standalone HTML page.
func Render(md goldmark.Markdown, title, content string) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(content), &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n", htmlEscape(title))
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

// SanitizeFileName strips characters that are unsafe in file names,
// keeping the result readable.
func SanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|' || r == 0:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "untitled"
	}
	return out
}
