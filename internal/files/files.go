// Package files exposes the user's WebDAV file storage as agent tools.
package files

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-webdav"

	"github.com/stewardhq/steward/internal/platform"
	"github.com/stewardhq/steward/internal/tools"
)

// maxReadBytes caps how much of a file read_file returns. Anything
// larger is truncated with a note rather than flooding the model.
const maxReadBytes = 100 * 1024

// Provider serves file tools backed by the platform's WebDAV storage.
type Provider struct {
	logger *slog.Logger
}

func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{logger: logger}
}

func (p *Provider) CategoryName() string { return "files" }

func davClient(pc *platform.Client) (*webdav.Client, error) {
	return webdav.NewClient(pc.DAVHTTPClient(), pc.BaseURL())
}

func (p *Provider) IsAvailable(ctx context.Context, pc *platform.Client) bool {
	client, err := davClient(pc)
	if err != nil {
		return false
	}
	if _, err := client.Stat(ctx, pc.FilesRoot()); err != nil {
		p.logger.Debug("files probe failed", "user", pc.UserID(), "error", err)
		return false
	}
	return true
}

func (p *Provider) Tools(ctx context.Context, pc *platform.Client) ([]*tools.Tool, error) {
	client, err := davClient(pc)
	if err != nil {
		return nil, fmt.Errorf("webdav client: %w", err)
	}
	t := &userTools{client: client, pc: pc, logger: p.logger}

	return []*tools.Tool{
		{
			Name:        "list_files",
			Description: "List files and folders in a directory of the user's storage.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Directory path relative to the storage root (default: the root)",
					},
				},
			},
			Safety:  tools.SafetySafe,
			Handler: t.listFiles,
		},
		{
			Name:        "read_file",
			Description: "Read a text file from the user's storage. Large files are truncated.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "File path relative to the storage root",
					},
				},
				"required": []string{"path"},
			},
			Safety:  tools.SafetySafe,
			Handler: t.readFile,
		},
	}, nil
}

type userTools struct {
	client *webdav.Client
	pc     *platform.Client
	logger *slog.Logger
}

// resolve joins a user-supplied path onto the storage root, refusing
// attempts to climb out of it.
func (t *userTools) resolve(rel string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(rel))
	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid path %q", rel)
	}
	return strings.TrimSuffix(t.pc.FilesRoot(), "/") + cleaned, nil
}

func (t *userTools) listFiles(ctx context.Context, args map[string]any) (string, error) {
	rel, _ := args["path"].(string)
	target, err := t.resolve(rel)
	if err != nil {
		return "", err
	}

	infos, err := t.client.ReadDir(ctx, target, false)
	if err != nil {
		return "", fmt.Errorf("list %q: %w", rel, err)
	}
	if len(infos) == 0 {
		return "The directory is empty.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d entries:\n", len(infos))
	for _, info := range infos {
		name := path.Base(info.Path)
		if info.IsDir {
			fmt.Fprintf(&b, "- %s/ (folder)\n", name)
		} else {
			fmt.Fprintf(&b, "- %s (%d bytes)\n", name, info.Size)
		}
	}
	return b.String(), nil
}

func (t *userTools) readFile(ctx context.Context, args map[string]any) (string, error) {
	rel, _ := args["path"].(string)
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	target, err := t.resolve(rel)
	if err != nil {
		return "", err
	}

	rc, err := t.client.Open(ctx, target)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", rel, err)
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, maxReadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %q: %w", rel, err)
	}

	truncated := false
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes]
		truncated = true
	}
	if !utf8.Valid(content) {
		return "", fmt.Errorf("%q is not a text file", rel)
	}

	out := string(content)
	if truncated {
		out += "\n[file truncated]"
	}
	return out, nil
}
