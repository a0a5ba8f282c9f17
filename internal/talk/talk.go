// Package talk exposes the platform's chat app as agent tools.
package talk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/stewardhq/steward/internal/platform"
	"github.com/stewardhq/steward/internal/tools"
)

// Provider serves chat tools backed by the platform's conversation
// API.
type Provider struct {
	logger *slog.Logger
}

func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{logger: logger}
}

func (p *Provider) CategoryName() string { return "talk" }

// Conversation is one chat room the user participates in.
type Conversation struct {
	Token       string `json:"token"`
	DisplayName string `json:"displayName"`
	Type        int    `json:"type"`
}

func listConversations(ctx context.Context, pc *platform.Client) ([]Conversation, error) {
	var rooms []Conversation
	err := pc.OCS(ctx, http.MethodGet, "/ocs/v2.php/apps/spreed/api/v4/room", nil, &rooms)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return rooms, nil
}

func (p *Provider) IsAvailable(ctx context.Context, pc *platform.Client) bool {
	if _, err := listConversations(ctx, pc); err != nil {
		p.logger.Debug("talk probe failed", "user", pc.UserID(), "error", err)
		return false
	}
	return true
}

func (p *Provider) Tools(ctx context.Context, pc *platform.Client) ([]*tools.Tool, error) {
	t := &userTools{pc: pc, logger: p.logger}

	return []*tools.Tool{
		{
			Name:        "list_talk_conversations",
			Description: "List the chat conversations the user participates in.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Safety:  tools.SafetySafe,
			Handler: t.listConversations,
		},
		{
			Name:        "send_message_to_conversation",
			Description: "Post a chat message to one of the user's conversations.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"conversation_name": map[string]any{
						"type":        "string",
						"description": "Display name of the target conversation",
					},
					"message": map[string]any{
						"type":        "string",
						"description": "Message text to post",
					},
				},
				"required": []string{"conversation_name", "message"},
			},
			Safety:  tools.SafetyDangerous,
			Handler: t.sendMessage,
		},
		{
			Name:        "create_public_conversation",
			Description: "Create a new public chat conversation.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"room_name": map[string]any{
						"type":        "string",
						"description": "Name of the new conversation",
					},
				},
				"required": []string{"room_name"},
			},
			Safety:  tools.SafetyDangerous,
			Handler: t.createPublicConversation,
		},
	}, nil
}

type userTools struct {
	pc     *platform.Client
	logger *slog.Logger
}

func (t *userTools) listConversations(ctx context.Context, args map[string]any) (string, error) {
	rooms, err := listConversations(ctx, t.pc)
	if err != nil {
		return "", err
	}
	if len(rooms) == 0 {
		return "The user has no conversations.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d conversation(s):\n", len(rooms))
	for _, r := range rooms {
		fmt.Fprintf(&b, "- %s\n", r.DisplayName)
	}
	return b.String(), nil
}

// findConversation resolves a display name to a room, matching
// case-insensitively.
func (t *userTools) findConversation(ctx context.Context, name string) (*Conversation, error) {
	rooms, err := listConversations(ctx, t.pc)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		if strings.EqualFold(rooms[i].DisplayName, name) {
			return &rooms[i], nil
		}
	}
	return nil, fmt.Errorf("no conversation named %q", name)
}

func (t *userTools) sendMessage(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["conversation_name"].(string)
	message, _ := args["message"].(string)
	if name == "" || message == "" {
		return "", fmt.Errorf("conversation_name and message are required")
	}

	room, err := t.findConversation(ctx, name)
	if err != nil {
		return "", err
	}

	err = t.pc.OCS(ctx, http.MethodPost,
		"/ocs/v2.php/apps/spreed/api/v1/chat/"+url.PathEscape(room.Token),
		map[string]any{"message": message}, nil)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	t.logger.Info("chat message posted", "user", t.pc.UserID(), "conversation", room.DisplayName)
	return fmt.Sprintf("Message posted to '%s'.", room.DisplayName), nil
}

func (t *userTools) createPublicConversation(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["room_name"].(string)
	if name == "" {
		return "", fmt.Errorf("room_name is required")
	}

	var room Conversation
	err := t.pc.OCS(ctx, http.MethodPost, "/ocs/v2.php/apps/spreed/api/v4/room", map[string]any{
		"roomType": 3, // public room
		"roomName": name,
	}, &room)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}

	t.logger.Info("conversation created", "user", t.pc.UserID(), "conversation", name)
	return fmt.Sprintf("Public conversation '%s' created.", name), nil
}
