// Package mail exposes the platform's mail app as agent tools.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stewardhq/steward/internal/platform"
	"github.com/stewardhq/steward/internal/tools"
)

// footer is appended to every outgoing message so recipients can tell
// the mail was machine-written.
const footer = "\n\n--\nThis message was sent by an AI assistant on behalf of %s."

// Provider serves mail tools backed by the platform's mail app API.
type Provider struct {
	logger *slog.Logger
}

func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{logger: logger}
}

func (p *Provider) CategoryName() string { return "mail" }

// Account is one configured mail account of the user.
type Account struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func listAccounts(ctx context.Context, pc *platform.Client) ([]Account, error) {
	var accounts []Account
	err := pc.OCS(ctx, http.MethodGet, "/ocs/v2.php/apps/mail/api/accounts", nil, &accounts)
	if err != nil {
		return nil, fmt.Errorf("list mail accounts: %w", err)
	}
	return accounts, nil
}

// IsAvailable reports whether the user has at least one mail account.
func (p *Provider) IsAvailable(ctx context.Context, pc *platform.Client) bool {
	accounts, err := listAccounts(ctx, pc)
	if err != nil {
		p.logger.Debug("mail probe failed", "user", pc.UserID(), "error", err)
		return false
	}
	return len(accounts) > 0
}

func (p *Provider) Tools(ctx context.Context, pc *platform.Client) ([]*tools.Tool, error) {
	t := &userTools{pc: pc, logger: p.logger}

	return []*tools.Tool{
		{
			Name:        "get_mail_account_list",
			Description: "List the user's mail accounts with their ids and addresses. Use this before sending mail.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Safety:  tools.SafetySafe,
			Handler: t.accountList,
		},
		{
			Name:        "send_email",
			Description: "Send an email from one of the user's mail accounts.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"account_id": map[string]any{
						"type":        "integer",
						"description": "Sending account id from get_mail_account_list",
					},
					"to": map[string]any{
						"type":        "string",
						"description": "Recipient email address",
					},
					"cc": map[string]any{
						"type":        "string",
						"description": "Optional CC address",
					},
					"subject": map[string]any{
						"type":        "string",
						"description": "Message subject",
					},
					"body": map[string]any{
						"type":        "string",
						"description": "Plain text message body",
					},
				},
				"required": []string{"account_id", "to", "subject", "body"},
			},
			Safety:  tools.SafetyDangerous,
			Handler: t.sendEmail,
		},
	}, nil
}

type userTools struct {
	pc     *platform.Client
	logger *slog.Logger
}

func (t *userTools) accountList(ctx context.Context, args map[string]any) (string, error) {
	accounts, err := listAccounts(ctx, t.pc)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "The user has no mail accounts configured.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d mail account(s):\n", len(accounts))
	for _, a := range accounts {
		fmt.Fprintf(&b, "- id %d: %s <%s>\n", a.ID, a.Name, a.Email)
	}
	return b.String(), nil
}

func (t *userTools) sendEmail(ctx context.Context, args map[string]any) (string, error) {
	accountID, ok := args["account_id"].(float64)
	if !ok {
		return "", fmt.Errorf("account_id is required")
	}
	to, _ := args["to"].(string)
	subject, _ := args["subject"].(string)
	body, _ := args["body"].(string)
	if to == "" || subject == "" || body == "" {
		return "", fmt.Errorf("to, subject and body are required")
	}

	payload := map[string]any{
		"accountId": int64(accountID),
		"to":        to,
		"subject":   subject,
		"body":      body + fmt.Sprintf(footer, t.pc.UserID()),
	}
	if cc, _ := args["cc"].(string); cc != "" {
		payload["cc"] = cc
	}

	err := t.pc.OCS(ctx, http.MethodPost, "/ocs/v2.php/apps/mail/api/messages/send", payload, nil)
	if err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}

	t.logger.Info("email sent", "user", t.pc.UserID(), "to", to, "subject", subject)
	return fmt.Sprintf("Email '%s' sent to %s.", subject, to), nil
}
