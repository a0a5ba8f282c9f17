// Package contacts exposes the user's CardDAV address books as agent
// tools.
package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav/carddav"

	"github.com/stewardhq/steward/internal/platform"
	"github.com/stewardhq/steward/internal/tools"
)

// Provider serves contact lookup tools backed by the platform's
// CardDAV endpoint and provisioning API.
type Provider struct {
	logger *slog.Logger
}

func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{logger: logger}
}

func (p *Provider) CategoryName() string { return "contacts" }

func (p *Provider) IsAvailable(ctx context.Context, pc *platform.Client) bool {
	client, err := carddav.NewClient(pc.DAVHTTPClient(), pc.BaseURL())
	if err != nil {
		return false
	}
	if _, err := client.FindAddressBooks(ctx, pc.AddressBookHomeSet()); err != nil {
		p.logger.Debug("contacts probe failed", "user", pc.UserID(), "error", err)
		return false
	}
	return true
}

func (p *Provider) Tools(ctx context.Context, pc *platform.Client) ([]*tools.Tool, error) {
	client, err := carddav.NewClient(pc.DAVHTTPClient(), pc.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("carddav client: %w", err)
	}
	t := &userTools{client: client, pc: pc, logger: p.logger}

	return []*tools.Tool{
		{
			Name:        "find_person_in_contacts",
			Description: "Search the user's address books for a person by name and return their contact details.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "Full or partial name of the person",
					},
				},
				"required": []string{"name"},
			},
			Safety:  tools.SafetySafe,
			Handler: t.findPerson,
		},
		{
			Name:        "find_details_of_current_user",
			Description: "Return the profile details of the user you are assisting: display name, email address and language.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Safety:  tools.SafetySafe,
			Handler: t.currentUser,
		},
	}, nil
}

type userTools struct {
	client *carddav.Client
	pc     *platform.Client
	logger *slog.Logger
}

func (t *userTools) findPerson(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return "", fmt.Errorf("name is required")
	}

	books, err := t.client.FindAddressBooks(ctx, t.pc.AddressBookHomeSet())
	if err != nil {
		return "", fmt.Errorf("find address books: %w", err)
	}

	query := &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{AllProp: true},
		PropFilters: []carddav.PropFilter{{
			Name: vcard.FieldFormattedName,
			TextMatches: []carddav.TextMatch{{
				Text:      name,
				MatchType: carddav.MatchContains,
			}},
		}},
	}

	var cards []vcard.Card
	for _, book := range books {
		objects, err := t.client.QueryAddressBook(ctx, book.Path, query)
		if err != nil {
			return "", fmt.Errorf("query address book %q: %w", book.Name, err)
		}
		for _, obj := range objects {
			cards = append(cards, obj.Card)
		}
	}

	if len(cards) == 0 {
		return fmt.Sprintf("No contact matching '%s' was found.", name), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d contact(s) matching '%s':\n", len(cards), name)
	for _, card := range cards {
		b.WriteString(formatCard(card))
	}
	return b.String(), nil
}

// formatCard renders the fields of one contact the model can use.
func formatCard(card vcard.Card) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s\n", card.PreferredValue(vcard.FieldFormattedName))
	for _, email := range card.Values(vcard.FieldEmail) {
		fmt.Fprintf(&b, "  email: %s\n", email)
	}
	for _, tel := range card.Values(vcard.FieldTelephone) {
		fmt.Fprintf(&b, "  phone: %s\n", tel)
	}
	if org := card.PreferredValue(vcard.FieldOrganization); org != "" {
		fmt.Fprintf(&b, "  organization: %s\n", org)
	}
	if bday := card.PreferredValue(vcard.FieldBirthday); bday != "" {
		fmt.Fprintf(&b, "  birthday: %s\n", bday)
	}
	if adr := card.PreferredValue(vcard.FieldAddress); adr != "" {
		fmt.Fprintf(&b, "  address: %s\n", adr)
	}
	return b.String()
}

// userProfile is the subset of the provisioning API's user record the
// agent reports.
type userProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayname"`
	Email       string `json:"email"`
	Language    string `json:"language"`
}

func (t *userTools) currentUser(ctx context.Context, args map[string]any) (string, error) {
	var profile userProfile
	err := t.pc.OCS(ctx, http.MethodGet, "/ocs/v2.php/cloud/user", nil, &profile)
	if err != nil {
		return "", fmt.Errorf("fetch user profile: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "User id: %s\n", profile.ID)
	fmt.Fprintf(&b, "Display name: %s\n", profile.DisplayName)
	if profile.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", profile.Email)
	}
	if profile.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", profile.Language)
	}
	return b.String(), nil
}
