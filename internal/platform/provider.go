package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Provider identity for the agent's task type.
const (
	ProviderID       = "steward:agent"
	ProviderName     = "Steward Agent Provider"
	ProviderTaskType = "core:contextagent:interaction"
)

// ShapeDescriptor declares one optional output field of the task type.
type ShapeDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ShapeType   string `json:"shape_type"`
}

// ProviderRegistration describes this app as a task-processing provider.
type ProviderRegistration struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	TaskType            string            `json:"task_type"`
	ExpectedRuntime     int               `json:"expected_runtime"`
	OptionalOutputShape []ShapeDescriptor `json:"optional_output_shape,omitempty"`
}

// DefaultProvider returns the registration payload for the agent.
func DefaultProvider() ProviderRegistration {
	return ProviderRegistration{
		ID:              ProviderID,
		Name:            ProviderName,
		TaskType:        ProviderTaskType,
		ExpectedRuntime: 60,
		OptionalOutputShape: []ShapeDescriptor{
			{
				Name:        "sources",
				Description: "Used tools",
				ShapeType:   "ListOfTexts",
			},
		},
	}
}

// RegisterProvider announces the provider to the platform. Called from
// the enabled handler each time the app is enabled.
func (c *Client) RegisterProvider(ctx context.Context, p ProviderRegistration) error {
	err := c.OCS(ctx, http.MethodPost, "/ocs/v2.php/apps/app_api/api/v1/ai_provider/task_processing", p, nil)
	if err != nil {
		return fmt.Errorf("register provider %s: %w", p.ID, err)
	}
	return nil
}

// UnregisterProvider withdraws the provider when the app is disabled.
func (c *Client) UnregisterProvider(ctx context.Context, providerID string) error {
	err := c.OCS(ctx, http.MethodDelete, "/ocs/v2.php/apps/app_api/api/v1/ai_provider/task_processing", map[string]string{
		"name": providerID,
	}, nil)
	if err != nil {
		return fmt.Errorf("unregister provider %s: %w", providerID, err)
	}
	return nil
}

// SettingsField is one input in an admin settings form.
type SettingsField struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Type        string         `json:"type"`
	Default     any            `json:"default,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`
	Options     map[string]any `json:"options,omitempty"`
}

// SettingsForm is a declarative admin settings section.
type SettingsForm struct {
	ID          string          `json:"id"`
	SectionType string          `json:"section_type"`
	SectionID   string          `json:"section_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Fields      []SettingsField `json:"fields"`
}

// ToolSettingsForm builds the admin form with a checkbox per tool
// category. categories maps category keys to display names.
func ToolSettingsForm(categories map[string]string) SettingsForm {
	defaults := make(map[string]any, len(categories))
	options := make(map[string]any, len(categories))
	for key, label := range categories {
		defaults[key] = true
		options[label] = key
	}

	return SettingsForm{
		ID:          "settings_steward",
		SectionType: "admin",
		SectionID:   "ai",
		Title:       "Steward",
		Description: "Configure which tool categories the assistant agent may use.",
		Fields: []SettingsField{
			{
				ID:      "tool_status",
				Title:   "Activate all tools that Steward should use",
				Type:    "multi-checkbox",
				Default: defaults,
				Options: options,
			},
		},
	}
}

// RegisterSettingsForm publishes the admin settings form.
func (c *Client) RegisterSettingsForm(ctx context.Context, form SettingsForm) error {
	err := c.OCS(ctx, http.MethodPost, "/ocs/v1.php/apps/app_api/api/v1/ui/settings", map[string]any{
		"formScheme": form,
	}, nil)
	if err != nil {
		return fmt.Errorf("register settings form: %w", err)
	}
	return nil
}

// ReportInitProgress tells the platform how far app initialization has
// come. 100 marks the app ready.
func (c *Client) ReportInitProgress(ctx context.Context, progress int) error {
	err := c.OCS(ctx, http.MethodPut, "/ocs/v1.php/apps/app_api/apps/status/"+c.appID, map[string]any{
		"progress": progress,
	}, nil)
	if err != nil {
		return fmt.Errorf("report init progress: %w", err)
	}
	return nil
}

// AppConfigValue reads one app configuration key. Missing keys return
// the provided default.
func (c *Client) AppConfigValue(ctx context.Context, key, defaultValue string) (string, error) {
	var out struct {
		ConfigKey   string `json:"configkey"`
		ConfigValue string `json:"configvalue"`
	}

	err := c.OCS(ctx, http.MethodPost, "/ocs/v1.php/apps/app_api/api/v1/ex-app/config/get-values", map[string]any{
		"configKeys": []string{key},
	}, &out)
	if err != nil {
		if IsNotFound(err) {
			return defaultValue, nil
		}
		return "", fmt.Errorf("get app config %q: %w", key, err)
	}
	if out.ConfigValue == "" {
		return defaultValue, nil
	}
	return out.ConfigValue, nil
}

// SetAppConfigValue writes one app configuration key.
func (c *Client) SetAppConfigValue(ctx context.Context, key, value string) error {
	err := c.OCS(ctx, http.MethodPost, "/ocs/v1.php/apps/app_api/api/v1/ex-app/config", map[string]any{
		"configKey":   key,
		"configValue": value,
	}, nil)
	if err != nil {
		return fmt.Errorf("set app config %q: %w", key, err)
	}
	return nil
}

// ToolStatus reads the admin tool-category toggles as a map from
// category key to enabled flag. An unset or unparsable value yields an
// empty map (all categories implicitly enabled).
func (c *Client) ToolStatus(ctx context.Context) (map[string]bool, error) {
	raw, err := c.AppConfigValue(ctx, "tool_status", "{}")
	if err != nil {
		return nil, err
	}

	status := make(map[string]bool)
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		c.logger.Warn("tool_status config is not valid JSON, treating all categories as enabled", "error", err)
		return map[string]bool{}, nil
	}
	return status, nil
}

// SeedToolStatus makes sure every known category has an entry in the
// stored tool_status map, defaulting newly added categories to enabled.
func (c *Client) SeedToolStatus(ctx context.Context, categories []string) error {
	status, err := c.ToolStatus(ctx)
	if err != nil {
		return err
	}

	changed := false
	for _, key := range categories {
		if _, ok := status[key]; !ok {
			status[key] = true
			changed = true
		}
	}
	if !changed {
		return nil
	}

	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal tool_status: %w", err)
	}
	return c.SetAppConfigValue(ctx, "tool_status", string(raw))
}
