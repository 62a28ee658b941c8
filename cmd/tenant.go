package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/joescharf/prboard/internal/models"
	"github.com/joescharf/prboard/internal/output"
	"github.com/joescharf/prboard/internal/store"
)

var (
	tenantAppID        string
	tenantSecret       string
	tenantAnthropicKey string
	tenantShowSecrets  bool
)

var tenantCmd = &cobra.Command{
	Use:     "tenant",
	Aliases: []string{"tenants"},
	Short:   "Manage API tenants allowed to ingest reviews",
}

var tenantAddCmd = &cobra.Command{
	Use:   "add <slug>",
	Short: "Register a tenant and print its credentials",
	Long: `Register a tenant. The app id and secret are generated unless given with
--app-id and --secret. The Anthropic API key is read from --anthropic-key or
ANTHROPIC_API_KEY.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tenantAddRun(args[0])
	},
}

var tenantListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tenantListRun()
	},
}

var tenantRemoveCmd = &cobra.Command{
	Use:     "remove <app-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a tenant. Its stored reports are kept.",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tenantRemoveRun(args[0])
	},
}

func init() {
	tenantAddCmd.Flags().StringVar(&tenantAppID, "app-id", "", "App id (default generated)")
	tenantAddCmd.Flags().StringVar(&tenantSecret, "secret", "", "App secret (default generated)")
	tenantAddCmd.Flags().StringVar(&tenantAnthropicKey, "anthropic-key", "", "Anthropic API key used for this tenant's extractions")
	tenantListCmd.Flags().BoolVar(&tenantShowSecrets, "show-secrets", false, "Print secrets and API keys unmasked")

	tenantCmd.AddCommand(tenantAddCmd)
	tenantCmd.AddCommand(tenantListCmd)
	tenantCmd.AddCommand(tenantRemoveCmd)
	rootCmd.AddCommand(tenantCmd)
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func tenantAddRun(slug string) error {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return errors.New("tenant slug must not be empty")
	}

	t := &models.Tenant{
		AppID:           tenantAppID,
		Secret:          tenantSecret,
		AnthropicAPIKey: tenantAnthropicKey,
		Slug:            models.TenantSlug(slug),
	}
	if t.AnthropicAPIKey == "" {
		t.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if t.AnthropicAPIKey == "" {
		return errors.New("an Anthropic API key is required (--anthropic-key or ANTHROPIC_API_KEY)")
	}
	if t.AppID == "" {
		t.AppID = strings.ToLower(ulid.Make().String())
	}
	if t.Secret == "" {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		t.Secret = secret
	}

	if ui.DryRun {
		ui.DryRunMsg("Would register tenant %s with app id %s", slug, t.AppID)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.CreateTenant(commandContext(), t); err != nil {
		return err
	}

	ui.Success("Registered tenant %s", output.Cyan(slug))
	fmt.Fprintf(ui.Out, "  App ID:     %s\n", t.AppID)
	fmt.Fprintf(ui.Out, "  App secret: %s\n", t.Secret)
	ui.Info("Store the secret now; list output masks it.")
	return nil
}

func tenantListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	tenants, err := s.ListTenants(commandContext())
	if err != nil {
		return err
	}
	if len(tenants) == 0 {
		ui.Info("No tenants registered. Use 'prboard tenant add <slug>' to add one.")
		return nil
	}

	table := ui.Table([]string{"Slug", "App ID", "Secret", "Anthropic Key", "Created"})
	for _, t := range tenants {
		secret, key := t.Secret, t.AnthropicAPIKey
		if !tenantShowSecrets {
			secret, key = maskSecret(secret), maskSecret(key)
		}
		table.Append([]string{
			output.Cyan(string(t.Slug)),
			t.AppID,
			secret,
			key,
			t.CreatedAt.Format("2006-01-02"),
		})
	}
	table.Render()
	return nil
}

func tenantRemoveRun(appID string) error {
	if ui.DryRun {
		ui.DryRunMsg("Would remove tenant %s", appID)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.DeleteTenant(commandContext(), appID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no tenant with app id %s", appID)
		}
		return err
	}
	ui.Success("Removed tenant %s", appID)
	return nil
}

// maskSecret keeps the last four characters of long values.
func maskSecret(s string) string {
	switch {
	case s == "":
		return "-"
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}
