package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prboard/internal/auth"
	"github.com/joescharf/prboard/internal/models"
)

var (
	tokenUser   string
	tokenTenant string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a dashboard session token",
	Long: `Issue a bearer token for the dashboard endpoints, signed with
auth.session_secret. --tenant restricts every read made with the token to
one customer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tokenRun()
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "Subject (user id or email) the token is issued to")
	tokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "Customer slug the token is limited to")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default auth.session_ttl)")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}

func tokenRun() error {
	a, err := auth.New(viper.GetString("auth.session_secret"))
	if err != nil {
		return err
	}

	ttl := tokenTTL
	if ttl <= 0 {
		ttl = viper.GetDuration("auth.session_ttl")
	}

	token, err := a.Issue(tokenUser, models.TenantSlug(tokenTenant), ttl)
	if err != nil {
		return err
	}
	ui.VerboseLog("Token for %s expires %s", tokenUser, time.Now().Add(ttl).Format(time.RFC3339))
	fmt.Fprintln(ui.Out, token)
	return nil
}
