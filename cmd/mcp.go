package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prboard/internal/mcp"
	"github.com/joescharf/prboard/internal/models"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for review report queries",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client query stored review reports. Configure it with:

  {
    "mcpServers": {
      "prboard": { "command": "prboard", "args": ["mcp"] }
    }
  }

Available tools: prboard_list_reports, prboard_get_report,
prboard_dashboard_metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		srv := mcp.NewServer(s,
			models.TenantSlug(viper.GetString("dashboard.tenant")),
			viper.GetInt("dashboard.page_size"),
			buildVersion)
		return srv.ServeStdio(commandContext())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
