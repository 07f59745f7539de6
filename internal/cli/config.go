package cli

import (
	"encoding/json"
	"fmt"

	"github.com/MinchaoZhu/chaos-bot/internal/daemon"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect agent.json",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate agent.json and check the agent can be built",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configShowCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(loaded.App.Redacted(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}
	if err := loaded.App.Validate(); err != nil {
		return err
	}
	if _, err := (daemon.DefaultFactory{Logger: zerolog.Nop()}).Build(cmd.Context(), loaded.App); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Config OK: %s (provider=%s model=%s)\n", loaded.Path, loaded.App.Provider, loaded.App.Model)
	return nil
}
