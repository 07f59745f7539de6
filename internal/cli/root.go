package cli

import (
	"fmt"
	"strings"

	"github.com/MinchaoZhu/chaos-bot/internal/config"
	"github.com/MinchaoZhu/chaos-bot/internal/logger"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chaos-bot",
	Short: "chaos-bot - personal LLM agent backend",
	Long: `chaos-bot is a personal LLM agent backend. It serves an HTTP/SSE and
WebSocket gateway, runs a tool-calling agent loop against OpenAI or Anthropic,
keeps file-based memory and answers Telegram chats.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $AGENT_CONFIG_PATH or ./agent.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads agent.json and applies the --log-level override.
func loadConfig() (*config.Loaded, error) {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if level := strings.ToLower(strings.TrimSpace(logLevel)); level != "" {
		switch level {
		case "debug", "info", "warn", "error":
			loaded.App.LogLevel = level
		default:
			return nil, fmt.Errorf("invalid --log-level %q", logLevel)
		}
	}
	return loaded, nil
}

// newLogger builds the process logger. Console output is only enabled for
// long-running commands so one-shot output stays clean.
func newLogger(app config.AppConfig, console bool) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     app.LogLevel,
		Dir:       app.LogDir,
		Console:   console,
		Pretty:    app.LogPretty,
		Redaction: true,
	})
}
