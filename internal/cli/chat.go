package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/MinchaoZhu/chaos-bot/internal/config"
	"github.com/MinchaoZhu/chaos-bot/internal/daemon"
	"github.com/MinchaoZhu/chaos-bot/pkg/chat"
	"github.com/MinchaoZhu/chaos-bot/pkg/session"
	"github.com/MinchaoZhu/chaos-bot/pkg/workspace"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var chatSessionID string

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the agent from the terminal",
	Long: `Run the agent in-process without the gateway.

With a message argument, send it once and print the streamed reply.
Without arguments, read one message per line from stdin until EOF or /exit.`,
	Example: `  chaos-bot chat "summarize MEMORY.md"
  chaos-bot chat --session 3f2a... "and what about yesterday?"
  chaos-bot chat`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "continue an existing session")
	rootCmd.AddCommand(chatCmd)
}

// turnRunner is the slice of chat.Service the terminal loop needs.
type turnRunner interface {
	RunStream(ctx context.Context, cmd chat.Command, onEvent func(chat.Event)) (*chat.Result, error)
}

func runChat(cmd *cobra.Command, args []string) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(loaded.App, false)
	if err != nil {
		return err
	}
	defer log.Close()

	svc, store, err := newLocalChat(cmd.Context(), loaded, log.Component("cli"))
	if err != nil {
		return err
	}
	defer store.Close()

	message := strings.TrimSpace(strings.Join(args, " "))
	return chatLoop(cmd.Context(), svc, chatSessionID, message, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// newLocalChat wires a chat service over the configured session store
// without starting the gateway or channels.
func newLocalChat(ctx context.Context, loaded *config.Loaded, log zerolog.Logger) (*chat.Service, session.Store, error) {
	app := loaded.App
	if _, err := workspace.Bootstrap(workspace.BootstrapConfig{
		PersonalityDir: app.PersonalityDir,
		WorkingDir:     app.WorkingDir,
	}); err != nil {
		return nil, nil, err
	}

	env, err := config.LoadEnvSecrets(filepath.Join(filepath.Dir(loaded.Path), ".env"))
	if err != nil {
		return nil, nil, err
	}
	rt, err := daemon.NewConfigRuntime(ctx, daemon.ConfigRuntimeOptions{
		Loaded:  loaded,
		Env:     env,
		Factory: daemon.DefaultFactory{Logger: log},
		Logger:  log,
	})
	if err != nil {
		return nil, nil, err
	}

	store, err := session.Open(app.SessionBackend, filepath.Join(app.WorkingDir, workspace.SessionsDir, "sessions.db"))
	if err != nil {
		return nil, nil, err
	}
	svc, err := chat.NewService(chat.Options{Sessions: store, Runners: rt, Logger: log})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return svc, store, nil
}

// chatLoop sends message once when it is set, otherwise reads lines from in.
// Deltas go to out as they arrive; tool activity goes to errOut.
func chatLoop(ctx context.Context, svc turnRunner, sessionID, message string, in io.Reader, out, errOut io.Writer) error {
	turn := func(text string) error {
		result, err := svc.RunStream(ctx, chat.Command{SessionID: sessionID, Message: text}, func(ev chat.Event) {
			switch ev.Kind {
			case chat.EventDelta:
				fmt.Fprint(out, ev.Delta)
			case chat.EventTool:
				status := "ok"
				if ev.Tool.Result.IsError {
					status = "error"
				}
				fmt.Fprintf(errOut, "[tool %s: %s]\n", ev.Tool.Call.Name, status)
			}
		})
		fmt.Fprintln(out)
		if err != nil {
			return err
		}
		sessionID = result.SessionID
		return nil
	}

	if message != "" {
		return turn(message)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(errOut, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(errOut)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}
		if err := turn(line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
