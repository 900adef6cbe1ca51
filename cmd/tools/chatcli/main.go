package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/gemini-chat/internal/app"
	"github.com/zhouzirui/gemini-chat/internal/config"
	"github.com/zhouzirui/gemini-chat/internal/logging"
	"github.com/zhouzirui/gemini-chat/internal/model/profile"
	"github.com/zhouzirui/gemini-chat/internal/tui"
)

type options struct {
	envFile  string
	logLevel string
	profile  string
	style    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "chatcli",
		Short:         "Chat with the configured model in the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level, overrides LOG_LEVEL")
	cmd.Flags().StringVar(&opts.profile, "profile", profile.DefaultID, "generation profile")
	cmd.Flags().StringVar(&opts.style, "style", "", "glamour style (dark, light, notty); detected when empty")
	return cmd
}

func run(ctx context.Context, opts options) error {
	envErr := godotenv.Load(opts.envFile)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	// The terminal belongs to the UI; logs only go to LOG_FILE.
	closer, err := logging.FileOnly(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	if envErr != nil {
		log.Warn().Err(envErr).Str("file", opts.envFile).Msg("continuing with system environment variables only")
	}

	a, err := app.New(ctx, cfg.AI)
	if err != nil {
		return err
	}
	defer a.Chats.Shutdown()

	session, err := a.Chats.CreateSession(ctx, opts.profile)
	if err != nil {
		return err
	}
	ctrl, err := a.Chats.Controller(session.ID)
	if err != nil {
		return err
	}

	title := "Gemini Chat"
	if p, ok := a.Profiles.FindByID(session.ProfileID); ok && p.ID != profile.DefaultID {
		title += " · " + p.Name
	}

	model := tui.New(ctrl, tui.Options{Title: title, Style: opts.style})
	_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx)).Run()
	return err
}
