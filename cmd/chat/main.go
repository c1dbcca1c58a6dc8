package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/realtime-chat/client/internal/app"
	"github.com/zhouzirui/realtime-chat/client/internal/config"
	"github.com/zhouzirui/realtime-chat/client/internal/console"
	"github.com/zhouzirui/realtime-chat/client/internal/service/gateway"
	"github.com/zhouzirui/realtime-chat/client/internal/service/realtime"
	"github.com/zhouzirui/realtime-chat/client/internal/session"
	"github.com/zhouzirui/realtime-chat/client/internal/view"
)

var rootCmd = &cobra.Command{
	Use:          "chat",
	Short:        "Terminal client for the realtime chat server",
	SilenceUsage: true,
	RunE:         runChat,
}

var (
	flagServer            string
	flagDataDir           string
	flagLogLevel          string
	flagHistoryLimit      int
	flagReconnectAttempts int
)

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.Flags()
	flags.StringVar(&flagServer, "server", "", "chat server URL (env CHAT_SERVER_URL)")
	flags.StringVar(&flagDataDir, "data-dir", "", "directory for the stored session (env CHAT_DATA_DIR)")
	flags.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (env CHAT_LOG_LEVEL)")
	flags.IntVar(&flagHistoryLimit, "history-limit", 0, "messages loaded on connect (env CHAT_HISTORY_LIMIT)")
	flags.IntVar(&flagReconnectAttempts, "reconnect-attempts", 0, "automatic reconnect attempts, 0 disables (env CHAT_RECONNECT_ATTEMPTS)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies flags the user set.
func loadConfig(cmd *cobra.Command) (config.ClientConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		return config.ClientConfig{}, err
	}
	c := cfg.Client

	flags := cmd.Flags()
	if flags.Changed("server") {
		c.ServerURL = flagServer
	}
	if flags.Changed("data-dir") {
		c.DataDir = flagDataDir
	}
	if flags.Changed("log-level") {
		c.LogLevel = flagLogLevel
	}
	if flags.Changed("history-limit") {
		c.HistoryLimit = flagHistoryLimit
	}
	if flags.Changed("reconnect-attempts") {
		c.ReconnectAttempts = flagReconnectAttempts
	}
	if err := c.Validate(); err != nil {
		return config.ClientConfig{}, err
	}
	return c, nil
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	level, _ := cfg.Level()

	cons := console.New(os.Stdin, os.Stdout, "> ")
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cons, TimeFormat: time.Kitchen, NoColor: !cons.IsTerminal()}).
		Level(level).With().Timestamp().Logger()

	store, err := session.OpenPebbleStore(cfg.SessionDir(), nil)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	gw, err := gateway.New(cfg.ServerURL, nil, logger)
	if err != nil {
		return err
	}

	term := view.NewTerminal(cons, cons.IsTerminal() && color.SupportColor())
	messages := view.NewMessageRenderer(term, nil)
	presence := view.NewPresenceRenderer(term)
	indicator := view.NewTypingIndicator(term.SetTyping)

	rt, err := realtime.NewSession(realtime.Options{
		BaseURL:      cfg.ServerURL,
		API:          gw,
		Feed:         messages,
		Roster:       presence,
		Indicator:    indicator,
		Logger:       logger,
		HistoryLimit: cfg.HistoryLimit,
		Reconnect: realtime.Reconnect{
			MaxAttempts: cfg.ReconnectAttempts,
			Backoff:     cfg.ReconnectBackoff,
		},
		TypingDelay:  cfg.TypingDelay,
		RequireToken: cfg.RequireToken,
	})
	if err != nil {
		return err
	}
	defer rt.Disconnect()

	client, err := app.New(app.Options{
		Store:     store,
		Gateway:   gw,
		Realtime:  rt,
		Feed:      messages,
		Roster:    presence,
		Indicator: indicator,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	sh := &shell{app: client, term: term, presence: presence, password: cons.ReadPassword}

	if sess, ok, err := client.Resume(ctx); err != nil {
		term.Error(err)
	} else if ok {
		term.SetSelf(sess.Username)
		term.Info("Welcome back, " + sess.Username)
	} else {
		term.Info("Not logged in. Use /login <user> <password> or /register. Type /help for commands.")
	}

	return cons.Run(ctx, console.Events{
		Key:  client.Input,
		Line: func(line string) bool { return sh.handle(ctx, line) },
	})
}
