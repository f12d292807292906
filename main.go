package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/saravenpi/alljobs-chat/internal/api"
	"github.com/saravenpi/alljobs-chat/internal/auth"
	"github.com/saravenpi/alljobs-chat/internal/config"
	"github.com/saravenpi/alljobs-chat/internal/contacts"
	"github.com/saravenpi/alljobs-chat/internal/drafts"
	"github.com/saravenpi/alljobs-chat/internal/logging"
	"github.com/saravenpi/alljobs-chat/internal/metrics"
	"github.com/saravenpi/alljobs-chat/internal/models"
	"github.com/saravenpi/alljobs-chat/internal/session"
	"github.com/saravenpi/alljobs-chat/internal/transport"
	"github.com/saravenpi/alljobs-chat/internal/ui"
	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "-v", "--version":
			fmt.Printf("alljobs-chat v%s\n", version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		case "login":
			if len(os.Args) < 3 {
				fmt.Println("Usage: alljobs-chat login <token>")
				os.Exit(1)
			}
			if err := login(os.Args[2]); err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			return
		default:
			fmt.Printf("Unknown command: %s\n", os.Args[1])
			printHelp()
			os.Exit(1)
		}
	}

	if err := run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// login checks the token decodes to a user and stores it in auth.token_file.
func login(token string) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	ac, err := auth.FromToken(token)
	if err != nil {
		return err
	}
	if ac.Expired(time.Now()) {
		return errors.New("token has already expired")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Auth.TokenFile), 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(cfg.Auth.TokenFile), err)
	}
	if err := os.WriteFile(cfg.Auth.TokenFile, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	fmt.Printf("Logged in as %s\n", ac.User.DisplayName())
	return nil
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Config{
		File:        cfg.Log.File,
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	token, err := cfg.Token()
	if err != nil {
		return fmt.Errorf("%w (run `alljobs-chat login <token>` first)", err)
	}
	ac, err := auth.FromToken(token)
	if err != nil {
		return err
	}
	if ac.Expired(time.Now()) {
		return errors.New("your session token has expired, run `alljobs-chat login <token>` again")
	}
	log.Info("starting", zap.String("version", version), zap.String("user", ac.User.ID))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	client := api.New(api.Config{
		BaseURL:         cfg.API.BaseURL,
		Timeout:         cfg.API.Timeout,
		RetryMaxElapsed: cfg.API.RetryMaxElapsed,
		MaxFailures:     cfg.API.Breaker.MaxFailures,
		BreakerInterval: cfg.API.Breaker.Interval,
		BreakerTimeout:  cfg.API.Breaker.Timeout,
	}, ac.Token, log.Named("api"), m)

	ws := transport.NewWebSocket(transport.Config{
		URL:             cfg.Socket.URL,
		PingPeriod:      cfg.Socket.PingPeriod,
		WriteWait:       cfg.Socket.WriteWait,
		ReconnectMax:    cfg.Socket.ReconnectMax,
		TypingPerSecond: cfg.Socket.TypingPerSecond,
	}, log.Named("transport"), m)

	draftStore, err := drafts.Open(cfg.DraftsPath)
	if err != nil {
		return err
	}
	defer draftStore.Close()

	opts := []session.Option{
		session.WithLogger(log.Named("session")),
		session.WithMetrics(m),
		session.WithDrafts(draftStore),
	}
	if cfg.Chat.Sound {
		opts = append(opts, session.WithNotifier(ui.Bell{Out: os.Stdout}))
	}
	sess := session.New(session.Config{
		TypingIdle:     cfg.Chat.TypingIdle,
		PendingTimeout: cfg.Chat.PendingTimeout,
	}, ws, client, opts...)
	defer sess.Disconnect()

	if err := connect(sess, ac, log); err != nil {
		return err
	}

	app := &ui.App{Chat: sess, Contacts: contacts.NewBook(cfg.ContactsDir), Drafts: draftStore}
	p := tea.NewProgram(ui.NewMenuModel(app), tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ui.Forward(ctx, sess.Updates(), p.Send)

	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

// connect retries the first dial for a while; once connected the transport
// reconnects on its own.
func connect(sess *session.Session, ac auth.Context, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("Connecting to ALL JOBS...")
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	operation := func() error {
		err := sess.Connect(ctx, models.User{}, ac)
		if errors.Is(err, session.ErrNoUser) || errors.Is(err, session.ErrClosed) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("connect failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func printHelp() {
	help := `ALL JOBS Chat - Terminal messaging for the ALL JOBS job board

Usage:
  alljobs-chat              Start the chat client
  alljobs-chat login TOKEN  Save your ALL JOBS session token
  alljobs-chat version      Show version information
  alljobs-chat help         Show this help message

Navigation:
  ↑/↓ or j/k        Navigate lists
  Enter             Select/Open item
  ESC               Go back
  q                 Quit from current view
  ctrl+c            Force quit

Conversations:
  /                 Search conversations
  u                 Toggle unread only
  r                 Refresh conversation list

Messages:
  n or c            Write a message
  enter / ctrl+s    Send (while writing)
  f                 Retry messages that were not delivered
  a                 Add a nickname for the other person
  ↑/↓ or j/k        Scroll messages

Nicknames:
  n                 Add nickname
  enter             Edit nickname
  d                 Delete nickname

Configuration:
  ~/.alljobs-chat/config.yaml, overridable with ALLJOBS_* variables
  (for example ALLJOBS_SOCKET_URL, ALLJOBS_API_BASE_URL) or a .env file.
  Nicknames are YAML files in ~/.alljobs-chat/contacts/
  Unsent drafts are kept in ~/.alljobs-chat/drafts.db
  Logs are written to ~/.alljobs-chat/chat.log
`
	fmt.Print(help)
}
