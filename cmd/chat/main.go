package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wirechat/internal/buildinfo"
	"wirechat/internal/bus"
	"wirechat/internal/chat"
	"wirechat/internal/config"
	"wirechat/internal/events"
	"wirechat/internal/logging"
	"wirechat/internal/metrics"
	"wirechat/internal/notify"
	"wirechat/internal/wsclient"
)

const metricsShutdownTimeout = 2 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("run chat client", "error", err)
		os.Exit(1)
	}
}

func run() error {
	uri := flag.String("uri", "", "websocket chat endpoint (overrides CHAT_WEBSOCKET_URI)")
	message := flag.String("message", "", "send a single message, print the reply and exit")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn or error")
	metricsListen := flag.String("metrics-listen", "", "prometheus listen address, e.g. 127.0.0.1:9090")
	enableNotify := flag.Bool("notify", false, "desktop notifications for replies and connection changes")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("wirechat", buildinfo.Full())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(*uri) != "" {
		cfg.Connection.URI = strings.TrimSpace(*uri)
	}
	if strings.TrimSpace(*logLevel) != "" {
		cfg.Logging.Level = strings.TrimSpace(*logLevel)
	}
	if strings.TrimSpace(*metricsListen) != "" {
		cfg.Metrics.Listen = strings.TrimSpace(*metricsListen)
	}
	if *enableNotify {
		cfg.Notifications.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")
	logger.Info("starting wirechat", "version", buildinfo.VersionString(), "build_date", buildinfo.DateYMD())

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()

	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           m.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Listen)
			if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Warn("metrics endpoint failed", "error", serveErr)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
				logger.Warn("shut down metrics endpoint", "error", shutdownErr)
			}
		}()
	}

	client := wsclient.New(clientConfig(cfg), wsclient.Options{
		Logger:  logMgr.Logger("wsclient"),
		Bus:     b,
		Metrics: m,
	})
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close websocket client", "error", closeErr)
		}
	}()

	history := chat.NewHistory(cfg.Chat.MaxHistory)
	chatSvc := chat.NewService(logMgr.Logger("chat"), b, client, history, chat.Config{
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		RateLimit:        cfg.Chat.RateLimit,
		RateWindow:       cfg.Chat.RateWindow,
		AssistantName:    cfg.Chat.AssistantName,
	})
	chatSvc.Start(ctx)

	notifySvc := notify.NewService(
		b,
		func() config.NotificationsConfig { return cfg.Notifications },
		notify.NewDesktopSender(logMgr.Logger("notify")),
		logMgr.Logger("notify"),
	)
	notifySvc.Start(ctx)

	watch(ctx, b, logger)

	if chatSvc.TestConnection(ctx) {
		logger.Info("chat backend reachable", "uri", cfg.Connection.URI)
	} else {
		logger.Warn("chat backend unreachable, sends will retry", "uri", cfg.Connection.URI)
	}

	if strings.TrimSpace(*message) != "" {
		return sendOnce(ctx, b, chatSvc, strings.TrimSpace(*message), cfg.Connection.SendTimeout)
	}

	return interact(ctx, b, chatSvc, cfg.Connection.URI, cfg.Connection.SendTimeout)
}

// sendOnce sends one message and streams the reply to stdout.
func sendOnce(ctx context.Context, b bus.MessageBus, chatSvc *chat.Service, text string, idle time.Duration) error {
	sub := b.Subscribe(events.TopicStreamChunk, events.TopicChatMessage, events.TopicRequestError)
	defer b.Unsubscribe(sub)

	if err := chatSvc.Send(ctx, text); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	if err := pumpReply(ctx, sub, idle); err != nil {
		return fmt.Errorf("read reply: %w", err)
	}

	return nil
}

func interact(ctx context.Context, b bus.MessageBus, chatSvc *chat.Service, uri string, idle time.Duration) error {
	sub := b.Subscribe(events.TopicStreamChunk, events.TopicChatMessage, events.TopicRequestError)
	defer b.Unsubscribe(sub)

	fmt.Printf("connected to %s, type a message (/quit to exit)\n", uri)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		drain(sub)
		if err := chatSvc.Send(ctx, line); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		if err := pumpReply(ctx, sub, idle); err != nil && ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}

	return scanner.Err()
}

// pumpReply prints streamed chunks until the reply completes, the server
// reports an error, or no event arrives for idle. The send is acknowledged
// on write, so the reply always trails the Send call.
func pumpReply(ctx context.Context, sub bus.Subscription, idle time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return ctx.Err()
		case raw, ok := <-sub:
			if !ok {
				return errors.New("event stream closed")
			}
			switch evt := raw.(type) {
			case events.StreamChunk:
				fmt.Print(evt.Content)
			case chat.Message:
				if evt.Direction == chat.DirectionReceived {
					fmt.Println()
					return nil
				}
			case events.RequestError:
				fmt.Println()
				return fmt.Errorf("server reported: %s", evt.Message)
			}
		case <-time.After(idle):
			fmt.Println()
			return fmt.Errorf("no reply within %s", idle)
		}
	}
}

// drain discards events left over from an abandoned reply.
func drain(sub bus.Subscription) {
	for {
		select {
		case <-sub:
		default:
			return
		}
	}
}

func clientConfig(cfg config.Config) wsclient.Config {
	out := wsclient.DefaultConfig(cfg.Connection.URI)
	out.ConnectTimeout = cfg.Connection.ConnectTimeout
	out.SendTimeout = cfg.Connection.SendTimeout
	out.TestTimeout = cfg.Connection.TestTimeout
	out.MaxRetries = cfg.Connection.MaxRetries
	out.RetryDelay = cfg.Connection.RetryDelay
	out.HealthEnabled = cfg.Health.Enabled
	out.PingInterval = cfg.Health.PingInterval
	out.HealthTimeout = cfg.Health.Timeout

	return out
}

func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger) {
	connSub := b.Subscribe(events.TopicConnStatus)
	failSub := b.Subscribe(events.TopicSendFailure)

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.Unsubscribe(connSub, events.TopicConnStatus)
				b.Unsubscribe(failSub, events.TopicSendFailure)
				return
			case raw := <-connSub:
				if status, ok := raw.(events.ConnectionStatus); ok {
					logger.Info("conn", "state", status.State, "target", status.Target, "error", status.Err)
				}
			case raw := <-failSub:
				if failure, ok := raw.(events.SendFailure); ok {
					logger.Warn("send failed", "request_id", failure.RequestID, "attempts", failure.Attempts, "error", failure.Err)
				}
			}
		}
	}()
}
