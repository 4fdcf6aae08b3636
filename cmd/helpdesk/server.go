package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/helpdesk/internal/api"
	"github.com/kalambet/helpdesk/internal/config"
	"github.com/kalambet/helpdesk/internal/conversation"
	"github.com/kalambet/helpdesk/internal/engine"
	"github.com/kalambet/helpdesk/internal/ingest"
	"github.com/kalambet/helpdesk/internal/knowledge"
	"github.com/kalambet/helpdesk/internal/notify"
	"github.com/kalambet/helpdesk/internal/registry"
	"github.com/kalambet/helpdesk/internal/storage"
	"github.com/kalambet/helpdesk/internal/widget"
)

const notificationHistory = 100

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the console API server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		noDemo, _ := cmd.Flags().GetBool("no-demo")
		return runServer(withMCP, !noDemo)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running helpdesk server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, knowledge base and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdin/stdout")
	serveCmd.Flags().Bool("no-demo", false, "start with an empty conversation list")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "helpdesk.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// fallbackDelay maps the configured pause onto engine.Options, where zero
// selects the default and a negative value disables the pause.
func fallbackDelay(d time.Duration) time.Duration {
	if d <= 0 {
		return -1
	}
	return d
}

func runServer(withMCP, seedDemo bool) error {
	fmt.Fprintf(os.Stderr, "helpdesk version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	logger := slog.Default()

	apiToken, err := config.GetAPIToken(config.NewSecretStore())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("helpdesk is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("helpdesk is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()
	if n, err := store.PurgeSession(); err != nil {
		slog.Warn("purging session storage", "error", err)
	} else if n > 0 {
		slog.Debug("purged session storage", "entries", n)
	}

	ring := notify.NewRing(notificationHistory)
	notifier := notify.Multi{notify.NewLog(logger), ring}

	kb, err := knowledge.New(store, notifier, logger)
	if err != nil {
		return fmt.Errorf("loading knowledge base: %w", err)
	}
	models, err := registry.New(store, notifier, logger)
	if err != nil {
		return fmt.Errorf("loading model integrations: %w", err)
	}

	eng := engine.New(engine.Options{
		Dial:          engine.ProxyDialer(cfg.Remote.BaseURL, cfg.Remote.Timeout),
		FallbackDelay: fallbackDelay(cfg.Reply.FallbackDelay),
		Logger:        logger,
	})

	convs := conversation.New(conversation.Options{
		Responder:     eng,
		Knowledge:     kb,
		Models:        models,
		Notifier:      notifier,
		Logger:        logger,
		HistoryWindow: cfg.Reply.HistoryWindow,
	})
	defer convs.Close()
	if seedDemo {
		slog.Debug("seeded demo conversations", "count", convs.SeedDemo())
	}

	chatbot := widget.New(store, widget.Options{
		Responder:     eng,
		Knowledge:     kb,
		Models:        models,
		Notifier:      notifier,
		Logger:        logger,
		HistoryWindow: cfg.Reply.HistoryWindow,
	})

	handler := api.NewHandler(api.Deps{
		Knowledge:     kb,
		Models:        models,
		Conversations: convs,
		Widget:        chatbot,
		Importer:      ingest.NewImporter(&http.Client{Timeout: 15 * time.Second}, logger),
		Notifications: ring,
		Catalog:       api.ProxyCatalog(cfg.Remote.BaseURL, cfg.Remote.Timeout),
		AgentName:     cfg.Console.AgentName,
		Token:         apiToken,
		Logger:        logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "helpdesk listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Knowledge:     kb,
			Models:        models,
			Drafter:       eng,
			Conversations: convs,
		}, version)
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("helpdesk is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop helpdesk (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to helpdesk (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := healthClient.Get(serverURL + "/health")
	running := false
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		running = true
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}

	printStatus("Remote endpoint", "%s", cfg.Remote.BaseURL)

	if running {
		if client, err := newAPIClient(); err == nil {
			reportCounts(ctx, client)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func reportCounts(ctx context.Context, client *apiClient) {
	var docs []knowledge.Document
	if resp, err := client.get(ctx, "/documents"); err == nil && decodeJSON(resp, &docs) == nil {
		printStatus("Documents", "%d", len(docs))
	}

	var models api.ModelsResponse
	if resp, err := client.get(ctx, "/models"); err == nil && decodeJSON(resp, &models) == nil {
		active := "none (keyword fallback)"
		for _, it := range models.Integrations {
			if it.ID == models.ActiveID {
				active = fmt.Sprintf("%s (%s)", it.Name, it.Model)
			}
		}
		printStatus("Active model", "%s", active)
	}

	for _, q := range conversation.Queues {
		var list []api.ConversationSummary
		if resp, err := client.get(ctx, "/conversations?queue="+string(q)); err == nil && decodeJSON(resp, &list) == nil {
			printStatus("Queue "+string(q), "%d", len(list))
		}
	}
}
