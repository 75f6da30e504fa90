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

	"github.com/kalambet/docent/internal/api"
	"github.com/kalambet/docent/internal/assistant"
	"github.com/kalambet/docent/internal/config"
	"github.com/kalambet/docent/internal/ingest"
	"github.com/kalambet/docent/internal/proxy"
	"github.com/kalambet/docent/internal/reports"
	"github.com/kalambet/docent/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the docent server (foreground)",
	Long: `Start the docent server in the foreground.

With --mcp, docent speaks the Model Context Protocol on stdin/stdout instead
of serving HTTP, acting as the configured identity.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpMode, _ := cmd.Flags().GetBool("mcp")
		if mcpMode {
			return runMCP()
		}
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running docent server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show docent status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "serve MCP over stdio instead of HTTP")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "docent.pid")
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

func setupLogging(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// documentStore is what a storage backend offers the server.
type documentStore interface {
	reports.Store
	Close() error
}

// backend is an opened storage backend. saver is nil for read-only backends.
type backend struct {
	store documentStore
	saver ingest.DocumentSaver
}

func openBackend(cfg config.Config) (*backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendFile:
		src, err := storage.OpenFile(cfg.Storage.SnapshotFile)
		if err != nil {
			return nil, fmt.Errorf("opening dataset file: %w", err)
		}
		slog.Info("serving documents from dataset file", "path", cfg.Storage.SnapshotFile)
		return &backend{store: src}, nil
	default:
		st, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		return &backend{store: st, saver: st}, nil
	}
}

func (b *backend) Close() {
	if err := b.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// newAssistant wires the assistant to storage and, when configured, the
// remote answer service.
func newAssistant(cfg config.Config, store reports.Store, now func() time.Time) (*assistant.Assistant, *reports.Builder) {
	rep := reports.NewBuilder(store, now)
	deps := assistant.Deps{Snapshots: store, Reports: rep}

	remote := proxy.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token, proxy.WithTimeout(cfg.Remote.Timeout))
	if remote.Configured() {
		deps.Channel = remote
	} else {
		slog.Warn("remote answer service not configured, answering from local data only")
	}

	a := assistant.New(deps,
		assistant.WithClock(now),
		assistant.WithTypewriter(cfg.Assistant.ChunkSize, cfg.Assistant.PacingDelay),
		assistant.WithHistoryLimit(cfg.Remote.HistoryTurns),
	)
	return a, rep
}

func clock(cfg config.Config) (func() time.Time, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return func() time.Time { return time.Now().In(loc) }, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "docent version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	now, err := clock(cfg)
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if healthy(cfg.Server.Port) {
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("docent is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("docent is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer be.Close()

	asst, _ := newAssistant(cfg, be.store, now)
	deps := api.Deps{
		Assistant: asst,
		Snapshots: be.store,
		Token:     cfg.Server.APIToken,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		Now:       now,
	}
	if be.saver != nil {
		deps.Importer = ingest.NewImporter(be.saver)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "docent listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runMCP serves the MCP tools on stdio. Stdout carries the protocol, so
// everything else goes to stderr.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	if cfg.Identity.TenantID == "" {
		return fmt.Errorf("identity.tenant_id must be set to serve MCP; see `docent config set`")
	}
	now, err := clock(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer be.Close()

	asst, rep := newAssistant(cfg, be.store, now)
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Assistant: asst,
		Snapshots: be.store,
		Reports:   rep,
		Viewer: assistant.Viewer{
			UserID:       cfg.Identity.UserID,
			TenantID:     cfg.Identity.TenantID,
			DepartmentID: cfg.Identity.DepartmentID,
			Role:         cfg.Identity.Role,
			Departments:  cfg.Identity.Departments,
		},
		Version: version,
	})

	slog.Info("MCP server started (stdio transport)")
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
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
		printError("docent is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop docent (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to docent (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	if healthy(cfg.Server.Port) {
		printStatus("Server", "running on port %d", cfg.Server.Port)
	} else {
		printStatus("Server", "stopped")
	}

	switch cfg.Storage.Backend {
	case config.BackendFile:
		printStatus("Storage", "dataset file %s", cfg.Storage.SnapshotFile)
	default:
		printStatus("Storage", "sqlite in %s", cfg.Storage.DataDir)
	}

	if cfg.Remote.BaseURL != "" {
		printStatus("Remote", "%s (timeout %s)", cfg.Remote.BaseURL, cfg.Remote.Timeout)
	} else {
		printStatus("Remote", "not configured, local answers only")
	}
	if cfg.Identity.TenantID != "" {
		printStatus("Identity", "%s @ %s/%s", cfg.Identity.UserID, cfg.Identity.TenantID, cfg.Identity.DepartmentID)
	}
	printStatus("Timezone", "%s", cfg.Assistant.Timezone)
	return nil
}
