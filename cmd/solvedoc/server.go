package main

import (
	"context"
	"encoding/json"
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

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/solvedoc/solvedoc/internal/answer"
	"github.com/solvedoc/solvedoc/internal/api"
	"github.com/solvedoc/solvedoc/internal/config"
	"github.com/solvedoc/solvedoc/internal/grounding"
	"github.com/solvedoc/solvedoc/internal/ingest"
	"github.com/solvedoc/solvedoc/internal/ollama"
	"github.com/solvedoc/solvedoc/internal/retrieval"
	"github.com/solvedoc/solvedoc/internal/scope"
	"github.com/solvedoc/solvedoc/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the solvedoc server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running solvedoc server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show solvedoc system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		return showStatus(owner)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	Long: `Serve MCP tools over stdio for a single owner.

The MCP transport carries no per-request identity, so all tool calls run
as the owner given by --owner.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		return runMCP(owner)
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "solvedoc.pid")
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

// ensureAPIToken returns the configured bearer token, generating and
// persisting one on first start.
func ensureAPIToken(cfg *config.Config) (string, error) {
	if cfg.Auth.APIToken != "" {
		return cfg.Auth.APIToken, nil
	}
	token := uuid.NewString()
	if err := config.WriteTokenFile(token); err != nil {
		return "", fmt.Errorf("writing token file: %w", err)
	}
	cfg.Auth.APIToken = token
	return token, nil
}

func buildPipeline(cfg config.Config, store *storage.Store, ollamaClient *ollama.Client) (*answer.Pipeline, *retrieval.SQLiteStore, *retrieval.Embedder, error) {
	thresholds := grounding.Thresholds{
		Base:       float32(cfg.Retrieval.BaseThreshold),
		Strict:     float32(cfg.Retrieval.StrictThreshold),
		MaxResults: cfg.Retrieval.MaxResults,
	}
	if err := thresholds.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid retrieval thresholds: %w", err)
	}

	vectorStore := retrieval.NewSQLiteStore(store.DB())
	embedder := retrieval.NewEmbedder(ollamaClient, cfg.Ollama.EmbedModel)
	retriever := retrieval.NewRetriever(embedder, vectorStore)
	resolver := scope.NewResolver(store)
	pipeline := answer.NewPipeline(resolver, retriever, ollamaClient, cfg.Ollama.ChatModel, thresholds)
	return pipeline, vectorStore, embedder, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "solvedoc version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := ensureAPIToken(&cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("solvedoc is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("solvedoc is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check Ollama readiness, pulling models if needed.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL, cfg.Ollama.Temperature)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	pipeline, vectorStore, embedder, err := buildPipeline(cfg, store, ollamaClient)
	if err != nil {
		return err
	}

	// Start ingest worker.
	chunker := ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	worker := ingest.NewWorker(store, ingest.PDFExtractor{}, chunker, embedder, vectorStore, 500*time.Millisecond)
	go worker.Run(ctx)

	// Build HTTP handler and server.
	handler := api.NewAppHandler(api.AppDeps{
		Store:          store,
		Pipeline:       pipeline,
		Token:          apiToken,
		UploadDir:      filepath.Join(cfg.Storage.DataDir, "uploads"),
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}
	srv := &http.Server{Handler: handler}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "solvedoc listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runMCP serves the ask and list_documents tools over stdio. It opens the
// same database as the server, so documents ingested there are visible here.
func runMCP(owner string) error {
	if owner == "" {
		return fmt.Errorf("--owner is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// MCP clients own stdout, so logs must go to stderr only.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ollamaClient := ollama.New(cfg.Ollama.BaseURL, cfg.Ollama.Temperature)
	if !ollamaClient.IsRunning(ctx) {
		return fmt.Errorf("ollama is not reachable at %s", cfg.Ollama.BaseURL)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	pipeline, _, _, err := buildPipeline(cfg, store, ollamaClient)
	if err != nil {
		return err
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:    store,
		Pipeline: pipeline,
		OwnerID:  owner,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp stdio server: %w", err)
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
		printError("solvedoc is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop solvedoc (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to solvedoc (PID %d)", pid)
	return nil
}

func showStatus(owner string) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check Ollama.
	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	// Show models.
	printStatus("Chat model", "%s", cfg.Ollama.ChatModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	// Show document count if server is running.
	if cfg.Auth.APIToken != "" && resp != nil && resp.StatusCode == 200 {
		docsResp, err := apiGet(client, serverURL+"/documents?limit=100", cfg.Auth.APIToken, owner)
		if err == nil {
			var docs []json.RawMessage
			if json.NewDecoder(docsResp.Body).Decode(&docs) == nil {
				printStatus("Documents", "%s", countLabel(len(docs), 100))
			}
			docsResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}

func apiGet(client *http.Client, url, token, owner string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Owner-ID", owner)
	return client.Do(req)
}
