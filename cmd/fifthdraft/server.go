package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
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

	"github.com/fifthdraft/fifthdraft/internal/api"
	"github.com/fifthdraft/fifthdraft/internal/apperr"
	"github.com/fifthdraft/fifthdraft/internal/brief"
	"github.com/fifthdraft/fifthdraft/internal/config"
	"github.com/fifthdraft/fifthdraft/internal/embedding"
	"github.com/fifthdraft/fifthdraft/internal/evolution"
	"github.com/fifthdraft/fifthdraft/internal/ingest"
	"github.com/fifthdraft/fifthdraft/internal/llm"
	"github.com/fifthdraft/fifthdraft/internal/ollama"
	"github.com/fifthdraft/fifthdraft/internal/pipeline"
	"github.com/fifthdraft/fifthdraft/internal/research"
	"github.com/fifthdraft/fifthdraft/internal/search"
	"github.com/fifthdraft/fifthdraft/internal/storage"
	"github.com/fifthdraft/fifthdraft/internal/structuring"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the fifthdraft server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running fifthdraft server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fifthdraft system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the note tools over MCP (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "fifthdraft.pid")
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

func setupLogging(cfg config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))
}

// components holds everything built from config that the server and the
// MCP command share.
type components struct {
	service *pipeline.Service
	related evolution.Options
}

// buildComponents wires the providers into a pipeline.Service. A provider
// whose key is missing is left out; the operations that need it then fail
// with a configuration error. embedder may be nil.
func buildComponents(cfg config.Config, store *storage.Store, embedder *embedding.Embedder) (components, error) {
	var opts []pipeline.Option

	gen, err := llm.NewClient(cfg.Anthropic.APIKey,
		llm.WithModel(cfg.Anthropic.Model),
		llm.WithMaxTokens(cfg.Anthropic.MaxTokens),
	)
	switch {
	case err == nil:
		slog.Info("structuring enabled", "model", gen.Model())
		opts = append(opts, pipeline.WithStructurer(structuring.New(gen)), pipeline.WithBriefs(brief.New(gen)))
	case apperr.CategoryOf(err) == apperr.CategoryConfiguration:
		slog.Warn("anthropic api key not set, structuring and briefs disabled")
	default:
		return components{}, err
	}

	ttl, err := cfg.Tavily.CacheDuration()
	if err != nil {
		return components{}, err
	}
	searcher, err := search.NewClient(cfg.Tavily.APIKey,
		search.WithBaseURL(cfg.Tavily.BaseURL),
		search.WithCacheTTL(ttl),
		search.WithRateLimit(cfg.Tavily.RatePerSecond),
	)
	switch {
	case err == nil && gen != nil:
		opts = append(opts, pipeline.WithResearcher(research.New(gen, searcher, cfg.Research.MaxQueries)))
	case err == nil:
		slog.Warn("research needs an anthropic api key, research disabled")
	case apperr.CategoryOf(err) == apperr.CategoryConfiguration:
		slog.Warn("tavily api key not set, research disabled")
	default:
		return components{}, err
	}

	if embedder != nil {
		slog.Info("embeddings enabled", "model", embedder.Model())
		opts = append(opts, pipeline.WithEmbedder(embedder))
	}

	return components{
		service: pipeline.NewService(store, opts...),
		related: evolution.Options{Threshold: evolution.Threshold(cfg.Related.Threshold), Limit: cfg.Related.Limit},
	}, nil
}

// connectEmbedder returns an embedder backed by the local Ollama instance,
// or nil when Ollama cannot serve the embed model. When pull is set a
// missing model is downloaded with progress written to w.
func connectEmbedder(ctx context.Context, cfg config.Config, pull bool, w io.Writer) *embedding.Embedder {
	client := ollama.New(cfg.Ollama.BaseURL)
	if pull {
		if err := ollama.EnsureReady(ctx, client, cfg.Ollama.EmbedModel, w); err != nil {
			slog.Warn("embeddings disabled", "error", err)
			return nil
		}
	} else if !client.IsRunning(ctx) || !client.HasModel(ctx, cfg.Ollama.EmbedModel) {
		slog.Warn("embeddings disabled, ollama or embed model unavailable", "base_url", cfg.Ollama.BaseURL, "model", cfg.Ollama.EmbedModel)
		return nil
	}
	return embedding.New(client, cfg.Ollama.EmbedModel)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "fifthdraft version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("fifthdraft is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("fifthdraft is already running on port %d", cfg.Server.Port)
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
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	embedder := connectEmbedder(ctx, cfg, true, os.Stderr)
	comp, err := buildComponents(cfg, store, embedder)
	if err != nil {
		return err
	}

	if cfg.Server.APIToken == "" {
		slog.Warn("server.api_token not set, REST API is unauthenticated")
	}
	handler := api.NewHandler(api.Deps{
		Service: comp.service,
		Token:   cfg.Server.APIToken,
		Related: comp.related,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	if embedder != nil {
		worker := ingest.NewWorker(store, embedder, 500*time.Millisecond)
		go worker.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "fifthdraft listening on %s\n", addr)
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

// runMCP serves the tools on stdin/stdout. Everything else goes to stderr
// so the protocol stream stays clean.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	embedder := connectEmbedder(ctx, cfg, false, io.Discard)
	comp, err := buildComponents(cfg, store, embedder)
	if err != nil {
		return err
	}

	if embedder != nil {
		worker := ingest.NewWorker(store, embedder, 500*time.Millisecond)
		go worker.Run(ctx)
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Service: comp.service,
		UserID:  asUser,
		Related: comp.related,
	})
	slog.Info("mcp server started (stdio transport)")
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
		printError("fifthdraft is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop fifthdraft (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to fifthdraft (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	oc := ollama.New(cfg.Ollama.BaseURL)
	if oc.IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		if oc.HasModel(ctx, cfg.Ollama.EmbedModel) {
			printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
		} else {
			printStatus("Embed model", "%s (not pulled)", cfg.Ollama.EmbedModel)
		}
	} else {
		printStatus("Ollama", "not running")
	}

	printStatus("Anthropic", "%s (%s)", keyState(cfg.Anthropic.APIKey), cfg.Anthropic.Model)
	printStatus("Tavily", "%s", keyState(cfg.Tavily.APIKey))
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func keyState(key string) string {
	if key == "" {
		return "not configured"
	}
	return "configured"
}
