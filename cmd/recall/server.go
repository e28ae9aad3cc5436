package main

import (
	"context"
	"errors"
	"fmt"
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

	"github.com/kalambet/recall/internal/activity"
	"github.com/kalambet/recall/internal/ai"
	"github.com/kalambet/recall/internal/analyze"
	"github.com/kalambet/recall/internal/api"
	"github.com/kalambet/recall/internal/config"
	"github.com/kalambet/recall/internal/habit"
	"github.com/kalambet/recall/internal/project"
	"github.com/kalambet/recall/internal/scheduler"
	"github.com/kalambet/recall/internal/search"
	"github.com/kalambet/recall/internal/storage"
	"github.com/kalambet/recall/internal/summary"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the recall pipeline and API server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running recall server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recall system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "recall.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "recall version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to double-start: probe the health endpoint before claiming
	// the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("recall is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("recall is already running on port %d", cfg.Server.Port)
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

	// The shared AI client slot. Attached here when Ollama is reachable;
	// attach/replace/detach later through the API without a restart.
	slot := ai.NewSlot()
	if cfg.Ollama.Enabled {
		client := ai.NewOllamaClient(cfg.Ollama.BaseURL, cfg.Ollama.VisionModel, cfg.Ollama.TextModel, cfg.Ollama.EmbedModel)
		if client.IsRunning(ctx) {
			slot.Set(client)
			slog.Info("AI client attached", "base_url", cfg.Ollama.BaseURL)
		} else {
			slog.Warn("Ollama not reachable, pipeline runs degraded", "base_url", cfg.Ollama.BaseURL)
		}
	}

	// Pipeline stages.
	ingestor := analyze.NewIngestor(store, slot, cfg.Pipeline.BatchSize, 0)
	grouper := activity.NewGrouper(store, activity.DefaultThresholds())
	extractor := project.NewExtractor(store)
	detector := habit.NewDetector(store, habit.DefaultThresholds())
	generator := summary.NewGenerator(store, slot, cfg.Storage.NotesDir, summary.Options{
		Weekly:  cfg.Pipeline.SummaryWeekly,
		Monthly: cfg.Pipeline.SummaryMonthly,
	})
	indexer := search.NewIndexer(store, slot, cfg.Storage.NotesDir)
	searcher := search.NewSearcher(store, slot)

	sched := scheduler.New()
	sched.Every("ingestion", time.Duration(cfg.Pipeline.IngestIntervalSec)*time.Second, func(ctx context.Context) error {
		_, err := ingestor.RunOnce(ctx)
		return err
	})
	// Grouping runs strictly before extraction: extraction consumes the
	// sessions grouping just created.
	sched.Every("grouping", time.Duration(cfg.Pipeline.GroupIntervalSec)*time.Second, func(ctx context.Context) error {
		if _, err := grouper.RunOnce(ctx); err != nil {
			return err
		}
		return extractor.RunOnce(ctx)
	})
	sched.Every("indexing", time.Duration(cfg.Pipeline.IndexIntervalSec)*time.Second, func(ctx context.Context) error {
		_, err := indexer.RunOnce(ctx)
		return err
	})
	sched.Every("habits", time.Duration(cfg.Pipeline.HabitIntervalSec)*time.Second, detector.RunOnce)
	sched.DailyAt("summary", cfg.Pipeline.SummaryHour, 0, generator.RunOnce)
	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("scheduler stopped", "error", err)
		}
	}()

	handler := api.NewHandler(api.Deps{Store: store, Slot: slot, Searcher: searcher})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP over stdio for clients that spawn the daemon, and over SSE on
	// the dedicated port for clients that attach to a running one.
	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Searcher: searcher})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	sseSrv := server.NewSSEServer(mcpSrv)
	go func() {
		if err := sseSrv.Start(mcpAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("MCP SSE server error", "error", err)
		}
	}()
	slog.Info("MCP server started", "sse_addr", mcpAddr)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "recall listening on %s\n", addr)
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
	if err := sseSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("MCP SSE shutdown", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
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
		printError("recall is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop recall (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to recall (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

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

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	if resp != nil && resp.StatusCode == 200 {
		aiResp, err := client.Get(serverURL + "/ai/client")
		if err == nil {
			var status struct {
				Attached bool `json:"attached"`
			}
			if decodeJSON(aiResp, &status) == nil {
				if status.Attached {
					printStatus("AI client", "attached")
				} else {
					printStatus("AI client", "absent (degraded mode)")
				}
			}
		}
	}

	printStatus("Vision model", "%s", cfg.Ollama.VisionModel)
	printStatus("Text model", "%s", cfg.Ollama.TextModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Notes dir", "%s", cfg.Storage.NotesDir)
	return nil
}
