// Command pipelined runs the content moderation queue orchestrator: the
// worker pool, the recovery sweep, and the JSON control API, wired
// together from a YAML bootstrap config. Grounded on the teacher's
// cmd/maestro main: flag-based config path, signal-driven shutdown via an
// errgroup of long-running components.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"contentpipe/internal/api"
	"contentpipe/internal/config"
	"contentpipe/internal/eventlog"
	"contentpipe/internal/handler"
	"contentpipe/internal/limiter"
	"contentpipe/internal/llm"
	"contentpipe/internal/llm/circuitmw"
	"contentpipe/internal/llm/retrymw"
	"contentpipe/internal/llm/timeoutmw"
	"contentpipe/internal/logx"
	"contentpipe/internal/metrics"
	"contentpipe/internal/model"
	"contentpipe/internal/recovery"
	"contentpipe/internal/registry"
	"contentpipe/internal/store"
	"contentpipe/internal/tools"
	"contentpipe/internal/version"
	"contentpipe/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to bootstrap YAML config")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	logger := logx.NewLogger("main")

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal: %v", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *logx.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, b := range cfg.Bindings() {
		if err := st.UpsertEndpoint(ctx, b); err != nil {
			return fmt.Errorf("seed endpoint %s: %w", b.Stage, err)
		}
	}

	reg, err := registry.New(ctx, st)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	events, err := eventlog.New(cfg.EventLogDir)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer events.Close()

	lim := limiter.New()
	searchLimiter := limiter.New()
	searchLimiter.Configure(model.StageResearch, cfg.WebSearchConcurrency, 0)
	searchProvider := tools.NewBraveSearchProvider("")

	handlers := handler.NewRegistry()
	for _, stage := range model.Stages {
		binding, ok := reg.Snapshot(stage)
		if !ok {
			logger.Warn("no endpoint configured for stage %s, its worker loop will idle", stage)
			continue
		}
		handlers.Register(stage, buildHandler(stage, binding, searchProvider, searchLimiter))
	}

	metricsReg := metrics.New()

	pool := worker.New(st, reg, handlers, lim, cfg.InstanceID)
	pool.SetMetrics(metricsReg)
	pool.SetEventLog(events)

	recMgr := recovery.New(st, time.Minute)
	recMgr.SetMetrics(metricsReg)
	recMgr.SetEventLog(events)

	server := api.New(st, reg, recMgr, lim, events)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		pool.Start(ctx)
		<-ctx.Done()
		pool.Stop()
		return nil
	})

	group.Go(func() error {
		recMgr.Run(ctx)
		return nil
	})

	group.Go(func() error {
		logger.Info("control API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	group.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	return group.Wait()
}

// buildHandler wires a default LLMHandler for stage, choosing the
// transport by provider kind and layering the standard resilience
// middleware: timeout, then retry, then circuit breaker innermost. The
// research stage additionally gets web_search, rate limited through
// searchLimiter rather than the stage's own concurrency limiter, since a
// worker holds its concurrency slot for the whole handler call and would
// otherwise starve its own tool calls (internal/tools/web_search.go).
func buildHandler(stage model.Stage, binding model.EndpointBinding, searchProvider tools.SearchProvider, searchLimiter *limiter.Limiter) *handler.LLMHandler {
	var base llm.Client
	switch binding.Provider {
	case model.ProviderCustom:
		base = llm.NewCustomClient(binding)
	default:
		base = llm.NewHostedClient(binding)
	}

	breaker := circuitmw.New(circuitmw.DefaultPolicy())
	client := llm.Chain(base,
		timeoutmw.New(binding.Timeout),
		retrymw.New(retrymw.DefaultPolicy()),
		breaker.Middleware(),
	)

	return &handler.LLMHandler{
		Stage:  stage,
		Client: client,
		Tools: func() (*tools.Registry, *tools.WriteResultTool) {
			w := tools.NewWriteResultTool()
			if stage == model.StageResearch {
				search := tools.NewWebSearchTool(searchProvider, searchLimiter, stage, 5)
				return tools.NewRegistry(w, search), w
			}
			return tools.NewRegistry(w), w
		},
		SystemPrompt:  systemPromptFor(stage),
		ModelName:     binding.Model,
		MaxTokens:     2048,
		Temperature:   0.2,
		MaxIterations: 8,
	}
}

func systemPromptFor(stage model.Stage) string {
	switch stage {
	case model.StageTriage:
		return "You triage incoming content moderation items. Call write_result exactly once with a directive of advance, reject, or retry."
	case model.StageResearch:
		return "You research context for a moderation item, optionally using web_search, then call write_result exactly once."
	case model.StageResponse:
		return "You draft a response for a moderation item, then call write_result exactly once."
	case model.StageEditorial:
		return "You review a drafted response for policy compliance, then call write_result exactly once."
	case model.StagePostQueue:
		return "You perform final checks before an item is queued for posting, then call write_result exactly once."
	default:
		return "Call write_result exactly once with your decision."
	}
}
