package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/meetgraph/graph"
	"github.com/dshills/meetgraph/graph/emit"
	"github.com/dshills/meetgraph/graph/model"
	"github.com/dshills/meetgraph/graph/model/anthropic"
	"github.com/dshills/meetgraph/graph/model/google"
	"github.com/dshills/meetgraph/graph/model/openai"
	"github.com/dshills/meetgraph/graph/store"
	"github.com/dshills/meetgraph/graph/tool"
	"github.com/dshills/meetgraph/internal/config"
	"github.com/dshills/meetgraph/internal/logging"
	"github.com/dshills/meetgraph/meeting"
	"github.com/dshills/meetgraph/meeting/stt"
)

// app holds everything a command needs.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	out    io.Writer
	errOut io.Writer

	store  store.Checkpointer
	engine *graph.Engine
	usage  *graph.UsageTracker

	tracer  *sdktrace.TracerProvider
	spans   *emit.OTelEmitter
	metrics *http.Server
}

func newApp(ctx context.Context, configPath string, stdout, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, out: stdout, errOut: stderr, usage: graph.NewUsageTracker()}

	a.store, err = openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics := graph.NewPrometheusMetrics(registry)
	if cfg.Metrics.Addr != "" {
		if err := a.serveMetrics(cfg.Metrics.Addr, registry); err != nil {
			a.Close()
			return nil, err
		}
	}

	emitters := []emit.Emitter{emit.NewLogEmitter(logger)}
	if cfg.Tracing.Enabled {
		a.tracer, err = newTracerProvider(stderr)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("tracing: %w", err)
		}
		a.spans = emit.NewOTelEmitter(a.tracer.Tracer("meetgraph"))
		emitters = append(emitters, a.spans)
	}

	pipeline, err := newPipeline(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.engine, err = meeting.Build(pipeline, a.store,
		graph.WithLogger(logger),
		graph.WithEmitter(emit.NewMultiEmitter(emitters...)),
		graph.WithMetrics(metrics),
		graph.WithUsageTracker(a.usage),
		graph.WithMaxSteps(cfg.Engine.MaxSteps),
		graph.WithDefaultStageTimeout(cfg.Engine.StageTimeout),
		graph.WithPolicies(cfg.Engine.Policies),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the store, flushes spans and stops the metrics server.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.metrics != nil {
		_ = a.metrics.Shutdown(ctx)
	}
	if a.tracer != nil {
		if n := a.spans.Flush(ctx); n > 0 {
			a.logger.Debug("closed interrupted job spans", "count", n)
		}
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", "error", err)
		}
	}
}

func (a *app) serveMetrics(addr string, registry *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	a.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

func openStore(cfg config.StoreConfig) (store.Checkpointer, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemStore(), nil
	case config.DriverSQLite:
		return store.NewSQLiteStore(cfg.DSN)
	case config.DriverMySQL:
		return store.NewMySQLStore(cfg.DSN)
	case config.DriverPostgres:
		return store.NewPostgresStore(cfg.DSN)
	case config.DriverBadger:
		return store.NewBadgerStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newChatModel(cfg config.LLMConfig) (model.ChatModel, string, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		var opts []anthropic.Option
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		name := cfg.Model
		if name == "" {
			name = anthropic.DefaultModel
		}
		return anthropic.NewChatModel(cfg.APIKey, name, opts...), name, nil
	case config.ProviderOpenAI:
		var opts []openai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.JSONMode {
			opts = append(opts, openai.WithJSONMode())
		}
		name := cfg.Model
		if name == "" {
			name = openai.DefaultModel
		}
		return openai.NewChatModel(cfg.APIKey, name, opts...), name, nil
	case config.ProviderGoogle:
		var opts []google.Option
		if cfg.JSONMode {
			opts = append(opts, google.WithJSONMode())
		}
		name := cfg.Model
		if name == "" {
			name = google.DefaultModel
		}
		return google.NewChatModel(cfg.APIKey, name, opts...), name, nil
	default:
		return nil, "", fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func newPipeline(cfg config.Config, logger *slog.Logger) (*meeting.Pipeline, error) {
	llm, modelName, err := newChatModel(cfg.LLM)
	if err != nil {
		return nil, err
	}
	sink, err := meeting.NewFileSink(cfg.MinutesDir)
	if err != nil {
		return nil, err
	}

	tools := make(map[string]tool.Tool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		var opts []tool.WebhookOption
		if t.Token != "" {
			opts = append(opts, tool.WithBearerToken(t.Token))
		}
		tools[t.Name] = tool.NewWebhookTool(t.Name, t.URL, opts...)
	}

	return &meeting.Pipeline{
		Transcriber: stt.NewClovaClient(cfg.STT.URL, cfg.STT.APIKey,
			stt.WithLanguage(cfg.STT.Language),
			stt.WithSpeakerRange(cfg.STT.MinSpeakers, cfg.STT.MaxSpeakers),
		),
		LLM:       llm,
		ModelName: modelName,
		Sink:      sink,
		Tools:     tools,
		Logger:    logger,
		Policies:  cfg.Engine.Policies,
	}, nil
}
