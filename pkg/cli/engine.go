package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/fantasm"
	"github.com/aretw0/fantasm/internal/logging"
	"github.com/aretw0/fantasm/pkg/action"
	"github.com/aretw0/fantasm/pkg/adapters/memory"
	"github.com/aretw0/fantasm/pkg/adapters/redis"
	"github.com/aretw0/fantasm/pkg/config"
	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/aretw0/fantasm/pkg/graph"
	"github.com/aretw0/fantasm/pkg/persistence/middleware"
	"github.com/aretw0/fantasm/pkg/ports"
)

// Retention of the Redis records the engine writes.
const (
	recordTTL    = 7 * 24 * time.Hour
	counterTTL   = 24 * time.Hour
	tombstoneTTL = 7 * 24 * time.Hour
)

func (o *Options) logger() (*slog.Logger, error) {
	level, err := logging.ParseLevel(o.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(level, o.LogFormat), nil
}

// loadGraph reads and resolves the configured definition file.
func loadGraph(opts *Options, reg *action.Registry) (*graph.Graph, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		reg = Placeholders(cfg)
	}
	return graph.Resolve(cfg, reg)
}

// createEngine builds an engine on Redis when redisURL is set and on the
// in-memory adapters otherwise. Work packages are sealed when the options
// carry an encryption key.
func createEngine(ctx context.Context, opts *Options, g *graph.Graph, redisURL string, logger *slog.Logger, extra ...fantasm.Option) (*fantasm.Engine, error) {
	mws, err := opts.storeMiddleware()
	if err != nil {
		return nil, err
	}
	engineOpts := []fantasm.Option{fantasm.WithLogger(logger)}
	var store ports.DurableStore = memory.NewStore()
	if redisURL != "" {
		client, err := redis.Open(ctx, redisURL)
		if err != nil {
			return nil, err
		}
		store = redis.NewStore(client, recordTTL)
		engineOpts = append(engineOpts,
			fantasm.WithQueue(redis.NewQueue(client, tombstoneTTL)),
			fantasm.WithCache(redis.NewCache(client, counterTTL)),
		)
	}
	engineOpts = append(engineOpts, fantasm.WithStore(middleware.Chain(store, mws...)))

	eng, err := fantasm.New(g, append(engineOpts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	return eng, nil
}

// storeMiddleware decodes the hex encryption keys, if any.
func (o *Options) storeMiddleware() ([]middleware.Middleware, error) {
	if o.EncryptionKey == "" {
		return nil, nil
	}
	cfg := middleware.EncryptionConfig{}
	active, err := hex.DecodeString(o.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	cfg.ActiveKey = active
	for _, k := range o.FallbackKeys {
		fallback, err := hex.DecodeString(k)
		if err != nil {
			return nil, fmt.Errorf("invalid fallback key: %w", err)
		}
		cfg.FallbackKeys = append(cfg.FallbackKeys, fallback)
	}
	mw, err := middleware.NewEncryptionMiddleware(cfg)
	if err != nil {
		return nil, err
	}
	return []middleware.Middleware{mw}, nil
}

// Placeholders binds every action named in cfg to a no-op that satisfies
// all action capabilities.
func Placeholders(cfg *config.Config) *action.Registry {
	reg := action.NewRegistry()
	add := func(name string) {
		if name != "" {
			reg.Register(name, placeholder{})
		}
	}
	for _, m := range cfg.Machines {
		for _, s := range m.States {
			add(s.Entry)
			add(s.Action)
			add(s.Exit)
			for _, t := range s.Transitions {
				add(t.Action)
			}
		}
	}
	return reg
}

type placeholder struct{}

func (placeholder) Execute(ctx context.Context, ec *domain.Context) action.Result {
	return action.Done()
}

func (placeholder) ExecuteList(ctx context.Context, batch domain.Contexts) action.Result {
	return action.Done()
}

func (placeholder) Continuation(ctx context.Context, ec *domain.Context, token string) (string, error) {
	return "", nil
}
