// Package app wires the ShopWise client together: configuration, session
// storage, the API client and the domain components.
package app

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/shopwise/internal/apiclient"
	"github.com/xenking/shopwise/internal/domain/apierr"
	"github.com/xenking/shopwise/internal/domain/auth"
	"github.com/xenking/shopwise/internal/domain/catalog"
	"github.com/xenking/shopwise/internal/domain/product"
	"github.com/xenking/shopwise/internal/domain/session"
	"github.com/xenking/shopwise/internal/domain/user"
	"github.com/xenking/shopwise/internal/storage/filestore"
	"github.com/xenking/shopwise/internal/storage/memstore"
	"github.com/xenking/shopwise/internal/storage/postgres"
	"github.com/xenking/shopwise/internal/storage/redisstore"
	"github.com/xenking/shopwise/pkg/connectivity"
	"github.com/xenking/shopwise/pkg/httptransport"
)

// Deps are optional collaborators of New.
type Deps struct {
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	// KV replaces the configured session storage.
	KV session.KV
	// Transport is the base transport of the API client.
	Transport http.RoundTripper
}

// App is the client facade. Gateway results that change the session are
// forwarded to the Session Store here.
type App struct {
	Session *session.Store
	Auth    *auth.Gateway
	Catalog *catalog.Engine
	Client  *apiclient.Client
	Monitor *connectivity.Monitor

	lg      *zap.Logger
	cancel  context.CancelFunc
	closers []func()
}

// New creates every dependency. Background work (connectivity checks, the
// throttle cleanup) lives until Close.
func New(ctx context.Context, cfg *Config, deps Deps) (_ *App, rerr error) {
	lg := deps.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	mp := deps.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	tp := deps.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	lg.Debug("Initializing",
		zap.String("base_url", cfg.BaseURL),
		zap.String("storage", cfg.Storage.Driver),
	)

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &App{lg: lg, cancel: cancel}
	defer func() {
		if rerr != nil {
			a.Close()
		}
	}()

	kv := deps.KV
	if kv == nil {
		var err error
		if kv, err = a.openStorage(ctx, cfg.Storage); err != nil {
			return nil, errors.Wrap(err, "open storage")
		}
	}

	a.Monitor = connectivity.New(lg.Named("connectivity"))
	if !cfg.Connectivity.Disabled {
		addr, err := connectivity.HostPort(cfg.BaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "connectivity target")
		}
		a.Monitor.AddCheck("api", cfg.Connectivity.Timeout, connectivity.DialCheck(addr))
		a.Monitor.Start(bg, cfg.Connectivity.Interval)
		a.closers = append(a.closers, a.Monitor.Stop)
	}

	client, err := apiclient.New(apiclient.Config{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		Transport: deps.Transport,
		Middlewares: []httptransport.Middleware{
			httptransport.ThrottleWithCleanup(bg, httptransport.ThrottleConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
		},
		Monitor:        a.Monitor,
		Logger:         lg.Named("api"),
		TracerProvider: tp,
		MeterProvider:  mp,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create api client")
	}
	a.Client = client

	a.Session = session.New(kv, client,
		session.WithLogger(lg.Named("session")),
		session.WithMeterProvider(mp),
	)
	a.Auth = auth.NewGateway(auth.GatewayConfig{
		RedirectAfter: cfg.VerifyRedirectDelay,
		Logger:        lg.Named("auth"),
	}, client, a.Session)

	domains, err := cfg.RetailerDomains()
	if err != nil {
		return nil, err
	}
	a.Catalog = catalog.NewEngine(catalog.EngineConfig{
		Images: product.NewImageResolver(domains),
		Logger: lg.Named("catalog"),
		Meter:  mp,
	}, client)

	return a, nil
}

func (a *App) openStorage(ctx context.Context, cfg StorageConfig) (session.KV, error) {
	switch cfg.Driver {
	case DriverMemory:
		return memstore.New(), nil
	case DriverRedis:
		rdb, err := redisstore.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		return redisstore.New(rdb, cfg.RedisPrefix), nil
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return nil, err
		}
		return postgres.New(pool, cfg.Namespace), nil
	default:
		path := cfg.Path
		if path == "" {
			var err error
			if path, err = filestore.DefaultPath(); err != nil {
				return nil, err
			}
		}
		return filestore.Open(path)
	}
}

// Close stops background work and releases storage connections. It is safe to
// call Close more than once.
func (a *App) Close() {
	a.cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Restore brings back a persisted session.
func (a *App) Restore(ctx context.Context) session.State {
	return a.Session.Restore(ctx)
}

// Login authenticates and starts a session.
func (a *App) Login(ctx context.Context, email, password string) (*user.User, error) {
	res, err := a.Auth.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := a.Session.Login(ctx, res.User, res.Token); err != nil {
		return nil, errors.Wrap(err, "start session")
	}
	zctx.From(ctx).Debug("Logged in", zap.Int64("user_id", res.User.ID))
	return res.User.Clone(), nil
}

// Logout ends the session. The server is told first, on a best-effort basis:
// the local session ends even when the call fails.
func (a *App) Logout(ctx context.Context) error {
	if token := a.Session.Token(); token != "" {
		if err := a.Client.Logout(ctx, token); err != nil {
			a.lg.Debug("Server logout failed", zap.Error(err))
		}
	}
	return a.Session.Logout(ctx)
}

// ToggleFavorite adds the product to the favorites of the current user, or
// removes it.
func (a *App) ToggleFavorite(ctx context.Context, id int64) (*apiclient.FavoriteResult, error) {
	token := a.Session.Token()
	if token == "" {
		return nil, auth.ErrNotLoggedIn
	}
	res, err := a.Client.ToggleFavorite(ctx, token, id)
	if apierr.IsAuthExpired(err) {
		a.Session.Expire(ctx, token)
	}
	return res, err
}
