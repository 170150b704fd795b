package catalog

import (
	"context"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/shopwise/internal/domain/apierr"
	"github.com/xenking/shopwise/internal/domain/product"
	"github.com/xenking/shopwise/internal/observe"
)

// EngineConfig holds non-dependency configuration for the Engine.
type EngineConfig struct {
	// Images resolves product image paths. Nil leaves paths unchanged.
	Images *product.ImageResolver
	Logger *zap.Logger
	Meter  metric.MeterProvider
}

// Engine owns the catalog query and its result set.
type Engine struct {
	src    Source
	images *product.ImageResolver
	lg     *zap.Logger

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	state      State

	subs observe.Broadcaster[State]

	optMu    sync.Mutex
	options  *Options
	optGroup singleflight.Group

	started metric.Int64Counter
	stale   metric.Int64Counter
}

// NewEngine creates an Engine with an empty query on page 1. No fetch is
// started until a query method is called.
func NewEngine(cfg EngineConfig, src Source) *Engine {
	e := &Engine{
		src:    src,
		images: cfg.Images,
		lg:     cfg.Logger,
		state:  State{Query: Query{Page: 1}},
	}
	if e.lg == nil {
		e.lg = zap.NewNop()
	}
	mp := cfg.Meter
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("github.com/xenking/shopwise/catalog")

	var err error
	if e.started, err = meter.Int64Counter("shopwise.catalog.queries",
		metric.WithDescription("Catalog queries triggered")); err != nil {
		e.lg.Warn("Create query counter", zap.Error(err))
	}
	if e.stale, err = meter.Int64Counter("shopwise.catalog.stale_responses",
		metric.WithDescription("Responses discarded because a newer query was triggered")); err != nil {
		e.lg.Warn("Create stale counter", zap.Error(err))
	}
	return e
}

// State returns the current snapshot.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Subscribe registers fn for state-change notifications.
func (e *Engine) Subscribe(fn func(State)) (unsubscribe func()) {
	return e.subs.Subscribe(fn)
}

func (e *Engine) snapshotLocked() State {
	s := e.state
	s.Products = append([]product.Product(nil), e.state.Products...)
	return s
}

// SetSearchTerm replaces the search term and resets the page to 1.
func (e *Engine) SetSearchTerm(ctx context.Context, term string) *Fetch {
	f, _ := e.Apply(ctx, Intent{Search: &term})
	return f
}

// SetFilter sets the named filter and resets the page to 1. An empty value
// clears the filter.
func (e *Engine) SetFilter(ctx context.Context, name Filter, value string) (*Fetch, error) {
	switch name {
	case FilterCategory:
		return e.Apply(ctx, Intent{Category: &value})
	case FilterRetailer:
		return e.Apply(ctx, Intent{Retailer: &value})
	default:
		return nil, errors.Wrapf(ErrUnknownFilter, "%q", name)
	}
}

// SetPage moves to page n, keeping search term and filters.
func (e *Engine) SetPage(ctx context.Context, n int) (*Fetch, error) {
	if err := ValidatePage(n); err != nil {
		return nil, err
	}
	return e.Apply(ctx, Intent{Page: n})
}

// Refresh re-runs the current query.
func (e *Engine) Refresh(ctx context.Context) *Fetch {
	f, _ := e.Apply(ctx, Intent{})
	return f
}

// Apply applies a batch of query changes and triggers one fetch. Search or
// filter changes always reset the page to 1, even when the same batch carries
// a page change.
func (e *Engine) Apply(ctx context.Context, in Intent) (*Fetch, error) {
	if in.Page != 0 {
		if err := ValidatePage(in.Page); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	q := e.state.Query
	if in.Search != nil {
		q.Search = *in.Search
	}
	if in.Category != nil {
		q.Category = strings.TrimSpace(*in.Category)
	}
	if in.Retailer != nil {
		q.Retailer = strings.TrimSpace(*in.Retailer)
	}
	switch {
	case in.resetsPage():
		q.Page = 1
	case in.Page > 0:
		q.Page = in.Page
	}

	if e.cancel != nil {
		// Results of the superseded fetch are discarded by generation.
		e.cancel()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.generation++
	f := &Fetch{Generation: e.generation, Query: q, done: make(chan struct{})}

	e.state.Query = q
	e.state.Loading = true
	e.state.Err = nil
	e.state.Version++
	snap := e.snapshotLocked()
	e.mu.Unlock()

	if e.started != nil {
		e.started.Add(ctx, 1)
	}
	e.subs.Publish(snap)

	go e.run(fetchCtx, cancel, f)
	return f, nil
}

func (e *Engine) run(ctx context.Context, cancel context.CancelFunc, f *Fetch) {
	defer close(f.done)
	defer cancel()

	page, err := e.src.ListProducts(ctx, f.Query, PageSize)

	e.mu.Lock()
	if f.Generation != e.generation {
		e.mu.Unlock()
		if e.stale != nil {
			e.stale.Add(context.WithoutCancel(ctx), 1)
		}
		zctx.From(ctx).Debug("Discard superseded catalog response",
			zap.Uint64("generation", f.Generation),
			zap.Error(err),
		)
		return
	}

	if err != nil {
		e.state.Products = nil
		e.state.TotalPages = 0
		e.state.Count = 0
		e.state.Err = err
	} else {
		products := append([]product.Product(nil), page.Products...)
		e.images.Apply(products)
		e.state.Products = products
		e.state.TotalPages = page.TotalPages
		e.state.Count = page.Count
		e.state.Err = nil
	}
	e.state.Loading = false
	e.state.Version++
	e.cancel = nil
	f.applied = true
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.subs.Publish(snap)
}

// Options returns the category and retailer option lists. They are fetched
// concurrently on first use and cached for the lifetime of the engine; a
// failed fetch is not cached.
func (e *Engine) Options(ctx context.Context) (Options, error) {
	if opts, ok := e.cachedOptions(); ok {
		return opts, nil
	}

	v, err, _ := e.optGroup.Do("options", func() (any, error) {
		if opts, ok := e.cachedOptions(); ok {
			return opts, nil
		}

		var opts Options
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			categories, err := e.src.ListCategories(gctx)
			if err != nil {
				return errors.Wrap(err, "list categories")
			}
			opts.Categories = categories
			return nil
		})
		g.Go(func() error {
			retailers, err := e.src.ListRetailers(gctx)
			if err != nil {
				return errors.Wrap(err, "list retailers")
			}
			opts.Retailers = retailers
			return nil
		})
		if err := g.Wait(); err != nil {
			return Options{}, err
		}

		e.optMu.Lock()
		e.options = &opts
		e.optMu.Unlock()
		return opts, nil
	})
	if err != nil {
		return Options{}, err
	}
	return copyOptions(v.(Options)), nil
}

func (e *Engine) cachedOptions() (Options, bool) {
	e.optMu.Lock()
	defer e.optMu.Unlock()
	if e.options == nil {
		return Options{}, false
	}
	return copyOptions(*e.options), true
}

func copyOptions(o Options) Options {
	return Options{
		Categories: append([]product.Option(nil), o.Categories...),
		Retailers:  append([]product.Option(nil), o.Retailers...),
	}
}

// Product returns a single product with its image resolved.
func (e *Engine) Product(ctx context.Context, id int64) (*product.Product, error) {
	p, err := e.src.GetProduct(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	products := []product.Product{*p}
	e.images.Apply(products)
	return &products[0], nil
}

// Compare returns products matching term grouped by retailer name.
func (e *Engine) Compare(ctx context.Context, term string) (map[string][]product.Product, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		v := &apierr.ValidationError{}
		v.Add("search", "Please provide a search term")
		return nil, v
	}

	groups, err := e.src.Compare(ctx, term)
	if err != nil {
		return nil, errors.Wrap(err, "compare products")
	}
	for retailer, products := range groups {
		e.images.Apply(products)
		groups[retailer] = products
	}
	return groups, nil
}
