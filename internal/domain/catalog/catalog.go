// Package catalog maintains the current product query (search term, filters,
// page) and executes it against the remote catalog.
//
// Every query change starts a new fetch and bumps a generation counter. Only the
// response to the latest generation may update the result set; responses to
// superseded queries are discarded on arrival, whatever order they arrive in.
package catalog

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/shopwise/internal/domain/apierr"
	"github.com/xenking/shopwise/internal/domain/product"
)

// PageSize is the number of products requested per page.
const PageSize = 24

// Filter names a catalog filter.
type Filter string

const (
	FilterCategory Filter = "category"
	FilterRetailer Filter = "retailer"
)

// ErrUnknownFilter is returned by SetFilter for names other than category and
// retailer.
var ErrUnknownFilter = errors.New("unknown filter")

// Query is the tuple defining a product listing request. Empty Category or
// Retailer means no filter.
type Query struct {
	Search   string
	Category string
	Retailer string
	Page     int
}

// Source is the remote catalog.
type Source interface {
	ListProducts(ctx context.Context, q Query, pageSize int) (*product.Page, error)
	ListCategories(ctx context.Context) ([]product.Option, error)
	ListRetailers(ctx context.Context) ([]product.Option, error)
	GetProduct(ctx context.Context, id int64) (*product.Product, error)
	Compare(ctx context.Context, term string) (map[string][]product.Product, error)
}

// State is a snapshot of the engine.
type State struct {
	Query Query
	// Products, TotalPages and Count come from the latest applied response.
	Products   []product.Product
	TotalPages int
	Count      int
	Loading    bool
	Err        error
	Version    uint64
}

// StateVersion implements observe.Versioned.
func (s State) StateVersion() uint64 { return s.Version }

// Options are the filter option lists.
type Options struct {
	Categories []product.Option
	Retailers  []product.Option
}

// Intent is a batch of query changes applied atomically. A nil field leaves the
// value unchanged; Page zero leaves the page unchanged.
type Intent struct {
	Search   *string
	Category *string
	Retailer *string
	Page     int
}

// ValidatePage reports a field error on "page" for n < 1.
func ValidatePage(n int) error {
	if n < 1 {
		v := &apierr.ValidationError{}
		v.Add("page", "Page must be a positive number")
		return v
	}
	return nil
}

func (in Intent) resetsPage() bool {
	return in.Search != nil || in.Category != nil || in.Retailer != nil
}

// Fetch tracks one triggered query.
type Fetch struct {
	Generation uint64
	Query      Query

	done    chan struct{}
	applied bool
}

// Done is closed when the fetch resolved, applied or discarded.
func (f *Fetch) Done() <-chan struct{} { return f.done }

// Applied reports whether the response updated the state. Valid after Done.
func (f *Fetch) Applied() bool {
	select {
	case <-f.done:
		return f.applied
	default:
		return false
	}
}

// Wait blocks until the fetch resolves and reports whether it was applied.
func (f *Fetch) Wait(ctx context.Context) bool {
	select {
	case <-f.done:
		return f.applied
	case <-ctx.Done():
		return false
	}
}
