package product

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the read-only catalog projection shown to users.
type Product struct {
	ID          int64
	Name        string
	Description string
	// ImageURL is the resolved image reference. RawImage keeps the path as
	// delivered by the catalog.
	ImageURL   string
	RawImage   string
	ProductURL string
	Price      decimal.Decimal
	RetailerID string
	CategoryID string
	// RetailerName and CategoryName are set when the catalog embeds the
	// related record instead of its id.
	RetailerName string
	CategoryName string
}

// Option is a named filter value (category or retailer).
type Option struct {
	ID   string
	Name string
}

// Page is one page of catalog results.
type Page struct {
	Products    []Product
	CurrentPage int
	TotalPages  int
	Count       int
}

// NormalizePrice floors negative prices at zero.
func NormalizePrice(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}
