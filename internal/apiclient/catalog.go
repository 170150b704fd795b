package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/shopwise/internal/domain/catalog"
	"github.com/xenking/shopwise/internal/domain/product"
)

// Fixed user-visible messages of catalog failures.
const (
	MsgProductsFailed   = "Failed to fetch products"
	MsgCategoriesFailed = "Failed to fetch categories"
	MsgRetailersFailed  = "Failed to fetch retailers"
)

var _ catalog.Source = (*Client)(nil)

// ListProducts implements catalog.Source.
func (c *Client) ListProducts(ctx context.Context, q catalog.Query, pageSize int) (*product.Page, error) {
	params := url.Values{}
	params.Set("search", q.Search)
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("page_size", strconv.Itoa(pageSize))
	if q.Category != "" {
		params.Set("category", q.Category)
	}
	if q.Retailer != "" {
		params.Set("retailer", q.Retailer)
	}

	var page *product.Page
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/products/",
		query:  params,
		fixed:  MsgProductsFailed,
	}, func(_ int, d *jx.Decoder) (err error) {
		page, err = decodePage(d, q.Page, pageSize)
		return err
	})
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = &product.Page{Products: []product.Product{}, CurrentPage: q.Page}
	}
	return page, nil
}

// ListCategories implements catalog.Source.
func (c *Client) ListCategories(ctx context.Context) ([]product.Option, error) {
	return c.listOptions(ctx, "/api/categories/", MsgCategoriesFailed)
}

// ListRetailers implements catalog.Source.
func (c *Client) ListRetailers(ctx context.Context) ([]product.Option, error) {
	return c.listOptions(ctx, "/api/retailers/", MsgRetailersFailed)
}

func (c *Client) listOptions(ctx context.Context, path, fixed string) ([]product.Option, error) {
	opts := []product.Option{}
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   path,
		fixed:  fixed,
	}, func(_ int, d *jx.Decoder) (err error) {
		opts, err = decodeOptions(d)
		return err
	})
	if err != nil {
		return nil, err
	}
	return opts, nil
}

// GetProduct implements catalog.Source.
func (c *Client) GetProduct(ctx context.Context, id int64) (*product.Product, error) {
	var (
		p     product.Product
		found bool
	)
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/products/id=" + strconv.FormatInt(id, 10) + "/",
		accept: []int{http.StatusNotFound},
	}, func(status int, d *jx.Decoder) (err error) {
		if status == http.StatusNotFound {
			return d.Skip()
		}
		p, err = decodeProduct(d)
		found = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(product.ErrNotFound, "id %d", id)
	}
	return &p, nil
}

// Compare implements catalog.Source. A search without matches yields an
// empty comparison.
func (c *Client) Compare(ctx context.Context, term string) (map[string][]product.Product, error) {
	out := map[string][]product.Product{}
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/products/compare/",
		query:  url.Values{"search": {term}},
		accept: []int{http.StatusNotFound},
	}, func(status int, d *jx.Decoder) (err error) {
		if status == http.StatusNotFound {
			return d.Skip()
		}
		out, err = decodeCompare(d)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FavoriteResult is the outcome of a favorite toggle.
type FavoriteResult struct {
	// Added is true when the product became a favorite, false when it was
	// removed.
	Added   bool
	Message string
}

// ToggleFavorite adds the product to the favorites of the session owner, or
// removes it when it already is one.
func (c *Client) ToggleFavorite(ctx context.Context, token string, id int64) (*FavoriteResult, error) {
	res := &FavoriteResult{}
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/products/id=" + strconv.FormatInt(id, 10) + "/favorite/",
		token:  token,
		body:   []byte("{}"),
	}, func(status int, d *jx.Decoder) (err error) {
		res.Added = status == http.StatusCreated
		res.Message, err = decodeMessage(d)
		return err
	})
	if err != nil {
		return nil, err
	}
	if res.Message == "" {
		if res.Added {
			res.Message = "Added to favorites"
		} else {
			res.Message = "Removed from favorites"
		}
	}
	return res, nil
}
