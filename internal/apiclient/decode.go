package apiclient

import (
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopwise/internal/domain/product"
	"github.com/xenking/shopwise/internal/domain/user"
)

// jsonObject encodes string key/value pairs as a JSON object.
func jsonObject(kv ...string) []byte {
	var e jx.Encoder
	e.ObjStart()
	for i := 0; i+1 < len(kv); i += 2 {
		e.FieldStart(kv[i])
		e.Str(kv[i+1])
	}
	e.ObjEnd()
	return e.Bytes()
}

// str reads a string, accepting null and scalars as their text form.
func str(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Null:
		return "", d.Null()
	case jx.Number:
		raw, err := d.Raw()
		if err != nil {
			return "", err
		}
		return raw.String(), nil
	case jx.Bool:
		b, err := d.Bool()
		return strconv.FormatBool(b), err
	default:
		return "", d.Skip()
	}
}

// id reads an integer id that may be encoded as a number or a string.
func id(d *jx.Decoder) (int64, error) {
	s, err := str(d)
	if err != nil || s == "" {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse id %q", s)
	}
	return v, nil
}

func boolean(d *jx.Decoder) (bool, error) {
	switch d.Next() {
	case jx.Bool:
		return d.Bool()
	case jx.Null:
		return false, d.Null()
	default:
		s, err := str(d)
		if err != nil {
			return false, err
		}
		return s == "true" || s == "1", nil
	}
}

func decodeUser(d *jx.Decoder) (*user.User, error) {
	var u user.User
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			u.ID, err = id(d)
		case "username":
			u.Username, err = str(d)
		case "email":
			u.Email, err = str(d)
		case "first_name":
			u.FirstName, err = str(d)
		case "last_name":
			u.LastName, err = str(d)
		case "avatar":
			u.Avatar, err = str(d)
		case "postal_code":
			u.PostalCode, err = str(d)
		case "suburb":
			u.Suburb, err = str(d)
		case "phone_number":
			u.PhoneNumber, err = str(d)
		case "is_email_verified", "email_verified":
			u.IsEmailVerified, err = boolean(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode user")
	}
	return &u, nil
}

// decodeRef reads a related record delivered either as its id or as an
// embedded {id, name} object.
func decodeRef(d *jx.Decoder) (refID, name string, err error) {
	if d.Next() != jx.Object {
		refID, err = str(d)
		return refID, "", err
	}
	err = d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			refID, err = str(d)
		case "name":
			name, err = str(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return refID, name, err
}

func decodePrice(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := str(d)
	if err != nil || s == "" {
		return decimal.Zero, err
	}
	p, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse price %q", s)
	}
	return p, nil
}

// decodePriceHistory returns the last price of a [{price, created_at}] list.
func decodePriceHistory(d *jx.Decoder) (decimal.Decimal, bool, error) {
	var (
		last decimal.Decimal
		ok   bool
	)
	err := d.Arr(func(d *jx.Decoder) error {
		if d.Next() != jx.Object {
			p, err := decodePrice(d)
			last, ok = p, true
			return err
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "price" {
				return d.Skip()
			}
			p, err := decodePrice(d)
			last, ok = p, true
			return err
		})
	})
	return last, ok, err
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var (
		p        product.Product
		hasPrice bool
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = id(d)
		case "name":
			p.Name, err = str(d)
		case "description":
			p.Description, err = str(d)
		case "image_url", "image":
			p.ImageURL, err = str(d)
		case "product_url", "url":
			p.ProductURL, err = str(d)
		case "category":
			p.CategoryID, p.CategoryName, err = decodeRef(d)
		case "retailer":
			p.RetailerID, p.RetailerName, err = decodeRef(d)
		case "price", "current_price":
			p.Price, err = decodePrice(d)
			hasPrice = true
		case "prices":
			if d.Next() != jx.Array {
				return d.Skip()
			}
			var (
				last decimal.Decimal
				ok   bool
			)
			last, ok, err = decodePriceHistory(d)
			if ok && !hasPrice {
				p.Price = last
			}
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return p, errors.Wrap(err, "decode product")
	}
	p.Price = product.NormalizePrice(p.Price)
	p.RawImage = p.ImageURL
	return p, nil
}

func decodeProducts(d *jx.Decoder) ([]product.Product, error) {
	products := []product.Product{}
	err := d.Arr(func(d *jx.Decoder) error {
		p, err := decodeProduct(d)
		if err != nil {
			return err
		}
		products = append(products, p)
		return nil
	})
	return products, err
}

// decodePage reads {results, current_page, total_pages, count}. Missing
// pagination fields are derived from the request.
func decodePage(d *jx.Decoder, page, pageSize int) (*product.Page, error) {
	out := &product.Page{Products: []product.Product{}}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var (
			err error
			n   int64
		)
		switch key {
		case "results":
			out.Products, err = decodeProducts(d)
		case "current_page":
			n, err = id(d)
			out.CurrentPage = int(n)
		case "total_pages":
			n, err = id(d)
			out.TotalPages = int(n)
		case "count":
			n, err = id(d)
			out.Count = int(n)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode page")
	}
	if out.CurrentPage == 0 {
		out.CurrentPage = page
	}
	if out.TotalPages == 0 && out.Count > 0 && pageSize > 0 {
		out.TotalPages = (out.Count + pageSize - 1) / pageSize
	}
	return out, nil
}

// decodeOptions reads a list of {id, name}, bare or wrapped in a paginated
// {results} object.
func decodeOptions(d *jx.Decoder) ([]product.Option, error) {
	opts := []product.Option{}
	list := func(d *jx.Decoder) error {
		return d.Arr(func(d *jx.Decoder) error {
			optID, name, err := decodeRef(d)
			if err != nil {
				return err
			}
			opts = append(opts, product.Option{ID: optID, Name: name})
			return nil
		})
	}

	var err error
	if d.Next() == jx.Object {
		err = d.Obj(func(d *jx.Decoder, key string) error {
			if key == "results" {
				return list(d)
			}
			return d.Skip()
		})
	} else {
		err = list(d)
	}
	if err != nil {
		return nil, errors.Wrap(err, "decode options")
	}
	return opts, nil
}

func decodeCompare(d *jx.Decoder) (map[string][]product.Product, error) {
	out := make(map[string][]product.Product)
	err := d.Obj(func(d *jx.Decoder, retailer string) error {
		if d.Next() != jx.Array {
			return d.Skip()
		}
		products, err := decodeProducts(d)
		if err != nil {
			return err
		}
		for i := range products {
			if products[i].RetailerName == "" {
				products[i].RetailerName = retailer
			}
		}
		out[retailer] = products
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode comparison")
	}
	return out, nil
}

// decodeMessage reads the "message" (or "detail") field of an object body.
func decodeMessage(d *jx.Decoder) (string, error) {
	var msg string
	if d.Next() != jx.Object {
		return "", d.Skip()
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "message", "detail":
			s, err := str(d)
			if msg == "" {
				msg = s
			}
			return err
		default:
			return d.Skip()
		}
	})
	return msg, err
}

// errorBody is the structured failure payload of the API.
type errorBody struct {
	Detail  string
	Message string
	Error   string
	// Fields holds the first message per field, FieldOrder their order of
	// appearance.
	Fields     map[string]string
	FieldOrder []string
}

// text returns the user-visible message: detail, message, error, then the
// first field error.
func (b *errorBody) text() string {
	for _, s := range []string{b.Detail, b.Message, b.Error} {
		if s != "" {
			return s
		}
	}
	if len(b.FieldOrder) > 0 {
		return b.Fields[b.FieldOrder[0]]
	}
	return ""
}

// messages reads a string or a list of strings and returns the first.
func messages(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Array:
		var first string
		err := d.Arr(func(d *jx.Decoder) error {
			s, err := messages(d)
			if first == "" {
				first = s
			}
			return err
		})
		return first, err
	case jx.Object:
		var first string
		err := d.Obj(func(d *jx.Decoder, _ string) error {
			s, err := messages(d)
			if first == "" {
				first = s
			}
			return err
		})
		return first, err
	default:
		return str(d)
	}
}

func parseErrorBody(data []byte) (*errorBody, bool) {
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return nil, false
	}
	b := &errorBody{Fields: make(map[string]string)}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		msg, err := messages(d)
		if err != nil {
			return err
		}
		msg = strings.TrimSpace(msg)
		switch key {
		case "detail":
			b.Detail = msg
		case "message":
			b.Message = msg
		case "error":
			b.Error = msg
		default:
			if msg == "" {
				return nil
			}
			if _, ok := b.Fields[key]; !ok {
				b.Fields[key] = msg
				b.FieldOrder = append(b.FieldOrder, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false
	}
	return b, true
}
