package product

import (
	"strings"

	"github.com/go-faster/errors"
)

// ImageResolver rewrites raw image paths to absolute URLs under the canonical
// domain of the owning retailer. The table is static and not part of product
// data.
type ImageResolver struct {
	domains map[string]string
}

// NewImageResolver builds a resolver from a retailer id -> domain table.
func NewImageResolver(domains map[string]string) *ImageResolver {
	r := &ImageResolver{domains: make(map[string]string, len(domains))}
	for id, domain := range domains {
		domain = strings.TrimRight(strings.TrimSpace(domain), "/")
		if id == "" || domain == "" {
			continue
		}
		if !strings.Contains(domain, "://") {
			domain = "https://" + domain
		}
		r.domains[id] = domain
	}
	return r
}

// ParseDomainTable parses "id=domain" entries.
func ParseDomainTable(entries []string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		id, domain, ok := strings.Cut(e, "=")
		if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(domain) == "" {
			return nil, errors.Errorf("invalid retailer domain entry %q: want id=domain", e)
		}
		out[strings.TrimSpace(id)] = strings.TrimSpace(domain)
	}
	return out, nil
}

// Resolve returns the image URL for raw owned by retailerID. Raw paths of
// unmapped retailers and already absolute URLs are returned unchanged.
func (r *ImageResolver) Resolve(retailerID, raw string) string {
	if r == nil || raw == "" || isAbsolute(raw) {
		return raw
	}
	domain, ok := r.domains[retailerID]
	if !ok {
		return raw
	}
	return domain + "/" + strings.TrimLeft(raw, "/")
}

// Apply resolves the image of every product in place.
func (r *ImageResolver) Apply(products []Product) {
	for i := range products {
		p := &products[i]
		if p.RawImage == "" {
			p.RawImage = p.ImageURL
		}
		p.ImageURL = r.Resolve(p.RetailerID, p.RawImage)
	}
}

func isAbsolute(raw string) bool {
	return strings.HasPrefix(raw, "http://") ||
		strings.HasPrefix(raw, "https://") ||
		strings.HasPrefix(raw, "//")
}
