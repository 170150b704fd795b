// Package apitest runs an in-process fake of the ShopWise API for tests.
package apitest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopwise/internal/domain/product"
	"github.com/xenking/shopwise/internal/domain/user"
)

// Account is a registered user with its password.
type Account struct {
	User     user.User
	Password string
}

// Request is a recorded incoming request.
type Request struct {
	Method string
	Path   string
	Query  map[string]string
	// Form holds JSON or multipart fields.
	Form   map[string]string
	Files  map[string][]byte
	Header http.Header
}

// Server is a fake ShopWise API. State is changed through its methods, which
// are safe to call while requests are in flight.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	accounts     map[string]*Account // by email
	tokens       map[string]string   // token -> email
	verifyTokens map[string]string   // token -> email
	products     []product.Product
	categories   []product.Option
	retailers    []product.Option
	favorites    map[string]map[int64]bool
	failures     map[string]int
	requests     []Request

	// OnRequest runs before every handler, outside the server lock. Set it
	// before the first request.
	OnRequest func(r *http.Request)
}

// New starts a fake API. Close it with Close.
func New() *Server {
	s := &Server{
		accounts:     make(map[string]*Account),
		tokens:       make(map[string]string),
		verifyTokens: make(map[string]string),
		favorites:    make(map[string]map[int64]bool),
		failures:     make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login/", s.login)
	mux.HandleFunc("POST /auth/register/", s.register)
	mux.HandleFunc("POST /auth/verify-email/", s.verifyEmail)
	mux.HandleFunc("POST /auth/password-reset/", s.passwordReset)
	mux.HandleFunc("POST /auth/logout/", s.logout)
	mux.HandleFunc("GET /auth/profile/", s.getProfile)
	mux.HandleFunc("PUT /auth/profile/", s.putProfile)
	mux.HandleFunc("GET /api/categories/", s.listCategories)
	mux.HandleFunc("GET /api/retailers/", s.listRetailers)
	mux.HandleFunc("GET /api/products/", s.listProducts)
	mux.HandleFunc("GET /api/products/compare/", s.compare)
	mux.HandleFunc("GET /api/products/{ref}/", s.getProduct)
	mux.HandleFunc("POST /api/products/{ref}/favorite/", s.toggleFavorite)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		if s.OnRequest != nil {
			s.OnRequest(r)
		}
		s.mu.Lock()
		status, fail := s.failures[r.URL.Path]
		s.mu.Unlock()
		if fail {
			writeJSON(w, status, map[string]any{"detail": "forced failure"})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	return s
}

// AddAccount registers an account directly and returns it.
func (s *Server) AddAccount(u user.User, password string) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = int64(len(s.accounts) + 1)
	}
	a := &Account{User: u, Password: password}
	s.accounts[u.Email] = a
	return a
}

// IssueToken creates a valid bearer token for email.
func (s *Server) IssueToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := uuid.NewString()
	s.tokens[tok] = email
	return tok
}

// RevokeTokens invalidates every issued bearer token.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]string)
}

// AddVerifyToken registers a one-time email verification token.
func (s *Server) AddVerifyToken(token, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyTokens[token] = email
}

// SetCatalog replaces the catalog data.
func (s *Server) SetCatalog(categories, retailers []product.Option, products []product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = categories
	s.retailers = retailers
	s.products = products
}

// Fail makes every request to path answer with status until cleared with
// status 0.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, path)
		return
	}
	s.failures[path] = status
}

// Requests returns the recorded requests.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsTo returns the recorded requests with the given method and path.
func (s *Server) RequestsTo(method, path string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Profile returns the stored profile of email.
func (s *Server) Profile(email string) (user.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[email]
	if !ok {
		return user.User{}, false
	}
	return a.User, true
}

func (s *Server) record(r *http.Request) {
	rec := Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  make(map[string]string),
		Form:   make(map[string]string),
		Files:  make(map[string][]byte),
		Header: r.Header.Clone(),
	}
	for k := range r.URL.Query() {
		rec.Query[k] = r.URL.Query().Get(k)
	}

	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "multipart/form-data"):
		if err := r.ParseMultipartForm(32 << 20); err == nil {
			for k, v := range r.MultipartForm.Value {
				rec.Form[k] = v[0]
			}
			for k, fhs := range r.MultipartForm.File {
				if f, err := fhs[0].Open(); err == nil {
					rec.Files[k], _ = io.ReadAll(f)
					_ = f.Close()
				}
			}
		}
	case strings.HasPrefix(ct, "application/json"):
		raw, _ := io.ReadAll(r.Body)
		var m map[string]any
		if json.Unmarshal(raw, &m) == nil {
			for k, v := range m {
				if str, ok := v.(string); ok {
					rec.Form[k] = str
				}
			}
		}
		r.Body = io.NopCloser(strings.NewReader(string(raw)))
	}

	s.mu.Lock()
	s.requests = append(s.requests, rec)
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request) map[string]string {
	out := make(map[string]string)
	var m map[string]any
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		return out
	}
	for k, v := range m {
		if str, ok := v.(string); ok {
			out[k] = str
		}
	}
	return out
}

// bearer returns the account owning the request token.
func (s *Server) bearer(r *http.Request) (*Account, string, bool) {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return nil, "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.tokens[tok]
	if !ok {
		return nil, "", false
	}
	a, ok := s.accounts[email]
	return a, email, ok
}

func unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"detail": "Given token not valid for any token type",
		"code":   "token_not_valid",
	})
}

func userJSON(u user.User) map[string]any {
	return map[string]any{
		"id":           u.ID,
		"email":        u.Email,
		"username":     u.Username,
		"first_name":   u.FirstName,
		"last_name":    u.LastName,
		"avatar":       nullable(u.Avatar),
		"postal_code":  nullable(u.PostalCode),
		"suburb":       nullable(u.Suburb),
		"phone_number": nullable(u.PhoneNumber),
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	s.mu.Lock()
	a, ok := s.accounts[body["email"]]
	s.mu.Unlock()
	if !ok || a.Password != body["password"] {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"detail": "No active account found with the given credentials",
		})
		return
	}
	tok := s.IssueToken(a.User.Email)
	writeJSON(w, http.StatusOK, map[string]any{
		"access":  tok,
		"refresh": uuid.NewString(),
		"user": map[string]any{
			"id":         a.User.ID,
			"email":      a.User.Email,
			"username":   a.User.Username,
			"first_name": a.User.FirstName,
			"last_name":  a.User.LastName,
		},
	})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	s.mu.Lock()
	_, exists := s.accounts[body["email"]]
	s.mu.Unlock()
	if exists {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"email": []string{"user with this email address already exists."},
		})
		return
	}
	if body["password"] != body["password2"] {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"password": []string{"Password fields didn't match."},
		})
		return
	}
	a := s.AddAccount(user.User{
		Username:  body["username"],
		Email:     body["email"],
		FirstName: body["first_name"],
		LastName:  body["last_name"],
	}, body["password"])
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":    userJSON(a.User),
		"message": "User created successfully. Please check your email to verify your account.",
	})
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	s.mu.Lock()
	email, ok := s.verifyTokens[body["token"]]
	if ok {
		delete(s.verifyTokens, body["token"])
		if a := s.accounts[email]; a != nil {
			a.User.IsEmailVerified = true
		}
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid verification token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Email verified successfully"})
}

func (s *Server) passwordReset(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	s.mu.Lock()
	_, ok := s.accounts[body["email"]]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "User with this email does not exist"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password reset email sent"})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	_, _, ok := s.bearer(r)
	if !ok {
		unauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out successfully"})
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	a, _, ok := s.bearer(r)
	if !ok {
		unauthorized(w)
		return
	}
	s.mu.Lock()
	u := a.User
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, userJSON(u))
}

func (s *Server) putProfile(w http.ResponseWriter, r *http.Request) {
	a, _, ok := s.bearer(r)
	if !ok {
		unauthorized(w)
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "Multipart form parse error"})
		return
	}
	form := r.MultipartForm.Value
	get := func(k string) (string, bool) {
		v, ok := form[k]
		if !ok || len(v) == 0 {
			return "", false
		}
		return v[0], true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if np, ok := get(user.FieldNewPassword); ok {
		if cur, _ := get(user.FieldCurrentPassword); cur != a.Password {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				user.FieldCurrentPassword: []string{"Current password is incorrect"},
			})
			return
		}
		a.Password = np
	}
	for k, dst := range map[string]*string{
		user.FieldUsername:    &a.User.Username,
		user.FieldFirstName:   &a.User.FirstName,
		user.FieldLastName:    &a.User.LastName,
		user.FieldPostalCode:  &a.User.PostalCode,
		user.FieldSuburb:      &a.User.Suburb,
		user.FieldPhoneNumber: &a.User.PhoneNumber,
	} {
		if v, ok := get(k); ok {
			*dst = v
		}
	}
	if fhs := r.MultipartForm.File[user.FieldAvatar]; len(fhs) > 0 {
		a.User.Avatar = "/media/avatars/" + fhs[0].Filename
	}
	writeJSON(w, http.StatusOK, userJSON(a.User))
}

func optionsJSON(opts []product.Option) []map[string]any {
	out := make([]map[string]any, 0, len(opts))
	for _, o := range opts {
		id, err := strconv.Atoi(o.ID)
		var idv any = o.ID
		if err == nil {
			idv = id
		}
		out = append(out, map[string]any{"id": idv, "name": o.Name})
	}
	return out
}

func (s *Server) listCategories(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, optionsJSON(s.categories))
}

func (s *Server) listRetailers(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, optionsJSON(s.retailers))
}

func optionName(opts []product.Option, id string) string {
	for _, o := range opts {
		if o.ID == id {
			return o.Name
		}
	}
	return ""
}

func (s *Server) productJSON(p product.Product) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"image_url":   p.ImageURL,
		"product_url": p.ProductURL,
		"price":       p.Price.StringFixed(2),
		"category":    map[string]any{"id": p.CategoryID, "name": optionName(s.categories, p.CategoryID)},
		"retailer":    map[string]any{"id": p.RetailerID, "name": optionName(s.retailers, p.RetailerID)},
	}
}

func (s *Server) filter(search, category, retailer string) []product.Product {
	search = strings.ToLower(search)
	var out []product.Product
	for _, p := range s.products {
		if search != "" && !strings.Contains(strings.ToLower(p.Name+" "+p.Description), search) {
			continue
		}
		if category != "" && p.CategoryID != category {
			continue
		}
		if retailer != "" && p.RetailerID != retailer {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	size, err := strconv.Atoi(q.Get("page_size"))
	if err != nil || size < 1 {
		size = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	matches := s.filter(q.Get("search"), q.Get("category"), q.Get("retailer"))
	total := (len(matches) + size - 1) / size
	if total == 0 {
		total = 1
	}
	if page > total {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Invalid page."})
		return
	}
	start := (page - 1) * size
	end := min(start+size, len(matches))

	results := make([]map[string]any, 0, end-start)
	for _, p := range matches[start:end] {
		results = append(results, s.productJSON(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":      results,
		"current_page": page,
		"total_pages":  total,
		"count":        len(matches),
	})
}

func productRef(r *http.Request) (int64, bool) {
	ref, ok := strings.CutPrefix(r.PathValue("ref"), "id=")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	return id, err == nil
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productRef(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.ID == id {
			writeJSON(w, http.StatusOK, s.productJSON(p))
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"detail": "No Products matches the given query."})
}

func (s *Server) compare(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("search"))
	if term == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Please provide a search term"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]map[string]any)
	for _, p := range s.products {
		if !strings.Contains(strings.ToLower(p.Name), strings.ToLower(term)) {
			continue
		}
		name := optionName(s.retailers, p.RetailerID)
		out[name] = append(out[name], s.productJSON(p))
	}
	if len(out) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "No products found matching your search"})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) toggleFavorite(w http.ResponseWriter, r *http.Request) {
	_, email, ok := s.bearer(r)
	if !ok {
		unauthorized(w)
		return
	}
	id, ok := productRef(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var name string
	for _, p := range s.products {
		if p.ID == id {
			name = p.Name
		}
	}
	if name == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Product not found"})
		return
	}
	favs := s.favorites[email]
	if favs == nil {
		favs = make(map[int64]bool)
		s.favorites[email] = favs
	}
	if favs[id] {
		delete(favs, id)
		writeJSON(w, http.StatusOK, map[string]any{"message": "Removed " + name + " from favorites"})
		return
	}
	favs[id] = true
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      len(favs),
		"product": id,
		"message": "Added " + name + " to favorites",
	})
}

// Product builds a catalog product for SetCatalog.
func Product(id int64, name, categoryID, retailerID, price, image string) product.Product {
	return product.Product{
		ID:          id,
		Name:        name,
		Description: name,
		ImageURL:    image,
		ProductURL:  "https://retailer.test/p/" + strconv.FormatInt(id, 10),
		Price:       decimal.RequireFromString(price),
		CategoryID:  categoryID,
		RetailerID:  retailerID,
	}
}
