// Package backendtest is an in-memory stand-in for the catalog backend's scrape api.
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"

	"catalogscraper/internal/catalog"
)

type Server struct {
	*httptest.Server

	Token string

	mutex        sync.Mutex
	failStatuses bool
	failUpsert   map[string]bool
	products     map[string]catalog.ProductDetail
	updates      [][]catalog.ListingEntry
	upserts      []catalog.ProductDetail
}

// NewServer starts a backend that accepts writes carrying token.
func NewServer(token string, existing ...catalog.ProductStatus) *Server {
	s := &Server{
		Token:      token,
		failUpsert: map[string]bool{},
		products:   map[string]catalog.ProductDetail{},
	}
	for _, e := range existing {
		s.products[e.ProductURL] = catalog.ProductDetail{
			Name:       e.ProductURL,
			ProductURL: e.ProductURL,
			IsActive:   e.IsActive,
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/scrape/products-status", s.productStatuses)
	mux.HandleFunc("GET /api/scrape/urls", s.urls)
	mux.HandleFunc("POST /api/scrape/update-statuses", s.authorized(s.updateStatuses))
	mux.HandleFunc("POST /api/scrape/upsert", s.authorized(s.upsert))
	s.Server = httptest.NewServer(mux)
	return s
}

func writeJson(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func message(msg string) map[string]string {
	return map[string]string{"message": msg}
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("x-access-token")
		if token == "" {
			writeJson(w, http.StatusForbidden, message("No token provided!"))
			return
		}
		if token != s.Token {
			writeJson(w, http.StatusUnauthorized, message("Unauthorized! Invalid Token."))
			return
		}
		next(w, r)
	}
}

func (s *Server) sortedUrls() []string {
	urls := make([]string, 0, len(s.products))
	for u := range s.products {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

func (s *Server) productStatuses(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.failStatuses {
		writeJson(w, http.StatusInternalServerError, message("database unavailable"))
		return
	}
	out := []catalog.ProductStatus{}
	for _, u := range s.sortedUrls() {
		p := s.products[u]
		out = append(out, catalog.ProductStatus{ProductURL: p.ProductURL, IsActive: p.IsActive})
	}
	writeJson(w, http.StatusOK, out)
}

func (s *Server) urls(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	writeJson(w, http.StatusOK, s.sortedUrls())
}

func (s *Server) updateStatuses(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductsToUpdate []catalog.ListingEntry `json:"productsToUpdate"`
	}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil || req.ProductsToUpdate == nil {
		writeJson(w, http.StatusBadRequest, message("An array of products to update is required."))
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.updates = append(s.updates, req.ProductsToUpdate)
	for _, e := range req.ProductsToUpdate {
		p, ok := s.products[e.ProductURL]
		if !ok {
			continue
		}
		p.IsActive = e.IsActive
		s.products[e.ProductURL] = p
	}
	writeJson(w, http.StatusOK, message("Product statuses updated successfully."))
}

func (s *Server) upsert(w http.ResponseWriter, r *http.Request) {
	var product catalog.ProductDetail
	err := json.NewDecoder(r.Body).Decode(&product)
	if err != nil || product.Name == "" || product.ProductURL == "" {
		writeJson(w, http.StatusBadRequest, message("Product name and URL cannot be empty!"))
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.failUpsert[product.ProductURL] {
		writeJson(w, http.StatusInternalServerError, message("Some error occurred while upserting the Product."))
		return
	}
	s.upserts = append(s.upserts, product)
	s.products[product.ProductURL] = product
	writeJson(w, http.StatusOK, map[string]any{"message": "Product created successfully.", "data": product})
}

// FailStatuses makes products-status reply with a 500.
func (s *Server) FailStatuses() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failStatuses = true
}

// FailUpsert makes upsert reply with a 500 for the given product url.
func (s *Server) FailUpsert(productUrl string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failUpsert[productUrl] = true
}

// Updates returns every update-statuses batch received.
func (s *Server) Updates() [][]catalog.ListingEntry {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([][]catalog.ListingEntry(nil), s.updates...)
}

// Upserts returns every accepted upsert in order.
func (s *Server) Upserts() []catalog.ProductDetail {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]catalog.ProductDetail(nil), s.upserts...)
}

func (s *Server) Product(productUrl string) (catalog.ProductDetail, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	p, ok := s.products[productUrl]
	return p, ok
}
