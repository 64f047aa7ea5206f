package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/emart/api/internal/platform/auth"
	"github.com/emart/api/internal/platform/httpx"
	"github.com/emart/api/internal/platform/pagination"
	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/services"
)

const (
	defaultFeaturedLimit = 8
	defaultRelatedLimit  = 4
	maxShowcaseLimit     = 50
)

// ProductHandlers serves the storefront product endpoints and the admin product views.
type ProductHandlers struct {
	catalog  services.CatalogService
	compiler *query.Compiler
}

// NewProductHandlers constructs ProductHandlers.
func NewProductHandlers(catalog services.CatalogService, compiler *query.Compiler) *ProductHandlers {
	if compiler == nil {
		compiler = query.NewCompiler(query.CompilerOptions{})
	}
	return &ProductHandlers{catalog: catalog, compiler: compiler}
}

// Routes registers the public /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/search", h.searchProducts)
	r.Get("/products/featured", h.featuredProducts)
	r.Get("/products/best-sellers", h.bestSellers)
	r.Get("/products/{slug}", h.getProduct)
	r.Get("/products/{slug}/related", h.relatedProducts)
}

// AdminRoutes registers the /admin/products endpoints.
func (h *ProductHandlers) AdminRoutes(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Patch("/products/{productID}", h.updateProduct)
}

// listProducts serves both the public and the admin listing. Admin visibility is only granted when
// the upstream principal carries the admin role; the isAdmin query parameter can only narrow it.
func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	desc, err := h.compiler.Compile(r.URL.Query(), query.EntityProducts, accessFromRequest(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	page, err := h.catalog.ListProducts(ctx, desc)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pagination.Map(page, newProductPayload))
}

func (h *ProductHandlers) searchProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	values := r.URL.Query()
	limit, err := limitParam(values.Get("limit"), 0)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	products, err := h.catalog.SearchProducts(ctx, services.SearchProductsCommand{
		Query:      values.Get("query"),
		CategoryID: strings.TrimSpace(values.Get("category")),
		Limit:      limit,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": newProductPayloads(products)})
}

func (h *ProductHandlers) featuredProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := limitParam(r.URL.Query().Get("limit"), defaultFeaturedLimit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	products, err := h.catalog.FeaturedProducts(ctx, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": newProductPayloads(products)})
}

func (h *ProductHandlers) bestSellers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	products, err := h.catalog.BestSellers(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": newProductPayloads(products)})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "slug"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newProductPayload(product))
}

func (h *ProductHandlers) relatedProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := limitParam(r.URL.Query().Get("limit"), defaultRelatedLimit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	products, err := h.catalog.RelatedProducts(ctx, chi.URLParam(r, "slug"), limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": newProductPayloads(products)})
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req productPatchRequest
	if err := httpx.DecodeJSON(r, 0, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	product, err := h.catalog.UpdateProduct(ctx, chi.URLParam(r, "productID"), req.toPatch())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newProductPayload(product))
}

func accessFromRequest(r *http.Request) query.Access {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return query.Access{}
	}
	return query.Access{IsAdmin: identity.IsAdmin(), UserID: identity.UID}
}

// limitParam parses an optional positive limit capped at maxShowcaseLimit.
func limitParam(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errInvalidLimit
	}
	if n > maxShowcaseLimit {
		n = maxShowcaseLimit
	}
	return n, nil
}
