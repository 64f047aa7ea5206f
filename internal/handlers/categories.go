package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emart/api/internal/platform/httpx"
	"github.com/emart/api/internal/platform/pagination"
	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/services"
)

// CategoryHandlers serves category listings and the admin category editor.
type CategoryHandlers struct {
	categories services.CategoryService
	catalog    services.CatalogService
	compiler   *query.Compiler
}

// NewCategoryHandlers constructs CategoryHandlers.
func NewCategoryHandlers(categories services.CategoryService, catalog services.CatalogService, compiler *query.Compiler) *CategoryHandlers {
	if compiler == nil {
		compiler = query.NewCompiler(query.CompilerOptions{})
	}
	return &CategoryHandlers{categories: categories, catalog: catalog, compiler: compiler}
}

// Routes registers the public /categories endpoints.
func (h *CategoryHandlers) Routes(r chi.Router) {
	r.Get("/categories", h.listCategories)
	r.Get("/categories/all", h.allCategories)
	r.Get("/categories/featured", h.featuredCategories)
	r.Get("/categories/{slug}/products", h.categoryProducts)
}

// AdminRoutes registers the /admin/categories endpoints.
func (h *CategoryHandlers) AdminRoutes(r chi.Router) {
	r.Get("/categories", h.listCategories)
	r.Post("/categories", h.createCategory)
	r.Patch("/categories/{categoryID}", h.updateCategory)
	r.Delete("/categories/{categoryID}", h.deleteCategory)
}

func (h *CategoryHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	desc, err := h.compiler.Compile(r.URL.Query(), query.EntityCategories, accessFromRequest(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	page, err := h.categories.ListCategories(ctx, desc)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pagination.Map(page, newCategoryPayload))
}

func (h *CategoryHandlers) allCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	categories, err := h.categories.AllCategories(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": newCategoryPayloads(categories)})
}

func (h *CategoryHandlers) featuredCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	categories, err := h.categories.FeaturedCategories(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": newCategoryPayloads(categories)})
}

func (h *CategoryHandlers) categoryProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	desc, err := h.compiler.Compile(r.URL.Query(), query.EntityProducts, accessFromRequest(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	result, err := h.catalog.ProductsByCategory(ctx, chi.URLParam(r, "slug"), desc)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	page := pagination.Map(result.Products, newProductPayload)
	httpx.WriteJSON(w, http.StatusOK, categoryProductsResponse{
		Category: newCategoryPayload(result.Category),
		envelopeFields: envelopeFields{
			CurrentPage: page.CurrentPage,
			PageSize:    page.PageSize,
			TotalCount:  page.TotalCount,
			TotalPages:  page.TotalPages,
		},
		Items: page.Items,
	})
}

func (h *CategoryHandlers) createCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createCategoryRequest
	if err := httpx.DecodeJSON(r, 0, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	category, err := h.categories.CreateCategory(ctx, services.CreateCategoryCommand{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
		ParentID:    req.ParentID,
		Image:       req.Image,
		IsFeatured:  req.IsFeatured,
		IsActive:    req.IsActive,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, newCategoryPayload(category))
}

func (h *CategoryHandlers) updateCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req categoryPatchRequest
	if err := httpx.DecodeJSON(r, 0, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	category, err := h.categories.UpdateCategory(ctx, chi.URLParam(r, "categoryID"), services.CategoryPatch(req))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCategoryPayload(category))
}

func (h *CategoryHandlers) deleteCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.categories.DeleteCategory(ctx, chi.URLParam(r, "categoryID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
