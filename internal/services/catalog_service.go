package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/emart/api/internal/domain"
	"github.com/emart/api/internal/platform/pagination"
	"github.com/emart/api/internal/platform/textutil"
	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/repositories"
)

const (
	defaultFeaturedLimit = 8
	defaultRelatedLimit  = 4
	defaultSearchLimit   = 50
	bestSellerLimit      = 10
	maxShowcaseLimit     = 50
)

var maxDiscount = decimal.NewFromInt(100)

var (
	// ErrProductInvalidInput signals invalid catalog parameters.
	ErrProductInvalidInput = errors.New("product: invalid input")
	// ErrProductNotFound indicates the product could not be located.
	ErrProductNotFound = errors.New("product: not found")
	// ErrProductConflict indicates a duplicate slug.
	ErrProductConflict = errors.New("product: conflict")
)

// listFields is the product shape returned by showcase endpoints.
var listFields = []string{
	"slug", "title", "description", "price", "discount", "stock", "category", "subCategory", "brand",
	"images", "variants", "availability", "isFeatured", "createdAt",
}

// CatalogServiceDeps bundles collaborators for the catalog service.
type CatalogServiceDeps struct {
	Products   repositories.ProductRepository
	Categories repositories.CategoryRepository
	Engine     query.Engine
	Builder    *query.Builder
	Pipelines  PipelineRunner
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products   repositories.ProductRepository
	categories repositories.CategoryRepository
	engine     query.Engine
	builder    *query.Builder
	pipelines  PipelineRunner
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewCatalogService constructs the storefront catalog service.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Categories == nil {
		return nil, errors.New("catalog service: category repository is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("catalog service: query engine is required")
	}
	if deps.Pipelines == nil {
		return nil, errors.New("catalog service: pipeline runner is required")
	}
	builder := deps.Builder
	if builder == nil {
		builder = query.NewBuilder(nil)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		products:   deps.Products,
		categories: deps.Categories,
		engine:     deps.Engine,
		builder:    builder,
		pipelines:  deps.Pipelines,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *catalogService) ListProducts(ctx context.Context, desc query.Descriptor) (pagination.Envelope[Product], error) {
	desc.Entity = query.EntityProducts
	plan, err := s.builder.Build(desc)
	if err != nil {
		return pagination.Envelope[Product]{}, err
	}
	page, err := s.pipelines.Execute(ctx, plan)
	if err != nil {
		return pagination.Envelope[Product]{}, err
	}
	return pagination.Map(page, domain.ProductFromDocument), nil
}

func (s *catalogService) SearchProducts(ctx context.Context, cmd SearchProductsCommand) ([]Product, error) {
	term := strings.TrimSpace(cmd.Query)
	if term == "" {
		return nil, fmt.Errorf("%w: query is required", ErrProductInvalidInput)
	}
	limit := clampLimit(cmd.Limit, defaultSearchLimit)

	filters := []query.Predicate{
		query.Eq{Field: "published", Value: true},
		query.Eq{Field: "availability", Value: string(domain.AvailabilityInStock)},
	}
	if categoryID := strings.TrimSpace(cmd.CategoryID); categoryID != "" {
		filters = append(filters, query.Eq{Field: "category", Value: categoryID})
	}
	filters = append(filters, query.AnyOf([]string{"title", "description"}, term))

	return s.showcase(ctx, []query.Stage{
		query.Match{Predicate: query.AllOf(filters...)},
		query.Project{Fields: listFields},
		query.Limit{N: limit},
	})
}

func (s *catalogService) FeaturedProducts(ctx context.Context, limit int) ([]Product, error) {
	return s.showcase(ctx, featuredStages(clampLimit(limit, defaultFeaturedLimit)))
}

func (s *catalogService) BestSellers(ctx context.Context) ([]Product, error) {
	return s.showcase(ctx, append(featuredStages(bestSellerLimit), query.CategoryJoin))
}

func featuredStages(limit int) []query.Stage {
	return []query.Stage{
		query.Match{Predicate: query.AllOf(
			query.Eq{Field: "published", Value: true},
			query.Eq{Field: "isFeatured", Value: true},
		)},
		query.Project{Fields: listFields},
		query.Sort{Keys: []query.SortKey{{Field: "createdAt", Desc: true}}},
		query.Limit{N: limit},
	}
}

func (s *catalogService) GetProduct(ctx context.Context, slug string) (Product, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return Product{}, fmt.Errorf("%w: product slug is required", ErrProductInvalidInput)
	}
	docs, err := s.engine.Aggregate(ctx, repositories.CollectionProducts, []query.Stage{
		query.Match{Predicate: query.Eq{Field: "slug", Value: slug}},
		query.Limit{N: 1},
		query.CategoryJoin,
	})
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	if len(docs) == 0 {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, slug)
	}
	return domain.ProductFromDocument(docs[0]), nil
}

func (s *catalogService) RelatedProducts(ctx context.Context, slug string, limit int) ([]Product, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, fmt.Errorf("%w: product slug is required", ErrProductInvalidInput)
	}
	current, err := s.products.FindBySlug(ctx, slug)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	if current.CategoryID == "" {
		return []Product{}, nil
	}
	limit = clampLimit(limit, defaultRelatedLimit)
	// One extra row covers the current product, which is dropped below.
	related, err := s.showcase(ctx, []query.Stage{
		query.Match{Predicate: query.AllOf(
			query.Eq{Field: "category", Value: current.CategoryID},
			query.Eq{Field: "published", Value: true},
		)},
		query.Project{Fields: listFields},
		query.Sort{Keys: []query.SortKey{{Field: "createdAt", Desc: true}}},
		query.Limit{N: limit + 1},
		query.CategoryJoin,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Product, 0, limit)
	for _, product := range related {
		if product.ID == current.ID || len(out) == limit {
			continue
		}
		out = append(out, product)
	}
	return out, nil
}

func (s *catalogService) ProductsByCategory(ctx context.Context, categorySlug string, desc query.Descriptor) (CategoryProducts, error) {
	categorySlug = strings.TrimSpace(categorySlug)
	if categorySlug == "" {
		return CategoryProducts{}, fmt.Errorf("%w: category slug is required", ErrCategoryInvalidInput)
	}
	category, err := s.categories.FindBySlug(ctx, categorySlug)
	if err != nil {
		if repositories.IsNotFound(err) {
			return CategoryProducts{}, fmt.Errorf("%w: %s", ErrCategoryNotFound, categorySlug)
		}
		return CategoryProducts{}, s.mapRepositoryError(err)
	}

	desc.Entity = query.EntityProducts
	desc.IsAdmin = false
	desc.Category = ""
	desc.CategoryID = category.ID
	page, err := s.ListProducts(ctx, desc)
	if err != nil {
		return CategoryProducts{}, err
	}
	return CategoryProducts{Category: category, Products: page}, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, productID string, patch ProductPatch) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	if err := applyProductPatch(&product, patch); err != nil {
		return Product{}, err
	}
	product.UpdatedAt = s.clock()
	if err := s.products.Replace(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "product.updated", map[string]any{"product": product.ID})
	return product, nil
}

func applyProductPatch(product *Product, patch ProductPatch) error {
	if patch.Title != nil {
		title := textutil.PlainText(*patch.Title)
		if title == "" {
			return fmt.Errorf("%w: title must not be empty", ErrProductInvalidInput)
		}
		product.Title = title
	}
	if patch.Description != nil {
		product.Description = textutil.RichText(*patch.Description)
	}
	if patch.Price != nil {
		if patch.Price.IsNegative() {
			return fmt.Errorf("%w: price must not be negative", ErrProductInvalidInput)
		}
		product.Price = *patch.Price
	}
	if patch.Discount != nil {
		if patch.Discount.IsNegative() || patch.Discount.GreaterThan(maxDiscount) {
			return fmt.Errorf("%w: discount must be between 0 and 100", ErrProductInvalidInput)
		}
		product.Discount = *patch.Discount
	}
	if patch.Stock != nil {
		if *patch.Stock < 0 {
			return fmt.Errorf("%w: stock must not be negative", ErrProductInvalidInput)
		}
		product.Stock = *patch.Stock
	}
	if patch.SubCategory != nil {
		product.SubCategory = textutil.PlainText(*patch.SubCategory)
	}
	if patch.Availability != nil {
		switch *patch.Availability {
		case domain.AvailabilityInStock, domain.AvailabilityOutOfStock, domain.AvailabilityPreorder:
			product.Availability = *patch.Availability
		default:
			return fmt.Errorf("%w: unknown availability %q", ErrProductInvalidInput, *patch.Availability)
		}
	}
	if patch.IsFeatured != nil {
		product.IsFeatured = *patch.IsFeatured
	}
	if patch.Published != nil {
		product.Published = *patch.Published
	}
	return nil
}

func (s *catalogService) showcase(ctx context.Context, stages []query.Stage) ([]Product, error) {
	docs, err := s.engine.Aggregate(ctx, repositories.CollectionProducts, stages)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	products := make([]Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, domain.ProductFromDocument(doc))
	}
	return products, nil
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrProductConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("product: repository unavailable: %w", err)
		}
	}

	return err
}

func clampLimit(limit, fallback int) int {
	switch {
	case limit <= 0:
		return fallback
	case limit > maxShowcaseLimit:
		return maxShowcaseLimit
	default:
		return limit
	}
}
