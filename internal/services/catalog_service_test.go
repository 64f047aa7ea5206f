package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/emart/api/internal/domain"
	"github.com/emart/api/internal/query"
)

const catalogSeed = `
categories:
  - _id: cat-el
    name: Electronics
    slug: electronics
    isFeatured: true
    isActive: true
  - _id: cat-home
    name: Home
    slug: home
    isActive: true
products:
  - _id: p-phone
    slug: phone
    title: Smart Phone
    description: A phone with a great camera
    price: "299.99"
    category: cat-el
    availability: In Stock
    isFeatured: true
    published: true
    createdAt: "2024-01-01T00:00:00Z"
  - _id: p-tablet
    slug: tablet
    title: Tablet
    description: Big screen
    price: "499"
    category: cat-el
    availability: In Stock
    isFeatured: true
    published: true
    createdAt: "2024-01-03T00:00:00Z"
  - _id: p-camera
    slug: camera
    title: Camera
    description: Mirrorless
    price: "899"
    category: cat-el
    availability: Out of Stock
    published: true
    createdAt: "2024-01-02T00:00:00Z"
  - _id: p-draft
    slug: draft-phone
    title: Draft Phone
    price: "10"
    category: cat-el
    availability: In Stock
    isFeatured: true
    published: false
    createdAt: "2024-01-04T00:00:00Z"
  - _id: p-lamp
    slug: lamp
    title: Lamp
    price: "40.5"
    category: cat-home
    availability: In Stock
    published: true
    createdAt: "2024-01-05T00:00:00Z"
`

func newTestCatalogService(t *testing.T, backend testBackend) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products:   backend.registry.Products(),
		Categories: backend.registry.Categories(),
		Engine:     backend.registry.Engine(),
		Pipelines:  backend.executor,
		Clock:      fixedClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	return svc
}

func productIDs(products []Product) []string {
	ids := make([]string, len(products))
	for i, product := range products {
		ids[i] = product.ID
	}
	return ids
}

func TestCatalogServiceSearchProducts(t *testing.T) {
	svc := newTestCatalogService(t, newTestBackend(t, catalogSeed))

	products, err := svc.SearchProducts(context.Background(), SearchProductsCommand{Query: "PHONE"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(products) != 1 || products[0].ID != "p-phone" {
		t.Fatalf("expected only the published in-stock phone, got %v", productIDs(products))
	}

	products, err = svc.SearchProducts(context.Background(), SearchProductsCommand{Query: "mirrorless"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("out of stock products must be hidden, got %v", productIDs(products))
	}

	products, err = svc.SearchProducts(context.Background(), SearchProductsCommand{Query: "a", CategoryID: "cat-home"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(products) != 1 || products[0].ID != "p-lamp" {
		t.Fatalf("expected category-scoped result, got %v", productIDs(products))
	}

	if _, err := svc.SearchProducts(context.Background(), SearchProductsCommand{Query: "  "}); !errors.Is(err, ErrProductInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCatalogServiceFeaturedProducts(t *testing.T) {
	svc := newTestCatalogService(t, newTestBackend(t, catalogSeed))

	products, err := svc.FeaturedProducts(context.Background(), 0)
	if err != nil {
		t.Fatalf("featured: %v", err)
	}
	ids := productIDs(products)
	if len(ids) != 2 || ids[0] != "p-tablet" || ids[1] != "p-phone" {
		t.Fatalf("expected newest published featured first, got %v", ids)
	}

	products, err = svc.FeaturedProducts(context.Background(), 1)
	if err != nil {
		t.Fatalf("featured: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("expected limit 1, got %d", len(products))
	}
}

func TestCatalogServiceBestSellersJoinCategory(t *testing.T) {
	svc := newTestCatalogService(t, newTestBackend(t, catalogSeed))

	products, err := svc.BestSellers(context.Background())
	if err != nil {
		t.Fatalf("best sellers: %v", err)
	}
	if len(products) == 0 {
		t.Fatalf("expected best sellers")
	}
	for _, product := range products {
		if product.Category == nil || product.Category.Slug != "electronics" {
			t.Fatalf("expected joined category on %s, got %+v", product.ID, product.Category)
		}
	}
}

func TestCatalogServiceGetProduct(t *testing.T) {
	svc := newTestCatalogService(t, newTestBackend(t, catalogSeed))

	product, err := svc.GetProduct(context.Background(), "phone")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.ID != "p-phone" || !product.Price.Equal(decimal.RequireFromString("299.99")) {
		t.Fatalf("unexpected product %+v", product)
	}
	if product.Category == nil || product.Category.Name != "Electronics" || product.CategoryID != "cat-el" {
		t.Fatalf("expected joined category, got %+v", product.Category)
	}

	if _, err := svc.GetProduct(context.Background(), "missing"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogServiceRelatedProducts(t *testing.T) {
	svc := newTestCatalogService(t, newTestBackend(t, catalogSeed))

	products, err := svc.RelatedProducts(context.Background(), "phone", 0)
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	ids := productIDs(products)
	if len(ids) != 2 || ids[0] != "p-tablet" || ids[1] != "p-camera" {
		t.Fatalf("expected same-category published products without the current one, got %v", ids)
	}

	products, err = svc.RelatedProducts(context.Background(), "phone", 1)
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if len(products) != 1 || products[0].ID == "p-phone" {
		t.Fatalf("unexpected limited related products %v", productIDs(products))
	}

	if _, err := svc.RelatedProducts(context.Background(), "missing", 4); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogServiceProductsByCategory(t *testing.T) {
	svc := newTestCatalogService(t, newTestBackend(t, catalogSeed))

	result, err := svc.ProductsByCategory(context.Background(), "electronics", query.Descriptor{Page: 1, PageSize: 10, IsAdmin: true})
	if err != nil {
		t.Fatalf("products by category: %v", err)
	}
	if result.Category.ID != "cat-el" {
		t.Fatalf("unexpected category %+v", result.Category)
	}
	if result.Products.TotalCount != 3 {
		t.Fatalf("expected 3 published electronics, got %d", result.Products.TotalCount)
	}
	for _, product := range result.Products.Items {
		if !product.Published || product.CategoryID != "cat-el" {
			t.Fatalf("unexpected product %+v", product)
		}
	}

	if _, err := svc.ProductsByCategory(context.Background(), "garden", query.Descriptor{}); !errors.Is(err, ErrCategoryNotFound) {
		t.Fatalf("expected category not found, got %v", err)
	}
}

func TestCatalogServiceListProductsHidesDrafts(t *testing.T) {
	svc := newTestCatalogService(t, newTestBackend(t, catalogSeed))

	public, err := svc.ListProducts(context.Background(), query.Descriptor{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	admin, err := svc.ListProducts(context.Background(), query.Descriptor{Page: 1, PageSize: 10, IsAdmin: true})
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if public.TotalCount != 4 || admin.TotalCount != 5 {
		t.Fatalf("expected 4 public and 5 admin products, got %d and %d", public.TotalCount, admin.TotalCount)
	}
}

func TestCatalogServiceUpdateProduct(t *testing.T) {
	backend := newTestBackend(t, catalogSeed)
	svc := newTestCatalogService(t, backend)
	ctx := context.Background()

	title := "  <b>Smart</b> Phone X "
	price := decimal.RequireFromString("279.00")
	discount := decimal.NewFromInt(15)
	availability := domain.AvailabilityPreorder
	product, err := svc.UpdateProduct(ctx, "p-phone", ProductPatch{
		Title:        &title,
		Price:        &price,
		Discount:     &discount,
		Availability: &availability,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if product.Title != "Smart Phone X" || !product.Price.Equal(price) || product.Availability != domain.AvailabilityPreorder {
		t.Fatalf("unexpected product %+v", product)
	}

	stored, err := backend.registry.Products().Get(ctx, "p-phone")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.Discount.Equal(discount) || stored.CategoryID != "cat-el" {
		t.Fatalf("unexpected stored product %+v", stored)
	}

	tooMuch := decimal.NewFromInt(101)
	if _, err := svc.UpdateProduct(ctx, "p-phone", ProductPatch{Discount: &tooMuch}); !errors.Is(err, ErrProductInvalidInput) {
		t.Fatalf("expected invalid discount, got %v", err)
	}
	unknown := domain.Availability("Maybe")
	if _, err := svc.UpdateProduct(ctx, "p-phone", ProductPatch{Availability: &unknown}); !errors.Is(err, ErrProductInvalidInput) {
		t.Fatalf("expected invalid availability, got %v", err)
	}
	if _, err := svc.UpdateProduct(ctx, "missing", ProductPatch{Title: &title}); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
