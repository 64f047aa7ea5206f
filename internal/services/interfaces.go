package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/emart/api/internal/domain"
	"github.com/emart/api/internal/platform/pagination"
	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Product            = domain.Product
	Category           = domain.Category
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	OrderLineItem      = domain.OrderLineItem
	GuestUser          = domain.GuestUser
	Address            = domain.Address
	SystemHealthReport = domain.SystemHealthReport
)

// CatalogService serves the storefront product views.
type CatalogService interface {
	ListProducts(ctx context.Context, desc query.Descriptor) (pagination.Envelope[Product], error)
	SearchProducts(ctx context.Context, cmd SearchProductsCommand) ([]Product, error)
	FeaturedProducts(ctx context.Context, limit int) ([]Product, error)
	BestSellers(ctx context.Context) ([]Product, error)
	GetProduct(ctx context.Context, slug string) (Product, error)
	RelatedProducts(ctx context.Context, slug string, limit int) ([]Product, error)
	ProductsByCategory(ctx context.Context, categorySlug string, desc query.Descriptor) (CategoryProducts, error)
	UpdateProduct(ctx context.Context, productID string, patch ProductPatch) (Product, error)
}

// CategoryService manages catalog categories.
type CategoryService interface {
	ListCategories(ctx context.Context, desc query.Descriptor) (pagination.Envelope[Category], error)
	AllCategories(ctx context.Context) ([]Category, error)
	FeaturedCategories(ctx context.Context) ([]Category, error)
	CreateCategory(ctx context.Context, cmd CreateCategoryCommand) (Category, error)
	UpdateCategory(ctx context.Context, categoryID string, patch CategoryPatch) (Category, error)
	DeleteCategory(ctx context.Context, categoryID string) error
}

// OrderService covers guest checkout, order history and the admin order workflow.
type OrderService interface {
	ListOrders(ctx context.Context, desc query.Descriptor) (pagination.Envelope[Order], error)
	CustomerOrders(ctx context.Context, customerID string, params pagination.Params) (pagination.Envelope[Order], error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	FindGuestOrder(ctx context.Context, orderID, email string) (Order, error)
	PlaceGuestOrder(ctx context.Context, cmd GuestOrderCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	DeleteOrder(ctx context.Context, orderID string) error
}

// AnalyticsService computes business reports over orders and the catalog.
type AnalyticsService interface {
	OrderReport(ctx context.Context) (OrderReport, error)
	CatalogReport(ctx context.Context) (CatalogReport, error)
}

// SystemService exposes operational metadata such as health reports.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// RelationCache is the part of the relation resolver writers need.
type RelationCache interface {
	Invalidate(collection string, keys ...string)
	Refresh(ctx context.Context, collection string) error
}

// PipelineRunner executes a plan as a page plus a total.
type PipelineRunner interface {
	Execute(ctx context.Context, plan query.Plan) (pagination.Envelope[query.Document], error)
}

// SearchProductsCommand filters the quick-search endpoint.
type SearchProductsCommand struct {
	Query      string
	CategoryID string
	Limit      int
}

// CategoryProducts is a page of products belonging to a category.
type CategoryProducts struct {
	Category Category
	Products pagination.Envelope[Product]
}

// ProductPatch is a closed set of optional product edits.
type ProductPatch struct {
	Title        *string
	Description  *string
	Price        *decimal.Decimal
	Discount     *decimal.Decimal
	Stock        *int64
	SubCategory  *string
	Availability *domain.Availability
	IsFeatured   *bool
	Published    *bool
}

// CreateCategoryCommand creates a category; the slug is derived from the name when empty.
type CreateCategoryCommand struct {
	Name        string
	Slug        string
	Description string
	ParentID    string
	Image       string
	IsFeatured  bool
	IsActive    *bool
}

// CategoryPatch is a closed set of optional category edits.
type CategoryPatch struct {
	Name        *string
	Slug        *string
	Description *string
	ParentID    *string
	Image       *string
	IsFeatured  *bool
	IsActive    *bool
}

// GuestOrderCommand captures a guest checkout.
type GuestOrderCommand struct {
	GuestUser GuestUser
	Address   Address
	Items     []OrderLineItem
	Amount    decimal.Decimal
}

// OrderStatusTransitionCommand moves an order to Status.
type OrderStatusTransitionCommand struct {
	OrderID string
	Status  string
	ActorID string
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

var _ repositories.UnitOfWork = noopUnitOfWork{}
