package repositories

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/emart/api/internal/domain"
	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/relations"
)

// Collection names shared by every backend.
const (
	CollectionProducts   = "products"
	CollectionCategories = "categories"
	CollectionOrders     = "orders"
	CollectionReferrals  = "referrals"
	CollectionAffiliates = "affiliates"
)

// UniqueFields lists the fields each backend keeps unique per collection.
var UniqueFields = map[string][]string{
	CollectionProducts:   {"slug"},
	CollectionCategories: {"slug", "name"},
}

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Categories() CategoryRepository
	Orders() OrderRepository
	Referrals() ReferralRepository
	Affiliates() AffiliateRepository
	Engine() query.Engine
	Loader() relations.Loader
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DocumentStore is the single-document surface every storage backend implements. Operations invoked
// with a context produced by RunInTx join that transaction.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (query.Document, error)
	Insert(ctx context.Context, collection string, doc query.Document) error
	Replace(ctx context.Context, collection string, doc query.Document) error
	Delete(ctx context.Context, collection, id string) error
	// Increment atomically adds each delta to the numeric field of the same name.
	Increment(ctx context.Context, collection, id string, deltas map[string]decimal.Decimal) error
}

// Backend is a storage engine able to serve documents, pipelines and batch lookups.
type Backend interface {
	DocumentStore
	query.Engine
	relations.Loader
	UnitOfWork
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// ProductRepository persists catalog items.
type ProductRepository interface {
	Get(ctx context.Context, productID string) (domain.Product, error)
	FindBySlug(ctx context.Context, slug string) (domain.Product, error)
	Insert(ctx context.Context, product domain.Product) error
	Replace(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
}

// CategoryRepository persists categories.
type CategoryRepository interface {
	Get(ctx context.Context, categoryID string) (domain.Category, error)
	FindBySlug(ctx context.Context, slug string) (domain.Category, error)
	FindByName(ctx context.Context, name string) (domain.Category, error)
	Insert(ctx context.Context, category domain.Category) error
	Replace(ctx context.Context, category domain.Category) error
	Delete(ctx context.Context, categoryID string) error
}

// OrderRepository persists orders.
type OrderRepository interface {
	Get(ctx context.Context, orderID string) (domain.Order, error)
	Insert(ctx context.Context, order domain.Order) error
	Replace(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
}

// ReferralRepository persists affiliate referrals.
type ReferralRepository interface {
	Get(ctx context.Context, referralID string) (domain.Referral, error)
	Insert(ctx context.Context, referral domain.Referral) error
	Replace(ctx context.Context, referral domain.Referral) error
}

// AffiliateRepository persists affiliates and their balances.
type AffiliateRepository interface {
	Get(ctx context.Context, affiliateID string) (domain.Affiliate, error)
	Insert(ctx context.Context, affiliate domain.Affiliate) error
	// AddEarnings increments totalEarnings and pendingBalance by amount in one atomic write.
	AddEarnings(ctx context.Context, affiliateID string, amount decimal.Decimal) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
