package repositories

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/emart/api/internal/domain"
	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/relations"
)

type registry struct {
	backend    Backend
	health     HealthRepository
	products   *productRepository
	categories *categoryRepository
	orders     *orderRepository
	referrals  *referralRepository
	affiliates *affiliateRepository
}

var _ Registry = (*registry)(nil)

// NewRegistry binds the typed repositories to a storage backend. A nil health repository falls back
// to a single ping check against the backend.
func NewRegistry(backend Backend, health HealthRepository) (Registry, error) {
	if backend == nil {
		return nil, errors.New("repositories: backend is required")
	}
	if health == nil {
		var err error
		health, err = NewDependencyHealthRepository([]DependencyCheck{{Name: "storage", Check: backend.Ping}})
		if err != nil {
			return nil, err
		}
	}
	return &registry{
		backend:    backend,
		health:     health,
		products:   &productRepository{newDocumentRepository(backend, CollectionProducts, domain.Product.Document, domain.ProductFromDocument)},
		categories: &categoryRepository{newDocumentRepository(backend, CollectionCategories, domain.Category.Document, domain.CategoryFromDocument)},
		orders:     &orderRepository{newDocumentRepository(backend, CollectionOrders, domain.Order.Document, domain.OrderFromDocument)},
		referrals:  &referralRepository{newDocumentRepository(backend, CollectionReferrals, domain.Referral.Document, domain.ReferralFromDocument)},
		affiliates: &affiliateRepository{newDocumentRepository(backend, CollectionAffiliates, domain.Affiliate.Document, domain.AffiliateFromDocument)},
	}, nil
}

func (r *registry) Close(ctx context.Context) error { return r.backend.Close(ctx) }
func (r *registry) Products() ProductRepository { return r.products }
func (r *registry) Categories() CategoryRepository { return r.categories }
func (r *registry) Orders() OrderRepository { return r.orders }
func (r *registry) Referrals() ReferralRepository { return r.referrals }
func (r *registry) Affiliates() AffiliateRepository { return r.affiliates }
func (r *registry) Engine() query.Engine { return r.backend }
func (r *registry) Loader() relations.Loader { return r.backend }
func (r *registry) Health() HealthRepository { return r.health }
func (r *registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.backend.RunInTx(ctx, fn)
}

// documentRepository maps one collection between documents and a domain type.
type documentRepository[T any] struct {
	backend    Backend
	collection string
	encode     func(T) query.Document
	decode     func(query.Document) T
}

func newDocumentRepository[T any](backend Backend, collection string, encode func(T) query.Document, decode func(query.Document) T) documentRepository[T] {
	return documentRepository[T]{backend: backend, collection: collection, encode: encode, decode: decode}
}

func (r documentRepository[T]) get(ctx context.Context, id string) (T, error) {
	var zero T
	id = strings.TrimSpace(id)
	if id == "" {
		return zero, NewNotFoundError(r.collection+".get", r.collection, id)
	}
	doc, err := r.backend.Get(ctx, r.collection, id)
	if err != nil {
		return zero, err
	}
	return r.decode(doc), nil
}

func (r documentRepository[T]) findBy(ctx context.Context, field, value string) (T, error) {
	var zero T
	op := r.collection + ".findBy" + field
	if strings.TrimSpace(value) == "" {
		return zero, NewNotFoundError(op, r.collection, value)
	}
	docs, err := r.backend.Aggregate(ctx, r.collection, []query.Stage{
		query.Match{Predicate: query.Eq{Field: field, Value: value}},
		query.Limit{N: 1},
	})
	if err != nil {
		return zero, err
	}
	if len(docs) == 0 {
		return zero, NewNotFoundError(op, r.collection, value)
	}
	return r.decode(docs[0]), nil
}

func (r documentRepository[T]) insert(ctx context.Context, value T) error {
	return r.backend.Insert(ctx, r.collection, r.encode(value))
}

func (r documentRepository[T]) replace(ctx context.Context, value T) error {
	return r.backend.Replace(ctx, r.collection, r.encode(value))
}

func (r documentRepository[T]) delete(ctx context.Context, id string) error {
	return r.backend.Delete(ctx, r.collection, id)
}

type productRepository struct {
	documentRepository[domain.Product]
}

func (r *productRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	return r.get(ctx, productID)
}

func (r *productRepository) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	return r.findBy(ctx, "slug", slug)
}

func (r *productRepository) Insert(ctx context.Context, product domain.Product) error {
	return r.insert(ctx, product)
}

func (r *productRepository) Replace(ctx context.Context, product domain.Product) error {
	return r.replace(ctx, product)
}

func (r *productRepository) Delete(ctx context.Context, productID string) error {
	return r.delete(ctx, productID)
}

type categoryRepository struct {
	documentRepository[domain.Category]
}

func (r *categoryRepository) Get(ctx context.Context, categoryID string) (domain.Category, error) {
	return r.get(ctx, categoryID)
}

func (r *categoryRepository) FindBySlug(ctx context.Context, slug string) (domain.Category, error) {
	return r.findBy(ctx, "slug", slug)
}

func (r *categoryRepository) FindByName(ctx context.Context, name string) (domain.Category, error) {
	return r.findBy(ctx, "name", name)
}

func (r *categoryRepository) Insert(ctx context.Context, category domain.Category) error {
	return r.insert(ctx, category)
}

func (r *categoryRepository) Replace(ctx context.Context, category domain.Category) error {
	return r.replace(ctx, category)
}

func (r *categoryRepository) Delete(ctx context.Context, categoryID string) error {
	return r.delete(ctx, categoryID)
}

type orderRepository struct {
	documentRepository[domain.Order]
}

func (r *orderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return r.get(ctx, orderID)
}

func (r *orderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.insert(ctx, order)
}

func (r *orderRepository) Replace(ctx context.Context, order domain.Order) error {
	return r.replace(ctx, order)
}

func (r *orderRepository) Delete(ctx context.Context, orderID string) error {
	return r.delete(ctx, orderID)
}

type referralRepository struct {
	documentRepository[domain.Referral]
}

func (r *referralRepository) Get(ctx context.Context, referralID string) (domain.Referral, error) {
	return r.get(ctx, referralID)
}

func (r *referralRepository) Insert(ctx context.Context, referral domain.Referral) error {
	return r.insert(ctx, referral)
}

func (r *referralRepository) Replace(ctx context.Context, referral domain.Referral) error {
	return r.replace(ctx, referral)
}

type affiliateRepository struct {
	documentRepository[domain.Affiliate]
}

func (r *affiliateRepository) Get(ctx context.Context, affiliateID string) (domain.Affiliate, error) {
	return r.get(ctx, affiliateID)
}

func (r *affiliateRepository) Insert(ctx context.Context, affiliate domain.Affiliate) error {
	return r.insert(ctx, affiliate)
}

func (r *affiliateRepository) AddEarnings(ctx context.Context, affiliateID string, amount decimal.Decimal) error {
	return r.backend.Increment(ctx, r.collection, affiliateID, map[string]decimal.Decimal{
		"totalEarnings":  amount,
		"pendingBalance": amount,
	})
}
