package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Availability enumerates the stock states shown on the storefront.
type Availability string

const (
	AvailabilityInStock    Availability = "In Stock"
	AvailabilityOutOfStock Availability = "Out of Stock"
	AvailabilityPreorder   Availability = "Preorder"
)

// DefaultBrand is stored when a product omits its brand.
const DefaultBrand = "No Brand"

// Product is a catalog item.
type Product struct {
	ID             string
	Slug           string
	Title          string
	Description    string
	Price          decimal.Decimal
	Discount       decimal.Decimal
	Stock          int64
	CategoryID     string
	Category       *CategorySummary
	SubCategory    string
	Brand          string
	Images         []ProductImage
	Specifications []ProductSpecification
	Variants       []ProductVariant
	Availability   Availability
	IsFeatured     bool
	Published      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProductImage references an uploaded image.
type ProductImage struct {
	URL string
	Alt string
}

// ProductSpecification is a free-form key/value pair.
type ProductSpecification struct {
	Key   string
	Value string
}

// ProductVariant optionally overrides price and stock for a color/size combination.
type ProductVariant struct {
	Color string
	Size  string
	Price *decimal.Decimal
	Stock *int64
}

// CategorySummary is the joined view of a product's category.
type CategorySummary struct {
	ID   string
	Name string
	Slug string
}

// Category groups products. ParentID forms a tree the writer keeps acyclic.
type Category struct {
	ID          string
	Name        string
	Slug        string
	Description string
	ParentID    string
	Image       string
	IsFeatured  bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPlaced is the initial state of every order.
	OrderStatusPlaced OrderStatus = "Placed"
	// OrderStatusPending indicates the order is being processed.
	OrderStatusPending OrderStatus = "Pending"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "Delivered"
	// OrderStatusCanceled indicates the order was canceled.
	OrderStatusCanceled OrderStatus = "Canceled"
	// OrderStatusRefunded indicates the order was refunded.
	OrderStatusRefunded OrderStatus = "Refunded"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPlaced,
	OrderStatusPending,
	OrderStatusDelivered,
	OrderStatusCanceled,
	OrderStatusRefunded,
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPlaced:  {OrderStatusPending, OrderStatusDelivered, OrderStatusCanceled, OrderStatusRefunded},
	OrderStatusPending: {OrderStatusDelivered, OrderStatusCanceled, OrderStatusRefunded},
}

// ParseOrderStatus returns the canonical status for value, ignoring case.
func ParseOrderStatus(value string) (OrderStatus, bool) {
	for _, status := range OrderStatuses {
		if strings.EqualFold(string(status), strings.TrimSpace(value)) {
			return status, true
		}
	}
	return "", false
}

// OrderStatusNames returns the status names as strings.
func OrderStatusNames() []string {
	names := make([]string, len(OrderStatuses))
	for i, status := range OrderStatuses {
		names[i] = string(status)
	}
	return names
}

// CanTransition reports whether an order may move from one status to another.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transitions leave the status.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// GuestUser holds buyer contact details captured at checkout.
type GuestUser struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// Address is a shipping address.
type Address struct {
	Address string
	City    string
	State   string
	ZipCode string
	Country string
}

// OrderLineItem snapshots a product at checkout. It never changes after creation.
type OrderLineItem struct {
	Title    string
	Image    string
	Price    decimal.Decimal
	Quantity int64
	Slug     string
}

// OrderAffiliate links an order to the referral that produced it.
type OrderAffiliate struct {
	IsAffiliateOrder bool
	ReferralID       string
	AffiliateID      string
	Commission       decimal.Decimal
}

// Order captures a checkout and its fulfilment state.
type Order struct {
	ID          string
	CustomerID  string
	GuestUser   GuestUser
	Address     Address
	Items       []OrderLineItem
	Amount      decimal.Decimal
	Status      OrderStatus
	Affiliate   OrderAffiliate
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// IsGuest reports whether the order lacks a stable customer identifier.
func (o Order) IsGuest() bool {
	return o.CustomerID == ""
}

// ReferralStatus tracks the commission lifecycle of a referral.
type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusCompleted ReferralStatus = "completed"
	ReferralStatusCancelled ReferralStatus = "cancelled"
)

// Referral records the commission owed to an affiliate for one order.
type Referral struct {
	ID          string
	AffiliateID string
	OrderID     string
	Status      ReferralStatus
	Commission  decimal.Decimal
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Affiliate accumulates earnings from completed referrals.
type Affiliate struct {
	ID             string
	Name           string
	TotalEarnings  decimal.Decimal
	PendingBalance decimal.Decimal
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// RelationCacheStats describes the cached relation entries of one collection.
type RelationCacheStats struct {
	Entries int
	Expired int
	// OldestAge is the age of the least recently loaded entry.
	OldestAge time.Duration
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status        string
	Checks        map[string]SystemHealthCheck
	StorageDriver string
	RelationCache map[string]RelationCacheStats
	Version       string
	CommitSHA     string
	Environment   string
	Uptime        time.Duration
	GeneratedAt   time.Time
}
