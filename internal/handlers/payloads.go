package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/emart/api/internal/domain"
	"github.com/emart/api/internal/services"
)

type categoryRefPayload struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type productImagePayload struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

type productSpecPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type productVariantPayload struct {
	Color string           `json:"color,omitempty"`
	Size  string           `json:"size,omitempty"`
	Price *decimal.Decimal `json:"price,omitempty"`
	Stock *int64           `json:"stock,omitempty"`
}

type productPayload struct {
	ID             string                  `json:"_id"`
	Slug           string                  `json:"slug"`
	Title          string                  `json:"title"`
	Description    string                  `json:"description,omitempty"`
	Price          decimal.Decimal         `json:"price"`
	Discount       decimal.Decimal         `json:"discount"`
	Stock          int64                   `json:"stock"`
	CategoryID     string                  `json:"categoryId,omitempty"`
	Category       *categoryRefPayload     `json:"category,omitempty"`
	SubCategory    string                  `json:"subCategory,omitempty"`
	Brand          string                  `json:"brand,omitempty"`
	Images         []productImagePayload   `json:"images"`
	Specifications []productSpecPayload    `json:"specifications,omitempty"`
	Variants       []productVariantPayload `json:"variants,omitempty"`
	Availability   string                  `json:"availability"`
	IsFeatured     bool                    `json:"isFeatured"`
	Published      bool                    `json:"published"`
	CreatedAt      *time.Time              `json:"createdAt,omitempty"`
	UpdatedAt      *time.Time              `json:"updatedAt,omitempty"`
}

func newProductPayload(p services.Product) productPayload {
	out := productPayload{
		ID:           p.ID,
		Slug:         p.Slug,
		Title:        p.Title,
		Description:  p.Description,
		Price:        p.Price,
		Discount:     p.Discount,
		Stock:        p.Stock,
		CategoryID:   p.CategoryID,
		SubCategory:  p.SubCategory,
		Brand:        p.Brand,
		Images:       make([]productImagePayload, 0, len(p.Images)),
		Availability: string(p.Availability),
		IsFeatured:   p.IsFeatured,
		Published:    p.Published,
		CreatedAt:    timePtr(p.CreatedAt),
		UpdatedAt:    timePtr(p.UpdatedAt),
	}
	if p.Category != nil {
		out.Category = &categoryRefPayload{ID: p.Category.ID, Name: p.Category.Name, Slug: p.Category.Slug}
	}
	for _, img := range p.Images {
		out.Images = append(out.Images, productImagePayload{URL: img.URL, Alt: img.Alt})
	}
	for _, spec := range p.Specifications {
		out.Specifications = append(out.Specifications, productSpecPayload{Key: spec.Key, Value: spec.Value})
	}
	for _, v := range p.Variants {
		out.Variants = append(out.Variants, productVariantPayload{Color: v.Color, Size: v.Size, Price: v.Price, Stock: v.Stock})
	}
	return out
}

func newProductPayloads(products []services.Product) []productPayload {
	out := make([]productPayload, 0, len(products))
	for _, p := range products {
		out = append(out, newProductPayload(p))
	}
	return out
}

type categoryPayload struct {
	ID          string     `json:"_id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Description string     `json:"description,omitempty"`
	ParentID    string     `json:"parentCategory,omitempty"`
	Image       string     `json:"image,omitempty"`
	IsFeatured  bool       `json:"isFeatured"`
	IsActive    bool       `json:"isActive"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

func newCategoryPayload(c services.Category) categoryPayload {
	return categoryPayload{
		ID:          c.ID,
		Name:        c.Name,
		Slug:        c.Slug,
		Description: c.Description,
		ParentID:    c.ParentID,
		Image:       c.Image,
		IsFeatured:  c.IsFeatured,
		IsActive:    c.IsActive,
		CreatedAt:   timePtr(c.CreatedAt),
		UpdatedAt:   timePtr(c.UpdatedAt),
	}
}

func newCategoryPayloads(categories []services.Category) []categoryPayload {
	out := make([]categoryPayload, 0, len(categories))
	for _, c := range categories {
		out = append(out, newCategoryPayload(c))
	}
	return out
}

type guestUserPayload struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type addressPayload struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

type orderItemPayload struct {
	Title    string          `json:"title"`
	Image    string          `json:"image,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Slug     string          `json:"slug,omitempty"`
}

type orderPayload struct {
	ID               string             `json:"_id"`
	CustomerID       string             `json:"customerId,omitempty"`
	GuestUser        guestUserPayload   `json:"guestUser"`
	Address          addressPayload     `json:"address"`
	Items            []orderItemPayload `json:"items"`
	Amount           decimal.Decimal    `json:"amount"`
	Status           string             `json:"status"`
	IsAffiliateOrder bool               `json:"isAffiliateOrder"`
	ReferralID       string             `json:"referralId,omitempty"`
	AffiliateID      string             `json:"affiliateId,omitempty"`
	Commission       *decimal.Decimal   `json:"commission,omitempty"`
	CreatedAt        *time.Time         `json:"createdAt,omitempty"`
	UpdatedAt        *time.Time         `json:"updatedAt,omitempty"`
	CompletedAt      *time.Time         `json:"completedAt,omitempty"`
}

func newOrderPayload(o services.Order) orderPayload {
	out := orderPayload{
		ID:               o.ID,
		CustomerID:       o.CustomerID,
		GuestUser:        guestUserPayload(o.GuestUser),
		Address:          addressPayload(o.Address),
		Items:            make([]orderItemPayload, 0, len(o.Items)),
		Amount:           o.Amount,
		Status:           string(o.Status),
		IsAffiliateOrder: o.Affiliate.IsAffiliateOrder,
		ReferralID:       o.Affiliate.ReferralID,
		AffiliateID:      o.Affiliate.AffiliateID,
		CreatedAt:        timePtr(o.CreatedAt),
		UpdatedAt:        timePtr(o.UpdatedAt),
	}
	if o.Affiliate.IsAffiliateOrder {
		commission := o.Affiliate.Commission
		out.Commission = &commission
	}
	if o.CompletedAt != nil {
		out.CompletedAt = timePtr(*o.CompletedAt)
	}
	for _, item := range o.Items {
		out.Items = append(out.Items, orderItemPayload(item))
	}
	return out
}

type guestOrderRequest struct {
	GuestUser guestUserPayload   `json:"guestUser"`
	Address   addressPayload     `json:"address"`
	Items     []orderItemPayload `json:"items"`
	Amount    decimal.Decimal    `json:"amount"`
}

func (req guestOrderRequest) toCommand() services.GuestOrderCommand {
	cmd := services.GuestOrderCommand{
		GuestUser: domain.GuestUser(req.GuestUser),
		Address:   domain.Address(req.Address),
		Items:     make([]services.OrderLineItem, 0, len(req.Items)),
		Amount:    req.Amount,
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, domain.OrderLineItem(item))
	}
	return cmd
}

type statusUpdateRequest struct {
	Status string `json:"status"`
}

type statusUpdateResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Order   *orderPayload `json:"order,omitempty"`
}

type productPatchRequest struct {
	Title        *string          `json:"title"`
	Description  *string          `json:"description"`
	Price        *decimal.Decimal `json:"price"`
	Discount     *decimal.Decimal `json:"discount"`
	Stock        *int64           `json:"stock"`
	SubCategory  *string          `json:"subCategory"`
	Availability *string          `json:"availability"`
	IsFeatured   *bool            `json:"isFeatured"`
	Published    *bool            `json:"published"`
}

func (req productPatchRequest) toPatch() services.ProductPatch {
	patch := services.ProductPatch{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Discount:    req.Discount,
		Stock:       req.Stock,
		SubCategory: req.SubCategory,
		IsFeatured:  req.IsFeatured,
		Published:   req.Published,
	}
	if req.Availability != nil {
		availability := domain.Availability(*req.Availability)
		patch.Availability = &availability
	}
	return patch
}

type createCategoryRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	ParentID    string `json:"parentCategory"`
	Image       string `json:"image"`
	IsFeatured  bool   `json:"isFeatured"`
	IsActive    *bool  `json:"isActive"`
}

type categoryPatchRequest struct {
	Name        *string `json:"name"`
	Slug        *string `json:"slug"`
	Description *string `json:"description"`
	ParentID    *string `json:"parentCategory"`
	Image       *string `json:"image"`
	IsFeatured  *bool   `json:"isFeatured"`
	IsActive    *bool   `json:"isActive"`
}

type categoryProductsResponse struct {
	Category categoryPayload `json:"category"`
	envelopeFields
	Items []productPayload `json:"items"`
}

type envelopeFields struct {
	CurrentPage int   `json:"currentPage"`
	PageSize    int   `json:"pageSize"`
	TotalCount  int64 `json:"totalCount"`
	TotalPages  int   `json:"totalPages"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
