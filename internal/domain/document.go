package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/emart/api/internal/query"
)

// Document renders the product in its stored shape. The category field holds the category id.
func (p Product) Document() query.Document {
	images := make([]any, 0, len(p.Images))
	for _, img := range p.Images {
		images = append(images, map[string]any{"url": img.URL, "alt": img.Alt})
	}
	specs := make([]any, 0, len(p.Specifications))
	for _, spec := range p.Specifications {
		specs = append(specs, map[string]any{"key": spec.Key, "value": spec.Value})
	}
	variants := make([]any, 0, len(p.Variants))
	for _, variant := range p.Variants {
		v := map[string]any{"color": variant.Color, "size": variant.Size}
		if variant.Price != nil {
			v["price"] = *variant.Price
		}
		if variant.Stock != nil {
			v["stock"] = *variant.Stock
		}
		variants = append(variants, v)
	}

	doc := query.Document{
		query.IDField:    p.ID,
		"slug":           p.Slug,
		"title":          p.Title,
		"description":    p.Description,
		"price":          p.Price,
		"discount":       p.Discount,
		"stock":          p.Stock,
		"subCategory":    p.SubCategory,
		"brand":          p.Brand,
		"images":         images,
		"specifications": specs,
		"variants":       variants,
		"availability":   string(p.Availability),
		"isFeatured":     p.IsFeatured,
		"published":      p.Published,
		"createdAt":      p.CreatedAt,
		"updatedAt":      p.UpdatedAt,
	}
	if p.CategoryID != "" {
		doc["category"] = p.CategoryID
	}
	return doc
}

// ProductFromDocument decodes a stored or joined product row. A joined category object populates
// both CategoryID and Category.
func ProductFromDocument(doc query.Document) Product {
	p := Product{
		ID:           doc.ID(),
		Slug:         str(doc, "slug"),
		Title:        str(doc, "title"),
		Description:  str(doc, "description"),
		Price:        dec(doc, "price"),
		Discount:     dec(doc, "discount"),
		Stock:        integer(doc, "stock"),
		SubCategory:  str(doc, "subCategory"),
		Brand:        str(doc, "brand"),
		Availability: Availability(str(doc, "availability")),
		IsFeatured:   boolean(doc, "isFeatured"),
		Published:    boolean(doc, "published"),
		CreatedAt:    timestamp(doc, "createdAt"),
		UpdatedAt:    timestamp(doc, "updatedAt"),
	}

	switch category := doc["category"].(type) {
	case string:
		p.CategoryID = category
	default:
		if sub, ok := query.AsDocument(category); ok {
			summary := CategorySummary{ID: sub.ID(), Name: str(sub, "name"), Slug: str(sub, "slug")}
			p.CategoryID = summary.ID
			p.Category = &summary
		}
	}

	for _, item := range list(doc, "images") {
		p.Images = append(p.Images, ProductImage{URL: str(item, "url"), Alt: str(item, "alt")})
	}
	for _, item := range list(doc, "specifications") {
		p.Specifications = append(p.Specifications, ProductSpecification{Key: str(item, "key"), Value: str(item, "value")})
	}
	for _, item := range list(doc, "variants") {
		variant := ProductVariant{Color: str(item, "color"), Size: str(item, "size")}
		if price, ok := query.AsDecimal(item["price"]); ok {
			variant.Price = &price
		}
		if stock, ok := query.AsInt(item["stock"]); ok {
			variant.Stock = &stock
		}
		p.Variants = append(p.Variants, variant)
	}
	return p
}

// Document renders the category in its stored shape.
func (c Category) Document() query.Document {
	doc := query.Document{
		query.IDField: c.ID,
		"name":        c.Name,
		"slug":        c.Slug,
		"description": c.Description,
		"image":       c.Image,
		"isFeatured":  c.IsFeatured,
		"isActive":    c.IsActive,
		"createdAt":   c.CreatedAt,
		"updatedAt":   c.UpdatedAt,
	}
	if c.ParentID != "" {
		doc["parentCategory"] = c.ParentID
	}
	return doc
}

// CategoryFromDocument decodes a stored category.
func CategoryFromDocument(doc query.Document) Category {
	return Category{
		ID:          doc.ID(),
		Name:        str(doc, "name"),
		Slug:        str(doc, "slug"),
		Description: str(doc, "description"),
		ParentID:    str(doc, "parentCategory"),
		Image:       str(doc, "image"),
		IsFeatured:  boolean(doc, "isFeatured"),
		IsActive:    boolean(doc, "isActive"),
		CreatedAt:   timestamp(doc, "createdAt"),
		UpdatedAt:   timestamp(doc, "updatedAt"),
	}
}

// Document renders the order in its stored shape.
func (o Order) Document() query.Document {
	items := make([]any, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, map[string]any{
			"title":    item.Title,
			"image":    item.Image,
			"price":    item.Price,
			"quantity": item.Quantity,
			"slug":     item.Slug,
		})
	}
	doc := query.Document{
		query.IDField: o.ID,
		"guestUser": map[string]any{
			"firstName": o.GuestUser.FirstName,
			"lastName":  o.GuestUser.LastName,
			"email":     o.GuestUser.Email,
			"phone":     o.GuestUser.Phone,
		},
		"address": map[string]any{
			"address": o.Address.Address,
			"city":    o.Address.City,
			"state":   o.Address.State,
			"zipCode": o.Address.ZipCode,
			"country": o.Address.Country,
		},
		"items":            items,
		"amount":           o.Amount,
		"status":           string(o.Status),
		"isAffiliateOrder": o.Affiliate.IsAffiliateOrder,
		"commission":       o.Affiliate.Commission,
		"createdAt":        o.CreatedAt,
		"updatedAt":        o.UpdatedAt,
	}
	if o.CustomerID != "" {
		doc["customerId"] = o.CustomerID
	}
	if o.Affiliate.ReferralID != "" {
		doc["referralId"] = o.Affiliate.ReferralID
	}
	if o.Affiliate.AffiliateID != "" {
		doc["affiliateId"] = o.Affiliate.AffiliateID
	}
	if o.CompletedAt != nil {
		doc["completedAt"] = *o.CompletedAt
	}
	return doc
}

// OrderFromDocument decodes a stored order.
func OrderFromDocument(doc query.Document) Order {
	guest, _ := query.AsDocument(doc["guestUser"])
	address, _ := query.AsDocument(doc["address"])
	order := Order{
		ID:         doc.ID(),
		CustomerID: str(doc, "customerId"),
		GuestUser: GuestUser{
			FirstName: str(guest, "firstName"),
			LastName:  str(guest, "lastName"),
			Email:     str(guest, "email"),
			Phone:     str(guest, "phone"),
		},
		Address: Address{
			Address: str(address, "address"),
			City:    str(address, "city"),
			State:   str(address, "state"),
			ZipCode: str(address, "zipCode"),
			Country: str(address, "country"),
		},
		Amount: dec(doc, "amount"),
		Status: OrderStatus(str(doc, "status")),
		Affiliate: OrderAffiliate{
			IsAffiliateOrder: boolean(doc, "isAffiliateOrder"),
			ReferralID:       str(doc, "referralId"),
			AffiliateID:      str(doc, "affiliateId"),
			Commission:       dec(doc, "commission"),
		},
		CreatedAt:   timestamp(doc, "createdAt"),
		UpdatedAt:   timestamp(doc, "updatedAt"),
		CompletedAt: timestampPtr(doc, "completedAt"),
	}
	for _, item := range list(doc, "items") {
		order.Items = append(order.Items, OrderLineItem{
			Title:    str(item, "title"),
			Image:    str(item, "image"),
			Price:    dec(item, "price"),
			Quantity: integer(item, "quantity"),
			Slug:     str(item, "slug"),
		})
	}
	return order
}

// Document renders the referral in its stored shape.
func (r Referral) Document() query.Document {
	doc := query.Document{
		query.IDField: r.ID,
		"affiliateId": r.AffiliateID,
		"orderId":     r.OrderID,
		"status":      string(r.Status),
		"commission":  r.Commission,
		"createdAt":   r.CreatedAt,
	}
	if r.CompletedAt != nil {
		doc["completedAt"] = *r.CompletedAt
	}
	return doc
}

// ReferralFromDocument decodes a stored referral.
func ReferralFromDocument(doc query.Document) Referral {
	return Referral{
		ID:          doc.ID(),
		AffiliateID: str(doc, "affiliateId"),
		OrderID:     str(doc, "orderId"),
		Status:      ReferralStatus(str(doc, "status")),
		Commission:  dec(doc, "commission"),
		CreatedAt:   timestamp(doc, "createdAt"),
		CompletedAt: timestampPtr(doc, "completedAt"),
	}
}

// Document renders the affiliate in its stored shape.
func (a Affiliate) Document() query.Document {
	return query.Document{
		query.IDField:    a.ID,
		"name":           a.Name,
		"totalEarnings":  a.TotalEarnings,
		"pendingBalance": a.PendingBalance,
	}
}

// AffiliateFromDocument decodes a stored affiliate.
func AffiliateFromDocument(doc query.Document) Affiliate {
	return Affiliate{
		ID:             doc.ID(),
		Name:           str(doc, "name"),
		TotalEarnings:  dec(doc, "totalEarnings"),
		PendingBalance: dec(doc, "pendingBalance"),
	}
}

func str(doc query.Document, field string) string {
	value, _ := query.AsString(doc[field])
	return value
}

func dec(doc query.Document, field string) decimal.Decimal {
	value, _ := query.AsDecimal(doc[field])
	return value
}

func integer(doc query.Document, field string) int64 {
	value, _ := query.AsInt(doc[field])
	return value
}

func boolean(doc query.Document, field string) bool {
	value, _ := query.AsBool(doc[field])
	return value
}

func timestamp(doc query.Document, field string) time.Time {
	value, ok := query.AsTime(doc[field])
	if !ok {
		return time.Time{}
	}
	return value.UTC()
}

func timestampPtr(doc query.Document, field string) *time.Time {
	value, ok := query.AsTime(doc[field])
	if !ok {
		return nil
	}
	value = value.UTC()
	return &value
}

func list(doc query.Document, field string) []query.Document {
	values, ok := query.AsList(doc[field])
	if !ok {
		return nil
	}
	out := make([]query.Document, 0, len(values))
	for _, value := range values {
		if item, ok := query.AsDocument(value); ok {
			out = append(out, item)
		}
	}
	return out
}
