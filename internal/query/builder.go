package query

import (
	"fmt"
	"slices"

	"github.com/emart/api/internal/platform/pagination"
)

// View describes how a list over one collection is assembled.
type View struct {
	Collection string
	// Published enables the visibility stage for non-admin descriptors.
	Published bool
	// SearchFields are OR-matched against the descriptor search term.
	SearchFields []string
	// CategoryJoin, when set, joins the category relation into the row.
	CategoryJoin *Join
	// Fields is the projection applied before sorting. Empty keeps whole documents.
	Fields []string
}

// CategoryJoin attaches the category summary to a product row, keeping rows with dangling or
// missing references.
var CategoryJoin = Join{
	From:              "categories",
	LocalField:        "category",
	ForeignField:      IDField,
	As:                "category",
	Single:            true,
	PreserveUnmatched: true,
	Fields:            []string{"name", "slug"},
}

// DefaultViews are the list views exposed by the storefront.
var DefaultViews = map[Entity]View{
	EntityProducts: {
		Collection:   "products",
		Published:    true,
		SearchFields: []string{"title", "description"},
		CategoryJoin: &CategoryJoin,
		Fields: []string{
			"slug", "title", "description", "price", "discount", "stock", "category", "subCategory",
			"brand", "images", "availability", "isFeatured", "published", "createdAt", "updatedAt",
		},
	},
	EntityCategories: {
		Collection:   "categories",
		SearchFields: []string{"name"},
		Fields: []string{
			"name", "slug", "description", "parentCategory", "image", "isFeatured", "isActive",
			"createdAt", "updatedAt",
		},
	},
	EntityOrders: {
		Collection: "orders",
		SearchFields: []string{
			"guestUser.firstName", "guestUser.lastName", "guestUser.email", "guestUser.phone",
			"address.city", "customerId",
		},
	},
}

// Builder produces plans from descriptors.
type Builder struct {
	views map[Entity]View
}

// NewBuilder returns a builder over views, or DefaultViews when views is nil.
func NewBuilder(views map[Entity]View) *Builder {
	if views == nil {
		views = DefaultViews
	}
	return &Builder{views: views}
}

// Plan is a built list query. The filter prefix is shared by both variants, so the page and the count
// always see the same rows.
type Plan struct {
	Collection string
	Page       int
	PageSize   int

	prefix []Stage
	sort   Sort
}

// PageStages returns the prefix followed by sort, skip and limit.
func (p Plan) PageStages() []Stage {
	stages := make([]Stage, 0, len(p.prefix)+3)
	stages = append(stages, p.prefix...)
	if len(p.sort.Keys) > 0 {
		stages = append(stages, p.sort)
	}
	window := pagination.Params{Page: p.Page, PageSize: p.PageSize}
	if offset := window.Offset(); offset > 0 {
		stages = append(stages, Skip{N: offset})
	}
	return append(stages, Limit{N: p.PageSize})
}

// CountStages returns the prefix followed by a count stage.
func (p Plan) CountStages() []Stage {
	stages := make([]Stage, 0, len(p.prefix)+1)
	stages = append(stages, p.prefix...)
	return append(stages, Count{As: DefaultCountField})
}

// Filters returns a copy of the shared prefix.
func (p Plan) Filters() []Stage {
	return slices.Clone(p.prefix)
}

// Build constructs the plan for desc. The stage order is fixed: visibility, search, category slug,
// sub-category, status, caller filters, category join, projection, then sort and window.
func (b *Builder) Build(desc Descriptor) (Plan, error) {
	view, ok := b.views[desc.Entity]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownEntity, desc.Entity)
	}
	params := desc.Params()
	if err := params.Validate(); err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	var (
		stages []Stage
		joined bool
	)

	if view.Published && !desc.IsAdmin {
		stages = append(stages, Match{Predicate: Eq{Field: "published", Value: true}})
	}

	if desc.Search != "" && len(view.SearchFields) > 0 {
		stages = append(stages, Match{Predicate: AnyOf(view.SearchFields, desc.Search)})
	}

	if desc.CustomerID != "" {
		stages = append(stages, Match{Predicate: Eq{Field: "customerId", Value: desc.CustomerID}})
	}

	if desc.CategoryID != "" && view.CategoryJoin != nil {
		stages = append(stages, Match{Predicate: Eq{Field: view.CategoryJoin.LocalField, Value: desc.CategoryID}})
	}

	if desc.Category != "" && view.CategoryJoin != nil {
		join := *view.CategoryJoin
		stages = append(stages,
			join,
			Match{Predicate: Eq{Field: join.As + ".slug", Value: desc.Category}},
		)
		joined = true
	}

	if desc.SubCategory != "" {
		stages = append(stages, Match{Predicate: Eq{Field: "subCategory", Value: desc.SubCategory}})
	}

	if desc.Status != "" {
		stages = append(stages, Match{Predicate: Eq{Field: "status", Value: desc.Status}})
	}

	if len(desc.Where) > 0 {
		stages = append(stages, Match{Predicate: AllOf(desc.Where...)})
	}

	if view.CategoryJoin != nil && !joined {
		stages = append(stages, *view.CategoryJoin)
	}

	if len(view.Fields) > 0 {
		stages = append(stages, Project{Fields: view.Fields})
	}

	sortKeys := desc.Sort
	if len(sortKeys) == 0 {
		_, sortKeys = ResolveSort(desc.Entity, desc.SortKey)
	}

	return Plan{
		Collection: view.Collection,
		Page:       params.Page,
		PageSize:   params.PageSize,
		prefix:     stages,
		sort:       Sort{Keys: slices.Clone(sortKeys)},
	}, nil
}
