package query

import "github.com/emart/api/internal/platform/pagination"

// Entity names a list view the builder knows how to construct.
type Entity string

const (
	EntityProducts   Entity = "products"
	EntityCategories Entity = "categories"
	EntityOrders     Entity = "orders"
)

// Access carries the upstream-verified principal. It is the only source that can grant admin
// visibility.
type Access struct {
	IsAdmin bool
	UserID  string
}

// Descriptor is the validated form of a list request.
type Descriptor struct {
	Entity   Entity
	Page     int
	PageSize int

	// SortKey is the resolved sort name and Sort its field ordering.
	SortKey string
	Sort    []SortKey

	Search      string
	Category    string
	CategoryID  string
	SubCategory string
	Status      string
	CustomerID  string

	// Where holds additional conjunctive filters set by services, never by clients.
	Where []Predicate

	IsAdmin bool
}

// Params returns the page window of the descriptor.
func (d Descriptor) Params() pagination.Params {
	return pagination.Must(pagination.Params{Page: d.Page, PageSize: d.PageSize})
}

type sortTable struct {
	fallback string
	keys     map[string][]SortKey
}

func (t sortTable) resolve(name string) (string, []SortKey) {
	if keys, ok := t.keys[name]; ok {
		return name, keys
	}
	return t.fallback, t.keys[t.fallback]
}

var sortTables = map[Entity]sortTable{
	EntityProducts: {
		fallback: "date",
		keys: map[string][]SortKey{
			"price-low-high": {{Field: "price"}},
			"price-high-low": {{Field: "price", Desc: true}},
			"newest":         {{Field: "createdAt", Desc: true}},
			"date":           {{Field: "createdAt", Desc: true}},
			"oldest":         {{Field: "createdAt"}},
			"on-sale":        {{Field: "discount", Desc: true}},
			"name-asc":       {{Field: "title"}},
			"name-desc":      {{Field: "title", Desc: true}},
		},
	},
	EntityCategories: {
		fallback: "name-asc",
		keys: map[string][]SortKey{
			"name-asc":  {{Field: "name"}},
			"name-desc": {{Field: "name", Desc: true}},
			"newest":    {{Field: "createdAt", Desc: true}},
			"oldest":    {{Field: "createdAt"}},
		},
	},
	EntityOrders: {
		fallback: "newest",
		keys: map[string][]SortKey{
			"newest":             {{Field: "createdAt", Desc: true}},
			"oldest":             {{Field: "createdAt"}},
			"amount-high-to-low": {{Field: "amount", Desc: true}},
			"amount-low-to-high": {{Field: "amount"}},
		},
	},
}

// ResolveSort maps a client sort name to its field ordering, falling back to the entity default for
// unknown names.
func ResolveSort(entity Entity, name string) (string, []SortKey) {
	table, ok := sortTables[entity]
	if !ok {
		return "", nil
	}
	return table.resolve(name)
}
