package query

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/emart/api/internal/platform/pagination"
)

// CompilerOptions configures the page window and the accepted order statuses.
type CompilerOptions struct {
	DefaultPageSize int
	MaxPageSize     int
	// OrderStatuses lists the canonical status names accepted by the orders status filter.
	OrderStatuses []string
}

// Compiler turns raw query parameters into descriptors. It never touches storage.
type Compiler struct {
	pages    pagination.Options
	statuses []string
}

// NewCompiler constructs a compiler with the supplied options.
func NewCompiler(opts CompilerOptions) *Compiler {
	return &Compiler{
		pages: pagination.Options{
			DefaultPageSize: opts.DefaultPageSize,
			MaxPageSize:     opts.MaxPageSize,
		},
		statuses: append([]string(nil), opts.OrderStatuses...),
	}
}

var defaultCompiler = NewCompiler(CompilerOptions{})

// Compile uses the package defaults; see Compiler.Compile.
func Compile(values url.Values, entity Entity, access Access) (Descriptor, error) {
	return defaultCompiler.Compile(values, entity, access)
}

// Compile validates values for the given entity. Unknown sort names fall back to the entity default.
// The search term is kept verbatim; only an empty term disables the filter.
// The isAdmin parameter can only narrow visibility below what access grants.
func (c *Compiler) Compile(values url.Values, entity Entity, access Access) (Descriptor, error) {
	if _, ok := sortTables[entity]; !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
	if values == nil {
		values = url.Values{}
	}

	params, err := pagination.Parse(values, c.pages)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	desc := Descriptor{
		Entity:   entity,
		Page:     params.Page,
		PageSize: params.PageSize,
		Search:   values.Get("search"),
		IsAdmin:  access.IsAdmin && !strings.EqualFold(strings.TrimSpace(values.Get("isAdmin")), "false"),
	}

	sortParam := values.Get("sortBy")
	if entity == EntityOrders {
		if v := values.Get("sortField"); v != "" {
			sortParam = v
		}
	}
	desc.SortKey, desc.Sort = ResolveSort(entity, strings.TrimSpace(sortParam))

	switch entity {
	case EntityProducts:
		desc.Category = strings.TrimSpace(values.Get("category"))
		desc.SubCategory = strings.TrimSpace(values.Get("subCategory"))
	case EntityOrders:
		raw := strings.TrimSpace(values.Get("filterBy"))
		if raw == "" {
			raw = strings.TrimSpace(values.Get("status"))
		}
		status, err := c.normalizeStatus(raw)
		if err != nil {
			return Descriptor{}, err
		}
		desc.Status = status
	}

	return desc, nil
}

func (c *Compiler) normalizeStatus(raw string) (string, error) {
	if raw == "" || strings.EqualFold(raw, "all") {
		return "", nil
	}
	if len(c.statuses) == 0 {
		return raw, nil
	}
	for _, status := range c.statuses {
		if strings.EqualFold(status, raw) {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidStatus, raw)
}
