package query

import (
	"errors"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/emart/api/internal/platform/pagination"
)

var testStatuses = []string{"Placed", "Pending", "Delivered", "Canceled", "Refunded"}

func TestCompileDefaults(t *testing.T) {
	desc, err := Compile(url.Values{}, EntityProducts, Access{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Page != 1 || desc.PageSize != 10 {
		t.Fatalf("expected 1/10 defaults, got %d/%d", desc.Page, desc.PageSize)
	}
	if desc.SortKey != "date" {
		t.Fatalf("expected default sort date, got %q", desc.SortKey)
	}
	if diff := cmp.Diff([]SortKey{{Field: "createdAt", Desc: true}}, desc.Sort); diff != "" {
		t.Fatalf("sort mismatch (-want +got):\n%s", diff)
	}
	if desc.IsAdmin {
		t.Fatalf("expected public descriptor")
	}
}

func TestCompileNonNumericFallsBack(t *testing.T) {
	desc, err := Compile(url.Values{"page": {"abc"}, "pageSize": {"ten"}}, EntityCategories, Access{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Page != 1 || desc.PageSize != 10 {
		t.Fatalf("expected fallback 1/10, got %d/%d", desc.Page, desc.PageSize)
	}
}

func TestCompileRejectsNonPositive(t *testing.T) {
	cases := []struct {
		name   string
		values url.Values
		target error
	}{
		{name: "zero page", values: url.Values{"page": {"0"}}, target: pagination.ErrInvalidPage},
		{name: "negative page size", values: url.Values{"pageSize": {"-3"}}, target: pagination.ErrInvalidPageSize},
		{name: "offset overflow", values: url.Values{"page": {"1844674407370955162"}, "pageSize": {"10"}}, target: pagination.ErrInvalidPage},
		{name: "page beyond int", values: url.Values{"page": {"99999999999999999999999"}}, target: pagination.ErrInvalidPage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.values, EntityProducts, Access{})
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
		})
	}
}

func TestCompileClampsPageSize(t *testing.T) {
	compiler := NewCompiler(CompilerOptions{MaxPageSize: 50})
	desc, err := compiler.Compile(url.Values{"pageSize": {"500"}}, EntityProducts, Access{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.PageSize != 50 {
		t.Fatalf("expected clamp to 50, got %d", desc.PageSize)
	}
}

func TestCompileSortTables(t *testing.T) {
	cases := []struct {
		entity Entity
		param  string
		value  string
		key    string
		want   []SortKey
	}{
		{EntityProducts, "sortBy", "price-low-high", "price-low-high", []SortKey{{Field: "price"}}},
		{EntityProducts, "sortBy", "price-high-low", "price-high-low", []SortKey{{Field: "price", Desc: true}}},
		{EntityProducts, "sortBy", "oldest", "oldest", []SortKey{{Field: "createdAt"}}},
		{EntityProducts, "sortBy", "on-sale", "on-sale", []SortKey{{Field: "discount", Desc: true}}},
		{EntityProducts, "sortBy", "bogus", "date", []SortKey{{Field: "createdAt", Desc: true}}},
		{EntityCategories, "sortBy", "name-desc", "name-desc", []SortKey{{Field: "name", Desc: true}}},
		{EntityCategories, "sortBy", "", "name-asc", []SortKey{{Field: "name"}}},
		{EntityOrders, "sortField", "amount-high-to-low", "amount-high-to-low", []SortKey{{Field: "amount", Desc: true}}},
		{EntityOrders, "sortBy", "oldest", "oldest", []SortKey{{Field: "createdAt"}}},
		{EntityOrders, "sortField", "price-low-high", "newest", []SortKey{{Field: "createdAt", Desc: true}}},
	}
	for _, tc := range cases {
		t.Run(string(tc.entity)+"/"+tc.value, func(t *testing.T) {
			desc, err := Compile(url.Values{tc.param: {tc.value}}, tc.entity, Access{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if desc.SortKey != tc.key {
				t.Fatalf("expected key %q, got %q", tc.key, desc.SortKey)
			}
			if diff := cmp.Diff(tc.want, desc.Sort); diff != "" {
				t.Fatalf("sort mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompileAdminGate(t *testing.T) {
	cases := []struct {
		name   string
		access Access
		param  string
		want   bool
	}{
		{name: "public cannot widen", access: Access{}, param: "true", want: false},
		{name: "admin default", access: Access{IsAdmin: true}, param: "", want: true},
		{name: "admin narrows", access: Access{IsAdmin: true}, param: "false", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			values := url.Values{}
			if tc.param != "" {
				values.Set("isAdmin", tc.param)
			}
			desc, err := Compile(values, EntityProducts, tc.access)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if desc.IsAdmin != tc.want {
				t.Fatalf("expected isAdmin=%v, got %v", tc.want, desc.IsAdmin)
			}
		})
	}
}

func TestCompileFilters(t *testing.T) {
	values := url.Values{
		"search":      {"  Phone "},
		"category":    {"electronics"},
		"subCategory": {"Mobiles"},
	}
	desc, err := Compile(values, EntityProducts, Access{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Search != "  Phone " || desc.Category != "electronics" || desc.SubCategory != "Mobiles" {
		t.Fatalf("unexpected filters: %+v", desc)
	}

	desc, err = Compile(url.Values{"search": {" "}}, EntityProducts, Access{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Search != " " {
		t.Fatalf("expected whitespace term kept, got %q", desc.Search)
	}
	desc, err = Compile(url.Values{"search": {""}}, EntityProducts, Access{})
	if err != nil || desc.Search != "" {
		t.Fatalf("expected empty search, got %q err=%v", desc.Search, err)
	}
}

func TestCompileOrderStatus(t *testing.T) {
	compiler := NewCompiler(CompilerOptions{OrderStatuses: testStatuses})

	desc, err := compiler.Compile(url.Values{"filterBy": {"delivered"}}, EntityOrders, Access{IsAdmin: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Status != "Delivered" {
		t.Fatalf("expected canonical status, got %q", desc.Status)
	}

	desc, err = compiler.Compile(url.Values{"filterBy": {"all"}}, EntityOrders, Access{IsAdmin: true})
	if err != nil || desc.Status != "" {
		t.Fatalf("expected no status filter, got %q err=%v", desc.Status, err)
	}

	_, err = compiler.Compile(url.Values{"status": {"Shipped"}}, EntityOrders, Access{IsAdmin: true})
	if !errors.Is(err, ErrInvalidStatus) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected invalid status validation error, got %v", err)
	}
}

func TestCompileUnknownEntity(t *testing.T) {
	if _, err := Compile(url.Values{}, Entity("users"), Access{}); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected unknown entity error, got %v", err)
	}
}
