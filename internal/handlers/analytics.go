package handlers

import (
	"net/http"
	"slices"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/emart/api/internal/platform/httpx"
	"github.com/emart/api/internal/repositories"
	"github.com/emart/api/internal/services"
)

var refreshableCollections = []string{
	repositories.CollectionCategories,
	repositories.CollectionProducts,
	repositories.CollectionReferrals,
	repositories.CollectionAffiliates,
}

// AnalyticsHandlers exposes the admin reports and relation cache maintenance.
type AnalyticsHandlers struct {
	analytics services.AnalyticsService
	relations services.RelationCache
}

// NewAnalyticsHandlers constructs AnalyticsHandlers. relations may be nil when no cache is wired.
func NewAnalyticsHandlers(analytics services.AnalyticsService, relations services.RelationCache) *AnalyticsHandlers {
	return &AnalyticsHandlers{analytics: analytics, relations: relations}
}

// AdminRoutes registers the /admin/analytics and /admin/relations endpoints.
func (h *AnalyticsHandlers) AdminRoutes(r chi.Router) {
	r.Get("/analytics/orders", h.orderReport)
	r.Get("/analytics/catalog", h.catalogReport)
	r.Post("/relations:refresh", h.refreshRelations)
}

type windowPayload struct {
	Start      time.Time       `json:"start"`
	End        time.Time       `json:"end"`
	OrderCount int64           `json:"orderCount"`
	Revenue    decimal.Decimal `json:"revenue"`
}

type topProductPayload struct {
	Title    string          `json:"title"`
	Slug     string          `json:"slug,omitempty"`
	Quantity int64           `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
	Product  *productPayload `json:"product,omitempty"`
}

type dailyBucketPayload struct {
	Date       string          `json:"date"`
	Year       int             `json:"year"`
	DayOfYear  int             `json:"dayOfYear"`
	OrderCount int64           `json:"orderCount"`
	Revenue    decimal.Decimal `json:"revenue"`
}

type orderReportPayload struct {
	GeneratedAt       time.Time            `json:"generatedAt"`
	TimeZone          string               `json:"timeZone"`
	TotalOrders       int64                `json:"totalOrders"`
	TotalRevenue      decimal.Decimal      `json:"totalRevenue"`
	AverageOrderValue decimal.Decimal      `json:"averageOrderValue"`
	StatusCounts      map[string]int64     `json:"statusCounts"`
	TopProducts       []topProductPayload  `json:"topProducts"`
	DailySeries       []dailyBucketPayload `json:"dailySeries"`
	RepeatCustomers   struct {
		Total       int      `json:"total"`
		CustomerIDs []string `json:"customerIds"`
	} `json:"repeatCustomers"`
	AverageCompletion struct {
		CompletedOrders int64 `json:"completedOrders"`
		AverageMs       int64 `json:"averageMs"`
	} `json:"averageCompletion"`
	Windows struct {
		Today     windowPayload `json:"today"`
		Yesterday windowPayload `json:"yesterday"`
		ThisMonth windowPayload `json:"thisMonth"`
		LastMonth windowPayload `json:"lastMonth"`
	} `json:"windows"`
	Failures map[string]string `json:"failures,omitempty"`
}

func newWindowPayload(w services.WindowStats) windowPayload {
	return windowPayload{Start: w.Start.UTC(), End: w.End.UTC(), OrderCount: w.OrderCount, Revenue: w.Revenue}
}

func newOrderReportPayload(report services.OrderReport) orderReportPayload {
	out := orderReportPayload{
		GeneratedAt:       report.GeneratedAt.UTC(),
		TimeZone:          report.TimeZone,
		TotalOrders:       report.Totals.TotalOrders,
		TotalRevenue:      report.Totals.TotalRevenue,
		AverageOrderValue: report.Totals.AverageOrderValue,
		StatusCounts:      make(map[string]int64, len(report.StatusCounts)),
		TopProducts:       make([]topProductPayload, 0, len(report.TopProducts)),
		DailySeries:       make([]dailyBucketPayload, 0, len(report.DailySeries)),
		Failures:          report.Failures,
	}
	for status, n := range report.StatusCounts {
		out.StatusCounts[string(status)] = n
	}
	for _, top := range report.TopProducts {
		item := topProductPayload{Title: top.Title, Slug: top.Slug, Quantity: top.Quantity, Revenue: top.Revenue}
		if top.Product != nil {
			product := newProductPayload(*top.Product)
			item.Product = &product
		}
		out.TopProducts = append(out.TopProducts, item)
	}
	for _, bucket := range report.DailySeries {
		out.DailySeries = append(out.DailySeries, dailyBucketPayload(bucket))
	}
	out.RepeatCustomers.Total = report.RepeatCustomers.Total
	out.RepeatCustomers.CustomerIDs = slices.Clone(report.RepeatCustomers.CustomerIDs)
	if out.RepeatCustomers.CustomerIDs == nil {
		out.RepeatCustomers.CustomerIDs = []string{}
	}
	out.AverageCompletion.CompletedOrders = report.AverageCompletion.CompletedOrders
	out.AverageCompletion.AverageMs = report.AverageCompletion.AverageMillis
	out.Windows.Today = newWindowPayload(report.Windows.Today)
	out.Windows.Yesterday = newWindowPayload(report.Windows.Yesterday)
	out.Windows.ThisMonth = newWindowPayload(report.Windows.ThisMonth)
	out.Windows.LastMonth = newWindowPayload(report.Windows.LastMonth)
	return out
}

type categoryCountPayload struct {
	CategoryID string `json:"categoryId"`
	Name       string `json:"name,omitempty"`
	Slug       string `json:"slug,omitempty"`
	Count      int64  `json:"count"`
}

type labelCountPayload struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

type catalogReportPayload struct {
	GeneratedAt    time.Time              `json:"generatedAt"`
	TotalProducts  int64                  `json:"totalProducts"`
	ByCategory     []categoryCountPayload `json:"byCategory"`
	BySubCategory  []labelCountPayload    `json:"bySubCategory"`
	ByAvailability []labelCountPayload    `json:"byAvailability"`
	Price          struct {
		Average decimal.Decimal `json:"average"`
		Min     decimal.Decimal `json:"min"`
		Max     decimal.Decimal `json:"max"`
	} `json:"price"`
	RecentProducts []productPayload   `json:"recentProducts"`
	Failures       map[string]string `json:"failures,omitempty"`
}

func newLabelCounts(in []services.LabelCount) []labelCountPayload {
	out := make([]labelCountPayload, 0, len(in))
	for _, lc := range in {
		out = append(out, labelCountPayload(lc))
	}
	return out
}

func newCatalogReportPayload(report services.CatalogReport) catalogReportPayload {
	out := catalogReportPayload{
		GeneratedAt:    report.GeneratedAt.UTC(),
		TotalProducts:  report.TotalProducts,
		ByCategory:     make([]categoryCountPayload, 0, len(report.ByCategory)),
		BySubCategory:  newLabelCounts(report.BySubCategory),
		ByAvailability: newLabelCounts(report.ByAvailability),
		RecentProducts: newProductPayloads(report.RecentProducts),
		Failures:       report.Failures,
	}
	for _, cc := range report.ByCategory {
		out.ByCategory = append(out.ByCategory, categoryCountPayload(cc))
	}
	out.Price.Average = report.Price.Average
	out.Price.Min = report.Price.Min
	out.Price.Max = report.Price.Max
	return out
}

func (h *AnalyticsHandlers) orderReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.analytics.OrderReport(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOrderReportPayload(report))
}

func (h *AnalyticsHandlers) catalogReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.analytics.CatalogReport(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCatalogReportPayload(report))
}

// refreshRelations reloads the cached join targets. ?collection= limits the refresh to one
// collection; unknown names are rejected.
func (h *AnalyticsHandlers) refreshRelations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.relations == nil {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"refreshed": []string{}})
		return
	}
	targets := refreshableCollections
	if name := r.URL.Query().Get("collection"); name != "" {
		if !slices.Contains(refreshableCollections, name) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown collection "+name, http.StatusBadRequest))
			return
		}
		targets = []string{name}
	}
	refreshed := make([]string, 0, len(targets))
	for _, collection := range targets {
		if err := h.relations.Refresh(ctx, collection); err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		refreshed = append(refreshed, collection)
	}
	sort.Strings(refreshed)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"refreshed": refreshed})
}
