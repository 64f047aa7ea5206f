package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	domain "github.com/emart/api/internal/domain"
	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/relations"
	"github.com/emart/api/internal/repositories"
)

const (
	defaultTopProducts   = 5
	defaultRecentProduct = 5
	defaultMetricWorkers = 4
)

// Order report metric names, used as keys of Failures.
const (
	MetricTotals          = "totals"
	MetricStatusCounts    = "statusCounts"
	MetricTopProducts     = "topProducts"
	MetricDailySeries     = "dailySeries"
	MetricRepeatCustomers = "repeatCustomers"
	MetricCompletion      = "averageCompletion"
	MetricWindows         = "windows"
)

// Catalog report metric names.
const (
	MetricProductTotals  = "totalProducts"
	MetricByCategory     = "byCategory"
	MetricBySubCategory  = "bySubCategory"
	MetricByAvailability = "byAvailability"
	MetricPriceStats     = "priceStats"
	MetricRecentProducts = "recentProducts"
)

// ErrAnalyticsUnavailable is returned when every metric of a report failed.
var ErrAnalyticsUnavailable = errors.New("analytics: no metric could be computed")

// OrderReport summarises order activity. Metrics listed in Failures could not be computed and keep
// their zero value.
type OrderReport struct {
	GeneratedAt       time.Time
	TimeZone          string
	Totals            OrderTotals
	StatusCounts      map[OrderStatus]int64
	TopProducts       []TopProduct
	DailySeries       []DailyBucket
	RepeatCustomers   RepeatCustomers
	AverageCompletion CompletionStats
	Windows           OrderWindows
	Failures          map[string]string
}

// OrderTotals holds lifetime order volume.
type OrderTotals struct {
	TotalOrders       int64
	TotalRevenue      decimal.Decimal
	AverageOrderValue decimal.Decimal
}

// TopProduct is a best-selling line item title, enriched with the current catalog entry when the
// product still exists.
type TopProduct struct {
	Title    string
	Slug     string
	Quantity int64
	Revenue  decimal.Decimal
	Product  *Product
}

// DailyBucket aggregates the orders created on one calendar day of the report time zone.
type DailyBucket struct {
	Date       string
	Year       int
	DayOfYear  int
	OrderCount int64
	Revenue    decimal.Decimal
}

// RepeatCustomers lists registered customers with more than one order.
type RepeatCustomers struct {
	Total       int
	CustomerIDs []string
}

// CompletionStats is the mean time from creation to delivery over completed orders.
type CompletionStats struct {
	CompletedOrders int64
	AverageMillis   int64
	Average         time.Duration
}

// WindowStats covers orders created within [Start, End].
type WindowStats struct {
	Start      time.Time
	End        time.Time
	OrderCount int64
	Revenue    decimal.Decimal
}

// OrderWindows groups the rolling calendar windows.
type OrderWindows struct {
	Today     WindowStats
	Yesterday WindowStats
	ThisMonth WindowStats
	LastMonth WindowStats
}

// CatalogReport summarises the catalog.
type CatalogReport struct {
	GeneratedAt    time.Time
	TotalProducts  int64
	ByCategory     []CategoryCount
	BySubCategory  []LabelCount
	ByAvailability []LabelCount
	Price          PriceStats
	RecentProducts []Product
	Failures       map[string]string
}

// CategoryCount is the number of products referencing a category. Name and Slug are empty when the
// category no longer exists.
type CategoryCount struct {
	CategoryID string
	Name       string
	Slug       string
	Count      int64
}

// LabelCount counts products sharing a label.
type LabelCount struct {
	Label string
	Count int64
}

// PriceStats describes the catalog price distribution.
type PriceStats struct {
	Average decimal.Decimal
	Min     decimal.Decimal
	Max     decimal.Decimal
}

// AnalyticsServiceDeps bundles collaborators for the analytics service.
type AnalyticsServiceDeps struct {
	Engine      query.Engine
	Relations   query.Lookup
	Location    *time.Location
	TopProducts int
	Workers     int
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type analyticsService struct {
	engine    query.Engine
	relations query.Lookup
	location  *time.Location
	topN      int
	workers   int
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewAnalyticsService constructs the analytics service. Relations defaults to direct lookups without
// caching when omitted.
func NewAnalyticsService(deps AnalyticsServiceDeps) (AnalyticsService, error) {
	if deps.Engine == nil {
		return nil, errors.New("analytics service: query engine is required")
	}
	lookup := deps.Relations
	if lookup == nil {
		loader, ok := deps.Engine.(relations.Loader)
		if !ok {
			return nil, errors.New("analytics service: relation lookup is required")
		}
		lookup = repositories.LoaderLookup{Loader: loader}
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	topN := deps.TopProducts
	if topN <= 0 {
		topN = defaultTopProducts
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultMetricWorkers
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &analyticsService{
		engine:    deps.Engine,
		relations: lookup,
		location:  location,
		topN:      topN,
		workers:   workers,
		clock:     clock,
		logger:    logger,
	}, nil
}

type metricTask struct {
	name string
	run  func(ctx context.Context) error
}

// runMetrics runs every task concurrently. A failing task never cancels the others; its error is
// reported in the returned map.
func (s *analyticsService) runMetrics(ctx context.Context, report string, tasks []metricTask) map[string]string {
	var (
		mu       sync.Mutex
		failures = make(map[string]string)
		group    errgroup.Group
	)
	group.SetLimit(s.workers)
	for _, task := range tasks {
		task := task
		group.Go(func() error {
			if err := task.run(ctx); err != nil {
				mu.Lock()
				failures[task.name] = err.Error()
				mu.Unlock()
				s.logger(ctx, "analytics.metric.failed", map[string]any{
					"report": report,
					"metric": task.name,
					"error":  err.Error(),
				})
			}
			return nil
		})
	}
	_ = group.Wait()
	return failures
}

func (s *analyticsService) OrderReport(ctx context.Context) (OrderReport, error) {
	now := s.clock().In(s.location)
	report := OrderReport{
		GeneratedAt: now,
		TimeZone:    s.location.String(),
	}

	tasks := []metricTask{
		{MetricTotals, func(ctx context.Context) error {
			totals, err := s.orderTotals(ctx)
			if err == nil {
				report.Totals = totals
			}
			return err
		}},
		{MetricStatusCounts, func(ctx context.Context) error {
			counts, err := s.statusCounts(ctx)
			if err == nil {
				report.StatusCounts = counts
			}
			return err
		}},
		{MetricTopProducts, func(ctx context.Context) error {
			top, err := s.topProducts(ctx)
			if err == nil {
				report.TopProducts = top
			}
			return err
		}},
		{MetricDailySeries, func(ctx context.Context) error {
			series, err := s.dailySeries(ctx)
			if err == nil {
				report.DailySeries = series
			}
			return err
		}},
		{MetricRepeatCustomers, func(ctx context.Context) error {
			repeat, err := s.repeatCustomers(ctx)
			if err == nil {
				report.RepeatCustomers = repeat
			}
			return err
		}},
		{MetricCompletion, func(ctx context.Context) error {
			stats, err := s.averageCompletion(ctx)
			if err == nil {
				report.AverageCompletion = stats
			}
			return err
		}},
		{MetricWindows, func(ctx context.Context) error {
			windows, err := s.windows(ctx, now)
			if err == nil {
				report.Windows = windows
			}
			return err
		}},
	}

	report.Failures = s.runMetrics(ctx, "orders", tasks)
	if len(report.Failures) == len(tasks) {
		return OrderReport{}, fmt.Errorf("%w: %s", ErrAnalyticsUnavailable, report.Failures[MetricTotals])
	}
	return report, nil
}

func (s *analyticsService) orderTotals(ctx context.Context) (OrderTotals, error) {
	docs, err := s.orders(ctx, query.Project{Fields: []string{"amount"}})
	if err != nil {
		return OrderTotals{}, err
	}
	totals := OrderTotals{TotalOrders: int64(len(docs)), TotalRevenue: decimal.Zero, AverageOrderValue: decimal.Zero}
	for _, doc := range docs {
		totals.TotalRevenue = totals.TotalRevenue.Add(amountOf(doc))
	}
	if totals.TotalOrders > 0 {
		totals.AverageOrderValue = totals.TotalRevenue.DivRound(decimal.NewFromInt(totals.TotalOrders), 2)
	}
	return totals, nil
}

func (s *analyticsService) statusCounts(ctx context.Context) (map[OrderStatus]int64, error) {
	counts := make(map[OrderStatus]int64, len(domain.OrderStatuses))
	for _, status := range domain.OrderStatuses {
		n, err := s.count(ctx, repositories.CollectionOrders, query.Match{Predicate: query.Eq{Field: "status", Value: string(status)}})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", status, err)
		}
		counts[status] = n
	}
	return counts, nil
}

func (s *analyticsService) topProducts(ctx context.Context) ([]TopProduct, error) {
	docs, err := s.orders(ctx, query.Project{Fields: []string{"items"}})
	if err != nil {
		return nil, err
	}

	byTitle := make(map[string]*TopProduct)
	var titles []string
	for _, doc := range docs {
		for _, item := range domain.OrderFromDocument(doc).Items {
			entry, ok := byTitle[item.Title]
			if !ok {
				entry = &TopProduct{Title: item.Title, Revenue: decimal.Zero}
				byTitle[item.Title] = entry
				titles = append(titles, item.Title)
			}
			if entry.Slug == "" {
				entry.Slug = item.Slug
			}
			entry.Quantity += item.Quantity
			entry.Revenue = entry.Revenue.Add(item.Price.Mul(decimal.NewFromInt(item.Quantity)))
		}
	}

	top := make([]TopProduct, 0, len(titles))
	for _, title := range titles {
		top = append(top, *byTitle[title])
	}
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].Quantity != top[j].Quantity {
			return top[i].Quantity > top[j].Quantity
		}
		return top[i].Title < top[j].Title
	})
	if len(top) > s.topN {
		top = top[:s.topN]
	}

	slugs := make([]string, 0, len(top))
	for _, entry := range top {
		if entry.Slug != "" {
			slugs = append(slugs, entry.Slug)
		}
	}
	if len(slugs) == 0 {
		return top, nil
	}
	products, err := s.relations.Resolve(ctx, repositories.CollectionProducts, "slug", slugs)
	if err != nil {
		return nil, fmt.Errorf("resolve products: %w", err)
	}
	for i := range top {
		if doc, ok := products[top[i].Slug]; ok {
			product := domain.ProductFromDocument(doc)
			top[i].Product = &product
		}
	}
	return top, nil
}

func (s *analyticsService) dailySeries(ctx context.Context) ([]DailyBucket, error) {
	docs, err := s.orders(ctx, query.Project{Fields: []string{"createdAt", "amount"}})
	if err != nil {
		return nil, err
	}
	type dayKey struct{ year, day int }
	buckets := make(map[dayKey]*DailyBucket)
	for _, doc := range docs {
		created, ok := query.AsTime(doc["createdAt"])
		if !ok {
			continue
		}
		local := created.In(s.location)
		key := dayKey{local.Year(), local.YearDay()}
		bucket, ok := buckets[key]
		if !ok {
			bucket = &DailyBucket{
				Date:      local.Format(time.DateOnly),
				Year:      key.year,
				DayOfYear: key.day,
				Revenue:   decimal.Zero,
			}
			buckets[key] = bucket
		}
		bucket.OrderCount++
		bucket.Revenue = bucket.Revenue.Add(amountOf(doc))
	}

	series := make([]DailyBucket, 0, len(buckets))
	for _, bucket := range buckets {
		series = append(series, *bucket)
	}
	sort.Slice(series, func(i, j int) bool {
		if series[i].Year != series[j].Year {
			return series[i].Year > series[j].Year
		}
		return series[i].DayOfYear > series[j].DayOfYear
	})
	return series, nil
}

func (s *analyticsService) repeatCustomers(ctx context.Context) (RepeatCustomers, error) {
	docs, err := s.orders(ctx,
		query.Match{Predicate: query.Exists{Field: "customerId", Present: true}},
		query.Project{Fields: []string{"customerId"}},
	)
	if err != nil {
		return RepeatCustomers{}, err
	}
	counts := make(map[string]int)
	for _, doc := range docs {
		if id, ok := query.AsString(doc["customerId"]); ok && id != "" {
			counts[id]++
		}
	}
	repeat := RepeatCustomers{CustomerIDs: []string{}}
	for id, n := range counts {
		if n > 1 {
			repeat.CustomerIDs = append(repeat.CustomerIDs, id)
		}
	}
	sort.Strings(repeat.CustomerIDs)
	repeat.Total = len(repeat.CustomerIDs)
	return repeat, nil
}

func (s *analyticsService) averageCompletion(ctx context.Context) (CompletionStats, error) {
	docs, err := s.orders(ctx,
		query.Match{Predicate: query.Exists{Field: "completedAt", Present: true}},
		query.Project{Fields: []string{"createdAt", "completedAt"}},
	)
	if err != nil {
		return CompletionStats{}, err
	}
	var (
		stats   CompletionStats
		totalMs int64
	)
	for _, doc := range docs {
		created, okCreated := query.AsTime(doc["createdAt"])
		completed, okCompleted := query.AsTime(doc["completedAt"])
		if !okCreated || !okCompleted {
			continue
		}
		totalMs += completed.Sub(created).Milliseconds()
		stats.CompletedOrders++
	}
	if stats.CompletedOrders > 0 {
		stats.AverageMillis = totalMs / stats.CompletedOrders
		stats.Average = time.Duration(stats.AverageMillis) * time.Millisecond
	}
	return stats, nil
}

func (s *analyticsService) windows(ctx context.Context, now time.Time) (OrderWindows, error) {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.location)

	var (
		windows OrderWindows
		err     error
	)
	if windows.Today, err = s.window(ctx, startOfDay, startOfDay.AddDate(0, 0, 1)); err != nil {
		return OrderWindows{}, fmt.Errorf("today: %w", err)
	}
	if windows.Yesterday, err = s.window(ctx, startOfDay.AddDate(0, 0, -1), startOfDay); err != nil {
		return OrderWindows{}, fmt.Errorf("yesterday: %w", err)
	}
	if windows.ThisMonth, err = s.window(ctx, startOfMonth, startOfMonth.AddDate(0, 1, 0)); err != nil {
		return OrderWindows{}, fmt.Errorf("this month: %w", err)
	}
	if windows.LastMonth, err = s.window(ctx, startOfMonth.AddDate(0, -1, 0), startOfMonth); err != nil {
		return OrderWindows{}, fmt.Errorf("last month: %w", err)
	}
	return windows, nil
}

// window sums orders created in [start, next), expressed as the inclusive range [start, next-1ns].
func (s *analyticsService) window(ctx context.Context, start, next time.Time) (WindowStats, error) {
	stats := WindowStats{Start: start, End: next.Add(-time.Nanosecond), Revenue: decimal.Zero}
	docs, err := s.orders(ctx,
		query.Match{Predicate: query.Range{Field: "createdAt", Min: start.UTC(), Max: stats.End.UTC()}},
		query.Project{Fields: []string{"amount"}},
	)
	if err != nil {
		return WindowStats{}, err
	}
	for _, doc := range docs {
		stats.OrderCount++
		stats.Revenue = stats.Revenue.Add(amountOf(doc))
	}
	return stats, nil
}

func (s *analyticsService) CatalogReport(ctx context.Context) (CatalogReport, error) {
	report := CatalogReport{GeneratedAt: s.clock().In(s.location)}

	tasks := []metricTask{
		{MetricProductTotals, func(ctx context.Context) error {
			n, err := s.count(ctx, repositories.CollectionProducts)
			if err == nil {
				report.TotalProducts = n
			}
			return err
		}},
		{MetricByCategory, func(ctx context.Context) error {
			counts, err := s.productsByCategory(ctx)
			if err == nil {
				report.ByCategory = counts
			}
			return err
		}},
		{MetricBySubCategory, func(ctx context.Context) error {
			counts, err := s.productLabels(ctx, "subCategory")
			if err == nil {
				report.BySubCategory = counts
			}
			return err
		}},
		{MetricByAvailability, func(ctx context.Context) error {
			counts, err := s.productLabels(ctx, "availability")
			if err == nil {
				report.ByAvailability = counts
			}
			return err
		}},
		{MetricPriceStats, func(ctx context.Context) error {
			stats, err := s.priceStats(ctx)
			if err == nil {
				report.Price = stats
			}
			return err
		}},
		{MetricRecentProducts, func(ctx context.Context) error {
			docs, err := s.engine.Aggregate(ctx, repositories.CollectionProducts, []query.Stage{
				query.Project{Fields: listFields},
				query.Sort{Keys: []query.SortKey{{Field: "createdAt", Desc: true}}},
				query.Limit{N: defaultRecentProduct},
			})
			if err != nil {
				return err
			}
			recent := make([]Product, 0, len(docs))
			for _, doc := range docs {
				recent = append(recent, domain.ProductFromDocument(doc))
			}
			report.RecentProducts = recent
			return nil
		}},
	}

	report.Failures = s.runMetrics(ctx, "catalog", tasks)
	if len(report.Failures) == len(tasks) {
		return CatalogReport{}, fmt.Errorf("%w: %s", ErrAnalyticsUnavailable, report.Failures[MetricProductTotals])
	}
	return report, nil
}

func (s *analyticsService) productsByCategory(ctx context.Context) ([]CategoryCount, error) {
	docs, err := s.engine.Aggregate(ctx, repositories.CollectionProducts, []query.Stage{
		query.Project{Fields: []string{"category"}},
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	var ids []string
	for _, doc := range docs {
		id, _ := query.AsString(doc["category"])
		if _, ok := counts[id]; !ok && id != "" {
			ids = append(ids, id)
		}
		counts[id]++
	}

	var categories map[string]query.Document
	if len(ids) > 0 {
		categories, err = s.relations.Resolve(ctx, repositories.CollectionCategories, query.IDField, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve categories: %w", err)
		}
	}

	out := make([]CategoryCount, 0, len(counts))
	for id, n := range counts {
		entry := CategoryCount{CategoryID: id, Count: n}
		if doc, ok := categories[id]; ok {
			category := domain.CategoryFromDocument(doc)
			entry.Name = category.Name
			entry.Slug = category.Slug
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	return out, nil
}

func (s *analyticsService) productLabels(ctx context.Context, field string) ([]LabelCount, error) {
	docs, err := s.engine.Aggregate(ctx, repositories.CollectionProducts, []query.Stage{
		query.Project{Fields: []string{field}},
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, doc := range docs {
		label, _ := query.AsString(doc[field])
		counts[label]++
	}
	out := make([]LabelCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, LabelCount{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

func (s *analyticsService) priceStats(ctx context.Context) (PriceStats, error) {
	docs, err := s.engine.Aggregate(ctx, repositories.CollectionProducts, []query.Stage{
		query.Match{Predicate: query.Exists{Field: "price", Present: true}},
		query.Project{Fields: []string{"price"}},
	})
	if err != nil {
		return PriceStats{}, err
	}
	stats := PriceStats{Average: decimal.Zero, Min: decimal.Zero, Max: decimal.Zero}
	sum := decimal.Zero
	var n int64
	for _, doc := range docs {
		price, ok := query.AsDecimal(doc["price"])
		if !ok {
			continue
		}
		if n == 0 || price.LessThan(stats.Min) {
			stats.Min = price
		}
		if n == 0 || price.GreaterThan(stats.Max) {
			stats.Max = price
		}
		sum = sum.Add(price)
		n++
	}
	if n > 0 {
		stats.Average = sum.DivRound(decimal.NewFromInt(n), 2)
	}
	return stats, nil
}

func (s *analyticsService) orders(ctx context.Context, stages ...query.Stage) ([]query.Document, error) {
	return s.engine.Aggregate(ctx, repositories.CollectionOrders, stages)
}

func (s *analyticsService) count(ctx context.Context, collection string, stages ...query.Stage) (int64, error) {
	stages = append(stages, query.Count{As: query.DefaultCountField})
	rows, err := s.engine.Aggregate(ctx, collection, stages)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, ok := query.AsInt(rows[0][query.DefaultCountField])
	if !ok {
		return 0, fmt.Errorf("count: unexpected row %v", rows[0])
	}
	return n, nil
}

func amountOf(doc query.Document) decimal.Decimal {
	amount, ok := query.AsDecimal(doc["amount"])
	if !ok {
		return decimal.Zero
	}
	return amount
}
