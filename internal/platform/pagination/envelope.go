package pagination

// Envelope is the paginated response shape shared by every list endpoint.
type Envelope[T any] struct {
	CurrentPage int   `json:"currentPage"`
	PageSize    int   `json:"pageSize"`
	TotalCount  int64 `json:"totalCount"`
	TotalPages  int   `json:"totalPages"`
	Items       []T   `json:"items"`
}

// NewEnvelope assembles an envelope from the requested window, the full match count and the page rows.
func NewEnvelope[T any](params Params, total int64, items []T) Envelope[T] {
	params = Must(params)
	if total < 0 {
		total = 0
	}
	if items == nil {
		items = []T{}
	}
	return Envelope[T]{
		CurrentPage: params.Page,
		PageSize:    params.PageSize,
		TotalCount:  total,
		TotalPages:  TotalPages(total, params.PageSize),
		Items:       items,
	}
}

// TotalPages returns ceil(total/pageSize).
func TotalPages(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	size := int64(pageSize)
	return int((total + size - 1) / size)
}

// Map converts the items of an envelope while keeping its counters.
func Map[T, U any](src Envelope[T], fn func(T) U) Envelope[U] {
	out := Envelope[U]{
		CurrentPage: src.CurrentPage,
		PageSize:    src.PageSize,
		TotalCount:  src.TotalCount,
		TotalPages:  src.TotalPages,
		Items:       make([]U, 0, len(src.Items)),
	}
	for _, item := range src.Items {
		out.Items = append(out.Items, fn(item))
	}
	return out
}
