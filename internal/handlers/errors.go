package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/emart/api/internal/platform/httpx"
	"github.com/emart/api/internal/platform/pagination"
	"github.com/emart/api/internal/platform/requestctx"
	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/services"
)

// writeServiceError maps service and query errors onto the HTTP error envelope. Storage failures
// are logged with their cause and answered with a generic message.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, query.ErrValidation),
		errors.Is(err, pagination.ErrInvalidPage),
		errors.Is(err, pagination.ErrInvalidPageSize),
		errors.Is(err, services.ErrProductInvalidInput),
		errors.Is(err, services.ErrCategoryInvalidInput),
		errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCategoryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("category_not_found", "category not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCategoryConflict),
		errors.Is(err, services.ErrProductConflict),
		errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrAnalyticsUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("analytics_unavailable", "analytics are temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_canceled", "request canceled", 499))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		requestctx.Logger(ctx).Error("request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}

var errInvalidLimit = fmt.Errorf("%w: limit must be a positive integer", query.ErrValidation)
