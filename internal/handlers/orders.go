package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emart/api/internal/platform/auth"
	"github.com/emart/api/internal/platform/httpx"
	"github.com/emart/api/internal/platform/idempotency"
	"github.com/emart/api/internal/platform/pagination"
	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/services"
)

// OrderHandlers serves guest checkout, customer order history and the admin order workflow.
type OrderHandlers struct {
	orders   services.OrderService
	compiler *query.Compiler
	guard    func(http.Handler) http.Handler
	pages    pagination.Options
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithIdempotency protects guest checkout with the supplied idempotency store.
func WithIdempotency(store idempotency.Store, opts ...idempotency.Option) OrderHandlersOption {
	return func(h *OrderHandlers) {
		if store != nil {
			h.guard = idempotency.Guard(store, opts...)
		}
	}
}

// WithOrderPageOptions overrides the page window used for customer order history.
func WithOrderPageOptions(opts pagination.Options) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.pages = opts
	}
}

// NewOrderHandlers constructs OrderHandlers.
func NewOrderHandlers(orders services.OrderService, compiler *query.Compiler, opts ...OrderHandlersOption) *OrderHandlers {
	if compiler == nil {
		compiler = query.NewCompiler(query.CompilerOptions{})
	}
	h := &OrderHandlers{orders: orders, compiler: compiler}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the public checkout and guest lookup endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Get("/orders/guest/{orderID}", h.findGuestOrder)
	if h.guard != nil {
		r.With(h.guard).Post("/orders/guest", h.placeGuestOrder)
		return
	}
	r.Post("/orders/guest", h.placeGuestOrder)
}

// MeRoutes registers the authenticated customer's order history.
func (h *OrderHandlers) MeRoutes(r chi.Router) {
	r.Get("/orders", h.customerOrders)
}

// AdminRoutes registers the /admin/orders endpoints.
func (h *OrderHandlers) AdminRoutes(r chi.Router) {
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Put("/orders/{orderID}/status", h.updateStatus)
	r.Delete("/orders/{orderID}", h.deleteOrder)
}

func (h *OrderHandlers) placeGuestOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req guestOrderRequest
	if err := httpx.DecodeJSON(r, 0, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	order, err := h.orders.PlaceGuestOrder(ctx, req.toCommand())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, newOrderPayload(order))
}

func (h *OrderHandlers) findGuestOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.orders.FindGuestOrder(ctx, chi.URLParam(r, "orderID"), r.URL.Query().Get("email"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOrderPayload(order))
}

func (h *OrderHandlers) customerOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity.UID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	params, err := pagination.FromRequest(r, h.pages)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	page, err := h.orders.CustomerOrders(ctx, identity.UID, params)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pagination.Map(page, newOrderPayload))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	desc, err := h.compiler.Compile(r.URL.Query(), query.EntityOrders, accessFromRequest(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	page, err := h.orders.ListOrders(ctx, desc)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pagination.Map(page, newOrderPayload))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOrderPayload(order))
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req statusUpdateRequest
	if err := httpx.DecodeJSON(r, 0, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	cmd := services.OrderStatusTransitionCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Status:  req.Status,
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		cmd.ActorID = identity.UID
	}
	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := newOrderPayload(order)
	httpx.WriteJSON(w, http.StatusOK, statusUpdateResponse{
		Success: true,
		Message: fmt.Sprintf("Order status updated to %s", order.Status),
		Order:   &payload,
	})
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.orders.DeleteOrder(ctx, chi.URLParam(r, "orderID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
