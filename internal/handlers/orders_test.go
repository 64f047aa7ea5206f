package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/emart/api/internal/domain"
	"github.com/emart/api/internal/platform/auth"
	"github.com/emart/api/internal/platform/idempotency"
	"github.com/emart/api/internal/platform/pagination"
	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/services"
)

type stubOrderService struct {
	orders []services.Order
	err    error

	placed         int
	lastGuest      services.GuestOrderCommand
	lastDesc       query.Descriptor
	lastCustomer   string
	lastParams     pagination.Params
	lastTransition services.OrderStatusTransitionCommand
	deleted        []string
	lastEmail      string
}

func (s *stubOrderService) ListOrders(_ context.Context, desc query.Descriptor) (pagination.Envelope[services.Order], error) {
	s.lastDesc = desc
	if s.err != nil {
		return pagination.Envelope[services.Order]{}, s.err
	}
	return pagination.NewEnvelope(desc.Params(), int64(len(s.orders)), s.orders), nil
}

func (s *stubOrderService) CustomerOrders(_ context.Context, customerID string, params pagination.Params) (pagination.Envelope[services.Order], error) {
	s.lastCustomer = customerID
	s.lastParams = params
	return pagination.NewEnvelope(params, int64(len(s.orders)), s.orders), s.err
}

func (s *stubOrderService) GetOrder(_ context.Context, id string) (services.Order, error) {
	for _, o := range s.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return services.Order{}, fmt.Errorf("%w: %s", services.ErrOrderNotFound, id)
}

func (s *stubOrderService) FindGuestOrder(ctx context.Context, id, email string) (services.Order, error) {
	s.lastEmail = email
	if email == "" {
		return services.Order{}, fmt.Errorf("%w: email is required", services.ErrOrderInvalidInput)
	}
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return services.Order{}, err
	}
	if order.GuestUser.Email != email {
		return services.Order{}, fmt.Errorf("%w: %s", services.ErrOrderNotFound, id)
	}
	return order, nil
}

func (s *stubOrderService) PlaceGuestOrder(_ context.Context, cmd services.GuestOrderCommand) (services.Order, error) {
	s.lastGuest = cmd
	if s.err != nil {
		return services.Order{}, s.err
	}
	s.placed++
	return services.Order{
		ID:        fmt.Sprintf("ord-%d", s.placed),
		GuestUser: cmd.GuestUser,
		Address:   cmd.Address,
		Items:     cmd.Items,
		Amount:    cmd.Amount,
		Status:    domain.OrderStatusPlaced,
	}, nil
}

func (s *stubOrderService) TransitionStatus(_ context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	s.lastTransition = cmd
	if s.err != nil {
		return services.Order{}, s.err
	}
	return services.Order{ID: cmd.OrderID, Status: domain.OrderStatus(cmd.Status)}, nil
}

func (s *stubOrderService) DeleteOrder(_ context.Context, id string) error {
	if s.err != nil {
		return s.err
	}
	s.deleted = append(s.deleted, id)
	return nil
}

var _ services.OrderService = (*stubOrderService)(nil)

func newOrderRouter(orders services.OrderService, opts ...OrderHandlersOption) http.Handler {
	compiler := query.NewCompiler(query.CompilerOptions{OrderStatuses: domain.OrderStatusNames()})
	h := NewOrderHandlers(orders, compiler, opts...)
	return newTestRouter(WithPublicRoutes(h.Routes), WithMeRoutes(h.MeRoutes), WithAdminRoutes(h.AdminRoutes))
}

const guestOrderBody = `{
	"guestUser": {"firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com", "phone": "555-0100"},
	"address": {"address": "1 Main St", "city": "London", "zipCode": "N1", "country": "UK"},
	"items": [{"title": "Smart Phone", "price": "299.99", "quantity": 2, "slug": "phone"}],
	"amount": "599.98"
}`

func TestOrderHandlersPlaceGuestOrder(t *testing.T) {
	orders := &stubOrderService{}
	router := newOrderRouter(orders)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/guest", strings.NewReader(guestOrderBody))
	rr := serve(router, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	cmd := orders.lastGuest
	if cmd.GuestUser.Email != "ada@example.com" || cmd.Address.City != "London" || len(cmd.Items) != 1 {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if cmd.Items[0].Quantity != 2 || !cmd.Amount.Equal(decimal.RequireFromString("599.98")) {
		t.Fatalf("unexpected amounts %+v", cmd)
	}
	body := decodeBody(t, rr)
	if body["_id"] != "ord-1" || body["status"] != string(domain.OrderStatusPlaced) {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["commission"]; ok {
		t.Fatalf("commission must be omitted for non-affiliate orders")
	}

	orders.err = fmt.Errorf("%w: email is invalid", services.ErrOrderInvalidInput)
	rr = serve(router, httptest.NewRequest(http.MethodPost, "/api/v1/orders/guest", strings.NewReader(guestOrderBody)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGuestCheckoutIsIdempotent(t *testing.T) {
	orders := &stubOrderService{}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	router := newOrderRouter(orders, WithIdempotency(idempotency.NewMemoryStore(), idempotency.WithClock(func() time.Time { return now })))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/guest", strings.NewReader(guestOrderBody))
		req.Header.Set(idempotency.DefaultHeader, "checkout-1")
		return serve(router, req)
	}
	first := send()
	second := send()
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected both 201, got %d and %d", first.Code, second.Code)
	}
	if orders.placed != 1 {
		t.Fatalf("expected a single order, got %d", orders.placed)
	}
	if second.Header().Get(idempotency.ReplayHeader) != "true" {
		t.Fatalf("expected replay header, got %v", second.Header())
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replayed body differs: %s vs %s", first.Body.String(), second.Body.String())
	}
}

func TestOrderHandlersCustomerOrders(t *testing.T) {
	orders := &stubOrderService{orders: []services.Order{{ID: "ord-1", CustomerID: "u1", Status: domain.OrderStatusPending}}}
	router := newOrderRouter(orders)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/orders?page=1&pageSize=20", nil)
	req.Header.Set(auth.DefaultUserHeader, "u1")
	rr := serve(router, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if orders.lastCustomer != "u1" || orders.lastParams.PageSize != 20 {
		t.Fatalf("unexpected call %q %+v", orders.lastCustomer, orders.lastParams)
	}

	if rr := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/me/orders", nil)); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestOrderHandlersAdminList(t *testing.T) {
	orders := &stubOrderService{}
	router := newOrderRouter(orders)

	rr := serve(router, adminRequest(http.MethodGet, "/api/v1/admin/orders?filterBy=delivered&sortField=amount-high-to-low", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.lastDesc.Status != string(domain.OrderStatusDelivered) {
		t.Fatalf("expected canonical status, got %q", orders.lastDesc.Status)
	}

	rr = serve(router, adminRequest(http.MethodGet, "/api/v1/admin/orders?filterBy=shipped", ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
}

func TestOrderHandlersUpdateStatus(t *testing.T) {
	orders := &stubOrderService{}
	router := newOrderRouter(orders)

	rr := serve(router, adminRequest(http.MethodPut, "/api/v1/admin/orders/ord-1/status", `{"status":"Delivered"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	want := services.OrderStatusTransitionCommand{OrderID: "ord-1", Status: "Delivered", ActorID: "admin-1"}
	if orders.lastTransition != want {
		t.Fatalf("unexpected command %+v", orders.lastTransition)
	}
	body := decodeBody(t, rr)
	if body["success"] != true || body["order"].(map[string]any)["status"] != "Delivered" {
		t.Fatalf("unexpected body %v", body)
	}

	orders.err = fmt.Errorf("%w: Delivered -> Pending", services.ErrOrderInvalidState)
	rr = serve(router, adminRequest(http.MethodPut, "/api/v1/admin/orders/ord-1/status", `{"status":"Pending"}`))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "invalid_status_transition" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestOrderHandlersGetAndDelete(t *testing.T) {
	orders := &stubOrderService{orders: []services.Order{{ID: "ord-1", Status: domain.OrderStatusPlaced}}}
	router := newOrderRouter(orders)

	if rr := serve(router, adminRequest(http.MethodGet, "/api/v1/admin/orders/ord-1", "")); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr := serve(router, adminRequest(http.MethodGet, "/api/v1/admin/orders/ord-9", "")); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := serve(router, adminRequest(http.MethodDelete, "/api/v1/admin/orders/ord-1", "")); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if len(orders.deleted) != 1 || orders.deleted[0] != "ord-1" {
		t.Fatalf("unexpected deletes %v", orders.deleted)
	}
}

func TestOrderHandlersFindGuestOrder(t *testing.T) {
	orders := &stubOrderService{orders: []services.Order{{
		ID:        "ord-7",
		GuestUser: services.GuestUser{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Phone: "555"},
		Status:    domain.OrderStatusPending,
	}}}
	router := newOrderRouter(orders)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/orders/guest/ord-7?email=ada@example.com", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["_id"] != "ord-7" || body["status"] != string(domain.OrderStatusPending) {
		t.Fatalf("unexpected body %v", body)
	}
	if orders.lastEmail != "ada@example.com" {
		t.Fatalf("expected email forwarded, got %q", orders.lastEmail)
	}

	if rr := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/orders/guest/ord-7?email=eve@example.com", nil)); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on email mismatch, got %d", rr.Code)
	}
	if rr := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/orders/guest/ord-7", nil)); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without email, got %d", rr.Code)
	}
}
