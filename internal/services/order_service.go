package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/emart/api/internal/domain"
	"github.com/emart/api/internal/platform/pagination"
	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventDeleted       = "order.deleted"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a duplicate order id.
	ErrOrderConflict = errors.New("order: conflict")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Referrals   repositories.ReferralRepository
	Affiliates  repositories.AffiliateRepository
	Builder     *query.Builder
	Pipelines   PipelineRunner
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	referrals  repositories.ReferralRepository
	affiliates repositories.AffiliateRepository
	builder    *query.Builder
	pipelines  PipelineRunner
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Referrals == nil {
		return nil, errors.New("order service: referral repository is required")
	}
	if deps.Affiliates == nil {
		return nil, errors.New("order service: affiliate repository is required")
	}
	if deps.Pipelines == nil {
		return nil, errors.New("order service: pipeline runner is required")
	}

	builder := deps.Builder
	if builder == nil {
		builder = query.NewBuilder(nil)
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		referrals:  deps.Referrals,
		affiliates: deps.Affiliates,
		builder:    builder,
		pipelines:  deps.Pipelines,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) ListOrders(ctx context.Context, desc query.Descriptor) (pagination.Envelope[Order], error) {
	desc.Entity = query.EntityOrders
	return s.list(ctx, desc)
}

func (s *orderService) CustomerOrders(ctx context.Context, customerID string, params pagination.Params) (pagination.Envelope[Order], error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return pagination.Envelope[Order]{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	params = pagination.Must(params)
	return s.list(ctx, query.Descriptor{
		Entity:     query.EntityOrders,
		Page:       params.Page,
		PageSize:   params.PageSize,
		SortKey:    "newest",
		CustomerID: customerID,
	})
}

func (s *orderService) list(ctx context.Context, desc query.Descriptor) (pagination.Envelope[Order], error) {
	plan, err := s.builder.Build(desc)
	if err != nil {
		return pagination.Envelope[Order]{}, err
	}
	page, err := s.pipelines.Execute(ctx, plan)
	if err != nil {
		return pagination.Envelope[Order]{}, err
	}
	return pagination.Map(page, domain.OrderFromDocument), nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// FindGuestOrder returns a guest order only when email matches the buyer's address. Customer orders
// and mismatched emails both read as not found.
func (s *orderService) FindGuestOrder(ctx context.Context, orderID, email string) (Order, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Order{}, fmt.Errorf("%w: email is required", ErrOrderInvalidInput)
	}
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !order.IsGuest() || !strings.EqualFold(order.GuestUser.Email, email) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, order.ID)
	}
	return order, nil
}

func (s *orderService) PlaceGuestOrder(ctx context.Context, cmd GuestOrderCommand) (Order, error) {
	guest := GuestUser{
		FirstName: strings.TrimSpace(cmd.GuestUser.FirstName),
		LastName:  strings.TrimSpace(cmd.GuestUser.LastName),
		Email:     strings.ToLower(strings.TrimSpace(cmd.GuestUser.Email)),
		Phone:     strings.TrimSpace(cmd.GuestUser.Phone),
	}
	if guest.FirstName == "" || guest.LastName == "" || guest.Email == "" || guest.Phone == "" {
		return Order{}, fmt.Errorf("%w: first name, last name, email and phone are required", ErrOrderInvalidInput)
	}
	if !emailPattern.MatchString(guest.Email) {
		return Order{}, fmt.Errorf("%w: email address is invalid", ErrOrderInvalidInput)
	}

	address := Address{
		Address: strings.TrimSpace(cmd.Address.Address),
		City:    strings.TrimSpace(cmd.Address.City),
		State:   strings.TrimSpace(cmd.Address.State),
		ZipCode: strings.TrimSpace(cmd.Address.ZipCode),
		Country: strings.TrimSpace(cmd.Address.Country),
	}
	if address.Address == "" || address.City == "" || address.State == "" || address.ZipCode == "" || address.Country == "" {
		return Order{}, fmt.Errorf("%w: address, city, state, zipCode and country are required", ErrOrderInvalidInput)
	}

	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	items := make([]OrderLineItem, 0, len(cmd.Items))
	for i, item := range cmd.Items {
		item.Title = strings.TrimSpace(item.Title)
		item.Slug = strings.TrimSpace(item.Slug)
		if item.Title == "" {
			return Order{}, fmt.Errorf("%w: item %d title is required", ErrOrderInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: item %d quantity must be positive", ErrOrderInvalidInput, i)
		}
		if item.Price.IsNegative() {
			return Order{}, fmt.Errorf("%w: item %d price must not be negative", ErrOrderInvalidInput, i)
		}
		items = append(items, item)
	}

	if !cmd.Amount.IsPositive() {
		return Order{}, fmt.Errorf("%w: order amount must be greater than 0", ErrOrderInvalidInput)
	}

	now := s.now()
	order := Order{
		ID:        s.newID(),
		GuestUser: guest,
		Address:   address,
		Items:     items,
		Amount:    cmd.Amount,
		Status:    domain.OrderStatusPlaced,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
		Metadata: map[string]any{
			"amount": order.Amount.String(),
			"items":  len(order.Items),
			"guest":  true,
		},
	})
	return order, nil
}

// TransitionStatus applies the transition and its referral side effects in one transaction. The
// order is re-read inside the transaction, so a repeated request meets a terminal status and fails
// instead of crediting the affiliate twice.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(cmd.Status)
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	actor := strings.TrimSpace(cmd.ActorID)
	now := s.now()

	var (
		order      Order
		prevStatus domain.OrderStatus
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.Get(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !current.Status.CanTransition(target) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current.Status, target)
		}

		// Reads precede writes so the same body runs on engines that forbid reads after writes.
		var (
			referral    domain.Referral
			hasReferral bool
		)
		if current.Affiliate.IsAffiliateOrder && current.Affiliate.ReferralID != "" {
			referral, err = s.referrals.Get(txCtx, current.Affiliate.ReferralID)
			switch {
			case err == nil:
				hasReferral = true
			case repositories.IsNotFound(err):
				s.logger(txCtx, "order.referral.missing", map[string]any{
					"order":    current.ID,
					"referral": current.Affiliate.ReferralID,
				})
			default:
				return s.mapRepositoryError(err)
			}
		}

		prevStatus = current.Status
		current.Status = target
		current.UpdatedAt = now
		if target == domain.OrderStatusDelivered {
			completed := now
			current.CompletedAt = &completed
		}
		if err := s.orders.Replace(txCtx, current); err != nil {
			return s.mapRepositoryError(err)
		}

		if hasReferral {
			if err := s.applyReferralEffects(txCtx, current, referral, now); err != nil {
				return err
			}
		}
		order = current
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	metadata := map[string]any{}
	if order.Affiliate.IsAffiliateOrder {
		metadata["referralId"] = order.Affiliate.ReferralID
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		ActorID:        actor,
		OccurredAt:     now,
		Metadata:       metadata,
	})
	return order, nil
}

func (s *orderService) applyReferralEffects(ctx context.Context, order Order, referral domain.Referral, now time.Time) error {
	switch order.Status {
	case domain.OrderStatusDelivered:
		completed := now
		referral.Status = domain.ReferralStatusCompleted
		referral.CompletedAt = &completed
		if err := s.referrals.Replace(ctx, referral); err != nil {
			return s.mapRepositoryError(err)
		}
		affiliateID := order.Affiliate.AffiliateID
		if affiliateID == "" {
			affiliateID = referral.AffiliateID
		}
		if affiliateID == "" || order.Affiliate.Commission.IsZero() {
			return nil
		}
		if err := s.affiliates.AddEarnings(ctx, affiliateID, order.Affiliate.Commission); err != nil {
			return fmt.Errorf("order: credit affiliate %s: %w", affiliateID, err)
		}
	case domain.OrderStatusCanceled, domain.OrderStatusRefunded:
		referral.Status = domain.ReferralStatusCancelled
		if err := s.referrals.Replace(ctx, referral); err != nil {
			return s.mapRepositoryError(err)
		}
	}
	return nil
}

func (s *orderService) DeleteOrder(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if err := s.orders.Delete(ctx, orderID); err != nil {
		return s.mapRepositoryError(err)
	}
	s.publishEvent(ctx, OrderEvent{
		Type:       orderEventDeleted,
		OrderID:    orderID,
		OccurredAt: s.now(),
	})
	return nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}
