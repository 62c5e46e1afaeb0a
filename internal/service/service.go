package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"clinicstock/backend/internal/cache"
	"clinicstock/backend/internal/domain"
	"clinicstock/backend/internal/events"
	"clinicstock/backend/internal/ledger"
	"clinicstock/backend/internal/metrics"
	"clinicstock/backend/internal/store"
	"clinicstock/backend/internal/xid"
)

var (
	ErrAdminRequired = fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	ErrActorRequired = fmt.Errorf("%w: authenticated actor required", domain.ErrForbidden)
	ErrInvalidStatus = fmt.Errorf("%w: unsupported order status", domain.ErrValidation)
	ErrInvalidDate   = fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrValidation)
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Cache     cache.StatsCache
	StatsTTL  time.Duration
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

type Service struct {
	repo      store.Repository
	stats     cache.StatsCache
	statsTTL  time.Duration
	publisher events.Publisher
	metrics   *metrics.Metrics
	validate  *validator.Validate
	now       func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopStatsCache{}
	}
	if opts.StatsTTL <= 0 {
		opts.StatsTTL = 15 * time.Second
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:      repo,
		stats:     opts.Cache,
		statsTTL:  opts.StatsTTL,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       opts.Now,
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrAdminRequired
	}
	return nil
}

func requireActor(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return ErrActorRequired
	}
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleEmployee:
		return nil
	default:
		return ErrActorRequired
	}
}

func (s *Service) validateRequest(req any) error {
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: field %s failed %s", domain.ErrValidation, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Unit = strings.TrimSpace(req.Unit)
	if err := s.validateRequest(req); err != nil {
		return domain.Product{}, err
	}
	if req.Price.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: price must not be negative", domain.ErrValidation)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:     req.Name,
		Category: req.Category,
		Unit:     req.Unit,
		Price:    req.Price,
		Stock:    req.InitialStock,
		Active:   true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", idString(created.ID), fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.Price.String(), created.Stock))
	s.publish(ctx, events.TopicInventory, events.Added, created.ID, created)
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Supplier{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := s.validateRequest(req); err != nil {
		return domain.Supplier{}, err
	}

	saved, err := s.repo.CreateSupplier(ctx, domain.Supplier{Name: req.Name, Phone: req.Phone})
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, "supplier_create", "supplier", idString(saved.ID), fmt.Sprintf("name=%s", saved.Name))
	s.publish(ctx, events.TopicSuppliers, events.Added, saved.ID, saved)
	return *saved, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, query domain.OrderQuery) (domain.OrderPage, error) {
	if query.Status != "" && !validOrderStatus(query.Status) {
		return domain.OrderPage{}, ErrInvalidStatus
	}
	return s.repo.ListOrders(ctx, query)
}

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Order{}, err
	}

	req.ReceiptNumber = strings.TrimSpace(req.ReceiptNumber)
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validateRequest(req); err != nil {
		return domain.Order{}, err
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, line := range req.Items {
		if line.UnitPrice.IsNegative() {
			return domain.Order{}, fmt.Errorf("%w: unit price must not be negative", domain.ErrValidation)
		}
		product, err := s.repo.GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Order{}, store.ErrUnknownProduct
			}
			return domain.Order{}, err
		}
		unitPrice := line.UnitPrice
		if unitPrice.IsZero() {
			unitPrice = product.Price
		}
		item := domain.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			OrderedQty:  line.Quantity,
			UnitPrice:   unitPrice,
			Status:      domain.ItemStatusPending,
		}
		item.Subtotal = ledger.Subtotal(item)
		items = append(items, item)
	}

	order := domain.Order{
		SupplierID:    req.SupplierID,
		ReceiptNumber: req.ReceiptNumber,
		Description:   req.Description,
		TotalPrice:    ledger.OrderTotal(items),
		Status:        ledger.DeriveOrderStatus(domain.OrderStatusOrdered, items),
		CreatedAt:     s.now().UTC(),
		Items:         items,
	}

	saved, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}

	s.invalidateStats(ctx)
	s.logAudit(ctx, "order_create", "order", idString(saved.ID), fmt.Sprintf("supplier=%d,items=%d,total=%s", saved.SupplierID, len(saved.Items), saved.TotalPrice.String()))
	s.publish(ctx, events.TopicOrders, events.Added, saved.ID, saved)
	return *saved, nil
}

func (s *Service) DeleteOrder(ctx context.Context, id int64) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteOrder(ctx, id); err != nil {
		return err
	}

	s.invalidateStats(ctx)
	s.logAudit(ctx, "order_delete", "order", idString(id), "deleted")
	s.publish(ctx, events.TopicOrders, events.Deleted, id, nil)
	return nil
}

// SetOrderStatus overrides the aggregate status. A cancelled order stays
// cancelled and its items are frozen.
func (s *Service) SetOrderStatus(ctx context.Context, id int64, req domain.OrderStatusRequest) (domain.Order, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Order{}, err
	}
	if !validOrderStatus(req.Status) {
		return domain.Order{}, ErrInvalidStatus
	}

	update, err := s.repo.UpdateOrder(ctx, id, func(current domain.Order) (domain.Order, []domain.StockAdjustment, error) {
		if current.Status == domain.OrderStatusCancelled {
			return domain.Order{}, nil, ledger.ErrInvalidState
		}
		current.Status = req.Status
		return current, nil, nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.afterOrderMutation(ctx, "order_status_set", update, 0, fmt.Sprintf("status=%s", req.Status))
	return update.Order, nil
}

// UpdateItemStatus marks a pending item received and credits its quantity to
// stock.
func (s *Service) UpdateItemStatus(ctx context.Context, orderID int64, itemID int64, req domain.ItemStatusRequest) (domain.Order, error) {
	if err := requireActor(ctx); err != nil {
		return domain.Order{}, err
	}

	var resolution ledger.Resolution
	update, err := s.repo.UpdateOrder(ctx, orderID, func(current domain.Order) (domain.Order, []domain.StockAdjustment, error) {
		next, adjustments, res, err := ledger.ResolveItem(current, itemID, func(item domain.OrderItem) (ledger.Resolution, error) {
			return ledger.ApplyStatus(item, req.Status)
		})
		resolution = res
		return next, adjustments, err
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.afterOrderMutation(ctx, "order_item_status", update, resolution.StockCredit, fmt.Sprintf("item=%d,status=%s", itemID, req.Status))
	return update.Order, nil
}

// ReturnItem resolves a pending item by sending qty back to the supplier and
// crediting the remainder to stock, in one commit.
func (s *Service) ReturnItem(ctx context.Context, orderID int64, itemID int64, req domain.ItemReturnRequest) (domain.Order, error) {
	if err := requireActor(ctx); err != nil {
		return domain.Order{}, err
	}

	qty, err := ledger.ParseQuantity(string(req.ReturnedQuantity))
	if err != nil {
		s.metrics.RecordReturn("rejected")
		return domain.Order{}, err
	}

	var resolution ledger.Resolution
	update, err := s.repo.UpdateOrder(ctx, orderID, func(current domain.Order) (domain.Order, []domain.StockAdjustment, error) {
		next, adjustments, res, err := ledger.ResolveItem(current, itemID, func(item domain.OrderItem) (ledger.Resolution, error) {
			return ledger.ProcessReturn(item, qty, req.RefundReason, s.now())
		})
		resolution = res
		return next, adjustments, err
	})
	if err != nil {
		s.metrics.RecordReturn("rejected")
		return domain.Order{}, err
	}

	s.metrics.RecordReturn("accepted")
	s.afterOrderMutation(ctx, "order_item_return", update, resolution.StockCredit, fmt.Sprintf("item=%d,returned=%d,credited=%d,reason=%s", itemID, qty, resolution.StockCredit, strings.TrimSpace(req.RefundReason)))
	return update.Order, nil
}

func (s *Service) afterOrderMutation(ctx context.Context, action string, update *domain.OrderUpdate, credited int, detail string) {
	s.invalidateStats(ctx)
	s.metrics.RecordStockCredit(credited)
	s.logAudit(ctx, action, "order", idString(update.Order.ID), detail)
	s.publish(ctx, events.TopicOrders, events.Updated, update.Order.ID, update.Order)
	for _, product := range update.Products {
		s.publish(ctx, events.TopicInventory, events.Updated, product.ID, product)
	}
}

// OrderStats serves aggregate counters from the stats cache when possible.
func (s *Service) OrderStats(ctx context.Context) (domain.OrderStats, error) {
	if cached, ok, err := s.stats.Get(ctx, cache.StatsKey); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: stats cache get failed: %v", err)
	}

	stats, err := s.repo.GetOrderStats(ctx)
	if err != nil {
		return domain.OrderStats{}, err
	}
	if err := s.stats.Set(ctx, cache.StatsKey, &stats, s.statsTTL); err != nil {
		log.Printf("[service] WARN: stats cache set failed: %v", err)
	}
	return stats, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from, to time.Time
	if strings.TrimSpace(date) == "" {
		to = s.now().UTC().Add(time.Minute)
		from = to.Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, ErrInvalidDate
		}
		from = parsed.UTC()
		to = from.Add(24 * time.Hour)
	}

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) invalidateStats(ctx context.Context) {
	if err := s.stats.Invalidate(ctx, cache.StatsKey); err != nil {
		log.Printf("[service] WARN: stats cache invalidate failed: %v", err)
	}
}

// publish never fails the caller: the mutation is already committed and
// clients recover missed events by refetching.
func (s *Service) publish(ctx context.Context, topic string, t events.Type, id int64, entity any) {
	msg, err := events.NewMessage(t, id, entity)
	if err != nil {
		log.Printf("[service] WARN: encode %s event for %s id=%d: %v", t, topic, id, err)
		return
	}
	err = s.publisher.Publish(ctx, topic, msg)
	s.metrics.RecordEventPublished(topic, string(t), err == nil)
	if err != nil {
		log.Printf("[service] WARN: publish %s event for %s id=%d: %v", t, topic, id, err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func validOrderStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusOrdered, domain.OrderStatusPartiallyReceived, domain.OrderStatusCompleted, domain.OrderStatusCancelled:
		return true
	default:
		return false
	}
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
