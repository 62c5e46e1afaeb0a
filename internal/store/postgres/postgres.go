package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"clinicstock/backend/internal/domain"
	"clinicstock/backend/internal/store"
	"clinicstock/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, COALESCE(unit, ''), price, stock, active, updated_at
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Unit, &p.Price, &p.Stock, &p.Active, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.UpdatedAt = p.UpdatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, COALESCE(unit, ''), price, stock, active, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Category, &p.Unit, &p.Price, &p.Stock, &p.Active, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.Price.IsNegative() || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	product.Active = true
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, category, unit, price, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
		RETURNING id, updated_at
	`, product.Name, product.Category, nullIfEmpty(product.Unit), product.Price, product.Stock, product.Active).Scan(&product.ID, &product.UpdatedAt)
	if err != nil {
		return nil, err
	}
	product.UpdatedAt = product.UpdatedAt.UTC()
	return &product, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return nil, store.ErrInvalidInput
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO suppliers (name, phone, created_at)
		VALUES ($1,$2,now())
		RETURNING id, created_at
	`, supplier.Name, nullIfEmpty(supplier.Phone)).Scan(&supplier.ID, &supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	supplier.CreatedAt = supplier.CreatedAt.UTC()
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone, ''), created_at
		FROM suppliers
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var supplier domain.Supplier
		if err := rows.Scan(&supplier.ID, &supplier.Name, &supplier.Phone, &supplier.CreatedAt); err != nil {
			return nil, err
		}
		supplier.CreatedAt = supplier.CreatedAt.UTC()
		suppliers = append(suppliers, supplier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) GetSupplier(ctx context.Context, id int64) (*domain.Supplier, error) {
	var supplier domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(phone, ''), created_at
		FROM suppliers
		WHERE id = $1
	`, id).Scan(&supplier.ID, &supplier.Name, &supplier.Phone, &supplier.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	supplier.CreatedAt = supplier.CreatedAt.UTC()
	return &supplier, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `SELECT name FROM suppliers WHERE id = $1`, order.SupplierID).Scan(&order.SupplierName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrUnknownSupplier
		}
		return nil, err
	}

	order.Version = 1
	order.UpdatedAt = order.CreatedAt
	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (supplier_id, receipt_number, description, total_price, status, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		RETURNING id
	`, order.SupplierID, nullIfEmpty(order.ReceiptNumber), nullIfEmpty(order.Description), order.TotalPrice, string(order.Status), order.Version, order.CreatedAt).Scan(&order.ID)
	if err != nil {
		return nil, err
	}

	items := make([]domain.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		if item.OrderedQty < 1 || item.UnitPrice.IsNegative() {
			return nil, store.ErrInvalidInput
		}
		var productName string
		err := tx.QueryRowContext(ctx, `SELECT name FROM products WHERE id = $1`, item.ProductID).Scan(&productName)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrUnknownProduct
			}
			return nil, err
		}
		if item.ProductName == "" {
			item.ProductName = productName
		}
		item.OrderID = order.ID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, ordered_qty, refunded_qty, unit_price, subtotal, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING id
		`, item.OrderID, item.ProductID, item.ProductName, item.OrderedQty, item.RefundedQty, item.UnitPrice, item.Subtotal, string(item.Status)).Scan(&item.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	order.Items = items

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}

const orderColumns = `
	o.id, o.supplier_id, s.name, COALESCE(o.receipt_number, ''), COALESCE(o.description, ''),
	o.total_price, o.status, o.version, o.created_at, o.updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var order domain.Order
	var status string
	err := row.Scan(
		&order.ID,
		&order.SupplierID,
		&order.SupplierName,
		&order.ReceiptNumber,
		&order.Description,
		&order.TotalPrice,
		&status,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadItems(ctx context.Context, q queryer, orderIDs []int64, lock bool) (map[int64][]domain.OrderItem, error) {
	result := make(map[int64][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT id, order_id, product_id, product_name, ordered_qty, refunded_qty,
		       unit_price, subtotal, status, COALESCE(refund_reason, ''), refunded_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id ASC, id ASC
	`
	if lock {
		query += " FOR UPDATE"
	}
	rows, err := q.QueryContext(ctx, query, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		var status string
		var refundedAt sql.NullTime
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.OrderedQty,
			&item.RefundedQty,
			&item.UnitPrice,
			&item.Subtotal,
			&status,
			&item.RefundReason,
			&refundedAt,
		); err != nil {
			return nil, err
		}
		item.Status = domain.ItemStatus(status)
		if refundedAt.Valid {
			at := refundedAt.Time.UTC()
			item.RefundedAt = &at
		}
		result[item.OrderID] = append(result[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		JOIN suppliers s ON s.id = o.supplier_id
		WHERE o.id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := loadItems(ctx, s.db, []int64{order.ID}, false)
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	if order.Items == nil {
		order.Items = []domain.OrderItem{}
	}
	return &order, nil
}

func buildOrderWhere(query domain.OrderQuery) (string, []any) {
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 5)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if query.Status != "" {
		clauses = append(clauses, "o.status = "+next(string(query.Status)))
	}
	if query.SupplierID > 0 {
		clauses = append(clauses, "o.supplier_id = "+next(query.SupplierID))
	}
	if query.From != nil {
		clauses = append(clauses, "o.created_at >= "+next(query.From.UTC()))
	}
	if query.To != nil {
		clauses = append(clauses, "o.created_at <= "+next(query.To.UTC()))
	}
	if search := strings.TrimSpace(query.Search); search != "" {
		p := next("%" + escapeLike(search) + "%")
		clauses = append(clauses, fmt.Sprintf("(o.receipt_number ILIKE %[1]s OR o.description ILIKE %[1]s OR s.name ILIKE %[1]s)", p))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) ListOrders(ctx context.Context, query domain.OrderQuery) (domain.OrderPage, error) {
	query = store.NormalizeQuery(query)
	where, args := buildOrderWhere(query)

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM orders o
		JOIN suppliers s ON s.id = o.supplier_id
		`+where, args...).Scan(&total)
	if err != nil {
		return domain.OrderPage{}, err
	}

	direction := "ASC"
	if query.Desc {
		direction = "DESC"
	}
	sortColumn := "o.created_at"
	switch query.SortBy {
	case "total_price":
		sortColumn = "o.total_price"
	case "id":
		sortColumn = "o.id"
	}

	pageArgs := append(append([]any{}, args...), query.PageSize, (query.Page-1)*query.PageSize)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM orders o
		JOIN suppliers s ON s.id = o.supplier_id
		%s
		ORDER BY %s %s, o.id %s
		LIMIT $%d OFFSET $%d
	`, orderColumns, where, sortColumn, direction, direction, len(args)+1, len(args)+2), pageArgs...)
	if err != nil {
		return domain.OrderPage{}, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, query.PageSize)
	ids := make([]int64, 0, query.PageSize)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.OrderPage{}, err
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return domain.OrderPage{}, err
	}
	_ = rows.Close()

	items, err := loadItems(ctx, s.db, ids, false)
	if err != nil {
		return domain.OrderPage{}, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = []domain.OrderItem{}
		}
	}

	return domain.OrderPage{
		Orders:     orders,
		Page:       query.Page,
		PageSize:   query.PageSize,
		TotalItems: total,
		TotalPages: store.TotalPages(total, query.PageSize),
	}, nil
}

func (s *Store) DeleteOrder(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateOrder locks the order row and its items, runs mutate, and commits the
// resulting item rows, order row and stock credits in one transaction. Row
// locks serialize concurrent mutations of the same order.
func (s *Store) UpdateOrder(ctx context.Context, id int64, mutate store.OrderMutation) (*domain.OrderUpdate, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanOrder(tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		JOIN suppliers s ON s.id = o.supplier_id
		WHERE o.id = $1
		FOR UPDATE OF o
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	items, err := loadItems(ctx, tx, []int64{id}, true)
	if err != nil {
		return nil, err
	}
	current.Items = items[id]

	before := make(map[int64]domain.OrderItem, len(current.Items))
	for _, item := range current.Items {
		before[item.ID] = item
	}

	next, adjustments, err := mutate(current)
	if err != nil {
		return nil, err
	}

	for _, item := range next.Items {
		prev, ok := before[item.ID]
		if !ok {
			return nil, store.ErrInvalidInput
		}
		if sameItem(prev, item) {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE order_items
			SET refunded_qty = $3, status = $4, refund_reason = $5, refunded_at = $6
			WHERE id = $1 AND order_id = $2
		`, item.ID, id, item.RefundedQty, string(item.Status), nullIfEmpty(item.RefundReason), nullTime(item.RefundedAt))
		if err != nil {
			return nil, err
		}
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $2, version = version + 1, updated_at = now()
		WHERE id = $1
		RETURNING version, updated_at
	`, id, string(next.Status)).Scan(&next.Version, &next.UpdatedAt)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = next.UpdatedAt.UTC()

	touched := make([]domain.Product, 0, len(adjustments))
	for _, adj := range adjustments {
		if adj.Qty == 0 {
			continue
		}
		var p domain.Product
		err := tx.QueryRowContext(ctx, `
			UPDATE products
			SET stock = stock + $2, updated_at = now()
			WHERE id = $1
			RETURNING id, name, category, COALESCE(unit, ''), price, stock, active, updated_at
		`, adj.ProductID, adj.Qty).Scan(&p.ID, &p.Name, &p.Category, &p.Unit, &p.Price, &p.Stock, &p.Active, &p.UpdatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrUnknownProduct
			}
			return nil, err
		}
		p.UpdatedAt = p.UpdatedAt.UTC()
		touched = append(touched, p)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	return &domain.OrderUpdate{Order: next, Products: touched}, nil
}

func (s *Store) GetOrderStats(ctx context.Context) (domain.OrderStats, error) {
	stats := domain.OrderStats{TotalSpent: decimal.Zero}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'ordered'),
			COUNT(*) FILTER (WHERE status = 'partially_received'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COALESCE(SUM(total_price) FILTER (WHERE status <> 'cancelled'), 0)
		FROM orders
	`).Scan(
		&stats.TotalOrders,
		&stats.OrderedOrders,
		&stats.PartiallyReceived,
		&stats.CompletedOrders,
		&stats.CancelledOrders,
		&stats.TotalSpent,
	)
	if err != nil {
		return domain.OrderStats{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE i.status = 'pending'),
			COALESCE(SUM(i.refunded_qty), 0)
		FROM order_items i
		JOIN orders o ON o.id = i.order_id
		WHERE o.status <> 'cancelled'
	`).Scan(&stats.PendingItems, &stats.ReturnedUnits)
	if err != nil {
		return domain.OrderStats{}, err
	}
	return stats, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, nullIfEmpty(entry.Detail), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, COALESCE(detail, ''), created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(
			&entry.ID,
			&entry.ActorUsername,
			&entry.ActorRole,
			&entry.Action,
			&entry.EntityType,
			&entry.EntityID,
			&entry.Detail,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleEmployee
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func sameItem(a domain.OrderItem, b domain.OrderItem) bool {
	if a.RefundedQty != b.RefundedQty || a.Status != b.Status || a.RefundReason != b.RefundReason {
		return false
	}
	if (a.RefundedAt == nil) != (b.RefundedAt == nil) {
		return false
	}
	return a.RefundedAt == nil || a.RefundedAt.Equal(*b.RefundedAt)
}

func escapeLike(val string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(val)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
