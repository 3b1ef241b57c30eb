package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

//go:embed schema/*.sql
var schemaFS embed.FS

type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "mysql"
}

// OpenDB opens a pool for the dialect. The caller owns the returned handle.
func OpenDB(dialect Dialect, dsn string) (*sql.DB, error) {
	switch dialect {
	case DialectMySQL, DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	return db, nil
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn holds the queries shared by the pool and by an open transaction.
type conn struct {
	q       queryer
	dialect Dialect
	now     func() time.Time
}

// SQLStore implements the store on MySQL or PostgreSQL.
type SQLStore struct {
	*conn
	db *sql.DB
}

var _ port.Store = (*SQLStore)(nil)

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		conn: &conn{q: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }},
		db:   db,
	}
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *SQLStore) Migrate(ctx context.Context) error {
	raw, err := schemaFS.ReadFile("schema/" + string(s.dialect) + ".sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	for _, stmt := range strings.Split(string(raw), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.CheckoutTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlTx{conn: &conn{q: tx, dialect: s.dialect, now: s.now}}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", classifyConflict(err))
	}
	return nil
}

// classifyConflict marks driver errors for a transaction that lost a lock
// or serialization race with port.ErrTxConflict.
func classifyConflict(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == 1213 || myErr.Number == 1205) {
		return fmt.Errorf("%w: %w", port.ErrTxConflict, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40P01" || pgErr.Code == "40001") {
		return fmt.Errorf("%w: %w", port.ErrTxConflict, err)
	}
	return err
}

// rebind rewrites ? placeholders as $n for PostgreSQL.
func (c *conn) rebind(query string) string {
	if c.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := c.q.ExecContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, classifyConflict(err)
	}
	return result, nil
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.q.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, classifyConflict(err)
	}
	return rows, nil
}

func (c *conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.rebind(query), args...)
}

func (c *conn) insert(ctx context.Context, query string, args ...any) (int64, error) {
	if c.dialect == DialectPostgres {
		var id int64
		if err := c.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, classifyConflict(err)
		}
		return id, nil
	}

	result, err := c.exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

const productColumns = "id, name, category, price, stock_quantity, version, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.StockQuantity, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (c *conn) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	query := "SELECT " + productColumns + " FROM products"
	var args []any
	if filter.Category != "" {
		query += " WHERE category = ?"
		args = append(args, filter.Category)
	}
	switch filter.SortByPrice {
	case domain.PriceSortAsc:
		query += " ORDER BY price ASC, id ASC"
	case domain.PriceSortDesc:
		query += " ORDER BY price DESC, id ASC"
	default:
		query += " ORDER BY id ASC"
	}

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (c *conn) CreateProduct(ctx context.Context, product *domain.Product) error {
	now := c.now()
	id, err := c.insert(ctx, `
		INSERT INTO products (name, category, price, stock_quantity, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)`,
		product.Name, product.Category, product.Price, product.StockQuantity, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}

	product.ID = id
	product.Version = 1
	product.CreatedAt = now
	product.UpdatedAt = now
	return nil
}

func (c *conn) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	p, err := scanProduct(c.queryRow(ctx, "SELECT "+productColumns+" FROM products WHERE id = ?", productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (c *conn) UpdatePrice(ctx context.Context, productID int64, price decimal.Decimal) (bool, error) {
	result, err := c.exec(ctx, `UPDATE products SET price = ?, updated_at = ? WHERE id = ?`, price, c.now(), productID)
	if err != nil {
		return false, fmt.Errorf("update price: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update price: %w", err)
	}
	return rows > 0, nil
}

func (c *conn) DeleteProduct(ctx context.Context, productID int64) (bool, error) {
	result, err := c.exec(ctx, `DELETE FROM products WHERE id = ?`, productID)
	if err != nil {
		return false, fmt.Errorf("delete product: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete product: %w", err)
	}
	return rows > 0, nil
}

func (c *conn) GetOrCreateCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	query := `INSERT IGNORE INTO carts (user_id, created_at) VALUES (?, ?)`
	if c.dialect == DialectPostgres {
		query = `INSERT INTO carts (user_id, created_at) VALUES (?, ?) ON CONFLICT (user_id) DO NOTHING`
	}
	if _, err := c.exec(ctx, query, userID, c.now()); err != nil {
		return nil, fmt.Errorf("insert cart: %w", err)
	}

	cart, err := c.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, fmt.Errorf("cart for user %d vanished after insert", userID)
	}
	return cart, nil
}

func (c *conn) GetCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	cart := domain.Cart{UserID: userID, Items: make([]domain.CartItem, 0)}
	err := c.queryRow(ctx, `SELECT id FROM carts WHERE user_id = ?`, userID).Scan(&cart.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}

	rows, err := c.query(ctx, `
		SELECT ci.id, ci.product_id, ci.quantity,
			p.name, p.category, p.price, p.stock_quantity, p.version, p.created_at, p.updated_at
		FROM cart_items ci
		LEFT JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = ?
		ORDER BY ci.id`, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item := domain.CartItem{CartID: cart.ID}
		var (
			name, category     sql.NullString
			price              decimal.NullDecimal
			stock, version     sql.NullInt64
			createdAt, updated sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity,
			&name, &category, &price, &stock, &version, &createdAt, &updated); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		if name.Valid {
			item.Product = &domain.Product{
				ID:            item.ProductID,
				Name:          name.String,
				Category:      category.String,
				Price:         price.Decimal,
				StockQuantity: int(stock.Int64),
				Version:       version.Int64,
				CreatedAt:     createdAt.Time,
				UpdatedAt:     updated.Time,
			}
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}
	return &cart, nil
}

func (c *conn) AddItem(ctx context.Context, cartID, productID int64, quantity int) error {
	query := `
		INSERT INTO cart_items (cart_id, product_id, quantity) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity)`
	if c.dialect == DialectPostgres {
		query = `
		INSERT INTO cart_items (cart_id, product_id, quantity) VALUES (?, ?, ?)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`
	}
	if _, err := c.exec(ctx, query, cartID, productID, quantity); err != nil {
		return fmt.Errorf("upsert cart item: %w", err)
	}
	return nil
}

func (c *conn) RemoveItem(ctx context.Context, cartID, productID int64) error {
	if _, err := c.exec(ctx, `DELETE FROM cart_items WHERE cart_id = ? AND product_id = ?`, cartID, productID); err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return nil
}

func (c *conn) ClearCart(ctx context.Context, cartID int64) error {
	if _, err := c.exec(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, cartID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// SnapshotCart returns the cart lines in insertion order.
func (c *conn) SnapshotCart(ctx context.Context, userID int64) (domain.CartSnapshot, error) {
	snapshot := domain.CartSnapshot{UserID: userID, TakenAt: c.now()}

	rows, err := c.query(ctx, `
		SELECT c.id, ci.product_id, ci.quantity
		FROM carts c
		JOIN cart_items ci ON ci.cart_id = c.id
		WHERE c.user_id = ?
		ORDER BY ci.id`, userID)
	if err != nil {
		return snapshot, fmt.Errorf("query cart snapshot: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&snapshot.CartID, &line.ProductID, &line.Quantity); err != nil {
			return snapshot, fmt.Errorf("scan cart line: %w", err)
		}
		snapshot.Lines = append(snapshot.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return snapshot, fmt.Errorf("iterate cart lines: %w", err)
	}
	return snapshot, nil
}

func (c *conn) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	var o domain.Order
	err := c.queryRow(ctx, `
		SELECT id, user_id, total_price, status, created_at, updated_at
		FROM orders WHERE id = ?`, orderID,
	).Scan(&o.ID, &o.UserID, &o.TotalPrice, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	rows, err := c.query(ctx, `
		SELECT id, product_id, quantity, price_at_purchase
		FROM order_items WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	o.Items = make([]domain.OrderItem, 0)
	for rows.Next() {
		item := domain.OrderItem{OrderID: o.ID}
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity, &item.PriceAtPurchase); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return &o, nil
}

// sqlTx adds the inventory and order ledger writes that are only legal
// inside a checkout transaction.
type sqlTx struct {
	*conn
}

var _ port.CheckoutTx = (*sqlTx)(nil)

func (t *sqlTx) ConditionalDecrement(ctx context.Context, productID, expectedVersion int64, amount int) (domain.DecrementOutcome, error) {
	var (
		stock   int
		version int64
	)
	err := t.queryRow(ctx, `SELECT stock_quantity, version FROM products WHERE id = ?`, productID).Scan(&stock, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DecrementNotFound{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", classifyConflict(err))
	}
	if version != expectedVersion {
		return domain.DecrementConflict{CurrentVersion: version}, nil
	}
	if stock < amount {
		return domain.DecrementInsufficientStock{Available: stock}, nil
	}

	result, err := t.exec(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND stock_quantity >= ?`,
		amount, t.now(), productID, expectedVersion, amount,
	)
	if err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}

	var price decimal.Decimal
	err = t.queryRow(ctx, `SELECT price, version FROM products WHERE id = ?`, productID).Scan(&price, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DecrementNotFound{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query price: %w", classifyConflict(err))
	}

	if rows == 0 {
		return domain.DecrementConflict{CurrentVersion: version}, nil
	}
	return domain.DecrementSuccess{Price: price, NewVersion: version}, nil
}

func (t *sqlTx) CreateOrder(ctx context.Context, userID int64) (domain.OrderHandle, error) {
	now := t.now()
	id, err := t.insert(ctx, `
		INSERT INTO orders (user_id, total_price, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		userID, decimal.Zero, domain.OrderStatusProcessing, now, now,
	)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("insert order: %w", err)
	}
	return domain.OrderHandle{OrderID: id, UserID: userID}, nil
}

func (t *sqlTx) AppendItem(ctx context.Context, order domain.OrderHandle, productID int64, quantity int, unitPrice decimal.Decimal) error {
	_, err := t.exec(ctx, `
		INSERT INTO order_items (order_id, product_id, quantity, price_at_purchase)
		VALUES (?, ?, ?, ?)`,
		order.OrderID, productID, quantity, unitPrice,
	)
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

func (t *sqlTx) Finalize(ctx context.Context, order domain.OrderHandle, total decimal.Decimal) (*domain.Order, error) {
	result, err := t.exec(ctx, `
		UPDATE orders SET total_price = ?, status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		total, domain.OrderStatusConfirmed, t.now(), order.OrderID, domain.OrderStatusProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("finalize order: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("finalize order: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("order %d: %w", order.OrderID, ErrOrderNotProcessing)
	}

	confirmed, err := t.GetOrder(ctx, order.OrderID)
	if err != nil {
		return nil, err
	}
	if confirmed == nil {
		return nil, fmt.Errorf("order %d vanished after finalize", order.OrderID)
	}
	return confirmed, nil
}

func (t *sqlTx) Discard(ctx context.Context, order domain.OrderHandle) error {
	if _, err := t.exec(ctx, `DELETE FROM order_items WHERE order_id = ?`, order.OrderID); err != nil {
		return fmt.Errorf("discard order items: %w", err)
	}
	result, err := t.exec(ctx, `DELETE FROM orders WHERE id = ? AND status = ?`, order.OrderID, domain.OrderStatusProcessing)
	if err != nil {
		return fmt.Errorf("discard order: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("order %d: %w", order.OrderID, ErrOrderNotProcessing)
	}
	return nil
}
