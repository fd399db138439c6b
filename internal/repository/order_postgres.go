package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ArtemMasharipov/go-bookstore/internal/domain"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrDuplicateOrder   = errors.New("order with this idempotency key already exists")
	ErrOrderNumberTaken = errors.New("order number already taken")
	ErrOrderConflict    = errors.New("order was modified concurrently")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(cred *Credentials) (*OrderRepository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &OrderRepository{db: db}, nil
}

func (r *OrderRepository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "orders_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

const orderColumns = `id, order_number, owner_id, items, shipping_address,
	items_subtotal, shipping_cost, tax, grand_total, status, payment_method,
	is_paid, is_delivered, paid_at, delivered_at, cancelled_at,
	idempotency_key, created_at, updated_at`

// CreateOrder inserts the order and its "order.created" outbox event in one
// transaction. Duplicate idempotency keys and order numbers surface as typed
// errors so the factory can recover from each differently.
func (r *OrderRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}
	addressJSON, err := json.Marshal(order.Shipping)
	if err != nil {
		return fmt.Errorf("failed to marshal shipping address: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO orders (id, order_number, owner_id, items, shipping_address,
	          items_subtotal, shipping_cost, tax, grand_total, status, payment_method,
	          is_paid, is_delivered, idempotency_key, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())`

	_, insertErr := tx.ExecContext(ctx, query,
		order.ID,
		order.OrderNumber,
		order.OwnerID,
		itemsJSON,
		addressJSON,
		order.ItemsSubtotal,
		order.ShippingCost,
		order.Tax,
		order.GrandTotal,
		order.Status,
		order.PaymentMethod,
		order.IsPaid,
		order.IsDelivered,
		order.IdempotencyKey)

	if insertErr != nil {
		var pqErr *pq.Error
		if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" {
			if strings.Contains(pqErr.Constraint, "order_number") {
				return ErrOrderNumberTaken
			}
			return ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", insertErr)
	}

	if err := insertOutboxEvent(ctx, tx, order, "order.created"); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateOrderStatus persists the status fields of an already-created order
// and records an outbox event for the change in the same transaction. The
// UPDATE is guarded on the status the caller read the order with; a zero-row
// result where the order still exists means a concurrent writer won, reported
// as ErrOrderConflict so the caller can reload and re-decide.
func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, order *domain.Order, from domain.OrderStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE orders SET status = $2, is_paid = $3, is_delivered = $4,
	          paid_at = $5, delivered_at = $6, cancelled_at = $7, updated_at = NOW()
	          WHERE id = $1 AND status = $8`

	result, updateErr := tx.ExecContext(ctx, query,
		order.ID,
		order.Status,
		order.IsPaid,
		order.IsDelivered,
		order.PaidAt,
		order.DeliveredAt,
		order.CancelledAt,
		from)
	if updateErr != nil {
		return fmt.Errorf("update order: %w", updateErr)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetOrderByID(ctx, order.ID); errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		return ErrOrderConflict
	}

	if err := insertOutboxEvent(ctx, tx, order, "order.status_changed"); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *OrderRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.scanOrder(r.db.QueryRowContext(ctx, query, id))
}

func (r *OrderRepository) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = $1`
	return r.scanOrder(r.db.QueryRowContext(ctx, query, key))
}

func (r *OrderRepository) ListOrdersByOwner(ctx context.Context, ownerID string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE owner_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query orders by owner: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := r.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return orders, nil
}

// CountOrdersCreatedBetween backs the daily order-number sequence.
func (r *OrderRepository) CountOrdersCreatedBetween(ctx context.Context, from, to time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM orders WHERE created_at >= $1 AND created_at < $2`

	var count int
	if err := r.db.QueryRowContext(ctx, query, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *OrderRepository) scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var itemsJSON, addressJSON []byte
	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.OwnerID,
		&itemsJSON,
		&addressJSON,
		&order.ItemsSubtotal,
		&order.ShippingCost,
		&order.Tax,
		&order.GrandTotal,
		&order.Status,
		&order.PaymentMethod,
		&order.IsPaid,
		&order.IsDelivered,
		&order.PaidAt,
		&order.DeliveredAt,
		&order.CancelledAt,
		&order.IdempotencyKey,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	if err := json.Unmarshal(addressJSON, &order.Shipping); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}

	return &order, nil
}

func (r *OrderRepository) Close() error {
	return r.db.Close()
}
