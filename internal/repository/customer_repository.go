package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/rules"
)

const customerColumns = `id, customer_id, owner_id, name, email, phone, location,
		lifetime_spend, total_orders, last_order_date, created_at`

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db *sql.DB) CustomerRepository {
	return &customerRepository{db: db}
}

func scanCustomer(row rowScanner) (*models.Customer, error) {
	customer := &models.Customer{}
	err := row.Scan(
		&customer.ID,
		&customer.CustomerID,
		&customer.OwnerID,
		&customer.Name,
		&customer.Email,
		&customer.Phone,
		&customer.Location,
		&customer.LifetimeSpend,
		&customer.TotalOrders,
		&customer.LastOrderDate,
		&customer.CreatedAt,
	)
	return customer, err
}

// GetByID retrieves a customer by ID
func (r *customerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	customer, err := scanCustomer(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return customer, nil
}

// CountByFilter counts the customers matching a compiled rule filter
func (r *customerRepository) CountByFilter(ctx context.Context, filter rules.Filter) (int, error) {
	query := `SELECT COUNT(*) FROM customers WHERE ` + filter.Where

	var count int
	if err := r.db.QueryRowContext(ctx, query, filter.Args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audience: %w", err)
	}

	return count, nil
}

// Summarize returns the audience size and its average lifetime spend
func (r *customerRepository) Summarize(ctx context.Context, filter rules.Filter) (*AudienceSummary, error) {
	query := `SELECT COUNT(*), COALESCE(AVG(lifetime_spend), 0) FROM customers WHERE ` + filter.Where

	summary := &AudienceSummary{}
	if err := r.db.QueryRowContext(ctx, query, filter.Args...).Scan(&summary.Size, &summary.AvgSpend); err != nil {
		return nil, fmt.Errorf("failed to summarize audience: %w", err)
	}

	return summary, nil
}

// ListByFilter returns the next page of matching customers ordered by id,
// starting after afterID. Pass uuid.Nil for the first page.
func (r *customerRepository) ListByFilter(ctx context.Context, filter rules.Filter, afterID uuid.UUID, limit int) ([]*models.Customer, error) {
	next := filter.NextArg()
	query := fmt.Sprintf(`SELECT %s FROM customers WHERE %s AND id > $%d ORDER BY id ASC LIMIT $%d`,
		customerColumns, filter.Where, next, next+1)

	args := make([]interface{}, 0, len(filter.Args)+2)
	args = append(args, filter.Args...)
	args = append(args, afterID, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audience: %w", err)
	}
	defer rows.Close()

	customers := []*models.Customer{}
	for rows.Next() {
		customer, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate customers: %w", err)
	}

	return customers, nil
}
