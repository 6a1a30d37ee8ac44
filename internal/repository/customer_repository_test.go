package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/rules"
)

func highSpenders() rules.Filter {
	return rules.Compile(models.RuleSet{
		Logic: models.LogicAnd,
		Rules: []models.Rule{{Field: "lifetimeSpend", Operator: ">", Value: 1000.0}},
	}, testOwner)
}

func TestCustomerRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCustomerRepository(db)

	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM customers WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(customerRowColumns).AddRow(
			id.String(), 17, testOwner.String(), "Asha", "asha@example.com", nil, "Pune",
			2500.5, 7, nil, testTime,
		))

	customer, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, id, customer.ID)
	assert.Equal(t, int64(17), customer.CustomerID)
	assert.Equal(t, "Asha", customer.Name)
	assert.Equal(t, "asha@example.com", *customer.Email)
	assert.Nil(t, customer.Phone)
	assert.Equal(t, 2500.5, customer.LifetimeSpend)
	assert.Equal(t, 7, customer.TotalOrders)
}

func TestCustomerRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCustomerRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM customers").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

// The preview count, the resolver summary and the fan-out pages must all
// select the same audience.
func TestCustomerRepository_SameFilterAtEveryCallSite(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCustomerRepository(db)
	ctx := context.Background()

	filter := highSpenders()
	where := regexp.QuoteMeta("FROM customers WHERE " + filter.Where)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) "+where+"$").
		WithArgs(testOwner, 1000.0).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	mock.ExpectQuery("SELECT COUNT\\(\\*\\), COALESCE\\(AVG\\(lifetime_spend\\), 0\\) "+where+"$").
		WithArgs(testOwner, 1000.0).
		WillReturnRows(sqlmock.NewRows([]string{"count", "avg"}).AddRow(2, 3100.25))

	first, second := uuid.New(), uuid.New()
	mock.ExpectQuery(where+regexp.QuoteMeta(" AND id > $3 ORDER BY id ASC LIMIT $4")).
		WithArgs(testOwner, 1000.0, uuid.Nil, 100).
		WillReturnRows(sqlmock.NewRows(customerRowColumns).
			AddRow(first.String(), 1, testOwner.String(), "A", nil, nil, nil, 1500.0, 3, nil, testTime).
			AddRow(second.String(), 2, testOwner.String(), "B", nil, nil, nil, 4700.5, 9, nil, testTime))

	count, err := repo.CountByFilter(ctx, filter)
	require.NoError(t, err)

	summary, err := repo.Summarize(ctx, filter)
	require.NoError(t, err)

	page, err := repo.ListByFilter(ctx, filter, uuid.Nil, 100)
	require.NoError(t, err)

	assert.Equal(t, 2, count)
	assert.Equal(t, count, summary.Size)
	assert.Equal(t, 3100.25, summary.AvgSpend)
	assert.Len(t, page, count)
}

func TestCustomerRepository_ListByFilter_KeysetCursor(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCustomerRepository(db)

	filter := rules.Compile(models.RuleSet{Logic: models.LogicOr, Rules: []models.Rule{
		{Field: "totalOrders", Operator: ">=", Value: 3.0},
		{Field: "location", Operator: "=", Value: "Delhi"},
	}}, testOwner)
	after := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("AND id > $4 ORDER BY id ASC LIMIT $5")).
		WithArgs(testOwner, 3.0, "Delhi", after, 2).
		WillReturnRows(sqlmock.NewRows(customerRowColumns))

	page, err := repo.ListByFilter(context.Background(), filter, after, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}
