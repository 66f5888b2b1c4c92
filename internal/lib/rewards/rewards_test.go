package rewards

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lamain12/Roadpulse-backend/internal/lib/errs"
)

func TestNavigationPoints(t *testing.T) {
	assert.Equal(t, 0, NavigationPoints(0))
	assert.Equal(t, 0, NavigationPoints(359))
	assert.Equal(t, 1, NavigationPoints(360))
	assert.Equal(t, 2, NavigationPoints(1000))
	assert.Equal(t, 0, NavigationPoints(-5))
}

func TestAwardNavigation(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	points, err := AwardNavigation(ctx, ledger, "aisyah", 1500)
	require.NoError(t, err)
	assert.Equal(t, 4, points)

	points, err = AwardNavigation(ctx, ledger, "aisyah", 120)
	require.NoError(t, err)
	assert.Zero(t, points)

	balance, err := ledger.Points(ctx, "aisyah")
	require.NoError(t, err)
	assert.Equal(t, 4, balance)

	_, err = AwardNavigation(ctx, ledger, "", 1000)
	assert.True(t, errs.Is(err, errs.KindValidation))
	_, err = AwardNavigation(ctx, ledger, "aisyah", -1)
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestMemoryLedger_Concurrent(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ledger.AwardPoints(ctx, "wei.ling", 2)
		}()
	}
	wg.Wait()

	balance, err := ledger.Points(ctx, "wei.ling")
	require.NoError(t, err)
	assert.Equal(t, 100, balance)

	_, err = ledger.Points(ctx, "nobody")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

// MockDB is a mock implementation of DB
type MockDB struct {
	mock.Mock
}

func (m *MockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	called := m.Called(append([]any{sql}, args...)...)
	return called.Get(0).(pgconn.CommandTag), called.Error(1)
}

func (m *MockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	called := m.Called(append([]any{sql}, args...)...)
	return called.Get(0).(pgx.Row)
}

type intRow struct {
	value int
	err   error
}

func (r intRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int)) = r.value
	return nil
}

func TestPostgresStore_AwardPoints(t *testing.T) {
	db := &MockDB{}
	db.On("Exec", mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "ON CONFLICT (username)")
	}), "hafiz", 2).Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()

	store := NewPostgresStore(db)
	require.NoError(t, store.AwardPoints(context.Background(), "hafiz", 2))
	db.AssertExpectations(t)

	assert.True(t, errs.Is(store.AwardPoints(context.Background(), "", 2), errs.KindValidation))
}

func TestPostgresStore_AwardPointsFailure(t *testing.T) {
	db := &MockDB{}
	db.On("Exec", mock.Anything, "hafiz", 2).Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := NewPostgresStore(db).AwardPoints(context.Background(), "hafiz", 2)
	assert.True(t, errs.Is(err, errs.KindUpstream))
	assert.ErrorContains(t, err, "connection refused")
}

func TestPostgresStore_Points(t *testing.T) {
	db := &MockDB{}
	db.On("QueryRow", mock.Anything, "hafiz").Return(intRow{value: 14})
	db.On("QueryRow", mock.Anything, "ghost").Return(intRow{err: pgx.ErrNoRows})
	db.On("QueryRow", mock.Anything, "broken").Return(intRow{err: errors.New("timeout")})

	store := NewPostgresStore(db)
	points, err := store.Points(context.Background(), "hafiz")
	require.NoError(t, err)
	assert.Equal(t, 14, points)

	_, err = store.Points(context.Background(), "ghost")
	assert.True(t, errs.Is(err, errs.KindNotFound))

	_, err = store.Points(context.Background(), "broken")
	assert.True(t, errs.Is(err, errs.KindUpstream))
}

func TestPostgresStore_Migrate(t *testing.T) {
	db := &MockDB{}
	db.On("Exec", Schema).Return(pgconn.NewCommandTag("CREATE TABLE"), nil).Once()
	require.NoError(t, NewPostgresStore(db).Migrate(context.Background()))
	db.AssertExpectations(t)
}
