package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compintel/internal/model"
)

func newMockEntityStore(t *testing.T) (*EntityStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewEntityStore(mock), mock
}

func entityRow() *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows([]string{
		"id", "competitor", "entity_type", "natural_key", "name", "status",
		"data", "confidence", "source_rank", "first_seen", "last_updated",
	}).AddRow(int64(42), "acme", "product", "widget|2.1", "Widget", "active",
		[]byte(`{"name":"Widget","version":"2.1"}`), 0.8, 0.9, now, now)
}

func TestEntityStore_FindByNaturalKey_NotFound(t *testing.T) {
	s, mock := newMockEntityStore(t)

	mock.ExpectQuery(`FROM entities WHERE competitor`).
		WithArgs("acme", "product", "widget|2.1").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.FindByNaturalKey(context.Background(), mock, "acme", "product", "widget|2.1")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityStore_FindByNaturalKey_Found(t *testing.T) {
	s, mock := newMockEntityStore(t)

	mock.ExpectQuery(`FROM entities WHERE competitor`).
		WithArgs("acme", "product", "widget|2.1").
		WillReturnRows(entityRow())

	rec, err := s.FindByNaturalKey(context.Background(), mock, "acme", "product", "widget|2.1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(42), rec.ID)
	assert.Equal(t, "Widget", rec.Name)
	assert.Equal(t, "2.1", rec.Data["version"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityStore_Create(t *testing.T) {
	s, mock := newMockEntityStore(t)

	mock.ExpectQuery(`INSERT INTO entities`).
		WithArgs("acme", "product", "widget|2.1", "Widget", "active",
			pgxmock.AnyArg(), 0.8, 0.9, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	rec := &model.EntityRecord{
		Competitor: "acme",
		EntityType: "product",
		NaturalKey: "widget|2.1",
		Name:       "Widget",
		Data:       map[string]any{"name": "Widget"},
		Confidence: 0.8,
		SourceRank: 0.9,
	}
	require.NoError(t, s.Create(context.Background(), mock, rec))
	assert.Equal(t, int64(42), rec.ID)
	assert.Equal(t, model.StatusActive, rec.Status)
	assert.False(t, rec.FirstSeen.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityStore_Update_MissingRowFails(t *testing.T) {
	s, mock := newMockEntityStore(t)

	mock.ExpectExec(`UPDATE entities`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.Update(context.Background(), mock, &model.EntityRecord{ID: 99, Data: map[string]any{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityStore_InsertSource(t *testing.T) {
	s, mock := newMockEntityStore(t)

	mock.ExpectQuery(`INSERT INTO extraction_sources`).
		WithArgs("product", int64(42), "https://acme.com/widget", "hash1", "product",
			"ai", 0.8, pgxmock.AnyArg(), 120, 40, int64(900), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	src := &model.ExtractionSource{
		EntityType:      "product",
		EntityID:        42,
		SourceURL:       "https://acme.com/widget",
		ContentHash:     "hash1",
		PageType:        "product",
		Method:          "ai",
		Confidence:      0.8,
		FieldsExtracted: []string{"name", "version"},
		InputTokens:     120,
		OutputTokens:    40,
		DurationMS:      900,
	}
	require.NoError(t, s.InsertSource(context.Background(), mock, src))
	assert.Equal(t, int64(7), src.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
