package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villaprodiq/studiosync/internal/client/models"
	"github.com/villaprodiq/studiosync/internal/common"
	"github.com/villaprodiq/studiosync/internal/entity"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE records (
  id TEXT NOT NULL,
  entity_type TEXT NOT NULL,
  payload TEXT NOT NULL,
  base_version TEXT NOT NULL DEFAULT '',
  deleted INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (id, entity_type)
);
`)
	require.NoError(t, err)

	return db
}

func TestUpsert_InsertAndUpdate(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	rec := &models.Record{
		ID:         "b1",
		EntityType: entity.TypeBooking,
		Payload:    map[string]any{"session_type": "wedding"},
	}
	require.NoError(t, r.Upsert(ctx, rec))

	got, err := r.Get(ctx, entity.TypeBooking, "b1")
	require.NoError(t, err)
	assert.Equal(t, "wedding", got.Payload["session_type"])
	assert.Equal(t, "", got.BaseVersion)

	rec.Payload = map[string]any{"session_type": "portrait"}
	rec.BaseVersion = "v-100"
	require.NoError(t, r.Upsert(ctx, rec))

	got, err = r.Get(ctx, entity.TypeBooking, "b1")
	require.NoError(t, err)
	assert.Equal(t, "portrait", got.Payload["session_type"])
	assert.Equal(t, "v-100", got.BaseVersion)
}

func TestGet_NotFound(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	_, err := r.Get(context.Background(), entity.TypeBooking, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestList_ExcludesDeleted(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	for _, id := range []string{"b1", "b2"} {
		require.NoError(t, r.Upsert(ctx, &models.Record{
			ID: id, EntityType: entity.TypeBooking, Payload: map[string]any{"id": id},
		}))
	}
	require.NoError(t, r.MarkDeleted(ctx, entity.TypeBooking, "b2"))

	all, err := r.List(ctx, entity.TypeBooking)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b1", all[0].ID)
}

func TestMarkDeleted_Twice(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, &models.Record{
		ID: "b1", EntityType: entity.TypeBooking, Payload: map[string]any{},
	}))
	require.NoError(t, r.MarkDeleted(ctx, entity.TypeBooking, "b1"))
	assert.ErrorIs(t, r.MarkDeleted(ctx, entity.TypeBooking, "b1"), common.ErrNotFound)
}

func TestReplace_AdoptsServerCopy(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, &models.Record{
		ID: "c1", EntityType: entity.TypeClient,
		Payload: map[string]any{"name": "X"}, BaseVersion: "t0",
	}))

	require.NoError(t, r.Replace(ctx, entity.TypeClient, "c1",
		map[string]any{"name": "Y"}, "t1"))

	got, err := r.Get(ctx, entity.TypeClient, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Y", got.Payload["name"])
	assert.Equal(t, "t1", got.BaseVersion)
}

func TestSetBaseVersion(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, &models.Record{
		ID: "g1", EntityType: entity.TypeGallery, Payload: map[string]any{},
	}))
	require.NoError(t, r.SetBaseVersion(ctx, entity.TypeGallery, "g1", "t42"))

	got, err := r.Get(ctx, entity.TypeGallery, "g1")
	require.NoError(t, err)
	assert.Equal(t, "t42", got.BaseVersion)
}
