package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interp-crawler/models"
	"interp-crawler/utils"
)

func seedPublications(t *testing.T, store *MemoryStore) {
	t.Helper()

	items := []any{
		models.Publication{Title: "A", URL: "https://x/a", PublicationDate: "2019-03-01", StandardNumber: []string{"1910.1200", "1926.59"}},
		models.Publication{Title: "B", URL: "https://x/b", PublicationDate: "2021-07-15", StandardNumber: []string{"1926.1053"}},
		models.Publication{Title: "C", URL: "https://x/c", PublicationDate: "2023-01-09", StandardNumber: []string{}},
	}
	res, err := store.BulkUpsert(context.Background(), models.PublicationsCollection, items, models.PublicationKey)
	require.NoError(t, err)
	require.Equal(t, 3, res.Inserted)
}

func TestMemoryStoreQuery(t *testing.T) {
	store := NewMemoryStore()
	seedPublications(t, store)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"everything", Filter{}, []string{"A", "B", "C"}},
		{"date range", Filter{}.And("publicationDate", OpGte, "2020-01-01").And("publicationDate", OpLte, "2022-12-31"), []string{"B"}},
		{"standard prefix", Filter{}.And("standardNumber", OpPrefix, "1926"), []string{"A", "B"}},
		{"exact standard", Filter{}.And("standardNumber", OpEq, "1910.1200"), []string{"A"}},
		{"no match", Filter{}.And("standardNumber", OpPrefix, "1904"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := store.Query(ctx, models.PublicationsCollection, tt.filter)
			require.NoError(t, err)

			var titles []string
			for _, d := range docs {
				titles = append(titles, d["title"].(string))
			}
			assert.Equal(t, tt.want, titles)
		})
	}
}

func TestMemoryStoreDistinctFlattensArrays(t *testing.T) {
	store := NewMemoryStore()
	seedPublications(t, store)

	values, err := store.Distinct(context.Background(), models.PublicationsCollection, "standardNumber")
	require.NoError(t, err)
	assert.Equal(t, []string{"1910.1200", "1926.1053", "1926.59"}, values)
}

func TestMemoryStoreGetByID(t *testing.T) {
	store := NewMemoryStore()
	seedPublications(t, store)
	ctx := context.Background()

	id := utils.DocumentID(models.PublicationsCollection, "https://x/b")
	doc, err := store.GetByID(ctx, models.PublicationsCollection, id)
	require.NoError(t, err)
	assert.Equal(t, "B", doc["title"])

	_, err = store.GetByID(ctx, models.PublicationsCollection, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBulkUpsertRejectsMissingKey(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.BulkUpsert(context.Background(), models.StandardsCollection,
		[]any{models.StandardNode{StandardTitle: "orphan"}}, models.StandardKey)
	assert.True(t, errors.Is(err, ErrMissingKey))
}
