// Package index builds the by-date and by-standard lookup snapshot for a
// crawl run. Publications are folded in as they are produced, so the run
// never needs a second pass over its records.
package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"interp-crawler/database"
	"interp-crawler/models"
)

// SnapshotName is the natural key of the singleton index document.
const SnapshotName = "organized"

// Accumulator is safe for concurrent Add calls.
type Accumulator struct {
	mu         sync.Mutex
	seen       map[string]struct{}
	byDate     map[string][]models.DateEntry
	byStandard map[string][]models.StandardEntry
	count      int
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		seen:       make(map[string]struct{}),
		byDate:     make(map[string][]models.DateEntry),
		byStandard: make(map[string][]models.StandardEntry),
	}
}

// Add places pub in its date bucket and in the bucket of each of its
// non-empty standard numbers. A URL already added in this run is ignored.
func (a *Accumulator) Add(pub models.Publication) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.seen[pub.URL]; dup {
		return false
	}
	a.seen[pub.URL] = struct{}{}
	a.count++

	a.byDate[pub.PublicationDate] = append(a.byDate[pub.PublicationDate], models.DateEntry{
		ID:    pub.ID,
		Title: pub.Title,
		URL:   pub.URL,
	})

	listed := make(map[string]struct{}, len(pub.StandardNumber))
	for _, std := range pub.StandardNumber {
		if std == "" {
			continue
		}
		if _, dup := listed[std]; dup {
			continue
		}
		listed[std] = struct{}{}
		a.byStandard[std] = append(a.byStandard[std], models.StandardEntry{
			ID:              pub.ID,
			Title:           pub.Title,
			URL:             pub.URL,
			PublicationDate: pub.PublicationDate,
		})
	}
	return true
}

// Len is the number of distinct publications added.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Snapshot copies the current buckets into an OrganizedIndex.
func (a *Accumulator) Snapshot(builtAt time.Time) models.OrganizedIndex {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := models.OrganizedIndex{
		Name:             SnapshotName,
		ByDate:           make(map[string][]models.DateEntry, len(a.byDate)),
		ByStandardNumber: make(map[string][]models.StandardEntry, len(a.byStandard)),
		BuiltAt:          builtAt,
	}
	for k, v := range a.byDate {
		idx.ByDate[k] = append([]models.DateEntry(nil), v...)
	}
	for k, v := range a.byStandard {
		idx.ByStandardNumber[k] = append([]models.StandardEntry(nil), v...)
	}
	return idx
}

// Save overwrites the stored snapshot with idx.
func Save(ctx context.Context, store database.Upserter, idx models.OrganizedIndex) error {
	if idx.Name == "" {
		idx.Name = SnapshotName
	}
	if _, err := store.BulkUpsert(ctx, models.IndexesCollection, []any{idx}, models.IndexKey); err != nil {
		return fmt.Errorf("failed to save organized index: %w", err)
	}
	return nil
}
