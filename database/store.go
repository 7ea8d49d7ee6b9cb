// Package database holds the document store boundary the crawl pipelines
// write through, its Postgres and in-memory implementations, and the
// batching layer in front of them.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"interp-crawler/utils"
)

var (
	// ErrNotFound is returned by GetByID when no document matches.
	ErrNotFound = errors.New("document not found")
	// ErrMissingKey is returned when an item lacks its natural key field.
	ErrMissingKey = errors.New("document has no natural key")
)

// Document is one stored record in its JSON object form.
type Document map[string]any

// Op is a filter comparison.
type Op string

const (
	OpEq     Op = "eq"
	OpGte    Op = "gte"
	OpLte    Op = "lte"
	OpPrefix Op = "prefix"
)

// Condition matches documents where any value of Field (a scalar, or any
// element when the field is an array) satisfies Op against Value.
type Condition struct {
	Field string
	Op    Op
	Value string
}

// Filter is a conjunction of conditions. The zero Filter matches everything.
type Filter struct {
	Conditions []Condition
}

// And returns a copy of f with one more condition.
func (f Filter) And(field string, op Op, value string) Filter {
	conds := make([]Condition, 0, len(f.Conditions)+1)
	conds = append(conds, f.Conditions...)
	return Filter{Conditions: append(conds, Condition{Field: field, Op: op, Value: value})}
}

type UpsertResult struct {
	Inserted int
	Updated  int
}

// Upserter is the write side used by the Batcher.
type Upserter interface {
	BulkUpsert(ctx context.Context, collection string, items []any, keyField string) (UpsertResult, error)
}

// Store is the full storage boundary: the crawl writes through BulkUpsert,
// the read API uses the query side.
type Store interface {
	Upserter
	Query(ctx context.Context, collection string, filter Filter) ([]Document, error)
	Distinct(ctx context.Context, collection, field string) ([]string, error)
	GetByID(ctx context.Context, collection, id string) (Document, error)
	Close() error
}

// keyedDocument is an item prepared for storage.
type keyedDocument struct {
	Key  string
	ID   string
	Body []byte
}

// prepare converts items to JSON objects keyed by keyField and fills in a
// stable "id" when the item does not carry one.
func prepare(collection string, items []any, keyField string) ([]keyedDocument, error) {
	out := make([]keyedDocument, 0, len(items))
	for i, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("failed to encode item %d: %w", i, err)
		}

		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("item %d is not a JSON object: %w", i, err)
		}

		key, _ := doc[keyField].(string)
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%w: item %d field %q", ErrMissingKey, i, keyField)
		}

		id, _ := doc["id"].(string)
		if id == "" {
			id = utils.DocumentID(collection, key)
			doc["id"] = id
			if raw, err = json.Marshal(doc); err != nil {
				return nil, fmt.Errorf("failed to encode item %d: %w", i, err)
			}
		}

		out = append(out, keyedDocument{Key: key, ID: id, Body: raw})
	}
	return out, nil
}

// fieldValues flattens a document field into the strings a Condition is
// evaluated against.
func fieldValues(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, e := range val {
			out = append(out, fieldValues(e)...)
		}
		return out
	case []string:
		return val
	default:
		return []string{fmt.Sprint(val)}
	}
}

func (c Condition) matches(doc Document) bool {
	for _, v := range fieldValues(doc[c.Field]) {
		switch c.Op {
		case OpEq:
			if v == c.Value {
				return true
			}
		case OpGte:
			if v >= c.Value {
				return true
			}
		case OpLte:
			if v <= c.Value {
				return true
			}
		case OpPrefix:
			if strings.HasPrefix(v, c.Value) {
				return true
			}
		}
	}
	return false
}

func (f Filter) matches(doc Document) bool {
	for _, c := range f.Conditions {
		if !c.matches(doc) {
			return false
		}
	}
	return true
}
