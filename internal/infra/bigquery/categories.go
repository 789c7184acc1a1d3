package bigquery

import (
	"context"
	"fmt"

	"google.golang.org/api/iterator"

	"github.com/finledger/finledger/internal/ledger"
)

const categoriesTable = "categories"

// CategoryRow is the categories table shape.
type CategoryRow struct {
	CategoryID string `bigquery:"category_id"`
	Name       string `bigquery:"name"`
	IsActive   bool   `bigquery:"is_active"`
}

// CategoriesRepo is the BigQuery ledger.Categories.
type CategoriesRepo struct {
	c *Client
}

// NewCategoriesRepo creates the repository on a shared client.
func NewCategoriesRepo(c *Client) *CategoriesRepo {
	return &CategoriesRepo{c: c}
}

// ListActive implements ledger.Categories.
func (r *CategoriesRepo) ListActive(ctx context.Context) ([]ledger.Category, error) {
	q := r.c.bq.Query(fmt.Sprintf(`
		SELECT category_id, name, is_active
		FROM %s
		WHERE is_active
		ORDER BY name
	`, r.c.table(categoriesTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	var categories []ledger.Category
	for {
		var row CategoryRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list categories: iterating: %w", err)
		}
		categories = append(categories, ledger.Category{ID: row.CategoryID, Name: row.Name})
	}
	return categories, nil
}

var _ ledger.Categories = (*CategoriesRepo)(nil)
