package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ProductRepository handles database operations for products.
type ProductRepository struct {
	db *sqlx.DB
}

// NewProductRepository creates a new product repository.
func NewProductRepository(db *sqlx.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create inserts a new product and fills in its generated ID.
func (r *ProductRepository) Create(ctx context.Context, product *Product) error {
	res, err := r.db.ExecContext(ctx, "INSERT INTO products (name) VALUES (?)", product.Name)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read product id: %w", err)
	}
	product.ID = id
	return nil
}

// GetByName retrieves a product by its name.
func (r *ProductRepository) GetByName(ctx context.Context, name string) (*Product, error) {
	var product Product
	if err := r.db.GetContext(ctx, &product,
		"SELECT id, name FROM products WHERE name = ?", name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %q", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &product, nil
}

// List retrieves all products ordered by name.
func (r *ProductRepository) List(ctx context.Context) ([]*Product, error) {
	var products []*Product
	if err := r.db.SelectContext(ctx, &products,
		"SELECT id, name FROM products ORDER BY name"); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// Count returns the number of stored products.
func (r *ProductRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM products"); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}
