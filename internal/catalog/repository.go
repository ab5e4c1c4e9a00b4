package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/google/uuid"
)

// Repository persists categories and products. Every method joins the transaction
// carried by ctx, if any.
type Repository interface {
	InsertCategory(ctx context.Context, c Category) error
	UpdateCategory(ctx context.Context, c Category) error
	DeleteCategory(ctx context.Context, id uuid.UUID) error
	GetCategory(ctx context.Context, id uuid.UUID) (Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
	CountProducts(ctx context.Context, categoryID uuid.UUID) (int, error)
	CountSubcategories(ctx context.Context, parentID uuid.UUID) (int, error)

	InsertProduct(ctx context.Context, p Product) error
	UpdateProduct(ctx context.Context, p Product) error
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
}

const categoryColumns = `id, name, description, url, parent_category_id, created_at, updated_at`

const productColumns = `p.id, p.name, p.description, p.image_url, p.price, p.amount, p.category_id, c.name, p.created_at, p.updated_at`

const (
	insertCategoryQuery = `
		INSERT INTO categories (` + categoryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	updateCategoryQuery = `
		UPDATE categories
		SET name = ?, description = ?, url = ?, parent_category_id = ?, updated_at = ?
		WHERE id = ?`

	getCategoryQuery = `SELECT ` + categoryColumns + ` FROM categories WHERE id = ?`

	listCategoriesQuery = `SELECT ` + categoryColumns + ` FROM categories ORDER BY name ASC, id ASC`

	insertProductQuery = `
		INSERT INTO products (id, name, description, image_url, price, amount, category_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	updateProductQuery = `
		UPDATE products
		SET name = ?, description = ?, image_url = ?, price = ?, amount = ?, category_id = ?, updated_at = ?
		WHERE id = ?`

	selectProductsQuery = `
		SELECT ` + productColumns + `
		FROM products p
		JOIN categories c ON c.id = p.category_id`
)

// SQLRepository is the MySQL Repository.
type SQLRepository struct {
	db     *sql.DB
	getter *trmsql.CtxGetter
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db, getter: trmsql.DefaultCtxGetter}
}

func (r *SQLRepository) conn(ctx context.Context) trmsql.Tr {
	return r.getter.DefaultTrOrDB(ctx, r.db)
}

func (r *SQLRepository) InsertCategory(ctx context.Context, c Category) error {
	_, err := r.conn(ctx).ExecContext(ctx, insertCategoryQuery,
		c.ID.String(), c.Name, nullString(c.Description), nullString(c.URL),
		nullUUID(c.ParentCategoryID), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert category: %w", err)
	}
	return nil
}

func (r *SQLRepository) UpdateCategory(ctx context.Context, c Category) error {
	_, err := r.conn(ctx).ExecContext(ctx, updateCategoryQuery,
		c.Name, nullString(c.Description), nullString(c.URL), nullUUID(c.ParentCategoryID), c.UpdatedAt,
		c.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}
	return nil
}

func (r *SQLRepository) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	return r.delete(ctx, "categories", id)
}

func (r *SQLRepository) GetCategory(ctx context.Context, id uuid.UUID) (Category, error) {
	rows, err := r.conn(ctx).QueryContext(ctx, getCategoryQuery, id.String())
	if err != nil {
		return Category{}, fmt.Errorf("failed to query category: %w", err)
	}
	defer rows.Close()

	categories, err := scanCategories(rows)
	if err != nil {
		return Category{}, err
	}
	if len(categories) == 0 {
		return Category{}, fmt.Errorf("%w: category %s", ErrNotFound, id)
	}
	return categories[0], nil
}

func (r *SQLRepository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.conn(ctx).QueryContext(ctx, listCategoriesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	return scanCategories(rows)
}

func (r *SQLRepository) CountProducts(ctx context.Context, categoryID uuid.UUID) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM products WHERE category_id = ?`, categoryID)
}

func (r *SQLRepository) CountSubcategories(ctx context.Context, parentID uuid.UUID) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM categories WHERE parent_category_id = ?`, parentID)
}

func (r *SQLRepository) InsertProduct(ctx context.Context, p Product) error {
	_, err := r.conn(ctx).ExecContext(ctx, insertProductQuery,
		p.ID.String(), p.Name, p.Description, p.ImageURL, p.Price, p.Amount, p.CategoryID.String(),
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (r *SQLRepository) UpdateProduct(ctx context.Context, p Product) error {
	_, err := r.conn(ctx).ExecContext(ctx, updateProductQuery,
		p.Name, p.Description, p.ImageURL, p.Price, p.Amount, p.CategoryID.String(), p.UpdatedAt,
		p.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return nil
}

func (r *SQLRepository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	return r.delete(ctx, "products", id)
}

func (r *SQLRepository) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	rows, err := r.conn(ctx).QueryContext(ctx, selectProductsQuery+` WHERE p.id = ?`, id.String())
	if err != nil {
		return Product{}, fmt.Errorf("failed to query product: %w", err)
	}
	defer rows.Close()

	products, err := scanProducts(rows)
	if err != nil {
		return Product{}, err
	}
	if len(products) == 0 {
		return Product{}, fmt.Errorf("%w: product %s", ErrNotFound, id)
	}
	return products[0], nil
}

func (r *SQLRepository) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	filter = filter.normalize()

	var (
		where []string
		args  []interface{}
	)
	if filter.CategoryID != nil {
		where = append(where, "p.category_id = ?")
		args = append(args, filter.CategoryID.String())
	}

	query := selectProductsQuery
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.name ASC, p.id ASC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

// Migrate создает таблицы каталога, если они не существуют.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS categories (
			id                 CHAR(36)      NOT NULL PRIMARY KEY,
			name               VARCHAR(50)   NOT NULL,
			description        VARCHAR(1000) NULL,
			url                VARCHAR(200)  NULL,
			parent_category_id CHAR(36)      NULL,
			created_at         DATETIME(6)   NOT NULL,
			updated_at         DATETIME(6)   NOT NULL,
			INDEX idx_categories_parent (parent_category_id),
			CONSTRAINT fk_categories_parent FOREIGN KEY (parent_category_id) REFERENCES categories (id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS products (
			id          CHAR(36)       NOT NULL PRIMARY KEY,
			name        VARCHAR(50)    NOT NULL,
			description VARCHAR(1000)  NOT NULL DEFAULT '',
			image_url   VARCHAR(200)   NOT NULL DEFAULT '',
			price       DECIMAL(18, 2) NOT NULL,
			amount      INT            NOT NULL,
			category_id CHAR(36)       NOT NULL,
			created_at  DATETIME(6)    NOT NULL,
			updated_at  DATETIME(6)    NOT NULL,
			INDEX idx_products_category (category_id),
			CONSTRAINT fk_products_category FOREIGN KEY (category_id) REFERENCES categories (id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}
	for _, q := range queries {
		if _, err := r.conn(ctx).ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to migrate catalog schema: %w", err)
		}
	}
	return nil
}

func (r *SQLRepository) delete(ctx context.Context, table string, id uuid.UUID) error {
	res, err := r.conn(ctx).ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id.String())
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, strings.TrimSuffix(table, "s"), id)
	}
	return nil
}

func (r *SQLRepository) count(ctx context.Context, query string, id uuid.UUID) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRowContext(ctx, query, id.String()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

func scanCategories(rows *sql.Rows) ([]Category, error) {
	var categories []Category
	for rows.Next() {
		var (
			c           Category
			id          string
			description sql.NullString
			url         sql.NullString
			parentID    sql.NullString
		)
		if err := rows.Scan(&id, &c.Name, &description, &url, &parentID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		var err error
		if c.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid category id %q: %w", id, err)
		}
		if description.Valid {
			c.Description = &description.String
		}
		if url.Valid {
			c.URL = &url.String
		}
		if parentID.Valid {
			pid, err := uuid.Parse(parentID.String)
			if err != nil {
				return nil, fmt.Errorf("invalid parent category id %q: %w", parentID.String, err)
			}
			c.ParentCategoryID = &pid
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading categories: %w", err)
	}
	return categories, nil
}

func scanProducts(rows *sql.Rows) ([]Product, error) {
	var products []Product
	for rows.Next() {
		var (
			p          Product
			id         string
			categoryID string
		)
		if err := rows.Scan(&id, &p.Name, &p.Description, &p.ImageURL, &p.Price, &p.Amount,
			&categoryID, &p.CategoryName, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		var err error
		if p.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid product id %q: %w", id, err)
		}
		if p.CategoryID, err = uuid.Parse(categoryID); err != nil {
			return nil, fmt.Errorf("invalid category id %q: %w", categoryID, err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading products: %w", err)
	}
	return products, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

var _ Repository = (*SQLRepository)(nil)

// isNotFound is a small helper for callers that branch on missing rows.
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
