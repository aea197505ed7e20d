package db

import (
	"database/sql"
	"strconv"

	apperrors "github.com/tillpoint/pos-core/internal/errors"
	"github.com/tillpoint/pos-core/internal/models"
)

const productsCursorKey = "products_updated_since"

// ReferenceStore persists reference data pulled from the backend during
// full syncs: the product catalog and device settings.
type ReferenceStore struct {
	db *DB
}

// NewReferenceStore creates a ReferenceStore over an open database.
func NewReferenceStore(db *DB) *ReferenceStore {
	return &ReferenceStore{db: db}
}

// UpsertProducts replaces or inserts catalog rows in one transaction.
func (s *ReferenceStore) UpsertProducts(products []models.Product) error {
	if len(products) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "could not begin product upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO products (id, sku, name, price_cents, tax_code, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sku = excluded.sku,
			name = excluded.name,
			price_cents = excluded.price_cents,
			tax_code = excluded.tax_code,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "could not prepare product upsert", err)
	}
	defer stmt.Close()

	for i := range products {
		p := &products[i]
		if _, err := stmt.Exec(p.ID, p.SKU, p.Name, p.PriceCents, p.TaxCode, p.IsActive, p.UpdatedAt); err != nil {
			return apperrors.Wrap(apperrors.ErrStore, "could not upsert product", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "could not commit product upsert", err)
	}
	return nil
}

// GetProduct returns one catalog row by id, or ErrNotFound.
func (s *ReferenceStore) GetProduct(id string) (*models.Product, error) {
	var p models.Product
	err := s.db.QueryRow(`
		SELECT id, sku, name, price_cents, tax_code, is_active, updated_at
		FROM products WHERE id = ?
	`, id).Scan(&p.ID, &p.SKU, &p.Name, &p.PriceCents, &p.TaxCode, &p.IsActive, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "no product with id %s", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, "could not read product", err)
	}
	return &p, nil
}

// CountProducts returns the catalog size.
func (s *ReferenceStore) CountProducts() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM products").Scan(&count); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStore, "could not count products", err)
	}
	return count, nil
}

// UpsertSettings replaces or inserts device settings in one transaction.
func (s *ReferenceStore) UpsertSettings(settings []models.Setting) error {
	if len(settings) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "could not begin settings upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "could not prepare settings upsert", err)
	}
	defer stmt.Close()

	for i := range settings {
		st := &settings[i]
		if _, err := stmt.Exec(st.Key, st.Value, st.UpdatedAt); err != nil {
			return apperrors.Wrap(apperrors.ErrStore, "could not upsert setting", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "could not commit settings upsert", err)
	}
	return nil
}

// GetSetting returns one device setting, or ErrNotFound.
func (s *ReferenceStore) GetSetting(key string) (*models.Setting, error) {
	var st models.Setting
	err := s.db.QueryRow("SELECT key, value, updated_at FROM settings WHERE key = ?", key).
		Scan(&st.Key, &st.Value, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "no setting with key %s", key)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, "could not read setting", err)
	}
	return &st, nil
}

// ProductsCursor returns the updated_since watermark of the last
// successful catalog pull, or 0 if none has completed yet.
func (s *ReferenceStore) ProductsCursor() (int64, error) {
	var raw string
	err := s.db.QueryRow("SELECT value FROM sync_meta WHERE key = ?", productsCursorKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStore, "could not read catalog cursor", err)
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStoreCorrupt, "catalog cursor is not numeric", err)
	}
	return cursor, nil
}

// SetProductsCursor advances the catalog watermark.
func (s *ReferenceStore) SetProductsCursor(cursor int64) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, productsCursorKey, strconv.FormatInt(cursor, 10))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "could not advance catalog cursor", err)
	}
	return nil
}
