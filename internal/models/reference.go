package models

// Product is a catalog entry pulled from the backend during a full sync.
// The device treats the backend catalog as authoritative; local rows are
// replaced wholesale on conflict.
type Product struct {
	ID         string `db:"id" json:"id"`
	SKU        string `db:"sku" json:"sku"`
	Name       string `db:"name" json:"name"`
	PriceCents int64  `db:"price_cents" json:"price_cents"`
	TaxCode    string `db:"tax_code" json:"tax_code"`
	IsActive   bool   `db:"is_active" json:"is_active"`
	UpdatedAt  int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Product.
func (Product) TableName() string {
	return "products"
}

// Setting is a device-scoped configuration value pulled from the backend.
type Setting struct {
	Key       string `db:"key" json:"key"`
	Value     string `db:"value" json:"value"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "settings"
}
