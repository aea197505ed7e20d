package db

// InitSchema creates the device tables if they do not exist.
//
// queue_items is the durable delivery ledger: a pending row exists exactly
// while its item still needs delivery. Abandoned rows stay in the same
// table under status='abandoned' so operator visibility survives restarts.
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queue_items (
		id INTEGER PRIMARY KEY,
		type TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'abandoned')),
		created_at INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_attempt INTEGER,
		abandon_reason TEXT,
		abandoned_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_queue_status ON queue_items(status);

	CREATE TABLE IF NOT EXISTS sync_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL,
		name TEXT NOT NULL,
		price_cents INTEGER NOT NULL,
		tax_code TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_products_sku ON products(sku);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := db.Exec(schema)
	return err
}
