package storage

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS images (
		id              BIGSERIAL PRIMARY KEY,
		status          TEXT NOT NULL DEFAULT 'pending',
		original_image  TEXT NOT NULL,
		processed_image TEXT,
		uploaded_at     TIMESTAMPTZ NOT NULL,
		processed_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_images_uploaded_at ON images (uploaded_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_images_status ON images (status)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS images (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		status          TEXT NOT NULL DEFAULT 'pending',
		original_image  TEXT NOT NULL,
		processed_image TEXT,
		uploaded_at     DATETIME NOT NULL,
		processed_at    DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_images_uploaded_at ON images (uploaded_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_images_status ON images (status)`,
}
