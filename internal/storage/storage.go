package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/imagepipe/internal/domain"
	"github.com/jmoiron/sqlx"
)

const imageColumns = `id, status, original_image, processed_image, uploaded_at, processed_at`

// ImageStore persists image records. Queries are written with ? placeholders
// and rebound for the active driver.
type ImageStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewImageStore creates a new ImageStore instance
func NewImageStore(db *sqlx.DB, logger *slog.Logger) *ImageStore {
	return &ImageStore{
		db:     db,
		logger: logger,
	}
}

// Migrate creates the images table for the active driver
func (s *ImageStore) Migrate(ctx context.Context) error {
	statements := postgresSchema
	if s.db.DriverName() == "sqlite" {
		statements = sqliteSchema
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	s.logger.Info("Image schema ready",
		slog.String("driver", s.db.DriverName()),
	)
	return nil
}

// Create inserts a new pending image and fills in its ID and UploadedAt
func (s *ImageStore) Create(ctx context.Context, img *domain.Image) error {
	if img.OriginalImage == "" {
		return fmt.Errorf("%w: original image is required", domain.ErrInvalidImage)
	}

	img.Status = domain.StatusPending
	img.ProcessedImage = ""
	img.ProcessedAt = nil
	if img.UploadedAt.IsZero() {
		img.UploadedAt = time.Now().UTC().Truncate(time.Microsecond)
	}

	query := s.db.Rebind(`
		INSERT INTO images (status, original_image, uploaded_at)
		VALUES (?, ?, ?)
		RETURNING id
	`)

	err := s.db.QueryRowxContext(ctx, query, string(img.Status), img.OriginalImage, img.UploadedAt).Scan(&img.ID)
	if err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}

	s.logger.Debug("Image created",
		slog.Int64("image_id", img.ID),
		slog.String("original_image", img.OriginalImage),
	)
	return nil
}

// Get retrieves an image by its ID
func (s *ImageStore) Get(ctx context.Context, id int64) (*domain.Image, error) {
	query := s.db.Rebind(`SELECT ` + imageColumns + ` FROM images WHERE id = ?`)

	var row imageRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrImageNotFound
		}
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	img := row.toDomain()
	return &img, nil
}

// Save writes the mutable fields of img
func (s *ImageStore) Save(ctx context.Context, img *domain.Image) error {
	if err := img.Validate(); err != nil {
		return err
	}

	query := s.db.Rebind(`
		UPDATE images
		SET status = ?,
		    processed_image = ?,
		    processed_at = ?
		WHERE id = ?
	`)

	result, err := s.db.ExecContext(ctx, query,
		string(img.Status),
		nullString(img.ProcessedImage),
		nullTime(img.ProcessedAt),
		img.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrImageNotFound
	}

	s.logger.Debug("Image saved",
		slog.Int64("image_id", img.ID),
		slog.String("status", string(img.Status)),
	)
	return nil
}

// ListAll returns every image, most recently uploaded first
func (s *ImageStore) ListAll(ctx context.Context) ([]domain.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images ORDER BY uploaded_at DESC, id DESC`
	return s.list(ctx, query)
}

// ListByStatus returns images in the given status, most recently uploaded first
func (s *ImageStore) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Image, error) {
	query := s.db.Rebind(`SELECT ` + imageColumns + ` FROM images WHERE status = ? ORDER BY uploaded_at DESC, id DESC`)
	return s.list(ctx, query, string(status))
}

func (s *ImageStore) list(ctx context.Context, query string, args ...interface{}) ([]domain.Image, error) {
	var rows []imageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	images := make([]domain.Image, len(rows))
	for i, row := range rows {
		images[i] = row.toDomain()
	}
	return images, nil
}

// ResetProcessing returns images left in processing by a previous run to
// pending and reports how many were reset
func (s *ImageStore) ResetProcessing(ctx context.Context) (int64, error) {
	query := s.db.Rebind(`
		UPDATE images
		SET status = ?,
		    processed_image = NULL,
		    processed_at = NULL
		WHERE status = ?
	`)

	result, err := s.db.ExecContext(ctx, query, string(domain.StatusPending), string(domain.StatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing images: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Warn("Reset interrupted images to pending",
			slog.Int64("count", rowsAffected),
		)
	}
	return rowsAffected, nil
}

// Delete removes an image record
func (s *ImageStore) Delete(ctx context.Context, id int64) error {
	query := s.db.Rebind(`DELETE FROM images WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrImageNotFound
	}

	s.logger.Info("Image deleted",
		slog.Int64("image_id", id),
	)
	return nil
}
