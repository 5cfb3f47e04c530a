package storage

import (
	"database/sql"
	"time"

	"github.com/cuongbtq/imagepipe/internal/domain"
)

// imageRow is the database representation of domain.Image
type imageRow struct {
	ID             int64          `db:"id"`
	Status         string         `db:"status"`
	OriginalImage  string         `db:"original_image"`
	ProcessedImage sql.NullString `db:"processed_image"`
	UploadedAt     time.Time      `db:"uploaded_at"`
	ProcessedAt    sql.NullTime   `db:"processed_at"`
}

func (r imageRow) toDomain() domain.Image {
	img := domain.Image{
		ID:            r.ID,
		Status:        domain.Status(r.Status),
		OriginalImage: r.OriginalImage,
		UploadedAt:    r.UploadedAt.UTC(),
	}
	if r.ProcessedImage.Valid {
		img.ProcessedImage = r.ProcessedImage.String
	}
	if r.ProcessedAt.Valid {
		at := r.ProcessedAt.Time.UTC()
		img.ProcessedAt = &at
	}
	return img
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
