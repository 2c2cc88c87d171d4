package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-id/internal/database"
	"github.com/kozaktomas/face-id/internal/facematch"
)

// RecordRepository stores face records in the face_records table.
type RecordRepository struct {
	pool *Pool
}

var _ database.EnrollmentStore = (*RecordRepository)(nil)

// NewRecordRepository creates a repository on an already migrated pool.
func NewRecordRepository(pool *Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

// Load returns all records, oldest enrollment first.
func (r *RecordRepository) Load(ctx context.Context) ([]facematch.FaceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, display_name, role, descriptor, authorized, enrolled_at,
		       source_image_ref, self_enrolled, simulated, model
		FROM face_records
		ORDER BY enrolled_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("load face records: %w", err)
	}
	defer rows.Close()

	var out []facematch.FaceRecord
	for rows.Next() {
		var rec facematch.FaceRecord
		var vec pgvector.Vector
		if err := rows.Scan(
			&rec.ID, &rec.DisplayName, &rec.Role, &vec, &rec.Authorized, &rec.EnrolledAt,
			&rec.SourceImageRef, &rec.SelfEnrolled, &rec.Simulated, &rec.Model,
		); err != nil {
			return nil, fmt.Errorf("scan face record: %w", err)
		}
		rec.Descriptor = facematch.Descriptor(vec.Slice())
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate face records: %w", err)
	}
	return out, nil
}

// Save inserts or replaces a record.
func (r *RecordRepository) Save(ctx context.Context, rec facematch.FaceRecord) error {
	if rec.ID == "" {
		return errors.New("record ID is required")
	}
	if len(rec.Descriptor) == 0 {
		return errors.New("record descriptor is required")
	}

	vec := pgvector.NewVector([]float32(rec.Descriptor))
	_, err := r.pool.Exec(ctx, `
		INSERT INTO face_records (
			id, display_name, normalized_name, role, descriptor, dim, authorized,
			enrolled_at, source_image_ref, self_enrolled, simulated, model, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			normalized_name = EXCLUDED.normalized_name,
			role = EXCLUDED.role,
			descriptor = EXCLUDED.descriptor,
			dim = EXCLUDED.dim,
			authorized = EXCLUDED.authorized,
			enrolled_at = EXCLUDED.enrolled_at,
			source_image_ref = EXCLUDED.source_image_ref,
			self_enrolled = EXCLUDED.self_enrolled,
			simulated = EXCLUDED.simulated,
			model = EXCLUDED.model,
			updated_at = NOW()
	`, rec.ID, rec.DisplayName, facematch.NormalizePersonName(rec.DisplayName), rec.Role, vec,
		len(rec.Descriptor), rec.Authorized, rec.EnrolledAt, rec.SourceImageRef,
		rec.SelfEnrolled, rec.Simulated, rec.Model)
	if err != nil {
		return fmt.Errorf("save face record %s: %w", rec.ID, err)
	}
	return nil
}

// Delete removes a record by ID.
func (r *RecordRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM face_records WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete face record %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying pool.
func (r *RecordRepository) Close() error {
	return r.pool.Close()
}
