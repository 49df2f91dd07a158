package forecasting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ModelRecord is the metadata stored next to a model's weights
type ModelRecord struct {
	Name           string    `json:"name"`
	SequenceLength int       `json:"sequence_length"`
	FeatureCount   int       `json:"feature_count"`
	FinalLoss      float64   `json:"final_loss"`
	FinalMAE       float64   `json:"final_mae"`
	TrainedAt      time.Time `json:"trained_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ModelRepository stores models in the models table. Weights are encoded
// with msgpack.
type ModelRepository struct {
	db *sql.DB
}

// NewModelRepository creates a repository over an open database
func NewModelRepository(db *sql.DB) *ModelRepository {
	return &ModelRepository{db: db}
}

// SaveModel upserts the model stored under record.Name.
func (r *ModelRepository) SaveModel(ctx context.Context, record ModelRecord, weights ModelWeights) error {
	if record.Name == "" {
		return errors.New("model name is required")
	}

	payload, err := msgpack.Marshal(&weights)
	if err != nil {
		return fmt.Errorf("failed to encode model %s: %w", record.Name, err)
	}

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}
	if record.TrainedAt.IsZero() {
		record.TrainedAt = record.UpdatedAt
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO models (name, sequence_length, feature_count, payload, final_loss, final_mae, trained_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			sequence_length = excluded.sequence_length,
			feature_count = excluded.feature_count,
			payload = excluded.payload,
			final_loss = excluded.final_loss,
			final_mae = excluded.final_mae,
			trained_at = excluded.trained_at,
			updated_at = excluded.updated_at
	`,
		record.Name,
		record.SequenceLength,
		record.FeatureCount,
		payload,
		record.FinalLoss,
		record.FinalMAE,
		record.TrainedAt.Unix(),
		record.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store model %s: %w", record.Name, err)
	}
	return nil
}

// LoadModel returns the model stored under name, or ErrModelNotFound.
func (r *ModelRepository) LoadModel(ctx context.Context, name string) (ModelRecord, ModelWeights, error) {
	var (
		record    ModelRecord
		weights   ModelWeights
		payload   []byte
		trainedAt int64
		updatedAt int64
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT name, sequence_length, feature_count, payload, final_loss, final_mae, trained_at, updated_at
		FROM models WHERE name = ?
	`, name).Scan(
		&record.Name,
		&record.SequenceLength,
		&record.FeatureCount,
		&payload,
		&record.FinalLoss,
		&record.FinalMAE,
		&trainedAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ModelRecord{}, ModelWeights{}, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	if err != nil {
		return ModelRecord{}, ModelWeights{}, fmt.Errorf("failed to query model %s: %w", name, err)
	}

	if err := msgpack.Unmarshal(payload, &weights); err != nil {
		return ModelRecord{}, ModelWeights{}, fmt.Errorf("failed to decode model %s: %w", name, err)
	}

	record.TrainedAt = time.Unix(trainedAt, 0)
	record.UpdatedAt = time.Unix(updatedAt, 0)
	return record, weights, nil
}

// List returns metadata of every stored model, most recently updated first
func (r *ModelRepository) List(ctx context.Context) ([]ModelRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, sequence_length, feature_count, final_loss, final_mae, trained_at, updated_at
		FROM models ORDER BY updated_at DESC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	records := []ModelRecord{}
	for rows.Next() {
		var (
			record    ModelRecord
			trainedAt int64
			updatedAt int64
		)
		if err := rows.Scan(
			&record.Name,
			&record.SequenceLength,
			&record.FeatureCount,
			&record.FinalLoss,
			&record.FinalMAE,
			&trainedAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		record.TrainedAt = time.Unix(trainedAt, 0)
		record.UpdatedAt = time.Unix(updatedAt, 0)
		records = append(records, record)
	}
	return records, rows.Err()
}

// Delete removes a stored model. Deleting an unknown name returns ErrModelNotFound.
func (r *ModelRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM models WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete model %s: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete model %s: %w", name, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return nil
}
