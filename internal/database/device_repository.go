package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/therealutkarshpriyadarshi/vision/internal/stream"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

// DeviceRepository reads the devices table. It implements stream.DeviceResolver.
type DeviceRepository struct {
	db *DB
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

var _ stream.DeviceResolver = (*DeviceRepository)(nil)

// Resolve retrieves a device by record id
func (r *DeviceRepository) Resolve(ctx context.Context, id int64) (*models.Device, error) {
	query := `SELECT id, device_id, name, status FROM devices WHERE id = $1`

	var d models.Device
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&d.ID, &d.DeviceID, &d.Name, &d.Status)
	if err == pgx.ErrNoRows {
		return nil, stream.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return &d, nil
}

// Register inserts a device row. Devices are normally owned elsewhere; this is
// used for seeding and tests.
func (r *DeviceRepository) Register(ctx context.Context, d *models.Device) error {
	query := `
		INSERT INTO devices (device_id, name, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id) DO UPDATE SET name = EXCLUDED.name, status = EXCLUDED.status
		RETURNING id
	`

	if err := r.db.Pool.QueryRow(ctx, query, d.DeviceID, d.Name, d.Status).Scan(&d.ID); err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}
