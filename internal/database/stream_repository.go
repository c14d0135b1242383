package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/therealutkarshpriyadarshi/vision/internal/logging"
	"github.com/therealutkarshpriyadarshi/vision/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vision/internal/stream"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

const uniqueViolation = "23505"

const streamColumns = `
	id, stream_id, name, description, type, status, source_url, output_url,
	protocol, quality, width, height, frame_rate, bitrate, device_id,
	recording_enabled, recording_path, recording_duration,
	transcode_enabled, transcode_format, transcode_quality,
	last_active_time, viewer_count, cpu_usage, memory_usage, network_bandwidth,
	last_error, last_error_time, error_count,
	created_at, updated_at, status_changed_at, created_by, updated_by`

// StreamRepository is the Postgres implementation of stream.Store.
// Every status, telemetry and error write is a single UPDATE of the affected
// columns, so concurrent writers never overwrite each other's fields.
type StreamRepository struct {
	db  *DB
	log *logging.Logger
	now func() time.Time
}

// NewStreamRepository creates a new stream repository
func NewStreamRepository(db *DB, log *logging.Logger) *StreamRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &StreamRepository{db: db, log: log.WithComponent("database"), now: time.Now}
}

var _ stream.Store = (*StreamRepository)(nil)

func scanStream(row pgx.Row) (*models.Stream, error) {
	var s models.Stream
	err := row.Scan(
		&s.ID, &s.StreamID, &s.Name, &s.Description, &s.Type, &s.Status, &s.SourceURL, &s.OutputURL,
		&s.Protocol, &s.Quality, &s.Width, &s.Height, &s.FrameRate, &s.Bitrate, &s.DeviceID,
		&s.RecordingEnabled, &s.RecordingPath, &s.RecordingDuration,
		&s.TranscodeEnabled, &s.TranscodeFormat, &s.TranscodeQuality,
		&s.LastActiveTime, &s.ViewerCount, &s.CPUUsage, &s.MemoryUsage, &s.NetworkBandwidth,
		&s.LastError, &s.LastErrorTime, &s.ErrorCount,
		&s.CreatedAt, &s.UpdatedAt, &s.StatusChangedAt, &s.CreatedBy, &s.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// mapWriteError translates driver errors into store errors
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return stream.ErrDuplicateStreamID
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return stream.ErrNotFound
	}
	return err
}

func (r *StreamRepository) observe(operation string, began time.Time, errp *error) {
	elapsed := time.Since(began)
	status := "success"
	var failure error
	if err := *errp; err != nil && !isStoreError(err) {
		status = "error"
		failure = err
	}
	metrics.RecordDatabaseOperation(operation, status, elapsed.Seconds())
	r.log.LogDatabaseOperation(operation, elapsed, failure)
}

// isStoreError reports expected outcomes that are not database failures
func isStoreError(err error) bool {
	return errors.Is(err, stream.ErrNotFound) ||
		errors.Is(err, stream.ErrStatusConflict) ||
		errors.Is(err, stream.ErrDuplicateStreamID)
}

// Create inserts a stream and fills in its id and timestamps
func (r *StreamRepository) Create(ctx context.Context, s *models.Stream) (err error) {
	defer r.observe("create_stream", time.Now(), &err)

	now := r.now()
	query := `
		INSERT INTO streams (
			stream_id, name, description, type, status, source_url, output_url,
			protocol, quality, width, height, frame_rate, bitrate, device_id,
			recording_enabled, recording_path, recording_duration,
			transcode_enabled, transcode_format, transcode_quality,
			viewer_count, error_count, created_at, updated_at, status_changed_at, created_by, updated_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		        $18, $19, $20, 0, 0, $21, $21, $21, $22, $23)
		RETURNING id, created_at, updated_at, status_changed_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		s.StreamID, s.Name, s.Description, s.Type, s.Status, s.SourceURL, s.OutputURL,
		s.Protocol, s.Quality, s.Width, s.Height, s.FrameRate, s.Bitrate, s.DeviceID,
		s.RecordingEnabled, s.RecordingPath, s.RecordingDuration,
		s.TranscodeEnabled, s.TranscodeFormat, s.TranscodeQuality,
		now, s.CreatedBy, s.UpdatedBy,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt, &s.StatusChangedAt)

	if err != nil {
		if mapped := mapWriteError(err); errors.Is(mapped, stream.ErrDuplicateStreamID) {
			return mapped
		}
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// Get retrieves a stream by record id
func (r *StreamRepository) Get(ctx context.Context, id int64) (*models.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams WHERE id = $1`

	s, err := scanStream(r.db.Pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, stream.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}

	return s, nil
}

// GetByStreamID retrieves a stream by its caller-chosen identifier
func (r *StreamRepository) GetByStreamID(ctx context.Context, streamID string) (*models.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams WHERE stream_id = $1`

	s, err := scanStream(r.db.Pool.QueryRow(ctx, query, streamID))
	if err == pgx.ErrNoRows {
		return nil, stream.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}

	return s, nil
}

// UpdateDescriptor replaces the descriptive columns of a stream
func (r *StreamRepository) UpdateDescriptor(ctx context.Context, id int64, d *models.StreamDescriptor, actor string) (s *models.Stream, err error) {
	defer r.observe("update_stream", time.Now(), &err)

	query := `
		UPDATE streams
		SET stream_id = $2, name = $3, description = $4, type = $5, source_url = $6,
		    output_url = $7, protocol = $8, quality = $9, width = $10, height = $11,
		    frame_rate = $12, bitrate = $13, device_id = $14,
		    recording_enabled = $15, recording_path = $16, recording_duration = $17,
		    transcode_enabled = $18, transcode_format = $19, transcode_quality = $20,
		    updated_by = $21, updated_at = $22
		WHERE id = $1
		RETURNING ` + streamColumns

	s, err = scanStream(r.db.Pool.QueryRow(ctx, query,
		id, d.StreamID, d.Name, d.Description, d.Type, d.SourceURL,
		d.OutputURL, d.Protocol, d.Quality, d.Width, d.Height,
		d.FrameRate, d.Bitrate, d.DeviceID,
		d.RecordingEnabled, d.RecordingPath, d.RecordingDuration,
		d.TranscodeEnabled, d.TranscodeFormat, d.TranscodeQuality,
		actor, r.now(),
	))
	if err != nil {
		if mapped := mapWriteError(err); mapped != err {
			return nil, mapped
		}
		return nil, fmt.Errorf("failed to update stream: %w", err)
	}

	return s, nil
}

// Delete removes a stream row
func (r *StreamRepository) Delete(ctx context.Context, id int64) (err error) {
	defer r.observe("delete_stream", time.Now(), &err)

	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM streams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stream.ErrNotFound
	}

	return nil
}

// List retrieves matching streams, newest first, with the total match count
func (r *StreamRepository) List(ctx context.Context, f stream.ListFilter) ([]*models.Stream, int64, error) {
	where, args := listWhere(f)

	var total int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM streams`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count streams: %w", err)
	}

	query := `SELECT ` + streamColumns + ` FROM streams` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list streams: %w", err)
	}
	defer rows.Close()

	streams := make([]*models.Stream, 0)
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan stream: %w", err)
		}
		streams = append(streams, s)
	}

	return streams, total, rows.Err()
}

func listWhere(f stream.ListFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		conds = append(conds, "status = ANY("+arg(statusStrings(f.Statuses))+"::text[])")
	}
	if f.Type != "" {
		conds = append(conds, "type = "+arg(string(f.Type)))
	}
	if f.DeviceID != nil {
		conds = append(conds, "device_id = "+arg(*f.DeviceID))
	}
	if f.Keyword != "" {
		p := arg("%" + escapeLike(f.Keyword) + "%")
		conds = append(conds, "(name ILIKE "+p+" OR description ILIKE "+p+")")
	}
	if f.LastActiveBefore != nil {
		conds = append(conds, "last_active_time < "+arg(*f.LastActiveBefore))
	}
	if f.StatusBefore != nil {
		conds = append(conds, "status_changed_at < "+arg(*f.StatusBefore))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Transition applies a guarded status/error update in one statement
func (r *StreamRepository) Transition(ctx context.Context, id int64, t stream.Transition) (s *models.Stream, err error) {
	defer r.observe("transition_stream", time.Now(), &err)

	query, args := transitionQuery(id, t, r.now())

	s, err = scanStream(r.db.Pool.QueryRow(ctx, query, args...))
	if err == nil {
		return s, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to update stream status: %w", err)
	}

	// No row: either the stream is gone or a guard rejected the update
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM streams WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check stream: %w", err)
	}
	if exists {
		return nil, stream.ErrStatusConflict
	}
	return nil, stream.ErrNotFound
}

func transitionQuery(id int64, t stream.Transition, now time.Time) (string, []interface{}) {
	args := []interface{}{id}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets := []string{"updated_at = " + arg(now)}
	if t.To != "" {
		sets = append(sets, "status = "+arg(string(t.To)), "status_changed_at = $2")
	}
	if t.ActiveAt != nil {
		sets = append(sets, "last_active_time = "+arg(*t.ActiveAt))
	}
	if t.ResetViewers {
		sets = append(sets, "viewer_count = 0")
	}
	switch {
	case t.Error != nil && t.ClearError:
		sets = append(sets,
			"last_error = "+arg(t.Error.Message),
			"last_error_time = "+arg(t.Error.At),
			"error_count = 1")
	case t.Error != nil:
		sets = append(sets,
			"last_error = "+arg(t.Error.Message),
			"last_error_time = "+arg(t.Error.At),
			"error_count = error_count + 1")
	case t.ClearError:
		sets = append(sets, "last_error = NULL", "last_error_time = NULL", "error_count = 0")
	}
	if t.Actor != "" {
		sets = append(sets, "updated_by = "+arg(t.Actor))
	}

	conds := []string{"id = $1"}
	if len(t.From) > 0 {
		conds = append(conds, "status = ANY("+arg(statusStrings(t.From))+"::text[])")
	}
	if t.LastActiveBefore != nil {
		conds = append(conds, "last_active_time < "+arg(*t.LastActiveBefore))
	}
	if t.StatusBefore != nil {
		conds = append(conds, "status_changed_at < "+arg(*t.StatusBefore))
	}

	query := "UPDATE streams SET " + strings.Join(sets, ", ") +
		" WHERE " + strings.Join(conds, " AND ") +
		" RETURNING " + streamColumns
	return query, args
}

// AdjustViewers adds delta to the viewer count, clamping at zero
func (r *StreamRepository) AdjustViewers(ctx context.Context, streamID string, delta int64, activeAt *time.Time) (err error) {
	defer r.observe("adjust_viewers", time.Now(), &err)

	query := `
		UPDATE streams
		SET viewer_count = GREATEST(viewer_count + $2, 0),
		    last_active_time = COALESCE($3, last_active_time),
		    updated_at = $4
		WHERE stream_id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, streamID, delta, activeAt, r.now())
	if err != nil {
		return fmt.Errorf("failed to update viewer count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stream.ErrNotFound
	}

	return nil
}

// UpdateMetrics overwrites all three resource columns, nulls included
func (r *StreamRepository) UpdateMetrics(ctx context.Context, streamID string, m stream.Metrics, activeAt time.Time) (err error) {
	defer r.observe("update_metrics", time.Now(), &err)

	query := `
		UPDATE streams
		SET cpu_usage = $2, memory_usage = $3, network_bandwidth = $4,
		    last_active_time = $5, updated_at = $6
		WHERE stream_id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, streamID, m.CPUUsage, m.MemoryUsage, m.NetworkBandwidth, activeAt, r.now())
	if err != nil {
		return fmt.Errorf("failed to update stream metrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stream.ErrNotFound
	}

	return nil
}

// Statistics computes the registry rollup with aggregate queries
func (r *StreamRepository) Statistics(ctx context.Context) (*models.StreamStatistics, error) {
	stats := &models.StreamStatistics{
		StatusCounts: make(map[models.StreamStatus]int64),
		TypeCounts:   make(map[models.StreamType]int64),
		GeneratedAt:  r.now(),
	}

	rows, err := r.db.Pool.Query(ctx, `SELECT status, COUNT(*) FROM streams GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count streams by status: %w", err)
	}
	for rows.Next() {
		var status models.StreamStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.StatusCounts[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.Pool.Query(ctx, `SELECT type, COUNT(*) FROM streams GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count streams by type: %w", err)
	}
	for rows.Next() {
		var streamType models.StreamType
		var n int64
		if err := rows.Scan(&streamType, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		stats.TypeCounts[streamType] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'ACTIVE'),
			COUNT(*) FILTER (WHERE status = 'ERROR'),
			COALESCE(SUM(viewer_count) FILTER (WHERE status = 'ACTIVE'), 0)::bigint,
			AVG(cpu_usage) FILTER (WHERE status = 'ACTIVE'),
			AVG(memory_usage) FILTER (WHERE status = 'ACTIVE'),
			SUM(network_bandwidth) FILTER (WHERE status = 'ACTIVE')
		FROM streams
	`

	err = r.db.Pool.QueryRow(ctx, query).Scan(
		&stats.TotalStreams, &stats.ActiveStreams, &stats.ErrorStreams, &stats.TotalViewers,
		&stats.AverageCPUUsage, &stats.AverageMemoryUsage, &stats.TotalNetworkBandwidth,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate streams: %w", err)
	}

	return stats, nil
}

func statusStrings(statuses []models.StreamStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
