package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Repository defines persistence for notifications.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create persists a single notification.
	Create(ctx context.Context, n *Notification) error

	// CreateDisconnectBatch persists one DISCONNECT notification per
	// recipient, unless the device already raised a disconnect inside
	// the dedup window. The check and insert are a single atomic
	// statement: either every recipient gets a row or none do.
	// Returns the created notifications, empty when deduplicated.
	CreateDisconnectBatch(ctx context.Context, template *Notification, userIDs []string, window time.Duration) ([]Notification, error)

	// LatestDisconnectID returns the id of the device's most recent
	// DISCONNECT notification, or ErrNotFound when none exists.
	LatestDisconnectID(ctx context.Context, deviceID string) (string, error)

	// ListForUser returns a user's notifications, newest first.
	// Dismissed notifications are excluded. unreadOnly limits the
	// result to notifications without a read_at.
	ListForUser(ctx context.Context, userID string, limit, offset int, unreadOnly bool) ([]Notification, error)

	// UnreadCount returns the number of unread, undismissed
	// notifications for a user.
	UnreadCount(ctx context.Context, userID string) (int, error)

	// MarkRead sets read_at on one of the user's notifications.
	MarkRead(ctx context.Context, id, userID string) error

	// MarkAllRead sets read_at on all of the user's unread
	// notifications and returns how many were updated.
	MarkAllRead(ctx context.Context, userID string) (int, error)

	// Dismiss hides a notification from the user's feed.
	Dismiss(ctx context.Context, id, userID string) error
}

// PostgresRepository implements Repository backed by PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a notification repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists a single notification.
func (r *PostgresRepository) Create(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	metadata, err := marshalMetadata(n.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notifications
			(id, user_id, device_id, type, severity, title, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.UserID, nullString(n.DeviceID), n.Type, n.Severity,
		n.Title, n.Message, metadata, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// CreateDisconnectBatch persists disconnect notifications for all
// recipients in one conditional INSERT. The WHERE NOT EXISTS clause
// runs against the table state at statement time, so two concurrent
// disconnects for the same device cannot both fan out.
func (r *PostgresRepository) CreateDisconnectBatch(ctx context.Context, template *Notification, userIDs []string, window time.Duration) ([]Notification, error) {
	if len(userIDs) == 0 {
		return nil, ErrNoRecipients
	}

	ids := make([]string, len(userIDs))
	for i := range userIDs {
		ids[i] = uuid.New().String()
	}

	metadata, err := marshalMetadata(template.Metadata)
	if err != nil {
		return nil, err
	}

	createdAt := template.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	cutoff := createdAt.Add(-window)

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications
			(id, user_id, device_id, type, severity, title, message, metadata, created_at)
		SELECT t.id, t.user_id, $3, $4, $5, $6, $7, $8, $9
		FROM unnest($1::uuid[], $2::uuid[]) AS t(id, user_id)
		WHERE NOT EXISTS (
			SELECT 1 FROM notifications n
			WHERE n.device_id = $3
			  AND n.type = $4
			  AND n.created_at > $10
		)`,
		pq.Array(ids), pq.Array(userIDs), template.DeviceID,
		TypeDisconnect, template.Severity, template.Title, template.Message,
		metadata, createdAt, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting disconnect notifications: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}

	created := make([]Notification, len(userIDs))
	for i, userID := range userIDs {
		n := *template
		n.ID = ids[i]
		n.UserID = userID
		n.CreatedAt = createdAt
		created[i] = n
	}
	return created, nil
}

// LatestDisconnectID returns the id of the device's most recent
// DISCONNECT notification. Recipients all share one disconnect insert,
// so any of the batch rows identifies the outage; newest-first keeps
// the reference on the current one.
func (r *PostgresRepository) LatestDisconnectID(ctx context.Context, deviceID string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT id
		FROM notifications
		WHERE device_id = $1 AND type = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		deviceID, TypeDisconnect).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolving latest disconnect: %w", err)
	}
	return id, nil
}

const notificationColumns = `id, user_id, device_id, type, severity, title, message,
	metadata, created_at, read_at, dismissed_at, delivered_at`

// ListForUser returns a user's notifications, newest first.
func (r *PostgresRepository) ListForUser(ctx context.Context, userID string, limit, offset int, unreadOnly bool) ([]Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1 AND dismissed_at IS NULL`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += `
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		notifications = append(notifications, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notifications: %w", err)
	}
	return notifications, nil
}

// UnreadCount returns the unread notification count for a user.
func (r *PostgresRepository) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM notifications
		WHERE user_id = $1 AND read_at IS NULL AND dismissed_at IS NULL`,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead sets read_at on one of the user's notifications.
func (r *PostgresRepository) MarkRead(ctx context.Context, id, userID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET read_at = now()
		WHERE id = $1 AND user_id = $2 AND read_at IS NULL`,
		id, userID)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	return requireRowAffected(result)
}

// MarkAllRead sets read_at on every unread notification for the user.
func (r *PostgresRepository) MarkAllRead(ctx context.Context, userID string) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET read_at = now()
		WHERE user_id = $1 AND read_at IS NULL AND dismissed_at IS NULL`,
		userID)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

// Dismiss hides a notification from the user's feed.
func (r *PostgresRepository) Dismiss(ctx context.Context, id, userID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET dismissed_at = now()
		WHERE id = $1 AND user_id = $2 AND dismissed_at IS NULL`,
		id, userID)
	if err != nil {
		return fmt.Errorf("dismissing notification: %w", err)
	}
	return requireRowAffected(result)
}

// scanNotification reads a row in notificationColumns order.
func scanNotification(rows *sql.Rows) (*Notification, error) {
	var (
		n           Notification
		deviceID    sql.NullString
		metadata    []byte
		readAt      sql.NullTime
		dismissedAt sql.NullTime
		deliveredAt sql.NullTime
	)
	err := rows.Scan(
		&n.ID, &n.UserID, &deviceID, &n.Type, &n.Severity, &n.Title,
		&n.Message, &metadata, &n.CreatedAt, &readAt, &dismissedAt, &deliveredAt,
	)
	if err != nil {
		return nil, err
	}

	if deviceID.Valid {
		n.DeviceID = deviceID.String
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	n.ReadAt = nullTimePtr(readAt)
	n.DismissedAt = nullTimePtr(dismissedAt)
	n.DeliveredAt = nullTimePtr(deliveredAt)
	return &n, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return data, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
