package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/overtonx/catalog-service/outbox/storage"
)

const tableMessages = "outbox_messages"

const mysqlDuplicateEntry = 1062

const selectColumns = `id, event_type, occurred_on_utc, payload, routing_key, version, attempts, status,
		processed_on_utc, last_error, correlation_id, headers, claimed_at`

// SQL queries
const (
	createQuery = `
		INSERT INTO %s (id, event_type, occurred_on_utc, payload, routing_key, version, attempts, status, correlation_id, headers)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	fetchByStatusQuery = `
		SELECT ` + selectColumns + `
		FROM %s
		WHERE status IN (%s)
		ORDER BY occurred_on_utc ASC, id ASC
		LIMIT ?
		FOR UPDATE SKIP LOCKED`

	markAsProcessingQuery = `UPDATE %s SET status = ?, claimed_at = ? WHERE id IN (%s)`

	updateQuery = `
		UPDATE %s
		SET status = ?, attempts = ?, processed_on_utc = ?, last_error = ?, claimed_at = ?
		WHERE id = ?`

	fetchStuckQuery = `
		SELECT ` + selectColumns + `
		FROM %s
		WHERE status = ? AND claimed_at < ?
		ORDER BY claimed_at ASC
		LIMIT ?
		FOR UPDATE SKIP LOCKED`

	getQuery = `
		SELECT ` + selectColumns + `
		FROM %s
		WHERE id = ?`

	deleteSucceededQuery = `
		DELETE FROM %s
		WHERE status = ? AND processed_on_utc < ?
		ORDER BY processed_on_utc
		LIMIT ?`
)

// SQLStore is the MySQL implementation of storage.Store. Every method runs
// inside the transaction started by the trm manager for ctx, or directly on
// the pool when there is none.
type SQLStore struct {
	db     *sql.DB
	getter *trmsql.CtxGetter
	logger *zap.Logger
}

func NewSQLStore(db *sql.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		db:     db,
		getter: trmsql.DefaultCtxGetter,
		logger: logger,
	}
}

func (s *SQLStore) conn(ctx context.Context) trmsql.Tr {
	return s.getter.DefaultTrOrDB(ctx, s.db)
}

func (s *SQLStore) Create(ctx context.Context, record *storage.Record) error {
	tr := s.conn(ctx)
	if _, ok := tr.(*sql.Tx); !ok {
		return storage.ErrNoActiveTransaction
	}

	headers, err := marshalHeaders(record.Headers)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(createQuery, tableMessages)
	_, err = tr.ExecContext(ctx, query,
		record.ID.String(),
		record.EventType,
		record.OccurredOnUTC,
		record.Payload,
		record.RoutingKey,
		record.Version,
		record.Attempts,
		string(record.Status),
		nullString(record.CorrelationID),
		headers,
	)
	if err != nil {
		return convertFromDBError(err)
	}
	return nil
}

func (s *SQLStore) FetchByStatus(ctx context.Context, statuses []storage.Status, limit int) ([]storage.Record, error) {
	if len(statuses) == 0 || limit <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(fetchByStatusQuery, tableMessages, placeholders(len(statuses)))

	args := make([]interface{}, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, limit)

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *SQLStore) MarkAsProcessing(ctx context.Context, ids []uuid.UUID, claimedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(markAsProcessingQuery, tableMessages, placeholders(len(ids)))

	args := make([]interface{}, len(ids)+2)
	args[0] = string(storage.StatusProcessing)
	args[1] = claimedAt
	for i, id := range ids {
		args[i+2] = id.String()
	}

	if _, err := s.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark records as processing: %w", err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, record storage.Record) error {
	query := fmt.Sprintf(updateQuery, tableMessages)
	res, err := s.conn(ctx).ExecContext(ctx, query,
		string(record.Status),
		record.Attempts,
		nullTime(record.ProcessedOnUTC),
		nullString(record.LastError),
		nullTime(record.ClaimedAt),
		record.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update outbox record %s: %w", record.ID, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		s.logger.Warn("Outbox record update affected no rows", zap.String("id", record.ID.String()))
	}
	return nil
}

func (s *SQLStore) FetchStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]storage.Record, error) {
	query := fmt.Sprintf(fetchStuckQuery, tableMessages)
	rows, err := s.conn(ctx).QueryContext(ctx, query, string(storage.StatusProcessing), claimedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *SQLStore) Get(ctx context.Context, id uuid.UUID) (storage.Record, error) {
	query := fmt.Sprintf(getQuery, tableMessages)
	rows, err := s.conn(ctx).QueryContext(ctx, query, id.String())
	if err != nil {
		return storage.Record{}, fmt.Errorf("failed to query outbox record: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return storage.Record{}, err
	}
	if len(records) == 0 {
		return storage.Record{}, storage.ErrRecordNotFound
	}
	return records[0], nil
}

func (s *SQLStore) DeleteSucceeded(ctx context.Context, processedBefore time.Time, limit int) (int64, error) {
	query := fmt.Sprintf(deleteSucceededQuery, tableMessages)
	res, err := s.conn(ctx).ExecContext(ctx, query, string(storage.StatusSucceeded), processedBefore, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete succeeded records: %w", err)
	}
	return res.RowsAffected()
}

// EnsureTables создает таблицу outbox, если она не существует
func (s *SQLStore) EnsureTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS outbox_messages (
			id               CHAR(36)      NOT NULL PRIMARY KEY,
			event_type       VARCHAR(200)  NOT NULL,
			occurred_on_utc  DATETIME(6)   NOT NULL,
			payload          LONGBLOB      NOT NULL,
			routing_key      VARCHAR(200)  NOT NULL,
			version          INT           NOT NULL DEFAULT 1,
			attempts         INT           NOT NULL DEFAULT 0,
			status           VARCHAR(16)   NOT NULL,
			processed_on_utc DATETIME(6)   NULL,
			last_error       VARCHAR(1000) NULL,
			correlation_id   VARCHAR(100)  NULL,
			headers          JSON          NULL,
			claimed_at       DATETIME(6)   NULL,
			INDEX idx_status_occurred (status, occurred_on_utc),
			INDEX idx_status_claimed (status, claimed_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.conn(ctx).ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s table: %w", tableMessages, err)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]storage.Record, error) {
	var records []storage.Record
	for rows.Next() {
		var (
			rec           storage.Record
			id            string
			status        string
			processedOn   sql.NullTime
			lastError     sql.NullString
			correlationID sql.NullString
			headers       []byte
			claimedAt     sql.NullTime
		)
		if err := rows.Scan(
			&id,
			&rec.EventType,
			&rec.OccurredOnUTC,
			&rec.Payload,
			&rec.RoutingKey,
			&rec.Version,
			&rec.Attempts,
			&status,
			&processedOn,
			&lastError,
			&correlationID,
			&headers,
			&claimedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}

		var err error
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid outbox record id %q: %w", id, err)
		}
		if rec.Status, err = storage.ParseStatus(status); err != nil {
			return nil, err
		}
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &rec.Headers); err != nil {
				return nil, fmt.Errorf("invalid headers for record %s: %w", id, err)
			}
		}
		if processedOn.Valid {
			t := processedOn.Time.UTC()
			rec.ProcessedOnUTC = &t
		}
		if claimedAt.Valid {
			t := claimedAt.Time.UTC()
			rec.ClaimedAt = &t
		}
		if lastError.Valid {
			rec.LastError = &lastError.String
		}
		if correlationID.Valid {
			rec.CorrelationID = &correlationID.String
		}
		rec.OccurredOnUTC = rec.OccurredOnUTC.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading outbox rows: %w", err)
	}
	return records, nil
}

func convertFromDBError(err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return storage.ErrEventAlreadyExists
	}
	return fmt.Errorf("failed to save outbox record: %w", err)
}

func marshalHeaders(headers map[string]string) (interface{}, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal headers: %w", err)
	}
	return b, nil
}

func placeholders(n int) string {
	return strings.Repeat("?,", n-1) + "?"
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
