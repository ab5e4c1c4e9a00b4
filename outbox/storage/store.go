package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	MaxEventTypeLength     = 200
	MaxRoutingKeyLength    = 200
	MaxLastErrorLength     = 1000
	MaxCorrelationIDLength = 100
)

var (
	ErrEventAlreadyExists  = errors.New("event already exists")
	ErrRecordNotFound      = errors.New("outbox record not found")
	ErrNoActiveTransaction = errors.New("no active transaction in context")
)

// Store определяет интерфейс для всех операций с таблицей outbox.
// Все методы работают в транзакции из ctx, если она есть.
type Store interface {
	// Create добавляет новую запись в текущую транзакцию, не фиксируя её
	Create(ctx context.Context, record *Record) error
	// FetchByStatus выбирает записи с указанными статусами, старые первыми
	FetchByStatus(ctx context.Context, statuses []Status, limit int) ([]Record, error)
	// MarkAsProcessing переводит записи в статус Processing
	MarkAsProcessing(ctx context.Context, ids []uuid.UUID, claimedAt time.Time) error
	// Update сохраняет статус, попытки, ошибку и время обработки одной записи
	Update(ctx context.Context, record Record) error
	// FetchStuck выбирает записи, застрявшие в Processing
	FetchStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]Record, error)
	// Get возвращает запись по идентификатору
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	// DeleteSucceeded удаляет старые успешно обработанные записи
	DeleteSucceeded(ctx context.Context, processedBefore time.Time, limit int) (int64, error)
	// EnsureTables создает необходимые таблицы, если они не существуют
	EnsureTables(ctx context.Context) error
}

// Record is one durable unit of at-least-once work.
type Record struct {
	ID             uuid.UUID
	EventType      string
	OccurredOnUTC  time.Time
	Payload        []byte
	RoutingKey     string
	Version        int
	Attempts       int
	Status         Status
	ProcessedOnUTC *time.Time
	LastError      *string
	CorrelationID  *string
	Headers        map[string]string
	ClaimedAt      *time.Time
}
