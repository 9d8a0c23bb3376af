// Package repository реализует хранилище данных на основе PostgreSQL
// для биллингового ядра: пользователи, каталог планов, подписки и
// append-only журнал платёжных событий. Переход подписки применяется
// одной транзакцией вместе с записью журнала и обновлением роли.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL и проверяет его доступность.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// CheckDatabaseReady проверяет готовность базы данных: соединение живо
// и миграции создали таблицу журнала платежей.
func (s *Storage) CheckDatabaseReady(ctx context.Context) error {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'payment_events'
    )`).Scan(&exists)
	if err != nil || !exists {
		return fmt.Errorf("required table payment_events missing or query error: %w", err)
	}
	return nil
}
