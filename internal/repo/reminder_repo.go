package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Reminders/internal/domain"
)

// ReminderRepo — репозиторий для работы с reminders.
type ReminderRepo struct {
	db DBTX
}

// NewReminderRepo создаёт новый ReminderRepo.
func NewReminderRepo(db DBTX) *ReminderRepo {
	return &ReminderRepo{db: db}
}

// FindDue возвращает неотправленные напоминания с scheduled_time <= now.
//
// Репозиторий сам не блокирует строки: от повторной выдачи одного
// напоминания двум экземплярам защищает распределённый lock dispatcher'а.
func (r *ReminderRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.Reminder, error) {
	query := `
		SELECT id, email, message, scheduled_time, sent
		FROM reminders
		WHERE sent = false
		  AND scheduled_time <= $1
		ORDER BY scheduled_time ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()

	var reminders []domain.Reminder
	for rows.Next() {
		reminder, err := r.scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, *reminder)
	}
	return reminders, rows.Err()
}

// GetByID возвращает напоминание по ID.
func (r *ReminderRepo) GetByID(ctx context.Context, id int64) (*domain.Reminder, error) {
	query := `
		SELECT id, email, message, scheduled_time, sent
		FROM reminders
		WHERE id = $1
	`
	reminder, err := r.scanReminder(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reminder, err
}

// Save сохраняет напоминание (upsert по id).
//
// Если ID == 0, создаётся новая запись и ID заполняется значением из БД.
// Флаг sent в БД никогда не сбрасывается: sent = sent OR EXCLUDED.sent.
func (r *ReminderRepo) Save(ctx context.Context, reminder *domain.Reminder) error {
	if reminder.Recipient == "" {
		return fmt.Errorf("%w: empty recipient", ErrInvalidReminder)
	}

	if reminder.ID == 0 {
		query := `
			INSERT INTO reminders (email, message, scheduled_time, sent)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`
		err := r.db.QueryRow(ctx, query,
			reminder.Recipient,
			reminder.Message,
			reminder.ScheduledTime,
			reminder.Sent,
		).Scan(&reminder.ID)
		if err != nil {
			return fmt.Errorf("insert reminder: %w", err)
		}
		return nil
	}

	query := `
		INSERT INTO reminders (id, email, message, scheduled_time, sent)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
		    message = EXCLUDED.message,
		    scheduled_time = EXCLUDED.scheduled_time,
		    sent = reminders.sent OR EXCLUDED.sent
	`
	_, err := r.db.Exec(ctx, query,
		reminder.ID,
		reminder.Recipient,
		reminder.Message,
		reminder.ScheduledTime,
		reminder.Sent,
	)
	if err != nil {
		return fmt.Errorf("upsert reminder %d: %w", reminder.ID, err)
	}
	return nil
}

func (r *ReminderRepo) scanReminder(row pgx.Row) (*domain.Reminder, error) {
	var rem domain.Reminder
	err := row.Scan(
		&rem.ID,
		&rem.Recipient,
		&rem.Message,
		&rem.ScheduledTime,
		&rem.Sent,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan reminder: %w", err)
	}
	return &rem, nil
}
