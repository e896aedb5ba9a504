package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrInvalidReminder — напоминание не проходит базовую проверку перед записью.
	ErrInvalidReminder = errors.New("invalid reminder")
)
