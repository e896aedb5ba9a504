// Package cli содержит команды reminder-scheduler для оператора.
//
// # Команды
//
//   - due       — список due напоминаний
//   - show ID   — одно напоминание
//   - dispatch  — один dispatch-цикл (с захватом lock, как в serve)
//   - migrate   — up, down [N], version
//
// Команда serve собирается в cmd/reminder-scheduler, так как
// поднимает HTTP, RabbitMQ и фоновые циклы.
//
// # Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: reminder-scheduler due --json | jq .
//
// Каждая команда создаётся фабричной функцией (NewDueCmd и т.д.),
// принимающей замыкания для ленивого создания зависимостей
// после парсинга PersistentFlags.
package cli
