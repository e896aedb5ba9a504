package mq

import "errors"

// Ошибки брокера.
var (
	// ErrNoChannel — нет открытого AMQP канала (соединение потеряно).
	ErrNoChannel = errors.New("no channel available")

	// ErrDeliveriesClosed — брокер закрыл канал доставки.
	ErrDeliveriesClosed = errors.New("deliveries channel closed")

	// ErrNacked — брокер не подтвердил публикацию (basic.nack).
	ErrNacked = errors.New("publish nacked by broker")

	// ErrReturned — брокеру некуда маршрутизировать сообщение (basic.return).
	ErrReturned = errors.New("publish returned as unroutable")

	// ErrReject — повторная обработка не поможет, сообщение сразу уходит в DLQ.
	ErrReject = errors.New("message rejected")
)
