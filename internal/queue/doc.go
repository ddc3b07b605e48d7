// Package queue реализует Job Queue Consumer поверх peek-lock транспорта.
//
// # Поток сообщения
//
//	Publisher.PublishBatch(jobs)      → Transport.Send (ID = uuid, GroupKey = searchId)
//	Transport.Receive                 → Delivery (невидима другим consumer'ам)
//	Consumer.Handle(delivery)         → ExtendLock, затем handler(job)
//	    ErrLockLost до handler'а      → пропуск без Complete/Abandon (stale)
//	    успех                         → Complete
//	    non-retryable ошибка          → Complete (сообщение отбрасывается)
//	    остальные ошибки              → Abandon (повторная доставка)
//
// Пока handler работает, Consumer продлевает невидимость сообщения
// (ExtendLock) каждые LockRenewInterval, но не дольше MaxLockRenewal.
//
// # Классификация ошибок
//
// Non-retryable — ошибки, обёрнутые Permanent, и ошибки с текстом
// "not found", "is inactive", "no longer exists". Повторять их бессмысленно:
// сообщение только тратило бы попытки доставки и забивало очередь.
// Ошибки, обёрнутые Retryable, по тексту не проверяются.
//
// # Транспорты
//
//	mq.Transport       — RabbitMQ (quorum queue, ack/nack)
//	sqs.Transport      — AWS SQS (visibility timeout)
//	MemoryTransport    — в памяти (тесты, QUEUE_BACKEND=memory)
//
// Ошибки транспорта, не связанные с конкретным сообщением (разрыв
// соединения, ошибки авторизации), передаются в ErrorHandler.
package queue
