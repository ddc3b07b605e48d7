package worker

import "errors"

// Ошибки обработки job.
//
// Тексты ErrSearchNotFound и ErrSearchInactive совпадают с подстроками,
// по которым queue.IsNonRetryable отбрасывает сообщение без повторов.
var (
	// ErrSearchNotFound — поиск удалён или принадлежит другому пользователю.
	ErrSearchNotFound = errors.New("search not found")

	// ErrSearchInactive — поиск выключен пользователем.
	ErrSearchInactive = errors.New("search is inactive")

	// ErrUnknownSource — нет scraper'а для источника из criteria.
	ErrUnknownSource = errors.New("unknown scrape source")

	// ErrScrapeFailed — scraper вернул ошибку.
	ErrScrapeFailed = errors.New("scrape failed")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")

	// ErrWorkerNotStarted — подписка ещё не запущена.
	ErrWorkerNotStarted = errors.New("worker not started")
)
