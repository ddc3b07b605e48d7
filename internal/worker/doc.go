// Package worker обрабатывает job-сообщения сохранённых поисков.
//
// # Обзор
//
// Worker — stateless компонент: все экземпляры подписаны на одну очередь
// jobs, каждое сообщение обрабатывает один из них. Scheduler (на лидере)
// только публикует jobs; вся работа по поиску выполняется здесь.
//
// # Ключевые компоненты
//
// ## Worker
//
// Управляет подпиской (queue.Consumer) и передаёт каждый job Processor'у.
//
//	w := worker.New(worker.Config{
//	    Consumer:  consumer,
//	    Processor: processor,
//	    Logger:    logger,
//	})
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
//	defer w.Stop(shutdownCtx)
//
// ## Processor
//
// Выполняет один job:
//
//  1. Загружает поиск по id и владельцу.
//  2. Проверяет, что поиск активен.
//  3. Вызывает Scraper источника (criteria.source, по умолчанию "http").
//  4. Нормализует объявления и сохраняет цены.
//  5. Сравнивает с предыдущим запуском (BuildInsights) и уведомляет.
//
// ## Scraper и Registry
//
// Scraper — внешний движок скрейпинга. Registry хранит scraper'ы по
// источнику. HTTPScraper передаёт criteria внешнему сервису (SCRAPER_URL).
//
// # Ошибки
//
// Исход сообщения определяет queue.IsNonRetryable:
//   - ErrSearchNotFound, ErrSearchInactive, ErrUnknownSource, 4xx scraper'а
//     — non-retryable, сообщение завершается без повторов
//   - недоступность БД, 5xx и таймауты scraper'а — retryable, сообщение
//     возвращается в очередь
//
// Ошибка уведомления не приводит к повтору: цены уже сохранены.
package worker
