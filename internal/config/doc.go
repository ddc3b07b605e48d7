// Package config загружает конфигурацию pricewatch-worker из переменных
// окружения.
//
// Значения по умолчанию подходят для локальной разработки; любое из них
// переопределяется переменной окружения (SCHEDULER_INTERVAL_MINUTES,
// LOCK_STORE, QUEUE_BACKEND и т.д.). Load валидирует результат:
//   - LOCK_DURATION_SECONDS больше LOCK_RENEW_SECONDS
//   - интервалы и размеры положительны
//   - LOCK_STORE и QUEUE_BACKEND из известного набора
//
// Если INSTANCE_ID не задан, он строится из hostname и случайного суффикса.
package config
