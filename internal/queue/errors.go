package queue

import (
	"errors"
	"strings"
)

var (
	// ErrClosed — операция над закрытым Publisher/Consumer/транспортом.
	ErrClosed = errors.New("queue closed")

	// ErrLockLost — сообщение уже не принадлежит этой доставке
	// (истекла невидимость, сообщение доставлено повторно или завершено).
	ErrLockLost = errors.New("message lock lost")

	// ErrAlreadySubscribed — повторный Subscribe на одном Consumer.
	ErrAlreadySubscribed = errors.New("consumer already subscribed")

	// ErrPermanent помечает ошибки, которые бессмысленно ретраить.
	ErrPermanent = errors.New("permanent failure")

	// ErrRetryable помечает временные ошибки: их текст не проверяется
	// на nonRetryableMarkers.
	ErrRetryable = errors.New("retryable failure")
)

// nonRetryableMarkers — подстроки сообщений об ошибках, означающие,
// что объект job больше не существует или не может быть обработан.
var nonRetryableMarkers = []string{
	"not found",
	"is inactive",
	"no longer exists",
}

// Permanent оборачивает err как non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (e *permanentError) Is(target error) bool {
	return target == ErrPermanent
}

// Retryable оборачивает err как заведомо временную ошибку.
// Используется для ошибок с текстом от внешних систем (тело HTTP-ответа,
// сообщение прокси), который может случайно совпасть с маркером.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (e *retryableError) Is(target error) bool {
	return target == ErrRetryable
}

// IsNonRetryable классифицирует ошибку handler'а.
//
// Non-retryable: ошибки, помеченные Permanent, и ошибки, в тексте которых
// есть одна из известных подстрок (без учёта регистра).
// Ошибки, помеченные Retryable, по тексту не классифицируются.
// Всё остальное — retryable.
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return true
	}
	if errors.Is(err, ErrRetryable) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range nonRetryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
