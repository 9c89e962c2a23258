package requests

import "github.com/pkg/errors"

// Таксономия ошибок жизненного цикла. Валидация и нарушение предусловий
// отклоняются синхронно, без частичных записей; провайдерские ошибки живут
// в services/escrow.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("shipment request not found")

	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("concurrent update lost")

	// ErrTerminalState и ErrDisputePending различимы нарочно: вызывающий
	// должен отличать "всё кончено" от "подождите арбитража".
	ErrTerminalState  = errors.New("request is in a terminal state")
	ErrDisputePending = errors.New("request is frozen by an open dispute")

	ErrInvalidConfirmationCode = errors.New("invalid confirmation code")
	ErrTooManyCodeAttempts     = errors.New("too many confirmation attempts")

	ErrAlreadyDisputed = errors.New("dispute already opened")
	ErrNotConfirmed    = errors.New("request is not confirmed")
	ErrAlreadyReviewed = errors.New("request already reviewed by this actor")

	ErrNotParticipant   = errors.New("actor is not a participant of this request")
	ErrNotAdmin         = errors.New("actor is not an administrator")
	ErrCapacityExceeded = errors.New("listing has not enough remaining capacity")
)
