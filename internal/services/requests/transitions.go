package requests

import "github.com/KiloMates/ShipBox/internal/models"

// Action — действие контрагента над заявкой.
type Action string

const (
	ActionAccept        Action = "accept"
	ActionReject        Action = "reject"
	ActionCancel        Action = "cancel"
	ActionPay           Action = "pay"
	ActionMarkCollected Action = "mark_collected"
	ActionMarkInTransit Action = "mark_in_transit"
	ActionMarkDelivered Action = "mark_delivered"

	// Служебные действия, в транзишен-таблицу не входят: confirm идёт через
	// ConfirmDelivery (нужен код), споры — через OpenDispute/ResolveDispute.
	actionConfirm      Action = "confirm"
	actionOpenDispute  Action = "open_dispute"
	actionSweepExpire  Action = "sweep_expire"
	actionResolveLabel Action = "resolve_dispute"
)

type actorRole int

const (
	roleSender actorRole = iota
	roleTraveler
)

type edge struct {
	role actorRole
	from []string
	to   string
}

// Таблица переходов — единственный источник правды о рёбрах жизненного
// цикла. collected/in_transit — справочные маркеры, не обязательные
// ступени: прямой paid->delivered легален.
var transitions = map[Action]edge{
	ActionAccept: {
		role: roleTraveler,
		from: []string{models.RequestStatusPending},
		to:   models.RequestStatusAccepted,
	},
	ActionReject: {
		role: roleTraveler,
		from: []string{models.RequestStatusPending, models.RequestStatusAccepted},
		to:   models.RequestStatusCancelled,
	},
	ActionCancel: {
		role: roleTraveler,
		from: []string{models.RequestStatusPending, models.RequestStatusAccepted},
		to:   models.RequestStatusCancelled,
	},
	ActionPay: {
		role: roleSender,
		from: []string{models.RequestStatusAccepted},
		to:   models.RequestStatusPaid,
	},
	ActionMarkCollected: {
		role: roleTraveler,
		from: []string{models.RequestStatusPaid},
		to:   models.RequestStatusCollected,
	},
	ActionMarkInTransit: {
		role: roleTraveler,
		from: []string{models.RequestStatusCollected},
		to:   models.RequestStatusInTransit,
	},
	ActionMarkDelivered: {
		role: roleTraveler,
		from: []string{models.RequestStatusPaid, models.RequestStatusCollected, models.RequestStatusInTransit},
		to:   models.RequestStatusDelivered,
	},
}

// disputableStatuses — откуда можно открыть спор: деньги уже в эскроу,
// доставка ещё не подтверждена.
var disputableStatuses = map[string]bool{
	models.RequestStatusPaid:      true,
	models.RequestStatusCollected: true,
	models.RequestStatusInTransit: true,
	models.RequestStatusDelivered: true,
}

func isTerminal(status string) bool {
	return status == models.RequestStatusConfirmed || status == models.RequestStatusCancelled
}

func statusAllowed(e edge, status string) bool {
	for _, s := range e.from {
		if s == status {
			return true
		}
	}
	return false
}

// classifyBlocked переводит "статус не подходит" в точную ошибку таксономии.
func classifyBlocked(status string) error {
	switch {
	case isTerminal(status):
		return ErrTerminalState
	case status == models.RequestStatusDisputed:
		return ErrDisputePending
	default:
		return ErrInvalidTransition
	}
}
