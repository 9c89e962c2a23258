package messages

import (
	"time"

	"github.com/google/uuid"
)

// RequestTransitioned — доменное событие для внешнего нотификатора.
// Ядро только публикует факты переходов; доставка уведомлений (чат, push,
// email) — забота потребителя топика.
type RequestTransitioned struct {
	RequestID uuid.UUID `json:"request_id"`
	ListingID uuid.UUID `json:"listing_id"`

	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Action string `json:"action"`

	ActorID uuid.UUID `json:"actor_id"`

	OccurredAt time.Time `json:"occurred_at"`
}
