package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/KiloMates/ShipBox/internal/broker/messages"
	"github.com/KiloMates/ShipBox/internal/models"
)

// Sender — канал доставки уведомлений (push, email, чат). Реализация
// по умолчанию просто логирует.
type Sender interface {
	Send(ctx context.Context, recipientID uuid.UUID, text string) error
}

type LogSender struct{}

func (LogSender) Send(ctx context.Context, recipientID uuid.UUID, text string) error {
	slog.Info("notify", "recipient_id", recipientID, "text", text)
	return nil
}

type Repository interface {
	GetRequestByID(ctx context.Context, id uuid.UUID) (*models.ShipmentRequest, error)
}

// Notifier превращает события переходов заявки в уведомления контрагенту.
// Действовавшая сторона о своём же действии не уведомляется.
type Notifier struct {
	repo   Repository
	sender Sender

	processed atomic.Int64
	skipped   atomic.Int64
}

func New(repo Repository, sender Sender) *Notifier {
	if sender == nil {
		sender = LogSender{}
	}
	return &Notifier{repo: repo, sender: sender}
}

func (n *Notifier) Processed() int64 { return n.processed.Load() }
func (n *Notifier) Skipped() int64   { return n.skipped.Load() }

// Handle — обработчик для kafka.Consumer.Consume. Ошибки разбора
// проглатываются (и коммитятся): ядовитое сообщение нельзя ретраить вечно.
func (n *Notifier) Handle(ctx context.Context) func(key, value []byte) error {
	return func(key, value []byte) error {
		var msg messages.RequestTransitioned
		if err := json.Unmarshal(value, &msg); err != nil {
			slog.Warn("skip malformed transition event", "error", err.Error())
			n.skipped.Add(1)
			return nil
		}
		return n.notify(ctx, msg)
	}
}

func (n *Notifier) notify(ctx context.Context, msg messages.RequestTransitioned) error {
	req, err := n.repo.GetRequestByID(ctx, msg.RequestID)
	if err != nil {
		return errors.Wrap(err, "load request")
	}
	if req == nil {
		n.skipped.Add(1)
		return nil
	}

	recipients := recipientsFor(req, msg)
	for _, rcpt := range recipients {
		if err := n.sender.Send(ctx, rcpt, notificationText(msg)); err != nil {
			return errors.Wrapf(err, "send to %s", rcpt)
		}
	}
	n.processed.Add(1)
	return nil
}

// recipientsFor: уведомляем вторую сторону сделки. Системные переходы
// (sweep_expire, resolve_dispute) касаются обеих сторон.
func recipientsFor(req *models.ShipmentRequest, msg messages.RequestTransitioned) []uuid.UUID {
	switch msg.ActorID {
	case req.SenderID:
		return []uuid.UUID{req.TravelerID}
	case req.TravelerID:
		return []uuid.UUID{req.SenderID}
	default:
		return []uuid.UUID{req.SenderID, req.TravelerID}
	}
}

func notificationText(msg messages.RequestTransitioned) string {
	switch msg.Action {
	case "accept":
		return "Ваша заявка принята, можно оплачивать"
	case "pay":
		return "Заявка оплачена, можно забирать посылку"
	case "mark_delivered":
		return "Посылка доставлена, подтвердите получение кодом"
	case "confirm":
		return "Доставка подтверждена, выплата отправлена"
	case "open_dispute":
		return "По заявке открыт спор"
	case "resolve_dispute":
		return "Спор по заявке разрешён: " + msg.To
	case "sweep_expire":
		return "Заявка отменена: путешественник не ответил вовремя"
	default:
		return "Заявка перешла в статус " + msg.To
	}
}
