package reconcile

import (
	"log"

	"chat-sync/internal/models"
)

// Source is the event-subscription surface of the connection manager. A small
// interface here keeps the reconciler injectable and testable without a live
// transport.
type Source interface {
	Subscribe(kind models.EventKind, handler func(models.Event)) func()
}

// Attach subscribes the reconciler to the event kinds it consumes. Events for
// conversations other than the active one are left to the room list. The
// returned disposer removes exactly these subscriptions.
func (r *Reconciler) Attach(src Source) func() {
	offCreated := src.Subscribe(models.EventMessageCreated, func(ev models.Event) {
		if ev.ConversationID != r.ConversationID() {
			return
		}
		msg, err := ev.DecodeMessage()
		if err != nil {
			log.Printf("undecodable message event for conversation %s: %v", ev.ConversationID, err)
			return
		}
		r.OnConfirmed(msg)
	})
	offError := src.Subscribe(models.EventMessageError, func(ev models.Event) {
		if ev.ConversationID != r.ConversationID() {
			return
		}
		p, err := ev.DecodeMessageError()
		if err != nil {
			log.Printf("undecodable message error event for conversation %s: %v", ev.ConversationID, err)
			return
		}
		r.OnSendFailed(p.ClientTempID, p.Reason)
	})

	return func() {
		offCreated()
		offError()
	}
}
