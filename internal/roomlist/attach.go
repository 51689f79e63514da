package roomlist

import (
	"log"

	"chat-sync/internal/models"
)

// Source is the event-subscription surface of the connection manager.
type Source interface {
	Subscribe(kind models.EventKind, handler func(models.Event)) func()
}

// Attach subscribes the synchronizer to every event kind it consumes. The
// returned disposer removes exactly these subscriptions.
func (s *Synchronizer) Attach(src Source) func() {
	offs := []func(){
		src.Subscribe(models.EventMessageCreated, s.ApplyMessageEvent),
		src.Subscribe(models.EventPresenceTyping, s.ApplyTyping),
		src.Subscribe(models.EventPresenceOnline, s.ApplyPresence),
		src.Subscribe(models.EventPresenceOffline, s.ApplyPresence),
		src.Subscribe(models.EventConversationCreated, func(ev models.Event) {
			conv, err := ev.DecodeConversation()
			if err != nil {
				log.Printf("undecodable conversation created event: %v", err)
				return
			}
			s.ApplyConversationCreated(conv)
		}),
		src.Subscribe(models.EventConversationUpdated, func(ev models.Event) {
			conv, err := ev.DecodeConversation()
			if err != nil {
				log.Printf("undecodable conversation updated event: %v", err)
				return
			}
			s.ApplyConversationUpdated(conv)
		}),
	}

	return func() {
		for _, off := range offs {
			off()
		}
	}
}
