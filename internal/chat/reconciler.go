package chat

import (
	"time"

	"chat-client/internal/models"
	"chat-client/internal/store"
)

// ReconcileOutcome labels what Apply did with a message_created event.
type ReconcileOutcome string

const (
	// OutcomeDiscarded: the server id was already present (REST path won).
	OutcomeDiscarded ReconcileOutcome = "discarded"
	// OutcomeReplaced: exactly one optimistic shadow was swapped out.
	OutcomeReplaced ReconcileOutcome = "replaced"
	// OutcomeAppended: no shadow matched, plain append.
	OutcomeAppended ReconcileOutcome = "appended"
)

// shadowMatchWindow bounds how old an optimistic shadow may be to still be
// considered the origin of an inbound echo.
const shadowMatchWindow = 30 * time.Second

// Reconciler merges locally-originated optimistic messages with their
// server-confirmed echoes so a send settles to exactly one visible copy,
// regardless of whether the REST response or the push echo lands first.
type Reconciler struct {
	messages    *store.MessageStore
	localUserID string
	window      time.Duration
	now         func() time.Time
}

// NewReconciler builds a Reconciler over the session's message store.
func NewReconciler(messages *store.MessageStore, localUserID string) *Reconciler {
	return &Reconciler{
		messages:    messages,
		localUserID: localUserID,
		window:      shadowMatchWindow,
		now:         time.Now,
	}
}

// Apply folds one message_created event into the store.
//
// For the local user's own messages: a known server id is discarded (already
// reconciled via the REST path); otherwise the first optimistic shadow with
// the same sender and identical content inside the recency window is removed
// - exactly one, so two rapid identical sends keep two entries - and the
// confirmed message is appended. Foreign messages skip shadow matching.
func (r *Reconciler) Apply(msg models.Message) ReconcileOutcome {
	if r.messages.Contains(msg.ConversationID, msg.ID) {
		return OutcomeDiscarded
	}

	if msg.SenderID != r.localUserID {
		if err := r.messages.Append(msg.ConversationID, msg); err != nil {
			return OutcomeDiscarded
		}
		return OutcomeAppended
	}

	now := r.now()
	removed := r.messages.RemoveFirst(msg.ConversationID, func(m models.Message) bool {
		return models.IsTempID(m.ID) &&
			m.SenderID == msg.SenderID &&
			m.Content == msg.Content &&
			now.Sub(m.CreatedAt) <= r.window
	})

	if err := r.messages.Append(msg.ConversationID, msg); err != nil {
		return OutcomeDiscarded
	}
	if removed {
		return OutcomeReplaced
	}
	return OutcomeAppended
}
