package core

import (
	"time"

	"pombo/internal/model"
)

// EchoReconciler matches provider echoes — asynchronous confirmations of
// messages this client sent — against locally pending optimistic messages,
// so a send is never rendered twice.
type EchoReconciler struct {
	store  *MessageStore
	window time.Duration
}

// NewEchoReconciler creates a reconciler with the given soft-match window.
func NewEchoReconciler(store *MessageStore, window time.Duration) *EchoReconciler {
	return &EchoReconciler{store: store, window: window}
}

// ReconcileResult describes what an echo resolved to.
type ReconcileResult struct {
	Msg        *model.Message
	ReplacedID string // temporary id consumed by a promotion, "" if none
	Created    bool   // echo appended as a genuinely new message
}

// Reconcile applies an echo. Matching order:
//  1. exact match on id or provider id → patch that message in place;
//  2. soft match: same conversation and direction, equal content, within
//     the window, restricted to messages not yet holding a provider id —
//     covers the provider assigning an id different from our temporary one;
//  3. no match → the echo is an outbound message authored elsewhere (a
//     second agent on the same account) and is appended.
//
// Provider round-trip ids are not available at send time, so content plus
// time proximity is the only correlation signal; the window bounds false
// merges while covering realistic latency.
func (r *EchoReconciler) Reconcile(echo *model.Message) ReconcileResult {
	if echo == nil || echo.ConversationID == "" {
		return ReconcileResult{}
	}

	if echo.ID != "" {
		if m := r.store.Get(echo.ID); m != nil {
			r.patch(m, echo)
			return ReconcileResult{Msg: m}
		}
	}
	if echo.ProviderMessageID != "" {
		if m := r.store.GetByProviderID(echo.ProviderMessageID); m != nil {
			r.patch(m, echo)
			return ReconcileResult{Msg: m}
		}
	}

	windowMS := r.window.Milliseconds()
	for _, m := range r.store.ListOrdered(echo.ConversationID) {
		if m.Direction != echo.Direction || m.ProviderMessageID != "" {
			continue
		}
		if m.Status != model.StatusSending && m.Status != model.StatusSent {
			continue
		}
		if m.Content != echo.Content {
			continue
		}
		delta := m.Timestamp - echo.Timestamp
		if delta < 0 {
			delta = -delta
		}
		if delta >= windowMS {
			continue
		}

		old := m.ID
		promoted, _ := r.store.Promote(m.ID, echo.ID, echo.ProviderMessageID)
		if promoted == nil {
			break
		}
		r.advance(promoted, echo.Status)
		replaced := ""
		if promoted.ID != old {
			replaced = old
		}
		return ReconcileResult{Msg: promoted, ReplacedID: replaced}
	}

	created := r.store.Append(echo)
	return ReconcileResult{Msg: echo, Created: created}
}

// patch confirms an already-known message: claims the provider id if it was
// still missing and advances the status. Local content and timestamp win;
// the echo only carries confirmation.
func (r *EchoReconciler) patch(m *model.Message, echo *model.Message) {
	if echo.ProviderMessageID != "" && m.ProviderMessageID == "" {
		m, _ = r.store.Promote(m.ID, m.ID, echo.ProviderMessageID)
		if m == nil {
			return
		}
	}
	r.advance(m, echo.Status)
}

func (r *EchoReconciler) advance(m *model.Message, status model.MessageStatus) {
	if status == "" || !model.CanAdvance(m.Status, status) {
		return
	}
	r.store.Update(m.ID, func(m *model.Message) {
		m.Status = status
	})
}
