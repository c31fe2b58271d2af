// Package router interprets client frames, applies state changes to the
// participant registry and decides who receives the resulting envelopes.
package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/radar/internal/domain"
	"github.com/pscheid92/radar/internal/metrics"
	"github.com/pscheid92/radar/internal/registry"
	"github.com/samber/lo"
)

const (
	outcomeDelivered = "delivered"
	outcomeRejected  = "rejected"
	outcomeUnknown   = "unknown"
	outcomeMalformed = "malformed"
	outcomeStale     = "stale"
)

// Participants is the registry surface the router relies on.
type Participants interface {
	Admit(conn domain.ConnID, greet registry.Greeter) domain.Participant
	Update(conn domain.ConnID, mutate registry.Mutator) (domain.Participant, bool)
	Remove(conn domain.ConnID) (domain.Participant, bool)
	Entries() []registry.Entry
	Connections() []domain.ConnID
}

// Router holds no state of its own between events. Every recipient set is
// computed from a fresh registry snapshot.
type Router struct {
	participants Participants
	transport    domain.Transport
	clock        clockwork.Clock
}

func New(participants Participants, transport domain.Transport, clock clockwork.Clock) *Router {
	return &Router{
		participants: participants,
		transport:    transport,
		clock:        clock,
	}
}

// HandleConnect registers a participant for conn, sends it the welcome
// snapshot and then announces it to everyone, itself included.
//
// The welcome is queued while the registry still holds its lock, so no
// broadcast computed from a later snapshot can reach conn before it.
// The transport must not call back into the registry.
func (r *Router) HandleConnect(ctx context.Context, conn domain.ConnID) domain.Participant {
	p := r.participants.Admit(conn, func(self domain.Participant, all []domain.Participant) {
		r.deliver(ctx, domain.MsgWelcome, domain.WelcomePayload{
			SelfID: self.ID,
			Users:  all,
		}, []domain.ConnID{conn})
	})

	r.deliver(ctx, domain.MsgUserJoined, domain.UserPayload{User: p}, r.participants.Connections())

	slog.DebugContext(ctx, "Participant joined", "participant_id", p.ID)
	return p
}

// HandleDisconnect removes conn and announces the departure to the remaining
// connections. Repeated calls for the same connection announce nothing.
func (r *Router) HandleDisconnect(ctx context.Context, conn domain.ConnID) {
	p, ok := r.participants.Remove(conn)
	if !ok {
		return
	}

	r.deliver(ctx, domain.MsgUserLeft, domain.UserLeftPayload{ID: p.ID}, r.participants.Connections())
	slog.DebugContext(ctx, "Participant left", "participant_id", p.ID)
}

// HandleMessage processes one inbound frame from conn. Nothing is ever
// reported back to the sender on bad input.
func (r *Router) HandleMessage(ctx context.Context, conn domain.ConnID, frame []byte) {
	msg, err := Decode(frame)
	if err != nil {
		metrics.RouterMessagesTotal.WithLabelValues("", outcomeMalformed).Inc()
		slog.DebugContext(ctx, "Dropping malformed frame", "error", err)
		return
	}

	typ := string(msg.Type())

	switch m := msg.(type) {
	case UpdateProfile:
		p, ok := r.participants.Update(conn, applyProfile(m))
		if !ok {
			r.stale(ctx, typ)
			return
		}
		r.deliver(ctx, domain.MsgUserUpdated, domain.UserPayload{User: p}, r.participants.Connections())

	case UpdateLocation:
		p, ok := r.participants.Update(conn, func(p *domain.Participant) {
			coords := m.Coords
			p.Coords = &coords
		})
		if !ok {
			r.stale(ctx, typ)
			return
		}
		r.deliver(ctx, domain.MsgUserUpdated, domain.UserPayload{User: p}, r.participants.Connections())

	case ChatPrivate:
		sender, ok := r.participants.Update(conn, nil)
		if !ok {
			r.stale(ctx, typ)
			return
		}
		// a non-string target matches nobody but the sender
		target, named := stringValue(m.To)
		recipients := lo.FilterMap(r.participants.Entries(), func(e registry.Entry, _ int) (domain.ConnID, bool) {
			return e.Conn, e.Conn == conn || (named && e.Participant.ID == target)
		})
		r.deliver(ctx, domain.MsgChatPrivate, domain.ChatPrivatePayload{
			From: sender.ID,
			To:   m.To,
			Text: domain.Truncate(m.Text, domain.MaxTextLength),
			TS:   r.clock.Now().UnixMilli(),
		}, recipients)

	case ChatGroup:
		sender, ok := r.participants.Update(conn, nil)
		if !ok {
			r.stale(ctx, typ)
			return
		}
		r.deliver(ctx, domain.MsgChatGroup, domain.ChatGroupPayload{
			From: sender.ID,
			Text: domain.Truncate(m.Text, domain.MaxTextLength),
			TS:   r.clock.Now().UnixMilli(),
		}, r.participants.Connections())

	case Ping:
		sender, ok := r.participants.Update(conn, nil)
		if !ok {
			r.stale(ctx, typ)
			return
		}
		// NOTE: a ping names a target but reaches every connection. Clients
		// rely on this today; restricting it to sender and target would be a
		// protocol change, although it is probably the intent.
		r.deliver(ctx, domain.MsgPing, domain.PingPayload{
			From: sender.ID,
			To:   m.To,
			TS:   r.clock.Now().UnixMilli(),
		}, r.participants.Connections())

	case Rejected:
		if _, ok := r.participants.Update(conn, nil); !ok {
			r.stale(ctx, typ)
			return
		}
		metrics.RouterMessagesTotal.WithLabelValues(typ, outcomeRejected).Inc()
		slog.DebugContext(ctx, "Rejected payload", "type", typ, "error", m.Err)
		return

	case Unknown:
		// client-chosen type names stay out of metric labels
		if _, ok := r.participants.Update(conn, nil); !ok {
			r.stale(ctx, "")
			return
		}
		metrics.RouterMessagesTotal.WithLabelValues("", outcomeUnknown).Inc()
		slog.DebugContext(ctx, "Ignoring unknown message type", "type", typ)
		return
	}

	metrics.RouterMessagesTotal.WithLabelValues(typ, outcomeDelivered).Inc()
}

func applyProfile(u UpdateProfile) registry.Mutator {
	return func(p *domain.Participant) {
		if u.Name != nil {
			p.Name = domain.Truncate(*u.Name, domain.MaxNameLength)
		}
		if u.Bio != nil {
			p.Bio = domain.Truncate(*u.Bio, domain.MaxBioLength)
		}
		if u.Color != nil {
			p.Color = *u.Color
		}
	}
}

// stale records a frame from a connection that is already gone.
func (r *Router) stale(ctx context.Context, typ string) {
	metrics.RouterMessagesTotal.WithLabelValues(typ, outcomeStale).Inc()
	slog.DebugContext(ctx, "Dropping frame from unregistered connection", "type", typ)
}

// deliver serialises the envelope once and hands it to the transport for
// every recipient. A failed send to one connection never affects the others.
func (r *Router) deliver(ctx context.Context, typ domain.MessageType, payload any, recipients []domain.ConnID) {
	data, err := json.Marshal(domain.Envelope{Type: typ, Payload: payload})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal envelope", "type", typ, "error", err)
		return
	}

	for _, conn := range recipients {
		r.transport.Send(conn, data)
	}

	metrics.RouterEnvelopesSent.WithLabelValues(string(typ)).Add(float64(len(recipients)))
	metrics.RouterFanoutSize.Observe(float64(len(recipients)))
}
