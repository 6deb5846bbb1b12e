package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"openbap/go-backend/internal/store"
)

// Event names pushed to clients, in protocol order.
const (
	EventConnected = "connected"
	EventInitial   = "initial"
	EventUpdate    = "update"
	EventComplete  = "complete"
	EventError     = "error"
)

// Event is one framed push to a connected client.
type Event struct {
	Name string
	Data []byte
}

// Source abstracts the correlation entry a stream follows: where its
// notifications arrive and how to re-read its aggregate state.
type Source interface {
	// Channel is the store pub/sub channel carrying update notifications.
	Channel() string
	// Snapshot returns the current serialized state. found=false means the
	// entry was never created or has been evicted; complete means the stream
	// should terminate after emitting this state.
	Snapshot(ctx context.Context) (payload []byte, found, complete bool, deadline time.Time, err error)
}

// Broadcaster bridges store pub/sub and the deadline scheduler into a push
// stream per connected client.
type Broadcaster struct {
	store *store.TenantStore
	sched *Scheduler
	log   *slog.Logger
}

func NewBroadcaster(ts *store.TenantStore, sched *Scheduler, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{store: ts, sched: sched, log: log}
}

// Stream opens a live-update stream for src. The returned channel is closed
// when the stream terminates: after a complete or error event, or when ctx is
// cancelled. Cancellation releases the subscription and the watchdog entry
// before the channel closes; nothing is emitted afterwards.
func (b *Broadcaster) Stream(ctx context.Context, src Source) <-chan Event {
	out := make(chan Event)
	go b.serve(ctx, src, out)
	return out
}

func (b *Broadcaster) serve(ctx context.Context, src Source, out chan<- Event) {
	defer close(out)

	if !b.emit(ctx, out, Event{Name: EventConnected, Data: []byte(`{}`)}) {
		return
	}

	payload, found, complete, deadline, err := src.Snapshot(ctx)
	if err != nil || !found {
		reason := "entry not found or expired"
		if err != nil {
			reason = "snapshot read failed"
			b.log.Error("stream snapshot failed", "channel", src.Channel(), "err", err)
		}
		b.emit(ctx, out, errorEvent(reason))
		return
	}
	if !b.emit(ctx, out, Event{Name: EventInitial, Data: payload}) {
		return
	}
	if complete {
		b.emit(ctx, out, Event{Name: EventComplete, Data: payload})
		return
	}

	// Coalesced wake-ups: a burst of notifications triggers one re-read.
	wake := make(chan struct{}, 1)
	poke := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	unsubscribe, err := b.store.Subscribe(ctx, src.Channel(), func([]byte) { poke() })
	if err != nil {
		b.log.Error("stream subscribe failed", "channel", src.Channel(), "err", err)
		b.emit(ctx, out, errorEvent("subscription failed"))
		return
	}
	defer unsubscribe()

	cancelWatchdog := b.sched.Schedule(deadline, poke)
	defer cancelWatchdog()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			payload, found, complete, _, err := src.Snapshot(ctx)
			if err != nil {
				b.log.Error("stream re-read failed", "channel", src.Channel(), "err", err)
				b.emit(ctx, out, errorEvent("snapshot read failed"))
				return
			}
			if !found {
				// Evicted mid-stream; the deadline has certainly passed.
				b.emit(ctx, out, Event{Name: EventComplete, Data: []byte(`{}`)})
				return
			}
			if complete {
				b.emit(ctx, out, Event{Name: EventComplete, Data: payload})
				return
			}
			if !b.emit(ctx, out, Event{Name: EventUpdate, Data: payload}) {
				return
			}
		}
	}
}

// emit delivers one event unless the client is gone; it reports whether the
// stream may continue.
func (b *Broadcaster) emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func errorEvent(reason string) Event {
	data, _ := json.Marshal(map[string]string{"message": reason})
	return Event{Name: EventError, Data: data}
}
