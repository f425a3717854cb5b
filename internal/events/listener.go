package events

import (
	"context"
	"sync"
	"time"

	"beratung.org/internal/messaging"
	"beratung.org/internal/obs"
)

const (
	defaultBuffer  = 64
	defaultBackoff = 5 * time.Second
)

// Syncer is the slice of the messaging client the listener drives.
type Syncer interface {
	Login(ctx context.Context, name, secret string) (string, error)
	Sync(ctx context.Context, userToken, since string) (messaging.SyncResult, error)
}

// Listener long-polls the messaging system as a service account and fans
// incoming room events out to subscribers. Slow subscribers lose events
// rather than stall the poll loop.
type Listener struct {
	msg     Syncer
	account messaging.Credentials
	backoff time.Duration

	mu      sync.Mutex
	subs    map[uint64]chan messaging.Event
	nextSub uint64
	watched map[string]struct{}
}

// NewListener constructs a Listener polling as the given service account.
func NewListener(msg Syncer, account messaging.Credentials) *Listener {
	return &Listener{
		msg:     msg,
		account: account,
		backoff: defaultBackoff,
		subs:    make(map[uint64]chan messaging.Event),
		watched: make(map[string]struct{}),
	}
}

// Watch restricts delivery to the given room. Without any Watch call every
// room the account is in is delivered.
func (l *Listener) Watch(roomID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watched[roomID] = struct{}{}
}

// Subscribe registers a new subscriber. The returned cancel function
// unregisters it and closes the channel.
func (l *Listener) Subscribe() (<-chan messaging.Event, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextSub
	l.nextSub++
	ch := make(chan messaging.Event, defaultBuffer)
	l.subs[id] = ch

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if sub, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Run polls until the context is cancelled. Sync failures back off and retry;
// the batch token survives retries so no window is lost on transient errors.
func (l *Listener) Run(ctx context.Context) {
	var token, since string

	for {
		if token == "" {
			t, err := l.msg.Login(ctx, messaging.LocalPart(l.account.UserID), l.account.Secret)
			if err != nil {
				obs.Warn("event listener login failed", map[string]any{"error": err.Error()})
				if !l.sleep(ctx) {
					return
				}
				continue
			}
			token = t
		}

		res, err := l.msg.Sync(ctx, token, since)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			obs.Warn("event sync failed", map[string]any{"error": err.Error()})
			token = "" // token may have expired, log in again
			if !l.sleep(ctx) {
				return
			}
			continue
		}
		since = res.NextBatch
		for _, ev := range res.Events {
			l.publish(ev)
		}
	}
}

func (l *Listener) publish(ev messaging.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.watched) > 0 {
		if _, ok := l.watched[ev.RoomID]; !ok {
			return
		}
	}
	for _, sub := range l.subs {
		select {
		case sub <- ev:
		default:
			obs.Warn("event subscriber buffer full, dropping event", map[string]any{
				"room_id":  ev.RoomID,
				"event_id": ev.EventID,
			})
		}
	}
}

func (l *Listener) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(l.backoff):
		return true
	}
}
