package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"beratung.org/internal/messaging"
)

// fakeSyncer serves scripted sync results, then blocks until cancelled.
type fakeSyncer struct {
	mu        sync.Mutex
	results   []messaging.SyncResult
	sinces    []string
	logins    int
	failLogin error
}

func (f *fakeSyncer) Login(ctx context.Context, name, secret string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if f.failLogin != nil {
		return "", f.failLogin
	}
	return "token-" + name, nil
}

func (f *fakeSyncer) Sync(ctx context.Context, userToken, since string) (messaging.SyncResult, error) {
	f.mu.Lock()
	f.sinces = append(f.sinces, since)
	if len(f.results) == 0 {
		f.mu.Unlock()
		<-ctx.Done()
		return messaging.SyncResult{}, ctx.Err()
	}
	res := f.results[0]
	f.results = f.results[1:]
	f.mu.Unlock()
	return res, nil
}

func event(roomID, eventID string) messaging.Event {
	return messaging.Event{RoomID: roomID, EventID: eventID, Type: "m.room.message", Body: "hello"}
}

func TestListenerDeliversEvents(t *testing.T) {
	syncer := &fakeSyncer{results: []messaging.SyncResult{
		{NextBatch: "b1", Events: []messaging.Event{event("!r1", "e1"), event("!r1", "e2")}},
	}}
	l := NewListener(syncer, messaging.Credentials{UserID: "@listener:beratung", Secret: "s"})
	ch, cancelSub := l.Subscribe()
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	for _, want := range []string{"e1", "e2"} {
		select {
		case ev := <-ch:
			if ev.EventID != want {
				t.Fatalf("got %q, want %q", ev.EventID, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestListenerAdvancesBatchToken(t *testing.T) {
	syncer := &fakeSyncer{results: []messaging.SyncResult{
		{NextBatch: "b1"},
		{NextBatch: "b2", Events: []messaging.Event{event("!r1", "e1")}},
	}}
	l := NewListener(syncer, messaging.Credentials{UserID: "@listener:beratung", Secret: "s"})
	ch, cancelSub := l.Subscribe()
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	syncer.mu.Lock()
	defer syncer.mu.Unlock()
	if len(syncer.sinces) < 2 || syncer.sinces[0] != "" || syncer.sinces[1] != "b1" {
		t.Fatalf("batch token not advanced: %v", syncer.sinces)
	}
}

func TestListenerFiltersWatchedRooms(t *testing.T) {
	syncer := &fakeSyncer{results: []messaging.SyncResult{
		{NextBatch: "b1", Events: []messaging.Event{event("!other", "e1"), event("!watched", "e2")}},
	}}
	l := NewListener(syncer, messaging.Credentials{UserID: "@listener:beratung", Secret: "s"})
	l.Watch("!watched")
	ch, cancelSub := l.Subscribe()
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	select {
	case ev := <-ch:
		if ev.RoomID != "!watched" {
			t.Fatalf("event from unwatched room delivered: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	l := NewListener(&fakeSyncer{}, messaging.Credentials{UserID: "@listener:beratung", Secret: "s"})
	ch, cancelSub := l.Subscribe()
	cancelSub()
	cancelSub() // double cancel is safe

	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after cancel")
	}
	// publishing after cancel must not panic
	l.publish(event("!r1", "e1"))
}

func TestListenerRetriesLogin(t *testing.T) {
	syncer := &fakeSyncer{failLogin: errors.New("locked")}
	l := NewListener(syncer, messaging.Credentials{UserID: "@listener:beratung", Secret: "s"})
	l.backoff = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	syncer.mu.Lock()
	defer syncer.mu.Unlock()
	if syncer.logins < 2 {
		t.Fatalf("expected login retries, got %d attempts", syncer.logins)
	}
}
