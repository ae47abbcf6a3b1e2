package data

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/messaging"
	"github.com/PaulBabatuyi/nearchat/internal/realtime"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type eventLog struct{ events []realtime.Event }

func (l *eventLog) Publish(e realtime.Event) { l.events = append(l.events, e) }

func TestMessagesInsertThreadAndLatest(t *testing.T) {
	c := setupDB(t)
	ctx := context.Background()

	pub := &eventLog{}
	msgs := NewMessagesStore(c.MessagesCollection(), pub)

	send := func(from, to, content string) messaging.Message {
		t.Helper()
		m, err := msgs.InsertMessage(ctx, messaging.NewMessage{SenderID: from, ReceiverID: to, Content: content})
		if err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}
		// keep created_at strictly increasing at millisecond precision
		time.Sleep(2 * time.Millisecond)
		return m
	}

	send("alice", "bob", "hi bob")
	reply := send("bob", "alice", "hello alice")
	send("carol", "alice", "hey")
	send("dave", "erin", "unrelated")

	if len(pub.events) != 4 || pub.events[0].Type != realtime.Insert {
		t.Fatalf("expected 4 insert events, got %+v", pub.events)
	}

	thread, err := msgs.Thread(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("Thread failed: %v", err)
	}
	if len(thread) != 2 || thread[0].Content != "hi bob" || thread[1].ID != reply.ID {
		t.Fatalf("unexpected thread: %+v", thread)
	}

	latest, err := msgs.LatestMessages(ctx, "alice")
	if err != nil {
		t.Fatalf("LatestMessages failed: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(latest))
	}
	// newest conversation first; bob's entry is his reply, not alice's first message
	if latest[0].SenderID != "carol" || latest[1].ID != reply.ID {
		t.Fatalf("unexpected latest: %+v", latest)
	}

	n, err := msgs.MarkRead(ctx, []string{reply.ID, "not-an-id"})
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row marked, got %d", n)
	}
	// already read rows are not counted again
	if n, _ := msgs.MarkRead(ctx, []string{reply.ID}); n != 0 {
		t.Fatalf("expected 0 rows on second MarkRead, got %d", n)
	}
	last := pub.events[len(pub.events)-1]
	if last.Type != realtime.Update || last.Columns["id"] != reply.ID {
		t.Fatalf("expected update event for %s, got %+v", reply.ID, last)
	}
}

func TestMessagesInsertRejectsSelfMessage(t *testing.T) {
	c := setupDB(t)
	ctx := context.Background()

	pub := &eventLog{}
	msgs := NewMessagesStore(c.MessagesCollection(), pub)

	_, err := msgs.InsertMessage(ctx, messaging.NewMessage{SenderID: "alice", ReceiverID: "alice", Content: "note"})
	if !errors.Is(err, messaging.ErrSelfMessage) {
		t.Fatalf("expected ErrSelfMessage, got %v", err)
	}
	if n, _ := c.MessagesCollection().CountDocuments(ctx, bson.M{}); n != 0 {
		t.Fatalf("expected no stored rows, got %d", n)
	}
	if len(pub.events) != 0 {
		t.Fatalf("expected no events, got %+v", pub.events)
	}
}

func TestProfilesListAndPresence(t *testing.T) {
	c := setupDB(t)
	ctx := context.Background()
	profiles := NewProfilesStore(c.ProfilesCollection(), nil)

	name := func(s string) *string { return &s }
	earlier := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	later := earlier.Add(30 * time.Minute)

	for _, p := range []messaging.Profile{
		{ID: "me", Name: name("Me"), Online: true},
		{ID: "a", Name: name("Away"), LastOnline: &earlier},
		{ID: "b", Name: name("Back"), LastOnline: &later},
		{ID: "c", Name: name("Online"), Online: true, LastOnline: &earlier},
	} {
		if err := profiles.CreateProfile(ctx, p); err != nil {
			t.Fatalf("CreateProfile failed: %v", err)
		}
	}

	list, err := profiles.ListProfiles(ctx, "me")
	if err != nil {
		t.Fatalf("ListProfiles failed: %v", err)
	}
	var ids []string
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	if len(ids) != 3 || ids[0] != "c" || ids[1] != "b" || ids[2] != "a" {
		t.Fatalf("unexpected order: %v", ids)
	}

	if err := profiles.SetOnline(ctx, "a", true, time.Now()); err != nil {
		t.Fatalf("SetOnline failed: %v", err)
	}
	got, err := profiles.ProfilesByIDs(ctx, []string{"a", "missing"})
	if err != nil {
		t.Fatalf("ProfilesByIDs failed: %v", err)
	}
	if len(got) != 1 || !got[0].Online {
		t.Fatalf("expected profile a online, got %+v", got)
	}

	if err := profiles.SetOnline(ctx, "missing", true, time.Now()); err != ErrProfileNotFound {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}
