package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/localcity-market/messaging/internal/database/databasetest"
	"github.com/localcity-market/messaging/internal/model"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newDirect(id, a, b string, at time.Time) *model.Conversation {
	key := model.DirectKey(a, b)
	return &model.Conversation{
		ID:             id,
		Type:           model.ConversationDirect,
		DirectKey:      &key,
		Active:         true,
		LastMessageAt:  at,
		CreatedAt:      at,
		UpdatedAt:      at,
		ParticipantIDs: []string{a, b},
	}
}

func newMessage(id, convID, sender string, receiver *string, content string, at time.Time) *model.Message {
	return &model.Message{
		ID:             id,
		ConversationID: convID,
		Content:        content,
		Type:           model.MessageText,
		SenderID:       sender,
		ReceiverID:     receiver,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func strPtr(s string) *string { return &s }

func TestConversationCreateAndGet(t *testing.T) {
	ctx := context.Background()
	convs := NewConversationStore(databasetest.Open(t))

	if err := convs.Create(ctx, newDirect("c1", "bob", "alice", base)); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := convs.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.ParticipantIDs) != 2 || got.ParticipantIDs[0] != "bob" || got.ParticipantIDs[1] != "alice" {
		t.Fatalf("participants out of order: %v", got.ParticipantIDs)
	}
	if !got.Active {
		t.Fatal("expected active conversation")
	}

	if _, err := convs.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDirectKeyIsUnique(t *testing.T) {
	ctx := context.Background()
	convs := NewConversationStore(databasetest.Open(t))

	if err := convs.Create(ctx, newDirect("c1", "a", "b", base)); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := convs.Create(ctx, newDirect("c2", "b", "a", base))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	found, err := convs.FindActiveDirect(ctx, model.DirectKey("b", "a"))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ID != "c1" {
		t.Fatalf("expected c1, got %s", found.ID)
	}

	// The rejected insert must not leave participant rows behind.
	if _, err := convs.Get(ctx, "c2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected c2 to be absent, got %v", err)
	}
}

func TestDeactivateReleasesDirectKey(t *testing.T) {
	ctx := context.Background()
	convs := NewConversationStore(databasetest.Open(t))

	if err := convs.Create(ctx, newDirect("c1", "a", "b", base)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := convs.Deactivate(ctx, "c1", base.Add(time.Minute)); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := convs.FindActiveDirect(ctx, model.DirectKey("a", "b")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no active direct conversation, got %v", err)
	}
	if err := convs.Create(ctx, newDirect("c2", "a", "b", base.Add(2*time.Minute))); err != nil {
		t.Fatalf("recreate after deactivate: %v", err)
	}
}

func TestDeactivateIfEmptyKeepsUsedConversations(t *testing.T) {
	ctx := context.Background()
	db := databasetest.Open(t)
	convs := NewConversationStore(db)
	msgs := NewMessageStore(db)

	if err := convs.Create(ctx, newDirect("empty", "a", "b", base)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := convs.Create(ctx, newDirect("used", "a", "c", base)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := msgs.Create(ctx, newMessage("m1", "used", "c", strPtr("a"), "hi", base)); err != nil {
		t.Fatalf("create message: %v", err)
	}

	done, err := convs.DeactivateIfEmpty(ctx, "used", base.Add(time.Minute))
	if err != nil || done {
		t.Fatalf("expected used conversation to stay active, got done=%v err=%v", done, err)
	}
	if _, err := convs.FindActiveDirect(ctx, model.DirectKey("a", "c")); err != nil {
		t.Fatalf("expected used conversation still active: %v", err)
	}

	done, err = convs.DeactivateIfEmpty(ctx, "empty", base.Add(time.Minute))
	if err != nil || !done {
		t.Fatalf("expected empty conversation deactivated, got done=%v err=%v", done, err)
	}
	if _, err := convs.FindActiveDirect(ctx, model.DirectKey("a", "b")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no active a/b conversation, got %v", err)
	}
}

func TestListForUserOrdersByLastMessage(t *testing.T) {
	ctx := context.Background()
	convs := NewConversationStore(databasetest.Open(t))

	for i, other := range []string{"b", "c", "d"} {
		if err := convs.Create(ctx, newDirect(fmt.Sprintf("c%d", i), "a", other, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := convs.Create(ctx, newDirect("other", "x", "y", base)); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Oldest conversation gets the newest message.
	if err := convs.SetLastMessage(ctx, "c0", "m1", base.Add(time.Hour)); err != nil {
		t.Fatalf("set last message: %v", err)
	}
	if err := convs.Deactivate(ctx, "c1", base.Add(time.Hour)); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	page, total, err := convs.ListForUser(ctx, "a", 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 active conversations, got %d", total)
	}
	if page[0].ID != "c0" || page[1].ID != "c2" {
		t.Fatalf("unexpected order: %s, %s", page[0].ID, page[1].ID)
	}
	if page[0].LastMessageID == nil || *page[0].LastMessageID != "m1" {
		t.Fatal("expected last message pointer on c0")
	}

	ids, err := convs.IDsForUser(ctx, "a")
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 participant conversations, got %d", len(ids))
	}
}

func TestMessagePagingAndReadState(t *testing.T) {
	ctx := context.Background()
	db := databasetest.Open(t)
	convs := NewConversationStore(db)
	msgs := NewMessageStore(db)

	if err := convs.Create(ctx, newDirect("c1", "a", "b", base)); err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 5; i++ {
		sender, receiver := "a", "b"
		if i%2 == 1 {
			sender, receiver = "b", "a"
		}
		m := newMessage(fmt.Sprintf("m%d", i), "c1", sender, strPtr(receiver), fmt.Sprintf("hello %d", i), base.Add(time.Duration(i)*time.Second))
		if err := msgs.Create(ctx, m); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}

	page, total, err := msgs.ListByConversation(ctx, "c1", 0, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(page) != 2 || page[0].ID != "m4" || page[1].ID != "m3" {
		t.Fatalf("unexpected first page: total=%d %v", total, page)
	}

	unread, err := msgs.CountUnread(ctx, "b")
	if err != nil {
		t.Fatalf("count unread: %v", err)
	}
	if unread != 3 {
		t.Fatalf("expected 3 unread for b, got %d", unread)
	}

	n, err := msgs.MarkRead(ctx, "c1", "b")
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 marked, got %d", n)
	}
	n, err = msgs.MarkRead(ctx, "c1", "b")
	if err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected idempotent mark read, got %d", n)
	}

	if unread, _ := msgs.CountUnread(ctx, "a"); unread != 2 {
		t.Fatalf("expected a's unread untouched at 2, got %d", unread)
	}
}

func TestMessageUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	msgs := NewMessageStore(databasetest.Open(t))

	if err := msgs.Create(ctx, newMessage("m1", "c1", "a", strPtr("b"), "draft", base)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := msgs.UpdateContent(ctx, "m1", "final", base.Add(time.Minute)); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := msgs.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "final" || !got.CreatedAt.Equal(base) || !got.UpdatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected message after update: %+v", got)
	}

	if err := msgs.Delete(ctx, "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := msgs.Delete(ctx, "m1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := msgs.UpdateContent(ctx, "m1", "x", base); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update of deleted, got %v", err)
	}
}

func TestSearchEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	msgs := NewMessageStore(databasetest.Open(t))

	fixtures := []struct {
		id, conv, content string
	}{
		{"m1", "c1", "50% off today"},
		{"m2", "c1", "500 units"},
		{"m3", "c1", "Order READY"},
		{"m4", "c2", "order shipped"},
	}
	for i, f := range fixtures {
		if err := msgs.Create(ctx, newMessage(f.id, f.conv, "a", nil, f.content, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	hits, total, err := msgs.Search(ctx, []string{"c1"}, "0%", 0, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 || hits[0].ID != "m1" {
		t.Fatalf("expected only m1 for literal percent, got %d %v", total, hits)
	}

	hits, total, err = msgs.Search(ctx, []string{"c1", "c2"}, "order", 0, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 2 || hits[0].ID != "m4" || hits[1].ID != "m3" {
		t.Fatalf("expected m4, m3 newest first, got %d %v", total, hits)
	}

	hits, total, err = msgs.Search(ctx, nil, "order", 0, 10)
	if err != nil || total != 0 || len(hits) != 0 {
		t.Fatalf("expected empty result for empty scope, got %d %v %v", total, hits, err)
	}
}

func TestSearchFoldsUnicodeCase(t *testing.T) {
	ctx := context.Background()
	msgs := NewMessageStore(databasetest.Open(t))

	fixtures := []struct {
		id, content string
	}{
		{"m1", "ÄPFEL sind da"},
		{"m2", "APPLES are here"},
		{"m3", "Große Straße 5"},
	}
	for i, f := range fixtures {
		if err := msgs.Create(ctx, newMessage(f.id, "c1", "a", nil, f.content, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	tests := []struct {
		query string
		want  string
	}{
		{"äpfel", "m1"},
		{"Äpfel", "m1"},
		{"apples", "m2"},
		{"GROSSE STRASSE", "m3"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			hits, total, err := msgs.Search(ctx, []string{"c1"}, tt.query, 0, 10)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if total != 1 || hits[0].ID != tt.want {
				t.Fatalf("expected %s, got %d %v", tt.want, total, hits)
			}
		})
	}

	// Edits refresh the folded copy.
	if err := msgs.UpdateContent(ctx, "m2", "ÖL im Angebot", base.Add(time.Minute)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, total, _ := msgs.Search(ctx, []string{"c1"}, "apples", 0, 10); total != 0 {
		t.Fatalf("expected stale content to stop matching, got %d", total)
	}
	if hits, total, _ := msgs.Search(ctx, []string{"c1"}, "öl", 0, 10); total != 1 || hits[0].ID != "m2" {
		t.Fatalf("expected edited m2 to match, got %d %v", total, hits)
	}
}

func TestUserDirectoryLookup(t *testing.T) {
	ctx := context.Background()
	db := databasetest.Open(t)
	users := NewUserDirectory(db)

	if err := db.Create(&model.User{ID: "u1", Name: "Ada", Role: model.RoleLocalShop, ShopName: "Ada's Corner"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := users.Lookup(ctx, []string{"u1", "ghost"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 1 || got["u1"].ShopName != "Ada's Corner" {
		t.Fatalf("unexpected lookup result: %v", got)
	}
}
