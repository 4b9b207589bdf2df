package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/localcity-market/messaging/internal/database/databasetest"
	"github.com/localcity-market/messaging/internal/middleware"
	"github.com/localcity-market/messaging/internal/model"
	"github.com/localcity-market/messaging/internal/realtime"
	"github.com/localcity-market/messaging/internal/service"
	"github.com/localcity-market/messaging/internal/store"
	"github.com/localcity-market/messaging/pkg/logger"
)

const testSecret = "handler-test-secret"

type testServer struct {
	*httptest.Server
	hub *realtime.Hub
}

func newTestServer(t *testing.T, users ...string) *testServer {
	t.Helper()

	db := databasetest.Open(t)
	for _, id := range users {
		if err := db.Create(&model.User{ID: id, Name: strings.ToUpper(id[:1]) + id[1:], Role: model.RoleCityShop}).Error; err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	log := logger.NewNop()
	convs := store.NewConversationStore(db)
	msgs := store.NewMessageStore(db)
	dir := store.NewUserDirectory(db)
	hub := realtime.NewHub(16, log)

	resolver := service.NewResolver(convs, msgs, dir, hub, log)
	svc := service.NewMessagingService(resolver, convs, msgs, dir, hub, log)

	router := NewRouter(RouterConfig{
		JWTSecret:         testSecret,
		RateLimitRequests: 10000,
		RateLimitWindow:   time.Minute,
	}, Handlers{
		Health:        NewHealthHandler(map[string]Pinger{"database": convs}),
		Conversations: NewConversationHandler(svc, log),
		Messages:      NewMessageHandler(svc, log),
		Stream:        NewStreamHandler(hub, time.Hour, log),
		WS:            NewWSHandler(hub, testSecret, nil, time.Hour, log),
	}, log)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, hub: hub}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

type envelope struct {
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data"`
	Message      string          `json:"message"`
	Conversation json.RawMessage `json:"conversation"`
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func TestFirstMessageCreatesConversation(t *testing.T) {
	srv := newTestServer(t, "alice", "bob")

	status, env := srv.do(t, http.MethodPost, "/api/v1/message", "alice", map[string]string{
		"content":     "hello",
		"receiver_id": "bob",
	})
	if status != http.StatusCreated || !env.Success {
		t.Fatalf("send: %d %s", status, env.Message)
	}
	msg := decode[model.Message](t, env.Data)
	if msg.Content != "hello" || msg.SenderID != "alice" || msg.Sender == nil || msg.Sender.Name != "Alice" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	status, env = srv.do(t, http.MethodGet, "/api/v1/conversation/"+msg.ConversationID, "alice", nil)
	if status != http.StatusOK {
		t.Fatalf("get conversation: %d %s", status, env.Message)
	}
	conv := decode[model.Conversation](t, env.Data)
	if conv.Type != model.ConversationDirect || len(conv.ParticipantIDs) != 2 ||
		conv.ParticipantIDs[0] != "alice" || conv.ParticipantIDs[1] != "bob" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}

	status, env = srv.do(t, http.MethodGet, "/api/v1/conversations", "alice", nil)
	if status != http.StatusOK {
		t.Fatalf("list conversations: %d", status)
	}
	list := decode[model.ListConversationsResponse](t, env.Data)
	if len(list.Conversations) != 1 || list.Conversations[0].LastMessage == nil ||
		list.Conversations[0].LastMessage.Content != "hello" {
		t.Fatalf("unexpected listing: %+v", list)
	}
}

func TestFetchMarksMessagesRead(t *testing.T) {
	srv := newTestServer(t, "alice", "bob")

	_, env := srv.do(t, http.MethodPost, "/api/v1/message", "alice", map[string]string{"content": "first", "receiver_id": "bob"})
	convID := decode[model.Message](t, env.Data).ConversationID
	srv.do(t, http.MethodPost, "/api/v1/message", "alice", map[string]string{"content": "second", "receiver_id": "bob"})

	status, env := srv.do(t, http.MethodGet, "/api/v1/conversation/"+convID+"/messages", "bob", nil)
	if status != http.StatusOK {
		t.Fatalf("list messages: %d %s", status, env.Message)
	}
	page := decode[model.ListMessagesResponse](t, env.Data)
	if len(page.Messages) != 2 || page.Messages[0].Content != "first" || page.Pagination.Total != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	for _, m := range page.Messages {
		if !m.IsRead {
			t.Fatalf("message %q not read after fetch", m.Content)
		}
	}

	srv.do(t, http.MethodPost, "/api/v1/message", "alice", map[string]string{"content": "third", "conversation_id": convID})

	_, env = srv.do(t, http.MethodGet, "/api/v1/messages/unread-count", "bob", nil)
	if got := decode[model.UnreadCountResponse](t, env.Data); got.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", got.UnreadCount)
	}
}

func TestExplicitDirectConflict(t *testing.T) {
	srv := newTestServer(t, "alice", "bob")

	body := map[string]any{"type": "direct", "participants": []string{"bob"}}
	status, env := srv.do(t, http.MethodPost, "/api/v1/conversation", "alice", body)
	if status != http.StatusCreated {
		t.Fatalf("create: %d %s", status, env.Message)
	}
	created := decode[model.Conversation](t, env.Data)

	status, env = srv.do(t, http.MethodPost, "/api/v1/conversation", "alice", body)
	if status != http.StatusConflict || env.Success {
		t.Fatalf("second create: %d", status)
	}
	existing := decode[model.Conversation](t, env.Conversation)
	if existing.ID != created.ID {
		t.Fatalf("conflict references %s, want %s", existing.ID, created.ID)
	}
}

func TestErrorStatuses(t *testing.T) {
	srv := newTestServer(t, "alice", "bob", "carol")

	_, env := srv.do(t, http.MethodPost, "/api/v1/message", "alice", map[string]string{"content": "hi", "receiver_id": "bob"})
	msg := decode[model.Message](t, env.Data)
	missing := "0190a8f2-7c1e-7b44-9d55-3c1f0a7e9b21"

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		want   int
	}{
		{"unauthenticated", http.MethodGet, "/api/v1/conversations", "", nil, http.StatusUnauthorized},
		{"missing content", http.MethodPost, "/api/v1/message", "alice", map[string]string{"receiver_id": "bob"}, http.StatusBadRequest},
		{"no target", http.MethodPost, "/api/v1/message", "alice", map[string]string{"content": "hi"}, http.StatusBadRequest},
		{"outsider mark read", http.MethodPatch, "/api/v1/conversation/" + msg.ConversationID + "/mark-read", "carol", nil, http.StatusForbidden},
		{"outsider list", http.MethodGet, "/api/v1/conversation/" + msg.ConversationID + "/messages", "carol", nil, http.StatusForbidden},
		{"unknown conversation", http.MethodGet, "/api/v1/conversation/" + missing + "/messages", "alice", nil, http.StatusNotFound},
		{"malformed id", http.MethodGet, "/api/v1/conversation/nope", "alice", nil, http.StatusBadRequest},
		{"edit as receiver", http.MethodPatch, "/api/v1/message/" + msg.ID, "bob", map[string]string{"content": "x"}, http.StatusForbidden},
		{"delete unknown", http.MethodDelete, "/api/v1/message/" + missing, "alice", nil, http.StatusNotFound},
		{"search without query", http.MethodGet, "/api/v1/messages/search", "alice", nil, http.StatusBadRequest},
		{"search foreign conversation", http.MethodGet, "/api/v1/messages/search?query=hi&conversation_id=" + msg.ConversationID, "carol", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := srv.do(t, tt.method, tt.path, tt.user, tt.body)
			if status != tt.want {
				t.Fatalf("status = %d, want %d (%s)", status, tt.want, env.Message)
			}
			if env.Success || env.Message == "" {
				t.Fatalf("expected failure envelope, got %+v", env)
			}
		})
	}
}

func TestEditDeleteAndMarkRead(t *testing.T) {
	srv := newTestServer(t, "alice", "bob")

	_, env := srv.do(t, http.MethodPost, "/api/v1/message", "alice", map[string]string{"content": "helo", "receiver_id": "bob"})
	msg := decode[model.Message](t, env.Data)

	status, env := srv.do(t, http.MethodPatch, "/api/v1/message/"+msg.ID, "alice", map[string]string{"content": "hello"})
	if status != http.StatusOK {
		t.Fatalf("update: %d %s", status, env.Message)
	}
	if got := decode[model.Message](t, env.Data); got.Content != "hello" || !got.CreatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("unexpected update: %+v", got)
	}

	status, env = srv.do(t, http.MethodPatch, "/api/v1/conversation/"+msg.ConversationID+"/mark-read", "bob", nil)
	if status != http.StatusOK {
		t.Fatalf("mark read: %d", status)
	}
	if got := decode[model.MarkReadResponse](t, env.Data); got.ModifiedCount != 1 {
		t.Fatalf("modified = %d, want 1", got.ModifiedCount)
	}
	_, env = srv.do(t, http.MethodPatch, "/api/v1/conversation/"+msg.ConversationID+"/mark-read", "bob", nil)
	if got := decode[model.MarkReadResponse](t, env.Data); got.ModifiedCount != 0 {
		t.Fatalf("second modified = %d, want 0", got.ModifiedCount)
	}

	status, env = srv.do(t, http.MethodGet, "/api/v1/messages/search?query=HELL", "bob", nil)
	if status != http.StatusOK {
		t.Fatalf("search: %d", status)
	}
	if got := decode[model.ListMessagesResponse](t, env.Data); len(got.Messages) != 1 || got.Messages[0].Conversation == nil {
		t.Fatalf("unexpected search result: %+v", got)
	}

	status, _ = srv.do(t, http.MethodDelete, "/api/v1/message/"+msg.ID, "alice", nil)
	if status != http.StatusOK {
		t.Fatalf("delete: %d", status)
	}
	status, _ = srv.do(t, http.MethodDelete, "/api/v1/message/"+msg.ID, "alice", nil)
	if status != http.StatusNotFound {
		t.Fatalf("second delete: %d, want 404", status)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/health", "/ready"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s = %d", path, resp.StatusCode)
		}
	}
}

func TestWebSocketJoinAndDelivery(t *testing.T) {
	srv := newTestServer(t, "alice", "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	read := func() realtime.Envelope {
		t.Helper()
		var ev realtime.Envelope
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		return ev
	}
	write := func(v any) {
		t.Helper()
		if err := wsjson.Write(ctx, conn, v); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	write(map[string]any{"event": "join", "data": map[string]string{"token": "garbage"}})
	if ev := read(); ev.Event != realtime.EventError {
		t.Fatalf("bad token answered with %q", ev.Event)
	}
	if n := srv.hub.RoomSize("bob"); n != 0 {
		t.Fatalf("room size after bad join = %d", n)
	}

	write(map[string]any{"event": "ping"})
	if ev := read(); ev.Event != realtime.EventPong {
		t.Fatalf("ping answered with %q", ev.Event)
	}

	write(map[string]any{"event": "join", "data": map[string]string{"token": token(t, "bob")}})
	if ev := read(); ev.Event != realtime.EventJoined {
		t.Fatalf("join answered with %q", ev.Event)
	}

	srv.do(t, http.MethodPost, "/api/v1/message", "alice", map[string]string{"content": "stock update", "receiver_id": "bob"})

	// A first message also announces the new conversation.
	var got *model.Message
	for got == nil {
		ev := read()
		if ev.Event == model.EventNewMessage {
			m := decode[model.Message](t, ev.Data)
			got = &m
		}
	}
	if got.Content != "stock update" || got.SenderID != "alice" {
		t.Fatalf("unexpected delivery: %+v", got)
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

func TestServerSentEvents(t *testing.T) {
	srv := newTestServer(t, "alice", "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token(t, "bob"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		t.Helper()
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), "event: ") {
				return strings.TrimPrefix(lines.Text(), "event: ")
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return ""
	}

	if ev := next(); ev != realtime.EventJoined {
		t.Fatalf("first event = %q", ev)
	}

	srv.do(t, http.MethodPost, "/api/v1/message", "alice", map[string]string{"content": "hello", "receiver_id": "bob"})

	for {
		if next() == model.EventNewMessage {
			break
		}
	}
}
