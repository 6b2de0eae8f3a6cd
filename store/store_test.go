package store_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"rentgidi-chat/config"
	"rentgidi-chat/models"
	"rentgidi-chat/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	cfg := &config.Config{
		DBDriver: "sqlite",
		DBDSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	}
	db, err := config.OpenDB(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store.New(db)
}

func addMessage(t *testing.T, s *store.Store, conv *models.Conversation, from, to, content string, at time.Time) *models.Message {
	t.Helper()
	msg := &models.Message{
		MessageID:      uuid.NewString(),
		ConversationID: conv.ConversationID,
		SenderID:       from,
		ReceiverID:     to,
		TopicID:        conv.TopicID,
		Content:        content,
		MessageType:    models.MessageTypeText,
		CreatedAt:      at,
	}
	ctx := context.Background()
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if err := s.TouchLastMessage(ctx, conv.ConversationID, msg.MessageID, at); err != nil {
		t.Fatalf("TouchLastMessage failed: %v", err)
	}
	return msg
}

func TestFindOrCreateConversationIgnoresParticipantOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.FindOrCreateConversation(ctx, "t1", "l1", "prop42")
	if err != nil {
		t.Fatalf("FindOrCreateConversation failed: %v", err)
	}
	if !created {
		t.Fatalf("expected first call to create the conversation")
	}
	second, created, err := s.FindOrCreateConversation(ctx, "l1", "t1", "prop42")
	if err != nil {
		t.Fatalf("FindOrCreateConversation reversed failed: %v", err)
	}
	if created {
		t.Fatalf("expected reversed pair to reuse the conversation")
	}
	if first.ConversationID != second.ConversationID {
		t.Fatalf("expected same conversation, got %s and %s", first.ConversationID, second.ConversationID)
	}
	if first.ParticipantA != "l1" || first.ParticipantB != "t1" {
		t.Fatalf("expected ordered participants, got %v", first.Participants())
	}

	other, _, err := s.FindOrCreateConversation(ctx, "t1", "l1", "prop43")
	if err != nil {
		t.Fatalf("FindOrCreateConversation other topic failed: %v", err)
	}
	if other.ConversationID == first.ConversationID {
		t.Fatalf("expected a separate conversation per topic")
	}
}

func TestFindOrCreateConversationConcurrentCreatesOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "t1", "l1"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, _, err := s.FindOrCreateConversation(ctx, a, b, "prop42")
			errs[i] = err
			if conv != nil {
				ids[i] = conv.ConversationID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d failed: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Fatalf("worker %d got conversation %s, want %s", i, ids[i], ids[0])
		}
	}

	var count int64
	if err := s.DB().Model(&models.Conversation{}).Where("topic_id = ?", "prop42").Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 conversation, got %d", count)
	}
}

func TestMarkReadTransitionsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _, err := s.FindOrCreateConversation(ctx, "t1", "l1", "prop42")
	if err != nil {
		t.Fatalf("FindOrCreateConversation failed: %v", err)
	}
	msg := addMessage(t, s, conv, "t1", "l1", "hello", time.Now())

	readAt := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	updated, err := s.MarkRead(ctx, msg.MessageID, readAt)
	if err != nil || !updated {
		t.Fatalf("expected first MarkRead to update, got updated=%v err=%v", updated, err)
	}
	updated, err = s.MarkRead(ctx, msg.MessageID, readAt.Add(time.Hour))
	if err != nil || updated {
		t.Fatalf("expected second MarkRead to be a no-op, got updated=%v err=%v", updated, err)
	}

	got, err := s.GetMessage(ctx, msg.MessageID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if !got.IsRead || got.ReadAt == nil || !got.ReadAt.Equal(readAt) {
		t.Fatalf("unexpected read state: isRead=%v readAt=%v", got.IsRead, got.ReadAt)
	}
}

func TestGetMessageNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetMessage(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListMessagesWindows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _, err := s.FindOrCreateConversation(ctx, "t1", "l1", "prop42")
	if err != nil {
		t.Fatalf("FindOrCreateConversation failed: %v", err)
	}
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		addMessage(t, s, conv, "t1", "l1", fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second))
	}

	latest, total, err := s.ListMessages(ctx, conv.ConversationID, 0, 2)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected total 5, got %d", total)
	}
	if len(latest) != 2 || latest[0].Content != "m3" || latest[1].Content != "m4" {
		t.Fatalf("unexpected first window: %+v", contents(latest))
	}

	older, _, err := s.ListMessages(ctx, conv.ConversationID, 4, 2)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(older) != 1 || older[0].Content != "m0" {
		t.Fatalf("unexpected last window: %+v", contents(older))
	}
}

func TestListConversationsForUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	older, _, _ := s.FindOrCreateConversation(ctx, "t1", "l1", "prop1")
	newer, _, _ := s.FindOrCreateConversation(ctx, "t1", "l2", "prop2")
	_, _, _ = s.FindOrCreateConversation(ctx, "t2", "l2", "prop2")

	addMessage(t, s, older, "l1", "t1", "first", base)
	addMessage(t, s, older, "l1", "t1", "second", base.Add(time.Second))
	addMessage(t, s, newer, "t1", "l2", "mine", base.Add(time.Minute))

	rows, err := s.ListConversationsForUser(ctx, "t1")
	if err != nil {
		t.Fatalf("ListConversationsForUser failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(rows))
	}
	if rows[0].ConversationID != newer.ConversationID || rows[1].ConversationID != older.ConversationID {
		t.Fatalf("expected newest first, got %s then %s", rows[0].ConversationID, rows[1].ConversationID)
	}
	if rows[0].UnreadCount != 0 {
		t.Fatalf("expected no unread in own conversation, got %d", rows[0].UnreadCount)
	}
	if rows[1].UnreadCount != 2 {
		t.Fatalf("expected 2 unread, got %d", rows[1].UnreadCount)
	}
	if rows[1].LastMessageContent == nil || *rows[1].LastMessageContent != "second" {
		t.Fatalf("unexpected last message preview: %v", rows[1].LastMessageContent)
	}
}

func TestSetActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _, _ := s.FindOrCreateConversation(ctx, "t1", "l1", "prop42")
	if err := s.SetActive(ctx, conv.ConversationID, false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	got, err := s.GetConversation(ctx, conv.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.IsActive {
		t.Fatalf("expected conversation to be inactive")
	}
	if err := s.SetActive(ctx, "missing", false); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func contents(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
