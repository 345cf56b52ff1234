package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/barter-system/internal/model"
)

type sentMessage struct {
	chatID int64
	text   string
}

type stubSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	failID int64
}

func (s *stubSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failID != 0 && chatID == s.failID {
		return errors.New("chat not found")
	}
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

type stubAudience struct {
	recipients []model.User
	listErr    error
	admins     []model.Admin
}

func (a *stubAudience) ListRecipients(ctx context.Context, tags []string) ([]model.User, error) {
	return a.recipients, a.listErr
}

func (a *stubAudience) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	return a.admins, nil
}

func chatID(v int64) *int64 { return &v }

func TestBroadcastCountsAndReports(t *testing.T) {
	sender := &stubSender{failID: 3}
	audience := &stubAudience{
		recipients: []model.User{
			{ID: 1, TelegramID: chatID(1), FirstName: "A"},
			{ID: 2, FirstName: "B"}, // нет привязанного чата
			{ID: 3, TelegramID: chatID(3), FirstName: "C"},
			{ID: 4, TelegramID: chatID(4), FirstName: "D"},
		},
	}
	d := NewDispatcher(sender, audience, zap.NewNop())

	res, err := d.Broadcast(context.Background(), "Привет, {firstName}!", nil, 99)
	if err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}

	if res.Success != 2 {
		t.Fatalf("success = %d, want 2", res.Success)
	}
	if res.Errors != 2 {
		t.Fatalf("errors = %d, want 2 (one send failure, one missing chat)", res.Errors)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()

	var summary *sentMessage
	for i := range sender.sent {
		if sender.sent[i].chatID == 99 {
			summary = &sender.sent[i]
		}
	}
	if summary == nil {
		t.Fatalf("summary must be reported to the initiating admin")
	}
	if !strings.Contains(summary.text, "Успешно отправлено: 2") || !strings.Contains(summary.text, "Ошибок: 2") {
		t.Fatalf("unexpected summary: %q", summary.text)
	}
}

func TestBroadcastPersonalizesPerRecipient(t *testing.T) {
	sender := &stubSender{}
	audience := &stubAudience{
		recipients: []model.User{
			{ID: 1, TelegramID: chatID(1), FirstName: "Aliya"},
			{ID: 2, TelegramID: chatID(2), FirstName: "Dana"},
		},
	}
	d := NewDispatcher(sender, audience, zap.NewNop())

	if _, err := d.Broadcast(context.Background(), "Привет, {firstName}!", nil, 0); err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 2 {
		t.Fatalf("sent = %d messages, want 2", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].text, "Aliya") || !strings.Contains(sender.sent[1].text, "Dana") {
		t.Fatalf("messages must be personalized per recipient: %+v", sender.sent)
	}
}

func TestBroadcastEmptyAudience(t *testing.T) {
	sender := &stubSender{}
	d := NewDispatcher(sender, &stubAudience{}, zap.NewNop())

	res, err := d.Broadcast(context.Background(), "text", []string{"almaty"}, 99)
	if err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}
	if res.Success != 0 || res.Errors != 0 {
		t.Fatalf("empty audience must produce zero counts, got %+v", res)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 || sender.sent[0].chatID != 99 {
		t.Fatalf("initiator must still get a report, sent: %+v", sender.sent)
	}
}

func TestBroadcastListFailure(t *testing.T) {
	audience := &stubAudience{listErr: errors.New("db down")}
	d := NewDispatcher(&stubSender{}, audience, zap.NewNop())

	if _, err := d.Broadcast(context.Background(), "text", nil, 99); err == nil {
		t.Fatalf("expected error when audience cannot be listed")
	}
}

func TestNotifyAdminsFanOut(t *testing.T) {
	sender := &stubSender{}
	audience := &stubAudience{
		admins: []model.Admin{
			{ChatID: 100, ReceivesNotifications: true},
			{ChatID: 200, ReceivesNotifications: true},
		},
	}
	d := NewDispatcher(sender, audience, zap.NewNop())

	order := &model.Order{Number: "B-000007", City: "Almaty", DeliveryTime: "12:00"}
	user := &model.User{FirstName: "Aliya", Instagram: "aliya", Followers: 5000}

	d.NotifyAdmins(context.Background(), order, user)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 2 {
		t.Fatalf("sent = %d messages, want 2", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].text, "B-000007") {
		t.Fatalf("admin alert must mention the order number: %q", sender.sent[0].text)
	}
}
