package store

import (
	"testing"
	"time"

	"github.com/dukerupert/crewtasks/internal/model"
)

func setupPushTestDB(t *testing.T) (*PushStore, string) {
	t.Helper()
	db := setupTestDB(t)
	createProfile(t, NewProfileStore(db), "u1", "Alice", model.RoleEmployee)
	return NewPushStore(db), "u1"
}

func TestCreateSubscription(t *testing.T) {
	ps, uid := setupPushTestDB(t)

	sub, err := ps.CreateSubscription(uid, "https://push.example.com/sub1", "p256dh_key1", "auth_key1", "Chrome Desktop")
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if sub.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if sub.Endpoint != "https://push.example.com/sub1" {
		t.Errorf("endpoint = %q, want %q", sub.Endpoint, "https://push.example.com/sub1")
	}
	if sub.DeviceName != "Chrome Desktop" {
		t.Errorf("device_name = %q, want %q", sub.DeviceName, "Chrome Desktop")
	}
}

func TestCreateSubscriptionUpsert(t *testing.T) {
	ps, uid := setupPushTestDB(t)

	first, _ := ps.CreateSubscription(uid, "https://push.example.com/sub1", "k1", "a1", "Phone")
	second, err := ps.CreateSubscription(uid, "https://push.example.com/sub1", "k2", "a2", "Phone")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("id = %d, want %d", second.ID, first.ID)
	}
	if second.P256dhKey != "k2" {
		t.Errorf("p256dh = %q, want k2", second.P256dhKey)
	}

	subs, _ := ps.ListByUser(uid)
	if len(subs) != 1 {
		t.Errorf("expected 1 subscription, got %d", len(subs))
	}
}

func TestDeleteSubscriptionScopedToUser(t *testing.T) {
	ps, uid := setupPushTestDB(t)
	sub, _ := ps.CreateSubscription(uid, "https://push.example.com/sub1", "k", "a", "")

	if err := ps.DeleteSubscription(sub.ID, "someone-else"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if subs, _ := ps.ListByUser(uid); len(subs) != 1 {
		t.Fatal("another user's delete removed the subscription")
	}

	if err := ps.DeleteSubscription(sub.ID, uid); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if subs, _ := ps.ListByUser(uid); len(subs) != 0 {
		t.Errorf("expected no subscriptions, got %d", len(subs))
	}
}

func TestDeleteByEndpoint(t *testing.T) {
	ps, uid := setupPushTestDB(t)
	ps.CreateSubscription(uid, "https://push.example.com/gone", "k", "a", "")

	if err := ps.DeleteByEndpoint("https://push.example.com/gone"); err != nil {
		t.Fatalf("delete by endpoint: %v", err)
	}
	if subs, _ := ps.ListByUser(uid); len(subs) != 0 {
		t.Errorf("expected no subscriptions, got %d", len(subs))
	}
}

func TestSentNotificationDedup(t *testing.T) {
	ps, _ := setupPushTestDB(t)

	sent, err := ps.WasSent(model.NotifTypeTaskOverdue, "task-1-2024-03-10")
	if err != nil {
		t.Fatalf("was sent: %v", err)
	}
	if sent {
		t.Fatal("expected not sent")
	}

	if err := ps.RecordSent(model.NotifTypeTaskOverdue, "task-1-2024-03-10"); err != nil {
		t.Fatalf("record sent: %v", err)
	}
	// Recording twice is harmless.
	if err := ps.RecordSent(model.NotifTypeTaskOverdue, "task-1-2024-03-10"); err != nil {
		t.Fatalf("record sent again: %v", err)
	}
	if sent, _ := ps.WasSent(model.NotifTypeTaskOverdue, "task-1-2024-03-10"); !sent {
		t.Error("expected sent after recording")
	}

	if err := ps.CleanupSent(time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if sent, _ := ps.WasSent(model.NotifTypeTaskOverdue, "task-1-2024-03-10"); sent {
		t.Error("expected record removed by cleanup")
	}
}
