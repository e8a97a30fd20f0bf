package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/events"
	"github.com/efreitasn/tickexchange/internal/store"
	"pgregory.net/rapid"
)

// Property 1: re-registering the same (subscriber_id, event) pair with the
// same URL is idempotent. The webhook_id stays stable and the subscription
// is unchanged; changing the URL updates it in place.
func TestProperty_WebhookUpsertIdempotency(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		as := store.NewAccountStore()
		ws := store.NewWebhookStore()
		svc := NewWebhookService(ws, as)

		agentID := fmt.Sprintf("agent_%d", rapid.IntRange(1, 9999).Draw(t, "agentSuffix"))
		err := as.Create(&domain.Account{
			AgentID:   agentID,
			Balances:  map[string]int64{},
			CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("failed to create account: %v", err)
		}

		event := string(rapid.SampledFrom(events.Kinds()).Draw(t, "event"))

		// Generate two distinct random URLs.
		urlSuffix1 := rapid.IntRange(1, 99999).Draw(t, "urlSuffix1")
		url1 := fmt.Sprintf("https://example.com/hook/%d", urlSuffix1)

		urlSuffix2 := rapid.IntRange(1, 99999).Draw(t, "urlSuffix2")
		// Ensure url2 is different from url1.
		url2 := fmt.Sprintf("https://other.example.com/hook/%d", urlSuffix2)

		// --- Step 1: Initial registration ---
		webhooks1, created1, err := svc.Upsert(UpsertWebhookRequest{
			SubscriberID: agentID,
			URL:          url1,
			Events:       []string{event},
		})
		if err != nil {
			t.Fatalf("initial upsert failed: %v", err)
		}
		if !created1 {
			t.Fatal("expected created=true for initial registration")
		}
		if len(webhooks1) != 1 {
			t.Fatalf("expected 1 webhook, got %d", len(webhooks1))
		}
		originalID := webhooks1[0].WebhookID
		if webhooks1[0].URL != url1 {
			t.Fatalf("expected URL %q, got %q", url1, webhooks1[0].URL)
		}

		// --- Step 2: Re-register with same (subscriber_id, event) and same URL ---
		// This should be idempotent: webhook_id stable, created=false.
		numRepeats := rapid.IntRange(1, 5).Draw(t, "numRepeats")
		for i := 0; i < numRepeats; i++ {
			webhooks2, created2, err := svc.Upsert(UpsertWebhookRequest{
				SubscriberID: agentID,
				URL:          url1,
				Events:       []string{event},
			})
			if err != nil {
				t.Fatalf("idempotent upsert %d failed: %v", i, err)
			}
			if created2 {
				t.Fatalf("repeat %d: expected created=false for idempotent re-registration", i)
			}
			if len(webhooks2) != 1 {
				t.Fatalf("repeat %d: expected 1 webhook, got %d", i, len(webhooks2))
			}
			if webhooks2[0].WebhookID != originalID {
				t.Fatalf("repeat %d: webhook_id changed from %q to %q", i, originalID, webhooks2[0].WebhookID)
			}
			if webhooks2[0].URL != url1 {
				t.Fatalf("repeat %d: URL changed from %q to %q", i, url1, webhooks2[0].URL)
			}
		}

		// --- Step 3: Re-register with same (subscriber_id, event) but different URL ---
		// webhook_id should remain stable, URL should be updated.
		webhooks3, created3, err := svc.Upsert(UpsertWebhookRequest{
			SubscriberID: agentID,
			URL:          url2,
			Events:       []string{event},
		})
		if err != nil {
			t.Fatalf("URL update upsert failed: %v", err)
		}
		if created3 {
			t.Fatal("expected created=false when updating URL")
		}
		if len(webhooks3) != 1 {
			t.Fatalf("expected 1 webhook, got %d", len(webhooks3))
		}
		if webhooks3[0].WebhookID != originalID {
			t.Fatalf("webhook_id changed after URL update: %q -> %q", originalID, webhooks3[0].WebhookID)
		}
		if webhooks3[0].URL != url2 {
			t.Fatalf("expected updated URL %q, got %q", url2, webhooks3[0].URL)
		}

		// --- Step 4: Verify idempotency with the new URL ---
		webhooks4, created4, err := svc.Upsert(UpsertWebhookRequest{
			SubscriberID: agentID,
			URL:          url2,
			Events:       []string{event},
		})
		if err != nil {
			t.Fatalf("post-update idempotent upsert failed: %v", err)
		}
		if created4 {
			t.Fatal("expected created=false for idempotent re-registration after URL update")
		}
		if webhooks4[0].WebhookID != originalID {
			t.Fatalf("webhook_id not stable after URL update idempotent check: %q -> %q",
				originalID, webhooks4[0].WebhookID)
		}
		if webhooks4[0].URL != url2 {
			t.Fatalf("URL should remain %q, got %q", url2, webhooks4[0].URL)
		}
	})
}
