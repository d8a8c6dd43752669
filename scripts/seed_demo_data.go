//go:build ignore
// +build ignore

// Seeds a local database with a demo account, a couple of rules and a
// spread of messages so the dashboard has something to show during UI
// work. Never run this against a production database.
//
//	ENCRYPTION_KEY=dev-key go run scripts/seed_demo_data.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ignite/mail-aggregator/internal/cipher"
	"github.com/ignite/mail-aggregator/internal/store"
)

func main() {
	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		log.Fatal("ENCRYPTION_KEY is required")
	}
	keychain, err := cipher.New(key)
	if err != nil {
		log.Fatalf("init cipher: %v", err)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "data/mail.db"
	}
	st, err := store.Open(dbURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	enc, err := keychain.Encrypt("demo-app-password")
	if err != nil {
		log.Fatalf("encrypt: %v", err)
	}
	account := &store.Account{
		Email:               "demo@example.com",
		Provider:            "custom",
		EncryptedPwd:        enc,
		Host:                "imap.example.com",
		Port:                993,
		IsActive:            false,
		TelegramPushEnabled: true,
		PushTemplate:        "short",
	}
	if err := st.CreateAccount(ctx, account); err != nil {
		log.Fatalf("create account: %v", err)
	}
	log.Printf("Seeded account %s (id %d, inactive so nothing polls it)", account.Email, account.ID)

	rules := []*store.Rule{
		{Name: "Invoices", SenderPattern: "billing@", AddLabels: []string{"billing"}, PushTelegram: true},
		{Name: "Newsletters", SubjectPattern: "newsletter", AddLabels: []string{"news"}, MarkRead: true},
	}
	for i, r := range rules {
		r.RuleOrder = i + 1
		if err := st.CreateRule(ctx, r); err != nil {
			log.Fatalf("create rule %q: %v", r.Name, err)
		}
	}
	log.Printf("Seeded %d rules", len(rules))

	senders := []string{"billing@vendor.example", "team@news.example", "alice@example.org", "noreply@shop.example"}
	subjects := []string{"Invoice #%d", "Weekly newsletter %d", "Lunch on Thursday? (%d)", "Your order %d shipped"}
	labels := [][]string{{"billing"}, {"news"}, {}, {}}

	now := time.Now().UTC()
	inserted := 0
	for day := 0; day < 21; day++ {
		for j := range senders {
			if (day+j)%3 == 0 {
				continue
			}
			m := &store.Message{
				AccountID:      account.ID,
				MessageID:      fmt.Sprintf("<seed-%d-%d@example.com>", day, j),
				Subject:        fmt.Sprintf(subjects[j], day),
				Sender:         senders[j],
				ContentSummary: "Seeded demo message.",
				BodyText:       "Seeded demo message body.",
				ReceivedAt:     now.AddDate(0, 0, -day).Add(-time.Duration(j) * time.Hour),
				IsRead:         j == 1,
				Labels:         labels[j],
			}
			ok, err := st.InsertMessageIfNew(ctx, m)
			if err != nil {
				log.Fatalf("insert message: %v", err)
			}
			if ok {
				inserted++
			}
		}
	}
	log.Printf("Seeded %d messages across 21 days", inserted)
}
