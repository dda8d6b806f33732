package events

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/viper"
	"mailaudit/internal/platform/config"
	"mailaudit/internal/platform/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	if err := database.EnsureSchema(db); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return db
}

func testConfig(t *testing.T, settings map[string]any) *config.Config {
	v := viper.New()
	for key, value := range settings {
		v.Set(key, value)
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		t.Fatalf("Failed to build config: %v", err)
	}
	return cfg
}

// recordingSubStores captures sub-store invocations so gating tests can
// assert call counts and arguments without touching the database.
type recordingSubStores struct {
	flagCalls []map[string]any
	tagCalls  [][]string
	varCalls  []map[string]any
	eventIDs  []string
	err       error
}

func (s *recordingSubStores) CreateFlags(flags map[string]any, eventID string) error {
	s.flagCalls = append(s.flagCalls, flags)
	s.eventIDs = append(s.eventIDs, eventID)
	return s.err
}

func (s *recordingSubStores) TagEvent(tags []string, eventID string) error {
	s.tagCalls = append(s.tagCalls, tags)
	s.eventIDs = append(s.eventIDs, eventID)
	return s.err
}

func (s *recordingSubStores) ProcessEventVariables(vars map[string]any, eventID string) error {
	s.varCalls = append(s.varCalls, vars)
	s.eventIDs = append(s.eventIDs, eventID)
	return s.err
}

func newTestRepository(t *testing.T, db *sql.DB, settings map[string]any) (*Repository, *recordingSubStores) {
	stores := &recordingSubStores{}
	repo := NewRepository(db, testConfig(t, settings), stores, stores, stores)
	return repo, stores
}

func TestStoreAndGet(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo, _ := newTestRepository(t, db, nil)

	id, err := repo.Store("delivered", samplePayload(), nil)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a non-empty event id")
	}

	event, err := repo.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if event == nil {
		t.Fatal("Expected stored event, got nil")
	}

	if event.EventType != "delivered" {
		t.Errorf("EventType = %s, want delivered", event.EventType)
	}
	if event.UUID != "Ase7i2zsRYeDXztHGENqRA" {
		t.Errorf("UUID = %s", event.UUID)
	}
	if event.MsgTo == nil || *event.MsgTo != "alice@example.com" {
		t.Errorf("MsgTo = %v", event.MsgTo)
	}
	if event.MsgFrom == nil || *event.MsgFrom != "noreply@sender.io" {
		t.Errorf("MsgFrom = %v", event.MsgFrom)
	}
	if event.MsgSubject == nil || *event.MsgSubject != "Welcome" {
		t.Errorf("MsgSubject = %v", event.MsgSubject)
	}
	if event.MsgID == nil || *event.MsgID != "20200511.1@sender.io" {
		t.Errorf("MsgID = %v", event.MsgID)
	}
	if event.RecipientDomain == nil || *event.RecipientDomain != "example.com" {
		t.Errorf("RecipientDomain = %v", event.RecipientDomain)
	}
	if event.RecipientUser == nil || *event.RecipientUser != "alice" {
		t.Errorf("RecipientUser = %v", event.RecipientUser)
	}
	if event.MsgCode == nil || *event.MsgCode != 550 {
		t.Errorf("MsgCode = %v", event.MsgCode)
	}
	if event.MsgMessage == nil || *event.MsgMessage != "Mailbox full" {
		t.Errorf("MsgMessage = %v", event.MsgMessage)
	}
	if event.AttemptNumber != 3 {
		t.Errorf("AttemptNumber = %d, want 3", event.AttemptNumber)
	}
	if event.Attachments != 0 {
		t.Errorf("Attachments = %d, want 0 for empty attachments list", event.Attachments)
	}
	if event.UserID != nil {
		t.Errorf("UserID = %v, want nil", event.UserID)
	}
}

func TestStoreMinimalPayload(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo, _ := newTestRepository(t, db, nil)

	payload := Payload{"event-data": map[string]any{"id": "min-1"}}
	id, err := repo.Store("accepted", payload, nil)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	event, err := repo.GetByID(id)
	if err != nil || event == nil {
		t.Fatalf("GetByID failed: %v (event=%v)", err, event)
	}

	if event.MsgTo != nil || event.MsgFrom != nil || event.MsgSubject != nil || event.MsgID != nil {
		t.Error("Expected all header fields nil for payload without message.headers")
	}
	if event.AttemptNumber != 1 {
		t.Errorf("AttemptNumber = %d, want default 1", event.AttemptNumber)
	}
	if event.Attachments != 1 {
		t.Errorf("Attachments = %d, want 1 when the key is entirely absent", event.Attachments)
	}
	if event.MsgCode != nil || event.MsgMessage != nil {
		t.Error("Expected nil delivery status fields")
	}
}

func TestStoreMissingProviderID(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo, stores := newTestRepository(t, db, nil)

	payload := Payload{
		"event-data": map[string]any{
			"recipient": "alice",
			"tags":      []any{"onboarding"},
		},
	}

	id, err := repo.Store("delivered", payload, nil)
	if id != "" {
		t.Errorf("Expected empty id, got %s", id)
	}
	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no event rows, found %d", count)
	}
	if len(stores.tagCalls) != 0 {
		t.Errorf("Expected no sub-store calls, got %d", len(stores.tagCalls))
	}
}

func TestStoreInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO events").WillReturnError(sql.ErrConnDone)

	repo, stores := newTestRepository(t, db, nil)

	id, storeErr := repo.Store("delivered", samplePayload(), nil)
	if id != "" {
		t.Errorf("Expected empty id on insert failure, got %s", id)
	}
	if storeErr != nil {
		t.Errorf("Expected the write failure to be swallowed, got %v", storeErr)
	}
	if len(stores.flagCalls)+len(stores.tagCalls)+len(stores.varCalls) != 0 {
		t.Error("Expected no sub-store calls after a failed event insert")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet sqlmock expectations: %v", err)
	}
}

func TestSubStoreGating(t *testing.T) {
	t.Run("tag logging disabled", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo, stores := newTestRepository(t, db, map[string]any{
			"options.disable_tag_logging": true,
		})

		id, err := repo.Store("delivered", samplePayload(), nil)
		if err != nil || id == "" {
			t.Fatalf("Store failed: id=%q err=%v", id, err)
		}

		if len(stores.tagCalls) != 0 {
			t.Errorf("Expected zero tag sub-store calls, got %d", len(stores.tagCalls))
		}
		// The other kinds are still on
		if len(stores.flagCalls) != 1 || len(stores.varCalls) != 1 {
			t.Errorf("Expected flags and variables to still be stored: flags=%d vars=%d",
				len(stores.flagCalls), len(stores.varCalls))
		}
	})

	t.Run("toggle absent", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo, stores := newTestRepository(t, db, nil)

		id, err := repo.Store("delivered", samplePayload(), nil)
		if err != nil || id == "" {
			t.Fatalf("Store failed: id=%q err=%v", id, err)
		}

		if len(stores.tagCalls) != 1 {
			t.Fatalf("Expected exactly one tag sub-store call, got %d", len(stores.tagCalls))
		}
		tags := stores.tagCalls[0]
		if len(tags) != 2 || tags[0] != "onboarding" || tags[1] != "batch-7" {
			t.Errorf("Tag sub-store received %v", tags)
		}
		for _, eventID := range stores.eventIDs {
			if eventID != id {
				t.Errorf("Sub-store called with event id %s, want %s", eventID, id)
			}
		}
	})

	t.Run("toggle set to non-true value", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo, stores := newTestRepository(t, db, map[string]any{
			"options.disable_tag_logging": "yes",
		})

		if _, err := repo.Store("delivered", samplePayload(), nil); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
		if len(stores.tagCalls) != 1 {
			t.Errorf("Only an exact boolean true disables a kind; got %d tag calls", len(stores.tagCalls))
		}
	})

	t.Run("empty collections never invoke sub-stores", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo, stores := newTestRepository(t, db, nil)

		payload := Payload{
			"event-data": map[string]any{
				"id":             "empty-1",
				"tags":           []any{},
				"flags":          map[string]any{},
				"user-variables": map[string]any{},
			},
		}
		if _, err := repo.Store("delivered", payload, nil); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
		if len(stores.flagCalls)+len(stores.tagCalls)+len(stores.varCalls) != 0 {
			t.Error("Expected no sub-store calls for empty collections")
		}
	})
}

func TestSubStoreFailurePropagates(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	stores := &recordingSubStores{err: sql.ErrConnDone}
	repo := NewRepository(db, testConfig(t, nil), stores, stores, stores)

	id, err := repo.Store("delivered", samplePayload(), nil)
	if id == "" {
		t.Fatal("Expected the event id even when a dependent write fails")
	}
	if err == nil {
		t.Fatal("Expected the dependent-store error to propagate")
	}

	// The event row itself is not rolled back
	event, getErr := repo.GetByID(id)
	if getErr != nil || event == nil {
		t.Errorf("Expected the event row to survive a dependent failure: %v", getErr)
	}
}

func TestStoreWithUserID(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo, _ := newTestRepository(t, db, nil)

	userID := "usr_42"
	id, err := repo.Store("opened", samplePayload(), &userID)
	if err != nil || id == "" {
		t.Fatalf("Store failed: id=%q err=%v", id, err)
	}

	event, err := repo.GetByID(id)
	if err != nil || event == nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if event.UserID == nil || *event.UserID != "usr_42" {
		t.Errorf("UserID = %v, want usr_42", event.UserID)
	}
}

func TestStoreContent(t *testing.T) {
	content := map[string]any{
		"subject":       "Welcome",
		"To":            "alice@example.com",
		"Content-Type":  "multipart/alternative",
		"Message-Id":    "<20200511.1@sender.io>",
		"stripped-text": "Hello Alice",
		"stripped-html": "<p>Hello Alice</p>",
		"body-html":     "<html><p>Hello Alice</p></html>",
		"body-plain":    "Hello Alice\n",
	}

	t.Run("all fields allowed by default", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo, _ := newTestRepository(t, db, nil)

		record, err := repo.StoreContent("evt_x", content)
		if err != nil {
			t.Fatalf("StoreContent failed: %v", err)
		}

		if record.Subject == nil || *record.Subject != "Welcome" {
			t.Errorf("Subject = %v", record.Subject)
		}
		if record.Recipient == nil || *record.Recipient != "alice@example.com" {
			t.Errorf("Recipient = %v", record.Recipient)
		}
		if record.ContentType == nil || *record.ContentType != "multipart/alternative" {
			t.Errorf("ContentType = %v", record.ContentType)
		}
		if record.MessageID == nil || *record.MessageID != "<20200511.1@sender.io>" {
			t.Errorf("MessageID = %v", record.MessageID)
		}
		if record.BodyHTML == nil || *record.BodyHTML != "<html><p>Hello Alice</p></html>" {
			t.Errorf("BodyHTML = %v", record.BodyHTML)
		}
	})

	t.Run("explicit false suppresses a body field", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo, _ := newTestRepository(t, db, map[string]any{
			"content_logging.body_html": false,
		})

		record, err := repo.StoreContent("evt_x", content)
		if err != nil {
			t.Fatalf("StoreContent failed: %v", err)
		}

		if record.BodyHTML != nil {
			t.Errorf("BodyHTML = %v, want nil when content_logging.body_html is false", record.BodyHTML)
		}
		// Only the configured field is suppressed
		if record.StrippedText == nil || *record.StrippedText != "Hello Alice" {
			t.Errorf("StrippedText = %v", record.StrippedText)
		}
		if record.BodyPlain == nil || *record.BodyPlain != "Hello Alice\n" {
			t.Errorf("BodyPlain = %v", record.BodyPlain)
		}

		// The stored row agrees with the returned record
		stored, err := repo.GetContent("evt_x")
		if err != nil || len(stored) != 1 {
			t.Fatalf("GetContent failed: %v (rows=%d)", err, len(stored))
		}
		if stored[0].BodyHTML != nil {
			t.Errorf("Stored BodyHTML = %v, want NULL", stored[0].BodyHTML)
		}
	})

	t.Run("absent input fields pass through as nil", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo, _ := newTestRepository(t, db, nil)

		record, err := repo.StoreContent("evt_x", map[string]any{"subject": "Only a subject"})
		if err != nil {
			t.Fatalf("StoreContent failed: %v", err)
		}
		if record.BodyHTML != nil || record.StrippedText != nil || record.Recipient != nil {
			t.Error("Expected absent input fields to store as nil")
		}
	})
}

func TestEventContentRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo, _ := newTestRepository(t, db, nil)

	id, err := repo.Store("delivered", samplePayload(), nil)
	if err != nil || id == "" {
		t.Fatalf("Store failed: id=%q err=%v", id, err)
	}

	if _, err := repo.StoreContent(id, map[string]any{"subject": "Welcome"}); err != nil {
		t.Fatalf("StoreContent failed: %v", err)
	}

	event, err := repo.GetByID(id)
	if err != nil || event == nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	contents, err := repo.GetContent(id)
	if err != nil {
		t.Fatalf("GetContent failed: %v", err)
	}
	if len(contents) != 1 || contents[0].EventID != id {
		t.Errorf("Expected one content row linked to %s, got %v", id, contents)
	}

	// An event without content is still valid
	other, err := repo.Store("opened", Payload{"event-data": map[string]any{"id": "other-1"}}, nil)
	if err != nil || other == "" {
		t.Fatalf("Store failed: id=%q err=%v", other, err)
	}
	contents, err = repo.GetContent(other)
	if err != nil {
		t.Fatalf("GetContent failed: %v", err)
	}
	if len(contents) != 0 {
		t.Errorf("Expected no content rows for %s, got %d", other, len(contents))
	}
}

func TestList(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo, _ := newTestRepository(t, db, nil)

	for i, kind := range []string{"delivered", "failed", "delivered"} {
		payload := Payload{"event-data": map[string]any{
			"id":               "list-" + string(rune('a'+i)),
			"recipient-domain": "example.com",
		}}
		if _, err := repo.Store(kind, payload, nil); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	all, err := repo.List("", "", 50, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List returned %d events, want 3", len(all))
	}

	delivered, err := repo.List("delivered", "example.com", 50, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(delivered) != 2 {
		t.Errorf("Filtered list returned %d events, want 2", len(delivered))
	}
}

func TestFindUserByEmail(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.Exec(`
		CREATE TABLE app_users (
			id TEXT PRIMARY KEY,
			email_address TEXT NOT NULL,
			full_name TEXT
		)
	`)
	if err != nil {
		t.Fatalf("Failed to create user table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO app_users (id, email_address, full_name) VALUES (?, ?, ?)`,
		"usr_1", "alice@example.com", "Alice"); err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}

	repo, _ := newTestRepository(t, db, map[string]any{
		"user_table.name":         "app_users",
		"user_table.email_column": "email_address",
	})

	user, err := repo.FindUserByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("FindUserByEmail failed: %v", err)
	}
	if user == nil {
		t.Fatal("Expected a user record")
	}
	if user["id"] != "usr_1" || user["full_name"] != "Alice" {
		t.Errorf("User record = %v", user)
	}

	// Exact match only: no case folding
	user, err = repo.FindUserByEmail("Alice@Example.com")
	if err != nil {
		t.Fatalf("FindUserByEmail failed: %v", err)
	}
	if user != nil {
		t.Errorf("Expected no match for differently-cased email, got %v", user)
	}

	user, err = repo.FindUserByEmail("nobody@example.com")
	if err != nil {
		t.Fatalf("FindUserByEmail failed: %v", err)
	}
	if user != nil {
		t.Errorf("Expected nil for unknown email, got %v", user)
	}
}

func TestFindUserByEmailUnconfigured(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo, _ := newTestRepository(t, db, nil)

	if _, err := repo.FindUserByEmail("alice@example.com"); err == nil {
		t.Error("Expected an error when the user table is not configured")
	}
}
