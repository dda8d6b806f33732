package events

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"mailaudit/internal/platform/config"
	"mailaudit/internal/platform/models"
)

// Repository normalizes provider webhook payloads into event rows and
// fans out to the dependent stores. It holds no state between calls;
// concurrency is delegated to the database.
type Repository struct {
	db        *sql.DB
	cfg       *config.Config
	flags     FlagStore
	tags      TagStore
	variables VariableStore
}

func NewRepository(db *sql.DB, cfg *config.Config, flags FlagStore, tags TagStore, variables VariableStore) *Repository {
	return &Repository{
		db:        db,
		cfg:       cfg,
		flags:     flags,
		tags:      tags,
		variables: variables,
	}
}

// Store derives an event row from the raw payload, writes it, then invokes
// the gated sub-stores with the new event id.
//
// The returned id is empty when the event was not durably recorded — the
// provider id was missing from the payload or the insert failed. Those
// failures are logged and converted to the empty id, never returned as an
// error, so the caller has a single signal to key its retry policy on. A
// sub-store failure after a successful insert is returned alongside the
// non-empty id; the event row is not rolled back.
func (r *Repository) Store(eventType string, payload Payload, userID *string) (string, error) {
	event, err := r.storeEvent(eventType, payload, userID)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to store event")
		return "", nil
	}

	if !r.cfg.FlagLoggingDisabled() {
		if flags := payload.Flags(); len(flags) > 0 {
			if err := r.flags.CreateFlags(flags, event.ID); err != nil {
				return event.ID, err
			}
		}
	}

	if !r.cfg.TagLoggingDisabled() {
		if tags := payload.Tags(); len(tags) > 0 {
			if err := r.tags.TagEvent(tags, event.ID); err != nil {
				return event.ID, err
			}
		}
	}

	if !r.cfg.VariableLoggingDisabled() {
		if vars := payload.UserVariables(); len(vars) > 0 {
			if err := r.variables.ProcessEventVariables(vars, event.ID); err != nil {
				return event.ID, err
			}
		}
	}

	return event.ID, nil
}

func (r *Repository) storeEvent(eventType string, payload Payload, userID *string) (*models.Event, error) {
	providerID, ok := payload.ProviderID()
	if !ok {
		return nil, fmt.Errorf("payload is missing event-data.id")
	}

	event := &models.Event{
		ID:              "evt_" + uuid.New().String(),
		EventType:       eventType,
		UUID:            providerID,
		RecipientDomain: payload.RecipientDomain(),
		RecipientUser:   payload.RecipientUser(),
		MsgTo:           payload.Header(HeaderTo),
		MsgFrom:         payload.Header(HeaderFrom),
		MsgSubject:      payload.Header(HeaderSubject),
		MsgID:           payload.Header(HeaderMsgID),
		MsgCode:         payload.DeliveryCode(),
		MsgMessage:      payload.DeliveryMessage(),
		AttemptNumber:   payload.AttemptNumber(),
		Attachments:     payload.HasAttachments(),
		UserID:          userID,
		CreatedAt:       time.Now().Unix(),
	}

	query := `
		INSERT INTO events (
			id, event_type, uuid, recipient_domain, recipient_user,
			msg_to, msg_from, msg_subject, msg_id, msg_code, msg_message,
			attempt_number, attachments, user_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query,
		event.ID,
		event.EventType,
		event.UUID,
		event.RecipientDomain,
		event.RecipientUser,
		event.MsgTo,
		event.MsgFrom,
		event.MsgSubject,
		event.MsgID,
		event.MsgCode,
		event.MsgMessage,
		event.AttemptNumber,
		event.Attachments,
		event.UserID,
		event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return event, nil
}

// StoreContent persists the message content for an already-stored event.
// It is a separate call from Store and is not ordered against it by this
// package: content typically arrives later and the caller sequences the
// two. Nothing requires content to exist for every event, and repeated
// calls append rather than overwrite.
//
// Subject/recipient/content-type/message-id are copied verbatim. Each body
// field is dropped only when its content_logging key is explicitly
// configured false; an unset key stores the input as-is.
func (r *Repository) StoreContent(eventID string, content map[string]any) (*models.EventContent, error) {
	record := &models.EventContent{
		ID:           "evc_" + uuid.New().String(),
		EventID:      eventID,
		Subject:      stringField(content, "subject"),
		Recipient:    stringField(content, "To"),
		ContentType:  stringField(content, "Content-Type"),
		MessageID:    stringField(content, "Message-Id"),
		StrippedText: r.gatedField(content, "stripped-text", "stripped_text"),
		StrippedHTML: r.gatedField(content, "stripped-html", "stripped_html"),
		BodyHTML:     r.gatedField(content, "body-html", "body_html"),
		BodyPlain:    r.gatedField(content, "body-plain", "body_plain"),
		CreatedAt:    time.Now().Unix(),
	}

	query := `
		INSERT INTO event_contents (
			id, event_id, subject, recipient, content_type, message_id,
			stripped_text, stripped_html, body_html, body_plain, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query,
		record.ID,
		record.EventID,
		record.Subject,
		record.Recipient,
		record.ContentType,
		record.MessageID,
		record.StrippedText,
		record.StrippedHTML,
		record.BodyHTML,
		record.BodyPlain,
		record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *Repository) gatedField(content map[string]any, key, option string) *string {
	if !r.cfg.ContentFieldAllowed(option) {
		return nil
	}
	return stringField(content, key)
}

func stringField(m map[string]any, key string) *string {
	if s, ok := m[key].(string); ok {
		return &s
	}
	return nil
}

// FindUserByEmail resolves an application user against the configured
// external user table. Exact match only, no case folding or trimming. The
// row comes back as a generic column map since the table's shape is owned
// by the host application; (nil, nil) means no match.
func (r *Repository) FindUserByEmail(email string) (map[string]any, error) {
	table := r.cfg.UserTable.Name
	column := r.cfg.UserTable.EmailColumn
	if table == "" || column == "" {
		return nil, fmt.Errorf("user_table.name and user_table.email_column must be configured")
	}

	query := fmt.Sprintf(`SELECT * FROM %q WHERE %q = ? LIMIT 1`, table, column)
	rows, err := r.db.Query(query, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	user := make(map[string]any, len(columns))
	for i, col := range columns {
		if b, ok := values[i].([]byte); ok {
			user[col] = string(b)
			continue
		}
		user[col] = values[i]
	}
	return user, nil
}

func (r *Repository) GetByID(id string) (*models.Event, error) {
	query := `
		SELECT id, event_type, uuid, recipient_domain, recipient_user,
		       msg_to, msg_from, msg_subject, msg_id, msg_code, msg_message,
		       attempt_number, attachments, user_id, created_at
		FROM events WHERE id = ?
	`
	event, err := scanEvent(r.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}

// List returns events newest first, optionally filtered by event type and
// recipient domain.
func (r *Repository) List(eventType, recipientDomain string, limit, offset int) ([]*models.Event, error) {
	query := `
		SELECT id, event_type, uuid, recipient_domain, recipient_user,
		       msg_to, msg_from, msg_subject, msg_id, msg_code, msg_message,
		       attempt_number, attachments, user_id, created_at
		FROM events WHERE 1=1
	`
	var args []any
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	if recipientDomain != "" {
		query += ` AND recipient_domain = ?`
		args = append(args, recipientDomain)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetContent returns every content row stored for an event, oldest first.
func (r *Repository) GetContent(eventID string) ([]*models.EventContent, error) {
	query := `
		SELECT id, event_id, subject, recipient, content_type, message_id,
		       stripped_text, stripped_html, body_html, body_plain, created_at
		FROM event_contents WHERE event_id = ? ORDER BY created_at ASC
	`
	rows, err := r.db.Query(query, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contents []*models.EventContent
	for rows.Next() {
		var c models.EventContent
		var subject, recipient, contentType, messageID sql.NullString
		var strippedText, strippedHTML, bodyHTML, bodyPlain sql.NullString

		if err := rows.Scan(&c.ID, &c.EventID, &subject, &recipient, &contentType, &messageID,
			&strippedText, &strippedHTML, &bodyHTML, &bodyPlain, &c.CreatedAt); err != nil {
			return nil, err
		}

		c.Subject = nullable(subject)
		c.Recipient = nullable(recipient)
		c.ContentType = nullable(contentType)
		c.MessageID = nullable(messageID)
		c.StrippedText = nullable(strippedText)
		c.StrippedHTML = nullable(strippedHTML)
		c.BodyHTML = nullable(bodyHTML)
		c.BodyPlain = nullable(bodyPlain)
		contents = append(contents, &c)
	}
	return contents, rows.Err()
}

func (r *Repository) GetFlags(eventID string) ([]*models.EventFlag, error) {
	rows, err := r.db.Query(`SELECT id, event_id, flag_name, flag_value, created_at FROM event_flags WHERE event_id = ?`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []*models.EventFlag
	for rows.Next() {
		var f models.EventFlag
		if err := rows.Scan(&f.ID, &f.EventID, &f.FlagName, &f.FlagValue, &f.CreatedAt); err != nil {
			return nil, err
		}
		flags = append(flags, &f)
	}
	return flags, rows.Err()
}

func (r *Repository) GetTags(eventID string) ([]*models.EventTag, error) {
	rows, err := r.db.Query(`SELECT id, event_id, tag, created_at FROM event_tags WHERE event_id = ?`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []*models.EventTag
	for rows.Next() {
		var t models.EventTag
		if err := rows.Scan(&t.ID, &t.EventID, &t.Tag, &t.CreatedAt); err != nil {
			return nil, err
		}
		tags = append(tags, &t)
	}
	return tags, rows.Err()
}

func (r *Repository) GetVariables(eventID string) ([]*models.EventVariable, error) {
	rows, err := r.db.Query(`SELECT id, event_id, name, value, created_at FROM event_variables WHERE event_id = ?`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vars []*models.EventVariable
	for rows.Next() {
		var v models.EventVariable
		var value sql.NullString
		if err := rows.Scan(&v.ID, &v.EventID, &v.Name, &value, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Value = nullable(value)
		vars = append(vars, &v)
	}
	return vars, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var e models.Event
	var recipientDomain, recipientUser sql.NullString
	var msgTo, msgFrom, msgSubject, msgID, msgMessage, userID sql.NullString
	var msgCode sql.NullInt64

	err := row.Scan(&e.ID, &e.EventType, &e.UUID, &recipientDomain, &recipientUser,
		&msgTo, &msgFrom, &msgSubject, &msgID, &msgCode, &msgMessage,
		&e.AttemptNumber, &e.Attachments, &userID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	e.RecipientDomain = nullable(recipientDomain)
	e.RecipientUser = nullable(recipientUser)
	e.MsgTo = nullable(msgTo)
	e.MsgFrom = nullable(msgFrom)
	e.MsgSubject = nullable(msgSubject)
	e.MsgID = nullable(msgID)
	e.MsgMessage = nullable(msgMessage)
	e.UserID = nullable(userID)
	if msgCode.Valid {
		e.MsgCode = &msgCode.Int64
	}

	return &e, nil
}

func nullable(s sql.NullString) *string {
	if s.Valid {
		return &s.String
	}
	return nil
}
