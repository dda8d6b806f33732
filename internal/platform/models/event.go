package models

// Event is one normalized record of a single provider webhook delivery.
// Rows are created once and never updated. Optional fields are pointers so
// an absent payload key is stored as NULL, never as an empty string.
type Event struct {
	ID              string  `json:"id"`
	EventType       string  `json:"event_type"`
	UUID            string  `json:"uuid"` // provider-side event id
	RecipientDomain *string `json:"recipient_domain,omitempty"`
	RecipientUser   *string `json:"recipient_user,omitempty"`
	MsgTo           *string `json:"msg_to,omitempty"`
	MsgFrom         *string `json:"msg_from,omitempty"`
	MsgSubject      *string `json:"msg_subject,omitempty"`
	MsgID           *string `json:"msg_id,omitempty"`
	MsgCode         *int64  `json:"msg_code,omitempty"`
	MsgMessage      *string `json:"msg_message,omitempty"`
	AttemptNumber   int     `json:"attempt_number"`
	Attachments     int     `json:"attachments"` // 0 = none, 1 = present or unknown
	UserID          *string `json:"user_id,omitempty"`
	CreatedAt       int64   `json:"created_at"`
}

// EventContent holds the message body data for an event. Stored by a
// separate call from the event itself; zero rows per event is common and
// nothing enforces at most one.
type EventContent struct {
	ID           string  `json:"id"`
	EventID      string  `json:"event_id"`
	Subject      *string `json:"subject,omitempty"`
	Recipient    *string `json:"recipient,omitempty"`
	ContentType  *string `json:"content_type,omitempty"`
	MessageID    *string `json:"message_id,omitempty"`
	StrippedText *string `json:"stripped_text,omitempty"`
	StrippedHTML *string `json:"stripped_html,omitempty"`
	BodyHTML     *string `json:"body_html,omitempty"`
	BodyPlain    *string `json:"body_plain,omitempty"`
	CreatedAt    int64   `json:"created_at"`
}

type EventFlag struct {
	ID        string `json:"id"`
	EventID   string `json:"event_id"`
	FlagName  string `json:"flag_name"`
	FlagValue int    `json:"flag_value"`
	CreatedAt int64  `json:"created_at"`
}

type EventTag struct {
	ID        string `json:"id"`
	EventID   string `json:"event_id"`
	Tag       string `json:"tag"`
	CreatedAt int64  `json:"created_at"`
}

type EventVariable struct {
	ID        string  `json:"id"`
	EventID   string  `json:"event_id"`
	Name      string  `json:"name"`
	Value     *string `json:"value,omitempty"`
	CreatedAt int64   `json:"created_at"`
}
