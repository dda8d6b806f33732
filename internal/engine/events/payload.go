package events

import "strconv"

// Payload is the decoded provider webhook body, rooted at "event-data".
// Every accessor tolerates missing or wrongly-typed keys at any nesting
// level and degrades to the zero answer instead of panicking, so a
// malformed payload can never take down ingestion.
type Payload map[string]any

// Header kinds accepted by Payload.Header.
const (
	HeaderTo      = "to"
	HeaderFrom    = "from"
	HeaderSubject = "subject"
	HeaderMsgID   = "msg_id"
)

func (p Payload) eventData() (map[string]any, bool) {
	m, ok := p["event-data"].(map[string]any)
	return m, ok
}

func (p Payload) message() (map[string]any, bool) {
	data, ok := p.eventData()
	if !ok {
		return nil, false
	}
	m, ok := data["message"].(map[string]any)
	return m, ok
}

func (p Payload) deliveryStatus() (map[string]any, bool) {
	data, ok := p.eventData()
	if !ok {
		return nil, false
	}
	m, ok := data["delivery-status"].(map[string]any)
	return m, ok
}

// ProviderID returns event-data.id. Its absence is a caller error and the
// pipeline refuses to store the event (see Repository.Store).
func (p Payload) ProviderID() (string, bool) {
	data, ok := p.eventData()
	if !ok {
		return "", false
	}
	id, ok := data["id"].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Header extracts a single message header. It returns nil unless
// event-data.message.headers exists and is a keyed map; msg_id maps to the
// payload key "message-id", every other kind maps to its own name, and
// unknown kinds resolve to nil.
func (p Payload) Header(kind string) *string {
	msg, ok := p.message()
	if !ok {
		return nil
	}
	headers, ok := msg["headers"].(map[string]any)
	if !ok {
		return nil
	}

	var key string
	switch kind {
	case HeaderTo, HeaderFrom, HeaderSubject:
		key = kind
	case HeaderMsgID:
		key = "message-id"
	default:
		return nil
	}

	if s, ok := headers[key].(string); ok {
		return &s
	}
	return nil
}

// HasAttachments returns 0 only when event-data.message.attachments is
// present AND an empty collection. Every other case, including the key
// being entirely absent, returns 1: downstream consumers read 1 as
// "present or unknown", so the permissive default is load-bearing.
func (p Payload) HasAttachments() int {
	msg, ok := p.message()
	if !ok {
		return 1
	}
	switch a := msg["attachments"].(type) {
	case []any:
		if len(a) == 0 {
			return 0
		}
	case map[string]any:
		if len(a) == 0 {
			return 0
		}
	}
	return 1
}

// AttemptNumber returns delivery-status.attempt-no, defaulting to 1.
func (p Payload) AttemptNumber() int {
	status, ok := p.deliveryStatus()
	if !ok {
		return 1
	}
	if n, ok := asInt64(status["attempt-no"]); ok {
		return int(n)
	}
	return 1
}

func (p Payload) DeliveryCode() *int64 {
	status, ok := p.deliveryStatus()
	if !ok {
		return nil
	}
	if n, ok := asInt64(status["code"]); ok {
		return &n
	}
	return nil
}

func (p Payload) DeliveryMessage() *string {
	status, ok := p.deliveryStatus()
	if !ok {
		return nil
	}
	if s, ok := status["description"].(string); ok {
		return &s
	}
	return nil
}

func (p Payload) RecipientDomain() *string {
	return p.eventDataString("recipient-domain")
}

func (p Payload) RecipientUser() *string {
	return p.eventDataString("recipient")
}

func (p Payload) eventDataString(key string) *string {
	data, ok := p.eventData()
	if !ok {
		return nil
	}
	if s, ok := data[key].(string); ok {
		return &s
	}
	return nil
}

// Flags returns event-data.flags, nil when absent or not a keyed map.
func (p Payload) Flags() map[string]any {
	data, ok := p.eventData()
	if !ok {
		return nil
	}
	flags, _ := data["flags"].(map[string]any)
	return flags
}

// Tags returns the string entries of event-data.tags.
func (p Payload) Tags() []string {
	data, ok := p.eventData()
	if !ok {
		return nil
	}
	raw, ok := data["tags"].([]any)
	if !ok {
		return nil
	}
	var tags []string
	for _, t := range raw {
		if s, ok := t.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}

// UserVariables returns event-data.user-variables, nil when absent or not
// a keyed map.
func (p Payload) UserVariables() map[string]any {
	data, ok := p.eventData()
	if !ok {
		return nil
	}
	vars, _ := data["user-variables"].(map[string]any)
	return vars
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case string:
		if parsed, err := strconv.ParseInt(n, 10, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}
