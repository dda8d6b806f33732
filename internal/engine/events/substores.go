package events

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sub-stores persist the dependent data of an event. The repository only
// depends on these interfaces; the sqlite implementations below are the
// defaults wired at composition time.

type FlagStore interface {
	CreateFlags(flags map[string]any, eventID string) error
}

type TagStore interface {
	TagEvent(tags []string, eventID string) error
}

type VariableStore interface {
	ProcessEventVariables(vars map[string]any, eventID string) error
}

type FlagRepository struct {
	db *sql.DB
}

func NewFlagRepository(db *sql.DB) *FlagRepository {
	return &FlagRepository{db: db}
}

// CreateFlags writes one row per flag name. Non-boolean flag values are
// treated as set when non-nil.
func (r *FlagRepository) CreateFlags(flags map[string]any, eventID string) error {
	query := `
		INSERT INTO event_flags (id, event_id, flag_name, flag_value, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := time.Now().Unix()
	for name, value := range flags {
		set := 0
		switch v := value.(type) {
		case bool:
			if v {
				set = 1
			}
		case nil:
		default:
			set = 1
		}

		if _, err := r.db.Exec(query, "evf_"+uuid.New().String(), eventID, name, set, now); err != nil {
			return err
		}
	}
	return nil
}

type TagRepository struct {
	db *sql.DB
}

func NewTagRepository(db *sql.DB) *TagRepository {
	return &TagRepository{db: db}
}

func (r *TagRepository) TagEvent(tags []string, eventID string) error {
	query := `
		INSERT INTO event_tags (id, event_id, tag, created_at)
		VALUES (?, ?, ?, ?)
	`
	now := time.Now().Unix()
	for _, tag := range tags {
		if _, err := r.db.Exec(query, "evt_tag_"+uuid.New().String(), eventID, tag, now); err != nil {
			return err
		}
	}
	return nil
}

type VariableRepository struct {
	db *sql.DB
}

func NewVariableRepository(db *sql.DB) *VariableRepository {
	return &VariableRepository{db: db}
}

// ProcessEventVariables writes one row per variable. Values are stored as
// their string rendering; nil values are stored as NULL.
func (r *VariableRepository) ProcessEventVariables(vars map[string]any, eventID string) error {
	query := `
		INSERT INTO event_variables (id, event_id, name, value, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := time.Now().Unix()
	for name, value := range vars {
		var stored *string
		if value != nil {
			s := fmt.Sprintf("%v", value)
			stored = &s
		}

		if _, err := r.db.Exec(query, "evv_"+uuid.New().String(), eventID, name, stored, now); err != nil {
			return err
		}
	}
	return nil
}
