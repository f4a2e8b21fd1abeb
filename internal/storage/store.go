package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Store bundles all repositories over one connection. A Store produced by
// InTx is bound to the transaction instead; every repository call through it
// commits or rolls back together.
type Store struct {
	db *sql.DB // nil when transaction-bound
	q  DB

	Machines      *MachineRepository
	Documents     *DocumentRepository
	Pages         *PageRepository
	Components    *ComponentRepository
	Connections   *ConnectionRepository
	WireLabels    *WireLabelRepository
	Continuations *ContinuationRepository
	Errors        *ExtractionErrorRepository
	Validations   *ValidationResultRepository
}

// NewStore creates a Store over the given connection.
func NewStore(db *sql.DB) *Store {
	s := bindStore(db)
	s.db = db
	return s
}

func bindStore(q DB) *Store {
	return &Store{
		q:             q,
		Machines:      &MachineRepository{db: q},
		Documents:     &DocumentRepository{db: q},
		Pages:         &PageRepository{db: q},
		Components:    &ComponentRepository{db: q},
		Connections:   &ConnectionRepository{db: q},
		WireLabels:    &WireLabelRepository{db: q},
		Continuations: &ContinuationRepository{db: q},
		Errors:        &ExtractionErrorRepository{db: q},
		Validations:   &ValidationResultRepository{db: q},
	}
}

// InTx runs fn against a transaction-bound Store. The transaction commits
// when fn returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.db == nil {
		return errors.New("storage: nested transactions are not supported")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(bindStore(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// wrapWrite maps driver-level uniqueness violations onto ErrConflict so
// callers need not import driver packages.
func wrapWrite(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// marshalJSON renders v as a nullable TEXT column value.
func marshalJSON(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// unmarshalJSON fills dst from a nullable TEXT column value.
func unmarshalJSON(src sql.NullString, dst any) error {
	if !src.Valid || src.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(src.String), dst)
}
