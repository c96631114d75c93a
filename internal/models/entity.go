// Package models defines the back-office value types. Records enter the
// system only through Build (or BuildAttachment), which validates them and
// fixes their label, payload and checksum.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/starford/estatedesk/internal/apperr"
	"github.com/starford/estatedesk/internal/checksum"
)

// Kind names an entity collection.
type Kind string

const (
	KindProperty   Kind = "property"
	KindContact    Kind = "contact"
	KindMemo       Kind = "memo"
	KindPayment    Kind = "payment"
	KindSale       Kind = "sale"
	KindInvestment Kind = "investment"
	KindExpense    Kind = "expense"
	KindAttachment Kind = "attachment"
)

// Kinds returns every entity kind.
func Kinds() []Kind {
	return []Kind{KindProperty, KindContact, KindMemo, KindPayment, KindSale, KindInvestment, KindExpense, KindAttachment}
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Creatable reports whether the kind can be created from a JSON payload.
// Attachments are only created from uploaded or discovered files.
func (k Kind) Creatable() bool {
	_, ok := factories[k]
	return ok
}

// Entity is a validated, persisted record.
type Entity struct {
	Kind      Kind            `json:"kind"`
	ID        string          `json:"id"`
	Label     string          `json:"label"`
	Data      json.RawMessage `json:"data"`
	Checksum  string          `json:"checksum"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Summary returns the identifying part of e.
func (e Entity) Summary() Summary {
	return Summary{Kind: e.Kind, ID: e.ID, Label: e.Label}
}

// Summary is the lightweight form of an entity shown in lists and link panes.
type Summary struct {
	Kind  Kind   `json:"kind"`
	ID    string `json:"id"`
	Label string `json:"label"`
}

// LinkID returns the identifier the linking engine partitions on.
func (s Summary) LinkID() string { return s.ID }

// LinkLabel returns the text the linking engine filters on.
func (s Summary) LinkLabel() string { return s.Label }

type record interface {
	Validate() error
	normalize()
	label() string
}

var factories = map[Kind]func() record{
	KindProperty:   func() record { return &Property{} },
	KindContact:    func() record { return &Contact{} },
	KindMemo:       func() record { return &Memo{} },
	KindPayment:    func() record { return &Payment{} },
	KindSale:       func() record { return &Sale{} },
	KindInvestment: func() record { return &Investment{} },
	KindExpense:    func() record { return &Expense{} },
}

// Build decodes raw as a record of kind, validates it and returns the entity
// to persist. Validation failures wrap apperr.ErrValidation.
func Build(kind Kind, id string, raw []byte, now time.Time) (Entity, error) {
	factory, ok := factories[kind]
	if !ok {
		return Entity{}, fmt.Errorf("%w: kind %q cannot be created directly", apperr.ErrValidation, kind)
	}
	if id == "" {
		return Entity{}, fmt.Errorf("%w: id is required", apperr.ErrValidation)
	}

	rec := factory()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(rec); err != nil {
		return Entity{}, fmt.Errorf("%w: %s: %v", apperr.ErrValidation, kind, err)
	}
	return seal(kind, id, rec, now)
}

// BuildAttachment validates an attachment record. Its id is the file name.
func BuildAttachment(a Attachment, now time.Time) (Entity, error) {
	return seal(KindAttachment, a.Filename, &a, now)
}

func seal(kind Kind, id string, rec record, now time.Time) (Entity, error) {
	rec.normalize()
	if err := rec.Validate(); err != nil {
		return Entity{}, fmt.Errorf("%w: %s: %v", apperr.ErrValidation, kind, err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return Entity{}, fmt.Errorf("models: encode %s: %w", kind, err)
	}
	now = now.UTC()
	return Entity{
		Kind:      kind,
		ID:        id,
		Label:     rec.label(),
		Data:      data,
		Checksum:  checksum.Sum(data),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Decode unmarshals the payload of e into a typed record.
func Decode[T any](e Entity) (T, error) {
	var out T
	if err := json.Unmarshal(e.Data, &out); err != nil {
		return out, fmt.Errorf("models: decode %s %s: %w", e.Kind, e.ID, err)
	}
	return out, nil
}
