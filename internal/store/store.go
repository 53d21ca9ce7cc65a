// Package store defines the tenant-keyed document store the clinic domain is
// persisted in, together with in-memory, Postgres and MongoDB implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("document conflicts with an existing document")
	ErrClosed   = errors.New("store closed")
)

type Collection string

const (
	Tenants       Collection = "tenants"
	Users         Collection = "users"
	Patients      Collection = "patients"
	Appointments  Collection = "appointments"
	Records       Collection = "medical_records"
	Prescriptions Collection = "prescriptions"
	Bills         Collection = "bills"
)

// Collections lists every collection the domain writes to.
var Collections = []Collection{Tenants, Users, Patients, Appointments, Records, Prescriptions, Bills}

func ParseCollection(raw string) (Collection, error) {
	for _, c := range Collections {
		if string(c) == raw {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown collection %q", raw)
}

// Document is a stored JSON object. Data always carries the "id" field.
type Document struct {
	ID       string
	TenantID string
	Data     json.RawMessage
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.ID, err)
	}
	return nil
}

// Filter selects documents of one collection. An empty TenantID spans all
// tenants and is only meant for platform collections (tenants, users).
// Where matches top-level fields by equality.
type Filter struct {
	TenantID string
	Where    map[string]any
	Limit    int
}

// Ops is the read/write surface available both on a Store and inside a transaction.
type Ops interface {
	Get(ctx context.Context, coll Collection, tenantID, id string) (Document, error)
	Put(ctx context.Context, coll Collection, tenantID, id string, doc any) error
	Patch(ctx context.Context, coll Collection, tenantID, id string, fields map[string]any) error
	Query(ctx context.Context, coll Collection, f Filter) ([]Document, error)
	Add(ctx context.Context, coll Collection, tenantID string, doc any) (string, error)
}

// Store is the entity store consumed by the domain layer.
type Store interface {
	Ops

	// Subscribe pushes the full matching document set immediately and again
	// after every committed change, until ctx is done or the subscription is closed.
	Subscribe(ctx context.Context, coll Collection, tenantID string) (*Subscription, error)

	// RunInTx applies every write made through the given Ops atomically.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Ops) error) error
}

// Watch subscribes, hands each snapshot to fn and always releases the
// subscription. It returns when ctx is done, the feed ends or fn fails.
func Watch(ctx context.Context, s Store, coll Collection, tenantID string, fn func([]Document) error) error {
	sub, err := s.Subscribe(ctx, coll, tenantID)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case docs, ok := <-sub.C:
			if !ok {
				return sub.Err()
			}
			if err := fn(docs); err != nil {
				return err
			}
		}
	}
}

// DecodeAll unmarshals every document into a fresh T.
func DecodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := d.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// encode marshals doc to a JSON object and stamps the id field.
func encode(id string, doc any) (json.RawMessage, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("document must be a JSON object: %w", err)
	}
	if obj == nil {
		obj = map[string]any{}
	}
	obj["id"] = id
	return json.Marshal(obj)
}
