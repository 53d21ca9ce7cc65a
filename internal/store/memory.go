package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type docKey struct {
	coll     Collection
	tenantID string
	id       string
}

type memEntry struct {
	data json.RawMessage
	seq  uint64
}

type feedKey struct {
	coll     Collection
	tenantID string
}

// Memory is a process-local Store. Transactions are serialized and staged
// so a failed transaction leaves nothing behind.
type Memory struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	docs map[docKey]memEntry
	seq  uint64
	subs map[feedKey]map[*Subscription]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		docs: make(map[docKey]memEntry),
		subs: make(map[feedKey]map[*Subscription]struct{}),
	}
}

func (m *Memory) Get(ctx context.Context, coll Collection, tenantID, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.docs[docKey{coll, tenantID, id}]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, TenantID: tenantID, Data: e.data}, nil
}

func (m *Memory) Put(ctx context.Context, coll Collection, tenantID, id string, doc any) error {
	data, err := encode(id, doc)
	if err != nil {
		return err
	}
	return m.commit(map[docKey]json.RawMessage{{coll, tenantID, id}: data})
}

func (m *Memory) Patch(ctx context.Context, coll Collection, tenantID, id string, fields map[string]any) error {
	m.mu.RLock()
	e, ok := m.docs[docKey{coll, tenantID, id}]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	data, err := mergeFields(e.data, fields)
	if err != nil {
		return err
	}
	return m.commit(map[docKey]json.RawMessage{{coll, tenantID, id}: data})
}

func (m *Memory) Query(ctx context.Context, coll Collection, f Filter) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.query(nil, coll, f)
}

func (m *Memory) Add(ctx context.Context, coll Collection, tenantID string, doc any) (string, error) {
	id := uuid.NewString()
	if err := m.Put(ctx, coll, tenantID, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Memory) Subscribe(ctx context.Context, coll Collection, tenantID string) (*Subscription, error) {
	key := feedKey{coll, tenantID}
	var sub *Subscription
	sub = newSubscription(func() {
		m.mu.Lock()
		delete(m.subs[key], sub)
		if len(m.subs[key]) == 0 {
			delete(m.subs, key)
		}
		m.mu.Unlock()
	})

	m.mu.Lock()
	if m.subs[key] == nil {
		m.subs[key] = make(map[*Subscription]struct{})
	}
	m.subs[key][sub] = struct{}{}
	docs, err := m.query(nil, coll, Filter{TenantID: tenantID})
	m.mu.Unlock()
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.publish(docs)
	sub.closeWith(ctx)
	return sub, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Ops) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memTx{m: m, staged: make(map[docKey]json.RawMessage)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if len(tx.staged) == 0 {
		return nil
	}
	return m.commit(tx.staged)
}

// commit applies writes under one lock and fans out fresh snapshots.
func (m *Memory) commit(writes map[docKey]json.RawMessage) error {
	m.mu.Lock()
	touched := make(map[feedKey]struct{})
	keys := make([]docKey, 0, len(writes))
	for k := range writes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].id < keys[j].id })
	for _, k := range keys {
		seq := m.docs[k].seq
		if seq == 0 {
			m.seq++
			seq = m.seq
		}
		m.docs[k] = memEntry{data: writes[k], seq: seq}
		touched[feedKey{k.coll, k.tenantID}] = struct{}{}
	}

	type delivery struct {
		subs []*Subscription
		docs []Document
	}
	var out []delivery
	for fk := range touched {
		if len(m.subs[fk]) == 0 {
			continue
		}
		docs, err := m.query(nil, fk.coll, Filter{TenantID: fk.tenantID})
		if err != nil {
			m.mu.Unlock()
			return err
		}
		d := delivery{docs: docs}
		for s := range m.subs[fk] {
			d.subs = append(d.subs, s)
		}
		out = append(out, d)
	}
	m.mu.Unlock()

	for _, d := range out {
		for _, s := range d.subs {
			s.publish(d.docs)
		}
	}
	return nil
}

// query must be called with m.mu held. staged overlays uncommitted writes.
func (m *Memory) query(staged map[docKey]json.RawMessage, coll Collection, f Filter) ([]Document, error) {
	type hit struct {
		doc Document
		seq uint64
	}
	var hits []hit
	seen := make(map[docKey]bool)

	consider := func(k docKey, data json.RawMessage, seq uint64) error {
		if k.coll != coll || (f.TenantID != "" && k.tenantID != f.TenantID) {
			return nil
		}
		ok, err := matches(data, f.Where)
		if err != nil || !ok {
			return err
		}
		hits = append(hits, hit{Document{ID: k.id, TenantID: k.tenantID, Data: data}, seq})
		return nil
	}

	for k, data := range staged {
		seen[k] = true
		seq := m.docs[k].seq
		if seq == 0 {
			seq = ^uint64(0)
		}
		if err := consider(k, data, seq); err != nil {
			return nil, err
		}
	}
	for k, e := range m.docs {
		if seen[k] {
			continue
		}
		if err := consider(k, e.data, e.seq); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].seq < hits[j].seq })
	if f.Limit > 0 && len(hits) > f.Limit {
		hits = hits[:f.Limit]
	}
	docs := make([]Document, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, h.doc)
	}
	return docs, nil
}

type memTx struct {
	m      *Memory
	staged map[docKey]json.RawMessage
}

func (t *memTx) current(k docKey) (json.RawMessage, bool) {
	if data, ok := t.staged[k]; ok {
		return data, true
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	e, ok := t.m.docs[k]
	return e.data, ok
}

func (t *memTx) Get(ctx context.Context, coll Collection, tenantID, id string) (Document, error) {
	data, ok := t.current(docKey{coll, tenantID, id})
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, TenantID: tenantID, Data: data}, nil
}

func (t *memTx) Put(ctx context.Context, coll Collection, tenantID, id string, doc any) error {
	data, err := encode(id, doc)
	if err != nil {
		return err
	}
	t.staged[docKey{coll, tenantID, id}] = data
	return nil
}

func (t *memTx) Patch(ctx context.Context, coll Collection, tenantID, id string, fields map[string]any) error {
	k := docKey{coll, tenantID, id}
	data, ok := t.current(k)
	if !ok {
		return ErrNotFound
	}
	merged, err := mergeFields(data, fields)
	if err != nil {
		return err
	}
	t.staged[k] = merged
	return nil
}

func (t *memTx) Query(ctx context.Context, coll Collection, f Filter) ([]Document, error) {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	return t.m.query(t.staged, coll, f)
}

func (t *memTx) Add(ctx context.Context, coll Collection, tenantID string, doc any) (string, error) {
	id := uuid.NewString()
	if err := t.Put(ctx, coll, tenantID, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

func mergeFields(data json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	patch, err := normalize(fields)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		obj[k] = v
	}
	return json.Marshal(obj)
}

// matches compares Where values after a JSON round trip so Go values and
// stored values share one representation.
func matches(data json.RawMessage, where map[string]any) (bool, error) {
	if len(where) == 0 {
		return true, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return false, fmt.Errorf("decode stored document: %w", err)
	}
	want, err := normalize(where)
	if err != nil {
		return false, err
	}
	for k, v := range want {
		if !reflect.DeepEqual(obj[k], v) {
			return false, nil
		}
	}
	return true, nil
}

func normalize(fields map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return out, nil
}
