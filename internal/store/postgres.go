package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel carries "collection:tenant" payloads for every committed write.
const NotifyChannel = "documents_changed"

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgDB interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres keeps every collection in one JSONB documents table
// (see internal/db/migrations).
type Postgres struct {
	db       pgDB
	listener *pgxpool.Pool
	hub      *listenHub
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return newPostgresWithDB(pool, pool)
}

// newPostgresWithDB lets tests drive the store with pgxmock. Subscribe needs
// a real pool and fails when listener is nil.
func newPostgresWithDB(db pgDB, listener *pgxpool.Pool) *Postgres {
	p := &Postgres{db: db, listener: listener}
	if listener != nil {
		p.hub = newListenHub(poolListen(listener), p.snapshot)
	}
	return p
}

func (p *Postgres) Get(ctx context.Context, coll Collection, tenantID, id string) (Document, error) {
	return pgGet(ctx, p.db, coll, tenantID, id)
}

func (p *Postgres) Put(ctx context.Context, coll Collection, tenantID, id string, doc any) error {
	return pgPut(ctx, p.db, coll, tenantID, id, doc)
}

func (p *Postgres) Patch(ctx context.Context, coll Collection, tenantID, id string, fields map[string]any) error {
	return pgPatch(ctx, p.db, coll, tenantID, id, fields)
}

func (p *Postgres) Query(ctx context.Context, coll Collection, f Filter) ([]Document, error) {
	return pgQuery(ctx, p.db, coll, f)
}

func (p *Postgres) Add(ctx context.Context, coll Collection, tenantID string, doc any) (string, error) {
	return pgAdd(ctx, p.db, coll, tenantID, doc)
}

func (p *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Ops) error) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, pgOps{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Subscribe registers with the store's shared LISTEN connection and
// re-reads the collection whenever a matching notification arrives.
func (p *Postgres) Subscribe(ctx context.Context, coll Collection, tenantID string) (*Subscription, error) {
	if p.hub == nil {
		return nil, errors.New("postgres store: listener pool not configured")
	}
	return p.hub.subscribe(ctx, coll, tenantID)
}

func (p *Postgres) snapshot(ctx context.Context, coll Collection, tenantID string) ([]Document, error) {
	return p.Query(ctx, coll, Filter{TenantID: tenantID})
}

// Ping checks the pool behind the store.
func (p *Postgres) Ping(ctx context.Context) error {
	if p.listener == nil {
		return errors.New("postgres store: pool not configured")
	}
	return p.listener.Ping(ctx)
}

type pgOps struct {
	q querier
}

func (o pgOps) Get(ctx context.Context, coll Collection, tenantID, id string) (Document, error) {
	return pgGet(ctx, o.q, coll, tenantID, id)
}

func (o pgOps) Put(ctx context.Context, coll Collection, tenantID, id string, doc any) error {
	return pgPut(ctx, o.q, coll, tenantID, id, doc)
}

func (o pgOps) Patch(ctx context.Context, coll Collection, tenantID, id string, fields map[string]any) error {
	return pgPatch(ctx, o.q, coll, tenantID, id, fields)
}

func (o pgOps) Query(ctx context.Context, coll Collection, f Filter) ([]Document, error) {
	return pgQuery(ctx, o.q, coll, f)
}

func (o pgOps) Add(ctx context.Context, coll Collection, tenantID string, doc any) (string, error) {
	return pgAdd(ctx, o.q, coll, tenantID, doc)
}

// Helpers

func notifyPayload(coll Collection, tenantID string) string {
	return string(coll) + ":" + tenantID
}

func notify(ctx context.Context, q querier, coll Collection, tenantID string) error {
	if _, err := q.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, notifyPayload(coll, tenantID)); err != nil {
		return fmt.Errorf("notify %s: %w", coll, err)
	}
	return nil
}

func scanDocument(row pgx.Row, coll Collection) (Document, error) {
	var d Document
	var data []byte

	err := row.Scan(&d.ID, &d.TenantID, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("scan %s: %w", coll, err)
	}

	d.Data = json.RawMessage(data)
	return d, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func pgGet(ctx context.Context, q querier, coll Collection, tenantID, id string) (Document, error) {
	row := q.QueryRow(ctx, `
		SELECT id, tenant_id, data
		FROM documents
		WHERE collection = $1 AND tenant_id = $2 AND id = $3
	`, string(coll), tenantID, id)
	return scanDocument(row, coll)
}

func pgPut(ctx context.Context, q querier, coll Collection, tenantID, id string, doc any) error {
	data, err := encode(id, doc)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO documents (collection, tenant_id, id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (collection, tenant_id, id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, string(coll), tenantID, id, []byte(data))
	if err != nil {
		return fmt.Errorf("put %s: %w", coll, mapWriteError(err))
	}
	return notify(ctx, q, coll, tenantID)
}

func pgPatch(ctx context.Context, q querier, coll Collection, tenantID, id string, fields map[string]any) error {
	patch, err := normalize(fields)
	if err != nil {
		return err
	}
	delete(patch, "id")
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}

	tag, err := q.Exec(ctx, `
		UPDATE documents
		SET data = data || $4::jsonb,
		    updated_at = now()
		WHERE collection = $1 AND tenant_id = $2 AND id = $3
	`, string(coll), tenantID, id, data)
	if err != nil {
		return fmt.Errorf("patch %s: %w", coll, mapWriteError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return notify(ctx, q, coll, tenantID)
}

func pgQuery(ctx context.Context, q querier, coll Collection, f Filter) ([]Document, error) {
	var sb strings.Builder
	args := []any{string(coll)}

	sb.WriteString(`
		SELECT id, tenant_id, data
		FROM documents
		WHERE collection = $1`)
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		fmt.Fprintf(&sb, " AND tenant_id = $%d", len(args))
	}
	if len(f.Where) > 0 {
		where, err := json.Marshal(f.Where)
		if err != nil {
			return nil, fmt.Errorf("encode filter: %w", err)
		}
		args = append(args, where)
		fmt.Fprintf(&sb, " AND data @> $%d::jsonb", len(args))
	}
	sb.WriteString(" ORDER BY created_at, id")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := q.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", coll, err)
	}
	defer rows.Close()

	var result []Document
	for rows.Next() {
		d, err := scanDocument(rows, coll)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func pgAdd(ctx context.Context, q querier, coll Collection, tenantID string, doc any) (string, error) {
	id := uuid.NewString()
	data, err := encode(id, doc)
	if err != nil {
		return "", err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO documents (collection, tenant_id, id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, string(coll), tenantID, id, []byte(data))
	if err != nil {
		return "", fmt.Errorf("add %s: %w", coll, mapWriteError(err))
	}
	if err := notify(ctx, q, coll, tenantID); err != nil {
		return "", err
	}
	return id, nil
}
