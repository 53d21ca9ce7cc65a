package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListenConn struct {
	notes  chan *pgconn.Notification
	broken chan error
	closed chan struct{}
	once   sync.Once
}

func (c *fakeListenConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n := <-c.notes:
		return n, nil
	case err := <-c.broken:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeListenConn) Close(ctx context.Context) error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeListener struct {
	mu    sync.Mutex
	conns []*fakeListenConn
}

func (l *fakeListener) listen(ctx context.Context) (notificationConn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := &fakeListenConn{
		notes:  make(chan *pgconn.Notification),
		broken: make(chan error, 1),
		closed: make(chan struct{}),
	}
	l.conns = append(l.conns, c)
	return c, nil
}

func (l *fakeListener) opened() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

func (l *fakeListener) last() *fakeListenConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conns[len(l.conns)-1]
}

func (l *fakeListener) notify(t *testing.T, payload string) {
	t.Helper()
	select {
	case l.last().notes <- &pgconn.Notification{Channel: NotifyChannel, Payload: payload}:
	case <-time.After(time.Second):
		t.Fatal("listener is not reading notifications")
	}
}

func recvDocs(t *testing.T, sub *Subscription) []Document {
	t.Helper()
	select {
	case docs, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return docs
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
		return nil
	}
}

func documentRows(tenantID string, ids ...string) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"id", "tenant_id", "data"})
	for _, id := range ids {
		rows.AddRow(id, tenantID, []byte(`{"id":"`+id+`"}`))
	}
	return rows
}

func newHubPostgres(t *testing.T) (*Postgres, pgxmock.PgxPoolIface, *fakeListener) {
	t.Helper()
	p, mock := newMockPostgres(t)
	l := &fakeListener{}
	p.hub = newListenHub(l.listen, p.snapshot)
	return p, mock, l
}

func TestPostgresSubscriptionsShareOneListener(t *testing.T) {
	ctx := context.Background()
	p, mock, l := newHubPostgres(t)

	mock.ExpectQuery("FROM documents").WithArgs("patients", "t1").WillReturnRows(documentRows("t1", "p1"))
	first, err := p.Subscribe(ctx, Patients, "t1")
	require.NoError(t, err)

	mock.ExpectQuery("FROM documents").WithArgs("patients", "t1").WillReturnRows(documentRows("t1", "p1"))
	second, err := p.Subscribe(ctx, Patients, "t1")
	require.NoError(t, err)

	mock.ExpectQuery("FROM documents").WithArgs("appointments", "t1").WillReturnRows(documentRows("t1", "a1"))
	appts, err := p.Subscribe(ctx, Appointments, "t1")
	require.NoError(t, err)

	assert.Equal(t, 1, l.opened())
	assert.Len(t, recvDocs(t, first), 1)
	assert.Len(t, recvDocs(t, second), 1)
	assert.Len(t, recvDocs(t, appts), 1)

	// One re-read serves every subscriber of the payload.
	mock.ExpectQuery("FROM documents").WithArgs("patients", "t1").WillReturnRows(documentRows("t1", "p1", "p2"))
	l.notify(t, "patients:t1")
	assert.Len(t, recvDocs(t, first), 2)
	assert.Len(t, recvDocs(t, second), 2)

	// Nobody follows t2, so nothing is read.
	l.notify(t, "patients:t2")

	mock.ExpectQuery("FROM documents").WithArgs("appointments", "t1").WillReturnRows(documentRows("t1", "a1", "a2"))
	l.notify(t, "appointments:t1")
	got := recvDocs(t, appts)
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[1].ID)
	assert.Empty(t, first.C)
	assert.Empty(t, second.C)

	first.Close()
	second.Close()
	select {
	case <-l.last().closed:
		t.Fatal("listener closed while a subscription remains")
	default:
	}

	appts.Close()
	select {
	case <-l.last().closed:
	case <-time.After(time.Second):
		t.Fatal("listener not closed after the last subscription")
	}
	assert.Equal(t, 1, l.opened())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListenerReopensAfterFailure(t *testing.T) {
	ctx := context.Background()
	p, mock, l := newHubPostgres(t)

	mock.ExpectQuery("FROM documents").WithArgs("patients", "t1").WillReturnRows(documentRows("t1", "p1"))
	sub, err := p.Subscribe(ctx, Patients, "t1")
	require.NoError(t, err)
	recvDocs(t, sub)

	l.last().broken <- errors.New("connection reset")
	select {
	case _, ok := <-sub.C:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not ended")
	}
	assert.ErrorContains(t, sub.Err(), "connection reset")

	mock.ExpectQuery("FROM documents").WithArgs("patients", "t1").WillReturnRows(documentRows("t1", "p1"))
	again, err := p.Subscribe(ctx, Patients, "t1")
	require.NoError(t, err)
	defer again.Close()
	recvDocs(t, again)
	assert.Equal(t, 2, l.opened())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSubscriptionEndsWithContext(t *testing.T) {
	p, mock, l := newHubPostgres(t)
	ctx, cancel := context.WithCancel(context.Background())

	mock.ExpectQuery("FROM documents").WithArgs("patients", "t1").WillReturnRows(documentRows("t1"))
	sub, err := p.Subscribe(ctx, Patients, "t1")
	require.NoError(t, err)
	recvDocs(t, sub)

	cancel()
	select {
	case <-l.last().closed:
	case <-time.After(time.Second):
		t.Fatal("listener not closed after cancel")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}
