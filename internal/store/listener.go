package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// notificationConn is the single connection held in LISTEN mode.
type notificationConn interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

type listenFunc func(ctx context.Context) (notificationConn, error)

type snapshotFunc func(ctx context.Context, coll Collection, tenantID string) ([]Document, error)

// poolListen takes a connection out of the pool for good. A connection in
// LISTEN state must not be handed to other callers.
func poolListen(pool *pgxpool.Pool) listenFunc {
	return func(ctx context.Context) (notificationConn, error) {
		c, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire listener conn: %w", err)
		}
		conn := c.Hijack()
		if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
			_ = conn.Close(context.Background())
			return nil, fmt.Errorf("listen: %w", err)
		}
		return conn, nil
	}
}

type feed struct {
	coll     Collection
	tenantID string
	subs     map[*Subscription]struct{}
}

// listenHub fans NotifyChannel payloads out to subscriptions keyed by
// "collection:tenant". One connection serves every subscription; it is
// opened by the first subscriber and closed after the last one leaves.
type listenHub struct {
	listen listenFunc
	query  snapshotFunc

	mu    sync.Mutex
	feeds map[string]*feed
	stop  context.CancelFunc
	gen   int
}

func newListenHub(listen listenFunc, query snapshotFunc) *listenHub {
	return &listenHub{listen: listen, query: query, feeds: make(map[string]*feed)}
}

func (h *listenHub) subscribe(ctx context.Context, coll Collection, tenantID string) (*Subscription, error) {
	key := notifyPayload(coll, tenantID)

	var sub *Subscription
	sub = newSubscription(func() { h.remove(key, sub) })
	if err := h.add(ctx, key, coll, tenantID, sub); err != nil {
		return nil, err
	}

	// Registered before the first read so no change in between is lost.
	docs, err := h.query(ctx, coll, tenantID)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.publish(docs)
	sub.closeWith(ctx)
	return sub, nil
}

func (h *listenHub) add(ctx context.Context, key string, coll Collection, tenantID string, sub *Subscription) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stop == nil {
		conn, err := h.listen(ctx)
		if err != nil {
			return err
		}
		listenCtx, cancel := context.WithCancel(context.Background())
		h.gen++
		h.stop = cancel
		go h.run(listenCtx, conn, h.gen)
	}

	f, ok := h.feeds[key]
	if !ok {
		f = &feed{coll: coll, tenantID: tenantID, subs: make(map[*Subscription]struct{})}
		h.feeds[key] = f
	}
	f.subs[sub] = struct{}{}
	return nil
}

func (h *listenHub) remove(key string, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if f, ok := h.feeds[key]; ok {
		delete(f.subs, sub)
		if len(f.subs) == 0 {
			delete(h.feeds, key)
		}
	}
	if len(h.feeds) == 0 && h.stop != nil {
		h.stop()
		h.stop = nil
	}
}

func (h *listenHub) run(ctx context.Context, conn notificationConn, gen int) {
	defer conn.Close(context.Background())

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				h.abort(gen, fmt.Errorf("wait for notification: %w", err))
			}
			return
		}

		coll, tenantID, subs := h.lookup(n.Payload)
		if len(subs) == 0 {
			continue
		}
		docs, err := h.query(ctx, coll, tenantID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			for _, s := range subs {
				s.fail(err)
			}
			continue
		}
		for _, s := range subs {
			s.publish(docs)
		}
	}
}

func (h *listenHub) lookup(payload string) (Collection, string, []*Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, ok := h.feeds[payload]
	if !ok {
		return "", "", nil
	}
	subs := make([]*Subscription, 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	return f.coll, f.tenantID, subs
}

// abort ends every subscription of a listener whose connection broke. The
// next Subscribe opens a fresh one.
func (h *listenHub) abort(gen int, err error) {
	h.mu.Lock()
	if gen != h.gen || h.stop == nil {
		h.mu.Unlock()
		return
	}
	var subs []*Subscription
	for _, f := range h.feeds {
		for s := range f.subs {
			subs = append(subs, s)
		}
	}
	h.feeds = make(map[string]*feed)
	h.stop()
	h.stop = nil
	h.mu.Unlock()

	for _, s := range subs {
		s.fail(err)
	}
}
