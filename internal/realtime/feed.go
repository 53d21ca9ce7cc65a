// Package realtime streams live collection snapshots to browser clients over
// WebSockets. Each message carries the full visible document set of one
// collection.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-opd/internal/authz"
	"github.com/hackgods/clinic-opd/internal/session"
	"github.com/hackgods/clinic-opd/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

const (
	TypeSnapshot = "snapshot"
	TypeError    = "error"
)

var ErrCollectionForbidden = errors.New("collection not visible to this role")

// Message is one frame sent to the client.
type Message struct {
	Type       string            `json:"type"`
	Collection store.Collection  `json:"collection"`
	Documents  []json.RawMessage `json:"documents,omitempty"`
	At         time.Time         `json:"at"`
	Error      string            `json:"error,omitempty"`
}

var viewAction = map[store.Collection]authz.Action{
	store.Tenants:       authz.ViewSettings,
	store.Users:         authz.ViewStaff,
	store.Patients:      authz.ViewPatients,
	store.Appointments:  authz.ViewAppointments,
	store.Records:       authz.ViewRecords,
	store.Prescriptions: authz.ViewPrescriptions,
	store.Bills:         authz.ViewBilling,
}

// Visible lists the collections sess may watch.
func Visible(sess session.Session) []store.Collection {
	var out []store.Collection
	for _, c := range store.Collections {
		if sess.Can(viewAction[c]) {
			out = append(out, c)
		}
	}
	return out
}

// Feed upgrades authenticated requests and fans store snapshots out to them.
type Feed struct {
	st       store.Store
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.Mutex
	clients int
}

func NewFeed(st store.Store, logger zerolog.Logger) *Feed {
	return &Feed{
		st:     st,
		logger: logger.With().Str("component", "realtime").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		now: time.Now,
	}
}

// Clients reports the number of open connections.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients
}

// ServeHTTP expects a session in the request context. The optional
// "collections" query parameter is a comma separated subset to watch.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	colls, err := requested(sess, r.URL.Query().Get("collections"))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrCollectionForbidden) {
			status = http.StatusForbidden
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	f.track(1)
	defer f.track(-1)
	f.serve(r.Context(), conn, sess, colls)
}

func (f *Feed) track(delta int) {
	f.mu.Lock()
	f.clients += delta
	f.mu.Unlock()
}

func requested(sess session.Session, raw string) ([]store.Collection, error) {
	if strings.TrimSpace(raw) == "" {
		return Visible(sess), nil
	}
	seen := make(map[store.Collection]bool)
	var out []store.Collection
	for _, part := range strings.Split(raw, ",") {
		c, err := store.ParseCollection(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		if !sess.Can(viewAction[c]) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionForbidden, c)
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *Feed) serve(parent context.Context, conn *websocket.Conn, sess session.Session, colls []store.Collection) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer conn.Close()

	logger := f.logger.With().Str("tenant_id", sess.TenantID).Str("user_id", sess.UserID).Logger()
	logger.Debug().Int("collections", len(colls)).Msg("feed opened")

	send := make(chan Message, len(colls))
	var wg sync.WaitGroup
	for _, c := range colls {
		wg.Add(1)
		go func(c store.Collection) {
			defer wg.Done()
			err := store.Watch(ctx, f.st, c, sess.TenantID, func(docs []store.Document) error {
				visible, err := project(sess, c, docs)
				if err != nil {
					return err
				}
				return deliver(ctx, send, Message{Type: TypeSnapshot, Collection: c, Documents: visible, At: f.now().UTC()})
			})
			if err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Str("collection", string(c)).Msg("watch failed")
				_ = deliver(ctx, send, Message{Type: TypeError, Collection: c, Error: "feed interrupted", At: f.now().UTC()})
			}
		}(c)
	}

	go readPump(conn, cancel)
	writePump(ctx, conn, send)

	cancel()
	wg.Wait()
	logger.Debug().Msg("feed closed")
}

func deliver(ctx context.Context, send chan<- Message, msg Message) error {
	select {
	case send <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump drains client frames so control messages are processed, and
// cancels the feed once the peer goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, send <-chan Message) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// project drops what the session must not see: other doctors' appointments
// for a Doctor, and password hashes on staff documents.
func project(sess session.Session, coll store.Collection, docs []store.Document) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(docs))
	for _, d := range docs {
		data := d.Data
		switch {
		case coll == store.Appointments && sess.Role == authz.RoleDoctor:
			var a struct {
				DoctorID string `json:"doctorId"`
			}
			if err := d.Decode(&a); err != nil {
				return nil, err
			}
			if a.DoctorID != sess.UserID {
				continue
			}
		case coll == store.Users:
			var fields map[string]json.RawMessage
			if err := d.Decode(&fields); err != nil {
				return nil, err
			}
			delete(fields, "passwordHash")
			b, err := json.Marshal(fields)
			if err != nil {
				return nil, err
			}
			data = b
		}
		out = append(out, data)
	}
	return out, nil
}
