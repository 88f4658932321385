// Package httpapi exposes a lumidb.DB over HTTP: a gorilla/mux REST
// surface for writes, queries, and explain, and a gorilla/websocket
// endpoint that streams a collection's change events - grounded in the
// teacher's httpapi/openapi.go REST-plus-websocket shape, rebuilt here
// over mux instead of chi since the rest of the domain stack already
// commits to gorilla.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/lumidb/lumidb"
	"github.com/lumidb/lumidb/document"
	"github.com/lumidb/lumidb/errors"
	"github.com/lumidb/lumidb/query"
)

// Server is lumidb's http transport: one DB fronted by a mux.Router.
type Server struct {
	db     *lumidb.DB
	router *mux.Router
	logger lumidb.Logger
	upgrade websocket.Upgrader
}

// New builds a Server wired to db.
func New(db *lumidb.DB, logger lumidb.Logger) *Server {
	s := &Server{
		db:     db,
		router: mux.NewRouter(),
		logger: logger,
		upgrade: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.router.HandleFunc("/collections/{collection}/documents", s.insertDoc).Methods(http.MethodPost)
	s.router.HandleFunc("/collections/{collection}/documents/{id}", s.deleteDoc).Methods(http.MethodDelete)
	s.router.HandleFunc("/collections/{collection}/cmd/query", s.query).Methods(http.MethodPost)
	s.router.HandleFunc("/collections/{collection}/cmd/explain", s.explain).Methods(http.MethodPost)
	s.router.HandleFunc("/collections/{collection}/watch", s.watch).Methods(http.MethodGet)
	return s
}

// Handler returns the http.Handler serving every registered route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts an http server on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) insertDoc(w http.ResponseWriter, r *http.Request) {
	coll := mux.Vars(r)["collection"]
	body, err := readDoc(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.db.Insert(r.Context(), coll, body); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) deleteDoc(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.db.Delete(r.Context(), vars["collection"], vars["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	coll := mux.Vars(r)["collection"]
	var q query.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, errors.Wrap(err, errors.Validation, "invalid query body"))
		return
	}
	docs, err := s.db.Query(r.Context(), coll, q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) explain(w http.ResponseWriter, r *http.Request) {
	coll := mux.Vars(r)["collection"]
	var q query.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, errors.Wrap(err, errors.Validation, "invalid query body"))
		return
	}
	plans, err := s.db.Explain(r.Context(), coll, q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

// watch upgrades the request to a websocket and streams every ChangeEvent
// published for the named collection until the client disconnects.
func (s *Server) watch(w http.ResponseWriter, r *http.Request) {
	coll := mux.Vars(r)["collection"]
	conn, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = s.db.Watch(ctx, coll, func(_ context.Context, evt lumidb.ChangeEvent) error {
		return conn.WriteJSON(evt)
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Warn(r.Context(), "watch subscription ended", map[string]any{"error": err.Error(), "collection": coll})
	}
}

func readDoc(r *http.Request) (*document.Document, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, errors.Validation, "invalid document body")
	}
	return document.NewFromBytes(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	e := errors.Extract(err)
	code := int(e.Code)
	if code < 400 || code > 599 {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, e.RemoveError())
}
