// Package matrixingest receives Matrix application-service transactions and
// dispatches their events to the bridge core.
package matrixingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/palpo-im/zulipbridge/internal/bridgeerr"
)

// Handlers is the set of callbacks the bridge core wires onto dispatched
// event types. A nil callback means that type is ignored.
type Handlers struct {
	OnMessage  func(ctx context.Context, event MEvent, relation *Relation) error
	OnMember   func(ctx context.Context, event MEvent) error
	OnRedact   func(ctx context.Context, event MEvent) error
	OnReaction func(ctx context.Context, event MEvent, relation *Relation) error
	OnName     func(ctx context.Context, event MEvent) error
	OnTopic    func(ctx context.Context, event MEvent) error
	OnAvatar   func(ctx context.Context, event MEvent) error
}

// Server receives appservice transactions over HTTP.
type Server struct {
	hsToken     string
	ageLimit    time.Duration
	handlers    Handlers
	transactions *transactionTracker
	log         zerolog.Logger
	router      *mux.Router
}

// Config configures the ingest server.
type Config struct {
	// HSToken authenticates the homeserver to the bridge (Bearer auth).
	HSToken string
	// AgeLimit drops events older than this when received; <= 0 disables the gate.
	AgeLimit time.Duration
}

// New creates a Side-M ingest server wired to the given handlers.
func New(cfg Config, handlers Handlers, log zerolog.Logger) *Server {
	s := &Server{
		hsToken:      cfg.HSToken,
		ageLimit:     cfg.AgeLimit,
		handlers:     handlers,
		transactions: newTransactionTracker(),
		log:          log.With().Str("component", "matrixingest").Logger(),
	}

	router := mux.NewRouter()
	router.Use(s.authMiddleware)
	router.HandleFunc("/_matrix/app/v1/transactions/{txnId}", s.handleTransaction).Methods(http.MethodPut)
	s.router = router
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || token != s.hsToken {
			s.log.Warn().Str("remote_addr", r.RemoteAddr).Msg("rejected transaction with invalid hs_token")
			http.Error(w, `{"errcode":"M_FORBIDDEN"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	txnID := mux.Vars(r)["txnId"]
	if txnID == "" {
		http.Error(w, "missing transaction id", http.StatusBadRequest)
		return
	}

	if s.transactions.seenBefore(txnID) {
		s.log.Debug().Str("txn_id", txnID).Msg("duplicate transaction ignored")
		writeEmptyObject(w)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var txn Transaction
	if err := json.Unmarshal(body, &txn); err != nil {
		s.log.Error().Err(err).Str("txn_id", txnID).Msg("failed to parse transaction JSON")
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	s.log.Debug().Str("txn_id", txnID).Int("event_count", len(txn.Events)).Msg("processing transaction")

	for _, event := range txn.Events {
		event.TransactionID = txnID
		if err := s.dispatch(r.Context(), event); err != nil {
			s.log.Error().Err(err).Str("event_id", event.EventID).Str("event_type", event.Type).
				Str("room_id", event.RoomID).Msg("failed to process matrix event")
			if bridgeerr.Is(err, bridgeerr.Connection) {
				// Forget the transaction so the homeserver's retry with the
				// same ID is processed instead of dropped as a duplicate.
				s.transactions.mu.Lock()
				delete(s.transactions.seen, txnID)
				s.transactions.mu.Unlock()
				http.Error(w, `{"errcode":"M_UNKNOWN","error":"mapping store unavailable"}`, http.StatusServiceUnavailable)
				return
			}
		}
	}

	writeEmptyObject(w)
}

func writeEmptyObject(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}

// dispatch applies the age gate and routes a single event to its handler.
func (s *Server) dispatch(ctx context.Context, event MEvent) error {
	if s.ageLimit > 0 && event.OriginServerTS > 0 {
		age := time.Since(time.UnixMilli(event.OriginServerTS))
		if age > s.ageLimit {
			s.log.Info().Str("event_id", event.EventID).Dur("age", age).Msg("dropping event older than age limit")
			return nil
		}
	}

	relation := ExtractRelation(event.Content)

	switch event.Type {
	case "m.room.message":
		if s.handlers.OnMessage != nil {
			return s.handlers.OnMessage(ctx, event, relation)
		}
	case "m.room.member":
		if s.handlers.OnMember != nil {
			return s.handlers.OnMember(ctx, event)
		}
	case "m.room.redaction":
		if s.handlers.OnRedact != nil {
			return s.handlers.OnRedact(ctx, event)
		}
	case "m.reaction":
		if s.handlers.OnReaction != nil {
			return s.handlers.OnReaction(ctx, event, relation)
		}
	case "m.room.encryption":
		s.log.Warn().Str("room_id", event.RoomID).Msg("encrypted room is not supported by the bridge")
	case "m.room.name":
		if s.handlers.OnName != nil {
			return s.handlers.OnName(ctx, event)
		}
	case "m.room.topic":
		if s.handlers.OnTopic != nil {
			return s.handlers.OnTopic(ctx, event)
		}
	case "m.room.avatar":
		if s.handlers.OnAvatar != nil {
			return s.handlers.OnAvatar(ctx, event)
		}
	default:
		s.log.Debug().Str("event_type", event.Type).Str("event_id", event.EventID).Msg("ignoring unsupported event type")
	}
	return nil
}
