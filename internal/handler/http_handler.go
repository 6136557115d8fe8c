package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/gosight/pagelab/internal/config"
	"github.com/gosight/pagelab/internal/enricher"
	"github.com/gosight/pagelab/internal/experiment"
	"github.com/gosight/pagelab/internal/site"
	"github.com/gosight/pagelab/internal/splittest"
	"github.com/gosight/pagelab/internal/storage"
)

// OperatorHeader carries the editor operator token.
const OperatorHeader = "X-CMS-Operator"

// EventProducer publishes visitor events.
type EventProducer interface {
	ProducePageView(ctx context.Context, event *enricher.EnrichedEvent) error
	ProduceConversion(ctx context.Context, event *enricher.EnrichedEvent) error
}

// Guard authenticates operators and rate limits visitors.
type Guard interface {
	IsOperator(token string) bool
	CheckRateLimit(ctx context.Context, key string) bool
}

// StoreFactory returns the experiment assignment store of a visitor.
type StoreFactory func(visitorID string) experiment.Store

type HTTPHandler struct {
	sites     *site.Service
	tests     *splittest.Service
	producer  EventProducer
	guard     Guard
	enricher  *enricher.Enricher
	stores    StoreFactory
	sanitizer *bluemonday.Policy
	cfg       *config.Config
	log       zerolog.Logger
}

// Deps are the collaborators of the HTTP handler. Producer may be nil, in
// which case events are dropped. Stores defaults to in-process memory.
type Deps struct {
	Sites    *site.Service
	Tests    *splittest.Service
	Producer EventProducer
	Guard    Guard
	Enricher *enricher.Enricher
	Stores   StoreFactory
}

func NewHTTPHandler(cfg *config.Config, deps Deps, logger zerolog.Logger) *HTTPHandler {
	stores := deps.Stores
	if stores == nil {
		stores = newMemoryStores(cfg.Session.TTL).For
	}
	e := deps.Enricher
	if e == nil {
		e = enricher.NewEnricher("")
	}

	// Editors may keep basic formatting and their selector hooks
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class", "id").Globally()
	policy.AllowDataAttributes()

	return &HTTPHandler{
		sites:     deps.Sites,
		tests:     deps.Tests,
		producer:  deps.Producer,
		guard:     deps.Guard,
		enricher:  e,
		stores:    stores,
		sanitizer: policy,
		cfg:       cfg,
		log:       logger,
	}
}

// Routes mounts the content API on r.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Get("/health", HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Get("/page/{pageID}/content", h.HandleGetContent)
		r.With(h.operatorOnly).Post("/page/{pageID}/content", h.HandleSaveContent)
		r.Get("/content_version/{versionID}", h.HandleGetVersion)
		r.With(h.operatorOnly).Post("/content_version/{versionID}/activate", h.HandleActivateVersion)

		r.With(h.rateLimit).Post("/page_view", h.HandlePageView)
		r.Get("/test/variant", h.HandleVariant)
		r.With(h.rateLimit).Post("/test/conversion", h.HandleConversion)
		r.Get("/test/{testID}", h.HandleGetTest)

		r.Group(func(r chi.Router) {
			r.Use(h.operatorOnly)
			r.Post("/test", h.HandleCreateTest)
			r.Post("/test/{testID}/variant", h.HandleAddVariant)
			r.Post("/test/{testID}/start", h.HandleStartTest)
			r.Post("/test/{testID}/stop", h.HandleStopTest)
		})
	})

	r.Get("/serve/{domain}", h.HandleServe)
	r.Get("/serve/{domain}/*", h.HandleServe)
}

// ID is a numeric id that arrives as a JSON number or string.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*id = 0
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	if s == "" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errors.New("invalid id " + string(b))
	}
	*id = ID(n)
	return nil
}

func (h *HTTPHandler) operatorOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.guard == nil || !h.guard.IsOperator(r.Header.Get(OperatorHeader)) {
			writeError(w, http.StatusUnauthorized, "Operator token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPHandler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.guard != nil && !h.guard.CheckRateLimit(r.Context(), clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// visitor identifies the caller by the visitor cookie, issuing one if needed.
func (h *HTTPHandler) visitor(w http.ResponseWriter, r *http.Request) splittest.Visitor {
	name := h.cfg.Session.CookieName
	var id string
	if c, err := r.Cookie(name); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			id = c.Value
		}
	}
	if id == "" {
		id = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    id,
			Path:     "/",
			MaxAge:   int(h.cfg.Session.CookieTTL.Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return splittest.Visitor{
		ID:        id,
		UserAgent: r.UserAgent(),
		IPAddress: enricher.AnonymizeIP(clientIP(r)),
		Referrer:  r.Referer(),
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}

// writeStoreError maps storage and validation errors to a status.
func (h *HTTPHandler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, splittest.ErrInvalidTestType),
		errors.Is(err, splittest.ErrInvalidGoalPage),
		errors.Is(err, splittest.ErrInvalidVersion),
		errors.Is(err, splittest.ErrTooFewVariants),
		errors.Is(err, site.ErrNotContentVersion):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, splittest.ErrActiveTestExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// CORSMiddleware allows the listed origins, or any origin when the list is
// empty or contains "*".
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(origins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+OperatorHeader)

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// memoryStores keeps assignments in process when Redis is not configured.
// Like the Redis sessions, a visitor's store expires after ttl without use.
type memoryStores struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
	stores    map[string]*memoryEntry
}

type memoryEntry struct {
	store    *experiment.MemoryStore
	lastSeen time.Time
}

func newMemoryStores(ttl time.Duration) *memoryStores {
	return &memoryStores{ttl: ttl, now: time.Now, stores: make(map[string]*memoryEntry)}
}

func (m *memoryStores) For(visitorID string) experiment.Store {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)
	e, ok := m.stores[visitorID]
	if !ok {
		e = &memoryEntry{store: experiment.NewMemoryStore()}
		m.stores[visitorID] = e
	}
	e.lastSeen = now
	return e.store
}

// sweep drops idle stores, at most once per ttl.
func (m *memoryStores) sweep(now time.Time) {
	if m.ttl <= 0 || now.Sub(m.lastSweep) < m.ttl {
		return
	}
	m.lastSweep = now
	for id, e := range m.stores {
		if now.Sub(e.lastSeen) >= m.ttl {
			delete(m.stores, id)
		}
	}
}

func (m *memoryStores) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}
