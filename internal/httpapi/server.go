package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notifyd/internal/address"
	"notifyd/internal/lifecycle"
	"notifyd/internal/model"
	"notifyd/internal/notify"
	"notifyd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Status() types.StatusResponse
	Ready() bool
	State() lifecycle.State
	ProjectedState() string
	ProjectionName() string
	StateChanges() []lifecycle.AttributeChange

	Reload(ctx context.Context) error
	MarkReloadRequired() error
	MarkRestartRequired() error

	Dispatch(n notify.Notification)
	RegisterHandler(pattern address.Path, h notify.Handler, f notify.Filter) error
	UnregisterHandler(pattern address.Path, h notify.Handler, f notify.Filter)

	AddResource(addr address.Path, attrs map[string]any) error
	RemoveResource(addr address.Path) error
	WriteAttribute(addr address.Path, name string, value any) error
	ReadAttribute(ctx context.Context, addr address.Path, name string) (any, error)
	ReadResource(addr address.Path) (model.Resource, []address.Path, error)
}

// Lifecycle operations accepted by POST /lifecycle/{op}.
const (
	OpReload          = "reload"
	OpReloadRequired  = "reload-required"
	OpRestartRequired = "restart-required"
)

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(MetricsMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Compression for JSON endpoints; NDJSON is not in the default set.
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(svc.State()))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(inflight)

		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, svc.Status())
		})

		r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, types.StateResponse{
				State:          string(svc.State()),
				ProjectedState: svc.ProjectedState(),
			})
		})

		r.Get("/state/changes", func(w http.ResponseWriter, r *http.Request) {
			changes := svc.StateChanges()
			out := types.StateChangesResponse{Name: svc.ProjectionName(), Changes: make([]types.AttributeChange, 0, len(changes))}
			for _, c := range changes {
				out.Changes = append(out.Changes, types.AttributeChange{
					Sequence:  c.Sequence,
					Timestamp: c.Timestamp.UTC().Format(time.RFC3339Nano),
					Message:   c.Message,
					Attribute: c.Attribute,
					Type:      c.Type,
					OldValue:  c.OldValue,
					NewValue:  c.NewValue,
				})
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Post("/lifecycle/{op}", lifecycleHandler(svc))
		r.Post("/notifications", postNotification(svc))
		r.Get("/notifications/stream", streamNotifications(svc))

		r.Get("/resource", getResource(svc))
		r.Post("/resource", addResource(svc))
		r.Delete("/resource", removeResource(svc))
		r.Put("/resource/attribute", writeAttribute(svc))
	})

	MountSwagger(r)
	return r
}

func lifecycleHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op := chi.URLParam(r, "op")
		var err error
		switch op {
		case OpReload:
			ctx, cancel := handlerContext(r)
			defer cancel()
			err = svc.Reload(ctx)
		case OpReloadRequired:
			err = svc.MarkReloadRequired()
		case OpRestartRequired:
			err = svc.MarkRestartRequired()
		default:
			writeJSONError(w, http.StatusNotFound, "unknown lifecycle operation "+strconv.Quote(op))
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.LifecycleResponse{Operation: op, State: string(svc.State())})
	}
}

// decodeJSON enforces the content type and body limit and decodes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// If exceeded size, MaxBytesReader may cause an error; still return 400 to avoid size leak details
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// parseAddress parses a canonical address; empty means the root.
func parseAddress(s string) (address.Path, error) {
	p, err := address.Parse(s)
	if err != nil {
		return address.Path{}, errors.Trace(err)
	}
	return p, nil
}

func postNotification(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.Notification
		if !decodeJSON(w, r, &req) {
			return
		}
		src, err := parseAddress(req.Source)
		if err != nil {
			writeError(w, err)
			return
		}
		var data any
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &data); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid notification data")
				return
			}
		}
		n, err := notify.New(req.Type, src, req.Message, data)
		if err != nil {
			writeError(w, err)
			return
		}
		svc.Dispatch(n)
		writeJSON(w, http.StatusAccepted, toWire(n))
	}
}

func toWire(n notify.Notification) types.Notification {
	out := types.Notification{
		Type:      n.Type,
		Source:    n.Source.String(),
		Message:   n.Message,
		Timestamp: n.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if n.Data != nil {
		if b, err := json.Marshal(n.Data); err == nil {
			out.Data = b
		}
	}
	return out
}

// streamNotifications writes matching notifications as NDJSON until the
// request ends; ?limit= ends it after that many. Slow clients lose
// notifications rather than stall producers.
func streamNotifications(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		pattern, err := parseAddress(q.Get("pattern"))
		if err != nil {
			writeError(w, err)
			return
		}
		limit := 0
		if v := q.Get("limit"); v != "" {
			if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid limit")
				return
			}
		}
		var filter notify.Filter
		if typ := q.Get("type"); typ != "" {
			filter = notify.TypeFilter(typ)
		}

		id := uuid.NewString()
		h := notify.NewChanHandler(streamBuffer)
		if err := svc.RegisterHandler(pattern, h, filter); err != nil {
			writeError(w, err)
			return
		}
		defer svc.UnregisterHandler(pattern, h, filter)
		streamSubscribers.Inc()
		defer streamSubscribers.Dec()

		ctx, cancel := handlerContext(r)
		defer cancel()

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("X-Subscriber-ID", id)
		w.WriteHeader(http.StatusOK)
		flush := func() {}
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		flush()

		out := io.Writer(w)
		lvl := requestLogLevel(r)
		if lvl >= LevelDebug {
			out = io.MultiWriter(w, &loggingLineWriter{subscriber: id})
		}
		if lvl >= LevelInfo && zlog != nil {
			zlog.Info().Str("subscriber", id).Str("pattern", pattern.String()).Msg("stream open")
			defer func() {
				zlog.Info().Str("subscriber", id).Uint64("dropped", h.Dropped()).Msg("stream closed")
			}()
		}
		enc := json.NewEncoder(out)
		for sent := 0; limit == 0 || sent < limit; sent++ {
			select {
			case <-ctx.Done():
				return
			case n := <-h.C():
				if err := enc.Encode(toWire(n)); err != nil {
					return
				}
				streamSentTotal.Inc()
				flush()
			}
		}
	}
}

func getResource(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, err := parseAddress(r.URL.Query().Get("address"))
		if err != nil {
			writeError(w, err)
			return
		}
		if name := r.URL.Query().Get("attribute"); name != "" {
			ctx, cancel := handlerContext(r)
			defer cancel()
			v, err := svc.ReadAttribute(ctx, addr, name)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, types.AttributeResponse{Address: addr.String(), Name: name, Value: v})
			return
		}
		writeResource(w, svc, addr, http.StatusOK)
	}
}

func writeResource(w http.ResponseWriter, svc Service, addr address.Path, status int) {
	res, children, err := svc.ReadResource(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	out := types.ResourceResponse{
		Address:    res.Address.String(),
		Attributes: res.Attributes,
		Children:   make([]string, 0, len(children)),
	}
	for _, c := range children {
		out.Children = append(out.Children, c.String())
	}
	writeJSON(w, status, out)
}

func addResource(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.AddResourceRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		addr, err := parseAddress(req.Address)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := svc.AddResource(addr, req.Attributes); err != nil {
			writeError(w, err)
			return
		}
		writeResource(w, svc, addr, http.StatusCreated)
	}
}

func removeResource(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, err := parseAddress(r.URL.Query().Get("address"))
		if err != nil {
			writeError(w, err)
			return
		}
		if err := svc.RemoveResource(addr); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeAttribute(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.WriteAttributeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		addr, err := parseAddress(req.Address)
		if err != nil {
			writeError(w, err)
			return
		}
		if req.Name == "" {
			writeJSONError(w, http.StatusBadRequest, "name is required")
			return
		}
		if err := svc.WriteAttribute(addr, req.Name, req.Value); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.AttributeResponse{Address: addr.String(), Name: req.Name, Value: req.Value})
	}
}
