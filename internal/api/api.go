// Package api serves the wrapped summary, the OAuth web flow and a Strava activity proxy over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joshdurbin/strava-wrapped/internal/auth"
	"github.com/joshdurbin/strava-wrapped/internal/config"
	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/joshdurbin/strava-wrapped/internal/metrics"
	"github.com/joshdurbin/strava-wrapped/internal/strava"
	syncsvc "github.com/joshdurbin/strava-wrapped/internal/sync"
	"github.com/joshdurbin/strava-wrapped/internal/wrapped"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	stateCookie     = "strava_wrapped_oauth_state"
	defaultPerPage  = 30
	imageCacheHours = 1
)

// Reports builds and renders summaries.
type Reports interface {
	Summary(ctx context.Context) (wrapped.Summary, error)
	Render(ctx context.Context, templateName string) ([]byte, error)
	Invalidate(ctx context.Context) error
}

// Syncer pulls activities from Strava.
type Syncer interface {
	SyncDelta(ctx context.Context, fetch syncsvc.FetchProgressCallback, save syncsvc.SaveProgressCallback) (syncsvc.Result, error)
	Client(ctx context.Context) (*strava.Client, error)
}

// Deps are the collaborators of the HTTP handlers. Syncer, Storage, Gatherer and MCP are optional.
type Deps struct {
	Reports  Reports
	Syncer   Syncer
	Storage  *auth.Storage
	Strava   config.StravaConfig
	Metrics  *metrics.Manager
	Gatherer prometheus.Gatherer
	MCP      http.Handler
}

type handler struct {
	Deps
}

// NewRouter wires every route and middleware.
func NewRouter(d Deps) *mux.Router {
	if d.Metrics == nil {
		d.Metrics = metrics.NewUnregisteredManager()
	}
	h := &handler{Deps: d}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet).Name("healthz")
	r.HandleFunc("/auth", h.handleAuth).Methods(http.MethodGet).Name("auth")
	r.HandleFunc("/exchange_token", h.handleExchangeToken).Methods(http.MethodGet).Name("exchange-token")
	r.HandleFunc("/activities", h.handleActivities).Methods(http.MethodGet).Name("activities")
	r.HandleFunc("/wrapped", h.handleWrapped).Methods(http.MethodGet).Name("wrapped")
	r.HandleFunc("/wrapped/image", h.handleWrappedImage).Methods(http.MethodGet).Name("wrapped-image")

	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet).Name("metrics")
	}
	if d.MCP != nil {
		r.PathPrefix("/mcp").Handler(d.MCP).Name("mcp")
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Use(PanicRecovery(d.Metrics))
	r.Use(LogRequest())
	r.Use(RequestMetrics(d.Metrics))

	return r
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) credentialsConfigured(w http.ResponseWriter) bool {
	if h.Storage == nil || h.Strava.ClientID == "" || h.Strava.ClientSecret == "" {
		writeError(w, http.StatusServiceUnavailable, "strava client credentials are not configured")
		return false
	}
	return true
}

// handleAuth redirects the athlete to the Strava consent page.
func (h *handler) handleAuth(w http.ResponseWriter, r *http.Request) {
	if !h.credentialsConfigured(w) {
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	oauthCfg := h.Storage.OAuthConfig(h.Strava.ClientID, h.Strava.ClientSecret)
	http.Redirect(w, r, auth.AuthCodeURL(oauthCfg, state), http.StatusFound)
}

type exchangeResponse struct {
	AthleteID   int64  `json:"athlete_id,omitempty"`
	AthleteName string `json:"athlete_name,omitempty"`
	ExpiresAt   int64  `json:"expires_at"`
	Scope       string `json:"scope,omitempty"`
}

// handleExchangeToken completes the OAuth flow and stores the tokens.
func (h *handler) handleExchangeToken(w http.ResponseWriter, r *http.Request) {
	if !h.credentialsConfigured(w) {
		return
	}

	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		writeError(w, http.StatusBadRequest, "authorization denied: "+reason)
		return
	}
	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code parameter")
		return
	}
	if c, err := r.Cookie(stateCookie); err == nil && c.Value != q.Get("state") {
		writeError(w, http.StatusBadRequest, "state mismatch")
		return
	}

	oauthCfg := h.Storage.OAuthConfig(h.Strava.ClientID, h.Strava.ClientSecret)
	tokens, err := auth.Exchange(r.Context(), oauthCfg, code)
	if err != nil {
		writeErr(w, r, err, http.StatusBadGateway)
		return
	}

	if err := h.Storage.SaveFullConfig(r.Context(), h.Strava.ClientID, h.Strava.ClientSecret, tokens); err != nil {
		writeErr(w, r, fmt.Errorf("saving tokens: %w", err), http.StatusInternalServerError)
		return
	}
	if err := h.Reports.Invalidate(r.Context()); err != nil {
		logging.Warn("failed to invalidate summary after login", "error", err)
	}

	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	logging.Logger.Info().Int64("athlete_id", tokens.AthleteID).Msg("athlete authorized")
	writeJSON(w, http.StatusOK, exchangeResponse{
		AthleteID:   tokens.AthleteID,
		AthleteName: tokens.AthleteName,
		ExpiresAt:   tokens.ExpiresAt,
		Scope:       q.Get("scope"),
	})
}

// handleActivities proxies one page of the athlete's activity list.
func (h *handler) handleActivities(w http.ResponseWriter, r *http.Request) {
	if h.Syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "strava sync is disabled")
		return
	}

	page, err := intParam(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	perPage, err := intParam(r, "per_page", defaultPerPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	client, err := h.Syncer.Client(r.Context())
	if err != nil {
		writeErr(w, r, err, http.StatusBadGateway)
		return
	}

	activities, rl, err := client.FetchPage(r.Context(), page, perPage)
	h.Metrics.ObserveRateLimit(rl.Usage15Min, rl.UsageDaily)
	if err != nil {
		writeErr(w, r, err, http.StatusBadGateway)
		return
	}
	if activities == nil {
		activities = []strava.Activity{}
	}
	writeJSON(w, http.StatusOK, activities)
}

// handleWrapped returns the summary; refresh=true runs a delta sync first.
func (h *handler) handleWrapped(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	if refresh {
		if err := h.refresh(r.Context()); err != nil {
			writeErr(w, r, err, http.StatusBadGateway)
			return
		}
	}

	summary, err := h.Reports.Summary(r.Context())
	if err != nil {
		writeErr(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handler) refresh(ctx context.Context) error {
	if h.Syncer == nil {
		return fmt.Errorf("refresh requested but strava sync is disabled")
	}

	begin := time.Now()
	res, err := h.Syncer.SyncDelta(ctx, nil, nil)
	h.Metrics.HistSyncDuration.Observe(time.Since(begin).Seconds())
	h.Metrics.CounterActivitiesSynced.Add(float64(res.Saved))
	h.Metrics.ObserveRateLimit(res.RateLimit.Usage15Min, res.RateLimit.UsageDaily)

	if err != nil {
		h.Metrics.CounterSyncs.WithLabelValues(metrics.ResultError).Inc()
	} else {
		h.Metrics.CounterSyncs.WithLabelValues(metrics.ResultOK).Inc()
		h.Metrics.GaugeLastSyncUnix.SetToCurrentTime()
	}

	// rows saved before a failure still change the window
	if res.Saved > 0 || err == nil {
		if ierr := h.Reports.Invalidate(ctx); ierr != nil {
			if err == nil {
				return ierr
			}
			logging.Logger.Warn().Err(ierr).Msg("failed to invalidate cached summary")
		}
	}
	return err
}

// handleWrappedImage renders the summary onto a template.
func (h *handler) handleWrappedImage(w http.ResponseWriter, r *http.Request) {
	data, err := h.Reports.Render(r.Context(), r.URL.Query().Get("template"))
	if err != nil {
		writeErr(w, r, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", imageCacheHours*3600))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.Warn("failed to write image", "error", err)
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return v, nil
}
