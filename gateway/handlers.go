package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"clashkit/utils"
)

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type, Authorization",
	"Access-Control-Max-Age":       "86400",
}

// corsMiddleware adds the CORS headers to every answer and ends preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range corsHeaders {
			w.Header().Set(k, v)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware counts requests per route template.
func (g *Gateway) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		g.metrics.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// writeJSON answers with data indented by two spaces. Raw JSON is re-indented as is.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	var err error
	if raw, ok := data.([]byte); ok {
		err = json.Indent(&buf, raw, "", "  ")
	} else {
		var out []byte
		out, err = json.MarshalIndent(data, "", "  ")
		buf.Write(out)
	}
	if err != nil {
		log.Error().Err(err).Msg("unable to process the response data")
		http.Error(w, "unable to process the response data", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Endpoint not found")
}

type healthResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

func (g *Gateway) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Message:   "Clash of Clans API gateway",
		Version:   utils.Version,
		Timestamp: g.clock.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// requireKeys refuses every request while the gateway has no API key.
func (g *Gateway) requireKeys(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.upstream == nil {
			writeError(w, http.StatusInternalServerError, "API key not configured")
			return
		}
		next(w, r)
	}
}

// api wraps a Clash API backed handler and turns its failures into JSON errors. A non empty
// message is a client error answered with the returned status.
func (g *Gateway) api(fn func(ctx context.Context, r *http.Request) ([]byte, int, string, error)) http.HandlerFunc {
	return g.requireKeys(func(w http.ResponseWriter, r *http.Request) {
		data, status, msg, err := fn(r.Context(), r)
		switch {
		case msg != "":
			writeError(w, status, msg)
		case err != nil:
			log.Error().Err(err).Str("path", r.URL.Path).Msg("request error")
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			writeJSON(w, http.StatusOK, data)
		}
	})
}

// tagged handles the routes keyed by a single tag query parameter.
func (g *Gateway) tagged(required string, get func(ctx context.Context, tag string) ([]byte, error)) http.HandlerFunc {
	return g.api(func(ctx context.Context, r *http.Request) ([]byte, int, string, error) {
		tag := r.URL.Query().Get("tag")
		if tag == "" {
			return nil, http.StatusBadRequest, required, nil
		}
		data, err := get(ctx, tag)
		return data, 0, "", err
	})
}

// limit parses the optional limit parameter.
func limit(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return DefaultListLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func (g *Gateway) warLogHandler(ctx context.Context, r *http.Request) ([]byte, int, string, error) {
	tag := r.URL.Query().Get("tag")
	n, ok := limit(r)
	if !ok {
		return nil, http.StatusBadRequest, "limit must be a positive number", nil
	}
	if tag == "" {
		return nil, http.StatusBadRequest, "Clan tag is required", nil
	}
	data, err := g.warLog(ctx, tag, n)
	return data, 0, "", err
}

func (g *Gateway) leagueWarHandler(ctx context.Context, r *http.Request) ([]byte, int, string, error) {
	q := r.URL.Query()
	warTag, clanTag, round := q.Get("warTag"), q.Get("clanTag"), q.Get("round")

	if warTag != "" {
		data, err := g.leagueWar(ctx, warTag)
		return data, 0, "", err
	}
	if clanTag != "" && round != "" {
		n, err := strconv.Atoi(round)
		if err != nil {
			return nil, http.StatusBadRequest, "round must be a number", nil
		}
		data, err := g.leagueWarByRound(ctx, clanTag, n)
		return data, 0, "", err
	}
	return nil, http.StatusBadRequest, "War tag OR (clanTag and round) is required", nil
}

func (g *Gateway) capitalRaidsHandler(ctx context.Context, r *http.Request) ([]byte, int, string, error) {
	q := r.URL.Query()
	tag := q.Get("tag")
	n, ok := limit(r)
	if !ok {
		return nil, http.StatusBadRequest, "limit must be a positive number", nil
	}
	if tag == "" {
		return nil, http.StatusBadRequest, "Clan tag is required", nil
	}
	data, err := g.capitalRaids(ctx, tag, n, q.Get("before"), q.Get("after"))
	return data, 0, "", err
}

// routes registers the API exposed to the dashboard.
func (g *Gateway) routes(router *mux.Router) {
	router.HandleFunc("/", g.requireKeys(g.health))
	router.HandleFunc("/health", g.requireKeys(g.health))

	router.HandleFunc("/get-player", g.tagged("Player tag is required", g.player))
	router.HandleFunc("/get-clan", g.tagged("Clan tag is required", g.clan))
	router.HandleFunc("/get-current-war", g.tagged("Clan tag is required", g.currentWar))
	router.HandleFunc("/get-war-log", g.api(g.warLogHandler))
	router.HandleFunc("/clan-war-league-info", g.tagged("Clan tag is required", g.leagueGroup))
	router.HandleFunc("/clan-war-league-war", g.api(g.leagueWarHandler))
	router.HandleFunc("/get-capital-raids", g.api(g.capitalRaidsHandler))
}
