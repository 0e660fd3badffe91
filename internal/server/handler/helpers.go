package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit (default 50, max 500), offset and the optional
// since/until trading days. until is inclusive of its whole day.
func parseListOpts(r *http.Request, now time.Time) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}

	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		opts.Limit = min(n, 500)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		opts.Offset = n
	}
	if q.Get("since") != "" {
		day, err := parseDay(r, "since", now)
		if err != nil {
			return opts, err
		}
		opts.Since = &day
	}
	if q.Get("until") != "" {
		day, err := parseDay(r, "until", now)
		if err != nil {
			return opts, err
		}
		end := day.AddDate(0, 0, 1).Add(-time.Nanosecond)
		opts.Until = &end
	}
	return opts, nil
}

// parseDay reads a YYYY-MM-DD query parameter as a Shanghai trading day.
// A missing parameter means the trading day containing now.
func parseDay(r *http.Request, name string, now time.Time) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return domain.TradingDay(now), nil
	}
	return time.ParseInLocation("2006-01-02", v, domain.Shanghai)
}

// symbolParam returns the upper-cased {symbol} path value.
func symbolParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
