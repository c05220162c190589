package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/insightguard/scangraph/internal/db"
	"github.com/insightguard/scangraph/internal/schema"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

func parseInt(value string, fallback int) int {
	val, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || val < 0 {
		return fallback
	}
	return val
}

// parseFamily resolves the {family} route segment.
func parseFamily(r *http.Request) (schema.Family, error) {
	slug := chi.URLParam(r, "family")
	family, ok := schema.FromRouteSlug(slug)
	if !ok {
		return "", fmt.Errorf("unknown report family %q", slug)
	}
	return family, nil
}

// parseMinSeverity reads min_severity, empty meaning unfiltered.
func parseMinSeverity(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("min_severity"))
	if raw == "" {
		return 0, nil
	}
	sev, err := strconv.Atoi(raw)
	if err != nil || sev < 0 || sev > 5 {
		return 0, fmt.Errorf("min_severity must be 0-5, got %q", raw)
	}
	return sev, nil
}

func parseFindingsFilter(r *http.Request) (db.FindingsFilter, error) {
	minSeverity, err := parseMinSeverity(r)
	if err != nil {
		return db.FindingsFilter{}, err
	}
	q := r.URL.Query()
	limit := parseInt(q.Get("limit"), defaultPageLimit)
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return db.FindingsFilter{
		MinSeverity: minSeverity,
		Search:      q.Get("search"),
		Offset:      parseInt(q.Get("offset"), 0),
		Limit:       limit,
	}, nil
}
