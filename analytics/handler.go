package analytics

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Handler serves read-only KPI reports:
//
//	GET ?period=daily|weekly|monthly[&key=2024-01-01]
//	GET ?view=summary[&limit=5]
func Handler(m *LearningMetrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		if q.Get("view") == "summary" {
			limit := 5
			if v := q.Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
					return
				}
				limit = n
			}
			writeJSON(w, map[string]any{
				"level_distribution": m.LevelDistribution(),
				"top_courses":        m.TopCourses(limit),
			})
			return
		}

		p := Period(q.Get("period"))
		if p == "" {
			p = PeriodDaily
		}
		switch p {
		case PeriodDaily, PeriodWeekly, PeriodMonthly:
		default:
			http.Error(w, "period must be daily, weekly or monthly", http.StatusBadRequest)
			return
		}
		if key := q.Get("key"); key != "" {
			rep, ok := m.Report(p, key)
			if !ok {
				http.Error(w, "no report for "+key, http.StatusNotFound)
				return
			}
			writeJSON(w, rep)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = m.ExportJSON(w, p)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
