package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hamed0406/statuspage/internal/domain"
	"github.com/hamed0406/statuspage/internal/repo"
)

const maxTimelineSpan = 24 * time.Hour

// Accepted forms for start and end. Values without a zone are read as UTC.
var timelineLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Stores keep timestamps as unix nanoseconds; anything outside that range
// cannot be compared.
var (
	earliestTimelineTime = time.Unix(0, math.MinInt64).UTC()
	latestTimelineTime   = time.Unix(0, math.MaxInt64).UTC()
)

func parseTimelineTime(v string) (time.Time, bool) {
	for _, layout := range timelineLayouts {
		t, err := time.Parse(layout, v)
		if err != nil {
			continue
		}
		if t.Before(earliestTimelineTime) || t.After(latestTimelineTime) {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}

type timelineEntry struct {
	CheckedOn    string   `json:"checked_on"`
	StatusCode   *int     `json:"status_code"`
	ResponseTime *float64 `json:"response_time"`
}

type timelineResponse struct {
	Results  []timelineEntry `json:"results"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int             `json:"total"`
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	c, err := s.Checks.GetCheck(r.Context(), domain.CheckID(id))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !c.Active {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	q := r.URL.Query()
	start, ok := parseTimelineTime(q.Get("start"))
	if !ok {
		writeError(w, http.StatusBadRequest, "start is required and must be a timestamp")
		return
	}
	end, ok := parseTimelineTime(q.Get("end"))
	if !ok {
		writeError(w, http.StatusBadRequest, "end is required and must be a timestamp")
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end must not be before start")
		return
	}
	if end.Sub(start) > maxTimelineSpan {
		writeError(w, http.StatusBadRequest, "start to end must be at most one day")
		return
	}
	size := s.Opts.PageSize
	page := 1
	if v := q.Get("page"); v != "" {
		page, err = strconv.Atoi(v)
		// The offset (page-1)*size must not overflow.
		if err != nil || page < 1 || page > math.MaxInt/size {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
	}

	rows, total, err := s.Results.Timeline(r.Context(), repo.TimelineQuery{
		CheckID: c.ID,
		Start:   start,
		End:     end,
		Limit:   size,
		Offset:  (page - 1) * size,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := timelineResponse{Results: make([]timelineEntry, 0, len(rows)), Page: page, PageSize: size, Total: total}
	for _, row := range rows {
		out.Results = append(out.Results, timelineEntry{
			CheckedOn:    row.CheckedOn.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			StatusCode:   row.StatusCode,
			ResponseTime: row.ResponseTime,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
