package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/settlr/settlr/internal/apierror"
	"github.com/settlr/settlr/model"
)

// GetRollup aggregates intents over a window grouped by category, hour
// or day. Only CONFIRMED intents count unless the status query names an
// explicit inclusion set.
func (a Api) GetRollup(c *gin.Context) {
	from, to, err := windowFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	groupBy := c.DefaultQuery("group_by", model.GroupByCategory)
	var statuses []string
	if raw := c.Query("status"); raw != "" {
		statuses = strings.Split(strings.ToUpper(raw), ",")
	}

	snapshot, err := a.settlr.Rollup(c.Request.Context(), from, to, groupBy, statuses)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// GetTopCounterparties ranks recipients by settled volume.
func (a Api) GetTopCounterparties(c *gin.Context) {
	from, to, err := windowFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	totals, err := a.settlr.TopCounterparties(c.Request.Context(), from, to, limit)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	if totals == nil {
		totals = []model.CounterpartyTotal{}
	}

	c.JSON(http.StatusOK, totals)
}

// GetAnalytics serves the aggregate analytics view: rollup totals,
// suspicious transfers and a narrative summary.
func (a Api) GetAnalytics(c *gin.Context) {
	from, to, err := windowFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	analytics, err := a.settlr.GetAnalytics(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, analytics)
}

// windowFromQuery parses the from/to query pair as RFC3339 timestamps.
// The default window is the trailing 30 days.
func windowFromQuery(c *gin.Context) (time.Time, time.Time, error) {
	now := time.Now()
	from := now.AddDate(0, 0, -30)
	to := now

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be an RFC3339 timestamp")
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be an RFC3339 timestamp")
		}
		to = parsed
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("to must not precede from")
	}
	return from, to, nil
}
