package eventlog

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fiscaldata/reconciler_backend/config"
	"github.com/fiscaldata/reconciler_backend/models"
)

const (
	defaultQueryLimit  = 100
	maxQueryLimit      = 1000
	streamBackfillSize = 50
)

var keepAliveInterval = 15 * time.Second

func parseFilter(c *gin.Context) (Filter, error) {
	var filter Filter

	filter.JobId = strings.TrimSpace(c.Query("jobId"))

	if raw := strings.TrimSpace(c.Query("levels")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			lvl := models.LogLevel(strings.ToUpper(strings.TrimSpace(part)))
			if !lvl.Valid() {
				return filter, errInvalidParam("levels")
			}
			filter.Levels = append(filter.Levels, lvl)
		}
	}
	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errInvalidParam("from")
		}
		filter.FromTs = &ts
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errInvalidParam("to")
		}
		filter.ToTs = &ts
	}
	if raw := strings.TrimSpace(c.Query("durationMin")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return filter, errInvalidParam("durationMin")
		}
		filter.DurationMin = &v
	}
	if raw := strings.TrimSpace(c.Query("durationMax")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return filter, errInvalidParam("durationMax")
		}
		filter.DurationMax = &v
	}
	return filter, nil
}

type paramError struct{ name string }

func (e paramError) Error() string { return "invalid query parameter: " + e.name }

func errInvalidParam(name string) error { return paramError{name: name} }

// QueryHandler serves GET /logs.
func QueryHandler(log *Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := parseFilter(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		limit := defaultQueryLimit
		if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameter: limit"})
				return
			}
			limit = min(n, maxQueryLimit)
		}

		entries, err := log.QueryRange(filter, limit)
		if err != nil {
			config.LogError(log.Logger, "handlers.go", "QueryHandler", "querying event log", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

type keepAliveFrame struct {
	KeepAlive bool      `json:"keepalive"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamHandler serves GET /logs/stream: a persistent NDJSON connection
// that first replays a burst of recent history, then delivers live entries,
// with periodic keep-alive frames so a passive client can tell the
// connection is alive. The subscription is opened before the backfill query
// so no entry falls between the two; overlap is removed by id.
func StreamHandler(log *Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := parseFilter(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.Writer.Header().Set("Content-Type", "application/x-ndjson")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.WriteHeader(http.StatusOK)

		sub := log.Subscribe(filter)
		defer sub.Close()

		encoder := json.NewEncoder(c.Writer)

		backfill, err := log.QueryRange(filter, streamBackfillSize)
		if err != nil {
			config.LogError(log.Logger, "handlers.go", "StreamHandler", "backfilling history", nil, err)
			return
		}
		var lastDelivered int64
		// QueryRange is newest-first; replay oldest-first so the client
		// reads history in order.
		for i := len(backfill) - 1; i >= 0; i-- {
			if err := encoder.Encode(backfill[i]); err != nil {
				return
			}
			lastDelivered = backfill[i].EntryId
		}
		c.Writer.Flush()

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				// Client went away; Close() above tears down the fan-out
				// subscriber so nothing leaks.
				return
			case entry, ok := <-sub.C:
				if !ok {
					return
				}
				if entry.EntryId <= lastDelivered {
					continue
				}
				if err := encoder.Encode(entry); err != nil {
					return
				}
				lastDelivered = entry.EntryId
				c.Writer.Flush()
			case <-keepAlive.C:
				if err := encoder.Encode(keepAliveFrame{KeepAlive: true, Timestamp: time.Now().UTC()}); err != nil {
					return
				}
				c.Writer.Flush()
			}
		}
	}
}
