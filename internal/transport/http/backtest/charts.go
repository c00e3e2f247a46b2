package backtesthttp

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tickforge/internal/analysis/indicator"
	"tickforge/internal/chart"
	"tickforge/internal/repository"

	"github.com/gin-gonic/gin"
)

type chartInfo struct {
	Key    string       `json:"key"`
	Window chart.Window `json:"window"`
	Valid  bool         `json:"valid"`
}

func (s *Server) handleCharts(c *gin.Context) {
	ctx := c.Request.Context()
	keys, err := s.store.ListCharts(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]chartInfo, 0, len(keys))
	for _, key := range keys {
		ch, err := chart.Parse(key)
		if err != nil {
			continue
		}
		w, err := s.store.TimeWindow(ctx, ch)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out = append(out, chartInfo{Key: ch.Key(), Window: w, Valid: w.Valid()})
	}
	c.JSON(http.StatusOK, gin.H{"charts": out})
}

func (s *Server) handleChartWindow(c *gin.Context) {
	ch, err := chart.Parse(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, err := s.store.TimeWindow(c.Request.Context(), ch)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, chartInfo{Key: ch.Key(), Window: w, Valid: w.Valid()})
}

type rowPayload struct {
	Timestamp time.Time           `json:"ts"`
	Values    map[string]*float64 `json:"values"`
}

// handleChartRows 读取窗口内的记录，indicators=sma:20,rsi 附加指标列。
func (s *Server) handleChartRows(c *gin.Context) {
	ch, err := chart.Parse(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var ov chart.Overrides
	for name, dst := range map[string]**time.Time{"from": &ov.From, "to": &ov.To} {
		raw := strings.TrimSpace(c.Query(name))
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": name + ": " + err.Error()})
			return
		}
		*dst = &ts
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit 必须是正整数"})
			return
		}
		ov.Count = &n
	}
	if raw := strings.TrimSpace(c.Query("indicators")); raw != "" {
		for _, spec := range strings.Split(raw, ",") {
			ind, err := indicator.Parse(spec)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if err := ch.Attach(ind); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
	}
	if err := ch.Read(c.Request.Context(), s.store, ov); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	view := ch.View()
	fields := view.Fields()
	rows := make([]rowPayload, view.Len())
	for i := range rows {
		values := make(map[string]*float64, len(fields))
		for _, f := range fields {
			v := view.Value(f, i)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				values[f] = nil
				continue
			}
			values[f] = &v
		}
		rows[i] = rowPayload{Timestamp: view.At(i), Values: values}
	}
	c.JSON(http.StatusOK, gin.H{"chart": ch.Key(), "fields": fields, "rows": rows})
}

type windowRequest struct {
	Charts []string `json:"charts" binding:"required,min=1"`
}

func (s *Server) handleCommonWindow(c *gin.Context) {
	var req windowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	charts := make([]*chart.Chart, 0, len(req.Charts))
	for _, key := range req.Charts {
		ch, err := chart.Parse(key)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		charts = append(charts, ch)
	}
	w, err := repository.GetCommonTimeWindow(c.Request.Context(), s.store, charts...)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"window": w, "valid": w.Valid()})
}

// writeStoreError 把数据缺口映射为 404，其余为 500。
func writeStoreError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrDataGap) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
