package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ruby4mag/service-downtime-backend/internal/downtime"
)

// Calculate recomputes and stores the client's report now.
func (h *Handler) Calculate(c *gin.Context) {
	cfg := clientFrom(c)
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days < downtime.MinDays || days > downtime.MaxDays {
		c.JSON(http.StatusBadRequest, gin.H{"error": "The 'days' parameter must be between 1 and 90"})
		return
	}

	report, err := h.Engine.Recompute(c.Request.Context(), cfg.ClientID, days)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, report)
	case errors.Is(err, downtime.ErrUnknownClient):
		c.JSON(http.StatusNotFound, gin.H{"error": "Client '" + cfg.ClientID + "' not found"})
	case errors.Is(err, downtime.ErrInvalidDays):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("downtime calculation failed", zap.String("client", cfg.ClientID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to calculate downtime", "details": err.Error()})
	}
}

// Report returns the stored report as is.
func (h *Handler) Report(c *gin.Context) {
	report := h.loadReport(c)
	if report == nil {
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) Summary(c *gin.Context) {
	report := h.loadReport(c)
	if report == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"clientId":             report.ClientID,
		"periodDays":           report.PeriodDays,
		"generatedAt":          report.GeneratedAt,
		"totalDowntime":        report.TotalDowntimeFormatted,
		"totalDowntimeSeconds": report.TotalDowntimeSeconds,
		"servicesCount":        report.ServicesCount,
		"servicesWithDowntime": report.ServicesWithDowntime,
		"availability":         report.Availability,
		"activeIncidents":      len(report.ActiveIncidents),
	})
}
