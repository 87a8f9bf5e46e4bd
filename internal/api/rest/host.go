package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/PortExtender/internal/devices"
	"github.com/KevinKickass/PortExtender/internal/types"
	"github.com/gin-gonic/gin"
)

type StationsRequest struct {
	Stations []bool `json:"stations" binding:"required"`
}

type OptionsRequest struct {
	StationCount *int `json:"station_count" binding:"required,min=0"`
	ActiveLow    bool `json:"active_low"`
}

// POST /api/v1/host/stations
func (s *Server) postStations(c *gin.Context) {
	var req StationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err.Error()))
		return
	}

	state := s.lm.Host().SetStations(req.Stations)
	err := s.lm.Engine().OnStationChange(state)
	if errors.Is(err, devices.ErrNotConfigured) {
		c.JSON(http.StatusConflict, types.NewErrorResponse(types.CodeConflict, "Port extender not configured", err.Error()))
		return
	}

	resp := gin.H{"applied": true}
	if err != nil {
		// drift, shortfall or a failing device; the rest was written
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// POST /api/v1/host/options
func (s *Server) postOptions(c *gin.Context) {
	var req OptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err.Error()))
		return
	}

	state := s.lm.Host().SetOptions(*req.StationCount, req.ActiveLow)
	err := s.lm.Engine().OnHostOptionsChange(c.Request.Context(), state)
	if errors.Is(err, devices.ErrPersistence) {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeInternal, "Failed to save configuration", err.Error()))
		return
	}

	resp := gin.H{"status": s.lm.Engine().Status()}
	if err != nil {
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/v1/host/native-output
func (s *Server) getNativeOutput(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"native_output_disabled": s.lm.Host().NativeOutputDisabled(),
	})
}
