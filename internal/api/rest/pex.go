package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/KevinKickass/PortExtender/internal/api/websocket"
	"github.com/KevinKickass/PortExtender/internal/devices"
	"github.com/KevinKickass/PortExtender/internal/expander"
	"github.com/KevinKickass/PortExtender/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PexResponse is what the settings page renders.
type PexResponse struct {
	Config  types.PexConfiguration `json:"config"`
	Status  types.StatusReport     `json:"status"`
	Handles []devices.HandleInfo   `json:"handles"`
	Demo    bool                   `json:"demo"`
	Warning string                 `json:"warning,omitempty"`
}

func (s *Server) pexResponse(warning error) PexResponse {
	engine := s.lm.Engine()
	resp := PexResponse{
		Config:  engine.Config(),
		Status:  engine.Status(),
		Handles: engine.Handles(),
		Demo:    s.lm.Demo(),
	}
	if warning != nil {
		resp.Warning = warning.Error()
	}
	return resp
}

// GET /api/v1/pex
func (s *Server) getPex(c *gin.Context) {
	engine := s.lm.Engine()

	// refresh the discovered list shown next to the device table
	if _, err := engine.Scan(c.Request.Context(), engine.Config().DefaultBusID, false); err != nil {
		s.logger.Warn("Discovery scan for settings page failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, s.pexResponse(nil))
}

// PUT /api/v1/pex
func (s *Server) updatePex(c *gin.Context) {
	var req devices.SettingsUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err.Error()))
		return
	}

	err := s.lm.Engine().Update(c.Request.Context(), req, s.lm.Host().Snapshot())
	switch {
	case errors.Is(err, devices.ErrInvalidSettings):
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid settings", err.Error()))
		return
	case errors.Is(err, devices.ErrPersistence):
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeInternal, "Failed to save settings", err.Error()))
		return
	}

	// a rejected configuration is saved too; the status carries the reason
	c.JSON(http.StatusOK, s.pexResponse(err))
}

// POST /api/v1/pex/scan?bus=1&full=true
func (s *Server) scanBus(c *gin.Context) {
	engine := s.lm.Engine()

	busID := engine.Config().DefaultBusID
	if v := c.Query("bus"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid bus id", v))
			return
		}
		busID = id
	}
	full := c.Query("full") == "true"

	found, err := engine.Scan(c.Request.Context(), busID, full)
	if errors.Is(err, devices.ErrPersistence) {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeInternal, "Failed to save scan result", err.Error()))
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, types.NewErrorResponse(types.CodeTransport, "Scan failed", err.Error()))
		return
	}

	addrs := make([]string, len(found))
	for i, a := range found {
		addrs[i] = fmt.Sprintf("0x%02X", a)
	}
	s.wsHub.Broadcast(websocket.NewScanResultMessage(busID, full, addrs))

	c.JSON(http.StatusOK, gin.H{
		"bus_id":    busID,
		"full":      full,
		"addresses": addrs,
		"count":     len(addrs),
	})
}

type TestWriteRequest struct {
	BusID   int    `json:"bus_id"`
	Address *uint8 `json:"hw_addr" binding:"required"`
	Value   *uint8 `json:"value" binding:"required"`
}

// POST /api/v1/pex/test
func (s *Server) testWrite(c *gin.Context) {
	var req TestWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err.Error()))
		return
	}

	if err := s.lm.Engine().TestWrite(req.BusID, *req.Address, *req.Value); err != nil {
		c.JSON(http.StatusBadGateway, types.NewErrorResponse(types.CodeTransport, "Test write failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "write issued",
		"demo":    s.lm.Demo(),
	})
}

// GET /api/v1/pex/hardware
func (s *Server) getHardware(c *gin.Context) {
	chips, err := expander.Catalog()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeInternal, "Chip catalog unavailable", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chips": chips,
		"count": len(chips),
	})
}
