// README: Admin handlers for driver verification review and pool cancellation.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"poolride/internal/http/middleware"
	"poolride/internal/modules/driver"
	"poolride/internal/modules/pool"
	"poolride/internal/types"
)

type AdminHandler struct {
	drivers DriverService
	pools   PoolService
}

func NewAdminHandler(driverSvc DriverService, poolSvc PoolService) *AdminHandler {
	return &AdminHandler{drivers: driverSvc, pools: poolSvc}
}

func (h *AdminHandler) ListPending(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	profiles, err := h.drivers.ListPending(c.Request.Context(), types.ID(middleware.CallerUID(c)), limit)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"drivers": profiles})
}

func (h *AdminHandler) Approve(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.drivers.Approve(c.Request.Context(), driver.DecisionCommand{
		DriverID: id,
		AdminID:  types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

type reasonReq struct {
	Reason string `json:"reason"`
}

func (h *AdminHandler) Reject(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reasonReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		writeError(c, http.StatusBadRequest, "reason is required")
		return
	}
	p, err := h.drivers.Reject(c.Request.Context(), driver.DecisionCommand{
		DriverID: id,
		AdminID:  types.ID(middleware.CallerUID(c)),
		Reason:   req.Reason,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (h *AdminHandler) CancelPool(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reasonReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "admin_cancel"
	}
	p, err := h.pools.Cancel(c.Request.Context(), pool.CancelCommand{
		PoolID:  id,
		ActorID: types.ID(middleware.CallerUID(c)),
		Reason:  req.Reason,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}
