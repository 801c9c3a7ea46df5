// README: Driver handlers for profile registration, edits, availability and pool trips.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"poolride/internal/http/middleware"
	"poolride/internal/modules/driver"
	"poolride/internal/modules/pool"
	"poolride/internal/types"
)

const (
	RoleDriver = "driver"
	RoleAdmin  = "admin"
)

type DriverHandler struct {
	drivers DriverService
	pools   PoolService
}

func NewDriverHandler(driverSvc DriverService, poolSvc PoolService) *DriverHandler {
	return &DriverHandler{drivers: driverSvc, pools: poolSvc}
}

type registerReq struct {
	Name     string                `json:"name"`
	Phone    string                `json:"phone"`
	Email    string                `json:"email"`
	PhotoURL string                `json:"photo_url"`
	Vehicle  driver.VehicleDetails `json:"vehicle"`
}

func (h *DriverHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	p, err := h.drivers.Register(c.Request.Context(), driver.RegisterCommand{
		DriverID: types.ID(middleware.CallerUID(c)),
		Registration: driver.Registration{
			Name:     req.Name,
			Phone:    req.Phone,
			Email:    req.Email,
			PhotoURL: req.PhotoURL,
			Vehicle:  req.Vehicle,
		},
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, p)
}

func (h *DriverHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.drivers.Get(c.Request.Context(), id, types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (h *DriverHandler) Edit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var edit driver.Edit
	if err := c.ShouldBindJSON(&edit); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	p, err := h.drivers.Edit(c.Request.Context(), driver.EditCommand{
		DriverID: id,
		ActorID:  types.ID(middleware.CallerUID(c)),
		Edit:     edit,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (h *DriverHandler) GoOnline(c *gin.Context)  { h.setAvailability(c, true) }
func (h *DriverHandler) GoOffline(c *gin.Context) { h.setAvailability(c, false) }

func (h *DriverHandler) setAvailability(c *gin.Context, online bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.drivers.SetAvailability(c.Request.Context(), driver.AvailabilityCommand{
		DriverID: id,
		ActorID:  types.ID(middleware.CallerUID(c)),
		Online:   online,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"driver_id": p.ID, "availability": p.Availability})
}

type assignReq struct {
	PickupSequence  []types.ID `json:"pickup_sequence"`
	DropoffSequence []types.ID `json:"dropoff_sequence"`
}

// Assign books a READY pool for the calling driver.
func (h *DriverHandler) Assign(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req assignReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	p, err := h.pools.AssignDriver(c.Request.Context(), pool.AssignCommand{
		PoolID:          id,
		DriverID:        types.ID(middleware.CallerUID(c)),
		PickupSequence:  req.PickupSequence,
		DropoffSequence: req.DropoffSequence,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (h *DriverHandler) StartPickup(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.pools.StartPickup(c.Request.Context(), pool.StartPickupCommand{PoolID: id, DriverID: types.ID(middleware.CallerUID(c))})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (h *DriverHandler) PickedUp(c *gin.Context) {
	h.stop(c, h.pools.MarkPickedUp)
}

func (h *DriverHandler) DroppedOff(c *gin.Context) {
	h.stop(c, h.pools.MarkDroppedOff)
}

func (h *DriverHandler) stop(c *gin.Context, mark func(ctx context.Context, cmd pool.StopCommand) (*pool.PoolRide, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	studentID, ok := pathID(c, "studentId")
	if !ok {
		return
	}
	p, err := mark(c.Request.Context(), pool.StopCommand{
		PoolID:    id,
		DriverID:  types.ID(middleware.CallerUID(c)),
		StudentID: studentID,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}
