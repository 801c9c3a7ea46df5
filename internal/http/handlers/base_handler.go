// README: Base handler utilities (JSON helpers, error mapping, service contracts).
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"poolride/internal/modules/driver"
	"poolride/internal/modules/pool"
	"poolride/internal/types"
)

// PoolService is the part of pool.Service the HTTP layer drives.
type PoolService interface {
	Search(ctx context.Context, cmd pool.SearchCommand) (*pool.SearchResult, error)
	Book(ctx context.Context, cmd pool.SearchCommand) (*pool.BookResult, error)
	Join(ctx context.Context, cmd pool.JoinCommand) (*pool.PoolRide, error)
	Leave(ctx context.Context, cmd pool.LeaveCommand) (*pool.PoolRide, error)
	Get(ctx context.Context, id types.ID) (*pool.PoolRide, error)
	QuoteFares(ctx context.Context, pickup, drop types.Point) (*pool.FareTable, error)
	AssignDriver(ctx context.Context, cmd pool.AssignCommand) (*pool.PoolRide, error)
	StartPickup(ctx context.Context, cmd pool.StartPickupCommand) (*pool.PoolRide, error)
	MarkPickedUp(ctx context.Context, cmd pool.StopCommand) (*pool.PoolRide, error)
	MarkDroppedOff(ctx context.Context, cmd pool.StopCommand) (*pool.PoolRide, error)
	Cancel(ctx context.Context, cmd pool.CancelCommand) (*pool.PoolRide, error)
}

// DriverService is the part of driver.Service the HTTP layer drives.
type DriverService interface {
	Register(ctx context.Context, cmd driver.RegisterCommand) (*driver.Profile, error)
	Get(ctx context.Context, driverID, actorID types.ID) (*driver.Profile, error)
	Edit(ctx context.Context, cmd driver.EditCommand) (*driver.Profile, error)
	Approve(ctx context.Context, cmd driver.DecisionCommand) (*driver.Profile, error)
	Reject(ctx context.Context, cmd driver.DecisionCommand) (*driver.Profile, error)
	SetAvailability(ctx context.Context, cmd driver.AvailabilityCommand) (*driver.Profile, error)
	ListPending(ctx context.Context, adminID types.ID, limit int) ([]driver.Profile, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts uuids and Firebase uids.
func isValidID(v string) bool {
	if v == "" || len(v) > 128 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// pathID reads and validates a path parameter, writing a 400 when it is bad.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func writeDomainError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, types.ErrConflict), errors.Is(err, types.ErrInvalidTransition):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusGatewayTimeout, "upstream timeout")
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
