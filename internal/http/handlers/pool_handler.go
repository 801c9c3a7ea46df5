// README: Student pool handlers for search, book, join, leave, view and fare quotes.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"poolride/internal/http/middleware"
	"poolride/internal/modules/pool"
	"poolride/internal/types"
)

type PoolHandler struct {
	pools PoolService
}

func NewPoolHandler(svc PoolService) *PoolHandler {
	return &PoolHandler{pools: svc}
}

type searchReq struct {
	StudentName   string      `json:"student_name"`
	Pickup        types.Point `json:"pickup"`
	Drop          types.Point `json:"drop"`
	PickupLabel   string      `json:"pickup_label"`
	DropLabel     string      `json:"drop_label"`
	DepartureTime *time.Time  `json:"departure_time"`
	SeatsNeeded   int         `json:"seats_needed"`
}

func (r searchReq) command(studentID string) pool.SearchCommand {
	seats := r.SeatsNeeded
	if seats == 0 {
		seats = 1
	}
	return pool.SearchCommand{
		StudentID:     types.ID(studentID),
		StudentName:   r.StudentName,
		Pickup:        r.Pickup,
		Drop:          r.Drop,
		PickupLabel:   r.PickupLabel,
		DropLabel:     r.DropLabel,
		DepartureTime: r.DepartureTime,
		SeatsNeeded:   seats,
	}
}

func (h *PoolHandler) Search(c *gin.Context) {
	var req searchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := h.pools.Search(c.Request.Context(), req.command(middleware.CallerUID(c)))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *PoolHandler) Book(c *gin.Context) {
	var req searchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := h.pools.Book(c.Request.Context(), req.command(middleware.CallerUID(c)))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(c, status, res)
}

func (h *PoolHandler) Join(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req searchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	p, err := h.pools.Join(c.Request.Context(), pool.JoinCommand{PoolID: id, Search: req.command(middleware.CallerUID(c))})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (h *PoolHandler) Leave(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.pools.Leave(c.Request.Context(), pool.LeaveCommand{PoolID: id, StudentID: types.ID(middleware.CallerUID(c))})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

// Get shows a pool to its participants, its driver and admins.
func (h *PoolHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.pools.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if !canView(p, types.ID(middleware.CallerUID(c)), middleware.CallerRole(c)) {
		writeError(c, http.StatusForbidden, "not a member of this pool")
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func canView(p *pool.PoolRide, uid types.ID, role string) bool {
	if role == RoleAdmin {
		return true
	}
	if p.Driver != nil && p.Driver.DriverID == uid {
		return true
	}
	for _, part := range p.Participants {
		if part.StudentID == uid {
			return true
		}
	}
	return false
}

type quoteReq struct {
	Pickup types.Point `json:"pickup"`
	Drop   types.Point `json:"drop"`
}

func (h *PoolHandler) QuoteFares(c *gin.Context) {
	var req quoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	table, err := h.pools.QuoteFares(c.Request.Context(), req.Pickup, req.Drop)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, table)
}
