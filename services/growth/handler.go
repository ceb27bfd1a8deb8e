package growth

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"growth-pipeline/pkg/errutil"
	"growth-pipeline/services/growthevent"
	"growth-pipeline/services/ledger"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
	store   *growthevent.Store
	engine  *ledger.Engine
}

func NewHandler(service *Service, store *growthevent.Store, engine *ledger.Engine) *Handler {
	return &Handler{service: service, store: store, engine: engine}
}

func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.GET("/growth-events", h.listEvents)
	v1.GET("/growth-events/:id", h.getEvent)
	v1.POST("/growth-events", h.createEvent)
	v1.GET("/users/:id/ledger/:kind/verify", h.verifyLedger)
}

type createEventRequest struct {
	Business   string      `json:"business"`
	EventKey   string      `json:"eventKey"`
	UserID     json.Number `json:"userId"`
	TargetID   *string     `json:"targetId"`
	IP         *string     `json:"ip"`
	DeviceID   *string     `json:"deviceId"`
	OccurredAt time.Time   `json:"occurredAt"`
	Context    any         `json:"context"`
}

func (r createEventRequest) input() (growthevent.Input, error) {
	var userID int64
	if r.UserID != "" {
		id, err := r.UserID.Int64()
		if err != nil {
			return growthevent.Input{}, errutil.BadRequest("invalid growth event", err,
				errutil.WithDetails(errutil.Detail{Field: "userId", Message: "must be an integer"}))
		}
		userID = id
	}

	in := growthevent.Input{
		Business:   r.Business,
		EventKey:   r.EventKey,
		UserID:     userID,
		TargetID:   r.TargetID,
		IP:         r.IP,
		DeviceID:   r.DeviceID,
		OccurredAt: r.OccurredAt,
	}
	switch v := r.Context.(type) {
	case nil:
	case string:
		in.Context = v
	default:
		raw, _ := json.Marshal(v)
		in.Context = string(raw)
	}
	return in, nil
}

func parseID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errutil.BadRequest("invalid id", err, errutil.WithDetails(errutil.Detail{Field: "id", Message: "must be a positive integer"}))
	}
	return id, nil
}

func (h *Handler) createEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	in, err := req.input()
	if err != nil {
		_ = c.Error(err)
		return
	}

	id, err := h.service.HandleEvent(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": strconv.FormatInt(id, 10)})
}

func (h *Handler) listEvents(c *gin.Context) {
	var f growthevent.Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		_ = c.Error(errutil.BadRequest("invalid status", nil, errutil.WithDetails(errutil.Detail{Field: "status", Message: "unknown status"})))
		return
	}

	page, err := h.store.FindPage(c.Request.Context(), f)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) getEvent(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	event, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if event == nil {
		_ = c.Error(errutil.NotFound("growth event not found", nil))
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *Handler) verifyLedger(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	kind, err := ledger.ParseKind(c.Param("kind"))
	if err != nil {
		_ = c.Error(errutil.BadRequest("invalid ledger kind", err))
		return
	}

	status, err := h.engine.VerifyChain(c.Request.Context(), kind, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, status)
}
