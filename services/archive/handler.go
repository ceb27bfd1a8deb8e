package archive

import (
	"net/http"

	"growth-pipeline/pkg/task"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	job      *Job
	enqueuer task.Enqueuer
}

type HandlerParams struct {
	fx.In
	Job      *Job
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{job: p.Job, enqueuer: p.Enqueuer}
}

func (h *Handler) Register(r gin.IRouter) {
	r.POST("/v1/archive/runs", h.trigger)
}

// trigger hands the run to the worker when a queue is available and runs it
// inline otherwise.
func (h *Handler) trigger(c *gin.Context) {
	if h.enqueuer != nil {
		id, err := Enqueue(c.Request.Context(), h.enqueuer)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"taskId": id})
		return
	}

	res, err := h.job.Run(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}
