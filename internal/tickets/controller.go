package tickets

import (
	"net/http"

	"evently-core/internal/shared/apperr"
	"evently-core/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Controller serves the ticket-related sub-resources of the §6
// /bookings surface: GetTickets and the job-status poll.
type Controller struct {
	service Service
}

func NewController(service Service) *Controller {
	return &Controller{service: service}
}

func (ctl *Controller) GetTickets(c *gin.Context) {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "invalid booking id", nil, nil)
		return
	}

	rows, status, err := ctl.service.GetTickets(c.Request.Context(), bookingID)
	if err != nil {
		if appErr, ok := apperr.As(err); ok {
			response.RespondJSON(c, "error", appErr.Status(), appErr.Message, nil, nil)
			return
		}
		response.RespondJSON(c, "error", http.StatusInternalServerError, "request failed", nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "tickets retrieved", gin.H{
		"tickets": rows,
		"status":  status,
	}, nil)
}

func (ctl *Controller) JobStatus(c *gin.Context) {
	status, found := ctl.service.GetJobStatus(c.Param("jobId"))
	if !found {
		response.RespondJSON(c, "error", http.StatusNotFound, "job not found", nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "job status retrieved", status, nil)
}
