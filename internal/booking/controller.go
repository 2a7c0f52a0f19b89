package booking

import (
	"net/http"
	"strconv"

	"evently-core/internal/shared/apperr"
	"evently-core/internal/shared/utils/response"
	"evently-core/internal/users"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type createBookingBody struct {
	EventID    uuid.UUID     `json:"event_id" validate:"required"`
	SeatDetails []SeatRequest `json:"seat_details" validate:"required,min=1,dive"`
}

type cancelBody struct {
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Controller implements the §6 /bookings surface minus the ticket
// sub-resources, which tickets.Controller serves to avoid booking
// importing the Ticket Generator's concrete package.
type Controller struct {
	service   Service
	validator *validator.Validate
}

func NewController(service Service) *Controller {
	return &Controller{service: service, validator: validator.New()}
}

func respondAppErr(c *gin.Context, err error) {
	if appErr, ok := apperr.As(err); ok {
		response.RespondJSON(c, "error", appErr.Status(), appErr.Message, nil, nil)
		return
	}
	response.RespondJSON(c, "error", http.StatusInternalServerError, "request failed", nil, nil)
}

func (ctl *Controller) Create(c *gin.Context) {
	var body createBookingBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "invalid request body", nil, err.Error())
		return
	}
	if err := ctl.validator.Struct(&body); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "validation failed", nil, err.Error())
		return
	}

	userID, err := uuid.Parse(c.GetString("user_id"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusUnauthorized, "user not authenticated", nil, nil)
		return
	}

	b, err := ctl.service.CreateBooking(c.Request.Context(), body.EventID, userID, body.SeatDetails)
	if err != nil {
		respondAppErr(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusCreated, "booking created", b, nil)
}

func (ctl *Controller) MyBookings(c *gin.Context) {
	userID, err := uuid.Parse(c.GetString("user_id"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusUnauthorized, "user not authenticated", nil, nil)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	bookings, total, err := ctl.service.ListByUser(c.Request.Context(), userID, c.Query("status"), limit, offset)
	if err != nil {
		respondAppErr(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "bookings retrieved", gin.H{
		"bookings": bookings,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	}, nil)
}

func (ctl *Controller) GetByID(c *gin.Context) {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "invalid booking id", nil, nil)
		return
	}

	b, err := ctl.service.GetByID(c.Request.Context(), bookingID)
	if err != nil {
		respondAppErr(c, err)
		return
	}

	userID, _ := uuid.Parse(c.GetString("user_id"))
	if b.UserID != userID && c.GetString("user_role") != string(users.RoleOrganizer) && c.GetString("user_role") != string(users.RoleAdmin) {
		response.RespondJSON(c, "error", http.StatusForbidden, "booking does not belong to caller", nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "booking retrieved", b, nil)
}

func (ctl *Controller) Cancel(c *gin.Context) {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "invalid booking id", nil, nil)
		return
	}

	var body cancelBody
	_ = c.ShouldBindJSON(&body)

	userID, err := uuid.Parse(c.GetString("user_id"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusUnauthorized, "user not authenticated", nil, nil)
		return
	}

	b, err := ctl.service.CancelBooking(c.Request.Context(), bookingID, userID, body.Reason, body.IdempotencyKey)
	if err != nil {
		respondAppErr(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "booking cancelled", b, nil)
}
