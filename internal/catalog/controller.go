package catalog

import (
	"net/http"

	"evently-core/internal/shared/apperr"
	"evently-core/internal/shared/utils/response"
	"evently-core/internal/users"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

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

func callerIdentity(c *gin.Context) (uuid.UUID, bool, bool) {
	userID, err := uuid.Parse(c.GetString("user_id"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusUnauthorized, "user not authenticated", nil, nil)
		return uuid.UUID{}, false, false
	}
	return userID, c.GetString("user_role") == string(users.RoleAdmin), true
}

func (ctl *Controller) List(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "invalid event id", nil, nil)
		return
	}

	rows, err := ctl.service.ListSeatTypes(c.Request.Context(), eventID)
	if err != nil {
		respondAppErr(c, err)
		return
	}
	response.RespondJSON(c, "success", http.StatusOK, "seat types retrieved", rows, nil)
}

func (ctl *Controller) Create(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "invalid event id", nil, nil)
		return
	}

	var input SeatTypeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "invalid request body", nil, err.Error())
		return
	}
	if err := ctl.validator.Struct(&input); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "validation failed", nil, err.Error())
		return
	}

	callerID, isAdmin, ok := callerIdentity(c)
	if !ok {
		return
	}

	st, err := ctl.service.CreateSeatType(c.Request.Context(), eventID, callerID, isAdmin, input)
	if err != nil {
		respondAppErr(c, err)
		return
	}
	response.RespondJSON(c, "success", http.StatusCreated, "seat type created", st, nil)
}

func (ctl *Controller) Update(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "invalid event id", nil, nil)
		return
	}
	seatTypeID, err := uuid.Parse(c.Param("seatTypeId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "invalid seat type id", nil, nil)
		return
	}

	var input SeatTypeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "invalid request body", nil, err.Error())
		return
	}
	if err := ctl.validator.Struct(&input); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "validation failed", nil, err.Error())
		return
	}

	callerID, isAdmin, ok := callerIdentity(c)
	if !ok {
		return
	}

	st, err := ctl.service.UpdateSeatType(c.Request.Context(), eventID, seatTypeID, callerID, isAdmin, input)
	if err != nil {
		respondAppErr(c, err)
		return
	}
	response.RespondJSON(c, "success", http.StatusOK, "seat type updated", st, nil)
}

func (ctl *Controller) Delete(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "invalid event id", nil, nil)
		return
	}
	seatTypeID, err := uuid.Parse(c.Param("seatTypeId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "invalid seat type id", nil, nil)
		return
	}

	callerID, isAdmin, ok := callerIdentity(c)
	if !ok {
		return
	}

	if err := ctl.service.DeleteSeatType(c.Request.Context(), eventID, seatTypeID, callerID, isAdmin); err != nil {
		respondAppErr(c, err)
		return
	}
	response.RespondJSON(c, "success", http.StatusOK, "seat type deleted", nil, nil)
}
