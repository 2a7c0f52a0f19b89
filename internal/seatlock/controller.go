package seatlock

import (
	"net/http"
	"time"

	"evently-core/internal/shared/apperr"
	"evently-core/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type lockBody struct {
	SeatLabel string `json:"seat_label" validate:"required"`
}

type extendBody struct {
	SeatLabel         string `json:"seat_label" validate:"required"`
	AdditionalSeconds int    `json:"additional_seconds" validate:"required,min=1"`
}

type Controller struct {
	service   Service
	validator *validator.Validate
}

func NewController(service Service) *Controller {
	return &Controller{service: service, validator: validator.New()}
}

func (ctl *Controller) parsePathIDs(c *gin.Context) (eventID, seatTypeID uuid.UUID, ok bool) {
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "invalid event id", nil, nil)
		return uuid.UUID{}, uuid.UUID{}, false
	}
	seatTypeID, err = uuid.Parse(c.Param("seatTypeId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "invalid seat type id", nil, nil)
		return uuid.UUID{}, uuid.UUID{}, false
	}
	return eventID, seatTypeID, true
}

func respondAppErr(c *gin.Context, err error) {
	if appErr, ok := apperr.As(err); ok {
		response.RespondJSON(c, "error", appErr.Status(), appErr.Message, nil, nil)
		return
	}
	response.RespondJSON(c, "error", http.StatusInternalServerError, "request failed", nil, nil)
}

func (ctl *Controller) Lock(c *gin.Context) {
	eventID, seatTypeID, ok := ctl.parsePathIDs(c)
	if !ok {
		return
	}

	var body lockBody
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

	lock, err := ctl.service.Acquire(c.Request.Context(), eventID, seatTypeID, userID, body.SeatLabel)
	if err != nil {
		respondAppErr(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusCreated, "seat locked", lock, nil)
}

func (ctl *Controller) Release(c *gin.Context) {
	eventID, seatTypeID, ok := ctl.parsePathIDs(c)
	if !ok {
		return
	}

	userID, err := uuid.Parse(c.GetString("user_id"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusUnauthorized, "user not authenticated", nil, nil)
		return
	}

	released, err := ctl.service.Release(c.Request.Context(), eventID, seatTypeID, userID, c.Param("seatLabel"))
	if err != nil {
		respondAppErr(c, err)
		return
	}
	if !released {
		response.RespondJSON(c, "error", http.StatusConflict, "lock is not held by caller", nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "seat released", nil, nil)
}

func (ctl *Controller) Extend(c *gin.Context) {
	eventID, seatTypeID, ok := ctl.parsePathIDs(c)
	if !ok {
		return
	}

	var body extendBody
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

	extended, err := ctl.service.Extend(c.Request.Context(), eventID, seatTypeID, userID, body.SeatLabel, time.Duration(body.AdditionalSeconds)*time.Second)
	if err != nil {
		respondAppErr(c, err)
		return
	}
	if !extended {
		response.RespondJSON(c, "error", http.StatusConflict, "lock is not held by caller", nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "lock extended", nil, nil)
}

func (ctl *Controller) Get(c *gin.Context) {
	eventID, seatTypeID, ok := ctl.parsePathIDs(c)
	if !ok {
		return
	}

	lock, err := ctl.service.Get(c.Request.Context(), eventID, seatTypeID, c.Param("seatLabel"))
	if err != nil {
		respondAppErr(c, err)
		return
	}
	if lock == nil {
		response.RespondJSON(c, "success", http.StatusOK, "seat is unlocked", nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "lock retrieved", lock, nil)
}

func (ctl *Controller) ListMine(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "invalid event id", nil, nil)
		return
	}
	userID, err := uuid.Parse(c.GetString("user_id"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusUnauthorized, "user not authenticated", nil, nil)
		return
	}

	locks, err := ctl.service.ListByUser(c.Request.Context(), eventID, userID)
	if err != nil {
		respondAppErr(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "locks retrieved", locks, nil)
}
