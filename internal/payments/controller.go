package payments

import (
	"io"
	"net/http"

	"evently-core/internal/shared/apperr"
	"evently-core/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type createOrderBody struct {
	BookingID uuid.UUID `json:"booking_id" validate:"required"`
	Amount    float64   `json:"amount" validate:"required,gt=0"`
	Currency  string    `json:"currency" validate:"required,len=3"`
}

type Controller struct {
	service   Service
	validator *validator.Validate
}

func NewController(service Service) *Controller {
	return &Controller{service: service, validator: validator.New()}
}

func (ctl *Controller) CreateOrder(c *gin.Context) {
	var body createOrderBody
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

	order, err := ctl.service.CreateOrder(c.Request.Context(), body.BookingID, userID, body.Amount, body.Currency)
	if err != nil {
		if appErr, ok := apperr.As(err); ok {
			response.RespondJSON(c, "error", appErr.Status(), appErr.Message, nil, nil)
			return
		}
		response.RespondJSON(c, "error", http.StatusInternalServerError, "request failed", nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusCreated, "order created", order, nil)
}

// Webhook reads the raw body before any JSON parsing happens, so
// signature verification runs over the exact bytes the provider signed
// (§6: "raw-body endpoint, no JSON parsing before signature verification").
func (ctl *Controller) Webhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	signature := c.GetHeader("X-Razorpay-Signature")
	status := ctl.service.HandleWebhook(c.Request.Context(), rawBody, signature)
	c.Status(status)
}

func (ctl *Controller) Verify(c *gin.Context) {
	b, err := ctl.service.VerifyOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		if appErr, ok := apperr.As(err); ok {
			response.RespondJSON(c, "error", appErr.Status(), appErr.Message, nil, nil)
			return
		}
		response.RespondJSON(c, "error", http.StatusInternalServerError, "request failed", nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "order status retrieved", gin.H{
		"status":         b.Status,
		"payment_status": b.PaymentStatus,
		"booking_id":     b.ID,
	}, nil)
}
