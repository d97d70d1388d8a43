package console

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dyadov103/home-hydroponics/internal/logger"
	"github.com/dyadov103/home-hydroponics/pkg/errors"
)

type Handler struct {
	service       Service
	logger        logger.Logger
	defaultCount  int
	defaultSettle time.Duration
}

func NewHandler(service Service, log logger.Logger, defaultCount int, defaultSettle time.Duration) *Handler {
	return &Handler{
		service:       service,
		logger:        log,
		defaultCount:  defaultCount,
		defaultSettle: defaultSettle,
	}
}

// HandleError logs client mistakes at warn level and everything else at error.
func (h *Handler) HandleError(c *gin.Context, err error) {
	if errors.IsValidation(err) || errors.IsNotFound(err) {
		h.logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	} else {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		messages := v1.Group("/messages")
		{
			messages.POST("", h.SendMessage)
			messages.POST("/humidity/synthetic", h.SendSyntheticHumidity)
			messages.POST("/heartbeat/synthetic", h.SendSyntheticHeartbeat)
			messages.POST("/water-ack", h.SendWaterAck)
		}

		v1.POST("/spam", h.Spam)

		tables := v1.Group("/tables")
		{
			tables.POST("/check", h.CheckTables)
			tables.GET("/:name/count", h.CountRows)
		}
	}
}

// SendMessage godoc
// @Summary      Publish a raw message
// @Description  Publish an arbitrary string onto the ingest queue. The body is not validated as a packet
// @Tags         messages
// @Accept       json
// @Produce      json
// @Param        message  body      SendRequest  true  "Message to publish"
// @Success      202      {object}  map[string]string
// @Failure      400      {object}  map[string]string
// @Failure      503      {object}  map[string]string
// @Router       /messages [post]
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	if err := h.service.Send(c.Request.Context(), req.Message); err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "published"})
}

// SendSyntheticHumidity godoc
// @Summary      Publish a random humidity packet
// @Tags         messages
// @Produce      json
// @Success      202  {object}  models.HumidityMessage
// @Failure      503  {object}  map[string]string
// @Router       /messages/humidity/synthetic [post]
func (h *Handler) SendSyntheticHumidity(c *gin.Context) {
	msg, err := h.service.SendSyntheticHumidity(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, msg)
}

// SendSyntheticHeartbeat godoc
// @Summary      Publish a random heartbeat packet
// @Description  dev_time is set to the current time
// @Tags         messages
// @Produce      json
// @Success      202  {object}  models.HeartbeatMessage
// @Failure      503  {object}  map[string]string
// @Router       /messages/heartbeat/synthetic [post]
func (h *Handler) SendSyntheticHeartbeat(c *gin.Context) {
	msg, err := h.service.SendSyntheticHeartbeat(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, msg)
}

// SendWaterAck godoc
// @Summary      Publish a water_ack packet
// @Tags         messages
// @Produce      json
// @Success      202  {object}  models.WaterAckMessage
// @Failure      503  {object}  map[string]string
// @Router       /messages/water-ack [post]
func (h *Handler) SendWaterAck(c *gin.Context) {
	msg, err := h.service.SendWaterAck(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, msg)
}

// Spam godoc
// @Summary      Measure packet loss
// @Description  Publish random humidity packets, wait for the settle period and report how many reached humidity_data. The response arrives after the settle period
// @Tags         diagnostics
// @Accept       json
// @Produce      json
// @Param        request  body      SpamRequest  false  "Packet count and settle duration"
// @Success      200      {object}  SpamReport
// @Failure      400      {object}  map[string]string
// @Failure      503      {object}  map[string]string
// @Router       /spam [post]
func (h *Handler) Spam(c *gin.Context) {
	var req SpamRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
			return
		}
	}

	count := req.Count
	if count == 0 {
		count = h.defaultCount
	}

	settle := h.defaultSettle
	if req.Settle != "" {
		d, err := time.ParseDuration(req.Settle)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
				errors.ErrValidation.WithDetail("message", "settle must be a non-negative duration such as 5s")))
			return
		}
		settle = d
	}

	report, err := h.service.Spam(c.Request.Context(), count, settle)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CheckTables godoc
// @Summary      Check sensor tables
// @Description  Create missing sensor tables and report structural mismatches of existing ones
// @Tags         tables
// @Produce      json
// @Success      200  {object}  TablesResponse
// @Router       /tables/check [post]
func (h *Handler) CheckTables(c *gin.Context) {
	c.JSON(http.StatusOK, TablesResponse{Tables: h.service.CheckTables(c.Request.Context())})
}

// CountRows godoc
// @Summary      Count rows of a sensor table
// @Tags         tables
// @Produce      json
// @Param        name  path      string  true  "Table name"  Enums(humidity_data, heartbeat_data)
// @Success      200   {object}  CountResponse
// @Failure      404   {object}  map[string]string
// @Failure      503   {object}  map[string]string
// @Router       /tables/{name}/count [get]
func (h *Handler) CountRows(c *gin.Context) {
	table := c.Param("name")
	rows, err := h.service.Count(c.Request.Context(), table)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Table: table, Rows: rows})
}
