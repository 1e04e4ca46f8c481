package billflow

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medvault/medvault/internal/domain/bills"
	"github.com/medvault/medvault/internal/platform/auth"
	"github.com/medvault/medvault/internal/platform/extract"
	"github.com/medvault/medvault/internal/platform/payments"
)

type Handler struct {
	orch          *Orchestrator
	webhookSecret []byte
	logger        zerolog.Logger
}

func NewHandler(orch *Orchestrator, webhookSecret []byte, logger zerolog.Logger) *Handler {
	return &Handler{
		orch:          orch,
		webhookSecret: webhookSecret,
		logger:        logger.With().Str("component", "billflow").Logger(),
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/bill-sessions", h.CreateSession)
	api.GET("/bill-sessions/:id", h.GetSession)
	api.DELETE("/bill-sessions/:id", h.CloseSession)
	api.POST("/bill-sessions/:id/documents", h.StageDocuments)
	api.DELETE("/bill-sessions/:id/documents/:index", h.UnstageDocument)
	api.PUT("/bill-sessions/:id/draft", h.UpdateDraft)
	api.POST("/bill-sessions/:id/extract", h.Extract)
	api.POST("/bill-sessions/:id/save", h.Save)
	api.POST("/bill-sessions/:id/payment-intents", h.SessionCreateIntent)

	api.POST("/bills/:id/payment-intents", h.CreateIntent)
	api.POST("/bills/:id/analyze", h.Analyze)
}

// RegisterWebhook mounts the processor callback outside the authenticated
// API group; the HMAC signature is its authentication.
func (h *Handler) RegisterWebhook(e *echo.Echo) {
	e.POST("/webhooks/payments", h.PaymentWebhook)
}

// session resolves and authorizes the session in the path. Other users'
// sessions look like they do not exist.
func (h *Handler) session(c echo.Context) (*Session, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	s, ok := h.orch.Session(id)
	if !ok || s.OwnerID != auth.UserID(c) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return s, nil
}

func (h *Handler) CreateSession(c echo.Context) error {
	s := h.orch.StartSession(auth.UserID(c))
	return c.JSON(http.StatusCreated, s.View())
}

func (h *Handler) GetSession(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.View())
}

func (h *Handler) CloseSession(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	h.orch.CloseSession(c.Request().Context(), s.ID)
	return c.NoContent(http.StatusNoContent)
}

// StageDocuments accepts one or more files in a multipart form. Each file
// is validated and staged independently; one bad file does not reject the
// others.
func (h *Handler) StageDocuments(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form is required")
	}
	files := form.File["file"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one file is required")
	}

	type stageOutcome struct {
		Document *StagedDocument `json:"document,omitempty"`
		Error    string          `json:"error,omitempty"`
	}
	outcomes := make([]stageOutcome, 0, len(files))
	staged := 0
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			outcomes = append(outcomes, stageOutcome{Error: err.Error()})
			continue
		}
		doc, err := h.orch.Stage(c.Request().Context(), s, fh.Filename, fh.Header.Get("Content-Type"), fh.Size, io.LimitReader(src, fh.Size))
		src.Close()
		if err != nil {
			outcomes = append(outcomes, stageOutcome{Error: err.Error()})
			continue
		}
		outcomes = append(outcomes, stageOutcome{Document: doc})
		staged++
	}
	status := http.StatusCreated
	if staged == 0 {
		status = http.StatusBadRequest
	}
	return c.JSON(status, map[string]interface{}{
		"results": outcomes,
		"session": s.View(),
	})
}

func (h *Handler) UnstageDocument(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid document index")
	}
	// removing an index that no longer exists is fine; retries stay safe
	h.orch.Unstage(c.Request().Context(), s, idx)
	return c.JSON(http.StatusOK, s.View())
}

func (h *Handler) UpdateDraft(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var d Draft
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.orch.UpdateDraft(s, d)
	return c.JSON(http.StatusOK, s.View())
}

func (h *Handler) Extract(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	res, err := h.orch.Extract(c.Request().Context(), s)
	if err != nil {
		return h.flowError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Save(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	bill, err := h.orch.Save(c.Request().Context(), s)
	if err != nil {
		return h.flowError(err)
	}
	return c.JSON(http.StatusCreated, bill)
}

type intentRequest struct {
	Amount float64 `json:"amount"`
}

func (h *Handler) SessionCreateIntent(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var req intentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	intent, err := h.orch.SessionCreateIntent(c.Request().Context(), s, req.Amount)
	if err != nil {
		return h.flowError(err)
	}
	return c.JSON(http.StatusCreated, intent)
}

func (h *Handler) CreateIntent(c echo.Context) error {
	billID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bill id")
	}
	var req intentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	intent, err := h.orch.CreateIntent(c.Request().Context(), auth.UserID(c), billID, req.Amount)
	if err != nil {
		return h.flowError(err)
	}
	return c.JSON(http.StatusCreated, intent)
}

type analyzeRequest struct {
	DocumentID uuid.UUID `json:"document_id"`
}

func (h *Handler) Analyze(c echo.Context) error {
	billID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bill id")
	}
	var req analyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DocumentID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "document_id is required")
	}
	snap, err := h.orch.ReAnalyze(c.Request().Context(), auth.UserID(c), billID, req.DocumentID)
	if err != nil {
		return h.flowError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

// PaymentWebhook records processor capture events. The body signature is
// verified before anything is parsed, and a bad signature is answered with
// 401 so the processor retries against a corrected configuration.
func (h *Handler) PaymentWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	evt, err := payments.VerifyAndParse(body, c.Request().Header.Get(payments.SignatureHeader), h.webhookSecret)
	if err != nil {
		if errors.Is(err, payments.ErrBadSignature) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.orch.HandleCapture(c.Request().Context(), evt); err != nil {
		if errors.Is(err, payments.ErrBadPayload) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
		}
		if errors.Is(err, bills.ErrNotFound) {
			// unknown bill: acknowledge so the processor stops retrying
			h.logger.Warn().Str("bill_id", evt.BillID).Msg("capture for unknown bill")
			return c.NoContent(http.StatusOK)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

// flowError maps workflow failures onto HTTP statuses.
func (h *Handler) flowError(err error) error {
	var (
		valErr  *bills.ValidationError
		exErr   *extract.ExtractionError
		anErr   *extract.AnalysisError
		payErr  *payments.PaymentError
		persist *bills.PersistenceError
	)
	switch {
	case errors.As(err, &valErr):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrStaleSession):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, bills.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.As(err, &exErr), errors.As(err, &anErr), errors.As(err, &payErr):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.As(err, &persist):
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
