package bills

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medvault/medvault/internal/platform/auth"
	"github.com/medvault/medvault/internal/platform/blobstore"
	"github.com/medvault/medvault/pkg/pagination"
)

type Handler struct {
	svc   *Service
	blobs blobstore.Store
}

func NewHandler(svc *Service, blobs blobstore.Store) *Handler {
	return &Handler{svc: svc, blobs: blobs}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/bills", h.CreateBill)
	api.GET("/bills", h.ListBills)
	api.GET("/bills/:id", h.GetBill)
	api.PUT("/bills/:id", h.UpdateBill)
	api.DELETE("/bills/:id", h.DeleteBill)

	api.POST("/bills/:id/documents", h.AddDocument)
	api.DELETE("/bills/:id/documents/:docId", h.RemoveDocument)

	api.POST("/bills/:id/payments", h.AddPayment)
	api.DELETE("/bills/:id/payments/:paymentId", h.RemovePayment)
}

// owned fetches the bill and hides other owners' bills behind a 404.
func (h *Handler) owned(c echo.Context) (*Bill, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "bill not found")
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if b.OwnerID != auth.UserID(c) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "bill not found")
	}
	return b, nil
}

func (h *Handler) CreateBill(c echo.Context) error {
	var b Bill
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b.OwnerID = auth.UserID(c)
	if err := h.svc.Create(c.Request().Context(), &b); err != nil {
		if IsValidation(err) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) ListBills(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByOwner(c.Request().Context(), auth.UserID(c), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetBill(c echo.Context) error {
	b, err := h.owned(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) UpdateBill(c echo.Context) error {
	b, err := h.owned(c)
	if err != nil {
		return err
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.Update(c.Request().Context(), b.ID, in)
	if err != nil {
		if IsValidation(err) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteBill(c echo.Context) error {
	b, err := h.owned(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), b.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// AddDocument uploads one page and attaches it to a saved bill. The file
// is validated before anything is stored.
func (h *Handler) AddDocument(c echo.Context) error {
	b, err := h.owned(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	contentType := fh.Header.Get("Content-Type")
	if !blobstore.AllowedDocumentTypes[contentType] {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported document type")
	}
	if fh.Size > blobstore.MaxFileSize {
		return echo.NewHTTPError(http.StatusBadRequest, "file exceeds the 50 MiB limit")
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	meta, err := h.blobs.Upload(c.Request().Context(), blobstore.Metadata{
		FileName:    fh.Filename,
		ContentType: contentType,
		Size:        fh.Size,
		OwnerID:     b.OwnerID.String(),
		Category:    "bill-page",
	}, src)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	doc := BillDocument{
		BillID:      b.ID,
		FileName:    meta.FileName,
		ContentType: meta.ContentType,
		Size:        meta.Size,
		StorageKey:  meta.Key,
	}
	if err := h.svc.AddDocument(c.Request().Context(), &doc); err != nil {
		if IsValidation(err) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, doc)
}

func (h *Handler) RemoveDocument(c echo.Context) error {
	b, err := h.owned(c)
	if err != nil {
		return err
	}
	docID, err := uuid.Parse(c.Param("docId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid document id")
	}
	if err := h.svc.RemoveDocument(c.Request().Context(), b.ID, docID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddPayment(c echo.Context) error {
	b, err := h.owned(c)
	if err != nil {
		return err
	}
	var p Payment
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.BillID = b.ID
	if err := h.svc.AddPayment(c.Request().Context(), &p); err != nil {
		if IsValidation(err) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) RemovePayment(c echo.Context) error {
	b, err := h.owned(c)
	if err != nil {
		return err
	}
	paymentID, err := uuid.Parse(c.Param("paymentId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payment id")
	}
	if err := h.svc.RemovePayment(c.Request().Context(), b.ID, paymentID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "payment not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
