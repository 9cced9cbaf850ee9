package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/nycbuildings/lotline/internal/errors"
	"github.com/nycbuildings/lotline/internal/ledger"
	"github.com/nycbuildings/lotline/internal/models"
	"github.com/nycbuildings/lotline/internal/services"
)

// ResolutionHandler serves the completeness report and per-record
// provenance from the pipeline's final checkpoint.
type ResolutionHandler struct {
	service  services.ResolutionService
	validate *validator.Validate
}

// NewResolutionHandler creates a new ResolutionHandler instance.
func NewResolutionHandler(service services.ResolutionService) *ResolutionHandler {
	return &ResolutionHandler{
		service:  service,
		validate: validator.New(),
	}
}

// RecordParams validates the record path parameter.
type RecordParams struct {
	ID string `validate:"required,uuid"`
}

// LotParams validates the lot path parameter. The canonical form is
// checked by the service; here only shape.
type LotParams struct {
	BBL string `validate:"required,min=10,max=14"`
}

// RecordResponse is the per-record provenance payload.
type RecordResponse struct {
	Record  *models.BuildingRecord `json:"record"`
	BBL     IdentifierStatus       `json:"bbl"`
	BIN     IdentifierStatus       `json:"bin"`
	Flags   RecordFlags            `json:"flags"`
	History []ledger.Attempt       `json:"history,omitempty"`
}

// IdentifierStatus is one identifier's value with its provenance.
type IdentifierStatus struct {
	Value      string `json:"value,omitempty"`
	Confidence string `json:"confidence"`
	Source     string `json:"source,omitempty"`
}

// RecordFlags carries the classification bits.
type RecordFlags struct {
	NonProperty   bool `json:"non_property"`
	RetryEligible bool `json:"retry_eligible"`
}

// LotResponse lists every record resolved to one tax lot.
type LotResponse struct {
	BBL     string           `json:"bbl"`
	Records []RecordResponse `json:"records"`
	Count   int              `json:"count"`
}

// ComplexesResponse lists the per-lot groupings.
type ComplexesResponse struct {
	Complexes []models.ComplexGroup `json:"complexes"`
	Count     int                   `json:"count"`
}

// Report handles GET /api/v1/report.
func (h *ResolutionHandler) Report(c *gin.Context) {
	rep, err := h.service.Summary(c.Request.Context())
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// Record handles GET /api/v1/records/:id.
func (h *ResolutionHandler) Record(c *gin.Context) {
	params := RecordParams{ID: c.Param("id")}
	if err := h.validate.Struct(params); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, verrs)
			return
		}
		apierrors.BadRequest(c, "Invalid record id", nil)
		return
	}

	detail, err := h.service.Record(c.Request.Context(), params.ID)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapDetail(detail))
}

// Lot handles GET /api/v1/lots/:bbl.
func (h *ResolutionHandler) Lot(c *gin.Context) {
	params := LotParams{BBL: c.Param("bbl")}
	if err := h.validate.Struct(params); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, verrs)
			return
		}
		apierrors.BadRequest(c, "Invalid BBL", nil)
		return
	}

	details, err := h.service.Lot(c.Request.Context(), params.BBL)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	resp := LotResponse{Records: make([]RecordResponse, 0, len(details))}
	for _, d := range details {
		resp.Records = append(resp.Records, mapDetail(d))
	}
	if len(details) > 0 && details[0].Entry != nil {
		resp.BBL = details[0].Entry.Identifier.BBL
	}
	resp.Count = len(resp.Records)
	c.JSON(http.StatusOK, resp)
}

// Complexes handles GET /api/v1/complexes.
func (h *ResolutionHandler) Complexes(c *gin.Context) {
	groups, err := h.service.Complexes(c.Request.Context())
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ComplexesResponse{
		Complexes: groups,
		Count:     len(groups),
	})
}

func (h *ResolutionHandler) serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrResultsUnavailable):
		apierrors.Unavailable(c, "Resolution results are not available yet")
	case errors.Is(err, services.ErrRecordNotFound):
		apierrors.NotFound(c, "Record not found")
	case errors.Is(err, services.ErrLotNotFound):
		apierrors.NotFound(c, "No records resolved to that lot")
	default:
		apierrors.InternalServerError(c, "Failed to query resolution results", err)
	}
}

// mapDetail flattens a service detail into the response DTO.
func mapDetail(d services.RecordDetail) RecordResponse {
	resp := RecordResponse{
		Record: d.Record,
		BBL:    IdentifierStatus{Confidence: ledger.Unresolved.String()},
		BIN:    IdentifierStatus{Confidence: ledger.Unresolved.String()},
	}
	if d.Entry == nil {
		return resp
	}
	resp.BBL = IdentifierStatus{
		Value:      d.Entry.Identifier.BBL,
		Confidence: d.Entry.BBLConfidence.String(),
		Source:     d.Entry.BBLSource,
	}
	resp.BIN = IdentifierStatus{
		Value:      d.Entry.Identifier.BIN,
		Confidence: d.Entry.BINConfidence.String(),
		Source:     d.Entry.BINSource,
	}
	resp.Flags = RecordFlags{
		NonProperty:   d.Entry.NonProperty,
		RetryEligible: d.Entry.RetryEligible,
	}
	resp.History = d.Entry.Attempts
	return resp
}
