package risk

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/txguard/internal/address"
	"github.com/mbd888/txguard/internal/graph"
	"github.com/mbd888/txguard/internal/intel"
	"github.com/mbd888/txguard/internal/logging"
	"github.com/mbd888/txguard/internal/snapshot"
	"github.com/mbd888/txguard/internal/validation"
)

// Reloader forces a dataset reload.
type Reloader interface {
	Reload(ctx context.Context) (*snapshot.Dataset, error)
}

// Handler provides HTTP endpoints for assessments and dataset inspection.
type Handler struct {
	engine   *Engine
	reloader Reloader
}

// NewHandler creates a risk handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// WithReloader enables the admin reload endpoint.
func (h *Handler) WithReloader(r Reloader) *Handler {
	h.reloader = r
	return h
}

// RegisterRoutes sets up public endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/risk/assess", h.Assess)
	r.GET("/intel/:address", validation.AddressParamMiddleware(), h.LookupAddress)
	r.GET("/snapshot", h.SnapshotInfo)
}

// RegisterAdminRoutes sets up endpoints that must sit behind admin auth.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/snapshot/reload", h.ReloadSnapshot)
}

// Assess scores a proposed transaction.
// POST /v1/risk/assess
func (h *Handler) Assess(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be a JSON object with wallet, contract and txType",
		})
		return
	}

	v, err := h.engine.Assess(c.Request.Context(), req)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// RespondError renders an Assess error.
func RespondError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		validation.Respond(c, verrs)
		return
	}
	logging.L(c.Request.Context()).Error("assessment failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Assessment failed",
	})
}

// AddressIntel is the intelligence view of one address.
type AddressIntel struct {
	Address        string        `json:"address"`
	Match          *intel.Match  `json:"match"`
	Graph          *graph.Result `json:"graph"`
	DatasetVersion string        `json:"datasetVersion"`
}

// LookupAddress returns the scam match and graph proximity for an address.
// GET /v1/intel/:address
func (h *Handler) LookupAddress(c *gin.Context) {
	ds, err := h.engine.Snapshot().Require()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "snapshot_not_loaded",
			"message": "Scam intelligence has not been loaded yet",
		})
		return
	}

	addr := address.Normalize(c.Param("address"))
	r := ds.Graph.HopDistance(addr)
	c.JSON(http.StatusOK, AddressIntel{
		Address:        addr,
		Match:          ds.Registry.Match(addr),
		Graph:          &r,
		DatasetVersion: ds.Version,
	})
}

// SnapshotInfo describes the active dataset.
// GET /v1/snapshot
func (h *Handler) SnapshotInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Snapshot().Load().Info())
}

// ReloadSnapshot rebuilds the dataset now.
// POST /v1/admin/snapshot/reload
func (h *Handler) ReloadSnapshot(c *gin.Context) {
	if h.reloader == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error":   "reload_unavailable",
			"message": "No snapshot loader is configured",
		})
		return
	}
	d, err := h.reloader.Reload(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "reload_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, d.Info())
}
