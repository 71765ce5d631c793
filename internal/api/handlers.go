package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/datamastor/datamastor/internal/logger"
	"github.com/datamastor/datamastor/internal/storage"
)

const (
	defaultLimit  = 50
	defaultOffset = 0
)

// Handler serves the store's entities over HTTP.
type Handler struct {
	db       *sqlx.DB
	sources  *storage.SourceRepository
	listings *storage.ListingRepository
	products *storage.ProductRepository
	logger   logger.Interface
}

// NewHandler creates a handler over the given database.
func NewHandler(db *sqlx.DB, log logger.Interface) *Handler {
	return &Handler{
		db:       db,
		sources:  storage.NewSourceRepository(db),
		listings: storage.NewListingRepository(db),
		products: storage.NewProductRepository(db),
		logger:   log,
	}
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	if err := h.db.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListSources handles GET /api/v1/sources.
func (h *Handler) ListSources(c *gin.Context) {
	limit, offset := pagination(c)

	sources, err := h.sources.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list sources", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve sources"})
		return
	}
	total, err := h.sources.Count(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count sources", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get total count"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources, "total": total})
}

// GetSource handles GET /api/v1/sources/:id. The response carries the
// source together with its full URL and the tags gathered up its tree.
func (h *Handler) GetSource(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid source ID"})
		return
	}

	source, err := h.sources.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
			return
		}
		h.logger.Error("Failed to get source", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve source"})
		return
	}

	fullURL, err := h.sources.FullURL(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to resolve full url", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve full url"})
		return
	}
	tags, err := h.sources.AllTags(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to collect tags", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to collect tags"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"source":   source,
		"full_url": fullURL,
		"tags":     tags,
	})
}

// ListListings handles GET /api/v1/listings.
func (h *Handler) ListListings(c *gin.Context) {
	limit, offset := pagination(c)

	listings, err := h.listings.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list listings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve listings"})
		return
	}
	total, err := h.listings.Count(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count listings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get total count"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "total": total})
}

// ListProducts handles GET /api/v1/products.
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.products.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list products", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve products"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// pagination reads the limit and offset query parameters with defaults.
func pagination(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", strconv.Itoa(defaultOffset)))
	if err != nil || offset < 0 {
		offset = defaultOffset
	}
	return limit, offset
}
