package templates

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Name     string `json:"name" binding:"required"`
	Type     string `json:"type" binding:"required"`
	Subject  string `json:"subject" binding:"required"`
	Body     string `json:"body" binding:"required"`
	Language string `json:"language"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	t, err := h.service.Create(c.Request.Context(), req.Name, req.Type, req.Subject, req.Body, req.Language)
	if errors.Is(err, ErrInvalidType) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to create template"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": t})
}

func (h *Handler) GetByName(c *gin.Context) {
	a, err := h.service.GetActiveByName(c.Request.Context(), c.Param("name"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "template not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to fetch template"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": a})
}

func (h *Handler) GetByID(c *gin.Context) {
	t, err := h.service.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "template not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to fetch template"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": t})
}

type versionRequest struct {
	Subject  string `json:"subject" binding:"required"`
	Body     string `json:"body" binding:"required"`
	Language string `json:"language"`
}

func (h *Handler) AddVersion(c *gin.Context) {
	var req versionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	v, err := h.service.AddVersion(c.Request.Context(), c.Param("id"), req.Subject, req.Body, req.Language)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "template not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to add template version"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": v})
}
