package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facelinker/internal/ledger"
	"github.com/your-org/facelinker/internal/models"
	"github.com/your-org/facelinker/pkg/dto"
)

// FaceHandler serves identities ("faces" in the UI).
type FaceHandler struct {
	ledger *ledger.Ledger
}

func NewFaceHandler(l *ledger.Ledger) *FaceHandler {
	return &FaceHandler{ledger: l}
}

// Get returns the identity, every image it occurs in and, per image,
// the other identities found there.
func (h *FaceHandler) Get(c *gin.Context) {
	id, ok := paramUUID(c, "face_id")
	if !ok {
		return
	}
	view, err := h.ledger.CoOccurrences(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFaceDetailResponse(view))
}

func (h *FaceHandler) UpdateName(c *gin.Context) {
	var req dto.UpdateNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := models.ValidDisplayName(req.Name); err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.ledger.RenameIdentity(ctx, req.FaceID, req.Name); err != nil {
		respondError(c, err)
		return
	}

	ident, err := h.ledger.GetIdentity(ctx, req.FaceID)
	if err != nil {
		respondError(c, err)
		return
	}
	url, err := h.ledger.ExemplarURL(ctx, ident)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFaceResponse(ident, url))
}

func (h *FaceHandler) Delete(c *gin.Context) {
	id, ok := paramUUID(c, "face_id")
	if !ok {
		return
	}
	if err := h.ledger.DeleteIdentity(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ImageFaces lists the identities located in one image. Requires ?event_id=.
func (h *FaceHandler) ImageFaces(c *gin.Context) {
	eventID, err := uuid.Parse(c.Query("event_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_id query parameter required"})
		return
	}
	imageID := c.Param("image_id")

	occs, err := h.ledger.ListOccurrencesForImage(c.Request.Context(), eventID, imageID)
	if err != nil {
		respondError(c, err)
		return
	}
	if occs == nil {
		occs = []models.ImageOccurrence{}
	}
	c.JSON(http.StatusOK, dto.ImageFacesResponse{ImageID: imageID, Faces: occs})
}
