package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facelinker/internal/ledger"
	"github.com/your-org/facelinker/internal/models"
	"github.com/your-org/facelinker/pkg/dto"
)

type EventHandler struct {
	ledger *ledger.Ledger
}

func NewEventHandler(l *ledger.Ledger) *EventHandler {
	return &EventHandler{ledger: l}
}

func (h *EventHandler) Create(c *gin.Context) {
	var req dto.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev := &models.Event{
		OwnerID:     req.OwnerID,
		Title:       req.Title,
		Location:    req.Location,
		Description: req.Description,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
	}
	if err := h.ledger.CreateEvent(c.Request.Context(), ev); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewEventResponse(ev))
}

// List requires ?owner_id= and returns that user's events, newest first.
func (h *EventHandler) List(c *gin.Context) {
	ownerID, err := uuid.Parse(c.Query("owner_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id query parameter required"})
		return
	}

	events, err := h.ledger.ListEvents(c.Request.Context(), ownerID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.EventResponse, 0, len(events))
	for i := range events {
		resp = append(resp, dto.NewEventResponse(&events[i]))
	}
	c.JSON(http.StatusOK, dto.EventListResponse{Events: resp, Total: len(resp)})
}

func (h *EventHandler) Get(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	ev, err := h.ledger.GetEvent(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewEventResponse(ev))
}

// Delete removes the event with all its identities, occurrences and blobs.
func (h *EventHandler) Delete(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	if err := h.ledger.DeleteEvent(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *EventHandler) Images(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	ev, err := h.ledger.GetEvent(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	imageIDs, err := h.ledger.ListEventImages(ctx, ev)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.ImageResponse, 0, len(imageIDs))
	for _, imageID := range imageIDs {
		url, err := h.ledger.ImageURL(ctx, ev, imageID)
		if err != nil {
			respondError(c, err)
			return
		}
		resp = append(resp, dto.ImageResponse{ImageID: imageID, URL: url})
	}
	c.JSON(http.StatusOK, dto.ImageListResponse{Images: resp, Total: len(resp)})
}

// Faces lists the event's identities in creation order with exemplar URLs.
func (h *EventHandler) Faces(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	idents, err := h.ledger.ListIdentities(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.FaceResponse, 0, len(idents))
	for i := range idents {
		url, err := h.ledger.ExemplarURL(ctx, &idents[i])
		if err != nil {
			respondError(c, err)
			return
		}
		resp = append(resp, dto.NewFaceResponse(&idents[i], url))
	}
	c.JSON(http.StatusOK, dto.FaceListResponse{Faces: resp, Total: len(resp)})
}
