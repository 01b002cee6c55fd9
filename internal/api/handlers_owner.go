package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/chronologue/chronologue/internal/api/respond"
	"github.com/chronologue/chronologue/internal/api/validate"
	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/services"
)

type OwnerHandler struct {
	svc *services.OwnerService
}

func NewOwnerHandler(svc *services.OwnerService) *OwnerHandler { return &OwnerHandler{svc: svc} }

func (h *OwnerHandler) CreateOwner(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OwnerID        string `json:"ownerId"`
		TimeZone       string `json:"timeZone"`
		EmbedProvider  string `json:"embedProvider,omitempty"`
		EmbedModel     string `json:"embedModel,omitempty"`
		EmbedDimension int    `json:"embedDimension,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if err := validate.OwnerID(in.OwnerID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	out, err := h.svc.CreateOwner(r.Context(), &model.Owner{
		OwnerID:        in.OwnerID,
		TimeZone:       in.TimeZone,
		EmbedProvider:  in.EmbedProvider,
		EmbedModel:     in.EmbedModel,
		EmbedDimension: in.EmbedDimension,
	})
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusCreated, out)
}

func (h *OwnerHandler) GetOwner(w http.ResponseWriter, r *http.Request) {
	ownerID := mux.Vars(r)["ownerId"]
	o, err := h.svc.GetOwner(r.Context(), ownerID)
	if err != nil {
		respond.WriteNotFound(w, "owner not found")
		return
	}
	respond.WriteJSON(w, http.StatusOK, o)
}
