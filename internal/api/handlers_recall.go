package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/chronologue/chronologue/internal/api/respond"
	"github.com/chronologue/chronologue/internal/api/validate"
	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/ranker"
	"github.com/chronologue/chronologue/internal/services"
)

// ownerHeader carries the caller's owner scope on every recall route.
const ownerHeader = "X-Owner-ID"

type RecallHandler struct {
	svc *services.RecallService
}

func NewRecallHandler(svc *services.RecallService) *RecallHandler { return &RecallHandler{svc: svc} }

func ownerFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID := r.Header.Get(ownerHeader)
	if err := validate.OwnerID(ownerID); err != nil {
		respond.WriteBadRequest(w, ownerHeader+" header: "+err.Error())
		return "", false
	}
	return ownerID, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		respond.WriteNotFound(w, "not found")
	case errors.Is(err, model.ErrInvalidRange), errors.Is(err, ranker.ErrBadCursor),
		errors.Is(err, model.ErrDimensionExceeded):
		respond.WriteBadRequest(w, err.Error())
	case errors.Is(err, model.ErrConflict):
		respond.WriteError(w, http.StatusConflict, err.Error())
	default:
		respond.WriteInternalError(w, err.Error())
	}
}

func (h *RecallHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	streamID := mux.Vars(r)["streamId"]
	if err := validate.StreamID(streamID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	var in struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	msg, seg, err := h.svc.AppendMessage(r.Context(), &model.Message{
		OwnerID:  ownerID,
		StreamID: streamID,
		Role:     in.Role,
		Content:  in.Content,
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			respond.WriteNotFound(w, "owner not found")
			return
		}
		respond.WriteBadRequest(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message":   msg,
		"segmentId": seg.SegmentID,
		"day":       seg.Day,
	})
}

func (h *RecallHandler) Search(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	var in struct {
		StreamID string `json:"streamId,omitempty"`
		Query    string `json:"query"`
		Limit    int    `json:"limit,omitempty"`
		Cursor   string `json:"cursor,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	page, err := h.svc.Search(r.Context(), ranker.Request{
		OwnerID:  ownerID,
		StreamID: in.StreamID,
		Query:    in.Query,
		Limit:    in.Limit,
		Cursor:   in.Cursor,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	results := page.Results
	if results == nil {
		results = []model.SearchResult{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"results":    results,
		"nextCursor": page.NextCursor,
	})
}

func (h *RecallHandler) BuildContext(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	streamID := mux.Vars(r)["streamId"]
	if err := validate.StreamID(streamID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	bundle, err := h.svc.BuildContext(r.Context(), ownerID, streamID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, bundle)
}

func (h *RecallHandler) Window(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	kind, targetID := vars["kind"], vars["targetId"]
	q := r.URL.Query()
	win, err := h.svc.Window(r.Context(), ownerID, kind, targetID,
		intParam(q.Get("before")), intParam(q.Get("after")), intParam(q.Get("limit")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, win)
}

func (h *RecallHandler) RebuildEmbeddings(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	var in struct {
		Provider  string `json:"provider"`
		Model     string `json:"model"`
		Dimension int    `json:"dimension"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if in.Provider == "" || in.Model == "" || in.Dimension <= 0 {
		respond.WriteBadRequest(w, "provider, model, and dimension are required")
		return
	}
	if err := h.svc.RebuildEmbeddings(r.Context(), ownerID, in.Provider, in.Model, in.Dimension); err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func intParam(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
