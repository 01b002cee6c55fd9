// Package api exposes the engine over HTTP. Owner scope rides on the
// X-Owner-ID header for all recall routes.
package api

import (
	"github.com/gorilla/mux"

	"github.com/chronologue/chronologue/internal/api/recovery"
	"github.com/chronologue/chronologue/internal/health"
	"github.com/chronologue/chronologue/internal/services"
)

// NewRouter wires every API route.
func NewRouter(owners *services.OwnerService, recall *services.RecallService, checker *health.Checker) *mux.Router {
	router := mux.NewRouter()
	router.Use(recovery.Middleware)

	ownerHandler := NewOwnerHandler(owners)
	recallHandler := NewRecallHandler(recall)
	healthHandler := NewHealthHandler(checker)

	router.HandleFunc("/v0/health", healthHandler.Check).Methods("GET")

	router.HandleFunc("/v0/owners", ownerHandler.CreateOwner).Methods("POST")
	router.HandleFunc("/v0/owners/{ownerId}", ownerHandler.GetOwner).Methods("GET")

	router.HandleFunc("/v0/streams/{streamId}/messages", recallHandler.AppendMessage).Methods("POST")
	router.HandleFunc("/v0/streams/{streamId}/context", recallHandler.BuildContext).Methods("GET")
	router.HandleFunc("/v0/search", recallHandler.Search).Methods("POST")
	router.HandleFunc("/v0/window/{kind}/{targetId}", recallHandler.Window).Methods("GET")
	router.HandleFunc("/v0/embeddings/rebuild", recallHandler.RebuildEmbeddings).Methods("POST")

	return router
}
