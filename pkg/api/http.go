// Package api assembles the HTTP routing surface.
package api

import (
	"net/http"

	"commshub/pkg/api/handlers"
	"commshub/pkg/directory"
	"commshub/pkg/feed"
	"commshub/pkg/utils"

	"github.com/gorilla/mux"
)

// Handler builds the versioned API router. The broker feeds live streams
// and the resolver supplies display names for previews and histories.
func Handler(b *feed.Broker, r directory.Resolver) http.Handler {
	handlers.Configure(b, r)

	root := mux.NewRouter()
	root.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		utils.JSONError(w, http.StatusNotFound, "unknown route")
	})
	root.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		utils.JSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	v1 := root.PathPrefix("/v1").Subrouter()
	handlers.RegisterThreads(v1)
	handlers.RegisterMessages(v1)
	handlers.RegisterStream(v1)
	return root
}
