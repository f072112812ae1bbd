package server

import (
	"context"
	"net/http"

	"carbontrace/internal/handlers"
	applog "carbontrace/internal/log"
)

// resources are served at both "/api/x" and "/api/x/...".
// Private resources require a session for every method.
var resources = []struct {
	path    string
	handler http.HandlerFunc
	private bool
}{
	{"/api/tokens", handlers.TokenResource, false},
	{"/api/inventory", handlers.Inventory, false},
	{"/api/templates", handlers.TemplateResource, false},
	{"/api/batches", handlers.BatchResource, false},
	{"/api/transfers", handlers.TransferResource, false},
	{"/api/partners", handlers.PartnerResource, true},
	{"/api/companies", handlers.CompanyResource, false},
	{"/api/plants", handlers.PlantResource, false},
}

func newRouter() http.Handler {
	mux := http.NewServeMux()
	applog.Debug(context.Background(), "registering http routes")
	mux.HandleFunc("/healthz", handlers.Health)
	mux.HandleFunc("/api/login", handlers.Login)
	mux.HandleFunc("/api/logout", handlers.Logout)
	mux.HandleFunc("/api/signup", handlers.Signup)
	mux.HandleFunc("/api/session", handlers.Session)
	for _, resource := range resources {
		var handler http.Handler = resource.handler
		if resource.private {
			handler = handlers.RequireAuthentication(handler)
		}
		mux.Handle(resource.path, handler)
		mux.Handle(resource.path+"/", handler)
		applog.Debug(context.Background(), "route registered", "path", resource.path, "private", resource.private)
	}
	return mux
}
