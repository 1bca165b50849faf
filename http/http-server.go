package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"

	"github.com/evalforge/backend/evbus"
	"github.com/evalforge/backend/evstate"
	"github.com/evalforge/backend/metrics"
	"github.com/evalforge/backend/respub"
	"github.com/evalforge/backend/router"
)

type HttpServer struct {
	evalRouter *router.Router
	machine    *evstate.Machine
	bus        *evbus.Bus
	results    respub.ResultStore
	outputs    respub.OutputStore
	logger     *slog.Logger
	router     *chi.Mux
}

func NewHttpServer(
	evalRouter *router.Router,
	machine *evstate.Machine,
	bus *evbus.Bus,
	results respub.ResultStore,
	outputs respub.OutputStore,
	allowedOrigins []string,
) *HttpServer {
	r := chi.NewRouter()

	logger := httplog.NewLogger("evalforge", httplog.Options{
		LogLevel:         slog.LevelDebug,
		Concise:          true,
		RequestHeaders:   true,
		MessageFieldName: "message",
		Tags: map[string]string{
			"env": "dev",
		},
	})

	r.Use(httplog.RequestLogger(logger))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           3000,
	}))

	server := &HttpServer{
		evalRouter: evalRouter,
		machine:    machine,
		bus:        bus,
		results:    results,
		outputs:    outputs,
		logger:     slog.Default().With("module", "http"),
		router:     r,
	}

	server.routes()

	return server
}

func (httpserver *HttpServer) Start(address string) error {
	return http.ListenAndServe(address, httpserver.router)
}

func (httpserver *HttpServer) routes() {
	r := httpserver.router
	r.Post("/execute", httpserver.executeEvaluation)
	r.Get("/status/{evalId}", httpserver.getEvalStatus)
	r.Get("/logs/{evalId}", httpserver.getEvalLogs)
	r.Post("/cancel/{evalId}", httpserver.cancelEvaluation)
	r.Get("/events", httpserver.listenToEvents)
	r.Get("/events/{evalId}", httpserver.listenToEvalEvents)
	r.Get("/metrics", metrics.Handler())
}
