package web

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-id/internal/flow"
	"github.com/kozaktomas/face-id/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	flowsHandler := handlers.NewFlowsHandler(s.services, s.flows)
	facesHandler := handlers.NewFacesHandler(s.services.Gallery)
	configHandler := handlers.NewConfigHandler(s.config, s.services.Embedder)
	cameraHandler := handlers.NewCameraHandler(s.services.Camera, s.config.Camera.FPS, s.origins.CheckOrigin)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Long-lived streams
		r.Get("/camera/preview", cameraHandler.Preview)
		r.Get("/enrollments/{id}/events", flowsHandler.Events(flow.KindEnrollment))
		r.Get("/authentications/{id}/events", flowsHandler.Events(flow.KindAuthentication))

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			r.Get("/health", handlers.HealthCheck)
			r.Get("/config", configHandler.Get)
			r.Get("/model", configHandler.Model)

			// Gallery
			r.Get("/faces", facesHandler.List)
			r.Delete("/faces/self", facesHandler.ClearSelf)

			// Camera
			r.Get("/camera/devices", cameraHandler.Devices)
			r.Post("/camera/retry", cameraHandler.Retry)

			// Enrollment
			r.Post("/enrollments", flowsHandler.CreateEnrollment)
			r.Get("/enrollments/{id}", flowsHandler.Get(flow.KindEnrollment))
			r.Put("/enrollments/{id}/name", flowsHandler.SetName)
			r.Post("/enrollments/{id}/camera", flowsHandler.StartCamera(flow.KindEnrollment))
			r.Post("/enrollments/{id}/capture", flowsHandler.Capture(flow.KindEnrollment))
			r.Post("/enrollments/{id}/upload", flowsHandler.Upload(flow.KindEnrollment))
			r.Post("/enrollments/{id}/retake", flowsHandler.Retake(flow.KindEnrollment))
			r.Post("/enrollments/{id}/confirm", flowsHandler.ConfirmEnrollment)
			r.Delete("/enrollments/{id}", flowsHandler.Cancel(flow.KindEnrollment))

			// Authentication
			r.Post("/authentications", flowsHandler.CreateAuthentication)
			r.Get("/authentications/{id}", flowsHandler.Get(flow.KindAuthentication))
			r.Post("/authentications/{id}/camera", flowsHandler.StartCamera(flow.KindAuthentication))
			r.Post("/authentications/{id}/capture", flowsHandler.Capture(flow.KindAuthentication))
			r.Post("/authentications/{id}/upload", flowsHandler.Upload(flow.KindAuthentication))
			r.Post("/authentications/{id}/retake", flowsHandler.Retake(flow.KindAuthentication))
			r.Post("/authentications/{id}/confirm", flowsHandler.ConfirmAuthentication)
			r.Delete("/authentications/{id}", flowsHandler.Cancel(flow.KindAuthentication))
		})
	})
}
