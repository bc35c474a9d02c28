package server

import (
	"github.com/go-chi/chi/v5"
)

func (s *Server) initRoutes() {
	r := chi.NewRouter()
	r.Use(s.RecoverMiddleware, s.LoggingMiddleware, s.FrameSecurityMiddleware, s.CorsMiddleware)

	r.Get(RouteIndex, s.IndexHandler())
	r.Get(RouteHealthz, s.HealthzHandler())
	if s.metrics != nil {
		r.Method("GET", RouteMetrics, s.metrics)
	}

	// LOGIN
	r.Get(RouteAuthLogin, s.LoginHandler())
	r.Get(RouteAuthRedirect, s.OAuthCallbackHandler())
	r.Get(RouteAuthLogout, s.LogoutHandler())

	r.Group(func(r chi.Router) {
		r.Use(s.IdentityMiddleware)

		r.With(s.RequireIdentity).Get(RouteAuthMe, s.MeHandler())

		r.Group(func(r chi.Router) {
			r.Use(s.RequireAuthorized)

			r.Get(RouteTest, s.IndexHandler())
			r.With(s.limiter.Middleware).Post(RouteEvents, s.IngestEventsHandler())
			r.Get(RouteSessions, s.ListSessionsHandler())
			r.Get(RouteAggregation, s.AggregationHandler())
			r.Get(RouteInit, s.InitHandler())
			r.Get(RouteDemoInit, s.DemoInitHandler())
		})
	})

	s.router = r
}
