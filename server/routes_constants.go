package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	RouteIndex   = "/"
	RouteHealthz = "/healthz"
	RouteTest    = "/test"
	RouteMetrics = "/metrics"

	// Auth Routes - Login & Logout
	RouteAuthLogin    = "/auth/login"
	RouteAuthRedirect = "/auth/redirect"
	RouteAuthLogout   = "/auth/logout"
	RouteAuthMe       = "/auth/me"

	// Tracking Routes
	RouteEvents      = "/events"
	RouteSessions    = "/sessions"
	RouteAggregation = "/events/aggregation"
	RouteInit        = "/init"
	RouteDemoInit    = "/demo_init"
)
