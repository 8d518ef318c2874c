package server

import "github.com/jrsteele09/transcript-summary/returnctx"

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	RouteIndex  = "/"
	RouteHealth = "/healthz"

	// Auth Routes
	RouteAuthLogin    = "/auth/login"
	RouteAuthCallback = "/auth/callback"
	RouteAuthLogout   = "/auth/logout"
	RouteAuthStatus   = "/auth/status"

	// Resume targets for pending actions
	RouteMeetings    = returnctx.MeetingsPath
	RouteSummary     = returnctx.SummaryPath
	RouteSendSummary = "/teams/send-summary"
)
