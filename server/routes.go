package server

import (
	"net/http"

	"github.com/jrsteele09/transcript-summary/returnctx"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc(http.MethodGet, RouteIndex, ChainMiddleware(s.IndexHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc(http.MethodGet, RouteHealth, s.HealthHandler())

	// AUTH
	s.RegisterRouteFunc(http.MethodGet, RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.AuthFlowMiddleware()...))
	s.RegisterRouteFunc(http.MethodGet, s.callback, ChainMiddleware(s.CallbackHandler(), s.AuthFlowMiddleware()...))
	s.RegisterRouteFunc(http.MethodGet, RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.AuthFlowMiddleware()...))
	s.RegisterRouteFunc(http.MethodPost, RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.AuthFlowMiddleware()...))
	s.RegisterRouteFunc(http.MethodGet, RouteAuthStatus, ChainMiddleware(s.StatusHandler(), s.APIMiddleware()...))

	// Protected routes resume the matching action after sign-in
	s.RegisterRouteFunc(http.MethodGet, RouteMeetings,
		ChainMiddleware(s.MeetingsHandler(), s.APIMiddleware(s.RequireCredentials(listMeetingsAction))...))
	s.RegisterRouteFunc(http.MethodGet, RouteSummary,
		ChainMiddleware(s.SummaryHandler(), s.APIMiddleware(s.RequireCredentials(summaryAction))...))
	s.RegisterRouteFunc(http.MethodPost, RouteSendSummary,
		ChainMiddleware(s.SendSummaryHandler(), s.APIMiddleware(s.RequireCredentials(sendSummaryAction))...))
}

func listMeetingsAction(r *http.Request) returnctx.Action {
	return returnctx.ListMeetings{}
}

func summaryAction(r *http.Request) returnctx.Action {
	kind := returnctx.KindViewSummary
	if r.URL.Query().Get("post") == "1" {
		kind = returnctx.KindPostToChat
	}
	action, err := returnctx.NewAction(string(kind), r.URL.Query().Get("id"))
	if err != nil {
		return nil
	}
	return action
}

// The JSON body is not read before authentication. Callers that pass meeting_id in the query
// resume at that meeting's summary with the post flag set.
func sendSummaryAction(r *http.Request) returnctx.Action {
	action, err := returnctx.NewAction(string(returnctx.KindPostToChat), r.URL.Query().Get("meeting_id"))
	if err != nil {
		return nil
	}
	return action
}
