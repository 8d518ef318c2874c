package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/transcript-summary/auth"
	"github.com/jrsteele09/transcript-summary/credentials"
	"github.com/jrsteele09/transcript-summary/graph"
	"github.com/jrsteele09/transcript-summary/internal/config"
	"github.com/jrsteele09/transcript-summary/sessions"
)

// ResourceAPI is the downstream API called with the user's delegated token.
type ResourceAPI interface {
	ListMeetings(ctx context.Context, accessToken string) ([]graph.Meeting, error)
	Meeting(ctx context.Context, accessToken, meetingID string) (graph.Meeting, error)
	Transcript(ctx context.Context, accessToken, meetingID string) (string, error)
	SendChatMessage(ctx context.Context, accessToken, topic string, members []string, html string) (string, error)
}

// Deps are the collaborators the HTTP layer is built on.
type Deps struct {
	Store       sessions.Store
	Cookies     *sessions.CookieBinder
	Coordinator *auth.Coordinator
	Refresher   *credentials.Refresher
	Graph       ResourceAPI
	Summarizer  Summarizer
}

type Server struct {
	env         string // Environment (e.g., "DEV", "PROD")
	appName     string
	callback    string // path of the registered redirect URI
	router      chi.Router
	routes      []string
	store       sessions.Store
	cookies     *sessions.CookieBinder
	coordinator *auth.Coordinator
	refresher   *credentials.Refresher
	graph       ResourceAPI
	summarizer  Summarizer
}

func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Cookies == nil || deps.Coordinator == nil || deps.Refresher == nil || deps.Graph == nil {
		return nil, fmt.Errorf("[Server New] missing dependency")
	}
	s := &Server{
		env:         cfg.GetEnv(),
		appName:     cfg.GetAppName(),
		callback:    callbackPath(cfg.GetRedirectURI()),
		router:      chi.NewRouter(),
		store:       deps.Store,
		cookies:     deps.Cookies,
		coordinator: deps.Coordinator,
		refresher:   deps.Refresher,
		graph:       deps.Graph,
		summarizer:  deps.Summarizer,
	}
	if s.summarizer == nil {
		s.summarizer = ExcerptSummarizer{}
	}

	s.router.Use(chimw.RealIP)
	s.router.Use(s.RequestLoggingMiddleware()...)
	s.router.Use(chimw.Recoverer)

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

// callbackPath serves the callback wherever the registered redirect URI points.
func callbackPath(redirectURI string) string {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Path == "" {
		return RouteAuthCallback
	}
	return u.Path
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(method, pattern string, handler http.HandlerFunc) {
	s.routes = append(s.routes, method+" "+pattern)
	s.router.Method(method, pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		logRoute(parts[0], parts[1])
	}
}

func logRoute(method, path string) {
	displayMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + displayMethod + ResetColor
	} else {
		displayMethod = Gray + displayMethod + ResetColor
	}
	log.Debug().Msgf("[%-19s] %s", displayMethod, path)
}
