// Package api exposes the management HTTP server: relay directory
// queries, selection, update triggers and event streaming.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/sagernet/cors"
	"github.com/sagernet/sing-relay/adapter"
	"github.com/sagernet/sing-relay/common/listener"
	aTLS "github.com/sagernet/sing-relay/common/tls"
	C "github.com/sagernet/sing-relay/constant"
	"github.com/sagernet/sing-relay/log"
	"github.com/sagernet/sing-relay/option"
	"github.com/sagernet/sing-relay/reachability"
	"github.com/sagernet/sing/common"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var _ adapter.LifecycleService = (*Server)(nil)

type Server struct {
	ctx        context.Context
	logger     log.ContextLogger
	logFactory log.ObservableFactory

	listen     string
	secret     string
	httpServer *http.Server
	tlsConfig  aTLS.ServerConfig

	listManager adapter.ListManager
	selector    adapter.RelaySelector
	history     *reachability.HistoryStorage
	prober      *reachability.Prober
}

func NewServer(ctx context.Context, logFactory log.ObservableFactory, options option.APIOptions) (*Server, error) {
	chiRouter := chi.NewRouter()
	server := &Server{
		ctx:        ctx,
		logger:     logFactory.NewLogger("api"),
		logFactory: logFactory,
		listen:     options.Listen,
		secret:     options.Secret,
		httpServer: &http.Server{
			Handler:           h2c.NewHandler(chiRouter, &http2.Server{}),
			ReadHeaderTimeout: C.TCPTimeout,
			BaseContext: func(net.Listener) context.Context {
				return ctx
			},
			ConnContext: func(ctx context.Context, conn net.Conn) context.Context {
				return log.ContextWithNewID(ctx)
			},
		},
	}
	if options.TLS != nil {
		tlsConfig, err := aTLS.NewServer(ctx, server.logger, common.PtrValueOrDefault(options.TLS))
		if err != nil {
			return nil, err
		}
		server.tlsConfig = tlsConfig
	}
	allowedOrigins := options.AccessControlAllowOrigin
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	cors := cors.New(cors.Options{
		AllowedOrigins:      allowedOrigins,
		AllowedMethods:      []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:      []string{"Content-Type", "Authorization"},
		AllowPrivateNetwork: options.AccessControlAllowPrivateNetwork,
		MaxAge:              300,
	})
	chiRouter.Use(cors.Handler)
	chiRouter.Group(func(r chi.Router) {
		r.Use(server.authentication)
		r.Get("/", hello)
		r.Get("/version", getVersion)
		r.Get("/logs", server.getLogs)
		r.Get("/events", server.getEvents)
		r.Mount("/relays", server.relayRouter())
		r.Get("/resolve", server.getResolve)
		r.Post("/select", server.postSelect)
		r.Get("/selection", server.getSelection)
		r.Post("/update", server.postUpdate)
		r.Get("/reachability", server.getReachability)
	})
	return server, nil
}

func (s *Server) Name() string {
	return "management server"
}

func (s *Server) Start(stage adapter.StartStage) error {
	switch stage {
	case adapter.StartStateStart:
		s.listManager = service.FromContext[adapter.ListManager](s.ctx)
		s.selector = service.FromContext[adapter.RelaySelector](s.ctx)
		s.history = service.FromContext[*reachability.HistoryStorage](s.ctx)
		s.prober = service.FromContext[*reachability.Prober](s.ctx)
		if s.tlsConfig != nil {
			err := s.tlsConfig.Start()
			if err != nil {
				return E.Cause(err, "create TLS config")
			}
		}
	case adapter.StartStateStarted:
		if s.listen == "" {
			return nil
		}
		tcpListener, err := listener.Listen(s.ctx, s.listen)
		if err != nil {
			return E.Cause(err, "listen at ", s.listen)
		}
		if s.tlsConfig != nil {
			tcpListener = tls.NewListener(tcpListener, &tls.Config{
				GetConfigForClient: func(*tls.ClientHelloInfo) (*tls.Config, error) {
					return s.tlsConfig.Config(), nil
				},
			})
		}
		s.logger.Info("management server started at ", tcpListener.Addr())
		go func() {
			serveErr := s.httpServer.Serve(tcpListener)
			if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				s.logger.Error("management server closed: ", serveErr)
			}
		}()
	}
	return nil
}

func (s *Server) Close() error {
	return common.Close(
		common.PtrOrNil(s.httpServer),
		s.tlsConfig,
	)
}

func (s *Server) authentication(next http.Handler) http.Handler {
	fn := func(writer http.ResponseWriter, request *http.Request) {
		if s.secret == "" {
			next.ServeHTTP(writer, request)
			return
		}

		// Browser websocket clients cannot set custom headers.
		if request.Header.Get("Upgrade") == "websocket" && request.URL.Query().Get("token") != "" {
			token := request.URL.Query().Get("token")
			if token != s.secret {
				render.Status(request, http.StatusUnauthorized)
				render.JSON(writer, request, ErrUnauthorized)
				return
			}
			next.ServeHTTP(writer, request)
			return
		}

		bearer, token, found := strings.Cut(request.Header.Get("Authorization"), " ")
		hasInvalidHeader := bearer != "Bearer"
		hasInvalidSecret := !found || token != s.secret
		if hasInvalidHeader || hasInvalidSecret {
			render.Status(request, http.StatusUnauthorized)
			render.JSON(writer, request, ErrUnauthorized)
			return
		}
		next.ServeHTTP(writer, request)
	}
	return http.HandlerFunc(fn)
}

func hello(writer http.ResponseWriter, request *http.Request) {
	render.JSON(writer, request, render.M{"hello": "sing-relay"})
}

func getVersion(writer http.ResponseWriter, request *http.Request) {
	render.JSON(writer, request, render.M{"version": C.Version})
}

var (
	ErrUnauthorized    = newError("Unauthorized")
	ErrBadRequest      = newError("Body invalid")
	ErrNotFound        = newError("Resource not found")
	ErrListUnavailable = newError("Relay list not loaded")
)

// HTTPError is the error payload of every non-2xx response.
type HTTPError struct {
	Message string `json:"message"`
}

func newError(message string) *HTTPError {
	return &HTTPError{Message: message}
}

func (e *HTTPError) Error() string {
	return e.Message
}
