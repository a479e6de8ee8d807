package api

import (
	"context"
	"net/http"
	"time"

	"github.com/axiomesh/axiom-kit/storage"
	"github.com/axiomesh/governor/core"
	"github.com/axiomesh/governor/repo"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const readHeaderTimeout = 10 * time.Second

// Server exposes the engine operations over HTTP.
type Server struct {
	engine *core.Engine
	nonces *NonceStore
	config *repo.Config
	logger logrus.FieldLogger
	router *gin.Engine
	srv    *http.Server
}

// NewServer builds the router. Caller nonces are kept in db next to the
// engine state.
func NewServer(config *repo.Config, engine *core.Engine, db storage.Storage, logger logrus.FieldLogger) *Server {
	gin.SetMode(config.API.Mode)

	s := &Server{
		engine: engine,
		nonces: NewNonceStore(db),
		config: config,
		logger: logger.WithField("module", "api"),
		router: gin.New(),
	}
	s.router.Use(gin.Recovery(), s.logRequest)
	s.routes()

	return s
}

func (s *Server) routes() {
	s.router.GET("/proposals/count", s.proposalsCount)
	s.router.GET("/proposals/:id", s.proposal)
	s.router.POST("/proposals", s.authenticate, s.addProposal)

	s.router.GET("/tokens/:token/proposals/count", s.proposalsCountByToken)
	s.router.GET("/tokens/:token/proposals/:index", s.proposalIDByToken)
	s.router.GET("/owners/:owner/proposals/count", s.proposalsCountByOwner)
	s.router.GET("/owners/:owner/proposals/:index", s.proposalIDByOwner)

	s.router.GET("/proposals/:id/votes/count", s.voteCount)
	s.router.GET("/proposals/:id/votes/:account", s.vote)
	s.router.POST("/proposals/:id/votes", s.authenticate, s.castVote)
	s.router.GET("/proposals/:id/options/:index/weight", s.votesWeight)
	s.router.GET("/proposals/:id/winner", s.winner)
	s.router.POST("/proposals/:id/finish", s.finish)

	s.router.GET("/accounts/:account/nonce", s.nonce)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.config.API.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		s.logger.Infof("api listening on %s", s.config.API.Listen)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("api server: %s", err)
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) logRequest(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.WithFields(logrus.Fields{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"elapsed": time.Since(start),
	}).Debug("request")
}
