package webchat

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Server drives the persistence event router and the HTTP server lifecycle.
type Server struct {
	httpSrv         *http.Server
	router          *message.Router
	shutdownTimeout time.Duration
}

// NewServer pairs handler with an optional watermill router. A zero
// shutdownTimeout waits 30 seconds for in-flight requests.
func NewServer(addr string, handler http.Handler, router *message.Router, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &Server{
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		router:          router,
		shutdownTimeout: shutdownTimeout,
	}
}

func (s *Server) HTTPServer() *http.Server {
	if s == nil {
		return nil
	}
	return s.httpSrv
}

// Run serves until ctx is done or SIGINT/SIGTERM arrives, then shuts the
// HTTP server down before closing the router so queued turns still persist.
func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	if s == nil || s.httpSrv == nil {
		return errors.New("server is not initialized")
	}
	eg := errgroup.Group{}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	if s.router != nil {
		// the router stops through Close once HTTP is drained
		eg.Go(func() error {
			err := s.router.Run(context.WithoutCancel(ctx))
			if err != nil {
				srvCancel()
			}
			return err
		})
	}

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		shutdownErr := s.httpSrv.Shutdown(shutdownCtx)
		if shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("server shutdown error")
		}
		if s.router != nil {
			if err := s.router.Close(); err != nil {
				log.Error().Err(err).Msg("router close error")
			} else {
				log.Info().Msg("router closed")
			}
		}
		log.Info().Msg("server shutdown complete")
		return shutdownErr
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting tablechat server")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server listen error")
			srvCancel()
			return err
		}
		return nil
	})

	return eg.Wait()
}
