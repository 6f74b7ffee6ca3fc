// Package server assembles the interview core behind one process: the admin
// JSON API and the worker pool share a store, a queue coordinator, and a
// transcript log.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/greenroomhq/greenroom/internal/profile"
	"github.com/greenroomhq/greenroom/plugin/questions"
	"github.com/greenroomhq/greenroom/plugin/voicestream"
	"github.com/greenroomhq/greenroom/server/interview"
	"github.com/greenroomhq/greenroom/server/live"
	"github.com/greenroomhq/greenroom/server/queue"
	apiv1 "github.com/greenroomhq/greenroom/server/router/api/v1"
	"github.com/greenroomhq/greenroom/server/runner/worker"
	"github.com/greenroomhq/greenroom/server/transcript"
	"github.com/greenroomhq/greenroom/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	runner     *worker.Runner
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	coordinator := queue.NewCoordinator(store, profile)
	log := transcript.NewLog(store, profile.FinalizeGrace)
	machine := interview.NewMachine(store, coordinator)
	pauses := live.NewPauseRegistry()

	var generator questions.Generator
	var classifier live.Classifier = live.NewRuleClassifier()
	if profile.IsLLMEnabled() {
		generator = questions.NewLLMGenerator(questions.Config{
			APIKey:  profile.LLMAPIKey,
			BaseURL: profile.LLMBaseURL,
			Model:   profile.LLMModel,
		})
		classifier = live.NewLLMClassifier(live.LLMClassifierConfig{
			APIKey:  profile.LLMAPIKey,
			BaseURL: profile.LLMBaseURL,
			Model:   profile.LLMIntentModel,
		})
	} else {
		slog.Warn("no llm api key configured, question generation and analysis are disabled")
	}

	if profile.StreamURL == "" {
		slog.Warn("no stream url configured, session runs will fail to dial")
	}
	dialer := &voicestream.WebSocketDialer{URL: profile.StreamURL}

	runner := worker.NewRunner(worker.Options{
		Store:      store,
		Queue:      coordinator,
		Machine:    machine,
		Transcript: log,
		Dialer:     dialer,
		Generator:  generator,
		Pauses:     pauses,
		Classifier: classifier,
		Profile:    profile,
		Logger:     slog.Default(),
	})

	apiService := apiv1.NewAPIV1Service(profile, store, coordinator, machine, log, generator, pauses)
	apiService.Register(e)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": profile.Version,
		})
	})

	return &Server{
		Profile:    profile,
		Store:      store,
		echoServer: e,
		runner:     runner,
	}, nil
}

// Start launches the worker pool and the HTTP listener.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		if err := s.runner.Run(ctx); err != nil {
			slog.Error("worker pool stopped", "error", err)
		}
	}()

	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server listening", "address", address, "worker_base_id", s.runner.ID())
	if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "failed to start echo server")
	}
	return nil
}

// Shutdown drains the HTTP server and closes the store. Workers stop via
// the context passed to Start; leases they still hold simply expire.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("greenroom stopped properly")
}
