// Package v1 exposes the admin JSON API: session creation and lifecycle
// commands, transcript reads, and manual strikes.
package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/greenroomhq/greenroom/internal/profile"
	"github.com/greenroomhq/greenroom/plugin/questions"
	coreerrors "github.com/greenroomhq/greenroom/server/internal/errors"
	"github.com/greenroomhq/greenroom/server/interview"
	"github.com/greenroomhq/greenroom/server/live"
	"github.com/greenroomhq/greenroom/server/queue"
	"github.com/greenroomhq/greenroom/server/transcript"
	"github.com/greenroomhq/greenroom/store"
)

type APIV1Service struct {
	Profile    *profile.Profile
	Store      *store.Store
	Queue      *queue.Coordinator
	Machine    *interview.Machine
	Transcript *transcript.Log
	Generator  questions.Generator
	Pauses     *live.PauseRegistry
}

func NewAPIV1Service(p *profile.Profile, s *store.Store, q *queue.Coordinator, m *interview.Machine, log *transcript.Log, generator questions.Generator, pauses *live.PauseRegistry) *APIV1Service {
	return &APIV1Service{
		Profile:    p,
		Store:      s,
		Queue:      q,
		Machine:    m,
		Transcript: log,
		Generator:  generator,
		Pauses:     pauses,
	}
}

// Register mounts the v1 routes on the echo server.
func (s *APIV1Service) Register(e *echo.Echo) {
	g := e.Group("/api/v1")

	g.POST("/sessions", s.CreateSession)
	g.GET("/sessions", s.ListSessions)
	g.GET("/sessions/:uid", s.GetSession)
	g.POST("/sessions/:uid/start", s.StartSession)
	g.POST("/sessions/:uid/run", s.RunSession)
	g.POST("/sessions/:uid/pause", s.PauseSession)
	g.POST("/sessions/:uid/resume", s.ResumeSession)
	g.GET("/sessions/:uid/transcript", s.GetTranscript)
	g.POST("/sessions/:uid/transcript/:seq/strike", s.StrikeUtterance)
}

// errorResponse is the uniform failure payload.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// jsonError maps core error codes onto HTTP statuses.
func jsonError(c echo.Context, err error) error {
	code := coreerrors.GetCodeFromError(err, "")
	status := http.StatusInternalServerError
	switch code {
	case coreerrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case coreerrors.ErrCodeInvalidArgument:
		status = http.StatusBadRequest
	case coreerrors.ErrCodeInvalidTransition,
		coreerrors.ErrCodeAlreadyStruck,
		coreerrors.ErrCodeSessionFinalized,
		coreerrors.ErrCodeLeaseLost,
		coreerrors.ErrCodeStaleClaim:
		status = http.StatusConflict
	case coreerrors.ErrCodeStorageUnavailable:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	return c.JSON(status, errorResponse{Code: string(code), Message: err.Error()})
}
