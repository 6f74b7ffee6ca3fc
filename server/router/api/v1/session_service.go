package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	coreerrors "github.com/greenroomhq/greenroom/server/internal/errors"
	"github.com/greenroomhq/greenroom/store"
)

type createSessionRequest struct {
	Topic          string `json:"topic"`
	TemplateRef    string `json:"templateRef"`
	Angle          string `json:"angle"`
	AngleSecondary string `json:"angleSecondary"`
	ContextNotes   string `json:"contextNotes"`

	// Materials is free-form background text fed into question generation.
	Materials string `json:"materials"`
	// GeneratePrep requests LLM question generation at creation time.
	GeneratePrep bool `json:"generatePrep"`
}

type sessionResponse struct {
	UID             string   `json:"uid"`
	Status          string   `json:"status"`
	Topic           string   `json:"topic"`
	TemplateRef     string   `json:"templateRef,omitempty"`
	Questions       []string `json:"questions"`
	ResearchSummary string   `json:"researchSummary,omitempty"`
	Angle           string   `json:"angle,omitempty"`
	AngleSecondary  string   `json:"angleSecondary,omitempty"`
	ContextNotes    string   `json:"contextNotes,omitempty"`
	Analysis        string   `json:"analysis,omitempty"`
	LastError       string   `json:"lastError,omitempty"`
	CreatedTs       int64    `json:"createdTs"`
	StartedTs       int64    `json:"startedTs,omitempty"`
	PausedTs        int64    `json:"pausedTs,omitempty"`
	CompletedTs     int64    `json:"completedTs,omitempty"`
}

func convertSession(sess *store.Session) *sessionResponse {
	return &sessionResponse{
		UID:             sess.UID,
		Status:          string(sess.Status),
		Topic:           sess.Topic,
		TemplateRef:     sess.TemplateRef,
		Questions:       sess.Questions,
		ResearchSummary: sess.ResearchSummary,
		Angle:           sess.Angle,
		AngleSecondary:  sess.AngleSecondary,
		ContextNotes:    sess.ContextNotes,
		Analysis:        sess.Analysis,
		LastError:       sess.LastError,
		CreatedTs:       sess.CreatedTs,
		StartedTs:       sess.StartedTs,
		PausedTs:        sess.PausedTs,
		CompletedTs:     sess.CompletedTs,
	}
}

func (s *APIV1Service) findSessionByUID(c echo.Context) (*store.Session, error) {
	uid := c.Param("uid")
	sess, err := s.Store.GetSession(c.Request().Context(), &store.FindSession{UID: &uid})
	if err != nil {
		return nil, coreerrors.StorageUnavailable(err)
	}
	if sess == nil {
		return nil, coreerrors.NotFoundf("session %s not found", uid)
	}
	return sess, nil
}

// CreateSession creates an invited session, optionally generating prep.
func (s *APIV1Service) CreateSession(c echo.Context) error {
	ctx := c.Request().Context()

	req := &createSessionRequest{}
	if err := c.Bind(req); err != nil {
		return jsonError(c, coreerrors.InvalidArgument("malformed request body"))
	}
	if req.Topic == "" {
		return jsonError(c, coreerrors.InvalidArgument("topic is required"))
	}

	create := &store.Session{
		UID:            shortuuid.New(),
		Status:         store.SessionStatusInvited,
		Topic:          req.Topic,
		TemplateRef:    req.TemplateRef,
		Angle:          req.Angle,
		AngleSecondary: req.AngleSecondary,
		ContextNotes:   req.ContextNotes,
		Questions:      []string{},
	}

	if req.GeneratePrep && s.Generator != nil {
		prep, err := s.Generator.Generate(ctx, req.Topic, req.Materials)
		if err != nil {
			// Prep is a convenience; a failed generation never blocks the
			// invite.
			slog.Warn("question generation failed", "topic", req.Topic, "error", err)
		} else {
			create.Questions = prep.Questions
			create.ResearchSummary = prep.ResearchSummary
		}
	}

	sess, err := s.Store.CreateSession(ctx, create)
	if err != nil {
		return jsonError(c, coreerrors.StorageUnavailable(err))
	}
	return c.JSON(http.StatusOK, convertSession(sess))
}

// ListSessions lists sessions, optionally filtered by status.
func (s *APIV1Service) ListSessions(c echo.Context) error {
	find := &store.FindSession{}
	if status := c.QueryParam("status"); status != "" {
		find.Statuses = []store.SessionStatus{store.SessionStatus(status)}
	}
	list, err := s.Store.ListSessions(c.Request().Context(), find)
	if err != nil {
		return jsonError(c, coreerrors.StorageUnavailable(err))
	}
	resp := make([]*sessionResponse, 0, len(list))
	for _, sess := range list {
		resp = append(resp, convertSession(sess))
	}
	return c.JSON(http.StatusOK, resp)
}

// GetSession returns one session by UID.
func (s *APIV1Service) GetSession(c echo.Context) error {
	sess, err := s.findSessionByUID(c)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, convertSession(sess))
}

// StartSession moves an invited session to started.
func (s *APIV1Service) StartSession(c echo.Context) error {
	sess, err := s.findSessionByUID(c)
	if err != nil {
		return jsonError(c, err)
	}
	started, err := s.Machine.Start(c.Request().Context(), sess.ID)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, convertSession(started))
}

// RunSession starts the session if needed and enqueues the run job. The job
// is deduplicated: re-posting run while one is queued or running returns
// the existing job.
func (s *APIV1Service) RunSession(c echo.Context) error {
	ctx := c.Request().Context()
	sess, err := s.findSessionByUID(c)
	if err != nil {
		return jsonError(c, err)
	}
	if sess.Status == store.SessionStatusInvited {
		if _, err := s.Machine.Start(ctx, sess.ID); err != nil {
			return jsonError(c, err)
		}
	}
	job, created, err := s.Queue.EnqueueUnique(ctx, store.JobTypeRunSession, sess.UID, "")
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"jobUid":  job.UID,
		"created": created,
	})
}

// PauseSession requests a cooperative pause of a live session. The pause
// takes effect at the worker's next checkpoint.
func (s *APIV1Service) PauseSession(c echo.Context) error {
	sess, err := s.findSessionByUID(c)
	if err != nil {
		return jsonError(c, err)
	}
	if sess.Status != store.SessionStatusInProgress {
		return jsonError(c, coreerrors.InvalidTransition(string(sess.Status), string(store.SessionStatusPaused)))
	}
	requested := s.Pauses.RequestPause(sess.UID)
	return c.JSON(http.StatusOK, map[string]any{
		"requested": requested,
	})
}

// ResumeSession enqueues a run job for a paused session. The worker reloads
// the snapshot and re-opens the stream.
func (s *APIV1Service) ResumeSession(c echo.Context) error {
	ctx := c.Request().Context()
	sess, err := s.findSessionByUID(c)
	if err != nil {
		return jsonError(c, err)
	}
	if sess.Status != store.SessionStatusPaused {
		return jsonError(c, coreerrors.InvalidTransition(string(sess.Status), string(store.SessionStatusInProgress)))
	}
	job, created, err := s.Queue.EnqueueUnique(ctx, store.JobTypeRunSession, sess.UID, "")
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"jobUid":  job.UID,
		"created": created,
	})
}
