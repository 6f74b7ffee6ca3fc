package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/greenroomhq/greenroom/internal/profile"
	"github.com/greenroomhq/greenroom/plugin/questions"
	"github.com/greenroomhq/greenroom/server/interview"
	"github.com/greenroomhq/greenroom/server/live"
	"github.com/greenroomhq/greenroom/server/queue"
	"github.com/greenroomhq/greenroom/server/transcript"
	"github.com/greenroomhq/greenroom/store"
	"github.com/greenroomhq/greenroom/store/storetest"
)

type apiHarness struct {
	echo    *echo.Echo
	service *APIV1Service
	store   *store.Store
	queue   *queue.Coordinator
	pauses  *live.PauseRegistry
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	p := &profile.Profile{
		LeaseDuration:  30 * time.Second,
		BackoffBase:    time.Second,
		BackoffCap:     time.Minute,
		MaxAttempts:    3,
		FinalizeGrace:  2 * time.Minute,
		StrikeLookback: 2,
	}
	s := store.New(storetest.New(), p)
	q := queue.NewCoordinator(s, p)
	m := interview.NewMachine(s, q)
	log := transcript.NewLog(s, p.FinalizeGrace)
	pauses := live.NewPauseRegistry()

	service := NewAPIV1Service(p, s, q, m, log, questions.NewFakeGenerator(), pauses)
	e := echo.New()
	service.Register(e)
	return &apiHarness{echo: e, service: service, store: s, queue: q, pauses: pauses}
}

func (h *apiHarness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	h.echo.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) *sessionResponse {
	t.Helper()
	resp := &sessionResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), resp))
	return resp
}

func TestCreateSession(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/sessions", `{"topic": "twenty years at sea", "angle": "narrative"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeSession(t, rec)
	require.NotEmpty(t, resp.UID)
	require.Equal(t, "invited", resp.Status)
	require.Equal(t, "twenty years at sea", resp.Topic)
	require.Empty(t, resp.Questions)
}

func TestCreateSessionWithPrep(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/sessions", `{"topic": "twenty years at sea", "generatePrep": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeSession(t, rec)
	require.Equal(t, []string{"How did it start?", "What surprised you?"}, resp.Questions)
	require.Equal(t, "stub summary", resp.ResearchSummary)
}

func TestCreateSessionMissingTopic(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/sessions", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSessionNotFound(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v1/sessions/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var errResp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	require.Equal(t, "NOT_FOUND", errResp.Code)
}

func TestRunSessionEnqueuesOnce(t *testing.T) {
	h := newAPIHarness(t)
	created := decodeSession(t, h.do(t, http.MethodPost, "/api/v1/sessions", `{"topic": "t"}`))

	rec := h.do(t, http.MethodPost, "/api/v1/sessions/"+created.UID+"/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var first map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	require.Equal(t, true, first["created"])

	// The session moved to started and the job is deduplicated.
	got := decodeSession(t, h.do(t, http.MethodGet, "/api/v1/sessions/"+created.UID, ""))
	require.Equal(t, "started", got.Status)

	rec = h.do(t, http.MethodPost, "/api/v1/sessions/"+created.UID+"/run", "")
	var second map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.Equal(t, false, second["created"])
	require.Equal(t, first["jobUid"], second["jobUid"])
}

func TestPauseSessionRequiresInProgress(t *testing.T) {
	h := newAPIHarness(t)
	created := decodeSession(t, h.do(t, http.MethodPost, "/api/v1/sessions", `{"topic": "t"}`))

	rec := h.do(t, http.MethodPost, "/api/v1/sessions/"+created.UID+"/pause", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestPauseAndResumeFlow(t *testing.T) {
	ctx := context.Background()
	h := newAPIHarness(t)
	created := decodeSession(t, h.do(t, http.MethodPost, "/api/v1/sessions", `{"topic": "t"}`))

	sess, err := h.store.GetSession(ctx, &store.FindSession{UID: &created.UID})
	require.NoError(t, err)
	status := store.SessionStatusInProgress
	_, err = h.store.UpdateSession(ctx, &store.UpdateSession{ID: sess.ID, Status: &status})
	require.NoError(t, err)

	rec := h.do(t, http.MethodPost, "/api/v1/sessions/"+created.UID+"/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Resume refuses while still in_progress.
	rec = h.do(t, http.MethodPost, "/api/v1/sessions/"+created.UID+"/resume", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	status = store.SessionStatusPaused
	_, err = h.store.UpdateSession(ctx, &store.UpdateSession{ID: sess.ID, Status: &status})
	require.NoError(t, err)

	rec = h.do(t, http.MethodPost, "/api/v1/sessions/"+created.UID+"/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)

	runType := store.JobTypeRunSession
	jobs, err := h.store.ListJobs(ctx, &store.FindJob{Type: &runType})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestTranscriptAndStrike(t *testing.T) {
	ctx := context.Background()
	h := newAPIHarness(t)
	created := decodeSession(t, h.do(t, http.MethodPost, "/api/v1/sessions", `{"topic": "t"}`))
	sess, err := h.store.GetSession(ctx, &store.FindSession{UID: &created.UID})
	require.NoError(t, err)

	for _, text := range []string{"first", "second", "third"} {
		_, err := h.store.CreateUtterance(ctx, &store.Utterance{
			SessionID: sess.ID,
			Speaker:   store.SpeakerGuest,
			Text:      text,
		})
		require.NoError(t, err)
	}

	rec := h.do(t, http.MethodPost, "/api/v1/sessions/"+created.UID+"/transcript/2/strike", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Double strike conflicts.
	rec = h.do(t, http.MethodPost, "/api/v1/sessions/"+created.UID+"/transcript/2/strike", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	// Striking a missing seq is 404.
	rec = h.do(t, http.MethodPost, "/api/v1/sessions/"+created.UID+"/transcript/99/strike", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/sessions/"+created.UID+"/transcript", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var transcriptResp []*utteranceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &transcriptResp))
	require.Len(t, transcriptResp, 2)
	require.Equal(t, int32(1), transcriptResp[0].Seq)
	require.Equal(t, int32(3), transcriptResp[1].Seq)
}
