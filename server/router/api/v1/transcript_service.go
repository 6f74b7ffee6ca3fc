package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	coreerrors "github.com/greenroomhq/greenroom/server/internal/errors"
)

type utteranceResponse struct {
	Seq       int32  `json:"seq"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	CreatedTs int64  `json:"createdTs"`
}

// GetTranscript returns the materialized transcript: struck utterances are
// excluded and the surviving sequence numbers keep their gaps.
func (s *APIV1Service) GetTranscript(c echo.Context) error {
	sess, err := s.findSessionByUID(c)
	if err != nil {
		return jsonError(c, err)
	}
	utterances, err := s.Transcript.Materialize(c.Request().Context(), sess.ID)
	if err != nil {
		return jsonError(c, err)
	}
	resp := make([]*utteranceResponse, 0, len(utterances))
	for _, u := range utterances {
		resp = append(resp, &utteranceResponse{
			Seq:       u.Seq,
			Speaker:   string(u.Speaker),
			Text:      u.Text,
			CreatedTs: u.CreatedTs,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// StrikeUtterance strikes one utterance by sequence number. Striking twice
// is a conflict; striking after the finalize grace window is refused.
func (s *APIV1Service) StrikeUtterance(c echo.Context) error {
	sess, err := s.findSessionByUID(c)
	if err != nil {
		return jsonError(c, err)
	}
	seq, err := strconv.ParseInt(c.Param("seq"), 10, 32)
	if err != nil || seq < 1 {
		return jsonError(c, coreerrors.InvalidArgument("seq must be a positive integer"))
	}
	if err := s.Transcript.Strike(c.Request().Context(), sess.ID, int32(seq)); err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"struck": seq,
	})
}
