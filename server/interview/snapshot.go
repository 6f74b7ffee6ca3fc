package interview

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/greenroomhq/greenroom/plugin/voicestream"
	"github.com/greenroomhq/greenroom/store"
)

// EncodeSnapshot serializes the conversation state persisted on pause.
func EncodeSnapshot(turns []voicestream.Turn) (string, error) {
	if turns == nil {
		turns = []voicestream.Turn{}
	}
	raw, err := json.Marshal(turns)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode conversation snapshot")
	}
	return string(raw), nil
}

// DecodeSnapshot restores the turns persisted on pause. The payload is
// re-seeded verbatim; no turn is re-derived from the transcript.
func DecodeSnapshot(snapshot string) ([]voicestream.Turn, error) {
	var turns []voicestream.Turn
	if err := json.Unmarshal([]byte(snapshot), &turns); err != nil {
		return nil, errors.Wrap(err, "failed to decode conversation snapshot")
	}
	return turns, nil
}

// TurnsFromUtterances converts a materialized transcript into conversation
// turns, preserving order.
func TurnsFromUtterances(utterances []*store.Utterance) []voicestream.Turn {
	turns := make([]voicestream.Turn, 0, len(utterances))
	for _, u := range utterances {
		turns = append(turns, voicestream.Turn{
			Speaker: string(u.Speaker),
			Text:    u.Text,
		})
	}
	return turns
}
