package models

import (
	"encoding/json"
	"strings"

	"github.com/lyzr/minutes/common/apperrors"
)

// Transcript is the subset of the batch transcription result document the
// pipeline consumes.
// Maps to: transcripts container, contenturl_*.json
type Transcript struct {
	Source                    string             `json:"source"`
	Timestamp                 string             `json:"timestamp,omitempty"`
	DurationInTicks           int64              `json:"durationInTicks,omitempty"`
	CombinedRecognizedPhrases []CombinedPhrase   `json:"combinedRecognizedPhrases"`
	RecognizedPhrases         []RecognizedPhrase `json:"recognizedPhrases,omitempty"`
}

// CombinedPhrase is the full-channel text of a transcript.
type CombinedPhrase struct {
	Channel int    `json:"channel"`
	Lexical string `json:"lexical,omitempty"`
	Display string `json:"display"`
}

// RecognizedPhrase is one utterance. Only the speaker and locale are read.
type RecognizedPhrase struct {
	Speaker int    `json:"speaker,omitempty"`
	Locale  string `json:"locale,omitempty"`
}

// Text returns the display text of the first combined phrase.
func (t Transcript) Text() string {
	if len(t.CombinedRecognizedPhrases) == 0 {
		return ""
	}
	return t.CombinedRecognizedPhrases[0].Display
}

// Locale returns the locale of the first recognized phrase, if any.
func (t Transcript) Locale() string {
	for _, p := range t.RecognizedPhrases {
		if p.Locale != "" {
			return p.Locale
		}
	}
	return ""
}

// ParseTranscript decodes a result document and requires both the display
// text and the source URL.
func ParseTranscript(data []byte) (Transcript, error) {
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return Transcript{}, apperrors.Wrap(apperrors.ErrMalformedTranscript, "minutes", "parse_transcript", "invalid JSON", err)
	}
	if strings.TrimSpace(t.Text()) == "" {
		return Transcript{}, apperrors.Wrap(apperrors.ErrMalformedTranscript, "minutes", "parse_transcript", "combinedRecognizedPhrases[0].display missing", nil)
	}
	if strings.TrimSpace(t.Source) == "" {
		return Transcript{}, apperrors.Wrap(apperrors.ErrMalformedTranscript, "minutes", "parse_transcript", "source missing", nil)
	}
	return t, nil
}
