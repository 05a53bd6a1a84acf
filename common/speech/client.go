// Package speech submits batch transcription jobs to the Azure Speech service.
// Results are written by the service into a destination container; this
// package never polls.
package speech

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/clients"
)

const serviceName = "speech"

// Config holds the batch transcription settings.
type Config struct {
	Endpoint         string
	Region           string
	Key              string
	APIVersion       string
	Locale           string
	CandidateLocales []string
	Diarization      bool
	WordTimestamps   bool
}

// Job describes one audio file to transcribe.
type Job struct {
	ContentURL              string
	DestinationContainerURL string
	DisplayName             string
}

// Transcription is the service's record of a submitted job.
type Transcription struct {
	Self            string `json:"self"`
	DisplayName     string `json:"displayName"`
	Locale          string `json:"locale"`
	Status          string `json:"status"`
	CreatedDateTime string `json:"createdDateTime"`
}

// Submitter is the dispatch-side view of the service.
type Submitter interface {
	Submit(ctx context.Context, job Job) (Transcription, error)
}

type languageIdentification struct {
	CandidateLocales []string `json:"candidateLocales"`
}

type properties struct {
	DiarizationEnabled         bool                    `json:"diarizationEnabled"`
	WordLevelTimestampsEnabled bool                    `json:"wordLevelTimestampsEnabled"`
	PunctuationMode            string                  `json:"punctuationMode,omitempty"`
	DestinationContainerURL    string                  `json:"destinationContainerUrl"`
	LanguageIdentification     *languageIdentification `json:"languageIdentification,omitempty"`
}

type transcriptionRequest struct {
	ContentURLs []string   `json:"contentUrls"`
	Locale      string     `json:"locale"`
	DisplayName string     `json:"displayName"`
	Properties  properties `json:"properties"`
}

// Client is a REST client for the batch transcription API.
type Client struct {
	cfg  Config
	http *clients.HTTPClient
}

// NewClient creates a client. Missing credentials are reported on Submit so
// services that never dispatch can still start.
func NewClient(cfg Config, httpClient *clients.HTTPClient) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v3.1"
	}
	return &Client{cfg: cfg, http: httpClient}
}

func (c *Client) baseURL() string {
	if c.cfg.Endpoint != "" {
		return strings.TrimRight(c.cfg.Endpoint, "/")
	}
	return fmt.Sprintf("https://%s.api.cognitive.microsoft.com", c.cfg.Region)
}

func (c *Client) transcriptionsURL() string {
	return fmt.Sprintf("%s/speechtotext/%s/transcriptions", c.baseURL(), c.cfg.APIVersion)
}

// buildRequest assembles the job body. Language identification needs at least
// two candidates, and the primary locale must be one of them.
func (c *Client) buildRequest(job Job) transcriptionRequest {
	req := transcriptionRequest{
		ContentURLs: []string{job.ContentURL},
		Locale:      c.cfg.Locale,
		DisplayName: job.DisplayName,
		Properties: properties{
			DiarizationEnabled:         c.cfg.Diarization,
			WordLevelTimestampsEnabled: c.cfg.WordTimestamps,
			PunctuationMode:            "DictatedAndAutomatic",
			DestinationContainerURL:    job.DestinationContainerURL,
		},
	}

	candidates := make([]string, 0, len(c.cfg.CandidateLocales)+1)
	seen := map[string]bool{}
	for _, l := range append([]string{c.cfg.Locale}, c.cfg.CandidateLocales...) {
		if l != "" && !seen[l] {
			seen[l] = true
			candidates = append(candidates, l)
		}
	}
	if len(candidates) >= 2 {
		req.Properties.LanguageIdentification = &languageIdentification{CandidateLocales: candidates}
	}
	return req
}

// Submit creates a batch transcription job.
func (c *Client) Submit(ctx context.Context, job Job) (Transcription, error) {
	if c.cfg.Key == "" || (c.cfg.Endpoint == "" && c.cfg.Region == "") {
		return Transcription{}, apperrors.Wrap(apperrors.ErrConfiguration, serviceName, "submit", "speech key and endpoint or region are required", nil)
	}
	if job.ContentURL == "" || job.DestinationContainerURL == "" {
		return Transcription{}, apperrors.Wrap(apperrors.ErrValidation, serviceName, "submit", "content and destination urls are required", nil)
	}

	headers := http.Header{}
	headers.Set("Ocp-Apim-Subscription-Key", c.cfg.Key)

	var out Transcription
	hdr, err := c.http.DoJSON(ctx, serviceName, http.MethodPost, c.transcriptionsURL(), headers, c.buildRequest(job), &out)
	if err != nil {
		return Transcription{}, err
	}
	if out.Self == "" && hdr != nil {
		out.Self = hdr.Get("Location")
	}
	return out, nil
}
