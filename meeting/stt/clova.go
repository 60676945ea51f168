package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// DefaultClovaURL is the public Clova Speech gateway.
const DefaultClovaURL = "https://clovaspeech-gw.ncloud.com/recog/v1/stt"

// ClovaClient transcribes audio with the Clova Speech long-form API,
// using speaker diarization.
type ClovaClient struct {
	invokeURL  string
	apiKey     string
	language   string
	minSpeaker int
	maxSpeaker int
	boostings  []string
	http       *http.Client
}

// ClovaOption configures a ClovaClient.
type ClovaOption func(*ClovaClient)

// WithLanguage sets the recognition language. The default is ko-KR.
func WithLanguage(lang string) ClovaOption {
	return func(c *ClovaClient) { c.language = lang }
}

// WithSpeakerRange bounds the number of speakers diarization looks for.
func WithSpeakerRange(minSpeakers, maxSpeakers int) ClovaOption {
	return func(c *ClovaClient) {
		c.minSpeaker = minSpeakers
		c.maxSpeaker = maxSpeakers
	}
}

// WithBoostings raises recognition weight for domain words.
func WithBoostings(words ...string) ClovaOption {
	return func(c *ClovaClient) { c.boostings = append(c.boostings, words...) }
}

// WithHTTPClient replaces the default client, which times out after five
// minutes.
func WithHTTPClient(h *http.Client) ClovaOption {
	return func(c *ClovaClient) {
		if h != nil {
			c.http = h
		}
	}
}

// NewClovaClient creates a client for invokeURL. An empty URL selects
// DefaultClovaURL.
func NewClovaClient(invokeURL, apiKey string, opts ...ClovaOption) *ClovaClient {
	if invokeURL == "" {
		invokeURL = DefaultClovaURL
	}
	c := &ClovaClient{
		invokeURL:  strings.TrimRight(invokeURL, "/"),
		apiKey:     apiKey,
		language:   "ko-KR",
		minSpeaker: 1,
		maxSpeaker: 6,
		http:       &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type clovaRequest struct {
	URL         string           `json:"url"`
	Language    string           `json:"language"`
	Completion  string           `json:"completion"`
	Diarization clovaDiarization `json:"diarization"`
	Boostings   []clovaBoosting  `json:"boostings,omitempty"`
}

type clovaDiarization struct {
	Enable          bool `json:"enable"`
	SpeakerCountMin int  `json:"speakerCountMin"`
	SpeakerCountMax int  `json:"speakerCountMax"`
}

type clovaBoosting struct {
	Words string `json:"words"`
}

type clovaResponse struct {
	Result   string         `json:"result"`
	Message  string         `json:"message"`
	Segments []clovaSegment `json:"segments"`
}

type clovaSegment struct {
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Speaker    struct {
		Label string `json:"label"`
	} `json:"speaker"`
}

// Transcribe implements Transcriber.
func (c *ClovaClient) Transcribe(ctx context.Context, audioURL string) (Result, error) {
	reqBody := clovaRequest{
		URL:        audioURL,
		Language:   c.language,
		Completion: "sync",
		Diarization: clovaDiarization{
			Enable:          true,
			SpeakerCountMin: c.minSpeaker,
			SpeakerCountMax: c.maxSpeaker,
		},
	}
	for _, w := range c.boostings {
		reqBody.Boostings = append(reqBody.Boostings, clovaBoosting{Words: w})
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("encode transcription request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.invokeURL+"/recognizer/url", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CLOVASPEECH-API-KEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe %s: %w", audioURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read transcription response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		sErr := &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			sErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return Result{}, sErr
	}

	var out clovaResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Result{}, &Error{StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	if out.Result != "" && !strings.EqualFold(out.Result, "COMPLETED") {
		return Result{}, &Error{StatusCode: http.StatusUnprocessableEntity, Message: out.Result + ": " + out.Message}
	}
	return parseClova(out), nil
}

// parseClova converts millisecond timings to seconds, labels missing
// speakers "Unknown" and drops empty segments.
func parseClova(r clovaResponse) Result {
	var res Result
	seen := map[string]bool{}
	var texts []string

	for _, seg := range r.Segments {
		text := strings.TrimSpace(seg.Text)
		speaker := seg.Speaker.Label
		if speaker == "" {
			speaker = "Unknown"
		}
		end := float64(seg.End) / 1000
		if end > res.Duration {
			res.Duration = end
		}
		if text == "" {
			continue
		}
		seen[speaker] = true
		texts = append(texts, text)
		res.Segments = append(res.Segments, Segment{
			Speaker:    speaker,
			Text:       text,
			StartTime:  float64(seg.Start) / 1000,
			EndTime:    end,
			Confidence: seg.Confidence,
		})
	}

	res.RawText = strings.Join(texts, " ")
	for s := range seen {
		res.Speakers = append(res.Speakers, s)
	}
	sort.Strings(res.Speakers)
	return res
}
