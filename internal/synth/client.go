package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/config"
)

const (
	apiAudioQuery = "/audio_query"
	apiSynthesis  = "/synthesis"
	apiSpeakers   = "/speakers"

	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"

	checkTimeout   = 2 * time.Second
	maxErrorBody   = 512
	maxAudioLength = 64 << 20
)

// Options carries the voice parameters applied to every query.
type Options struct {
	BaseURL           string
	SpeakerID         int
	Speed             float64
	Pitch             float64
	Intonation        float64
	Volume            float64
	PostPhonemeLength float64
	QueryTimeout      time.Duration
	SynthesisTimeout  time.Duration
	Fade              time.Duration
}

// OptionsFromConfig maps the engine config section.
func OptionsFromConfig(cfg config.EngineConfig) Options {
	return Options{
		BaseURL:           cfg.BaseURL(),
		SpeakerID:         cfg.SpeakerID,
		Speed:             cfg.Speed,
		Pitch:             cfg.Pitch,
		Intonation:        cfg.Intonation,
		Volume:            cfg.Volume,
		PostPhonemeLength: cfg.PostPhonemeLength,
		QueryTimeout:      time.Duration(cfg.QueryTimeoutMS) * time.Millisecond,
		SynthesisTimeout:  time.Duration(cfg.SynthesisTimeoutMS) * time.Millisecond,
		Fade:              time.Duration(cfg.FadeMS) * time.Millisecond,
	}
}

// Client talks to the engine's audio_query and synthesis endpoints.
type Client struct {
	opts       Options
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient builds a client; the underlying transport keeps connections alive
// between lines.
func NewClient(opts Options, log *slog.Logger) *Client {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 10 * time.Second
	}
	if opts.SynthesisTimeout <= 0 {
		opts.SynthesisTimeout = 30 * time.Second
	}
	return &Client{
		opts:       opts,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{},
		log:        log.With(slog.String("component", "synth.client")),
	}
}

// Synthesize renders one line. Errors never carry partial audio.
func (c *Client) Synthesize(ctx context.Context, line string) (audio.Segment, error) {
	if strings.TrimSpace(line) == "" {
		return audio.Segment{}, ErrEmptyText
	}

	query, err := c.audioQuery(ctx, line)
	if err != nil {
		return audio.Segment{}, err
	}
	body, err := c.applyVoice(query)
	if err != nil {
		return audio.Segment{}, err
	}
	wavData, err := c.render(ctx, body)
	if err != nil {
		return audio.Segment{}, err
	}

	seg, err := audio.DecodeWAV(bytes.NewReader(wavData))
	if err != nil {
		return audio.Segment{}, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	return audio.Fade(seg, c.opts.Fade), nil
}

func (c *Client) audioQuery(ctx context.Context, line string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.QueryTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("text", line)
	params.Set("speaker", strconv.Itoa(c.opts.SpeakerID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiAudioQuery+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create audio_query request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(ErrQueryFailed, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrQueryFailed, err)
	}
	return data, nil
}

// applyVoice overrides the voice parameters and keeps every other field of
// the engine's query untouched.
func (c *Client) applyVoice(query []byte) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(query, &fields); err != nil {
		return nil, fmt.Errorf("%w: decode query: %v", ErrQueryFailed, err)
	}
	overrides := map[string]float64{
		"speedScale":        c.opts.Speed,
		"pitchScale":        c.opts.Pitch,
		"intonationScale":   c.opts.Intonation,
		"volumeScale":       c.opts.Volume,
		"postPhonemeLength": c.opts.PostPhonemeLength,
	}
	for key, value := range overrides {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		fields[key] = raw
	}
	return json.Marshal(fields)
}

func (c *Client) render(ctx context.Context, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.SynthesisTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("speaker", strconv.Itoa(c.opts.SpeakerID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiSynthesis+"?"+params.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create synthesis request: %w", err)
	}
	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(ErrSynthesisFailed, resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioLength))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrSynthesisFailed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidAudio)
	}
	return data, nil
}

// CheckConnection pings the engine. It is a diagnostic only.
func (c *Client) CheckConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiSpeakers, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("engine check failed", slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Speakers lists the voices and styles the engine offers.
func (c *Client) Speakers(ctx context.Context) ([]Speaker, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.QueryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiSpeakers, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create speakers request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list speakers at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(errors.New("list speakers"), resp)
	}
	var speakers []Speaker
	if err := json.NewDecoder(resp.Body).Decode(&speakers); err != nil {
		return nil, fmt.Errorf("decode speakers: %w", err)
	}
	return speakers, nil
}

func parseErrorResponse(kind error, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(body))
	var structured struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &structured) == nil && len(structured.Detail) > 0 {
		detail = string(structured.Detail)
	}
	return fmt.Errorf("%w: status %s: %s", kind, resp.Status, detail)
}
