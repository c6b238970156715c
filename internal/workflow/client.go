package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	runPath      = "/v1/workflows/run"
	framePrefix  = "data: "
	frameDivider = "\n\n"
	chunkSize    = 2048
)

// ResponseMode selects how the workflow endpoint delivers its result.
type ResponseMode string

const (
	ModeBlocking  ResponseMode = "blocking"
	ModeStreaming ResponseMode = "streaming"
)

// Outputs is the free-form output map reconstructed from a workflow run.
type Outputs map[string]any

// Text returns the outputs' text field, empty when absent.
func (o Outputs) Text() string { return o.stringValue("text") }

// Title returns the outputs' title field, empty when absent.
func (o Outputs) Title() string { return o.stringValue("title") }

// ResultCode returns the outputs' resultCode field, empty when absent.
func (o Outputs) ResultCode() string { return o.stringValue("resultCode") }

func (o Outputs) stringValue(key string) string {
	if v, ok := o[key].(string); ok {
		return v
	}
	return ""
}

// StringList reads a field that may arrive as a single string or a JSON
// array, returning a normalized slice either way.
func (o Outputs) StringList(key string) []string {
	switch v := o[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}

// Config holds client construction values.
type Config struct {
	BaseURL       string
	User          string
	MaxFrameBytes int
	Timeout       time.Duration
}

// Client talks to the external workflow endpoint in blocking or streaming
// mode and reconstructs a final Outputs payload.
type Client struct {
	baseURL  string
	user     string
	maxFrame int
	http     *http.Client
	logger   *zap.Logger
}

// NewClient builds a workflow client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	maxFrame := cfg.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = 1 << 20
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		user:     cfg.User,
		maxFrame: maxFrame,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type runRequest struct {
	Inputs       map[string]any `json:"inputs"`
	ResponseMode ResponseMode   `json:"response_mode"`
	User         string         `json:"user"`
}

type blockingResponse struct {
	Data struct {
		Outputs Outputs `json:"outputs"`
	} `json:"data"`
}

type streamEvent struct {
	Event string `json:"event"`
	Data  struct {
		Text    string  `json:"text"`
		Outputs Outputs `json:"outputs"`
	} `json:"data"`
}

// EventObserver receives each decoded stream event. Used for audit logging;
// may be nil.
type EventObserver func(event string, raw json.RawMessage)

// RunBlocking issues one request and parses the single JSON response body.
func (c *Client) RunBlocking(ctx context.Context, apiKey string, inputs map[string]any) (Outputs, error) {
	resp, err := c.post(ctx, apiKey, inputs, ModeBlocking)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed blockingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if parsed.Data.Outputs == nil {
		return Outputs{}, nil
	}
	return parsed.Data.Outputs, nil
}

// RunStreaming consumes the chunked event stream and reconstructs the final
// outputs. On a frame-size overflow the entire request is retried once in
// blocking mode; when the retry also fails, whatever accumulated before the
// overflow is used instead. If no usable text survives recovery,
// ErrEmptyResult is returned.
func (c *Client) RunStreaming(ctx context.Context, apiKey string, inputs map[string]any, observe EventObserver) (Outputs, error) {
	resp, err := c.post(ctx, apiKey, inputs, ModeStreaming)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	outputs, err := c.consumeStream(resp.Body, observe)
	if err == ErrStreamOverflow {
		c.logger.Warn("stream frame overflow, retrying in blocking mode")
		blocking, retryErr := c.RunBlocking(ctx, apiKey, inputs)
		if retryErr != nil {
			c.logger.Error("blocking retry failed, keeping pre-overflow output", zap.Error(retryErr))
		} else {
			outputs = blocking
		}
	} else if err != nil {
		return nil, err
	}

	if outputs.Text() == "" {
		return nil, ErrEmptyResult
	}
	return outputs, nil
}

// consumeStream reads fixed-size chunks into a buffer and drains complete
// double-newline-delimited frames as they appear. Returns ErrStreamOverflow
// when the buffer grows past the frame limit without a complete frame,
// together with whatever outputs were accumulated before the overflow; any
// other read error stops the stream and keeps what was accumulated.
func (c *Client) consumeStream(body io.Reader, observe EventObserver) (Outputs, error) {
	var (
		buffer       []byte
		fullText     strings.Builder
		finalOutputs = Outputs{}
		nodeOutputs  []Outputs
	)

	chunk := make([]byte, chunkSize)
	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			for {
				idx := bytes.Index(buffer, []byte(frameDivider))
				if idx < 0 {
					break
				}
				frame := string(buffer[:idx])
				buffer = buffer[idx+len(frameDivider):]
				c.handleFrame(frame, &fullText, finalOutputs, &nodeOutputs, observe)
			}
			if len(buffer) > c.maxFrame {
				return assembleOutputs(finalOutputs, &fullText, nodeOutputs), ErrStreamOverflow
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			c.logger.Warn("stream read error, keeping accumulated output", zap.Error(readErr))
			break
		}
	}

	// Best effort on a trailing frame that never got its divider.
	if rest := strings.TrimSpace(string(buffer)); strings.HasPrefix(rest, framePrefix) {
		var event streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(rest, framePrefix)), &event); err != nil {
			c.logger.Debug("trailing frame parse failed", zap.Error(err))
		} else if len(event.Data.Outputs) > 0 {
			mergeOutputs(finalOutputs, event.Data.Outputs)
		}
	}

	return assembleOutputs(finalOutputs, &fullText, nodeOutputs), nil
}

// assembleOutputs falls back to the concatenated text chunks when no
// workflow-level outputs arrived, borrowing a result code from the first
// node that produced one.
func assembleOutputs(finalOutputs Outputs, fullText *strings.Builder, nodeOutputs []Outputs) Outputs {
	if len(finalOutputs) == 0 && fullText.Len() > 0 {
		finalOutputs = Outputs{"text": fullText.String()}
		for _, node := range nodeOutputs {
			if code := node.ResultCode(); code != "" {
				finalOutputs["resultCode"] = code
				break
			}
		}
	}
	return finalOutputs
}

func (c *Client) handleFrame(frame string, fullText *strings.Builder, finalOutputs Outputs, nodeOutputs *[]Outputs, observe EventObserver) {
	if !strings.HasPrefix(frame, framePrefix) {
		return
	}
	raw := strings.TrimPrefix(frame, framePrefix)

	var event streamEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		c.logger.Warn("malformed stream frame skipped", zap.Error(err))
		return
	}
	if observe != nil {
		observe(event.Event, json.RawMessage(raw))
	}

	switch event.Event {
	case "text_chunk":
		fullText.WriteString(event.Data.Text)
	case "workflow_finished":
		if len(event.Data.Outputs) > 0 {
			clearOutputs(finalOutputs)
			mergeOutputs(finalOutputs, event.Data.Outputs)
		}
	case "node_finished":
		if len(event.Data.Outputs) > 0 {
			mergeOutputs(finalOutputs, event.Data.Outputs)
			*nodeOutputs = append(*nodeOutputs, event.Data.Outputs)
		}
	}
}

func (c *Client) post(ctx context.Context, apiKey string, inputs map[string]any, mode ResponseMode) (*http.Response, error) {
	payload, err := json.Marshal(runRequest{Inputs: inputs, ResponseMode: mode, User: c.user})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+runPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

func mergeOutputs(dst, src Outputs) {
	for k, v := range src {
		dst[k] = v
	}
}

func clearOutputs(o Outputs) {
	for k := range o {
		delete(o, k)
	}
}
