package integration

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"
	"golang.org/x/oauth2"

	"github.com/gt-edge-ai/capfabric/internal/fabricerr"
)

// Request is one outbound call a Dispatcher adapter must execute, already
// past capability, rate-limit, and sandbox gating.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    map[string]any
	Timeout time.Duration
	BodyCap int64
}

// Response is the normalized outcome of a dispatched call (spec §4.9 step
// 6: "attempt JSON decode, else wrap as {raw_content: text}").
type Response struct {
	StatusCode int
	Body       map[string]any
}

// Dispatcher executes a Request against one concrete external system,
// keyed by Config.IntegrationType. Implementations include a generic HTTP
// adapter (the default) and a per-service adapter like Slack that calls a
// typed SDK instead of building a raw request.
type Dispatcher interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// applyAuth fills req.Headers per spec §4.9 step 5's auth matrix.
func applyAuth(c Config, req *Request) error {
	if req.Headers == nil {
		req.Headers = make(map[string]string)
	}
	switch c.AuthMethod {
	case AuthAPIKey:
		apiKey, _ := c.AuthConfig["api_key"].(string)
		header, _ := c.AuthConfig["key_header"].(string)
		if header == "" {
			header = "Authorization"
		}
		prefix, _ := c.AuthConfig["key_prefix"].(string)
		if prefix == "" {
			prefix = "Bearer"
		}
		req.Headers[header] = strings.TrimSpace(prefix + " " + apiKey)
	case AuthBasicAuth:
		user, _ := c.AuthConfig["username"].(string)
		pass, _ := c.AuthConfig["password"].(string)
		encoded := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		req.Headers["Authorization"] = "Basic " + encoded
	case AuthOAuth2:
		accessToken, _ := c.AuthConfig["access_token"].(string)
		tok := &oauth2.Token{AccessToken: accessToken}
		req.Headers["Authorization"] = "Bearer " + tok.AccessToken
	default:
		return fabricerr.New(fabricerr.InvalidInput, fmt.Sprintf("unknown auth_method %q", c.AuthMethod))
	}
	for k, v := range asStringMap(c.AuthConfig["custom_headers"]) {
		req.Headers[k] = v
	}
	return nil
}

func asStringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

// httpDispatcher is the default Dispatcher: a generic net/http client
// enforcing req.Timeout and req.BodyCap.
type httpDispatcher struct {
	client *http.Client
}

func newHTTPDispatcher() *httpDispatcher {
	return &httpDispatcher{client: &http.Client{}}
}

func (d *httpDispatcher) Do(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	var reader io.Reader
	if len(req.Body) > 0 {
		buf, err := json.Marshal(req.Body)
		if err != nil {
			return Response{}, fabricerr.Wrap(fabricerr.InvalidInput, "marshaling request body", err)
		}
		reader = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, reader)
	if err != nil {
		return Response{}, fabricerr.Wrap(fabricerr.InvalidInput, "building request", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if reader != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, fabricerr.Wrap(fabricerr.Timeout, "request timed out", err)
		}
		return Response{}, fabricerr.Wrap(fabricerr.UpstreamFailure, "request failed", err)
	}
	defer resp.Body.Close()

	limited := resp.Body
	var capped io.Reader = limited
	if req.BodyCap > 0 {
		capped = io.LimitReader(limited, req.BodyCap+1)
	}
	data, err := io.ReadAll(capped)
	if err != nil {
		return Response{}, fabricerr.Wrap(fabricerr.UpstreamFailure, "reading response body", err)
	}
	if req.BodyCap > 0 && int64(len(data)) > req.BodyCap {
		return Response{}, fabricerr.New(fabricerr.SandboxViolation, "response exceeded max_response_size_bytes")
	}

	return Response{StatusCode: resp.StatusCode, Body: decodeBody(data)}, nil
}

// decodeBody attempts a JSON decode, falling back to {raw_content: text}
// per spec §4.9 step 6.
func decodeBody(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var v map[string]any
	if err := json.Unmarshal(data, &v); err == nil {
		return v
	}
	return map[string]any{"raw_content": string(data)}
}

// slackDispatcher posts a chat message via slack-go instead of a raw HTTP
// call, demonstrating a concrete per-integration-type adapter the way
// nightowl's pkg/slack.Notifier wraps the same SDK for internal alerting.
type slackDispatcher struct{}

func (slackDispatcher) Do(ctx context.Context, req Request) (Response, error) {
	token := strings.TrimPrefix(req.Headers["Authorization"], "Bearer ")
	if token == "" {
		return Response{}, fabricerr.New(fabricerr.InvalidInput, "slack integration requires a bearer token")
	}
	channel, _ := req.Body["channel"].(string)
	text, _ := req.Body["text"].(string)
	if channel == "" || text == "" {
		return Response{}, fabricerr.New(fabricerr.InvalidInput, "slack integration requires body.channel and body.text")
	}

	client := goslack.New(token)
	channelID, ts, err := client.PostMessageContext(ctx, channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return Response{}, fabricerr.Wrap(fabricerr.UpstreamFailure, "posting slack message", err)
	}
	return Response{StatusCode: http.StatusOK, Body: map[string]any{"channel": channelID, "ts": ts}}, nil
}
