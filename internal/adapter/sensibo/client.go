package sensibo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the production Sensibo cloud API endpoint.
const DefaultBaseURL = "https://home.sensibo.com/api/v2"

// defaultHTTPTimeout caps a single API round trip when the caller's
// context carries no deadline of its own.
const defaultHTTPTimeout = 15 * time.Second

// maxResponseSize bounds how much of an API response we will read.
const maxResponseSize = 1 << 20 // 1 MB

// podFields is the field selection requested on every pod fetch.
// Asking for exactly what we translate keeps responses small.
const podFields = "id,room,acState,measurements,remoteCapabilities,connectionStatus"

// client is a minimal Sensibo v2 REST client.
//
// Every request carries the API key as a query parameter, which is how
// the Sensibo API authenticates. Responses wrap the payload in a
// {"status": ..., "result": ...} envelope.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient(baseURL, apiKey string) *client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// envelope is the outer wrapper on every Sensibo API response.
type envelope struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
}

// pod is the device payload returned by GET /pods/{id}.
type pod struct {
	ID                 string              `json:"id"`
	Room               room                `json:"room"`
	ACState            acState             `json:"acState"`
	Measurements       measurements        `json:"measurements"`
	RemoteCapabilities *remoteCapabilities `json:"remoteCapabilities"`
	ConnectionStatus   connectionStatus    `json:"connectionStatus"`
}

type room struct {
	Name string `json:"name"`
}

// acState is the vendor's full AC state object. Apply requests must
// send the complete current state alongside the single property change.
type acState struct {
	On                bool    `json:"on"`
	Mode              string  `json:"mode"`
	TargetTemperature float64 `json:"targetTemperature"`
	TemperatureUnit   string  `json:"temperatureUnit"`
	FanLevel          string  `json:"fanLevel,omitempty"`
	Swing             string  `json:"swing,omitempty"`
}

type measurements struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

type connectionStatus struct {
	IsAlive bool `json:"isAlive"`
}

// remoteCapabilities describes what the learned IR remote can do,
// keyed by vendor mode name.
type remoteCapabilities struct {
	Modes map[string]modeCapability `json:"modes"`
}

type modeCapability struct {
	Temperatures map[string]temperatureRange `json:"temperatures"`
	FanLevels    []string                    `json:"fanLevels"`
	Swing        []string                    `json:"swing"`
}

type temperatureRange struct {
	Values []float64 `json:"values"`
}

// podSummary is the per-device payload from GET /users/me/pods.
type podSummary struct {
	ID   string `json:"id"`
	Room room   `json:"room"`
}

// acStateChange is the body of a property patch.
type acStateChange struct {
	CurrentACState acState `json:"currentAcState"`
	NewValue       any     `json:"newValue"`
}

// acStateResult is the per-patch result inside the response envelope.
type acStateResult struct {
	Status  string  `json:"status"`
	ACState acState `json:"acState"`
	Reason  string  `json:"failureReason,omitempty"`
}

// getPod fetches the full state of one device.
func (c *client) getPod(ctx context.Context, id string) (*pod, error) {
	var p pod
	path := fmt.Sprintf("/pods/%s", url.PathEscape(id))
	query := url.Values{"fields": {podFields}}
	if err := c.do(ctx, http.MethodGet, path, query, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// listPods enumerates the devices visible to the API key.
func (c *client) listPods(ctx context.Context) ([]podSummary, error) {
	var pods []podSummary
	query := url.Values{"fields": {"id,room"}}
	if err := c.do(ctx, http.MethodGet, "/users/me/pods", query, nil, &pods); err != nil {
		return nil, err
	}
	return pods, nil
}

// setACStateProperty patches one property of the AC state, carrying the
// full current state as the API requires. The response echoes the state
// the vendor accepted.
func (c *client) setACStateProperty(ctx context.Context, id, property string, value any, current acState) (*acStateResult, error) {
	body := acStateChange{CurrentACState: current, NewValue: value}
	path := fmt.Sprintf("/pods/%s/acStates/%s", url.PathEscape(id), url.PathEscape(property))

	var res acStateResult
	if err := c.do(ctx, http.MethodPatch, path, nil, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// do executes one API request and decodes the result payload into out.
func (c *client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("apiKey", c.apiKey)
	endpoint := c.baseURL + path + "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sensibo: encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("sensibo: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort drain

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &transportError{err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(payload))}
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("sensibo: decoding response: %w", err)
	}
	if env.Status != "success" {
		return &statusError{code: resp.StatusCode, body: env.Status}
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("sensibo: decoding result: %w", err)
		}
	}
	return nil
}
