// Package providers fetches the external data the assistant can ask for:
// weather, news, Wikipedia and the public IP address.
package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/nim-assistant/core"
)

// DefaultTimeout bounds every provider request.
const DefaultTimeout = 5 * time.Second

// newHTTPClient returns hc, or a client with DefaultTimeout when hc is nil.
func newHTTPClient(hc *http.Client) *http.Client {
	if hc != nil {
		return hc
	}
	return &http.Client{Timeout: DefaultTimeout}
}

// get issues a GET against base with params and returns the body of a 200
// response.
func get(ctx context.Context, hc *http.Client, base string, params url.Values) ([]byte, error) {
	target := base
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, goerr.Wrap(core.ErrConfiguration, "invalid provider URL",
			goerr.V(core.EndpointKey, base), goerr.V("cause", err.Error()))
	}
	req.Header.Set("User-Agent", "nim-assistant/1.0")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, goerr.Wrap(core.ErrTransientProvider, "provider request failed",
			goerr.V(core.EndpointKey, base), goerr.V("cause", err.Error()))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, goerr.Wrap(core.ErrTransientProvider, "failed to read provider response",
			goerr.V(core.EndpointKey, base), goerr.V("cause", err.Error()))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, goerr.Wrap(core.ErrTransientProvider, "provider returned non-200 status",
			goerr.V(core.EndpointKey, base), goerr.V(core.StatusKey, resp.StatusCode))
	}
	return body, nil
}

func getJSON(ctx context.Context, hc *http.Client, base string, params url.Values, out any) error {
	body, err := get(ctx, hc, base, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return goerr.Wrap(core.ErrTransientProvider, "malformed provider response",
			goerr.V(core.EndpointKey, base), goerr.V("cause", err.Error()))
	}
	return nil
}

func marshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
