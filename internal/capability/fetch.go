package capability

import (
	"context"
	"io"
	"net/http"

	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/permission"
)

// FetchResponse is the handler-facing shape of an HTTP response: the body is
// already buffered since handlers run in short-lived invocations with no
// streaming contract (spec.md §4.2.2).
type FetchResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// FetchShim gates outbound HTTP calls against network.fetch glob patterns.
type FetchShim struct {
	spec   permission.CompiledSpec
	client *http.Client
}

func newFetchShim(spec permission.CompiledSpec, client *http.Client) *FetchShim {
	if client == nil {
		client = http.DefaultClient
	}
	return &FetchShim{spec: spec, client: client}
}

// Do performs method against url, denying any URL not covered by an
// allow pattern (spec.md §8 property 4).
func (s *FetchShim) Do(ctx context.Context, method, url string, headers http.Header, body io.Reader) (*FetchResponse, error) {
	if !s.spec.MatchFetch(url) {
		return nil, permission.Denied("network.fetch", url, "add "+url+" to network.fetch allow", s.spec.Raw().Network.Fetch)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errtaxonomy.Wrap(errtaxonomy.ValidationError, "build fetch request", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errtaxonomy.Wrap(errtaxonomy.HandlerError, "fetch", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errtaxonomy.Wrap(errtaxonomy.HandlerError, "read fetch response", err)
	}
	return &FetchResponse{Status: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

func (s *FetchShim) Get(ctx context.Context, url string, headers http.Header) (*FetchResponse, error) {
	return s.Do(ctx, http.MethodGet, url, headers, nil)
}

func (s *FetchShim) Post(ctx context.Context, url string, headers http.Header, body io.Reader) (*FetchResponse, error) {
	return s.Do(ctx, http.MethodPost, url, headers, body)
}
