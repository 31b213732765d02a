package beacon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"

	"github.com/alloy-rs/alloy-sub000/eth"
)

const (
	versionMethod        = "eth/v1/node/version"
	genesisMethod        = "eth/v1/beacon/genesis"
	specMethod           = "eth/v1/config/spec"
	sidecarsMethodPrefix = "eth/v1/beacon/blob_sidecars/"
)

// maxBeaconResponse caps a beacon API response body.
const maxBeaconResponse = 128 * 1024 * 1024

// Client is the subset of the beacon node API the blob fetcher needs.
type Client interface {
	NodeVersion(ctx context.Context) (string, error)
	BeaconGenesis(ctx context.Context) (APIGenesisResponse, error)
	ConfigSpec(ctx context.Context) (APIConfigResponse, error)
	// BeaconBlobSideCars fetches the sidecars of the given slot,
	// filtered to the indices of the given hashes when fetchAllSidecars is false.
	BeaconBlobSideCars(ctx context.Context, fetchAllSidecars bool, slot uint64, hashes []eth.IndexedBlobHash) (APIGetBlobSidecarsResponse, error)
}

// HTTPClient talks to a beacon node over its REST API.
type HTTPClient struct {
	endpoint string
	headers  http.Header
	client   *http.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(endpoint string, opts ...HTTPOption) *HTTPClient {
	cl := &HTTPClient{
		endpoint: endpoint,
		headers:  make(http.Header),
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

type HTTPOption func(cl *HTTPClient)

// WithHeader adds a header to every request, e.g. for auth tokens.
func WithHeader(key, value string) HTTPOption {
	return func(cl *HTTPClient) {
		cl.headers.Set(key, value)
	}
}

// WithHTTPClient swaps the underlying http.Client, e.g. for custom timeouts.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(cl *HTTPClient) {
		cl.client = client
	}
}

func (cl *HTTPClient) apiReq(ctx context.Context, dest any, reqPath string, reqQuery url.Values) error {
	base, err := url.Parse(cl.endpoint)
	if err != nil {
		return fmt.Errorf("bad beacon endpoint %q: %w", cl.endpoint, err)
	}
	reqURL := *base
	reqURL.Path = path.Join(reqURL.Path, reqPath)
	reqURL.RawQuery = reqQuery.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build beacon request: %w", err)
	}
	req.Header = cl.headers.Clone()
	req.Header.Set("Accept", "application/json")

	resp, err := cl.client.Do(req)
	if err != nil {
		return fmt.Errorf("beacon request to %s failed: %w", reqPath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ethereum.NotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("beacon request to %s failed with status %d: %s", reqPath, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBeaconResponse)).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode beacon response of %s: %w", reqPath, err)
	}
	return nil
}

func (cl *HTTPClient) NodeVersion(ctx context.Context) (string, error) {
	var resp APIVersionResponse
	if err := cl.apiReq(ctx, &resp, versionMethod, nil); err != nil {
		return "", err
	}
	return resp.Data.Version, nil
}

func (cl *HTTPClient) BeaconGenesis(ctx context.Context) (APIGenesisResponse, error) {
	var resp APIGenesisResponse
	if err := cl.apiReq(ctx, &resp, genesisMethod, nil); err != nil {
		return APIGenesisResponse{}, err
	}
	return resp, nil
}

func (cl *HTTPClient) ConfigSpec(ctx context.Context) (APIConfigResponse, error) {
	var resp APIConfigResponse
	if err := cl.apiReq(ctx, &resp, specMethod, nil); err != nil {
		return APIConfigResponse{}, err
	}
	return resp, nil
}

func (cl *HTTPClient) BeaconBlobSideCars(ctx context.Context, fetchAllSidecars bool, slot uint64, hashes []eth.IndexedBlobHash) (APIGetBlobSidecarsResponse, error) {
	reqPath := path.Join(sidecarsMethodPrefix, strconv.FormatUint(slot, 10))
	var reqQuery url.Values
	if !fetchAllSidecars {
		reqQuery = url.Values{}
		for i := range hashes {
			reqQuery.Add("indices", strconv.FormatUint(hashes[i].Index, 10))
		}
	}
	var resp APIGetBlobSidecarsResponse
	if err := cl.apiReq(ctx, &resp, reqPath, reqQuery); err != nil {
		return APIGetBlobSidecarsResponse{}, err
	}
	return resp, nil
}
