package nexus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ILLUVRSE/release-orchestrator/internal/release"
)

type HTTPClientConfig struct {
	BaseURL    string
	ProfileID  string
	Username   string
	Password   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPClient talks to the Nexus 2 staging REST API. Requests are not retried;
// a failed call surfaces to the caller.
type HTTPClient struct {
	baseURL   string
	profileID string
	username  string
	password  string
	client    *http.Client
	timeout   time.Duration
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, release.Configurationf("nexus base url required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, release.Configurationf("nexus base url: %v", err)
	}
	if cfg.ProfileID == "" {
		return nil, release.Configurationf("nexus staging profile required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPClient{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		profileID: cfg.ProfileID,
		username:  cfg.Username,
		password:  cfg.Password,
		client:    client,
		timeout:   timeout,
	}, nil
}

func (c *HTTPClient) Endpoint() string { return c.baseURL }

type startRequest struct {
	Data struct {
		Description string `json:"description"`
	} `json:"data"`
}

type startResponse struct {
	Data struct {
		StagedRepositoryID string `json:"stagedRepositoryId"`
	} `json:"data"`
}

type bulkRequest struct {
	Data struct {
		StagedRepositoryIDs []string `json:"stagedRepositoryIds"`
		Description         string   `json:"description"`
	} `json:"data"`
}

func (c *HTTPClient) OpenStagingRepository(ctx context.Context, description string) (string, error) {
	var req startRequest
	req.Data.Description = description
	var resp startResponse
	p := "/service/local/staging/profiles/" + url.PathEscape(c.profileID) + "/start"
	if err := c.doJSON(ctx, http.MethodPost, p, req, &resp); err != nil {
		return "", c.wrap("open staging repository", err)
	}
	if resp.Data.StagedRepositoryID == "" {
		return "", c.wrap("open staging repository", fmt.Errorf("response carries no stagedRepositoryId"))
	}
	return resp.Data.StagedRepositoryID, nil
}

func (c *HTTPClient) Publish(ctx context.Context, repositoryID string, m Module) error {
	for _, file := range m.Files {
		if err := c.deploy(ctx, repositoryID, m.DeployPath(file), file); err != nil {
			return &release.Error{Kind: release.KindRemoteTransaction, Op: "publish " + m.Coordinates(), Artifact: file, Endpoint: c.baseURL, Err: err}
		}
	}
	return nil
}

func (c *HTTPClient) deploy(ctx context.Context, repositoryID, remotePath, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	u := c.baseURL + "/service/local/staging/deployByRepositoryId/" + url.PathEscape(repositoryID) + "/" + remotePath
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, u, f)
	if err != nil {
		return fmt.Errorf("nexus build request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	c.auth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *HTTPClient) Close(ctx context.Context, repositoryID, description string) error {
	return c.bulk(ctx, "close", repositoryID, description)
}

func (c *HTTPClient) Release(ctx context.Context, repositoryID, description string) error {
	return c.bulk(ctx, "promote", repositoryID, description)
}

func (c *HTTPClient) Drop(ctx context.Context, repositoryID, description string) error {
	return c.bulk(ctx, "drop", repositoryID, description)
}

func (c *HTTPClient) bulk(ctx context.Context, action, repositoryID, description string) error {
	var req bulkRequest
	req.Data.StagedRepositoryIDs = []string{repositoryID}
	req.Data.Description = description
	if err := c.doJSON(ctx, http.MethodPost, "/service/local/staging/bulk/"+action, req, nil); err != nil {
		return c.wrap(action+" "+repositoryID, err)
	}
	return nil
}

func (c *HTTPClient) Status(ctx context.Context, repositoryID string) (RepositoryStatus, error) {
	var st RepositoryStatus
	err := c.doJSON(ctx, http.MethodGet, "/service/local/staging/repository/"+url.PathEscape(repositoryID), nil, &st)
	if err != nil {
		return RepositoryStatus{}, c.wrap("status "+repositoryID, err)
	}
	if st.ID == "" {
		st.ID = repositoryID
	}
	return st, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, p string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("nexus marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+p, body)
	if err != nil {
		return fmt.Errorf("nexus build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.auth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("nexus decode response: %w", err)
	}
	return nil
}

func (c *HTTPClient) auth(req *http.Request) {
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

func (c *HTTPClient) wrap(op string, err error) error {
	return &release.Error{Kind: release.KindRemoteTransaction, Op: "nexus " + op, Endpoint: c.baseURL, Err: err}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Status)
	}
	return fmt.Errorf("nexus responded %s: %s", resp.Status, strings.TrimSpace(string(msg)))
}
