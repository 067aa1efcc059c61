package simrun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/verisim-io/verisim/types"
)

// DefaultHTTPTimeout is the default per-request timeout.
const DefaultHTTPTimeout = 60 * time.Second

// ClientConfig configures the remote API client.
type ClientConfig struct {
	// RunsBaseURL is the simulation-execution API base URL (required).
	RunsBaseURL string
	// DataBaseURL is the dataset-retrieval API base URL (required).
	DataBaseURL string
	// Timeout is the per-request timeout (default 60s).
	Timeout time.Duration
}

// Client is the HTTP implementation of Service.
type Client struct {
	config ClientConfig
	client *http.Client
}

// NewClient creates a client from the given config.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.RunsBaseURL == "" {
		return nil, fmt.Errorf("simrun: runs base URL is required")
	}
	if cfg.DataBaseURL == "" {
		return nil, fmt.Errorf("simrun: data base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// submitPayload is the JSON descriptor sent alongside the archive.
type submitPayload struct {
	Name             string `json:"name"`
	Simulator        string `json:"simulator"`
	SimulatorVersion string `json:"simulatorVersion"`
	MaxTime          int    `json:"maxTime"`
}

// SubmitRun implements Service. The submission is a multipart POST with
// a "file" part carrying the archive bytes and a "simulationRun" part
// carrying the JSON run descriptor.
func (c *Client) SubmitRun(ctx context.Context, req SubmitRequest) (*types.SimulationRun, error) {
	if req.MaxTime <= 0 {
		req.MaxTime = DefaultMaxTime
	}
	filename := req.Filename
	if filename == "" {
		filename = "model.omex"
	}

	payload, err := json.Marshal(submitPayload{
		Name:             req.Name,
		Simulator:        req.Simulator,
		SimulatorVersion: req.SimulatorVersion,
		MaxTime:          req.MaxTime,
	})
	if err != nil {
		return nil, fmt.Errorf("simrun: marshal run descriptor: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	filePart, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("simrun: build multipart: %w", err)
	}
	if _, err := filePart.Write(req.Archive); err != nil {
		return nil, fmt.Errorf("simrun: write archive part: %w", err)
	}
	if err := writer.WriteField("simulationRun", string(payload)); err != nil {
		return nil, fmt.Errorf("simrun: write descriptor part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("simrun: finalize multipart: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.RunsBaseURL+"/runs", &body)
	if err != nil {
		return nil, fmt.Errorf("simrun: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	var run types.SimulationRun
	if err := c.do(httpReq, "submit run", &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun implements Service. A 404 surfaces as ErrRunNotFound.
func (c *Client) GetRun(ctx context.Context, runID string) (*types.SimulationRun, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.RunsBaseURL+"/runs/"+url.PathEscape(runID), nil)
	if err != nil {
		return nil, fmt.Errorf("simrun: build request: %w", err)
	}

	var run types.SimulationRun
	if err := c.do(httpReq, "get run "+runID, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetResultsMetadata implements Service.
func (c *Client) GetResultsMetadata(ctx context.Context, runID string) (*types.ResultsMeta, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.DataBaseURL+"/datasets/"+url.PathEscape(runID)+"/metadata", nil)
	if err != nil {
		return nil, fmt.Errorf("simrun: build request: %w", err)
	}

	var meta types.ResultsMeta
	if err := c.do(httpReq, "get results metadata "+runID, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// GetDatasetValues implements Service.
func (c *Client) GetDatasetValues(ctx context.Context, runID, datasetName string) (*types.DataValues, error) {
	endpoint := fmt.Sprintf("%s/datasets/%s/data?dataset_name=%s",
		c.config.DataBaseURL, url.PathEscape(runID), url.QueryEscape(datasetName))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("simrun: build request: %w", err)
	}

	var values types.DataValues
	if err := c.do(httpReq, "get dataset values "+datasetName, &values); err != nil {
		return nil, err
	}
	return &values, nil
}

// do executes the request and decodes a 2xx JSON response into out.
// Non-2xx responses become *APIError.
func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("simrun: %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Op: op, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("simrun: %s: decode response: %w", op, err)
	}
	return nil
}

// Verify Client implements Service.
var _ Service = (*Client)(nil)
