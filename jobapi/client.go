package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"turnsync/config"
	"turnsync/httputil"
	"turnsync/models"
)

// Client talks to the external field-service job system. It implements
// services.JobSystem. All calls ride the shared rate-limited client.
type Client struct {
	baseURL string
	apiKey  string
	http    *httputil.Client
}

func NewClient(cfg *config.JobSystemConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http: httputil.NewClient(httputil.Options{
			RatePerSec:  cfg.RatePerSec,
			Burst:       cfg.Burst,
			MaxRetries:  cfg.MaxRetries,
			MaxInterval: cfg.MaxInterval,
		}),
	}
}

type createJobResponse struct {
	Ref string `json:"ref"`
}

// CreateJob registers one job and returns the job system's reference.
func (c *Client) CreateJob(ctx context.Context, req *models.JobRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/jobs", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		c.setHeaders(r)
		return r, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("create job: status %d: %s", resp.StatusCode, data)
	}

	var out createJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode job response: %w", err)
	}
	if out.Ref == "" {
		return "", fmt.Errorf("create job: empty ref in response")
	}
	return out.Ref, nil
}

// ListUnlinkedJobs returns jobs at a property with no record
// back-reference, scheduled inside the window.
func (c *Client) ListUnlinkedJobs(ctx context.Context, propertyID string, from, to time.Time) ([]models.Job, error) {
	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		q := url.Values{}
		q.Set("property_id", propertyID)
		q.Set("from", from.UTC().Format(time.RFC3339))
		q.Set("to", to.UTC().Format(time.RFC3339))
		q.Set("linked", "false")

		r, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/jobs?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		c.setHeaders(r)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("list jobs: status %d: %s", resp.StatusCode, data)
	}

	var jobs []models.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	return jobs, nil
}

func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
