// Package directory is the read-only client for the external profile
// directory used to validate patient and requester identities at intake.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/healthdx/consent-engine/v1/models"
)

// DefaultHTTPTimeout bounds a single lookup.
const DefaultHTTPTimeout = 10 * time.Second

// Patient is the directory's view of a patient account.
type Patient struct {
	PatientID string `json:"patient_id"`
	Active    bool   `json:"active"`
}

// Requester is the directory's view of a requesting organization or staff
// account.
type Requester struct {
	RequesterID  string `json:"requester_id"`
	Organization string `json:"organization"`
	Active       bool   `json:"active"`
}

// Directory resolves identities referenced by consent requests.
type Directory interface {
	ResolvePatient(ctx context.Context, patientID string) (*Patient, error)
	ResolveRequester(ctx context.Context, requesterID string) (*Requester, error)
}

// Client is an HTTP Directory implementation.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new directory client.
func NewClient(baseURL string) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if baseURL == "" || err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid directory base URL: must be a non-empty, valid URL with scheme and host")
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultHTTPTimeout,
		},
	}, nil
}

// ResolvePatient looks up a patient account. An unknown id maps to
// models.ErrNotFound.
func (c *Client) ResolvePatient(ctx context.Context, patientID string) (*Patient, error) {
	var patient Patient
	if err := c.get(ctx, "/api/patients/"+url.PathEscape(patientID), &patient); err != nil {
		return nil, err
	}
	return &patient, nil
}

// ResolveRequester looks up a requester account. An unknown id maps to
// models.ErrNotFound.
func (c *Client) ResolveRequester(ctx context.Context, requesterID string) (*Requester, error) {
	var requester Requester
	if err := c.get(ctx, "/api/requesters/"+url.PathEscape(requesterID), &requester); err != nil {
		return nil, err
	}
	return &requester, nil
}

func (c *Client) get(ctx context.Context, path string, target interface{}) error {
	endpointURL, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("failed to construct directory URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create directory request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("directory lookup failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode directory response: %w", err)
		}
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: directory has no such account", models.ErrNotFound)
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("directory returned status %d: %s", resp.StatusCode, string(body))
	}
}
