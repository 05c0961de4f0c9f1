package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const statusCompleted = "completed"

var (
	ErrSubmit = errors.New("url scan request failed")
	ErrPoll   = errors.New("url scan results check failed")
)

// Analysis is the part of a VirusTotal analysis object the scanner reads.
type Analysis struct {
	Status     string
	Malicious  int
	Suspicious int
}

func (a *Analysis) Completed() bool {
	return a.Status == statusCompleted
}

// Flagged reports a malicious or suspicious signal.
func (a *Analysis) Flagged() bool {
	return a.Malicious > 0 || a.Suspicious > 0
}

// VirusTotalClient talks to the v3 URL scanning API.
type VirusTotalClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewVirusTotalClient(apiKey, baseURL string) *VirusTotalClient {
	return &VirusTotalClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type submitResponse struct {
	Data struct {
		ID    string `json:"id"`
		Links struct {
			Self string `json:"self"`
		} `json:"links"`
	} `json:"data"`
}

type analysisResponse struct {
	Data struct {
		Attributes struct {
			Status string `json:"status"`
			Stats  struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
			} `json:"stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// Submit posts destination for analysis and returns the analysis URL to poll.
func (c *VirusTotalClient) Submit(ctx context.Context, destination string) (string, error) {
	form := url.Values{}
	form.Set("url", destination)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/urls", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out submitResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmit, err)
	}

	switch {
	case out.Data.Links.Self != "":
		return out.Data.Links.Self, nil
	case out.Data.ID != "":
		return c.baseURL + "/analyses/" + out.Data.ID, nil
	default:
		return "", fmt.Errorf("%w: response carries no analysis link", ErrSubmit)
	}
}

// Analysis fetches the current state of an analysis.
func (c *VirusTotalClient) Analysis(ctx context.Context, analysisURL string) (*Analysis, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, analysisURL, nil)
	if err != nil {
		return nil, err
	}

	var out analysisResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPoll, err)
	}

	attrs := out.Data.Attributes
	return &Analysis{
		Status:     attrs.Status,
		Malicious:  attrs.Stats.Malicious,
		Suspicious: attrs.Stats.Suspicious,
	}, nil
}

func (c *VirusTotalClient) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
