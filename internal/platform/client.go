package platform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Resource is a generic destination API object.
type Resource map[string]any

// APIError surfaces a failed destination call: HTTP status, a short
// message, and the raw response body.
type APIError struct {
	Status  int
	Message string
	Body    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Message, e.Status, truncate(e.Body, 200))
}

// Client is the destination API boundary. All calls authenticate with a
// bearer token; presigned PUTs go out bare.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Client for the destination API.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// paginatedResponse is the destination's paginated list envelope.
type paginatedResponse struct {
	Count   int               `json:"count"`
	Next    *string           `json:"next"`
	Results []json.RawMessage `json:"results"`
}

func (c *Client) newRequest(method, u string, payload any) (*http.Request, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(method, path string, payload any) ([]byte, error) {
	req, err := c.newRequest(method, c.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, &APIError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("%s %s", method, path),
			Body:    string(body),
		}
	}
	return body, nil
}

// Get performs an authenticated GET.
func (c *Client) Get(path string, params url.Values) ([]byte, error) {
	u := path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return c.do("GET", u, nil)
}

// Post performs an authenticated POST with a JSON body.
func (c *Client) Post(path string, payload any) ([]byte, error) {
	return c.do("POST", path, payload)
}

// GetAll walks every page of a paginated list endpoint.
func (c *Client) GetAll(path string) ([]Resource, error) {
	var all []Resource
	currentURL := c.baseURL + path

	for currentURL != "" {
		req, err := c.newRequest("GET", currentURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", currentURL, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{Status: resp.StatusCode, Message: "GET " + path, Body: string(body)}
		}

		var page paginatedResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("parsing response: %w", err)
		}
		for _, raw := range page.Results {
			var res Resource
			if err := json.Unmarshal(raw, &res); err != nil {
				return nil, fmt.Errorf("parsing resource: %w", err)
			}
			all = append(all, res)
		}

		if page.Next != nil && *page.Next != "" {
			currentURL = *page.Next
			if currentURL[0] == '/' {
				currentURL = c.baseURL + currentURL
			}
		} else {
			currentURL = ""
		}
	}
	return all, nil
}

// FindByName searches a list endpoint for an exact name match.
func (c *Client) FindByName(path, name string) (Resource, error) {
	body, err := c.Get(path, url.Values{"name": {name}})
	if err != nil {
		return nil, err
	}
	var page paginatedResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(page.Results) == 0 {
		return nil, nil
	}
	var res Resource
	if err := json.Unmarshal(page.Results[0], &res); err != nil {
		return nil, fmt.Errorf("parsing resource: %w", err)
	}
	return res, nil
}

// Create POSTs a payload and returns the new resource's id.
func (c *Client) Create(path string, payload any) (string, error) {
	body, err := c.Post(path, payload)
	if err != nil {
		return "", err
	}
	var result Resource
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	id := IDString(result["id"])
	if id == "" {
		return "", fmt.Errorf("response has no id: %s", truncate(string(body), 200))
	}
	return id, nil
}

// Ping checks connectivity and auth against the organizations endpoint.
func (c *Client) Ping() error {
	_, err := c.Get("/api/v1/organizations", url.Values{"page_size": {"1"}})
	return err
}

// IDString normalizes an id field (number or string) to a string.
func IDString(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatInt(int64(n), 10)
	case json.Number:
		return n.String()
	}
	return ""
}

// Name returns a resource's name field.
func Name(r Resource) string {
	if n, ok := r["name"].(string); ok {
		return n
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
