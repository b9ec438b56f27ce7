package esi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://esi.evetech.net/latest"

const userAgent = "eve-foreman/1.0 (github.com)"

// Client is a rate-limited ESI HTTP client.
type Client struct {
	http    *http.Client
	sem     chan struct{}
	baseURL string
}

// NewClient creates an ESI client with rate limiting.
// Uses 50 concurrent connections (ESI allows up to 150 error-free requests/sec).
func NewClient() *Client {
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		sem:     make(chan struct{}, 50),
		baseURL: defaultBaseURL,
	}
}

// HealthCheck pings ESI to verify connectivity.
func (c *Client) HealthCheck() bool {
	req, err := http.NewRequest("GET", c.baseURL+"/status/?datasource=tranquility", nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == 200
}

// GetJSON fetches a URL and decodes JSON into dst. An empty token
// means the endpoint is public.
func (c *Client) GetJSON(url, token string, dst interface{}) error {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ESI %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(dst)
}

// PostJSON posts a JSON body and decodes the JSON response into dst.
func (c *Client) PostJSON(url, token string, body, dst interface{}) error {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest("POST", url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ESI %d: %s", resp.StatusCode, string(respBody))
	}

	return json.NewDecoder(resp.Body).Decode(dst)
}
