// Package pdns is a thin client for the authoritative DNS provider's
// zone-editing REST API (PowerDNS style): zone listing, record search, and
// RRset-level REPLACE/DELETE patches.
package pdns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/miekg/dns"
)

const defaultTTL = 3600

// The request timeout is deliberately shorter than the 55s domain-lock TTL,
// so a hung provider call fails while the caller still holds its lock.
const requestTimeout = 30 * time.Second

// Client talks to the provider's HTTP API. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	log     hclog.Logger
}

func NewClient(baseURL, apiKey string, log hclog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: requestTimeout},
		log:     log,
	}
}

// SearchResult is one record row from the provider's search endpoint.
type SearchResult struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

type zoneName struct {
	Name string `json:"name"`
}

type record struct {
	Content  string `json:"content"`
	Disabled bool   `json:"disabled"`
}

type rrset struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	TTL        int      `json:"ttl"`
	ChangeType string   `json:"changetype"`
	Records    []record `json:"records"`
}

type patchPayload struct {
	RRsets []rrset `json:"rrsets"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("pdns: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("pdns: build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pdns: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// Zones lists the parent zones the provider serves. The API appends a
// trailing dot to zone names; it is stripped here.
func (c *Client) Zones(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/zones", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pdns: list zones returned status %d", resp.StatusCode)
	}

	var zones []zoneName
	if err := json.NewDecoder(resp.Body).Decode(&zones); err != nil {
		return nil, fmt.Errorf("pdns: decode zone list: %w", err)
	}

	names := make([]string, 0, len(zones))
	for _, z := range zones {
		names = append(names, strings.TrimSuffix(z.Name, "."))
	}
	return names, nil
}

// Search returns every record the provider holds under fullDomain, any type.
func (c *Client) Search(ctx context.Context, fullDomain string) ([]SearchResult, error) {
	query := url.Values{}
	query.Set("q", fullDomain)
	query.Set("object_type", "record")

	resp, err := c.do(ctx, http.MethodGet, "/search-data", query, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pdns: search %q returned status %d", fullDomain, resp.StatusCode)
	}

	var results []SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("pdns: decode search results: %w", err)
	}
	return results, nil
}

// Replace submits an RRset REPLACE for (fullDomain, recordType), leaving the
// name holding exactly the one given content for that type.
func (c *Client) Replace(ctx context.Context, zone, fullDomain, recordType, content string) error {
	set := rrset{
		Name:       dns.Fqdn(fullDomain),
		Type:       recordType,
		TTL:        defaultTTL,
		ChangeType: "REPLACE",
		Records:    []record{{Content: content, Disabled: false}},
	}
	return c.patch(ctx, zone, set)
}

// Delete removes the whole RRset for (fullDomain, recordType).
func (c *Client) Delete(ctx context.Context, zone, fullDomain, recordType string) error {
	set := rrset{
		Name:       dns.Fqdn(fullDomain),
		Type:       recordType,
		TTL:        defaultTTL,
		ChangeType: "DELETE",
		Records:    []record{},
	}
	return c.patch(ctx, zone, set)
}

func (c *Client) patch(ctx context.Context, zone string, set rrset) error {
	resp, err := c.do(ctx, http.MethodPatch, "/zones/"+zone, nil, patchPayload{RRsets: []rrset{set}})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		c.log.Error("rrset patch rejected",
			"zone", zone, "name", set.Name, "type", set.Type, "changetype", set.ChangeType,
			"status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("pdns: patch zone %s returned status %d", zone, resp.StatusCode)
	}
	return nil
}

// DeleteZone tears down an entire zone. Administrative use only.
func (c *Client) DeleteZone(ctx context.Context, zone string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/servers/localhost/zones/"+dns.Fqdn(zone), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("pdns: delete zone %s returned status %d", zone, resp.StatusCode)
	}
	return nil
}
