package main

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client is an HTTP client for the checkoutgate API.
type Client struct {
	addr          string
	adminUser     string
	adminPass     string
	inboundSecret string
	http          *http.Client
}

// newClient creates a Client from the current config.
func newClient() *Client {
	addr := cfg.Address
	if v := os.Getenv("CHECKOUTGATE_ADDR"); v != "" {
		addr = v
	}
	user, pass := cfg.AdminUser, cfg.AdminPass
	if v := os.Getenv("ADMIN_USER"); v != "" {
		user = v
	}
	if v := os.Getenv("ADMIN_PASS"); v != "" {
		pass = v
	}
	secret := cfg.InboundSecret
	if v := os.Getenv("INBOUND_SIGNATURE_SECRET"); v != "" {
		secret = v
	}
	caCert := cfg.TLSCACert
	if v := os.Getenv("CHECKOUTGATE_CACERT"); v != "" {
		caCert = v
	}

	tlsCfg := &tls.Config{}
	if caCert != "" {
		data, err := os.ReadFile(caCert)
		if err == nil {
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(data)
			tlsCfg.RootCAs = pool
		}
	}

	httpClient := &http.Client{
		Timeout:   60 * time.Second,
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}

	return &Client{
		addr:          strings.TrimRight(addr, "/"),
		adminUser:     user,
		adminPass:     pass,
		inboundSecret: secret,
		http:          httpClient,
	}
}

func (c *Client) do(method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.addr+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.adminUser != "" {
		req.SetBasicAuth(c.adminUser, c.adminPass)
	}
	return c.http.Do(req)
}

func (c *Client) get(path string) (map[string]any, error) {
	resp, err := c.do("GET", path, "", nil)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

func (c *Client) post(path string, body any) (map[string]any, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := c.do("POST", path, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

// postInbound submits a form the way the email relay does.
func (c *Client) postInbound(form url.Values) (map[string]any, error) {
	path := "/inbound"
	if c.inboundSecret != "" {
		path += "?key=" + url.QueryEscape(c.inboundSecret)
	}
	resp, err := c.do("POST", path, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

// getText fetches a non-JSON body, such as the audit log.
func (c *Client) getText(path string) (string, error) {
	resp, err := c.do("GET", path, "", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return string(data), nil
}

func parseResponse(resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if resp.StatusCode >= 400 {
		if msg, ok := result["error"].(string); ok && msg != "" {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return result, nil
}
