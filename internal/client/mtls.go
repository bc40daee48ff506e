package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	apiTokens = "/api/tokens"
	pinHeader = "X-Presence-PIN"
)

// LoadClientCertificate builds an HTTP client that presents the companion
// certificate and trusts only caFile.
func LoadClientCertificate(certFile, keyFile, caFile string) (*http.Client, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert/key: %w", err)
	}
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA cert")
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      caPool,
			MinVersion:   tls.VersionTLS12,
		},
	}
	return &http.Client{Transport: transport, Timeout: 10 * time.Second}, nil
}

// CodeReply is the server's answer to a code request by position.
type CodeReply struct {
	Token   string    `json:"token"`
	Account string    `json:"account"`
	To      time.Time `json:"to"`
}

// Empty reports whether the requested position held no token.
func (r CodeReply) Empty() bool {
	return r.Token == ""
}

// Companion requests codes from a token server.
type Companion struct {
	Client  *http.Client
	BaseURL string
	// PIN is sent along for locked tokens when set.
	PIN string
}

// Count returns the number of tokens on the server.
func (c *Companion) Count(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.get(ctx, apiTokens+"/count", &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// FetchCode returns the current code of the token at index.
func (c *Companion) FetchCode(ctx context.Context, index int) (CodeReply, error) {
	var out CodeReply
	err := c.get(ctx, fmt.Sprintf("%s/%d/code", apiTokens, index), &out)
	return out, err
}

func (c *Companion) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.BaseURL, "/")+path, nil)
	if err != nil {
		return err
	}
	if c.PIN != "" {
		req.Header.Set(pinHeader, c.PIN)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error: %s", strings.TrimSpace(string(data)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
