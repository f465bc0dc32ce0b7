package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client performs authorization checks.
type Client interface {
	Check(ctx context.Context, user, object, relation string) (bool, error)
}

// OpenFGAClient implements Client against an OpenFGA HTTP API.
type OpenFGAClient struct {
	apiURL  string
	storeID string
	http    *http.Client
}

// New returns an OpenFGA-backed client, or a NoopClient when apiURL or
// storeID is empty.
func New(apiURL, storeID string) Client {
	if apiURL == "" || storeID == "" {
		return NoopClient{}
	}
	return &OpenFGAClient{
		apiURL:  apiURL,
		storeID: storeID,
		http: &http.Client{
			Timeout:   3 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Check calls OpenFGA /check. Returns (false, nil) on a definitive deny.
func (c *OpenFGAClient) Check(ctx context.Context, user, object, relation string) (bool, error) {
	url := fmt.Sprintf("%s/stores/%s/check", c.apiURL, c.storeID)
	body := map[string]any{
		"tuple_key": map[string]string{
			"user":     user,
			"relation": relation,
			"object":   object,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("openfga check status %d", resp.StatusCode)
	}
	var jr struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jr); err != nil {
		return false, err
	}
	return jr.Allowed, nil
}

// TupleKey is a single OpenFGA relationship tuple.
type TupleKey struct {
	User     string `json:"user"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

// Write stores relationship tuples through OpenFGA /write.
func (c *OpenFGAClient) Write(ctx context.Context, tuples ...TupleKey) error {
	if len(tuples) == 0 {
		return nil
	}
	url := fmt.Sprintf("%s/stores/%s/write", c.apiURL, c.storeID)
	b, err := json.Marshal(map[string]any{"writes": map[string]any{"tuple_keys": tuples}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("openfga write status %d", resp.StatusCode)
	}
	return nil
}

// NoopClient allows everything. Useful for local dev without OpenFGA.
type NoopClient struct{}

func (NoopClient) Check(context.Context, string, string, string) (bool, error) {
	return true, nil
}
