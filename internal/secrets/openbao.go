package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

var ErrOpenBaoSecretNotFound = errors.New("openbao secret path not found")

// Bootstrap loads key/value secrets (PAYSTACK_SECRET_KEY, ORDER_DB_PASSWORD,
// MONGO_URI, ...) from an OpenBao KV v2 path into the process environment
// before config.Load runs. Variables already set in the environment win
// unless OPENBAO_OVERRIDE=true. Without OpenBao configuration it is a no-op.
// It returns the names of the variables it exported.
func Bootstrap(ctx context.Context) ([]string, error) {
	cfg := openBaoConfigFromEnv()
	if !cfg.enabled {
		return nil, nil
	}

	values, err := readSecrets(ctx, http.DefaultClient, cfg)
	if err != nil {
		return nil, err
	}

	var exported []string
	for k, v := range values {
		if _, set := os.LookupEnv(k); set && !cfg.override {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return exported, fmt.Errorf("export %s: %w", k, err)
		}
		exported = append(exported, k)
	}
	sort.Strings(exported)
	return exported, nil
}

type openBaoConfig struct {
	addr      string
	token     string
	mountPath string
	secretKey string
	namespace string
	override  bool
	enabled   bool
}

func openBaoConfigFromEnv() openBaoConfig {
	addr := strings.TrimSpace(os.Getenv("OPENBAO_ADDR"))
	token := os.Getenv("OPENBAO_TOKEN")
	secretPath := strings.Trim(strings.TrimSpace(os.Getenv("OPENBAO_SECRET_PATH")), "/")

	if addr == "" || token == "" || secretPath == "" {
		return openBaoConfig{enabled: false}
	}

	mount := os.Getenv("OPENBAO_MOUNT")
	if mount == "" {
		mount = "secret"
	}

	return openBaoConfig{
		addr:      strings.TrimRight(addr, "/"),
		token:     token,
		mountPath: strings.Trim(strings.TrimSpace(mount), "/"),
		secretKey: secretPath,
		namespace: strings.TrimSpace(os.Getenv("OPENBAO_NAMESPACE")),
		override:  strings.EqualFold(os.Getenv("OPENBAO_OVERRIDE"), "true"),
		enabled:   true,
	}
}

func readSecrets(ctx context.Context, client *http.Client, cfg openBaoConfig) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		fmt.Sprintf("%s/v1/%s/data/%s", cfg.addr, cfg.mountPath, cfg.secretKey),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create OpenBao request: %w", err)
	}

	req.Header.Set("X-Vault-Token", cfg.token)
	if cfg.namespace != "" {
		req.Header.Set("X-Vault-Namespace", cfg.namespace)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call OpenBao: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrOpenBaoSecretNotFound
	default:
		return nil, fmt.Errorf("openbao request failed: status=%d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Data map[string]json.RawMessage `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode OpenBao response: %w", err)
	}

	out := make(map[string]string, len(payload.Data.Data))
	for k, raw := range payload.Data.Data {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			out[k] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			out[k] = n.String()
		}
		// other shapes are skipped rather than failing the whole bootstrap
	}
	return out, nil
}
