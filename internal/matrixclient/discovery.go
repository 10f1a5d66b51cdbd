package matrixclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// wellKnownResponse is the body of GET /.well-known/matrix/server.
type wellKnownResponse struct {
	Server string `json:"m.server"`
}

// ServerDiscovery resolves the Matrix server name (the domain used in
// ghost MXIDs) for a configured homeserver URL.
type ServerDiscovery struct {
	log        zerolog.Logger
	httpClient *http.Client
}

// NewServerDiscovery creates a ServerDiscovery.
func NewServerDiscovery(log zerolog.Logger) *ServerDiscovery {
	return &ServerDiscovery{
		log:        log.With().Str("component", "server_discovery").Logger(),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// DiscoverServerName resolves the server name to embed in Matrix IDs:
// explicit configuration wins, then .well-known discovery, then the
// homeserver URL's own hostname.
func (sd *ServerDiscovery) DiscoverServerName(ctx context.Context, serverURL, configuredServerName string) (string, error) {
	if configuredServerName != "" {
		return configuredServerName, nil
	}

	parsed, err := url.Parse(serverURL)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse server URL")
	}
	hostname := parsed.Hostname()
	if hostname == "" {
		return "", errors.New("could not extract hostname from server URL")
	}

	if name, err := sd.tryWellKnown(ctx, hostname); err == nil && name != "" {
		return name, nil
	} else if err != nil {
		sd.log.Debug().Str("hostname", hostname).Err(err).Msg("well-known discovery failed, using hostname fallback")
	}

	return hostname, nil
}

func (sd *ServerDiscovery) tryWellKnown(ctx context.Context, hostname string) (string, error) {
	wellKnownURL := fmt.Sprintf("https://%s/.well-known/matrix/server", hostname)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := sd.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to fetch .well-known")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf(".well-known returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<10))
	if err != nil {
		return "", errors.Wrap(err, "failed to read .well-known response")
	}

	var wk wellKnownResponse
	if err := json.Unmarshal(body, &wk); err != nil {
		return "", errors.Wrap(err, "failed to parse .well-known JSON")
	}
	if wk.Server == "" {
		return "", errors.New(".well-known response missing m.server")
	}

	// The server name for Matrix IDs is the hostname we queried, not the
	// (possibly different) homeserver API location in m.server.
	return hostname, nil
}

// NormalizeServerName strips a protocol prefix and port from a server name.
func NormalizeServerName(serverName string) string {
	serverName = strings.TrimPrefix(serverName, "https://")
	serverName = strings.TrimPrefix(serverName, "http://")
	serverName = strings.TrimSuffix(serverName, "/")
	if idx := strings.Index(serverName, ":"); idx != -1 {
		serverName = serverName[:idx]
	}
	return serverName
}
