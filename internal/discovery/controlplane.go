package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const discoveryPath = "/api/discovery/services"

// descriptor is a service entry as served by the control plane.
type descriptor struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Host           string         `json:"host"`
	Port           int            `json:"port"`
	Status         string         `json:"status"`
	Version        string         `json:"version"`
	HealthEndpoint string         `json:"healthEndpoint"`
	Metadata       map[string]any `json:"metadata"`
}

// controlPlaneClient fetches the service list from the system service.
type controlPlaneClient struct {
	baseURL string
	client  *http.Client
}

func newControlPlaneClient(baseURL string) *controlPlaneClient {
	return &controlPlaneClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch retrieves and decodes the descriptor list. The control plane
// answers in one of three shapes: a raw array, {services: [...]}, or
// {data: {services: [...]}}.
func (c *controlPlaneClient) Fetch(ctx context.Context) ([]descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+discoveryPath, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("control plane returned status %d", resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("control plane response: %w", err)
	}
	return parseDescriptors(raw)
}

func parseDescriptors(raw json.RawMessage) ([]descriptor, error) {
	var list []descriptor
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Services []descriptor `json:"services"`
		Data     struct {
			Services []descriptor `json:"services"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("unrecognized control plane response shape: %w", err)
	}
	if wrapped.Services != nil {
		return wrapped.Services, nil
	}
	if wrapped.Data.Services != nil {
		return wrapped.Data.Services, nil
	}
	return nil, fmt.Errorf("control plane response carries no services")
}

// materialize converts a descriptor into a dynamic instance. The port
// is resolved from the descriptor port, metadata, the health endpoint
// URL, then the port registry; descriptors with no resolvable port are
// rejected.
func materialize(d descriptor, portRegistry map[string]int) (*Instance, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("descriptor without name")
	}

	port := resolvePort(d, portRegistry)
	if port == 0 {
		return nil, fmt.Errorf("service %q: no resolvable port", d.Name)
	}

	host := d.Host
	if host == "" {
		host = "localhost"
	}

	id := d.ID
	if id == "" {
		id = fmt.Sprintf("%s-%s-%d", d.Name, host, port)
	}

	healthEndpoint := "/health"
	if p := healthEndpointPath(d.HealthEndpoint); p != "" {
		healthEndpoint = p
	}

	meta := make(map[string]string, len(d.Metadata))
	for k, v := range d.Metadata {
		meta[k] = fmt.Sprintf("%v", v)
	}

	return &Instance{
		ID:             id,
		Service:        d.Name,
		Host:           host,
		Port:           port,
		Protocol:       "http",
		HealthEndpoint: healthEndpoint,
		Version:        d.Version,
		Metadata:       meta,
		RegisteredAt:   time.Now(),
		Healthy:        d.Status != "unhealthy",
		Discovered:     true,
	}, nil
}

func resolvePort(d descriptor, portRegistry map[string]int) int {
	if d.Port > 0 {
		return d.Port
	}
	if v, ok := d.Metadata["port"]; ok {
		switch p := v.(type) {
		case float64:
			return int(p)
		case string:
			if n, err := strconv.Atoi(p); err == nil {
				return n
			}
		}
	}
	if p := portFromURL(d.HealthEndpoint); p > 0 {
		return p
	}
	return portRegistry[d.Name]
}

// portFromURL extracts the port from a health endpoint given as a full
// URL; bare paths yield 0.
func portFromURL(endpoint string) int {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return 0
	}
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	return 0
}

// healthEndpointPath normalizes a health endpoint to a bare path.
func healthEndpointPath(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Path
	}
	return endpoint
}
