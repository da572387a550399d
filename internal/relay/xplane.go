package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// XPlaneClient reads datarefs from the X-Plane Web API.
type XPlaneClient struct {
	baseURL string
	client  *http.Client
	log     *logrus.Entry
}

// NewXPlaneClient targets the Web API at baseURL, e.g. http://localhost:8086.
func NewXPlaneClient(baseURL string, timeout time.Duration) *XPlaneClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &XPlaneClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     logrus.WithField("component", "xplane"),
	}
}

// Status checks that the simulator answers.
func (c *XPlaneClient) Status(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("x-plane status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("x-plane status: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Dataref reads one dataref. A null value is returned as nil.
func (c *XPlaneClient) Dataref(ctx context.Context, name string) (*float64, error) {
	u := c.baseURL + "/api/v1/dataref?name=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("read %s: unexpected status %d", name, resp.StatusCode)
	}
	var body struct {
		Value *float64 `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return body.Value, nil
}

// Sample reads every tracked dataref. Datarefs that cannot be read are left
// out and default to zero; only an unreachable simulator is an error.
func (c *XPlaneClient) Sample(ctx context.Context) (telemetry.SimSample, error) {
	if err := c.Status(ctx); err != nil {
		return telemetry.SimSample{}, err
	}

	var mu sync.Mutex
	values := make(map[string]*float64, len(telemetry.Datarefs))
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range telemetry.Datarefs {
		g.Go(func() error {
			v, err := c.Dataref(gctx, name)
			if err != nil {
				c.log.WithError(err).WithField("dataref", name).Debug("Dataref unavailable")
				return nil
			}
			mu.Lock()
			values[name] = v
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return telemetry.SampleFromDatarefs(values), nil
}
