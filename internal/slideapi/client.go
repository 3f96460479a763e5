// Package slideapi talks to Slide curtain robots, either directly over the
// local RPC API or through the Slide cloud.
//
// Local devices are addressed by IP and optionally protected by their device
// code. Cloud devices are addressed by id and need a bearer token obtained
// from a CredentialProvider, typically a Login.
package slideapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.goslide.io/api"
	DefaultTimeout = 6 * time.Second

	userAgent = "slidebridge"
)

// CredentialProvider hands out bearer tokens for the cloud API.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

type Client struct {
	httpClient  *http.Client
	baseURL     string
	timeout     time.Duration
	credentials CredentialProvider
	limiter     *rate.Limiter
}

// NewClient creates a client. credentials may be nil when only local devices
// are used. rateLimit caps cloud requests per second, zero disables the cap.
func NewClient(baseURL string, timeout time.Duration, credentials CredentialProvider, rateLimit float64) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	limit := rate.Inf
	burst := 1
	if rateLimit > 0 {
		limit = rate.Limit(rateLimit)
		burst = int(rateLimit)
		if burst < 1 {
			burst = 1
		}
	}

	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(baseURL, "/"),
		timeout:     timeout,
		credentials: credentials,
		limiter:     rate.NewLimiter(limit, burst),
	}
}

func (c *Client) GetInfo(ctx context.Context, d Device) (Status, error) {
	endpoint := "rpc/Slide.GetInfo"
	if !d.Local() {
		endpoint = fmt.Sprintf("slide/%s/info", d.ID)
	}

	var resp infoResponse
	if err := c.request(ctx, &d, http.MethodGet, endpoint, nil, &resp); err != nil {
		return Status{}, err
	}

	status, ok := resp.status()
	if !ok {
		return Status{}, transportError(http.MethodGet, endpoint, errors.New("response carries no position"))
	}

	logrus.Tracef("%s: info pos=%.3f calib=%s", d.Name, status.Position, status.CalibrationTime)
	return status, nil
}

func (c *Client) SetPosition(ctx context.Context, d Device, position float64) error {
	endpoint := "rpc/Slide.SetPos"
	if !d.Local() {
		endpoint = fmt.Sprintf("slide/%s/position", d.ID)
	}

	return c.request(ctx, &d, http.MethodPost, endpoint, positionRequest{Pos: position}, nil)
}

func (c *Client) Stop(ctx context.Context, d Device) error {
	endpoint := "rpc/Slide.Stop"
	if !d.Local() {
		endpoint = fmt.Sprintf("slide/%s/stop", d.ID)
	}

	return c.request(ctx, &d, http.MethodPost, endpoint, struct{}{}, nil)
}

type overviewResponse struct {
	Slides []struct {
		ID         int64  `json:"id"`
		DeviceName string `json:"device_name"`
		DeviceID   string `json:"device_id"`
	} `json:"slides"`
}

// Overview lists the slides registered to the cloud account.
func (c *Client) Overview(ctx context.Context) ([]Device, error) {
	var resp overviewResponse
	if err := c.request(ctx, nil, http.MethodGet, "slides/overview", nil, &resp); err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(resp.Slides))
	for _, s := range resp.Slides {
		devices = append(devices, Device{
			Name:     s.DeviceName,
			ID:       strconv.FormatInt(s.ID, 10),
			DeviceID: s.DeviceID,
		})
	}

	return devices, nil
}

func (c *Client) request(ctx context.Context, d *Device, method, endpoint string, body, out interface{}) error {
	local := d != nil && d.Local()

	baseURL := c.baseURL
	if local {
		baseURL = "http://" + d.IP
	}
	url := baseURL + "/" + strings.TrimLeft(endpoint, "/")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var token string
	if !local {
		if c.credentials == nil {
			return errors.Errorf("%s %s: no cloud credentials configured", method, url)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return transportError(method, url, err)
		}

		var err error
		if token, err = c.credentials.Token(ctx); err != nil {
			return errors.Wrap(err, "cloud login failed")
		}
	}

	err := do(ctx, c.httpClient, method, url, body, out, func(req *http.Request) {
		switch {
		case token != "":
			req.Header.Set("Authorization", "Bearer "+token)
		case d != nil && d.Code != "":
			req.SetBasicAuth("user", d.Code)
		}
	})

	var terr *TransportError
	if !local && errors.As(err, &terr) && (terr.StatusCode == http.StatusUnauthorized || terr.StatusCode == http.StatusForbidden) {
		logrus.Debug("cloud token rejected, dropping it")
		c.credentials.Invalidate()
	}

	return err
}

func do(ctx context.Context, client *http.Client, method, url string, body, out interface{}, authorize func(*http.Request)) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "%s %s: encode request", method, url)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errors.Wrapf(err, "%s %s: build request", method, url)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorize != nil {
		authorize(req)
	}

	log := logrus.WithFields(logrus.Fields{"method": method, "url": url})

	resp, err := client.Do(req)
	if err != nil {
		log.WithError(err).Debug("request failed")
		return transportError(method, url, err)
	}
	defer resp.Body.Close()

	log.WithField("status", resp.StatusCode).Debug("response received")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(method, url, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return transportError(method, url, errors.Wrap(err, "decode response"))
	}

	return nil
}

// Gateway binds a Device to the client, for consumers that handle a single device.
type Gateway struct {
	client *Client
	device Device
}

func (c *Client) Gateway(d Device) *Gateway {
	return &Gateway{client: c, device: d}
}

func (g *Gateway) Device() Device {
	return g.device
}

func (g *Gateway) FetchStatus(ctx context.Context) (Status, error) {
	return g.client.GetInfo(ctx, g.device)
}

func (g *Gateway) CommandPosition(ctx context.Context, position float64) error {
	return g.client.SetPosition(ctx, g.device, position)
}

func (g *Gateway) Stop(ctx context.Context) error {
	return g.client.Stop(ctx, g.device)
}
