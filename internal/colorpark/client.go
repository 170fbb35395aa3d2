// Package colorpark talks to the colorpark print API. Every call is a POST
// to one endpoint with an "s" field naming the remote method; a submission
// is two calls, Works.save to upload the artwork and Order.create to queue
// it on the target machine.
package colorpark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/config"
)

var (
	// ErrVendorRejected is returned when the API answers with a non-success
	// code.
	ErrVendorRejected = errors.New("vendor rejected request")
	// ErrNoWorksID is returned when Works.save succeeds without returning
	// an artwork id.
	ErrNoWorksID = errors.New("vendor returned no works id")
	// ErrNoOrderID is returned when Order.create succeeds without returning
	// an order id.
	ErrNoOrderID = errors.New("vendor returned no order id")
)

// Artwork is the decoded job payload: the rendered image plus its placement
// on the print surface. Corner and center coordinates are derived, not
// carried.
type Artwork struct {
	ImageURL string  `json:"image_url"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Top      float64 `json:"top"`
	Left     float64 `json:"left"`
	Zoom     float64 `json:"zoom"`
	Rotate   float64 `json:"rotate"`
}

// Client is the colorpark API client. It implements the core submitter
// boundary.
type Client struct {
	baseURL string
	token   string
	goodsID string
	userID  int64

	http   *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// New builds a client from the vendor section of the config and logs a
// warning when the configured token is already expired or close to it.
func New(cfg config.VendorConfig, logger *zap.Logger) *Client {
	c := &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		goodsID: cfg.GoodsID,
		userID:  cfg.UserID,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger.Named("colorpark"),
		now:     time.Now,
	}
	c.checkToken()
	return c
}

// checkToken peeks at the token's exp claim without verifying the
// signature; we only hold the token, the vendor verifies it.
func (c *Client) checkToken() {
	if c.token == "" {
		c.logger.Warn("No vendor token configured, submissions will be rejected")
		return
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, claims); err != nil {
		c.logger.Warn("Vendor token is not a parseable JWT", zap.Error(err))
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}

	remaining := exp.Time.Sub(c.now())
	switch {
	case remaining <= 0:
		c.logger.Error("Vendor token is expired", zap.Time("expired_at", exp.Time))
	case remaining < 7*24*time.Hour:
		c.logger.Warn("Vendor token expires soon",
			zap.Time("expires_at", exp.Time),
			zap.Duration("remaining", remaining))
	}
}

// Submit uploads the artwork and creates the print order, returning the
// vendor's order id.
func (c *Client) Submit(ctx context.Context, deviceID string, payload []byte) (string, error) {
	art, err := decodeArtwork(payload)
	if err != nil {
		return "", fmt.Errorf("decoding artwork: %w", err)
	}

	worksID, err := c.saveWorks(ctx, deviceID, art)
	if err != nil {
		return "", fmt.Errorf("saving works: %w", err)
	}

	orderID, err := c.createOrder(ctx, deviceID, worksID)
	if err != nil {
		return "", fmt.Errorf("creating order: %w", err)
	}

	c.logger.Debug("Submission accepted",
		zap.String("device_id", deviceID),
		zap.String("works_id", worksID),
		zap.String("vendor_order_id", orderID))
	return orderID, nil
}

func decodeArtwork(payload []byte) (Artwork, error) {
	var art Artwork
	if err := json.Unmarshal(payload, &art); err != nil {
		return Artwork{}, err
	}
	if art.ImageURL == "" {
		return Artwork{}, errors.New("artwork image_url is required")
	}
	if art.Width <= 0 || art.Height <= 0 {
		return Artwork{}, errors.New("artwork dimensions are required")
	}
	if art.Zoom == 0 {
		art.Zoom = 1
	}
	return art, nil
}

func (c *Client) saveWorks(ctx context.Context, deviceID string, art Artwork) (string, error) {
	req := worksSaveRequest{
		S:          "Works.save",
		Components: []workComponent{buildComponent(art)},
		GoodsID:    c.goodsID,
		Platform:   4,
		MachineID:  deviceID,
		Terminal:   2,
	}

	data, err := c.post(ctx, req)
	if err != nil {
		return "", err
	}

	var out struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("parsing works response: %w", err)
	}
	if out.ID.String() == "" {
		return "", ErrNoWorksID
	}
	return out.ID.String(), nil
}

func (c *Client) createOrder(ctx context.Context, deviceID, worksID string) (string, error) {
	req := orderCreateRequest{
		S:          "Order.create",
		Type:       2,
		MachineID:  deviceID,
		GoodsID:    c.goodsID,
		WorksID:    worksID,
		Language:   "en-us",
		Terminal:   4,
		CreateTime: c.now().Unix(),
		UserID:     c.userID,
	}

	data, err := c.post(ctx, req)
	if err != nil {
		return "", err
	}

	var out struct {
		ID      json.Number `json:"id"`
		OrderNo string      `json:"order_no"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("parsing order response: %w", err)
	}
	if out.OrderNo != "" {
		return out.OrderNo, nil
	}
	if out.ID.String() == "" {
		return "", ErrNoOrderID
	}
	return out.ID.String(), nil
}

// MachineWait fetches the vendor's own pending queue for a machine. Used
// for operator diagnostics; the shape is passed through untouched.
func (c *Client) MachineWait(ctx context.Context, deviceID string, page, perPage int) (json.RawMessage, error) {
	req := machineWaitRequest{
		S:         "Machine.wait",
		MachineID: deviceID,
		Page:      page,
		PerPage:   perPage,
	}
	return c.post(ctx, req)
}

// post sends one API call and unwraps the response envelope.
func (c *Client) post(ctx context.Context, body interface{}) (json.RawMessage, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json;charset=utf-8")
	req.Header.Set("token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling vendor: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading vendor response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vendor returned status %d", resp.StatusCode)
	}

	var envelope struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("parsing vendor envelope: %w", err)
	}
	if envelope.Code != 1 {
		return nil, fmt.Errorf("%w: code %d: %s", ErrVendorRejected, envelope.Code, envelope.Msg)
	}
	return envelope.Data, nil
}
