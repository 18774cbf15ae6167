// Package patients is the REST client for the clinic backend's patient
// resource. It implements intake.Backend and intake.RecordFetcher.
package patients

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

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/clinic-intake/internal/intake"
)

var patientsTracer = otel.Tracer("clinic.internal.patients")

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Client talks to the backend's /patients endpoints.
type Client struct {
	baseURL       string
	serviceSecret []byte
	issuer        string
	httpClient    *http.Client
	now           func() time.Time
}

// Config holds configuration for the patients client
type Config struct {
	BaseURL string // e.g. "https://api.clinic.example/v1"
	// ServiceSecret signs a short-lived bearer token per request when set.
	ServiceSecret string
	Issuer        string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// New creates a patients client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("patients: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("patients: invalid BaseURL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "clinic-intake"
	}

	return &Client{
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		serviceSecret: []byte(cfg.ServiceSecret),
		issuer:        issuer,
		httpClient:    httpClient,
		now:           time.Now,
	}, nil
}

// CreateRecord registers a new patient.
// POST /patients
func (c *Client) CreateRecord(ctx context.Context, p intake.Payload) (*intake.Record, error) {
	return c.send(ctx, http.MethodPost, "/patients", p)
}

// UpdateRecord replaces an existing patient.
// PUT /patients/{id}
func (c *Client) UpdateRecord(ctx context.Context, id string, p intake.Payload) (*intake.Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("patients: record id is required for update")
	}
	return c.send(ctx, http.MethodPut, "/patients/"+url.PathEscape(id), p)
}

// GetRecord loads a patient for edit mode.
// GET /patients/{id}
func (c *Client) GetRecord(ctx context.Context, id string) (*intake.Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("patients: record id is required")
	}
	return c.send(ctx, http.MethodGet, "/patients/"+url.PathEscape(id), nil)
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*intake.Record, error) {
	ctx, span := patientsTracer.Start(ctx, "patients."+strings.ToLower(method))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", routeTemplate(path)),
	)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("patients: failed to marshal payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("patients: failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if len(c.serviceSecret) > 0 {
		token, err := c.serviceToken()
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("patients: failed to sign service token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("patients: request failed: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := decodeError(resp.StatusCode, raw)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		return nil, apiErr
	}

	var rec intake.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("patients: failed to decode response: %w", err)
	}
	return &rec, nil
}

func (c *Client) serviceToken() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   "intake-wizard",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.serviceSecret)
}

// routeTemplate strips ids so span attributes stay low-cardinality.
func routeTemplate(path string) string {
	if strings.HasPrefix(path, "/patients/") {
		return "/patients/{id}"
	}
	return path
}
