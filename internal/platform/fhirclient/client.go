// Package fhirclient is a small FHIR R4 client for the Medplum backend,
// authenticated with OAuth2 client credentials.
package fhirclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/hipaa"
)

const fhirJSON = "application/fhir+json"

var (
	ErrPatientNotFound = errors.New("fhirclient: patient not found")
	ErrNoCoverage      = errors.New("fhirclient: no coverage on file")
	ErrNotFound        = errors.New("fhirclient: resource not found")
)

// AppointmentOpenStatuses are the statuses that hold a slot.
var AppointmentOpenStatuses = []string{"booked", "pending", "proposed"}

// Config configures the client. With an empty ClientID requests go out
// unauthenticated, which is only useful against a local test server.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
	MaxRetries   int
}

// Client talks to a FHIR R4 server.
type Client struct {
	baseURL    string
	http       *http.Client
	redactor   *hipaa.Redactor
	logger     zerolog.Logger
	maxRetries int
	backoff    func(attempt int) time.Duration
}

// New builds a Client. The OAuth2 token is fetched lazily and refreshed by
// the transport when it expires.
func New(ctx context.Context, cfg Config, redactor *hipaa.Redactor, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.ClientID != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		httpClient = cc.Client(ctx)
		httpClient.Timeout = timeout
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		http:       httpClient,
		redactor:   redactor,
		logger:     logger.With().Str("component", "fhirclient").Logger(),
		maxRetries: retries,
		backoff:    func(attempt int) time.Duration { return time.Duration(1<<attempt) * time.Second },
	}
}

// GetPatient reads Patient/{id}.
func (c *Client) GetPatient(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	err := c.do(ctx, http.MethodGet, "Patient/"+url.PathEscape(id), nil, nil, &p)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SearchCoverage returns the patient's coverages. ErrNoCoverage when none.
func (c *Client) SearchCoverage(ctx context.Context, patientID string) ([]Coverage, error) {
	var b Bundle[Coverage]
	q := url.Values{"beneficiary": {"Patient/" + patientID}}
	if err := c.do(ctx, http.MethodGet, "Coverage", q, nil, &b); err != nil {
		return nil, err
	}
	if len(b.Entry) == 0 {
		return nil, ErrNoCoverage
	}
	return b.Resources(), nil
}

// SearchAllergies returns the patient's AllergyIntolerance resources.
func (c *Client) SearchAllergies(ctx context.Context, patientID string) ([]AllergyIntolerance, error) {
	var b Bundle[AllergyIntolerance]
	q := url.Values{"patient": {patientID}}
	if err := c.do(ctx, http.MethodGet, "AllergyIntolerance", q, nil, &b); err != nil {
		return nil, err
	}
	return b.Resources(), nil
}

// ObservationQuery narrows SearchObservations. Empty fields are omitted.
type ObservationQuery struct {
	PatientID string
	CodeText  string
	Category  string
	Since     time.Time
	Count     int
}

// SearchObservations returns observations newest first.
func (c *Client) SearchObservations(ctx context.Context, oq ObservationQuery) ([]Observation, error) {
	q := url.Values{
		"patient": {oq.PatientID},
		"_sort":   {"-date"},
	}
	if oq.CodeText != "" {
		q.Set("code:text", oq.CodeText)
	}
	if oq.Category != "" {
		q.Set("category", oq.Category)
	}
	if !oq.Since.IsZero() {
		q.Set("date", "ge"+oq.Since.Format("2006-01-02"))
	}
	if oq.Count > 0 {
		q.Set("_count", strconv.Itoa(oq.Count))
	}
	var b Bundle[Observation]
	if err := c.do(ctx, http.MethodGet, "Observation", q, nil, &b); err != nil {
		return nil, err
	}
	return b.Resources(), nil
}

// CreateMedicationRequest posts mr and returns the server's copy. Status
// defaults to draft and intent to order.
func (c *Client) CreateMedicationRequest(ctx context.Context, mr *MedicationRequest) (*MedicationRequest, error) {
	mr.ResourceType = "MedicationRequest"
	if mr.Status == "" {
		mr.Status = "draft"
	}
	if mr.Intent == "" {
		mr.Intent = "order"
	}
	if mr.AuthoredOn == "" {
		mr.AuthoredOn = time.Now().UTC().Format(time.RFC3339)
	}
	var out MedicationRequest
	if err := c.do(ctx, http.MethodPost, "MedicationRequest", nil, mr, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PatientQuery narrows SearchPatients. Empty fields are omitted.
type PatientQuery struct {
	Family     string
	Given      string
	BirthDate  string
	Identifier string
}

// SearchPatients returns patients matching every non-empty field.
func (c *Client) SearchPatients(ctx context.Context, pq PatientQuery) ([]Patient, error) {
	q := url.Values{}
	if pq.Family != "" {
		q.Set("family", pq.Family)
	}
	if pq.Given != "" {
		q.Set("given", pq.Given)
	}
	if pq.BirthDate != "" {
		q.Set("birthdate", pq.BirthDate)
	}
	if pq.Identifier != "" {
		q.Set("identifier", pq.Identifier)
	}
	if len(q) == 0 {
		return nil, fmt.Errorf("fhirclient: patient search needs at least one parameter")
	}
	var b Bundle[Patient]
	if err := c.do(ctx, http.MethodGet, "Patient", q, nil, &b); err != nil {
		return nil, err
	}
	return b.Resources(), nil
}

// AppointmentQuery selects appointments overlapping [Start, End).
type AppointmentQuery struct {
	Start        time.Time
	End          time.Time
	Statuses     []string
	Practitioner string
	Patient      string
}

// SearchAppointments returns appointments in the window.
func (c *Client) SearchAppointments(ctx context.Context, aq AppointmentQuery) ([]Appointment, error) {
	q := url.Values{}
	if !aq.Start.IsZero() {
		q.Add("date", "ge"+aq.Start.Format(time.RFC3339))
	}
	if !aq.End.IsZero() {
		q.Add("date", "lt"+aq.End.Format(time.RFC3339))
	}
	if len(aq.Statuses) > 0 {
		q.Set("status", strings.Join(aq.Statuses, ","))
	}
	if aq.Practitioner != "" {
		q.Set("practitioner", "Practitioner/"+aq.Practitioner)
	}
	if aq.Patient != "" {
		q.Set("patient", "Patient/"+aq.Patient)
	}
	var b Bundle[Appointment]
	if err := c.do(ctx, http.MethodGet, "Appointment", q, nil, &b); err != nil {
		return nil, err
	}
	return b.Resources(), nil
}

// GetAppointment reads Appointment/{id}.
func (c *Client) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	var a Appointment
	if err := c.do(ctx, http.MethodGet, "Appointment/"+url.PathEscape(id), nil, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAppointment posts a and returns the server's copy.
func (c *Client) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	a.ResourceType = "Appointment"
	return create(ctx, c, "Appointment", a)
}

// UpdateAppointment replaces Appointment/{a.ID}.
func (c *Client) UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	if a.ID == "" {
		return nil, fmt.Errorf("fhirclient: update appointment: id is required")
	}
	a.ResourceType = "Appointment"
	var out Appointment
	if err := c.do(ctx, http.MethodPut, "Appointment/"+url.PathEscape(a.ID), nil, a, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCommunication posts cm. Sent defaults to now.
func (c *Client) CreateCommunication(ctx context.Context, cm *Communication) (*Communication, error) {
	cm.ResourceType = "Communication"
	if cm.Sent == "" {
		cm.Sent = time.Now().UTC().Format(time.RFC3339)
	}
	return create(ctx, c, "Communication", cm)
}

// CreateTask posts t.
func (c *Client) CreateTask(ctx context.Context, t *Task) (*Task, error) {
	t.ResourceType = "Task"
	return create(ctx, c, "Task", t)
}

func create[T any](ctx context.Context, c *Client, resource string, in *T) (*T, error) {
	var out T
	if err := c.do(ctx, http.MethodPost, resource, nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one FHIR interaction. GETs are retried on transport errors
// and 5xx responses; writes are not.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + "/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("fhirclient: encode %s: %w", path, err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff(attempt - 1)):
			}
		}

		retry, err := c.once(ctx, method, u, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
		c.logger.Warn().Err(err).Str("resource", resourceType(path)).Int("attempt", attempt+1).Msg("fhir request failed")
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, u, path string, payload []byte, out any) (retry bool, err error) {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return false, fmt.Errorf("fhirclient: build request: %w", err)
	}
	req.Header.Set("Accept", fhirJSON)
	if payload != nil {
		req.Header.Set("Content-Type", fhirJSON)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("fhirclient: %s %s: %w", method, resourceType(path), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return true, fmt.Errorf("fhirclient: read %s: %w", resourceType(path), err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, ErrNotFound
	case resp.StatusCode >= 500:
		return true, c.statusError(method, path, resp.StatusCode, raw)
	case resp.StatusCode >= 300:
		return false, c.statusError(method, path, resp.StatusCode, raw)
	}

	if out == nil || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("fhirclient: decode %s: %w", resourceType(path), err)
	}
	return false, nil
}

// statusError summarizes an error response. OperationOutcome diagnostics can
// echo patient data, so they are redacted.
func (c *Client) statusError(method, path string, status int, raw []byte) error {
	detail := ""
	var oo OperationOutcome
	if json.Unmarshal(raw, &oo) == nil && oo.ResourceType == "OperationOutcome" {
		detail = oo.summary()
	}
	if detail != "" && c.redactor != nil {
		detail = c.redactor.RedactString(detail)
	}
	if detail == "" {
		return fmt.Errorf("fhirclient: %s %s: status %d", method, resourceType(path), status)
	}
	return fmt.Errorf("fhirclient: %s %s: status %d: %s", method, resourceType(path), status, detail)
}

// resourceType strips the id so logs never carry patient identifiers.
func resourceType(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
