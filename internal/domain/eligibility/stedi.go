package eligibility

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Subscriber identifies the member whose coverage is checked.
type Subscriber struct {
	MemberID    string `json:"memberId"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DateOfBirth string `json:"dateOfBirth"`
}

// Inquiry is one 270-style eligibility request.
type Inquiry struct {
	PayerID     string
	ProviderNPI string
	Subscriber  Subscriber
}

// Response is the parsed clearinghouse answer.
type Response struct {
	ControlNumber string
	Status        string
	PlanName      *string
	Copay         *string
	Deductible    *string
	OOPMax        *string
	Raw           map[string]any
}

// StediConfig configures StediClient.
type StediConfig struct {
	BaseURL      string
	APIKey       string
	PracticeName string
	RPS          float64
	Timeout      time.Duration
}

// StediClient posts real-time eligibility checks to the Stedi
// clearinghouse. Calls are rate-limited across all goroutines.
type StediClient struct {
	baseURL      string
	apiKey       string
	practiceName string
	http         *http.Client
	limiter      *rate.Limiter
	logger       zerolog.Logger
}

func NewStediClient(cfg StediConfig, logger zerolog.Logger) *StediClient {
	rps := cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StediClient{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		practiceName: cfg.PracticeName,
		http:         &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		logger:       logger.With().Str("component", "stedi").Logger(),
	}
}

type stediRequest struct {
	ControlNumber           string        `json:"controlNumber"`
	TradingPartnerServiceID string        `json:"tradingPartnerServiceId"`
	Provider                stediProvider `json:"provider"`
	Subscriber              Subscriber    `json:"subscriber"`
	Encounter               struct {
		ServiceTypeCodes []string `json:"serviceTypeCodes"`
	} `json:"encounter"`
}

type stediProvider struct {
	OrganizationName string `json:"organizationName"`
	NPI              string `json:"npi"`
}

// CheckEligibility sends inq. A non-200 answer yields an unknown status
// rather than an error; transport failures wrap ErrEligibilityUnavailable.
func (s *StediClient) CheckEligibility(ctx context.Context, inq Inquiry) (*Response, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEligibilityUnavailable, err)
	}

	req := stediRequest{
		ControlNumber:           controlNumber(),
		TradingPartnerServiceID: inq.PayerID,
		Provider:                stediProvider{OrganizationName: s.practiceName, NPI: inq.ProviderNPI},
		Subscriber:              inq.Subscriber,
	}
	req.Encounter.ServiceTypeCodes = []string{"30"}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("eligibility: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("eligibility: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Key "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEligibilityUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrEligibilityUnavailable, err)
	}

	s.logger.Info().
		Str("control_number", req.ControlNumber).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("eligibility inquiry")

	if resp.StatusCode != http.StatusOK {
		return &Response{ControlNumber: req.ControlNumber, Status: StatusUnknown}, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn().Err(err).Str("control_number", req.ControlNumber).Msg("unparseable eligibility response")
		return &Response{ControlNumber: req.ControlNumber, Status: StatusUnknown}, nil
	}
	out := parseResponse(payload)
	out.ControlNumber = req.ControlNumber
	return out, nil
}

// controlNumber returns a nine-digit interchange control number.
func controlNumber() string {
	id := uuid.New()
	n := binary.BigEndian.Uint32(id[:4]) % 1_000_000_000
	return fmt.Sprintf("%09d", n)
}

func parseResponse(payload map[string]any) *Response {
	out := &Response{Status: StatusInactive, Raw: payload}
	if eligible, _ := payload["eligible"].(string); strings.EqualFold(eligible, "Y") {
		out.Status = StatusActive
	} else if b, ok := payload["eligible"].(bool); ok && b {
		out.Status = StatusActive
	}
	if plan, ok := payload["planInformation"].(map[string]any); ok {
		if name, ok := plan["planName"].(string); ok && name != "" {
			out.PlanName = &name
		}
	}

	benefits, _ := payload["benefits"].([]any)
	for _, item := range benefits {
		b, ok := item.(map[string]any)
		if !ok {
			continue
		}
		amount := benefitAmount(b)
		if amount == nil {
			continue
		}
		switch b["benefitType"] {
		case "copay":
			if out.Copay == nil {
				out.Copay = amount
			}
		case "deductible":
			if out.Deductible == nil {
				out.Deductible = amount
			}
		case "out_of_pocket_max":
			if out.OOPMax == nil {
				out.OOPMax = amount
			}
		}
	}
	return out
}

// benefitAmount formats the in-network amount as "$N" or, failing that, the
// in-network percentage as "N%".
func benefitAmount(b map[string]any) *string {
	if v, ok := numberString(b["inNetworkAmount"]); ok {
		s := "$" + v
		return &s
	}
	if v, ok := numberString(b["inNetworkPercent"]); ok {
		s := v + "%"
		return &s
	}
	return nil
}

func numberString(v any) (string, bool) {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case string:
		if t == "" {
			return "", false
		}
		return t, true
	}
	return "", false
}
