package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/OtotaO/hipaa-voice-agent/internal/domain/intent"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/hipaa"
)

// RouteInput defines parameters for the route_intent tool.
type RouteInput struct {
	Text string `json:"text" jsonschema:"transcribed clinician utterance"`
}

// RouteOutput mirrors intent.Result with entities flattened to an object.
type RouteOutput struct {
	Intent               string          `json:"intent"`
	Confidence           float64         `json:"confidence"`
	Entities             map[string]any  `json:"entities"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
	SafetyFlags          map[string]bool `json:"safety_flags"`
}

// RedactInput defines parameters for the redact_phi tool. Exactly one of
// Text or Data is expected; Data wins when both are set.
type RedactInput struct {
	Text string         `json:"text,omitempty" jsonschema:"free text to redact"`
	Data map[string]any `json:"data,omitempty" jsonschema:"JSON object to redact field by field"`
}

type RedactOutput struct {
	Text        string         `json:"text,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	PHIDetected bool           `json:"phi_detected"`
}

type DetectInput struct {
	Text string `json:"text" jsonschema:"text to scan"`
}

type DetectOutput struct {
	Detections []hipaa.Detection `json:"detections"`
	Count      int               `json:"count"`
}

func (s *Server) handleRoute(ctx context.Context, _ *mcpsdk.CallToolRequest, in RouteInput) (*mcpsdk.CallToolResult, RouteOutput, error) {
	res := s.router.Route(in.Text)
	out := RouteOutput{
		Intent:               string(res.Intent),
		Confidence:           res.Confidence,
		Entities:             intent.EntityFields(res.Entities),
		RequiresConfirmation: res.RequiresConfirmation,
		SafetyFlags:          res.SafetyFlags,
	}
	s.record(ctx, hipaa.EventIntentRouted, "execute", map[string]any{
		"utterance":  in.Text,
		"intent":     out.Intent,
		"confidence": out.Confidence,
	})
	return nil, out, nil
}

func (s *Server) handleRedact(_ context.Context, _ *mcpsdk.CallToolRequest, in RedactInput) (*mcpsdk.CallToolResult, RedactOutput, error) {
	if in.Data != nil {
		redacted := s.redactor.RedactMap(in.Data)
		return nil, RedactOutput{Data: redacted, PHIDetected: changed(in.Data, redacted)}, nil
	}
	if strings.TrimSpace(in.Text) == "" {
		return &mcpsdk.CallToolResult{IsError: true}, RedactOutput{}, nil
	}
	out := RedactOutput{
		Text:        s.redactor.RedactString(in.Text),
		PHIDetected: s.redactor.ContainsPHI(in.Text),
	}
	return nil, out, nil
}

func (s *Server) handleDetect(ctx context.Context, _ *mcpsdk.CallToolRequest, in DetectInput) (*mcpsdk.CallToolResult, DetectOutput, error) {
	found := s.redactor.DetectPHI(in.Text)
	if found == nil {
		found = []hipaa.Detection{}
	}
	s.record(ctx, hipaa.EventPHIAccess, "read", map[string]any{
		"tool":       "detect_phi",
		"detections": len(found),
	})
	return nil, DetectOutput{Detections: found, Count: len(found)}, nil
}

func (s *Server) record(ctx context.Context, eventType, action string, details map[string]any) {
	if s.audit == nil {
		return
	}
	ev := hipaa.NewEvent(eventType, s.actorID, action)
	ev.Details = details
	if err := s.audit.LogEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to audit mcp tool call")
	}
}

// changed reports whether redaction altered the object. encoding/json sorts
// map keys, so equal objects marshal identically.
func changed(before, after map[string]any) bool {
	a, errA := json.Marshal(before)
	b, errB := json.Marshal(after)
	if errA != nil || errB != nil {
		return true
	}
	return !bytes.Equal(a, b)
}
