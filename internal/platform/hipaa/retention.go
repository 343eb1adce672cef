package hipaa

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RetentionPolicy defines how long data of a specific type should be retained.
type RetentionPolicy struct {
	ResourceType  string `json:"resource_type"`
	RetentionDays int    `json:"retention_days"`
	ArchiveAfter  int    `json:"archive_after_days,omitempty"` // days before archival
	PurgeAfter    int    `json:"purge_after_days,omitempty"`   // days before purge (0 = never)
	Description   string `json:"description"`
}

// RetentionStatus represents the lifecycle state of a resource.
type RetentionStatus struct {
	State      string    `json:"state"`      // "active", "archive_eligible", "purge_eligible"
	ExpiresAt  time.Time `json:"expires_at"` // when current state expires
	PolicyName string    `json:"policy_name"`
}

// Retention state constants.
const (
	RetentionStateActive          = "active"
	RetentionStateArchiveEligible = "archive_eligible"
	RetentionStatePurgeEligible   = "purge_eligible"
)

// Resource types with a retention policy.
const (
	ResourceAuditEvent       = "audit_event"
	ResourceEligibilityCheck = "eligibility_check"
)

// DefaultRetentionPolicies returns the policies for the tables this service
// owns. auditDays comes from AUDIT_RETENTION_DAYS and is at least six years.
func DefaultRetentionPolicies(auditDays int) []RetentionPolicy {
	return []RetentionPolicy{
		{
			ResourceType:  ResourceAuditEvent,
			RetentionDays: auditDays,
			ArchiveAfter:  1095, // 3 years
			PurgeAfter:    auditDays,
			Description:   "Voice command and PHI access audit trail; HIPAA requires at least 6 years",
		},
		{
			ResourceType:  ResourceEligibilityCheck,
			RetentionDays: 2555, // 7 years
			PurgeAfter:    2555,
			Description:   "Eligibility checks and encrypted payer responses: 7 years per CMS billing record guidance",
		},
	}
}

// Purger deletes rows of one resource type recorded before cutoff.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgerFunc adapts a function to Purger.
type PurgerFunc func(ctx context.Context, cutoff time.Time) (int64, error)

func (f PurgerFunc) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}

// PurgeResult reports one resource type's purge.
type PurgeResult struct {
	ResourceType string    `json:"resource_type"`
	Cutoff       time.Time `json:"cutoff"`
	Deleted      int64     `json:"deleted"`
	Error        string    `json:"error,omitempty"`
}

// RetentionService manages data lifecycle based on configured retention policies.
type RetentionService struct {
	mu       sync.RWMutex
	policies map[string]RetentionPolicy
	purgers  map[string]Purger
	audit    *AuditLogger
	logger   zerolog.Logger
	cron     *cron.Cron
	now      func() time.Time
}

// NewRetentionService creates a new RetentionService with the given policies.
// audit may be nil; when set, every purge run is itself audited.
func NewRetentionService(policies []RetentionPolicy, audit *AuditLogger, logger zerolog.Logger) *RetentionService {
	policyMap := make(map[string]RetentionPolicy, len(policies))
	for _, p := range policies {
		policyMap[p.ResourceType] = p
	}
	return &RetentionService{
		policies: policyMap,
		purgers:  make(map[string]Purger),
		audit:    audit,
		logger:   logger.With().Str("component", "retention-service").Logger(),
		now:      time.Now,
	}
}

// RegisterPurger attaches the store that deletes expired rows of resourceType.
func (s *RetentionService) RegisterPurger(resourceType string, p Purger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgers[resourceType] = p
}

// GetPolicy returns the retention policy for a resource type, or nil if not found.
func (s *RetentionService) GetPolicy(resourceType string) *RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[resourceType]
	if !ok {
		return nil
	}
	return &p
}

// GetAllPolicies returns all configured retention policies sorted by type.
func (s *RetentionService) GetAllPolicies() []RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]RetentionPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ResourceType < result[j].ResourceType })
	return result
}

// CheckRetention checks if a resource has exceeded its retention period.
// Returns a RetentionStatus indicating whether the resource is active,
// eligible for archival, or eligible for purging.
func (s *RetentionService) CheckRetention(resourceType string, createdAt time.Time) RetentionStatus {
	s.mu.RLock()
	policy, ok := s.policies[resourceType]
	s.mu.RUnlock()

	if !ok {
		return RetentionStatus{
			State:      RetentionStateActive,
			PolicyName: "unknown",
		}
	}

	ageDays := int(s.now().UTC().Sub(createdAt).Hours() / 24)

	if policy.PurgeAfter > 0 && ageDays >= policy.PurgeAfter {
		return RetentionStatus{
			State:      RetentionStatePurgeEligible,
			ExpiresAt:  createdAt.AddDate(0, 0, policy.PurgeAfter),
			PolicyName: policy.ResourceType,
		}
	}

	if policy.ArchiveAfter > 0 && ageDays >= policy.ArchiveAfter {
		expiresAt := createdAt.AddDate(0, 0, policy.RetentionDays)
		if policy.PurgeAfter > 0 {
			expiresAt = createdAt.AddDate(0, 0, policy.PurgeAfter)
		}
		return RetentionStatus{
			State:      RetentionStateArchiveEligible,
			ExpiresAt:  expiresAt,
			PolicyName: policy.ResourceType,
		}
	}

	expiresAt := createdAt.AddDate(0, 0, policy.RetentionDays)
	if policy.ArchiveAfter > 0 {
		expiresAt = createdAt.AddDate(0, 0, policy.ArchiveAfter)
	}
	return RetentionStatus{
		State:      RetentionStateActive,
		ExpiresAt:  expiresAt,
		PolicyName: policy.ResourceType,
	}
}

// PurgeExpired deletes rows older than each policy's PurgeAfter for every
// type with a registered purger. A failing purger does not stop the others.
func (s *RetentionService) PurgeExpired(ctx context.Context) []PurgeResult {
	s.mu.RLock()
	type job struct {
		policy RetentionPolicy
		purger Purger
	}
	jobs := make([]job, 0, len(s.purgers))
	for rt, p := range s.purgers {
		policy, ok := s.policies[rt]
		if !ok || policy.PurgeAfter <= 0 {
			continue
		}
		jobs = append(jobs, job{policy: policy, purger: p})
	}
	s.mu.RUnlock()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].policy.ResourceType < jobs[j].policy.ResourceType })

	now := s.now().UTC()
	results := make([]PurgeResult, 0, len(jobs))
	for _, j := range jobs {
		res := PurgeResult{
			ResourceType: j.policy.ResourceType,
			Cutoff:       now.AddDate(0, 0, -j.policy.PurgeAfter),
		}
		n, err := j.purger.PurgeBefore(ctx, res.Cutoff)
		res.Deleted = n
		if err != nil {
			res.Error = err.Error()
			s.logger.Error().Err(err).Str("resource_type", res.ResourceType).Msg("retention purge failed")
		} else {
			s.logger.Info().
				Str("resource_type", res.ResourceType).
				Time("cutoff", res.Cutoff).
				Int64("deleted", n).
				Msg("retention purge complete")
		}
		s.auditPurge(ctx, res)
		results = append(results, res)
	}
	return results
}

func (s *RetentionService) auditPurge(ctx context.Context, res PurgeResult) {
	if s.audit == nil {
		return
	}
	ev := NewEvent(EventRetentionPurge, "system:retention", "delete")
	ev.Details = map[string]any{
		"resource_type": res.ResourceType,
		"cutoff":        res.Cutoff.Format(time.RFC3339),
		"deleted":       res.Deleted,
	}
	if res.Error != "" {
		ev.Outcome = OutcomeFailure
	}
	if err := s.audit.LogEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Msg("failed to audit retention purge")
	}
}

// Start schedules PurgeExpired on the given cron expression ("@daily", "0 3 * * *").
func (s *RetentionService) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.PurgeExpired(ctx)
	}); err != nil {
		return fmt.Errorf("retention: invalid schedule %q: %w", schedule, err)
	}
	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	c.Start()
	s.logger.Info().Str("schedule", schedule).Msg("retention purge scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running purge to finish.
func (s *RetentionService) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
