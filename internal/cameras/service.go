// Package cameras is the registry of monitored cameras: CRUD, notification
// policy, config accessors, and a read-through cache for the trigger hot
// path.
package cameras

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/technosupport/camguard/internal/data"
)

var ErrCameraNotFound = errors.New("camera not found")

// Repository is the slice of the camera model the service needs.
type Repository interface {
	Create(ctx context.Context, c *data.Camera) error
	GetByID(ctx context.Context, id string) (*data.Camera, error)
	List(ctx context.Context) ([]*data.Camera, error)
	Update(ctx context.Context, c *data.Camera) error
	UpdateConfig(ctx context.Context, id string, config map[string]any) error
	UpdateRisk(ctx context.Context, id string, risk float64, seenAt time.Time) error
}

type PolicyRepository interface {
	Upsert(ctx context.Context, p *data.NotificationPolicy) error
	GetByCamera(ctx context.Context, cameraID string) (*data.NotificationPolicy, error)
}

type Service struct {
	repo     Repository
	policies PolicyRepository
	cache    *expirable.LRU[string, *data.Camera]
}

func NewService(repo Repository, policies PolicyRepository) *Service {
	return &Service{
		repo:     repo,
		policies: policies,
		cache:    expirable.NewLRU[string, *data.Camera](128, nil, 30*time.Second),
	}
}

// Create registers a camera and its default notification policy.
func (s *Service) Create(ctx context.Context, c *data.Camera) error {
	if err := s.repo.Create(ctx, c); err != nil {
		return err
	}
	return s.policies.Upsert(ctx, data.DefaultPolicy(c.ID, c.SMSEnabled, c.VoiceEnabled))
}

// Get serves from the 30s read-through cache. Trigger bursts for the same
// camera hit Postgres at most once per window.
func (s *Service) Get(ctx context.Context, id string) (*data.Camera, error) {
	if c, ok := s.cache.Get(id); ok {
		return c, nil
	}
	c, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, data.ErrRecordNotFound) {
		return nil, ErrCameraNotFound
	}
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, c)
	return c, nil
}

func (s *Service) List(ctx context.Context) ([]*data.Camera, error) {
	return s.repo.List(ctx)
}

func (s *Service) Update(ctx context.Context, c *data.Camera) error {
	if err := s.repo.Update(ctx, c); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return ErrCameraNotFound
		}
		return err
	}
	s.cache.Remove(c.ID)
	return nil
}

func (s *Service) UpdateConfig(ctx context.Context, id string, config map[string]any) error {
	if err := s.repo.UpdateConfig(ctx, id, config); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return ErrCameraNotFound
		}
		return err
	}
	s.cache.Remove(id)
	return nil
}

func (s *Service) UpdateRisk(ctx context.Context, id string, risk float64, seenAt time.Time) error {
	if err := s.repo.UpdateRisk(ctx, id, risk, seenAt); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return ErrCameraNotFound
		}
		return err
	}
	s.cache.Remove(id)
	return nil
}

// Policy returns the camera's notification policy, falling back to defaults
// derived from the camera's own flags when no row exists yet.
func (s *Service) Policy(ctx context.Context, cam *data.Camera) *data.NotificationPolicy {
	p, err := s.policies.GetByCamera(ctx, cam.ID)
	if err != nil {
		return data.DefaultPolicy(cam.ID, cam.SMSEnabled, cam.VoiceEnabled)
	}
	return p
}

func (s *Service) SetPolicy(ctx context.Context, p *data.NotificationPolicy) error {
	return s.policies.Upsert(ctx, p)
}

// Onboard applies the onboarding answers onto the camera row.
func (s *Service) Onboard(ctx context.Context, id, monitoringType, primary, backup string) (*data.Camera, error) {
	cam, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, data.ErrRecordNotFound) {
		return nil, ErrCameraNotFound
	}
	if err != nil {
		return nil, err
	}

	if monitoringType != "" {
		cam.MonitoringType = monitoringType
	}
	if primary != "" {
		cam.PrimaryContact = primary
	}
	if backup != "" {
		cam.BackupContact = backup
	}
	if err := s.repo.Update(ctx, cam); err != nil {
		return nil, err
	}
	s.cache.Remove(id)
	return cam, nil
}

// PolicyText renders the one-line policy summary embedded in planner prompts.
func PolicyText(c *data.Camera, p *data.NotificationPolicy) string {
	return fmt.Sprintf(
		"sms_enabled=%t, voice_enabled=%t, escalation_delay_s=%d, cooldown_contact_s=%d, max_primary_call_attempts=%d",
		p.SMSEnabled, p.VoiceEnabled, p.EscalationDelayS, p.CooldownContactS, p.MaxPrimaryCallAttempts)
}

// Config keys recognized on camera.config_json.
const (
	KeyMotionSpikeThreshold = "motion_spike_threshold"
	KeyStillnessThreshold   = "stillness_threshold"
	KeyRiskThresholdLow     = "risk_threshold_low"
	KeyRiskThresholdHigh    = "risk_threshold_high"
	KeyEscalationDelayS     = "escalation_delay_s"
	KeyCheckIntervalS       = "check_interval_s"
)

// ConfigFloat reads a numeric config key with a default. JSON numbers
// arrive as float64; strings are parsed leniently.
func ConfigFloat(c *data.Camera, key string, def float64) float64 {
	if c == nil || c.Config == nil {
		return def
	}
	switch v := c.Config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func ConfigInt(c *data.Camera, key string, def int) int {
	return int(ConfigFloat(c, key, float64(def)))
}
