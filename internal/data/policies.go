package data

import (
	"context"
	"database/sql"
)

// NotificationPolicy holds per-camera contact rules. One row per camera,
// created alongside it.
type NotificationPolicy struct {
	CameraID               string `json:"camera_id"`
	SMSEnabled             bool   `json:"sms_enabled"`
	VoiceEnabled           bool   `json:"voice_enabled"`
	EscalationDelayS       int    `json:"escalation_delay_s"`
	CooldownContactS       int    `json:"cooldown_contact_s"`
	MaxPrimaryCallAttempts int    `json:"max_primary_call_attempts"`
}

// DefaultPolicy mirrors the column defaults.
func DefaultPolicy(cameraID string, smsEnabled, voiceEnabled bool) *NotificationPolicy {
	return &NotificationPolicy{
		CameraID:               cameraID,
		SMSEnabled:             smsEnabled,
		VoiceEnabled:           voiceEnabled,
		EscalationDelayS:       60,
		CooldownContactS:       5,
		MaxPrimaryCallAttempts: 2,
	}
}

type PolicyModel struct {
	DB DBTX
}

func (m PolicyModel) Upsert(ctx context.Context, p *NotificationPolicy) error {
	query := `
		INSERT INTO notification_policies (
			camera_id, sms_enabled, voice_enabled, escalation_delay_s,
			cooldown_contact_s, max_primary_call_attempts
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (camera_id) DO UPDATE
		SET sms_enabled = EXCLUDED.sms_enabled,
		    voice_enabled = EXCLUDED.voice_enabled,
		    escalation_delay_s = EXCLUDED.escalation_delay_s,
		    cooldown_contact_s = EXCLUDED.cooldown_contact_s,
		    max_primary_call_attempts = EXCLUDED.max_primary_call_attempts`

	_, err := m.DB.ExecContext(ctx, query,
		p.CameraID, p.SMSEnabled, p.VoiceEnabled, p.EscalationDelayS,
		p.CooldownContactS, p.MaxPrimaryCallAttempts)
	return err
}

func (m PolicyModel) GetByCamera(ctx context.Context, cameraID string) (*NotificationPolicy, error) {
	query := `
		SELECT camera_id, sms_enabled, voice_enabled, escalation_delay_s,
		       cooldown_contact_s, max_primary_call_attempts
		FROM notification_policies
		WHERE camera_id = $1`

	var p NotificationPolicy
	err := m.DB.QueryRowContext(ctx, query, cameraID).Scan(
		&p.CameraID, &p.SMSEnabled, &p.VoiceEnabled, &p.EscalationDelayS,
		&p.CooldownContactS, &p.MaxPrimaryCallAttempts)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
