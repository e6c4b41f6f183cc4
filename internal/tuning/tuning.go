// Package tuning applies warehouse-suggested config changes to cameras,
// but only inside the idle window: low risk and no ACTIVE incident.
package tuning

import (
	"context"
	"log"

	"github.com/technosupport/camguard/internal/cameras"
	"github.com/technosupport/camguard/internal/data"
	"github.com/technosupport/camguard/internal/timeline"
	"github.com/technosupport/camguard/internal/warehouse"
)

const idleRiskCeiling = 0.3

// check_interval_s is deliberately absent: the replan cadence is owned by
// live plans, not offline tuning.
var appliableKeys = map[string]bool{
	cameras.KeyMotionSpikeThreshold: true,
	cameras.KeyStillnessThreshold:   true,
	cameras.KeyRiskThresholdLow:     true,
	cameras.KeyRiskThresholdHigh:    true,
	cameras.KeyEscalationDelayS:     true,
}

type IncidentProbe interface {
	HasActiveForCamera(ctx context.Context, cameraID string) (bool, error)
}

type Tuner struct {
	cams    *cameras.Service
	probe   IncidentProbe
	updates data.ConfigUpdateModel
	logger  *timeline.Logger
	sink    *warehouse.Sink
}

func NewTuner(cams *cameras.Service, probe IncidentProbe, updates data.ConfigUpdateModel, logger *timeline.Logger, sink *warehouse.Sink) *Tuner {
	return &Tuner{cams: cams, probe: probe, updates: updates, logger: logger, sink: sink}
}

// IsIdle reports whether a camera may receive config changes right now.
func (t *Tuner) IsIdle(ctx context.Context, cameraID string) bool {
	cam, err := t.cams.Get(ctx, cameraID)
	if err != nil {
		return false
	}
	if cam.RiskScore > idleRiskCeiling {
		return false
	}
	active, err := t.probe.HasActiveForCamera(ctx, cameraID)
	if err != nil {
		return false
	}
	return !active
}

// ApplySuggestions fetches pending suggestions from the warehouse and
// applies the recognized keys to each idle camera. Returns the number of
// cameras changed.
func (t *Tuner) ApplySuggestions(ctx context.Context) int {
	applied := 0
	for _, sug := range t.sink.FetchConfigSuggestions(ctx, 20) {
		if !t.IsIdle(ctx, sug.CameraID) {
			continue
		}

		filtered := filterConfig(sug.Config)
		if len(filtered) == 0 {
			continue
		}

		if err := t.apply(ctx, sug, filtered); err != nil {
			log.Printf("tuning: apply suggestion %s to %s: %v", sug.ID, sug.CameraID, err)
			continue
		}
		applied++
	}
	return applied
}

func (t *Tuner) apply(ctx context.Context, sug warehouse.Suggestion, filtered map[string]any) error {
	cam, err := t.cams.Get(ctx, sug.CameraID)
	if err != nil {
		return err
	}

	merged := make(map[string]any, len(cam.Config)+len(filtered))
	for k, v := range cam.Config {
		merged[k] = v
	}
	for k, v := range filtered {
		merged[k] = v
	}

	if err := t.cams.UpdateConfig(ctx, cam.ID, merged); err != nil {
		return err
	}

	reason := sug.Reason
	if reason == "" {
		reason = "Snowflake optimization"
	}
	update := &data.ConfigUpdate{
		CameraID:   cam.ID,
		Reason:     reason,
		Confidence: sug.Confidence,
		Config:     filtered,
		Applied:    true,
	}
	if err := t.updates.Create(ctx, update); err != nil {
		log.Printf("tuning: record config update for %s: %v", cam.ID, err)
	}
	t.sink.WriteConfigApplied(update)

	_ = t.logger.Append(ctx, "system", cam.ID, data.KindConfigApplied, map[string]any{
		"config": filtered,
		"reason": reason,
	})
	return nil
}

func filterConfig(config map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	for k, v := range config {
		if appliableKeys[k] {
			out[k] = v
		}
	}
	return out
}
