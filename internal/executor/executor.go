// Package executor applies guard-approved plan actions to the outside
// world, strictly in order. One failing action never aborts the rest; its
// error becomes the recorded result and the loop continues.
package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/technosupport/camguard/internal/data"
	"github.com/technosupport/camguard/internal/metrics"
	"github.com/technosupport/camguard/internal/planner"
	"github.com/technosupport/camguard/internal/timeline"
	"github.com/technosupport/camguard/internal/warehouse"
)

// Notifier is the outbound SMS/voice gateway.
type Notifier interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
	StartVoiceCall(ctx context.Context, to, incidentID string) (string, error)
}

// IncidentStore is the slice of the incident repository the executor needs.
type IncidentStore interface {
	Close(ctx context.Context, id, verdict string, acknowledged bool) error
}

// Controls reaches back into the live incident controller. Implemented by
// the controller registry; deliveries to a gone controller are dropped.
type Controls interface {
	SetReplanInterval(incidentID string, d time.Duration)
	RequestStrongVerify(incidentID string)
}

// IncidentRef carries the identifiers and contacts one execution pass needs.
type IncidentRef struct {
	IncidentID     string
	CameraID       string
	PrimaryContact string
	BackupContact  string
}

type Executor struct {
	notifier  Notifier
	incidents IncidentStore
	actions   data.ActionLogModel
	logger    *timeline.Logger
	sink      *warehouse.Sink
	controls  Controls
}

func New(notifier Notifier, incidents IncidentStore, actions data.ActionLogModel, logger *timeline.Logger, sink *warehouse.Sink, controls Controls) *Executor {
	return &Executor{
		notifier:  notifier,
		incidents: incidents,
		actions:   actions,
		logger:    logger,
		sink:      sink,
		controls:  controls,
	}
}

// Execute runs the approved actions sequentially. A cancelled context
// abandons the remaining actions (the incident is no longer ACTIVE).
func (e *Executor) Execute(ctx context.Context, ref IncidentRef, actions []planner.Action, summary string) {
	for _, action := range actions {
		if action.DelayS > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(action.DelayS * float64(time.Second))):
			}
		}
		if ctx.Err() != nil {
			return
		}

		result, err := e.dispatch(ctx, ref, action, summary)
		outcome := "ok"
		if err != nil {
			result = fmt.Sprintf("Error: %v", err)
			outcome = "error"
			log.Printf("executor: %s on incident %s failed: %v", action.Type, ref.IncidentID, err)
		}
		metrics.ActionsExecuted.WithLabelValues(string(action.Type), outcome).Inc()

		logRow := &data.ActionLog{
			IncidentID: ref.IncidentID,
			CameraID:   ref.CameraID,
			ActionType: string(action.Type),
			Params:     action.Params,
			Result:     result,
		}
		if err := e.actions.Create(ctx, logRow); err != nil {
			log.Printf("executor: action log write failed: %v", err)
		}
		e.sink.WriteActionLog(logRow)

		_ = e.logger.Append(ctx, ref.IncidentID, ref.CameraID, data.KindActionExecuted, map[string]any{
			"action_type": string(action.Type),
			"result":      result,
			"params":      action.Params,
		})
	}
}

func (e *Executor) dispatch(ctx context.Context, ref IncidentRef, action planner.Action, summary string) (string, error) {
	switch action.Type {
	case planner.ActionSendSMSPrimary:
		body := fmt.Sprintf("🚨 CamGuard Alert: %s Incident: %s", orDefault(summary, "Possible fall detected."), shortID(ref.IncidentID))
		sid, err := e.notifier.SendSMS(ctx, ref.PrimaryContact, body)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("SMS sent: %s", sid), nil

	case planner.ActionSendHeadsup:
		body := fmt.Sprintf("ℹ️ CamGuard Heads-up: Risk score rising for camera %s. %s", shortID(ref.CameraID), summary)
		sid, err := e.notifier.SendSMS(ctx, ref.PrimaryContact, body)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Heads-up SMS sent: %s", sid), nil

	case planner.ActionStartVoiceCallPrimary:
		sid, err := e.notifier.StartVoiceCall(ctx, ref.PrimaryContact, ref.IncidentID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Voice call started: %s", sid), nil

	case planner.ActionEscalateToBackup:
		body := fmt.Sprintf("🚨 CamGuard ESCALATION: %s Incident: %s", orDefault(summary, "Fall not acknowledged."), shortID(ref.IncidentID))
		smsSID, err := e.notifier.SendSMS(ctx, ref.BackupContact, body)
		if err != nil {
			return "", err
		}
		callSID, err := e.notifier.StartVoiceCall(ctx, ref.BackupContact, ref.IncidentID)
		if err != nil {
			// The SMS already went out; record the partial delivery.
			return fmt.Sprintf("Escalated to backup: SMS=%s, call failed: %v", smsSID, err), nil
		}
		return fmt.Sprintf("Escalated to backup: SMS=%s, Call=%s", smsSID, callSID), nil

	case planner.ActionCancelEscalation:
		return "Escalation cancelled", nil

	case planner.ActionCloseIncident:
		if err := e.incidents.Close(ctx, ref.IncidentID, "", false); err != nil {
			return "", err
		}
		return "Incident closed", nil

	case planner.ActionIncreaseCheckRate:
		interval := paramFloat(action.Params, "interval_s", 10)
		e.controls.SetReplanInterval(ref.IncidentID, time.Duration(interval*float64(time.Second)))
		return fmt.Sprintf("Check rate increased to %.0fs", interval), nil

	case planner.ActionRequestStrongVerify:
		e.controls.RequestStrongVerify(ref.IncidentID)
		return "Strong verification requested", nil

	default:
		return fmt.Sprintf("Unknown action type: %s", action.Type), nil
	}
}

func paramFloat(params map[string]any, key string, def float64) float64 {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
