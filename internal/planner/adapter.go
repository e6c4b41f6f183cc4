package planner

import (
	"context"
	"log"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/technosupport/camguard/internal/metrics"
)

const (
	maxFrames   = 4
	callTimeout = 30 * time.Second
)

// Config selects the models per mode. Empty fields keep the defaults.
type Config struct {
	APIKey      string
	FastModel   string
	StrongModel string
}

// messagesClient is the slice of the Anthropic client the adapter uses.
// Tests substitute a canned responder.
type messagesClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

type sdkMessages struct {
	client anthropic.Client
}

func (s sdkMessages) New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return s.client.Messages.New(ctx, params)
}

// Adapter mediates every model call: prompt assembly, frame attachment,
// strict parsing, the single half-frames retry, and the deterministic
// fallback.
type Adapter struct {
	messages    messagesClient
	fastModel   string
	strongModel string
}

func New(cfg Config) *Adapter {
	if cfg.FastModel == "" {
		cfg.FastModel = "claude-3-5-haiku-latest"
	}
	if cfg.StrongModel == "" {
		cfg.StrongModel = "claude-sonnet-4-5"
	}
	return &Adapter{
		messages:    sdkMessages{client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey))},
		fastModel:   cfg.FastModel,
		strongModel: cfg.StrongModel,
	}
}

// IncidentRequest carries everything one incident-mode plan call needs.
type IncidentRequest struct {
	FramesB64    []string
	MotionEnergy float64
	Stillness    float64
	RoomType     string
	PolicyText   string
	State        IncidentState
	AgentNotes   []string
	Mode         string // "incident" | "prevention"
	VoiceEnabled bool   // shapes the fallback plan
}

// PlanIncident produces a plan, retrying once with half the frames on
// call or parse failure, then falling back deterministically. The second
// return reports whether the fallback was used.
func (a *Adapter) PlanIncident(ctx context.Context, req IncidentRequest) (Plan, bool) {
	frames := capFrames(req.FramesB64)
	prompt := buildIncidentPrompt(req.Mode, req.RoomType, req.PolicyText, req.MotionEnergy, req.Stillness, req.State, req.AgentNotes)

	plan, err := a.callAndParse(ctx, a.fastModel, prompt, frames)
	if err == nil {
		return plan, false
	}
	log.Printf("planner: %s call failed (%v), retrying with fewer frames", req.Mode, err)
	metrics.PlanParseFailures.Inc()

	plan, err = a.callAndParse(ctx, a.fastModel, prompt, halve(frames))
	if err == nil {
		return plan, false
	}
	log.Printf("planner: retry failed (%v), using fallback plan", err)
	metrics.PlanParseFailures.Inc()

	if req.Mode == "prevention" {
		return FallbackPrevention(), true
	}
	return FallbackIncident(req.MotionEnergy, req.VoiceEnabled), true
}

// PlanStrong asks the strong model for a refined grading. Errors surface to
// the caller; strong verification aborts quietly rather than falling back.
func (a *Adapter) PlanStrong(ctx context.Context, framesB64 []string, motion, stillness float64, current Plan, state IncidentState) (Plan, error) {
	prompt := buildStrongVerifyPrompt(current, state, motion, stillness)
	return a.callAndParse(ctx, a.strongModel, prompt, capFrames(framesB64))
}

// AssessBed estimates bed posture for the prevention sweep. Never errors:
// model trouble yields the UNKNOWN assessment.
func (a *Adapter) AssessBed(ctx context.Context, framesB64 []string, bedPolygon [][]float64, roomType string) BedAssessment {
	prompt := buildBedAssessmentPrompt(roomType, bedPolygon)
	raw, err := a.call(ctx, a.fastModel, prompt, capFrames(framesB64))
	if err != nil {
		log.Printf("planner: bed assessment failed: %v", err)
		return BedAssessment{BedState: "UNKNOWN", Stability: "UNKNOWN"}
	}
	return ParseBedAssessment(raw)
}

// CompleteText runs a plain text-only call on the fast model. Used by the
// caregiver chat and by summary translation.
func (a *Adapter) CompleteText(ctx context.Context, prompt string) (string, error) {
	return a.call(ctx, a.fastModel, prompt, nil)
}

func (a *Adapter) callAndParse(ctx context.Context, model, prompt string, frames []string) (Plan, error) {
	raw, err := a.call(ctx, model, prompt, frames)
	if err != nil {
		return Plan{}, err
	}
	return ParsePlan(raw)
}

func (a *Adapter) call(ctx context.Context, model, prompt string, frames []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(prompt)}
	for _, f := range frames {
		blocks = append(blocks, anthropic.NewImageBlockBase64("image/jpeg", f))
	}

	start := time.Now()
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	})
	metrics.PlannerLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

func capFrames(frames []string) []string {
	if len(frames) > maxFrames {
		return frames[len(frames)-maxFrames:]
	}
	return frames
}

func halve(frames []string) []string {
	if len(frames) <= 1 {
		return frames
	}
	return frames[:(len(frames)+1)/2]
}
