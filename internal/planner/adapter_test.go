package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMessages replays canned responses (or errors) in order and records
// the frame count of each call.
type fakeMessages struct {
	responses  []string
	errs       []error
	calls      int
	frameSizes []int
	models     []string
}

func (f *fakeMessages) New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	idx := f.calls
	f.calls++
	f.models = append(f.models, string(params.Model))

	frames := 0
	for _, msg := range params.Messages {
		for _, block := range msg.Content {
			if block.OfImage != nil {
				frames++
			}
		}
	}
	f.frameSizes = append(f.frameSizes, frames)

	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	var text string
	if idx < len(f.responses) {
		text = f.responses[idx]
	}
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: text}},
	}, nil
}

func testAdapter(fake *fakeMessages) *Adapter {
	return &Adapter{messages: fake, fastModel: "fast-model", strongModel: "strong-model"}
}

func TestPlanIncident_FirstCallSucceeds(t *testing.T) {
	fake := &fakeMessages{responses: []string{
		`{"verdict":"CONFIRMED_FALL","severity_seed":4,"confidence":0.9,"actions":[{"type":"SEND_SMS_PRIMARY"}]}`,
	}}
	a := testAdapter(fake)

	plan, fellBack := a.PlanIncident(context.Background(), IncidentRequest{Mode: "incident"})
	assert.False(t, fellBack)
	assert.Equal(t, VerdictConfirmedFall, plan.Verdict)
	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, []string{"fast-model"}, fake.models)
}

func TestPlanIncident_RetryWithFewerFrames(t *testing.T) {
	fake := &fakeMessages{
		responses: []string{"", `{"verdict":"POSSIBLE_FALL","severity_seed":3,"confidence":0.6}`},
		errs:      []error{errors.New("overloaded"), nil},
	}
	a := testAdapter(fake)

	frames := []string{"f1", "f2", "f3", "f4"}
	plan, fellBack := a.PlanIncident(context.Background(), IncidentRequest{Mode: "incident", FramesB64: frames})
	assert.False(t, fellBack)
	assert.Equal(t, VerdictPossibleFall, plan.Verdict)
	require.Equal(t, 2, fake.calls)
	assert.Equal(t, 4, fake.frameSizes[0])
	assert.Equal(t, 2, fake.frameSizes[1])
}

func TestPlanIncident_FallsBackAfterTwoFailures(t *testing.T) {
	fake := &fakeMessages{responses: []string{"not json", "still not json"}}
	a := testAdapter(fake)

	plan, fellBack := a.PlanIncident(context.Background(), IncidentRequest{
		Mode:         "incident",
		MotionEnergy: 0.9,
		VoiceEnabled: true,
	})
	assert.True(t, fellBack)
	assert.Equal(t, 4, plan.SeveritySeed)
	require.Len(t, plan.Actions, 2)
	assert.Equal(t, 2, fake.calls)
}

func TestPlanIncident_PreventionFallback(t *testing.T) {
	fake := &fakeMessages{errs: []error{errors.New("down"), errors.New("down")}}
	a := testAdapter(fake)

	plan, fellBack := a.PlanIncident(context.Background(), IncidentRequest{Mode: "prevention"})
	assert.True(t, fellBack)
	assert.Equal(t, VerdictNoIncident, plan.Verdict)
	assert.Equal(t, ActionIncreaseCheckRate, plan.Actions[0].Type)
}

func TestPlanStrong_SurfacesErrors(t *testing.T) {
	fake := &fakeMessages{errs: []error{errors.New("strong model down")}}
	a := testAdapter(fake)

	_, err := a.PlanStrong(context.Background(), nil, 0.5, 0.5, Plan{}, IncidentState{})
	assert.Error(t, err)
	assert.Equal(t, []string{"strong-model"}, fake.models)
}

func TestAssessBed_NeverErrors(t *testing.T) {
	fake := &fakeMessages{errs: []error{errors.New("down")}}
	a := testAdapter(fake)

	got := a.AssessBed(context.Background(), nil, nil, "bedroom")
	assert.Equal(t, "UNKNOWN", got.BedState)
	assert.Equal(t, "UNKNOWN", got.Stability)
}

func TestCapFrames_KeepsNewest(t *testing.T) {
	frames := []string{"a", "b", "c", "d", "e", "f"}
	got := capFrames(frames)
	assert.Equal(t, []string{"c", "d", "e", "f"}, got)
}
