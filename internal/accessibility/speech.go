// Package accessibility renders incident summaries as spoken audio,
// translating first when the caregiver's language is not English. Synthesis
// runs on Amazon Polly's neural voices.
package accessibility

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

var (
	ErrNotConfigured = errors.New("speech synthesis unavailable")
	ErrSynthesis     = errors.New("speech synthesis failed")
)

// synthClient is the one Polly call we use; tests substitute a fake.
type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Translator is a text-only model call returning the summary in the target
// language.
type Translator interface {
	CompleteText(ctx context.Context, prompt string) (string, error)
}

var voiceByLanguage = map[string]pollytypes.VoiceId{
	"en": pollytypes.VoiceIdJoanna,
	"es": pollytypes.VoiceIdLupe,
	"fr": pollytypes.VoiceIdLea,
	"de": pollytypes.VoiceIdVicki,
}

type Service struct {
	client     synthClient
	translator Translator
	timeout    time.Duration
}

// NewService builds the speech service. A nil client (no AWS region
// configured) leaves the endpoint returning ErrNotConfigured.
func NewService(client synthClient, translator Translator) *Service {
	return &Service{client: client, translator: translator, timeout: 15 * time.Second}
}

// Speak returns MP3 audio for the text, translated to language first when
// it is not English.
func (s *Service) Speak(ctx context.Context, text, language string) ([]byte, error) {
	if s.client == nil {
		return nil, ErrNotConfigured
	}

	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		language = "en"
	}

	if language != "en" && s.translator != nil {
		translated, err := s.translator.CompleteText(ctx, fmt.Sprintf(
			"Translate the following caregiver alert into %s. Output only the translation.\n\n%s",
			language, text))
		if err == nil && strings.TrimSpace(translated) != "" {
			text = strings.TrimSpace(translated)
		}
		// Translation failure falls through to English audio.
	}

	voice, ok := voiceByLanguage[language]
	if !ok {
		voice = pollytypes.VoiceIdJoanna
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       pollytypes.EngineNeural,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      voice,
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %s", ErrSynthesis, apiErr.ErrorCode())
		}
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	if out == nil || out.AudioStream == nil {
		return nil, fmt.Errorf("%w: empty audio stream", ErrSynthesis)
	}
	defer out.AudioStream.Close()

	audio, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	return audio, nil
}
