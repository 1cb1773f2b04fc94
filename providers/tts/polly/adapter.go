// Package polly renders the dialogue lines of an approved AV prompt package
// through Amazon Polly. It runs strictly downstream of the pipeline: the
// caller is expected to verify the pre-production lock before synthesis, and
// nothing here writes back into the run document.
package polly

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/tiger/filmgate/api/preprod"
)

const ProviderID = "tts-amazon-polly"

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type Config struct {
	Region  string
	VoiceID string
	Engine  string
	Timeout time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Region:  defaultString(os.Getenv("FILMGATE_TTS_POLLY_REGION"), defaultString(os.Getenv("AWS_REGION"), "us-east-1")),
		VoiceID: defaultString(os.Getenv("FILMGATE_TTS_POLLY_VOICE"), "Joanna"),
		Engine:  defaultString(os.Getenv("FILMGATE_TTS_POLLY_ENGINE"), "neural"),
		Timeout: 15 * time.Second,
	}
}

// Synthesizer renders TTS lines one shot at a time. The AWS client is built
// lazily so tests and offline tooling never touch credentials.
type Synthesizer struct {
	mu     sync.Mutex
	client synthClient
	cfg    Config
}

func NewSynthesizer(cfg Config) *Synthesizer {
	return NewSynthesizerWithClient(cfg, nil)
}

func NewSynthesizerWithClient(cfg Config, client synthClient) *Synthesizer {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "Joanna"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Synthesizer{client: client, cfg: cfg}
}

// ShotAudio records one rendered dialogue line.
type ShotAudio struct {
	ShotID  string `json:"shot_id"`
	Speaker string `json:"speaker,omitempty"`
	Path    string `json:"path"`
	Bytes   int64  `json:"bytes"`
}

// SynthesisError reports a failed shot with the provider's classification so
// callers can decide whether a rerun is worthwhile.
type SynthesisError struct {
	ShotID    string
	Reason    string
	Retryable bool
	Err       error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesize shot %s: %s: %v", e.ShotID, e.Reason, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// RenderPackage synthesizes every shot in the package that carries TTS text,
// writing <shot_id>.mp3 files under outDir. Shots without dialogue are
// skipped. The first failed shot aborts the render.
func (s *Synthesizer) RenderPackage(ctx context.Context, pkg preprod.AVPromptPackage, outDir string) ([]ShotAudio, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio output dir: %w", err)
	}

	var rendered []ShotAudio
	for _, shot := range pkg.Shots {
		if strings.TrimSpace(shot.TTSText) == "" {
			continue
		}
		audio, err := s.synthesize(ctx, shot.ShotID, shot.TTSText)
		if err != nil {
			return rendered, err
		}
		target := filepath.Join(outDir, shot.ShotID+".mp3")
		if err := os.WriteFile(target, audio, 0o644); err != nil {
			return rendered, fmt.Errorf("write audio for shot %s: %w", shot.ShotID, err)
		}
		rendered = append(rendered, ShotAudio{
			ShotID:  shot.ShotID,
			Speaker: shot.TTSSpeaker,
			Path:    target,
			Bytes:   int64(len(audio)),
		})
	}
	return rendered, nil
}

func (s *Synthesizer) synthesize(ctx context.Context, shotID, text string) ([]byte, error) {
	client, err := s.resolveClient(ctx)
	if err != nil {
		return nil, err
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(s.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	output, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(s.cfg.VoiceID),
	})
	if err != nil {
		return nil, classifyError(shotID, err)
	}
	if output == nil || output.AudioStream == nil {
		return nil, &SynthesisError{ShotID: shotID, Reason: "provider_empty_audio", Retryable: true, Err: errors.New("no audio stream")}
	}
	defer output.AudioStream.Close()

	audio, err := io.ReadAll(output.AudioStream)
	if err != nil {
		return nil, &SynthesisError{ShotID: shotID, Reason: "provider_stream_error", Retryable: true, Err: err}
	}
	return audio, nil
}

func classifyError(shotID string, err error) error {
	if errors.Is(err, context.Canceled) {
		return &SynthesisError{ShotID: shotID, Reason: "provider_cancelled", Retryable: false, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &SynthesisError{ShotID: shotID, Reason: "provider_timeout", Retryable: true, Err: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException":
			return &SynthesisError{ShotID: shotID, Reason: "provider_overload", Retryable: true, Err: err}
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException", "MarksNotSupportedForFormatException", "InvalidSampleRateException":
			return &SynthesisError{ShotID: shotID, Reason: "provider_client_error", Retryable: false, Err: err}
		default:
			return &SynthesisError{ShotID: shotID, Reason: "provider_server_error", Retryable: true, Err: err}
		}
	}

	return &SynthesisError{ShotID: shotID, Reason: "provider_transport_error", Retryable: true, Err: err}
}

func defaultString(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func (s *Synthesizer) resolveClient(ctx context.Context) (synthClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s.client = polly.NewFromConfig(awsCfg)
	return s.client, nil
}

// NewTestAudioStream creates an in-memory stream for synthesizer tests.
func NewTestAudioStream(payload string) io.ReadCloser {
	return io.NopCloser(bytes.NewReader([]byte(payload)))
}
