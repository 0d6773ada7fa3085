package tts

import (
	"context"
	"fmt"
	"html"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"

	"github.com/Discord-TTS/tts-service/logger"
)

const pollyMaxRate = 500

// PollyAPI is the subset of the Polly client used by the engine.
type PollyAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
	DescribeVoices(ctx context.Context, params *polly.DescribeVoicesInput, optFns ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error)
}

// pollyFormats maps preferred_format values onto Polly output formats and
// their content types.
var pollyFormats = map[string]struct {
	format      types.OutputFormat
	contentType string
}{
	"mp3":        {types.OutputFormatMp3, "audio/mpeg"},
	"pcm":        {types.OutputFormatPcm, "audio/pcm"},
	"ogg_vorbis": {types.OutputFormatOggVorbis, "audio/ogg"},
}

const pollyDefaultFormat = "ogg_vorbis"

// PollyEngine synthesizes speech through Amazon Polly's standard engine.
type PollyEngine struct {
	client PollyAPI

	voices catalog[[]string]
}

// NewPollyEngine builds a Polly backed engine.
func NewPollyEngine(client PollyAPI) *PollyEngine {
	return &PollyEngine{client: client}
}

func (e *PollyEngine) Mode() Mode { return ModePolly }

func (e *PollyEngine) MaxSpeakingRate() (float32, bool) { return pollyMaxRate, true }

func (e *PollyEngine) DefaultContentType() string {
	return pollyFormats[pollyDefaultFormat].contentType
}

// CheckLength always passes. Polly bounds input size server-side and the
// gateway does not decode Vorbis to measure duration.
func (e *PollyEngine) CheckLength(_ []byte, _ uint) bool { return true }

func (e *PollyEngine) CheckVoice(ctx context.Context, voice string) (bool, error) {
	voices, err := e.Voices(ctx)
	if err != nil {
		return false, err
	}
	for _, v := range voices {
		if v == voice {
			return true, nil
		}
	}
	return false, nil
}

// Voices lists the standard-engine voice identifiers. The catalog is fetched
// once, following pagination, and cached for the process lifetime.
func (e *PollyEngine) Voices(ctx context.Context) ([]string, error) {
	return e.voices.get(func() ([]string, error) {
		raw, err := e.fetchVoices(ctx)
		if err != nil {
			return nil, err
		}
		voices := make([]string, 0, len(raw))
		for _, v := range raw {
			voices = append(voices, string(v.Id))
		}
		sort.Strings(voices)
		return voices, nil
	})
}

// RawVoices exposes the full voice descriptions from DescribeVoices.
func (e *PollyEngine) RawVoices(ctx context.Context) (any, error) {
	return e.fetchVoices(ctx)
}

func (e *PollyEngine) fetchVoices(ctx context.Context) ([]types.Voice, error) {
	var all []types.Voice
	var nextToken *string
	for {
		out, err := e.client.DescribeVoices(ctx, &polly.DescribeVoicesInput{
			Engine:    types.EngineStandard,
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describing polly voices: %w", err)
		}
		all = append(all, out.Voices...)
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	return all, nil
}

// Synthesize calls SynthesizeSpeech with the standard engine. A non-default
// speaking rate is applied through an SSML prosody wrapper because the plain
// text input form has no rate control.
func (e *PollyEngine) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	format := req.PreferredFormat
	if format == "" {
		format = pollyDefaultFormat
	}
	output, known := pollyFormats[format]
	if !known {
		output = pollyFormats[pollyDefaultFormat]
	}

	input := &polly.SynthesizeSpeechInput{
		OutputFormat: output.format,
		VoiceId:      types.VoiceId(req.Voice),
		Engine:       types.EngineStandard,
		Text:         aws.String(req.Text),
		TextType:     types.TextTypeText,
	}
	if req.SpeakingRate > 0 {
		input.Text = aws.String(fmt.Sprintf(
			`<speak><prosody rate="%d%%">%s</prosody></speak>`,
			int(req.SpeakingRate), html.EscapeString(req.Text)))
		input.TextType = types.TextTypeSsml
	}

	logger.ProviderCall(string(ModePolly), "voice", req.Voice, "format", string(output.format))
	out, err := e.client.SynthesizeSpeech(ctx, input)
	if err != nil {
		logger.ProviderError(string(ModePolly), err, "voice", req.Voice)
		return nil, fmt.Errorf("polly synthesize: %w", err)
	}
	defer out.AudioStream.Close()

	data, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("reading polly audio: %w", err)
	}
	return &Audio{Data: data, ContentType: output.contentType}, nil
}
