package speech

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/utterlabs/utter/fault"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"go.uber.org/zap"
)

var pollyFormats = map[Format]types.OutputFormat{
	FormatMP3: types.OutputFormatMp3,
	FormatOGG: types.OutputFormatOggVorbis,
	// Polly has no wav container, pcm is served with a wav content type
	FormatWAV: types.OutputFormatPcm,
}

// PollyOptions contains the configuration for the Polly synthesizer
type PollyOptions struct {
	Client  *polly.Client
	Logger  *zap.Logger
	Timeout time.Duration
}

// Polly synthesizes speech through AWS Polly. The provider's streamed
// response is fully materialized before returning, since storage and size
// accounting downstream need the total length upfront.
type Polly struct {
	PollyOptions
}

var _ Synthesizer = &Polly{}

// NewPolly will create a Polly-backed Synthesizer
func NewPolly(option PollyOptions) (*Polly, error) {
	if option.Client == nil {
		return nil, fmt.Errorf("nil Client is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Timeout <= 0 {
		option.Timeout = time.Second * 30
	}
	return &Polly{
		PollyOptions: option,
	}, nil
}

// Synthesize converts text to audio. Validation happens before the provider
// call; transport and provider failures surface as SynthesisProviderError
// with the provider's message.
func (p *Polly) Synthesize(ctx context.Context, req Request) (*Result, error) {
	outputFormat, ok := pollyFormats[req.Format]
	if !ok {
		return nil, fault.New(fault.KindUnsupportedFormat, fmt.Sprintf("unsupported output format %q", req.Format))
	}
	if req.Engine != EngineStandard && req.Engine != EngineNeural {
		return nil, fault.New(fault.KindUnsupportedEngine, fmt.Sprintf("unsupported engine %q", req.Engine))
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	out, err := p.Client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Text:         aws.String(req.Text),
		VoiceId:      types.VoiceId(req.VoiceID),
		OutputFormat: outputFormat,
		Engine:       types.Engine(req.Engine),
	})
	if err != nil {
		p.Logger.Error("Speech provider returned error",
			zap.String("VoiceID", req.VoiceID),
			zap.Error(err),
		)
		return nil, fault.Wrap(err, fault.KindSynthesisProviderError, err.Error())
	}
	defer out.AudioStream.Close()

	audio, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fault.Wrap(err, fault.KindSynthesisProviderError, "audio stream ended prematurely")
	}

	return &Result{
		Audio:            audio,
		ContentType:      req.Format.ContentType(),
		BilledCharacters: int64(out.RequestCharacters),
	}, nil
}
