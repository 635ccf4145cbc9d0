package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/go-redis/redis/v7"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

const voiceCacheKey = "speech:voices"

// Voice describes one selectable voice from the provider catalog
type Voice struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Gender           string   `json:"gender"`
	LanguageCode     string   `json:"languageCode"`
	LanguageName     string   `json:"languageName"`
	SupportedEngines []string `json:"supportedEngines"`
}

// SupportsEngine reports whether the voice can be synthesized with the engine
func (v Voice) SupportsEngine(engine Engine) bool {
	for _, e := range v.SupportedEngines {
		if e == string(engine) {
			return true
		}
	}
	return false
}

// VoiceCatalog lists the voices available for synthesis, in a stable order
type VoiceCatalog interface {
	List(ctx context.Context) ([]Voice, error)
}

// PollyCatalogOptions contains the configuration for the Polly voice catalog
type PollyCatalogOptions struct {
	Client   *polly.Client
	Redis    redis.UniversalClient
	Logger   *zap.Logger
	CacheTTL time.Duration
}

// PollyCatalog serves the Polly voice list, cached in redis so the hot
// request path doesn't pay a DescribeVoices round trip
type PollyCatalog struct {
	PollyCatalogOptions
}

var _ VoiceCatalog = &PollyCatalog{}

// NewPollyCatalog will create a Polly-backed VoiceCatalog
func NewPollyCatalog(option PollyCatalogOptions) (*PollyCatalog, error) {
	if option.Client == nil {
		return nil, fmt.Errorf("nil Client is invalid")
	}
	if option.Redis == nil {
		return nil, fmt.Errorf("nil Redis is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.CacheTTL <= 0 {
		option.CacheTTL = time.Hour
	}
	return &PollyCatalog{
		PollyCatalogOptions: option,
	}, nil
}

// List returns all voices sorted by ID so plan-based slicing is deterministic
func (c *PollyCatalog) List(ctx context.Context) ([]Voice, error) {
	cached, err := c.Redis.Get(voiceCacheKey).Result()
	if err == nil {
		voices := make([]Voice, 0, 64)
		if err := json.Unmarshal([]byte(cached), &voices); err == nil {
			return voices, nil
		}
		// unreadable cache entry, fall back to the provider
	}

	voices := make([]Voice, 0, 64)
	var nextToken *string
	for {
		out, err := c.Client.DescribeVoices(ctx, &polly.DescribeVoicesInput{
			NextToken: nextToken,
		})
		if err != nil {
			return nil, extErrors.Wrap(err, "Cannot list voices from provider")
		}
		for _, v := range out.Voices {
			engines := make([]string, 0, 2)
			for _, e := range v.SupportedEngines {
				engines = append(engines, string(e))
			}
			voices = append(voices, Voice{
				ID:               string(v.Id),
				Name:             aws.ToString(v.Name),
				Gender:           string(v.Gender),
				LanguageCode:     string(v.LanguageCode),
				LanguageName:     aws.ToString(v.LanguageName),
				SupportedEngines: engines,
			})
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	sort.Slice(voices, func(i, j int) bool {
		return voices[i].ID < voices[j].ID
	})

	if encoded, err := json.Marshal(voices); err == nil {
		if err := c.Redis.Set(voiceCacheKey, encoded, c.CacheTTL).Err(); err != nil {
			c.Logger.Warn("Unable to cache voice catalog",
				zap.Error(err),
			)
		}
	}

	return voices, nil
}
