package speech

import (
	"testing"

	"github.com/utterlabs/utter/fault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	t.Run("DefaultsToMP3", func(t *testing.T) {
		f, err := ParseFormat("")
		require.NoError(t, err)
		assert.Equal(t, FormatMP3, f)
	})

	t.Run("Supported", func(t *testing.T) {
		for _, name := range []string{"mp3", "wav", "ogg"} {
			f, err := ParseFormat(name)
			require.NoError(t, err)
			assert.Equal(t, Format(name), f)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := ParseFormat("flac")
		require.Error(t, err)
		assert.Equal(t, fault.KindUnsupportedFormat, fault.KindOf(err))
	})
}

func TestParseEngine(t *testing.T) {
	t.Run("DefaultsToStandard", func(t *testing.T) {
		e, err := ParseEngine("")
		require.NoError(t, err)
		assert.Equal(t, EngineStandard, e)
	})

	t.Run("Neural", func(t *testing.T) {
		e, err := ParseEngine("neural")
		require.NoError(t, err)
		assert.Equal(t, EngineNeural, e)
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := ParseEngine("generative")
		require.Error(t, err)
		assert.Equal(t, fault.KindUnsupportedEngine, fault.KindOf(err))
	})
}

func TestFormatContentType(t *testing.T) {
	assert.Equal(t, "audio/mpeg", FormatMP3.ContentType())
	assert.Equal(t, "audio/wav", FormatWAV.ContentType())
	assert.Equal(t, "audio/ogg", FormatOGG.ContentType())
}

func TestEstimateDuration(t *testing.T) {
	t.Run("EmptyText", func(t *testing.T) {
		assert.Equal(t, int64(0), EstimateDuration("", 150))
		assert.Equal(t, int64(0), EstimateDuration("   ", 150))
	})

	t.Run("SingleWordRoundsUp", func(t *testing.T) {
		assert.Equal(t, int64(1), EstimateDuration("hello", 150))
	})

	t.Run("ExactMinute", func(t *testing.T) {
		words := make([]byte, 0, 150*2)
		for i := 0; i < 150; i++ {
			words = append(words, 'a', ' ')
		}
		assert.Equal(t, int64(60), EstimateDuration(string(words), 150))
	})

	t.Run("ZeroWPMFallsBackToDefault", func(t *testing.T) {
		assert.Equal(t, EstimateDuration("one two three", DefaultWordsPerMinute), EstimateDuration("one two three", 0))
	})
}

func TestVoiceSupportsEngine(t *testing.T) {
	v := Voice{
		ID:               "Joanna",
		SupportedEngines: []string{"standard", "neural"},
	}
	assert.True(t, v.SupportsEngine(EngineStandard))
	assert.True(t, v.SupportsEngine(EngineNeural))

	standardOnly := Voice{
		ID:               "Carla",
		SupportedEngines: []string{"standard"},
	}
	assert.False(t, standardOnly.SupportsEngine(EngineNeural))
}
