package speech_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-notifier/internal/config"
	"github.com/book-expert/speech-notifier/internal/core"
	"github.com/book-expert/speech-notifier/internal/speech"
	"github.com/book-expert/speech-notifier/internal/tts"
)

type generateCall struct {
	text, language, voice string
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []generateCall
	err   error
}

func (g *fakeGenerator) Generate(_ context.Context, text, language, voiceName string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, generateCall{text, language, voiceName})
	if g.err != nil {
		return "", g.err
	}

	return "/cache/" + voiceName + ".audio", nil
}

type fakePlayer struct {
	played  []string
	err     error
	stopped int
}

func (p *fakePlayer) Play(_ context.Context, path string) error {
	p.played = append(p.played, path)

	return p.err
}

func (p *fakePlayer) Stop() {
	p.stopped++
}

type spoken struct {
	text, voice  string
	rate, volume float64
}

type fakeLocal struct {
	voices  []core.LocalVoiceInfo
	said    []spoken
	err     error
	stopped int
}

func (l *fakeLocal) EnumerateVoices(context.Context) ([]core.LocalVoiceInfo, error) {
	return l.voices, nil
}

func (l *fakeLocal) Speak(_ context.Context, text, voiceName string, rate, volume float64) error {
	l.said = append(l.said, spoken{text, voiceName, rate, volume})

	return l.err
}

func (l *fakeLocal) Stop() error {
	l.stopped++

	return nil
}

type fixture struct {
	cfg          *config.Config
	generator    *fakeGenerator
	player       *fakePlayer
	local        *fakeLocal
	translations *speech.StaticTranslations
	speaker      *speech.Speaker
}

func newFixture(t *testing.T, mutate func(cfg *config.Config)) *fixture {
	t.Helper()

	cfg := &config.Config{
		Speech: config.SpeechConfig{
			Enabled:         true,
			APIKey:          "secret",
			DefaultVoice:    "alice",
			OnOnlineFailure: config.FailureSkip,
			Voices: map[string]config.VoiceEntry{
				"alice": {ID: "ref-alice", Language: "en"},
			},
		},
		LocalVoice: config.LocalVoiceConfig{Gender: core.GenderFemale, Rate: 1.2, Volume: 0.8},
	}

	if mutate != nil {
		mutate(cfg)
	}

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	f := &fixture{
		cfg:       cfg,
		generator: &fakeGenerator{},
		player:    &fakePlayer{},
		local: &fakeLocal{voices: []core.LocalVoiceInfo{
			{Name: "Afrikaans", Language: "af", Gender: core.GenderMale},
			{Name: "English_Male", Language: "en-us", Gender: core.GenderMale},
			{Name: "English_Female", Language: "en-gb", Gender: core.GenderFemale},
		}},
		translations: speech.NewStaticTranslations(),
	}

	f.speaker = speech.NewSpeaker(
		config.NewHandle(cfg),
		f.generator,
		f.player,
		log,
		speech.WithLocalVoice(f.local),
		speech.WithTranslator(f.translations),
	)

	return f
}

func TestPlay_EmptyText(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	outcome, err := f.speaker.Play(context.Background(), speech.Request{Text: "  "})
	require.ErrorIs(t, err, speech.ErrEmptyText)
	assert.Equal(t, speech.OutcomeSkipped, outcome)
	assert.Empty(t, f.generator.calls)
	assert.Empty(t, f.local.said)
}

func TestPlay_OnlineSameLanguage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	outcome, err := f.speaker.Play(context.Background(), speech.Request{Text: "Stack on me", Language: "en-US"})
	require.NoError(t, err)
	assert.Equal(t, speech.OutcomeSpoken, outcome)
	assert.Equal(t, []generateCall{{"Stack on me", "en", "alice"}}, f.generator.calls)
	assert.Equal(t, []string{"/cache/alice.audio"}, f.player.played)
}

func TestPlay_CrossLanguageUsesTranslation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.translations.Add("d1", "stack", "en", "Stack on me")

	outcome, err := f.speaker.Play(context.Background(), speech.Request{
		Text:      "集合",
		Language:  "ja",
		Key:       "stack",
		DungeonID: "d1",
	})
	require.NoError(t, err)
	assert.Equal(t, speech.OutcomeSpoken, outcome)
	assert.Equal(t, []generateCall{{"Stack on me", "en", "alice"}}, f.generator.calls)
}

func TestPlay_CrossLanguageWithoutTranslationSkips(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *config.Config) {
		cfg.Speech.OnOnlineFailure = config.FailureFallbackLocal
	})

	outcome, err := f.speaker.Play(context.Background(), speech.Request{
		Text:     "集合 {player}",
		Language: "ja",
		Key:      "stack",
	})
	require.ErrorIs(t, err, speech.ErrNoTranslation)
	assert.Equal(t, speech.OutcomeSkipped, outcome)
	assert.Empty(t, f.generator.calls)
	assert.Empty(t, f.local.said, "a missing translation never falls back")
}

func TestPlay_OnlineFailureSkipsByDefault(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.generator.err = tts.ErrNetwork

	outcome, err := f.speaker.Play(context.Background(), speech.Request{Text: "Run", Language: "en"})
	require.ErrorIs(t, err, tts.ErrNetwork)
	assert.Equal(t, speech.OutcomeSkipped, outcome)
	assert.Empty(t, f.local.said)
}

func TestPlay_OnlineFailureFallsBackWhenConfigured(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *config.Config) {
		cfg.Speech.OnOnlineFailure = config.FailureFallbackLocal
	})
	f.player.err = errors.New("worker exited")

	outcome, err := f.speaker.Play(context.Background(), speech.Request{Text: "Soak 3 hits", Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, speech.OutcomeSpokenLocal, outcome)
	assert.Equal(t, []spoken{{"Soak three hits", "English_Female", 1.2, 0.8}}, f.local.said)
}

func TestPlay_NoVoicesFollowsPolicy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *config.Config) {
		cfg.Speech.Voices = nil
	})

	outcome, err := f.speaker.Play(context.Background(), speech.Request{Text: "Run", Language: "en"})
	require.ErrorIs(t, err, tts.ErrConfiguration)
	assert.Equal(t, speech.OutcomeSkipped, outcome)
}

func TestPlay_OfflineUsesLocalVoice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *config.Config) {
		cfg.Speech.Enabled = false
		cfg.LocalVoice.Gender = core.GenderMale
	})

	outcome, err := f.speaker.Play(context.Background(), speech.Request{Text: "deal 23 damage", Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, speech.OutcomeSpokenLocal, outcome)
	assert.Empty(t, f.generator.calls)
	assert.Equal(t, []spoken{{"deal twenty three damage", "English_Male", 1.2, 0.8}}, f.local.said)
}

func TestPlay_OfflineLocalFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *config.Config) {
		cfg.Speech.Enabled = false
	})
	f.local.err = errors.New("espeak missing")

	outcome, err := f.speaker.Play(context.Background(), speech.Request{Text: "Run", Language: "en"})
	require.Error(t, err)
	assert.Equal(t, speech.OutcomeSkipped, outcome)
}

func TestPlay_ConfigChangesApplyToNextRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	handle := config.NewHandle(f.cfg)
	speaker := speech.NewSpeaker(handle, f.generator, f.player, log, speech.WithLocalVoice(f.local))

	_, err = speaker.Play(context.Background(), speech.Request{Text: "Run", Language: "en"})
	require.NoError(t, err)

	require.NoError(t, handle.Update(func(cfg *config.Config) error {
		cfg.Speech.Enabled = false

		return nil
	}))

	outcome, err := speaker.Play(context.Background(), speech.Request{Text: "Run", Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, speech.OutcomeSpokenLocal, outcome)
}

func TestStop_SilencesEverything(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.speaker.Stop()

	assert.Equal(t, 1, f.player.stopped)
	assert.Equal(t, 1, f.local.stopped)
}

func TestSelectLocalVoice(t *testing.T) {
	t.Parallel()

	voices := []core.LocalVoiceInfo{
		{Name: "de-m", Language: "de", Gender: core.GenderMale},
		{Name: "en-m", Language: "en-us", Gender: core.GenderMale},
		{Name: "fr-f", Language: "fr", Gender: core.GenderFemale},
	}

	tests := []struct {
		name     string
		language string
		gender   core.Gender
		want     string
	}{
		{name: "language and gender", language: "en", gender: core.GenderMale, want: "en-m"},
		{name: "language over gender", language: "en-GB", gender: core.GenderFemale, want: "en-m"},
		{name: "gender when language missing", language: "ja", gender: core.GenderFemale, want: "fr-f"},
		{name: "first when nothing matches", language: "ja", gender: core.GenderAny, want: "de-m"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			voice, ok := speech.SelectLocalVoice(voices, testCase.language, testCase.gender)
			require.True(t, ok)
			assert.Equal(t, testCase.want, voice.Name)
		})
	}

	_, ok := speech.SelectLocalVoice(nil, "en", core.GenderAny)
	assert.False(t, ok)
}

func TestSameLanguage(t *testing.T) {
	t.Parallel()

	assert.True(t, speech.SameLanguage("en", "EN-us"))
	assert.True(t, speech.SameLanguage("en_GB", "en"))
	assert.True(t, speech.SameLanguage("", "ja"))
	assert.False(t, speech.SameLanguage("en", "ja"))
}

func TestLoadTranslations(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "translations.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[translation]]
dungeon = "d1"
key = "stack"
language = "en-US"
text = "Stack on me"

[[translation]]
key = "spread"
language = "en"
text = "Spread out"
`), 0o600))

	translations, err := speech.LoadTranslations(path)
	require.NoError(t, err)
	assert.Equal(t, 2, translations.Len())

	text, ok := translations.Translation("d1", "stack", "en")
	require.True(t, ok)
	assert.Equal(t, "Stack on me", text)

	text, ok = translations.Translation("d9", "spread", "en-GB")
	require.True(t, ok)
	assert.Equal(t, "Spread out", text)

	_, ok = translations.Translation("d9", "stack", "en")
	assert.False(t, ok)
}
