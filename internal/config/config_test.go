// Package config_test tests the configuration loading for the speech notifier.
package config_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-notifier/internal/config"
	"github.com/book-expert/speech-notifier/internal/core"
)

const sampleConfig = `
[speech]
enabled = true
api_key = "secret"
default_voice = "alice"
sample_rate = 24000
volume = -3.5
rate = 9
cache_dir = "/var/cache/voices"
some_future_option = "ignored"

[speech.voices]
alice = "ref-alice"
kenji = { id = "ref-kenji", language = "JA" }

[local_voice]
gender = "female"

[playback]
worker_binary = "/usr/local/bin/playback-worker"
idle_timeout_seconds = 60

[nats]
url = "nats://127.0.0.1:4222"
cache_bucket = "VOICE_CACHE"

[paths]
base_logs_dir = "/tmp/logs"

[unknown_section]
anything = 1
`

func newTestHandle(t *testing.T) *config.Handle {
	t.Helper()

	cfg, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	return config.NewHandle(cfg)
}

func TestParse(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.True(t, cfg.Speech.Enabled)
	assert.Equal(t, "secret", cfg.Speech.APIKey)
	assert.Equal(t, config.DefaultEndpoint, cfg.Speech.Endpoint)
	assert.Equal(t, 24000, cfg.Speech.SampleRate)
	assert.InEpsilon(t, -3.5, cfg.Speech.Volume, 0.001)
	assert.InEpsilon(t, config.MaxRate, cfg.Speech.Rate, 0.001)
	assert.Equal(t, "/var/cache/voices", cfg.Speech.CacheDir)
	assert.Equal(t, config.FailureSkip, cfg.Speech.OnOnlineFailure)
	assert.Equal(t, core.GenderFemale, cfg.LocalVoice.Gender)
	assert.Equal(t, config.DefaultLocalBinary, cfg.LocalVoice.Binary)
	assert.Equal(t, 60, cfg.Playback.IdleTimeoutSeconds)
	assert.Equal(t, config.DefaultSpeakSubject, cfg.NATS.SpeakSubject)
	assert.Equal(t, "VOICE_CACHE", cfg.NATS.CacheBucket)
	assert.Equal(t, "/tmp/logs", cfg.Paths.BaseLogsDir)
}

func TestParse_VoiceShapesNormalize(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, config.VoiceEntry{ID: "ref-alice", Language: "en"}, cfg.Speech.Voices["alice"])
	assert.Equal(t, config.VoiceEntry{ID: "ref-kenji", Language: "ja"}, cfg.Speech.Voices["kenji"])
	assert.Nil(t, cfg.Speech.RawVoices)
}

func TestParse_InvalidVoiceEntry(t *testing.T) {
	t.Parallel()

	_, err := config.Parse([]byte("[speech.voices]\nbad = 3\n"))
	require.ErrorIs(t, err, config.ErrInvalidVoiceEntry)
}

func TestParse_InvalidFailurePolicy(t *testing.T) {
	t.Parallel()

	_, err := config.Parse([]byte("[speech]\non_online_failure = \"retry\"\n"))
	require.ErrorIs(t, err, config.ErrInvalidFailurePolicy)
}

func TestClampRate(t *testing.T) {
	t.Parallel()

	assert.InEpsilon(t, config.DefaultRate, config.ClampRate(0), 0.001)
	assert.InEpsilon(t, config.MinRate, config.ClampRate(0.1), 0.001)
	assert.InEpsilon(t, config.MaxRate, config.ClampRate(12), 0.001)
	assert.InEpsilon(t, 1.7, config.ClampRate(1.7), 0.001)
}

func TestSaveFile_RoundTrip(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	require.NoError(t, config.SaveFile(path, cfg))

	loaded, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, cfg.Speech.Voices, loaded.Speech.Voices)
	assert.Equal(t, cfg.Speech.DefaultVoice, loaded.Speech.DefaultVoice)
	assert.Equal(t, cfg.Playback.WorkerBinary, loaded.Playback.WorkerBinary)
}

func TestResolveVoice_FallbackOrder(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	voice, ok := cfg.Speech.ResolveVoice("kenji")
	require.True(t, ok)
	assert.Equal(t, "kenji", voice.Name)
	assert.False(t, voice.IsDefault)

	voice, ok = cfg.Speech.ResolveVoice("missing")
	require.True(t, ok)
	assert.Equal(t, "alice", voice.Name)
	assert.True(t, voice.IsDefault)

	cfg.Speech.DefaultVoice = ""
	voice, ok = cfg.Speech.ResolveVoice("")
	require.True(t, ok)
	assert.Equal(t, "alice", voice.Name, "first voice in name order")

	cfg.Speech.Voices = map[string]config.VoiceEntry{}
	_, ok = cfg.Speech.ResolveVoice("")
	assert.False(t, ok)
}

func TestHandle_DeleteDefaultVoiceRejected(t *testing.T) {
	t.Parallel()

	handle := newTestHandle(t)

	err := handle.DeleteVoice("alice")
	require.ErrorIs(t, err, config.ErrDeleteDefaultVoice)
	assert.Contains(t, handle.Current().Speech.Voices, "alice")
}

func TestHandle_DeleteVoice(t *testing.T) {
	t.Parallel()

	handle := newTestHandle(t)
	before := handle.Current()

	require.NoError(t, handle.DeleteVoice("kenji"))
	assert.NotContains(t, handle.Current().Speech.Voices, "kenji")
	assert.Contains(t, before.Speech.Voices, "kenji", "snapshots are never mutated")

	err := handle.DeleteVoice("kenji")
	require.ErrorIs(t, err, config.ErrVoiceNotFound)
}

func TestHandle_AddUpdateAndDefault(t *testing.T) {
	t.Parallel()

	handle := newTestHandle(t)

	require.NoError(t, handle.AddVoice("marie", "ref-marie", "FR"))
	require.ErrorIs(t, handle.AddVoice("marie", "ref-other", ""), config.ErrVoiceExists)
	require.ErrorIs(t, handle.AddVoice("", "ref", ""), config.ErrVoiceNameEmpty)
	require.ErrorIs(t, handle.AddVoice("x", "", ""), config.ErrProviderIDEmpty)

	require.NoError(t, handle.UpdateVoice("marie", "ref-marie-2", ""))
	assert.Equal(t, config.VoiceEntry{ID: "ref-marie-2", Language: "en"}, handle.Current().Speech.Voices["marie"])
	require.ErrorIs(t, handle.UpdateVoice("nobody", "ref", ""), config.ErrVoiceNotFound)

	require.NoError(t, handle.SetDefaultVoice("marie"))
	assert.Equal(t, "marie", handle.Current().Speech.DefaultVoice)
	require.ErrorIs(t, handle.SetDefaultVoice("nobody"), config.ErrVoiceNotFound)

	require.NoError(t, handle.DeleteVoice("alice"))

	names := make([]string, 0)
	for _, voice := range handle.Voices() {
		names = append(names, voice.Name)
	}

	assert.Equal(t, []string{"kenji", "marie"}, names)
}

func TestHandle_SubscribeReceivesUpdates(t *testing.T) {
	t.Parallel()

	handle := newTestHandle(t)
	updates, unsubscribe := handle.Subscribe()

	defer unsubscribe()

	require.NoError(t, handle.SetDefaultVoice("kenji"))
	require.NoError(t, handle.AddVoice("marie", "ref-marie", "fr"))

	latest := <-updates
	assert.Equal(t, "kenji", latest.Speech.DefaultVoice)
	assert.Contains(t, latest.Speech.Voices, "marie", "only the latest value is kept")
}

func TestHandle_MergeDetectedVoices(t *testing.T) {
	t.Parallel()

	handle := newTestHandle(t)

	added := handle.MergeDetectedVoices(map[string]core.Voice{
		"alice":  {Name: "alice", Language: "de"},
		"legacy": {Name: "legacy", Language: "ko"},
	})

	assert.Equal(t, 1, added)
	assert.Equal(t, "en", handle.Current().Speech.Voices["alice"].Language, "declared voices win")
	assert.Equal(t, config.VoiceEntry{Language: "ko"}, handle.Current().Speech.Voices["legacy"])
}

func TestSaveFile_DetectedDefaultLanguageRoundTrips(t *testing.T) {
	t.Parallel()

	handle := newTestHandle(t)
	require.Equal(t, 1, handle.MergeDetectedVoices(map[string]core.Voice{
		"legacy": {Name: "legacy", Language: ""},
	}))

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, config.SaveFile(path, handle.Current()))

	loaded, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, config.VoiceEntry{Language: ""}, loaded.Speech.Voices["legacy"])
	assert.Equal(t, "en", loaded.Speech.Voices["alice"].Language)
	assert.Equal(t, "ja", loaded.Speech.Voices["kenji"].Language)
}

func TestParse_TableVoiceWithoutLanguageSpeaksEnglish(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte("[speech.voices]\nbob = { id = \"ref-bob\" }\n"))
	require.NoError(t, err)
	assert.Equal(t, config.VoiceEntry{ID: "ref-bob", Language: "en"}, cfg.Speech.Voices["bob"])
}

func TestParse_Volumes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		local    float64
		playback float64
	}{
		{name: "unset", input: "", local: 1, playback: 1},
		{name: "muted", input: "[local_voice]\nvolume = 0\n[playback]\nvolume = 0\n", local: 0, playback: 0},
		{name: "set", input: "[local_voice]\nvolume = 0.4\n[playback]\nvolume = 1.5\n", local: 0.4, playback: 1.5},
		{name: "negative", input: "[local_voice]\nvolume = -1\n[playback]\nvolume = -2\n", local: 1, playback: 1},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := config.Parse([]byte(testCase.input))
			require.NoError(t, err)
			assert.InDelta(t, testCase.local, cfg.LocalVoice.Volume, 0.001)
			assert.InDelta(t, testCase.playback, cfg.Playback.Volume, 0.001)
		})
	}
}

func TestHandle_ReplaceAndUpdateDoNotLoseWrites(t *testing.T) {
	t.Parallel()

	handle := newTestHandle(t)
	updates, unsubscribe := handle.Subscribe()

	defer unsubscribe()

	reloaded := handle.Current().Clone()
	reloaded.Speech.Voices["reloaded"] = config.VoiceEntry{ID: "ref-reloaded", Language: "en"}

	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if i == 25 {
				handle.Replace(reloaded)

				return
			}

			name := "voice-" + strconv.Itoa(i)
			assert.NoError(t, handle.AddVoice(name, "ref-"+name, "en"))
		}()
	}

	wg.Wait()

	current := handle.Current()
	assert.Contains(t, current.Speech.Voices, "reloaded", "a concurrent update must not drop the reload")
	assert.Same(t, current, <-updates, "subscribers see the final configuration last")
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	log, err := logger.New(dir, "watch-test.log")
	require.NoError(t, err)

	handle := newTestHandle(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- config.Watch(ctx, path, handle, log)
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)

	updated := sampleConfig + "\n[metrics]\nlisten_addr = \":9100\"\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		return handle.Current().Metrics.ListenAddr == ":9100"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
