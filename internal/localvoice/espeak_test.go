package localvoice_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-notifier/internal/core"
	"github.com/book-expert/speech-notifier/internal/localvoice"
)

const voicesOutput = `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  af              --/M      Afrikaans          gmw/af
 5  en-us           --/F      English_(America)  gmw/en-US            (en 2)
 5  ja              --/-      Japanese           jpx/ja
 broken line
`

// writeScript creates an executable shell script standing in for espeak-ng.
func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "espeak-ng")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o700))

	return path
}

func newTestEngine(t *testing.T, binary string) *localvoice.Espeak {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	engine, err := localvoice.New(binary, log)
	require.NoError(t, err)

	return engine
}

func TestNew_EmptyBinary(t *testing.T) {
	t.Parallel()

	_, err := localvoice.New("", nil)
	require.ErrorIs(t, err, localvoice.ErrBinaryEmpty)
}

func TestParseVoices(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []core.LocalVoiceInfo{
		{Name: "Afrikaans", Language: "af", Gender: core.GenderMale},
		{Name: "English_(America)", Language: "en-us", Gender: core.GenderFemale},
		{Name: "Japanese", Language: "ja", Gender: core.GenderAny},
	}, localvoice.ParseVoices([]byte(voicesOutput)))
}

func TestEnumerateVoices(t *testing.T) {
	t.Parallel()

	outputFile := filepath.Join(t.TempDir(), "voices.txt")
	require.NoError(t, os.WriteFile(outputFile, []byte(voicesOutput), 0o600))

	engine := newTestEngine(t, writeScript(t, `[ "$1" = "--voices" ] || exit 2
cat "`+outputFile+`"`))

	voices, err := engine.EnumerateVoices(context.Background())
	require.NoError(t, err)
	assert.Len(t, voices, 3)
}

func TestEnumerateVoices_Failure(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, writeScript(t, `echo "no voices" >&2; exit 1`))

	_, err := engine.EnumerateVoices(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no voices")
}

func TestSpeak_PassesRateVolumeVoiceAndText(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	stdinFile := filepath.Join(dir, "stdin")

	engine := newTestEngine(t, writeScript(t, `echo "$@" > "`+argsFile+`"
cat > "`+stdinFile+`"`))

	err := engine.Speak(context.Background(), "Stack on me", "English_(America)", 2, 1.5)
	require.NoError(t, err)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "-s 350 -a 150 -v English_(America)", strings.TrimSpace(string(args)))

	stdin, err := os.ReadFile(stdinFile)
	require.NoError(t, err)
	assert.Equal(t, "Stack on me", string(stdin))
}

func TestSpeak_ClampsRateAndVolume(t *testing.T) {
	t.Parallel()

	argsFile := filepath.Join(t.TempDir(), "args")
	engine := newTestEngine(t, writeScript(t, `echo "$@" > "`+argsFile+`"`))

	require.NoError(t, engine.Speak(context.Background(), "hi", "", 10, 5))

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "-s 450 -a 200", strings.TrimSpace(string(args)))
}

func TestSpeak_Failure(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, writeScript(t, `echo "unknown voice" >&2; exit 1`))

	err := engine.Speak(context.Background(), "hi", "nope", 1, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown voice")
}

func TestStop_InterruptsSpeech(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, writeScript(t, `exec sleep 30`))

	result := make(chan error, 1)

	go func() {
		result <- engine.Speak(context.Background(), "long text", "", 1, 1)
	}()

	// Give the process time to start; Stop before that is a no-op.
	require.Eventually(t, func() bool {
		_ = engine.Stop()

		select {
		case err := <-result:
			assert.ErrorIs(t, err, localvoice.ErrInterrupted)

			return true
		default:
			return false
		}
	}, 10*time.Second, 50*time.Millisecond)
}

func TestStop_Idle(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, writeScript(t, `exit 0`))
	require.NoError(t, engine.Stop())
}
