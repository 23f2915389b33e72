package playback_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/book-expert/speech-notifier/internal/playback"
)

func TestEncodePlay_RoundTripsAnyPath(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		path := rapid.StringN(1, 200, -1).Draw(rt, "path")
		volume := rapid.Float64Range(0, 2).Draw(rt, "volume")

		line, err := playback.EncodePlay("job-1", path, volume)
		if err != nil {
			rt.Fatalf("encode: %v", err)
		}

		if strings.ContainsAny(line, "\r\n") {
			rt.Fatalf("line contains a line break: %q", line)
		}

		msg, err := playback.ParseLine(line)
		if err != nil {
			rt.Fatalf("parse: %v", err)
		}

		if msg.Path != path || msg.JobID != "job-1" || msg.Volume != volume {
			rt.Fatalf("round trip mismatch: %+v", msg)
		}
	})
}

func TestEncodePlay_PathTooLong(t *testing.T) {
	t.Parallel()

	_, err := playback.EncodePlay("job-1", "/"+strings.Repeat("a", playback.MaxLineLength), 1)
	require.ErrorIs(t, err, playback.ErrPathTooLong)
}

func TestEncodeFail_FlattensMessage(t *testing.T) {
	t.Parallel()

	line := playback.EncodeFail("job-1", "device\nunavailable\r\n")

	msg, err := playback.ParseLine(line)
	require.NoError(t, err)
	assert.Equal(t, playback.Message{
		Command: playback.CommandFail,
		JobID:   "job-1",
		Detail:  "device unavailable",
	}, msg)
}

func TestParseLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line    string
		want    playback.Message
		wantErr bool
	}{
		{line: "READY", want: playback.Message{Command: playback.CommandReady}},
		{line: "QUIT", want: playback.Message{Command: playback.CommandQuit}},
		{line: "DONE abc", want: playback.Message{Command: playback.CommandDone, JobID: "abc"}},
		{line: "DONE abc\r", want: playback.Message{Command: playback.CommandDone, JobID: "abc"}},
		{line: "FAIL abc", want: playback.Message{Command: playback.CommandFail, JobID: "abc"}},
		{line: "READY now", wantErr: true},
		{line: "DONE", wantErr: true},
		{line: "DONE a b", wantErr: true},
		{line: "PLAY abc !!! 1", wantErr: true},
		{line: "PLAY abc L3RtcA one", wantErr: true},
		{line: "PLAY abc", wantErr: true},
		{line: "HELLO", wantErr: true},
		{line: "", wantErr: true},
	}

	for _, testCase := range tests {
		t.Run(testCase.line, func(t *testing.T) {
			t.Parallel()

			msg, err := playback.ParseLine(testCase.line)
			if testCase.wantErr {
				require.ErrorIs(t, err, playback.ErrMalformedLine)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, testCase.want, msg)
		})
	}
}
