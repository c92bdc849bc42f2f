package signature

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSecret = "channel-secret"

var bodies = []string{
	``,
	`{"events":[]}`,
	`{"destination":"U1","events":[{"type":"message","replyToken":"r","source":{"userId":"U2"},"message":{"type":"text","text":"おはよう"}}]}`,
}

func TestVerify_AcceptsCorrectSignature(t *testing.T) {
	for _, body := range bodies {
		header := Encode([]byte(body), testSecret)
		require.True(t, Verify([]byte(body), header, testSecret), "body=%q", body)
	}
}

func TestVerify_RejectsBodyMutation(t *testing.T) {
	for _, body := range bodies {
		if body == "" {
			continue
		}
		header := Encode([]byte(body), testSecret)
		for i := range body {
			mutated := []byte(body)
			mutated[i] ^= 0x01
			require.False(t, Verify(mutated, header, testSecret), "body=%q byte=%d", body, i)
		}
	}
}

func TestVerify_RejectsSignatureMutation(t *testing.T) {
	body := []byte(bodies[2])
	raw := Sign(body, testSecret)
	for i := range raw {
		mutated := append([]byte(nil), raw...)
		mutated[i] ^= 0x80
		header := base64.StdEncoding.EncodeToString(mutated)
		require.False(t, Verify(body, header, testSecret), "byte=%d", i)
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	body := []byte(bodies[1])
	require.False(t, Verify(body, Encode(body, "other-secret"), testSecret))
}

func TestVerify_RejectsMalformedInput(t *testing.T) {
	body := []byte(bodies[1])
	require.False(t, Verify(body, "", testSecret))
	require.False(t, Verify(body, "   ", testSecret))
	require.False(t, Verify(body, "not base64!!", testSecret))
	require.False(t, Verify(body, Encode(body, ""), ""))
}
