package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Inbound
		wantErr bool
	}{
		{name: "valid", raw: `{"username":"ana","message":"hi"}`, want: Inbound{Username: "ana", Message: "hi"}},
		{name: "extra fields ignored", raw: `{"username":"ana","message":"hi","x":1}`, want: Inbound{Username: "ana", Message: "hi"}},
		{name: "empty strings", raw: `{"username":"","message":""}`, want: Inbound{}},
		{name: "unicode", raw: `{"username":"zoë","message":"été ☀"}`, want: Inbound{Username: "zoë", Message: "été ☀"}},
		{name: "not json", raw: `hello`, wantErr: true},
		{name: "truncated", raw: `{"username":"ana"`, wantErr: true},
		{name: "array", raw: `["ana","hi"]`, wantErr: true},
		{name: "missing message", raw: `{"username":"ana"}`, wantErr: true},
		{name: "missing username", raw: `{"message":"hi"}`, wantErr: true},
		{name: "numeric message", raw: `{"username":"ana","message":5}`, wantErr: true},
		{name: "null username", raw: `{"username":null,"message":"hi"}`, wantErr: true},
		{name: "empty", raw: ``, wantErr: true},
		{name: "invalid utf-8 in message", raw: "{\"username\":\"ana\",\"message\":\"\xff\xfe\"}", wantErr: true},
		{name: "invalid utf-8 in username", raw: "{\"username\":\"\xc3\",\"message\":\"hi\"}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.raw))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeOutboundVariants(t *testing.T) {
	mine, theirs, err := encodeOutbound(Inbound{Username: "ana", Message: "hi"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"isMe":true,"username":"ana","data":"hi"}`, string(mine))
	assert.JSONEq(t, `{"isMe":false,"username":"ana","data":"hi"}`, string(theirs))
}

func TestJoinNotice(t *testing.T) {
	assert.JSONEq(t, `{"isMe":true,"username":"You","data":"Have joined!!"}`, string(JoinNotice()))
}
