package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantRequest bool
		wantError   bool
		wantMethod  string
		wantKey     string
		expectErr   bool
	}{
		{
			name:        "request",
			line:        `{"method":"beta.ping","id":1,"params":{"x":1}}` + "\n",
			wantRequest: true,
			wantMethod:  "beta.ping",
			wantKey:     "1",
		},
		{
			name:    "result response",
			line:    `{"id":1,"result":"pong"}` + "\n",
			wantKey: "1",
		},
		{
			name:      "error response",
			line:      `{"id":"a-7","error":{"codename":"x","message":"y"}}`,
			wantError: true,
			wantKey:   `"a-7"`,
		},
		{
			name:      "null error still counts as error key",
			line:      `{"id":2,"error":null}`,
			wantError: true,
			wantKey:   "2",
		},
		{
			name:    "whitespace inside id is normalized",
			line:    `{"id": [1, 2], "result": true}`,
			wantKey: "[1,2]",
		},
		{
			name:      "malformed json",
			line:      `{"id":1,`,
			expectErr: true,
		},
		{
			name:      "not an object",
			line:      `[1,2,3]`,
			expectErr: true,
		},
		{
			name:      "empty line",
			line:      "\n",
			expectErr: true,
		},
		{
			name:      "method is not a string",
			line:      `{"method":5,"id":1}`,
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.line))
			if tt.expectErr {
				require.Error(t, err)
				assert.True(t, IsErrCode(err, ErrCodeInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRequest, msg.IsRequest())
			assert.Equal(t, tt.wantError, msg.HasError())
			assert.Equal(t, tt.wantMethod, msg.Method)
			assert.Equal(t, tt.wantKey, msg.CallKey())
		})
	}
}

func TestMessageHasID(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"method":"a.b"}`))
	require.NoError(t, err)
	assert.False(t, msg.HasID())

	msg, err = ParseMessage([]byte(`{"method":"a.b","id":null}`))
	require.NoError(t, err)
	assert.False(t, msg.HasID())

	msg, err = ParseMessage([]byte(`{"method":"a.b","id":0}`))
	require.NoError(t, err)
	assert.True(t, msg.HasID())
}

func TestSplitMethod(t *testing.T) {
	module, name, ok := SplitMethod("beta.ping")
	assert.True(t, ok)
	assert.Equal(t, "beta", module)
	assert.Equal(t, "ping", name)

	module, name, ok = SplitMethod("beta.ns.ping")
	assert.True(t, ok)
	assert.Equal(t, "beta", module)
	assert.Equal(t, "ns.ping", name)

	_, _, ok = SplitMethod("ping")
	assert.False(t, ok)
}

func TestErrorResponseEncode(t *testing.T) {
	resp := NewErrorResponse(json.RawMessage(`"x<1>"`), CodenameForbidden, "module a is not allowed to call b")
	line, msg, err := resp.Encode()
	require.NoError(t, err)

	assert.Equal(t, byte('\n'), line[len(line)-1])
	assert.Equal(t,
		`{"id":"x<1>","error":{"codename":"xrpc.forbidden","message":"module a is not allowed to call b"}}`+"\n",
		string(line))
	assert.False(t, msg.IsRequest())
	assert.True(t, msg.HasError())
	assert.Equal(t, `"x<1>"`, msg.CallKey())
}

func TestResultResponseEncode(t *testing.T) {
	resp := NewResultResponse(json.RawMessage(`4`), map[string]int{"n": 1})
	line, msg, err := resp.Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"id":4,"result":{"n":1}}`+"\n", string(line))
	assert.False(t, msg.HasError())

	assert.JSONEq(t, `{"n":1}`, string(msg.keys["result"]))
}

func TestErrorCodes(t *testing.T) {
	base := NewError(ErrCodeNotFound, "missing")
	wrapped := WrapError(ErrCodeInternal, "outer", base)

	assert.True(t, IsErrCode(base, ErrCodeNotFound))
	assert.Equal(t, ErrCodeInternal, GetErrorCode(wrapped))
	assert.Equal(t, "INTERNAL: outer: NOT_FOUND: missing", wrapped.Error())
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, "", GetErrorCode(nil))
}
