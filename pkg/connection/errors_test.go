package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseErrorBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		wantCode string
		wantDesc string
	}{
		{
			name:     "oauth2",
			body:     `{"error":"invalid_grant","error_description":"bad password"}`,
			wantCode: "invalid_grant",
			wantDesc: "bad password",
		},
		{
			name:     "nested error",
			body:     `{"error":{"code":"E42","message":"project is locked"}}`,
			wantCode: "E42",
			wantDesc: "project is locked",
		},
		{
			name:     "validation",
			body:     `{"code":"invalid_status","message":"unknown status"}`,
			wantCode: "invalid_status",
			wantDesc: "unknown status",
		},
		{
			name:     "numeric code",
			body:     `{"code":404,"message":"not found"}`,
			wantCode: "404",
			wantDesc: "not found",
		},
		{
			name:     "message only",
			body:     `{"message":"boom"}`,
			wantDesc: "boom",
		},
		{
			name:     "errors list",
			body:     `{"errors":[{"message":"a"},{"message":"b"}]}`,
			wantDesc: "a; b",
		},
		{
			name:     "plain text",
			body:     "Internal Server Error\n",
			wantDesc: "Internal Server Error",
		},
		{
			name:     "empty",
			body:     "",
			wantDesc: "Bad Gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, desc := parseErrorBody(http.StatusBadGateway, []byte(tt.body))
			require.Equal(t, tt.wantCode, code)
			require.Equal(t, tt.wantDesc, desc)
		})
	}
}

func TestResponseError_TruncatesBody(t *testing.T) {
	body := []byte(strings.Repeat("x", 2*maxErrorBody))
	err := newResponseError(http.MethodGet, "https://api.test/a", http.StatusInternalServerError, body)

	require.Len(t, err.Body, 2*maxErrorBody, "full body is kept")
	require.Less(t, len(err.Error()), maxErrorBody+100)
	require.True(t, strings.HasSuffix(err.Error(), "..."))
}

func TestTruncate_RuneBoundary(t *testing.T) {
	s := truncate([]byte("ééé"), 3) // 6 bytes, cut inside the second rune
	require.Equal(t, "é...", s)
}

func TestPredicates(t *testing.T) {
	conn := &ConnectivityError{Method: "GET", URL: "u", Err: context.DeadlineExceeded}
	auth := &AuthenticationError{StatusCode: 401}
	resp := &ResponseError{StatusCode: 404}
	dec := &DecodeError{Err: errors.New("bad json")}

	wrap := func(err error) error { return fmt.Errorf("describe project: %w", err) }

	require.True(t, IsConnectivity(wrap(conn)))
	require.True(t, IsTimeout(wrap(conn)))
	require.False(t, IsTimeout(&ConnectivityError{Err: errors.New("refused")}))

	require.True(t, IsAuthentication(wrap(auth)))
	require.False(t, IsResponse(wrap(auth)))

	require.True(t, IsResponse(wrap(resp)))
	require.True(t, IsNotFound(wrap(resp)))
	require.Equal(t, 401, StatusCode(auth))

	require.True(t, IsDecode(wrap(dec)))
	require.False(t, IsConnectivity(wrap(dec)))

	require.ErrorIs(t, &AuthenticationError{Err: ErrNoCredentials}, ErrNoCredentials)
}
