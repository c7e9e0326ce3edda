package logging

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeConnectionString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"url", "postgres://app:s3cret@db:5432/ctx", "postgres://[REDACTED]@[REDACTED]/ctx"},
		{"keyword", "server=sql01;user id=ro;password=hunter2;database=emr", "server=sql01;user id=ro;password=[REDACTED];database=emr"},
		{"no credentials", "host=localhost port=5432", "host=localhost port=5432"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeConnectionString(tt.in))
		})
	}
}

func TestSanitizeError(t *testing.T) {
	assert.Equal(t, "", SanitizeError(nil))

	tests := []struct {
		name    string
		err     error
		secret  string
		keepsIn string
	}{
		{"password", errors.New("login failed: pwd=hunter2"), "hunter2", "login failed"},
		{"bearer", errors.New("401 for Bearer eyJhbGciOi.eyJzdWIi.c2lnbmF0dXJl"), "eyJzdWIi", "401 for Bearer"},
		{"openai key", errors.New("invalid api key sk-proj-abcdefghijklmnop1234"), "abcdefghijklmnop", "invalid api key"},
		{"anthropic key", errors.New("auth: sk-ant-REDACTED"), "ABCDEFGHIJKLMNOP", "auth:"},
		{"conn string", errors.New("dial postgres://app:pw@10.0.0.4:5432 refused"), "app:pw", "refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeError(tt.err)
			assert.NotContains(t, got, tt.secret)
			assert.Contains(t, got, tt.keepsIn)
			assert.Contains(t, got, RedactedText)
		})
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abc...", TruncateString("abcdef", 3))
	// "é" is two bytes; cutting inside it backs up to the rune start.
	assert.Equal(t, "ab...", TruncateString("abé", 3))
}

func TestSanitizeQuestion(t *testing.T) {
	long := strings.Repeat("q", MaxQuestionLogLength+10)
	got := SanitizeQuestion(long)
	assert.Len(t, got, MaxQuestionLogLength+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}
