package testutils

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/extraction"
	"github.com/ahrav/go-beacon/internal/ports"
)

func TestMockAdapter_Run(t *testing.T) {
	m := NewMockAdapter("mock-1").
		AddResponse(MockResponse{Pattern: "Compare", Response: AnswerAbsent}).
		AddResponse(MockResponse{Pattern: "outage", Err: errors.New("503")})

	tests := []struct {
		name     string
		prompt   string
		override string
		want     string
		wantErr  bool
		model    string
	}{
		{name: "matches pattern case-insensitively", prompt: "please compare vendors", want: AnswerAbsent, model: "mock-1"},
		{name: "falls back to perfect answer", prompt: "best payroll vendor?", want: AnswerPerfect, model: "mock-1"},
		{name: "injected error", prompt: "simulate outage", wantErr: true, model: "mock-1"},
		{name: "model override", prompt: "anything", override: "mock-2", want: AnswerPerfect, model: "mock-2"},
		{name: "empty prompt", prompt: "", wantErr: true, model: "mock-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Run(context.Background(), "sys", tt.prompt, tt.override)
			assert.Equal(t, tt.model, got.ModelUsed)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, got.RawText)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.RawText)
			assert.Positive(t, got.Latency)
		})
	}
	assert.Len(t, m.Calls(), len(tests))
}

func TestMockAdapter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockAdapter("m").Run(ctx, "", "hi", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCannedAnswers(t *testing.T) {
	assert.Equal(t, extraction.Parsed, extraction.Evaluate(AnswerPerfect).Kind)
	assert.Equal(t, extraction.Parsed, extraction.Evaluate(AnswerAbsent).Kind)
	assert.Equal(t, extraction.Invalid, extraction.Evaluate(AnswerInvalid).Kind)
	assert.Equal(t, extraction.NoCandidate, extraction.Evaluate(AnswerProse).Kind)
}

func TestMockAdapterSource(t *testing.T) {
	src := NewMockAdapterSource(map[domain.Provider]ports.Adapter{
		domain.ProviderGoogle: NewMockAdapter("g"),
		domain.ProviderOpenAI: NewMockAdapter("o"),
	})
	assert.Equal(t, []domain.Provider{domain.ProviderOpenAI, domain.ProviderGoogle}, src.EnabledProviders())

	_, err := src.Adapter(domain.ProviderAnthropic)
	assert.ErrorIs(t, err, ports.ErrProviderDisabled)
	a, err := src.Adapter(domain.ProviderGoogle)
	require.NoError(t, err)
	assert.NotNil(t, a)
}
