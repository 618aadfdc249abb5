package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClassifier struct {
	verdict Verdict
	err     error
	calls   int
}

func (s *stubClassifier) Classify(context.Context, string) (Verdict, error) {
	s.calls++
	return s.verdict, s.err
}

func TestCheckPatternBlockIsAuthoritative(t *testing.T) {
	classifier := &stubClassifier{verdict: Verdict{Allowed: true}}
	svc := NewService(classifier)

	err := svc.Check(context.Background(), "a torture scene in a basement")
	require.ErrorIs(t, err, ErrBlocked)
	assert.Contains(t, err.Error(), "graphic_violence")
	assert.Equal(t, 0, classifier.calls, "pattern block short-circuits the classifier")
}

func TestCheckCleanPromptPasses(t *testing.T) {
	svc := NewService(&stubClassifier{verdict: Verdict{Allowed: true}})
	assert.NoError(t, svc.Check(context.Background(), "a watercolor fox in a misty forest"))
}

func TestCheckClassifierBlocks(t *testing.T) {
	svc := NewService(&stubClassifier{verdict: Verdict{Allowed: false, Reason: "identity document"}})

	err := svc.Check(context.Background(), "seemingly innocent prompt")
	require.ErrorIs(t, err, ErrBlocked)
	assert.Contains(t, err.Error(), "identity document")
}

func TestCheckClassifierOutageFailsOpen(t *testing.T) {
	svc := NewService(&stubClassifier{err: errors.New("connection refused")})
	assert.NoError(t, svc.Check(context.Background(), "a watercolor fox"))
}

func TestCheckWithoutClassifier(t *testing.T) {
	svc := NewService(nil)
	assert.NoError(t, svc.Check(context.Background(), "a watercolor fox"))
	assert.Error(t, svc.Check(context.Background(), "pornographic scene"))
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		allowed bool
		wantErr bool
	}{
		{name: "allow", text: "ALLOW", allowed: true},
		{name: "allow lowercase", text: "allow", allowed: true},
		{name: "block with reason", text: "BLOCK: graphic gore", allowed: false},
		{name: "block bare", text: "BLOCK", allowed: false},
		{name: "garbage", text: "maybe?", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := parseVerdict(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, v.Allowed)
		})
	}
}
