package detector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTextInput(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"plain text", "hello", false},
		{"empty", "", true},
		{"whitespace only", "  \n\t ", true},
		{"padded text", "  hi  ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := NewTextInput(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidInput))
				var verr *ValidationError
				assert.True(t, errors.As(err, &verr))
				assert.Equal(t, "text", verr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, InputText, in.Kind)
			assert.Equal(t, tt.text, in.Text)
			assert.Len(t, in.Hash, 64)
		})
	}
}

func TestNewFileInput(t *testing.T) {
	_, err := NewFileInput(nil, "empty.bin", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)

	in, err := NewFileInput([]byte("abc"), "a.txt", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, InputFile, in.Kind)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", in.Hash)
	assert.Equal(t, 3, in.Size())
	assert.Equal(t, "file-scan", in.Kind.Source())

	view := in.WithText("abc")
	assert.Equal(t, InputText, view.Kind)
	assert.Equal(t, in.Hash, view.Hash)
	assert.Equal(t, "a.txt", view.Filename)
}

func TestParseCapability(t *testing.T) {
	c, err := ParseCapability("phishing")
	require.NoError(t, err)
	assert.Equal(t, CapabilityPhishing, c)

	_, err = ParseCapability("astrology")
	assert.ErrorIs(t, err, ErrUnknownCapability)
}

func TestCapabilityRank(t *testing.T) {
	assert.Equal(t, 0, CapabilityPhishing.Rank())
	assert.Equal(t, 6, CapabilityDataQuality.Rank())
	assert.Less(t, CapabilitySensitiveData.Rank(), CapabilityFileThreat.Rank())
	assert.Equal(t, len(PriorityOrder), Capability("nope").Rank())
	assert.NotContains(t, TextCapabilities, CapabilityFileThreat)
}

func TestResultValidate(t *testing.T) {
	tests := []struct {
		name    string
		result  Result
		wantErr bool
	}{
		{"clean", CleanResult(CapabilityPhishing), false},
		{"unavailable", UnavailableResult(CapabilityPhishing), false},
		{"error", ErrorResult(CapabilityPhishing, "timed out"), false},
		{"flagged", Result{Capability: CapabilityPhishing, Status: StatusFlagged, Confidence: Confidence(0.9)}, false},
		{"flagged without confidence", Result{Capability: CapabilityPhishing, Status: StatusFlagged}, true},
		{"unavailable with findings", Result{Capability: CapabilityPhishing, Status: StatusUnavailable, Findings: []string{"x"}}, true},
		{"confidence out of range", Result{Capability: CapabilityPhishing, Status: StatusClean, Confidence: Confidence(1.5)}, true},
		{"unknown capability", Result{Capability: "x", Status: StatusClean}, true},
		{"unknown status", Result{Capability: CapabilityPhishing, Status: "maybe"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Run("positive above floor is flagged", func(t *testing.T) {
		r := Normalize(CapabilityPhishing, Verdict{
			Positive: true,
			Score:    0.8,
			Label:    "phishing",
			Findings: []string{"urgent language"},
		}, 0.5)
		assert.Equal(t, StatusFlagged, r.Status)
		require.NotNil(t, r.Confidence)
		assert.InDelta(t, 0.8, *r.Confidence, 1e-9)
		assert.Equal(t, []string{"urgent language"}, r.Findings)
		assert.Equal(t, "phishing", r.RawDetail["label"])
		assert.NoError(t, r.Validate())
	})

	t.Run("positive below floor is downgraded", func(t *testing.T) {
		r := Normalize(CapabilityPhishing, Verdict{
			Positive: true,
			Score:    0.3,
			Findings: []string{"weak signal"},
		}, 0.5)
		assert.Equal(t, StatusClean, r.Status)
		assert.Empty(t, r.Findings)
		assert.Equal(t, []string{"weak signal"}, r.RawDetail["suppressed_findings"])
	})

	t.Run("negative is clean", func(t *testing.T) {
		r := Normalize(CapabilityCodeInjection, Verdict{Score: 0.9}, 0.5)
		assert.Equal(t, StatusClean, r.Status)
		assert.Nil(t, r.Confidence)
	})

	t.Run("score is clamped", func(t *testing.T) {
		r := Normalize(CapabilityFileThreat, Verdict{Positive: true, Score: 3, Tier: "critical"}, 0)
		assert.Equal(t, 1.0, r.ConfidenceValue())
		assert.Equal(t, "critical", r.Tier)
		assert.NotNil(t, r.Findings)
	})
}
