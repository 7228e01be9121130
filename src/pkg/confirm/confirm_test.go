package confirm

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptParsesAnswers(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"maybe\n", false},
		{"y", true},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			got, err := NewPrompt(strings.NewReader(tt.input), &out).Confirm(context.Background(), "Deploy?")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Deploy? (y/N)")
		})
	}
}

func TestPromptCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := NewPrompt(r, io.Discard).Confirm(ctx, "Switch traffic?")
	assert.False(t, got)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScripted(t *testing.T) {
	s := &Scripted{Answers: []bool{true, false}, Default: true}
	a1, _ := s.Confirm(context.Background(), "one")
	a2, _ := s.Confirm(context.Background(), "two")
	a3, _ := s.Confirm(context.Background(), "three")
	assert.Equal(t, []bool{true, false, true}, []bool{a1, a2, a3})
	assert.Equal(t, []string{"one", "two", "three"}, s.Asked)
}

func TestStatic(t *testing.T) {
	got, err := (&Static{Answer: false}).Confirm(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, got)
}
