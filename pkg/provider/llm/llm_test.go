package llm

import "testing"

func TestKnownCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model      string
		wantCtx    int
		wantOutput int
	}{
		{model: "gpt-4o-mini", wantCtx: 128_000, wantOutput: 16_384},
		{model: "gpt-4", wantCtx: 8_192, wantOutput: 4_096},
		{model: "gpt-3.5-turbo", wantCtx: 16_385, wantOutput: 4_096},
		{model: "o3-mini", wantCtx: 200_000, wantOutput: 100_000},
		{model: "claude-3-5-haiku-latest", wantCtx: 200_000, wantOutput: 8_192},
		{model: "gemini-2.0-flash", wantCtx: 1_048_576, wantOutput: 8_192},
		{model: "llama3.2", wantCtx: 128_000, wantOutput: 4_096},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			got := KnownCapabilities(tt.model)
			if got.ContextWindow != tt.wantCtx || got.MaxOutputTokens != tt.wantOutput {
				t.Errorf("got %+v, want ctx %d out %d", got, tt.wantCtx, tt.wantOutput)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	msgs := []Message{{Content: "abcd"}, {Content: "abcdefgh"}}
	if got := EstimateTokens(msgs); got != 1+4+2+4 {
		t.Errorf("EstimateTokens = %d, want 11", got)
	}
	if EstimateTokens(nil) != 0 {
		t.Error("EstimateTokens(nil) != 0")
	}
}
