package domain

// Citation links a marker in the answer text to a citable provenance entry.
type Citation struct {
	Index    int    `json:"index"`
	SourceID string `json:"sourceId"`
}

// GenerationResult is the raw output of a generation call, before the
// privacy sentinel has vetted it.
type GenerationResult struct {
	AnswerText       string
	Citations        []Citation
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	LatencyMS        int64
}

// QueryResult is the vetted result returned to the caller.
type QueryResult struct {
	AnswerText     string     `json:"answerText"`
	Citations      []Citation `json:"citations"`
	ConversationID string     `json:"conversationId"`
	LatencyMS      int64      `json:"latencyMs"`
	CostUSD        float64    `json:"costUsd"`
	// Degraded marks history-only or breaker-open fallback answers.
	Degraded bool `json:"degraded,omitempty"`
}
