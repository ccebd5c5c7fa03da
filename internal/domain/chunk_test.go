package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification_IsValid(t *testing.T) {
	assert.True(t, ClassificationCitable.IsValid())
	assert.True(t, ClassificationPrivate.IsValid())
	assert.False(t, Classification("public").IsValid())
	assert.False(t, Classification("").IsValid())
}

func TestValidateSource(t *testing.T) {
	valid := &Source{
		ID:             "src-1",
		OrgID:          "org-1",
		ChatbotID:      "bot-1",
		Name:           "handbook.pdf",
		Classification: ClassificationCitable,
	}
	assert.NoError(t, ValidateSource(valid))

	assert.Error(t, ValidateSource(nil))

	missing := *valid
	missing.OrgID = ""
	assert.Error(t, ValidateSource(&missing))

	badClass := *valid
	badClass.Classification = "internal"
	assert.Equal(t, ErrInvalidClassification, ValidateSource(&badClass))
}

func TestValidateKnowledgeChunk(t *testing.T) {
	valid := &KnowledgeChunk{
		SourceID:  "src-1",
		OrgID:     "org-1",
		ChatbotID: "bot-1",
		Content:   "Our refund policy allows returns within 30 days.",
	}
	assert.NoError(t, ValidateKnowledgeChunk(valid))

	assert.Error(t, ValidateKnowledgeChunk(nil))

	empty := *valid
	empty.Content = ""
	assert.Error(t, ValidateKnowledgeChunk(&empty))
}
