package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// MaxBatchItems bounds the number of sub-items in one batch-generate task.
const MaxBatchItems = 20

// ContentKind selects what a generate-content task produces.
type ContentKind string

// Supported content kinds
const (
	ContentKindTitle   ContentKind = "title"
	ContentKindSummary ContentKind = "summary"
	ContentKindExcerpt ContentKind = "excerpt"
	ContentKindTags    ContentKind = "tags"
	ContentKindOutline ContentKind = "outline"
	ContentKindArticle ContentKind = "article"
)

// IsValid reports whether k is a supported content kind.
func (k ContentKind) IsValid() bool {
	switch k {
	case ContentKindTitle, ContentKindSummary, ContentKindExcerpt,
		ContentKindTags, ContentKindOutline, ContentKindArticle:
		return true
	}
	return false
}

// WritingAction selects the writing-assistant transform.
type WritingAction string

// Supported writing actions
const (
	WritingActionImprove    WritingAction = "improve"
	WritingActionExpand     WritingAction = "expand"
	WritingActionShorten    WritingAction = "shorten"
	WritingActionRephrase   WritingAction = "rephrase"
	WritingActionContinue   WritingAction = "continue"
	WritingActionFixGrammar WritingAction = "fix-grammar"
	WritingActionTranslate  WritingAction = "translate"
	WritingActionChangeTone WritingAction = "change-tone"
)

// IsValid reports whether a is a supported writing action.
func (a WritingAction) IsValid() bool {
	switch a {
	case WritingActionImprove, WritingActionExpand, WritingActionShorten,
		WritingActionRephrase, WritingActionContinue, WritingActionFixGrammar,
		WritingActionTranslate, WritingActionChangeTone:
		return true
	}
	return false
}

// GenerateContentParams are the parameters of a generate-content task.
type GenerateContentParams struct {
	Type     ContentKind `json:"type"`
	Content  string      `json:"content"`
	Title    string      `json:"title,omitempty"`
	Keywords []string    `json:"keywords,omitempty"`
}

// Validate checks the parameters.
func (p GenerateContentParams) Validate() error {
	if !p.Type.IsValid() {
		return invalidParams("type", fmt.Sprintf("has unsupported value %q", p.Type))
	}
	if strings.TrimSpace(p.Content) == "" {
		return invalidParams("content", "is required")
	}
	return nil
}

// BatchGenerateParams are the parameters of a batch-generate task.
type BatchGenerateParams struct {
	Items []GenerateContentParams `json:"items"`
}

// Validate checks the batch size only. Items are validated one by one while
// the batch runs so a bad item fails alone.
func (p BatchGenerateParams) Validate() error {
	if len(p.Items) == 0 {
		return invalidParams("items", "must contain at least one item")
	}
	if len(p.Items) > MaxBatchItems {
		return invalidParams("items", fmt.Sprintf("must contain at most %d items", MaxBatchItems))
	}
	return nil
}

// AnalyzeParams are the parameters of an analyze task.
type AnalyzeParams struct {
	Content string   `json:"content"`
	Aspects []string `json:"aspects,omitempty"`
}

// DefaultAnalyzeAspects are used when no aspects are requested.
var DefaultAnalyzeAspects = []string{"readability", "seo", "sentiment", "structure"}

// Validate checks the parameters.
func (p AnalyzeParams) Validate() error {
	if strings.TrimSpace(p.Content) == "" {
		return invalidParams("content", "is required")
	}
	for _, aspect := range p.Aspects {
		if !slices.Contains(DefaultAnalyzeAspects, aspect) {
			return invalidParams("aspects", fmt.Sprintf("has unsupported value %q", aspect))
		}
	}
	return nil
}

// WritingAssistantParams are the parameters of a writing-assistant task.
type WritingAssistantParams struct {
	Action   WritingAction `json:"action"`
	Text     string        `json:"text"`
	Tone     string        `json:"tone,omitempty"`
	Language string        `json:"language,omitempty"`
}

// Validate checks the parameters.
func (p WritingAssistantParams) Validate() error {
	if !p.Action.IsValid() {
		return invalidParams("action", fmt.Sprintf("has unsupported value %q", p.Action))
	}
	if strings.TrimSpace(p.Text) == "" {
		return invalidParams("text", "is required")
	}
	if p.Action == WritingActionTranslate && p.Language == "" {
		return invalidParams("language", "is required for translate")
	}
	if p.Action == WritingActionChangeTone && p.Tone == "" {
		return invalidParams("tone", "is required for change-tone")
	}
	return nil
}

// DecodeParams decodes and validates raw params for taskType.
func DecodeParams(taskType TaskType, raw json.RawMessage) (any, error) {
	var (
		params interface{ Validate() error }
		err    error
	)

	switch taskType {
	case TaskTypeGenerateContent:
		var p GenerateContentParams
		err = json.Unmarshal(raw, &p)
		params = p
	case TaskTypeBatchGenerate:
		var p BatchGenerateParams
		err = json.Unmarshal(raw, &p)
		params = p
	case TaskTypeAnalyze:
		var p AnalyzeParams
		err = json.Unmarshal(raw, &p)
		params = p
	case TaskTypeWritingAssistant:
		var p WritingAssistantParams
		err = json.Unmarshal(raw, &p)
		params = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTaskType, taskType)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTaskParams, err)
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}

	return params, nil
}

func invalidParams(field, message string) error {
	return NewValidationError(field, message, ErrInvalidTaskParams)
}
