package platform

import (
	"encoding/json"
	"fmt"
)

type ItemType string

const (
	ItemMultipleChoice ItemType = "multiple_choice"
	ItemFillBlank      ItemType = "fill_blank"
	ItemBoolean        ItemType = "boolean"
	ItemCoding         ItemType = "coding_challenge"
	ItemEssay          ItemType = "essay"
)

// ItemPayload is the per-type question body embedded in a TestItem.
type ItemPayload interface {
	itemPayload()
}

// MultipleChoiceQuestion expects an option index as the answer.
// CorrectOption is only populated on authoring/grading paths; student
// responses never see it.
type MultipleChoiceQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectOption *int     `json:"correct_option,omitempty"`
}

// FillBlankQuestion expects a free-text answer compared against the
// accepted answers (case-insensitive).
type FillBlankQuestion struct {
	Question        string   `json:"question"`
	AcceptedAnswers []string `json:"accepted_answers,omitempty"`
}

// BooleanQuestion expects true/false.
type BooleanQuestion struct {
	Question      string `json:"question"`
	CorrectAnswer *bool  `json:"correct_answer,omitempty"`
}

// CodingProblem expects a CodeAnswer; graded manually or by the judge.
type CodingProblem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Language    string `json:"language,omitempty"`
	StarterCode string `json:"starter_code,omitempty"`
}

// EssayPrompt expects free text; always graded manually.
type EssayPrompt struct {
	Prompt   string `json:"prompt"`
	MinWords int    `json:"min_words,omitempty"`
}

func (MultipleChoiceQuestion) itemPayload() {}
func (FillBlankQuestion) itemPayload()      {}
func (BooleanQuestion) itemPayload()        {}
func (CodingProblem) itemPayload()          {}
func (EssayPrompt) itemPayload()            {}

// CodeAnswer is the structured response to a CodingProblem.
type CodeAnswer struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// TestItem is one question within a test, identified by ID within that
// test. Payload is a tagged union keyed by Type.
type TestItem struct {
	ID      int64       `json:"id"`
	Order   int         `json:"order"`
	Points  float64     `json:"points"`
	Type    ItemType    `json:"type"`
	Payload ItemPayload `json:"payload"`
}

func (it *TestItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      int64           `json:"id"`
		Order   int             `json:"order"`
		Points  float64         `json:"points"`
		Type    ItemType        `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	it.ID, it.Order, it.Points, it.Type = raw.ID, raw.Order, raw.Points, raw.Type

	if len(raw.Payload) == 0 {
		return fmt.Errorf("test item %d: missing payload", raw.ID)
	}
	var p ItemPayload
	switch raw.Type {
	case ItemMultipleChoice:
		p = &MultipleChoiceQuestion{}
	case ItemFillBlank:
		p = &FillBlankQuestion{}
	case ItemBoolean:
		p = &BooleanQuestion{}
	case ItemCoding:
		p = &CodingProblem{}
	case ItemEssay:
		p = &EssayPrompt{}
	default:
		return fmt.Errorf("test item %d: unknown type %q", raw.ID, raw.Type)
	}
	if err := json.Unmarshal(raw.Payload, p); err != nil {
		return fmt.Errorf("test item %d: %w", raw.ID, err)
	}
	it.Payload = p
	return nil
}

func (it TestItem) MarshalJSON() ([]byte, error) {
	if it.Payload == nil {
		return nil, fmt.Errorf("test item %d: nil payload", it.ID)
	}
	return json.Marshal(struct {
		ID      int64       `json:"id"`
		Order   int         `json:"order"`
		Points  float64     `json:"points"`
		Type    ItemType    `json:"type"`
		Payload ItemPayload `json:"payload"`
	}{it.ID, it.Order, it.Points, it.Type, it.Payload})
}

// Sanitized returns a copy safe to serve to students: answer keys
// removed from every payload variant.
func (it TestItem) Sanitized() TestItem {
	switch p := it.Payload.(type) {
	case *MultipleChoiceQuestion:
		cp := *p
		cp.CorrectOption = nil
		it.Payload = &cp
	case *FillBlankQuestion:
		cp := *p
		cp.AcceptedAnswers = nil
		it.Payload = &cp
	case *BooleanQuestion:
		cp := *p
		cp.CorrectAnswer = nil
		it.Payload = &cp
	}
	return it
}
