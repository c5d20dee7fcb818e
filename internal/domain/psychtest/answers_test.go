package psychtest

import (
	"strings"
	"testing"

	"github.com/clinicsuite/clinic/internal/platform/apperr"
)

func intPtr(n int) *int { return &n }

var sampleQuestions = []Question{
	{Text: "How do you feel today?", Type: QuestionText, Required: true},
	{Text: "Pick a colour", Type: QuestionMultipleChoice, Required: true, Options: []string{"red", "green"}},
	{Text: "Rate your sleep", Type: QuestionScale, Required: true, MinValue: intPtr(1), MaxValue: intPtr(5)},
	{Text: "Anything else?", Type: QuestionText},
	{Text: "Rate your mood", Type: QuestionScale},
}

func TestValidateResponses(t *testing.T) {
	tests := []struct {
		name      string
		responses Responses
		wantErr   string
	}{
		{"valid", Responses{"0": "fine", "1": "red", "2": float64(3)}, ""},
		{"numeric string scale", Responses{"0": "fine", "1": "green", "2": "5"}, ""},
		{"optional answered", Responses{"0": "fine", "1": "red", "2": 1.0, "3": "no", "4": 2.0}, ""},
		{"missing required", Responses{"1": "red"}, "missing answers for required questions: 0, 2"},
		{"blank required", Responses{"0": "  ", "1": "red", "2": 2.0}, "missing answers for required questions: 0"},
		{"scale above max", Responses{"0": "fine", "1": "red", "2": "6"}, "question 2: answer 6 is outside 1..5"},
		{"scale fraction", Responses{"0": "fine", "1": "red", "2": 2.5}, "question 2: answer must be a whole number"},
		{"default scale bounds", Responses{"0": "fine", "1": "red", "2": 1.0, "4": 0.0}, "question 4: answer 0 is outside 1..5"},
		{"choice not in options", Responses{"0": "fine", "1": "blue", "2": 1.0}, "question 1: answer must be one of red, green"},
		{"text not a string", Responses{"0": 42.0, "1": "red", "2": 1.0}, "question 0: answer must be text"},
		{"unknown key", Responses{"0": "fine", "1": "red", "2": 1.0, "9": "x"}, `unknown question key "9"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResponses(sampleQuestions, tt.responses)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.Contains(apperr.Message(err), tt.wantErr) {
				t.Errorf("expected message containing %q, got %q", tt.wantErr, apperr.Message(err))
			}
		})
	}
}

func TestValidateQuestions(t *testing.T) {
	tests := []struct {
		name      string
		questions []Question
		ok        bool
	}{
		{"sample", sampleQuestions, true},
		{"empty", nil, false},
		{"blank text", []Question{{Text: " ", Type: QuestionText}}, false},
		{"unknown type", []Question{{Text: "q", Type: "DATE"}}, false},
		{"choice with one option", []Question{{Text: "q", Type: QuestionMultipleChoice, Options: []string{"a"}}}, false},
		{"duplicate options", []Question{{Text: "q", Type: QuestionMultipleChoice, Options: []string{"a", "a"}}}, false},
		{"inverted scale", []Question{{Text: "q", Type: QuestionScale, MinValue: intPtr(5), MaxValue: intPtr(1)}}, false},
		{"options on text", []Question{{Text: "q", Type: QuestionText, Options: []string{"a", "b"}}}, false},
		{"bounds on choice", []Question{{Text: "q", Type: QuestionMultipleChoice, Options: []string{"a", "b"}, MaxValue: intPtr(3)}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuestions(tt.questions)
			if (err == nil) != tt.ok {
				t.Errorf("ok=%v, got err %v", tt.ok, err)
			}
		})
	}
}
