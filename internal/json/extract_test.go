package json

import (
	"errors"
	"reflect"
	"testing"
)

func TestPureArray(t *testing.T) {
	got, err := ExtractStringList(`["summarize", "extract"]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"summarize", "extract"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestArrayInCodeBlock(t *testing.T) {
	response := "```json\n[\"summarize\"]\n```"
	got, err := ExtractStringList(response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "summarize" {
		t.Errorf("expected [summarize], got %v", got)
	}
}

func TestArrayInPlainCodeBlock(t *testing.T) {
	response := "```\n[\"a\", \"b\"]\n```"
	got, err := ExtractStringList(response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 items, got %v", got)
	}
}

func TestFlowsObject(t *testing.T) {
	got, err := ExtractStringList(`{"flows": ["tag", "link"]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"tag", "link"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestArrayWithCommentary(t *testing.T) {
	response := `Run these next: ["tag", "link"] and stop.`
	got, err := ExtractStringList(response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"tag", "link"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestMalformedArrayRepaired(t *testing.T) {
	response := "Plan:\n['draft', 'edit',]\nDone."
	got, err := ExtractStringList(response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"draft", "edit"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestEmptyArray(t *testing.T) {
	got, err := ExtractStringList(`[]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty list, got %v", got)
	}
}

func TestNotAList(t *testing.T) {
	cases := []string{
		"I think you should summarize it.",
		`{"name": "test"}`,
		`[1, 2, 3]`,
		`null`,
		"",
	}
	for _, c := range cases {
		_, err := ExtractStringList(c)
		if err == nil {
			t.Errorf("expected error for %q", c)
			continue
		}
		if !errors.Is(err, ErrNotAList) {
			t.Errorf("expected ErrNotAList for %q, got %v", c, err)
		}
	}
}

func TestErrorPreviewTruncated(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "x"
	}
	_, err := ExtractStringList(long)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(err.Error()) > 200 {
		t.Errorf("expected truncated preview, got %d chars", len(err.Error()))
	}
}
