package envelope

import (
	"encoding/json"
	"testing"

	"github.com/lightflow/lightflow/internal/model"
)

func raw(v string) json.RawMessage { return json.RawMessage(`"` + v + `"`) }

func TestForkRoundTrip(t *testing.T) {
	e := model.Envelope{
		Slices: []model.Slice{
			{Slot: "x", Payload: raw("1"), History: []string{"A"}},
		},
		Aliases: map[string]string{"in": "x"},
	}
	f := Fork(e)
	merged := Merge([]ParentEnvelope{{ParentName: "A", Envelope: f}})
	if len(merged.Slices) != 1 || merged.Slices[0].Slot != "x" {
		t.Fatalf("round trip changed slices: %+v", merged.Slices)
	}
	if len(merged.Slices[0].History) != 1 || merged.Slices[0].History[0] != "A" {
		t.Fatalf("history not preserved: %+v", merged.Slices[0].History)
	}
}

func TestMergeDisambiguatesDuplicateSlotNames(t *testing.T) {
	b := model.Envelope{Slices: []model.Slice{{Slot: "x", Payload: raw("b"), History: []string{"A", "B"}}}}
	c := model.Envelope{Slices: []model.Slice{{Slot: "x", Payload: raw("c"), History: []string{"A", "C"}}}}

	merged := Merge([]ParentEnvelope{
		{ParentName: "B", Envelope: b},
		{ParentName: "C", Envelope: c},
	})

	if len(merged.Slices) != 2 {
		t.Fatalf("expected 2 slices, got %d", len(merged.Slices))
	}
	if merged.Slices[0].Slot != "B.x" || merged.Slices[1].Slot != "C.x" {
		t.Fatalf("expected parent-prefixed slot names, got %s / %s", merged.Slices[0].Slot, merged.Slices[1].Slot)
	}
}

func TestMergeKeepsUniqueSlotNamesUnprefixed(t *testing.T) {
	b := model.Envelope{Slices: []model.Slice{{Slot: "x", Payload: raw("1")}}}
	c := model.Envelope{Slices: []model.Slice{{Slot: "y", Payload: raw("2")}}}

	merged := Merge([]ParentEnvelope{
		{ParentName: "B", Envelope: b},
		{ParentName: "C", Envelope: c},
	})

	if merged.Slices[0].Slot != "x" || merged.Slices[1].Slot != "y" {
		t.Fatalf("unique slot names should stay unprefixed, got %s / %s", merged.Slices[0].Slot, merged.Slices[1].Slot)
	}
}

func TestSelectForTaskUnknownAlias(t *testing.T) {
	e := model.Envelope{Slices: []model.Slice{{Slot: "x", Payload: raw("1")}}}
	_, err := SelectForTask(e, map[string]string{"in": "missing"}, false)
	if err == nil {
		t.Fatal("expected UnknownAlias error")
	}
}

func TestSelectForTaskEmptyInputStrict(t *testing.T) {
	e := model.Envelope{}
	_, err := SelectForTask(e, nil, true)
	if err == nil {
		t.Fatal("expected EmptyInput error under strict policy")
	}
}

func TestSelectForTaskEmptyInputLenient(t *testing.T) {
	e := model.Envelope{}
	view, err := SelectForTask(e, nil, false)
	if err != nil {
		t.Fatalf("lenient policy should not error: %v", err)
	}
	if len(view) != 0 {
		t.Fatalf("expected empty view, got %+v", view)
	}
}

func TestSelectForTaskDefaultsToAll(t *testing.T) {
	e := model.Envelope{Slices: []model.Slice{{Slot: "x", Payload: raw("1")}, {Slot: "y", Payload: raw("2")}}}
	view, err := SelectForTask(e, nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view) != 2 {
		t.Fatalf("expected both slots selected by name, got %+v", view)
	}
}

func TestAppendHistoryIsAppendOnly(t *testing.T) {
	s := model.Slice{Slot: "x", History: []string{"A"}}
	s2 := AppendHistory(s, "B")
	if len(s.History) != 1 {
		t.Fatalf("original history mutated: %+v", s.History)
	}
	if len(s2.History) != 2 || s2.History[1] != "B" {
		t.Fatalf("expected history [A B], got %+v", s2.History)
	}
}
