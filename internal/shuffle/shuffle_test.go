package shuffle

import (
	"reflect"
	"sort"
	"testing"

	"github.com/pavelanni/cbt/internal/model"
)

func testExam(shuffleQ, shuffleO bool) (model.ExamDefinition, map[int64]model.Question) {
	qs := map[int64]model.Question{}
	var ids []int64
	for id := int64(1); id <= 12; id++ {
		q := model.Question{ID: id, Type: model.QuestionTrueFalse}
		if id%2 == 0 {
			q.Type = model.QuestionMultipleChoice
			q.Options = make([]model.Option, 5)
		}
		qs[id] = q
		ids = append(ids, id)
	}
	return model.ExamDefinition{ID: 3, QuestionIDs: ids, ShuffleQuestions: shuffleQ, ShuffleOptions: shuffleO}, qs
}

func TestPresentIsDeterministic(t *testing.T) {
	e, qs := testExam(true, true)
	seed := SeedFor(e.ID, 42, 1)

	first := Present(e, qs, seed)
	for i := 0; i < 20; i++ {
		again := Present(e, qs, SeedFor(e.ID, 42, 1))
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("presentation changed on run %d:\n%v\n%v", i, first, again)
		}
	}
}

func TestPresentDiffersBySlot(t *testing.T) {
	e, qs := testExam(true, true)
	a := Present(e, qs, SeedFor(e.ID, 42, 1))
	b := Present(e, qs, SeedFor(e.ID, 42, 2))
	c := Present(e, qs, SeedFor(e.ID, 43, 1))
	if reflect.DeepEqual(a, b) && reflect.DeepEqual(a, c) {
		t.Error("expected different slots to produce different orders")
	}
}

func TestPresentWithoutShuffle(t *testing.T) {
	e, qs := testExam(false, false)
	items := Present(e, qs, SeedFor(e.ID, 1, 1))
	for i, it := range items {
		if it.QuestionID != e.QuestionIDs[i] {
			t.Fatalf("position %d: expected question %d, got %d", i, e.QuestionIDs[i], it.QuestionID)
		}
		if qs[it.QuestionID].Type != model.QuestionMultipleChoice {
			if it.OptionOrder != nil {
				t.Errorf("question %d: unexpected option order %v", it.QuestionID, it.OptionOrder)
			}
			continue
		}
		if !reflect.DeepEqual(it.OptionOrder, []int{0, 1, 2, 3, 4}) {
			t.Errorf("question %d: expected authored option order, got %v", it.QuestionID, it.OptionOrder)
		}
	}
}

func TestPresentShufflesIndependently(t *testing.T) {
	e, qs := testExam(false, true)
	items := Present(e, qs, SeedFor(e.ID, 1, 1))
	for i, it := range items {
		if it.QuestionID != e.QuestionIDs[i] {
			t.Fatalf("question order changed with shuffle_questions=false")
		}
		if it.OptionOrder == nil {
			continue
		}
		got := append([]int(nil), it.OptionOrder...)
		sort.Ints(got)
		if !reflect.DeepEqual(got, []int{0, 1, 2, 3, 4}) {
			t.Errorf("option order %v is not a permutation", it.OptionOrder)
		}
	}

	e, qs = testExam(true, false)
	items = Present(e, qs, SeedFor(e.ID, 1, 1))
	seen := map[int64]bool{}
	for _, it := range items {
		seen[it.QuestionID] = true
		if it.OptionOrder != nil && !reflect.DeepEqual(it.OptionOrder, []int{0, 1, 2, 3, 4}) {
			t.Errorf("options shuffled with shuffle_options=false: %v", it.OptionOrder)
		}
	}
	if len(seen) != len(e.QuestionIDs) {
		t.Errorf("expected every question exactly once, got %d distinct", len(seen))
	}
}

func TestAuthoredIndex(t *testing.T) {
	item := model.PresentationItem{QuestionID: 1, OptionOrder: []int{2, 0, 3, 1}}
	tests := []struct {
		displayed int
		want      int
		ok        bool
	}{
		{0, 2, true},
		{3, 1, true},
		{4, 0, false},
		{-1, 0, false},
	}
	for _, tt := range tests {
		got, ok := AuthoredIndex(item, tt.displayed)
		if got != tt.want || ok != tt.ok {
			t.Errorf("AuthoredIndex(%d) = %d, %v; want %d, %v", tt.displayed, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDisplayedIndexInvertsAuthoredIndex(t *testing.T) {
	item := model.PresentationItem{QuestionID: 1, OptionOrder: []int{2, 0, 3, 1}}
	for displayed := range item.OptionOrder {
		authored, _ := AuthoredIndex(item, displayed)
		got, ok := DisplayedIndex(item, authored)
		if !ok || got != displayed {
			t.Errorf("DisplayedIndex(%d) = %d, %v; want %d", authored, got, ok, displayed)
		}
	}
	if _, ok := DisplayedIndex(item, 7); ok {
		t.Error("DisplayedIndex(7) should not be found")
	}
}
