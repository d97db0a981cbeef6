// Package shuffle computes the per-attempt presentation order. The order is a
// pure function of the attempt seed, so it can be recomputed to verify a
// stored presentation but is always persisted at attempt creation.
package shuffle

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"github.com/pavelanni/cbt/internal/model"
)

// Seed is the PCG state derived from (exam, student, attempt number).
type Seed struct {
	Hi, Lo uint64
}

// SeedFor derives the seed for one attempt slot.
func SeedFor(examID, studentID int64, attemptNumber int) Seed {
	sum := sha256.Sum256([]byte(fmt.Sprintf("cbt:%d:%d:%d", examID, studentID, attemptNumber)))
	return Seed{
		Hi: binary.BigEndian.Uint64(sum[0:8]),
		Lo: binary.BigEndian.Uint64(sum[8:16]),
	}
}

// Present lays out the exam's questions for one attempt. questions supplies
// option counts for multiple_choice entries; anything else gets no option order.
func Present(e model.ExamDefinition, questions map[int64]model.Question, seed Seed) []model.PresentationItem {
	r := rand.New(rand.NewPCG(seed.Hi, seed.Lo))

	ids := append([]int64(nil), e.QuestionIDs...)
	if e.ShuffleQuestions {
		r.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	}

	items := make([]model.PresentationItem, len(ids))
	for i, id := range ids {
		items[i] = model.PresentationItem{QuestionID: id}
		q, ok := questions[id]
		if !ok || q.Type != model.QuestionMultipleChoice {
			continue
		}
		order := make([]int, len(q.Options))
		for k := range order {
			order[k] = k
		}
		if e.ShuffleOptions {
			r.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		items[i].OptionOrder = order
	}
	return items
}

// AuthoredIndex maps a displayed option position to the authored option index.
// ok is false when the position does not exist.
func AuthoredIndex(item model.PresentationItem, displayed int) (int, bool) {
	if displayed < 0 || displayed >= len(item.OptionOrder) {
		return 0, false
	}
	return item.OptionOrder[displayed], true
}

// DisplayedIndex is the inverse of AuthoredIndex.
func DisplayedIndex(item model.PresentationItem, authored int) (int, bool) {
	for i, a := range item.OptionOrder {
		if a == authored {
			return i, true
		}
	}
	return 0, false
}
