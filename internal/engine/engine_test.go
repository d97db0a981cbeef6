package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/cbt/internal/exam"
	"github.com/pavelanni/cbt/internal/model"
	"github.com/pavelanni/cbt/internal/shuffle"
	"github.com/pavelanni/cbt/internal/store"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	eng   *Engine
	store *store.Store
	clock *fakeClock
	mc    int64 // 4 options, 5 marks, option 2 correct
	tf    int64 // 2 marks, answer "true"
	fill  int64 // 3 marks, answer "Abuja"
	essay int64 // 10 marks
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	f := &fixture{store: s, clock: &fakeClock{t: t0}}
	f.eng = New(s, f.clock.Now)

	insert := func(q model.Question) int64 {
		t.Helper()
		q.SubjectID, q.Active = 1, true
		id, err := s.InsertQuestion(ctx, q)
		if err != nil {
			t.Fatalf("InsertQuestion: %v", err)
		}
		return id
	}
	f.mc = insert(model.Question{Type: model.QuestionMultipleChoice, Text: "2+2?", Marks: 5, Options: []model.Option{
		{Text: "3"}, {Text: "5"}, {Text: "4", IsCorrect: true}, {Text: "22"},
	}})
	f.tf = insert(model.Question{Type: model.QuestionTrueFalse, Text: "Go has generics", Marks: 2, CorrectAnswer: "true"})
	f.fill = insert(model.Question{Type: model.QuestionFillBlank, Text: "Capital of Nigeria", Marks: 3, CorrectAnswer: "Abuja"})
	f.essay = insert(model.Question{Type: model.QuestionEssay, Text: "Discuss", Marks: 10})
	return f
}

func (f *fixture) draft(questionIDs ...int64) exam.Draft {
	return exam.Draft{
		Title:           "Mid-term",
		SubjectID:       1,
		TermID:          1,
		ClassroomIDs:    []int64{1},
		QuestionIDs:     questionIDs,
		DurationMinutes: 60,
		StartTime:       t0,
		EndTime:         t0.Add(8 * time.Hour),
		AttemptsAllowed: 1,
	}
}

func (f *fixture) publish(t *testing.T, d exam.Draft) int64 {
	t.Helper()
	ctx := context.Background()
	v, err := f.eng.CreateExam(ctx, d, 1)
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	if err := f.eng.PublishExam(ctx, v.ID); err != nil {
		t.Fatalf("PublishExam: %v", err)
	}
	return v.ID
}

func (f *fixture) start(t *testing.T, examID, studentID int64) model.Attempt {
	t.Helper()
	a, err := f.eng.StartAttempt(context.Background(), examID, studentID)
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	return a
}

// displayedPosition finds where an authored option is shown in an attempt.
func displayedPosition(t *testing.T, a model.Attempt, qid int64, authored int) int {
	t.Helper()
	item, ok := a.Item(qid)
	if !ok {
		t.Fatalf("question %d not in attempt", qid)
	}
	for pos, idx := range item.OptionOrder {
		if idx == authored {
			return pos
		}
	}
	t.Fatalf("option %d not shown", authored)
	return -1
}

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func TestCreateExamTotalMarks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.eng.CreateExam(ctx, f.draft(f.mc, f.tf, f.essay), 1)
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	if v.TotalMarks != 17 || v.Published {
		t.Errorf("expected unpublished exam worth 17, got %d published=%v", v.TotalMarks, v.Published)
	}

	q, _ := f.store.GetQuestion(ctx, f.tf)
	q.Marks = 12
	if _, err := f.store.ReviseQuestion(ctx, f.tf, q); err != nil {
		t.Fatalf("ReviseQuestion: %v", err)
	}
	got, err := f.eng.GetExam(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if got.TotalMarks != 27 {
		t.Errorf("total marks should be recomputed from the bank, got %d", got.TotalMarks)
	}

	bad := f.draft(f.mc)
	bad.DurationMinutes = 0
	var verr *model.ValidationError
	if _, err := f.eng.CreateExam(ctx, bad, 1); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestCloneExam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.publish(t, f.draft(f.mc, f.tf))
	f.start(t, src, 7)

	c, err := f.eng.CloneExam(ctx, src, 2)
	if err != nil {
		t.Fatalf("CloneExam: %v", err)
	}
	if c.ID == src || c.Published || c.TotalMarks != 7 || c.CreatedBy != 2 {
		t.Errorf("unexpected clone: %+v", c)
	}
	attempts, _ := f.store.ListAttempts(ctx, c.ID, 7)
	if len(attempts) != 0 {
		t.Errorf("clone should start with no attempts, got %d", len(attempts))
	}
}

func TestStartAttemptWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.eng.CreateExam(ctx, f.draft(f.mc), 1)
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	if _, err := f.eng.StartAttempt(ctx, v.ID, 7); !errors.Is(err, model.ErrExamClosed) {
		t.Errorf("unpublished exam: expected ErrExamClosed, got %v", err)
	}
	f.eng.PublishExam(ctx, v.ID)

	f.clock.Set(t0.Add(-time.Minute))
	if _, err := f.eng.StartAttempt(ctx, v.ID, 7); !errors.Is(err, model.ErrExamClosed) {
		t.Errorf("before window: expected ErrExamClosed, got %v", err)
	}
	f.clock.Set(t0.Add(8*time.Hour + time.Second))
	if _, err := f.eng.StartAttempt(ctx, v.ID, 7); !errors.Is(err, model.ErrExamClosed) {
		t.Errorf("after window: expected ErrExamClosed, got %v", err)
	}
	if _, err := f.eng.StartAttempt(ctx, 999, 7); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown exam: expected ErrNotFound, got %v", err)
	}

	f.clock.Set(t0.Add(10 * time.Minute))
	a := f.start(t, v.ID, 7)
	if a.Status != model.StatusInProgress || a.AttemptNumber != 1 {
		t.Errorf("unexpected attempt: %+v", a)
	}
	if !a.Deadline.Equal(t0.Add(70 * time.Minute)) {
		t.Errorf("expected deadline start+60m, got %v", a.Deadline)
	}
	if _, err := f.eng.StartAttempt(ctx, v.ID, 7); !errors.Is(err, model.ErrAttemptAlreadyInProgress) {
		t.Errorf("expected ErrAttemptAlreadyInProgress, got %v", err)
	}
}

func TestAttemptLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(f.tf)
	d.AttemptsAllowed = 2
	examID := f.publish(t, d)

	for i := 1; i <= 2; i++ {
		a := f.start(t, examID, 7)
		if a.AttemptNumber != i {
			t.Fatalf("expected attempt number %d, got %d", i, a.AttemptNumber)
		}
		if _, err := f.eng.SubmitAttempt(ctx, a.ID); err != nil {
			t.Fatalf("SubmitAttempt: %v", err)
		}
	}
	if _, err := f.eng.StartAttempt(ctx, examID, 7); !errors.Is(err, model.ErrAttemptLimitExceeded) {
		t.Errorf("expected ErrAttemptLimitExceeded, got %v", err)
	}
	// Other students are unaffected.
	f.start(t, examID, 8)
}

func TestConcurrentStart(t *testing.T) {
	f := newFixture(t)
	d := f.draft(f.mc, f.tf)
	d.AttemptsAllowed = 3
	examID := f.publish(t, d)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.eng.StartAttempt(context.Background(), examID, 7)
		}(i)
	}
	wg.Wait()

	var ok, busy int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrAttemptAlreadyInProgress):
			busy++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || busy != n-1 {
		t.Errorf("expected 1 start and %d rejections, got %d and %d", n-1, ok, busy)
	}
	attempts, _ := f.store.ListAttempts(context.Background(), examID, 7)
	if len(attempts) != 1 {
		t.Errorf("expected exactly one attempt row, got %d", len(attempts))
	}
}

func TestPresentationIsStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(f.mc, f.tf, f.fill, f.essay)
	d.ShuffleQuestions, d.ShuffleOptions = true, true
	examID := f.publish(t, d)

	a := f.start(t, examID, 7)
	for i := 0; i < 3; i++ {
		got, err := f.eng.GetAttempt(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetAttempt: %v", err)
		}
		if !reflect.DeepEqual(got.Presentation, a.Presentation) {
			t.Fatalf("presentation changed between reads:\n%v\n%v", a.Presentation, got.Presentation)
		}
	}

	def, _ := f.store.GetExam(ctx, examID)
	qs, _ := f.store.QuestionsByID(ctx, def.QuestionIDs)
	want := shuffle.Present(def, qs, shuffle.SeedFor(examID, 7, 1))
	if !reflect.DeepEqual(want, a.Presentation) {
		t.Errorf("stored presentation does not match its seed")
	}
}

func TestMultipleChoiceScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(f.mc)
	d.ShuffleOptions = true
	d.ShowResultsAfterSubmission, d.AllowReview = true, true
	examID := f.publish(t, d)

	a := f.start(t, examID, 7)
	pos := displayedPosition(t, a, f.mc, 2)
	ans, err := f.eng.RecordAnswer(ctx, a.ID, f.mc, model.AnswerValue{Option: intp(pos)})
	if err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	if *ans.SelectedOption != 2 {
		t.Errorf("expected authored index 2 to be stored, got %d", *ans.SelectedOption)
	}

	if _, err := f.eng.SubmitAttempt(ctx, a.ID); err != nil {
		t.Fatalf("SubmitAttempt: %v", err)
	}
	r, err := f.eng.GetStudentResult(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetStudentResult: %v", err)
	}
	if r.TotalScore != 5 || r.MaxScore != 5 || r.Percentage != 100 || r.LetterGrade != "A" {
		t.Errorf("expected 5/5 100%% A, got %+v", r)
	}
	if len(r.Answers) != 1 || r.Answers[0].IsCorrect == nil || !*r.Answers[0].IsCorrect {
		t.Errorf("expected reviewable correct answer, got %+v", r.Answers)
	}
}

func TestRecordAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	examID := f.publish(t, f.draft(f.mc, f.fill))
	a := f.start(t, examID, 7)

	if _, err := f.eng.RecordAnswer(ctx, a.ID, f.tf, model.AnswerValue{Text: strp("true")}); !errors.Is(err, model.ErrQuestionNotInAttempt) {
		t.Errorf("expected ErrQuestionNotInAttempt, got %v", err)
	}
	var verr *model.ValidationError
	if _, err := f.eng.RecordAnswer(ctx, a.ID, f.mc, model.AnswerValue{Option: intp(9)}); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for unknown option, got %v", err)
	}

	f.eng.RecordAnswer(ctx, a.ID, f.fill, model.AnswerValue{Text: strp("Lagos")})
	f.eng.RecordAnswer(ctx, a.ID, f.fill, model.AnswerValue{Text: strp(" abuja ")})
	got, _ := f.eng.GetAttempt(ctx, a.ID)
	if txt := got.Answers[f.fill].AnswerText; txt == nil || *txt != " abuja " {
		t.Errorf("expected last write to win, got %v", txt)
	}

	// Past the deadline the answer is refused and the attempt expires.
	f.clock.Set(t0.Add(61 * time.Minute))
	if _, err := f.eng.RecordAnswer(ctx, a.ID, f.fill, model.AnswerValue{Text: strp("late")}); !errors.Is(err, model.ErrAttemptClosed) {
		t.Errorf("expected ErrAttemptClosed, got %v", err)
	}
	got, _ = f.eng.GetAttempt(ctx, a.ID)
	if !got.Expired() || got.Status != model.StatusGraded {
		t.Errorf("expected expired and graded attempt, got %+v", got)
	}
	if m := got.Answers[f.fill].MarksObtained; m == nil || *m != 3 {
		t.Errorf("recorded answer should still be graded, got %v", m)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	examID := f.publish(t, f.draft(f.tf, f.fill))
	a := f.start(t, examID, 7)
	f.eng.RecordAnswer(ctx, a.ID, f.tf, model.AnswerValue{Text: strp("TRUE")})

	f.clock.Set(t0.Add(20 * time.Minute))
	first, err := f.eng.SubmitAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("SubmitAttempt: %v", err)
	}
	if first.Status != model.StatusGraded || first.SubmittedAt == nil || first.TimeTakenSeconds != 1200 {
		t.Errorf("unexpected submitted attempt: %+v", first)
	}
	r1, _ := f.eng.GetAttemptResult(ctx, a.ID)

	f.clock.Set(t0.Add(30 * time.Minute))
	second, err := f.eng.SubmitAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("second SubmitAttempt: %v", err)
	}
	if !second.SubmittedAt.Equal(*first.SubmittedAt) || second.TimeTakenSeconds != first.TimeTakenSeconds {
		t.Errorf("resubmit changed the attempt: %+v", second)
	}
	r2, _ := f.eng.GetAttemptResult(ctx, a.ID)
	if !reflect.DeepEqual(r1, r2) || r1.TotalScore != 2 || r1.MaxScore != 5 {
		t.Errorf("expected stable 2/5 result, got %+v and %+v", r1, r2)
	}
}

func TestSubmitAfterDeadlineExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	examID := f.publish(t, f.draft(f.tf))
	a := f.start(t, examID, 7)

	f.clock.Set(t0.Add(90 * time.Minute))
	got, err := f.eng.SubmitAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("SubmitAttempt: %v", err)
	}
	if !got.Expired() || got.TimeTakenSeconds != 3600 {
		t.Errorf("late submit should expire with time_taken = duration, got %+v", got)
	}
}

func TestSweepScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(f.mc, f.tf)
	d.AutoSubmit = true
	examID := f.publish(t, d)
	manual := f.publish(t, f.draft(f.tf))

	f.clock.Set(t0.Add(5 * time.Minute))
	a := f.start(t, examID, 7)
	other := f.start(t, manual, 7)

	f.clock.Set(t0.Add(64 * time.Minute))
	if n, err := f.eng.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("sweep before deadline: n=%d err=%v", n, err)
	}

	f.clock.Set(t0.Add(66 * time.Minute))
	n, err := f.eng.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired attempt, got %d", n)
	}

	got, _ := f.store.GetAttempt(ctx, a.ID)
	if !got.Expired() || got.TimeTakenSeconds != 3600 {
		t.Errorf("expected expired attempt with time_taken 3600, got %+v", got)
	}
	r, err := f.eng.GetAttemptResult(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAttemptResult: %v", err)
	}
	if r.TotalScore != 0 || r.Percentage != 0 || r.LetterGrade != "F" {
		t.Errorf("expected 0%% F, got %+v", r)
	}

	// auto_submit off: untouched by the sweep, expired on the next read.
	raw, _ := f.store.GetAttempt(ctx, other.ID)
	if raw.Status != model.StatusInProgress {
		t.Errorf("sweep should skip exams without auto_submit, got %s", raw.Status)
	}
	read, _ := f.eng.GetAttempt(ctx, other.ID)
	if !read.Expired() {
		t.Errorf("read past the deadline should expire the attempt, got %s", read.Status)
	}
}

func TestOverdueAttemptFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(f.tf)
	d.AttemptsAllowed = 2
	examID := f.publish(t, d)

	first := f.start(t, examID, 7)
	f.clock.Set(t0.Add(2 * time.Hour))
	second, err := f.eng.StartAttempt(ctx, examID, 7)
	if err != nil {
		t.Fatalf("StartAttempt after deadline: %v", err)
	}
	if second.AttemptNumber != 2 {
		t.Errorf("expected attempt 2, got %d", second.AttemptNumber)
	}
	got, _ := f.store.GetAttempt(ctx, first.ID)
	if !got.Expired() {
		t.Errorf("overdue attempt should have been expired, got %s", got.Status)
	}
}

func TestEssayPendingScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	examID := f.publish(t, f.draft(f.essay))
	a := f.start(t, examID, 7)
	f.eng.RecordAnswer(ctx, a.ID, f.essay, model.AnswerValue{Text: strp("Long answer")})

	if _, err := f.eng.GradeEssay(ctx, a.ID, f.essay, 5, 2); !errors.Is(err, model.ErrAttemptNotFinished) {
		t.Errorf("grading an open attempt: expected ErrAttemptNotFinished, got %v", err)
	}
	if _, err := f.eng.SubmitAttempt(ctx, a.ID); err != nil {
		t.Fatalf("SubmitAttempt: %v", err)
	}

	r, err := f.eng.GetAttemptResult(ctx, a.ID)
	if !errors.Is(err, model.ErrPendingManualGrading) {
		t.Fatalf("expected ErrPendingManualGrading, got %v", err)
	}
	if !r.PendingManualGrading || r.MaxScore != 0 || r.Percentage != 0 {
		t.Errorf("expected pending result with empty denominator, got %+v", r)
	}
	got, _ := f.store.GetAttempt(ctx, a.ID)
	if !got.PendingManualGrading {
		t.Error("attempt should be flagged pending_manual_grading")
	}
	if ans := got.Answers[f.essay]; ans.IsCorrect != nil || ans.MarksObtained != nil {
		t.Errorf("essay should stay ungraded, got %+v", ans)
	}

	var verr *model.ValidationError
	if _, err := f.eng.GradeEssay(ctx, a.ID, f.essay, 11, 2); !errors.As(err, &verr) {
		t.Errorf("marks above the maximum: expected ValidationError, got %v", err)
	}

	r, err = f.eng.GradeEssay(ctx, a.ID, f.essay, 7.5, 2)
	if err != nil {
		t.Fatalf("GradeEssay: %v", err)
	}
	if r.PendingManualGrading || r.TotalScore != 7.5 || r.MaxScore != 10 || r.Percentage != 75 || r.LetterGrade != "B" {
		t.Errorf("expected 7.5/10 B, got %+v", r)
	}
	got, _ = f.store.GetAttempt(ctx, a.ID)
	if got.PendingManualGrading {
		t.Error("pending flag should clear once every essay is graded")
	}

	// Submitting again must not drop the manual grade.
	f.eng.SubmitAttempt(ctx, a.ID)
	r, _ = f.eng.GetAttemptResult(ctx, a.ID)
	if r.TotalScore != 7.5 {
		t.Errorf("manual grade lost on resubmit: %+v", r)
	}
}

func TestGradeEssayRejectsOtherTypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	examID := f.publish(t, f.draft(f.tf))
	a := f.start(t, examID, 7)
	f.eng.SubmitAttempt(ctx, a.ID)

	if _, err := f.eng.GradeEssay(ctx, a.ID, f.tf, 1, 2); !errors.Is(err, model.ErrNotEssay) {
		t.Errorf("expected ErrNotEssay, got %v", err)
	}
	if _, err := f.eng.GradeEssay(ctx, a.ID, f.essay, 1, 2); !errors.Is(err, model.ErrQuestionNotInAttempt) {
		t.Errorf("expected ErrQuestionNotInAttempt, got %v", err)
	}
}

func TestStudentResultGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hidden := f.publish(t, f.draft(f.tf))
	a := f.start(t, hidden, 7)
	if _, err := f.eng.GetStudentResult(ctx, a.ID); !errors.Is(err, model.ErrResultsHidden) {
		t.Errorf("expected ErrResultsHidden, got %v", err)
	}

	d := f.draft(f.tf)
	d.ShowResultsAfterSubmission = true
	shown := f.publish(t, d)
	b := f.start(t, shown, 7)
	if _, err := f.eng.GetStudentResult(ctx, b.ID); !errors.Is(err, model.ErrAttemptNotFinished) {
		t.Errorf("expected ErrAttemptNotFinished, got %v", err)
	}
	f.eng.SubmitAttempt(ctx, b.ID)
	r, err := f.eng.GetStudentResult(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetStudentResult: %v", err)
	}
	if r.Answers != nil {
		t.Errorf("answers should be withheld without allow_review, got %+v", r.Answers)
	}
}

func TestCohortRanking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(f.mc, f.tf, f.fill)
	d.AttemptsAllowed = 2
	examID := f.publish(t, d)

	// Student 1: 10/10. Students 2 and 3: 5/10. Student 4: 2/10 then 3/10.
	answer := func(studentID int64, mc, tf, fill bool) {
		t.Helper()
		a := f.start(t, examID, studentID)
		if mc {
			f.eng.RecordAnswer(ctx, a.ID, f.mc, model.AnswerValue{Option: intp(displayedPosition(t, a, f.mc, 2))})
		}
		if tf {
			f.eng.RecordAnswer(ctx, a.ID, f.tf, model.AnswerValue{Text: strp("true")})
		}
		if fill {
			f.eng.RecordAnswer(ctx, a.ID, f.fill, model.AnswerValue{Text: strp("abuja")})
		}
		if _, err := f.eng.SubmitAttempt(ctx, a.ID); err != nil {
			t.Fatalf("SubmitAttempt: %v", err)
		}
	}
	answer(3, true, false, false)
	answer(1, true, true, true)
	answer(2, true, false, false)
	answer(4, false, true, false)
	answer(4, false, false, true)
	// In progress attempts are not ranked.
	f.start(t, examID, 5)

	ranking, err := f.eng.GetCohortRanking(ctx, examID)
	if err != nil {
		t.Fatalf("GetCohortRanking: %v", err)
	}
	wantPos := []int{1, 2, 2, 4}
	wantStudents := []int64{1, 2, 3, 4}
	wantScores := []float64{10, 5, 5, 3}
	if len(ranking) != len(wantPos) {
		t.Fatalf("expected %d entries, got %+v", len(wantPos), ranking)
	}
	for i, e := range ranking {
		if e.Position != wantPos[i] || e.StudentID != wantStudents[i] || e.TotalScore != wantScores[i] {
			t.Errorf("entry %d: got %+v", i, e)
		}
	}

	exp, err := f.eng.ExportExam(ctx, examID)
	if err != nil {
		t.Fatalf("ExportExam: %v", err)
	}
	if exp.TotalMarks != 10 || len(exp.Results) != 4 || exp.Results[0].Position != 1 || exp.Results[3].AttemptNumber != 2 {
		t.Errorf("unexpected export: %+v", exp)
	}
}

func TestTermAndSessionSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.ImportCatalog(ctx, model.Catalog{Terms: []model.Term{
		{ID: 1, Session: "2025/2026", Name: "First"},
		{ID: 2, Session: "2025/2026", Name: "Second"},
		{ID: 3, Session: "2025/2026", Name: "Third"},
	}}); err != nil {
		t.Fatalf("ImportCatalog: %v", err)
	}

	take := func(termID int64, tfAnswer string) {
		t.Helper()
		d := f.draft(f.tf)
		d.TermID = termID
		examID := f.publish(t, d)
		a := f.start(t, examID, 7)
		f.eng.RecordAnswer(ctx, a.ID, f.tf, model.AnswerValue{Text: strp(tfAnswer)})
		f.eng.SubmitAttempt(ctx, a.ID)
	}
	take(1, "true")
	take(1, "false")
	take(2, "true")

	ts, err := f.eng.GetTermSummary(ctx, 7, 1)
	if err != nil {
		t.Fatalf("GetTermSummary: %v", err)
	}
	if len(ts.Exams) != 2 || ts.AveragePercent != 50 || ts.LetterGrade != "D" {
		t.Errorf("expected two exams averaging 50%% D, got %+v", ts)
	}

	ss, err := f.eng.GetSessionSummary(ctx, 7, "2025/2026")
	if err != nil {
		t.Fatalf("GetSessionSummary: %v", err)
	}
	if len(ss.Terms) != 2 || ss.AveragePercent != 75 {
		t.Errorf("expected empty third term excluded and 75%% average, got %+v", ss)
	}
}

func TestCohortReadsCloseAbandonedAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	examA := f.publish(t, f.draft(f.tf))
	examB := f.publish(t, f.draft(f.fill))

	f.clock.Set(t0.Add(5 * time.Minute))
	done := f.start(t, examA, 7)
	f.eng.RecordAnswer(ctx, done.ID, f.tf, model.AnswerValue{Text: strp("true")})
	if _, err := f.eng.SubmitAttempt(ctx, done.ID); err != nil {
		t.Fatalf("SubmitAttempt: %v", err)
	}
	abandonedA := f.start(t, examA, 8)
	abandonedB := f.start(t, examB, 9)

	// auto_submit is off on both exams, so the sweep leaves them alone.
	f.clock.Set(t0.Add(5*time.Minute + 61*time.Minute))
	if n, err := f.eng.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("Sweep: n=%d err=%v", n, err)
	}

	t.Run("ranking", func(t *testing.T) {
		ranking, err := f.eng.GetCohortRanking(ctx, examA)
		if err != nil {
			t.Fatalf("GetCohortRanking: %v", err)
		}
		if len(ranking) != 2 || ranking[1].StudentID != 8 || ranking[1].Position != 2 || ranking[1].TotalScore != 0 {
			t.Fatalf("expected abandoned attempt ranked last with 0, got %+v", ranking)
		}
		got, _ := f.store.GetAttempt(ctx, abandonedA.ID)
		if !got.Expired() || got.Status != model.StatusGraded {
			t.Errorf("abandoned attempt should be expired and graded, got %s", got.Status)
		}
		exp, err := f.eng.ExportExam(ctx, examA)
		if err != nil {
			t.Fatalf("ExportExam: %v", err)
		}
		if len(exp.Results) != 2 || exp.Results[1].LetterGrade != "F" {
			t.Errorf("expected 2 export rows ending in F, got %+v", exp.Results)
		}
	})

	t.Run("term summary", func(t *testing.T) {
		ts, err := f.eng.GetTermSummary(ctx, 9, 1)
		if err != nil {
			t.Fatalf("GetTermSummary: %v", err)
		}
		if len(ts.Exams) != 1 || ts.Exams[0].ExamID != examB || ts.Exams[0].Percentage != 0 {
			t.Errorf("expected the abandoned exam at 0%%, got %+v", ts.Exams)
		}
		got, _ := f.store.GetAttempt(ctx, abandonedB.ID)
		if !got.Expired() {
			t.Errorf("abandoned attempt should be expired, got %s", got.Status)
		}
	})
}

func TestRunRejectsNonPositiveInterval(t *testing.T) {
	f := newFixture(t)
	for _, interval := range []time.Duration{0, -time.Second} {
		if err := f.eng.Run(context.Background(), interval); err == nil {
			t.Errorf("Run(%s): expected an error", interval)
		}
	}
}

func TestConcurrentRecordAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	examID := f.publish(t, f.draft(f.fill))
	a := f.start(t, examID, 7)

	const n = 8
	values := make([]string, n)
	for i := range values {
		values[i] = fmt.Sprintf("answer-%d", i)
	}
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.eng.RecordAnswer(ctx, a.ID, f.fill, model.AnswerValue{Text: strp(values[i])})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("writer %d: %v", i, err)
		}
	}
	got, err := f.eng.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if len(got.Answers) != 1 {
		t.Fatalf("expected one stored answer, got %d", len(got.Answers))
	}
	stored := got.Answers[f.fill].AnswerText
	if stored == nil {
		t.Fatal("expected a stored answer text")
	}
	found := false
	for _, v := range values {
		if *stored == v {
			found = true
		}
	}
	if !found {
		t.Errorf("stored answer %q is not one of the written values", *stored)
	}
}

func TestCloneRejectsRevisedQuestions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.publish(t, f.draft(f.mc, f.tf))
	f.start(t, src, 7)

	next, err := f.store.GetQuestion(ctx, f.tf)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	next.Marks = 4
	if _, err := f.store.ReviseQuestion(ctx, f.tf, next); err != nil {
		t.Fatalf("ReviseQuestion: %v", err)
	}

	_, err = f.eng.CloneExam(ctx, src, 2)
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !verr.Has("question_ids[1]") {
		t.Errorf("expected error on question_ids[1], got %+v", verr.Fields)
	}
}
