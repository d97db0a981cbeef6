package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/cbt/internal/bank"
	appI18n "github.com/pavelanni/cbt/internal/i18n"
	"github.com/pavelanni/cbt/internal/model"
	"github.com/pavelanni/cbt/internal/validate"
)

type createUserRequest struct {
	Username    string         `json:"username" validate:"required,min=3"`
	DisplayName string         `json:"display_name"`
	Password    string         `json:"password" validate:"required,min=8"`
	Role        model.UserRole `json:"role" validate:"required,oneof=student teacher admin"`
	ClassroomID *int64         `json:"classroom_id"`
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	verr := validate.Struct(req)
	if req.Role == model.UserRoleStudent && req.ClassroomID == nil {
		verr.Add("classroom_id", "this field is required for students")
	}
	if err := verr.OrNil(); err != nil {
		writeError(w, r, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}
	if req.Role != model.UserRoleStudent {
		req.ClassroomID = nil
	}

	u := model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		ClassroomID:  req.ClassroomID,
		Active:       true,
	}
	if u.ID, err = h.store.CreateUser(r.Context(), u); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "userID")
	if !ok {
		return
	}
	if id == model.UserFromContext(r.Context()).ID {
		writeMessage(w, r, http.StatusForbidden, "Forbidden")
		return
	}
	if err := h.store.ToggleUserActive(r.Context(), id); err != nil {
		slog.Error("failed to toggle user active", "id", id, "error", err)
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	var subjectID int64
	if s := r.URL.Query().Get("subject_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeMessage(w, r, http.StatusBadRequest, "BadRequest")
			return
		}
		subjectID = id
	}
	questions, err := h.store.ListQuestions(r.Context(), subjectID, model.Difficulty(r.URL.Query().Get("difficulty")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if questions == nil {
		questions = []model.Question{}
	}
	writeJSON(w, http.StatusOK, questions)
}

type uploadResponse struct {
	Message   string  `json:"message"`
	Duplicate bool    `json:"duplicate,omitempty"`
	IDs       []int64 `json:"ids"`
}

// handleUploadQuestions imports a JSON question file sent as the
// questions_file form field. Every record is validated before any is stored,
// and a file whose content was already imported under the same name is skipped.
func (h *Handler) handleUploadQuestions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "BadRequest")
		return
	}

	file, header, err := r.FormFile("questions_file")
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "BadRequest")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "BadRequest")
		return
	}

	hashBytes := sha256.Sum256(data)
	hash := hex.EncodeToString(hashBytes[:])

	storedHash, err := h.store.GetImportedFileHash(r.Context(), header.Filename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if storedHash == hash {
		writeJSON(w, http.StatusOK, uploadResponse{
			Message:   appI18n.T(r.Context(), "UploadDuplicate"),
			Duplicate: true,
			IDs:       []int64{},
		})
		return
	}

	var records []model.QuestionImport
	if err := json.Unmarshal(data, &records); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "BadRequest")
		return
	}

	questions, err := questionsFromImport(records)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ids := make([]int64, 0, len(questions))
	for _, q := range questions {
		id, err := h.store.InsertQuestion(r.Context(), q)
		if err != nil {
			writeError(w, r, fmt.Errorf("insert question: %w", err))
			return
		}
		ids = append(ids, id)
	}

	if err := h.store.SetImportedFileHash(r.Context(), header.Filename, hash); err != nil {
		slog.Error("failed to record import", "error", err)
	}

	slog.Info("uploaded questions", "filename", header.Filename, "count", len(ids))
	writeJSON(w, http.StatusCreated, uploadResponse{
		Message: appI18n.Tp(r.Context(), "QuestionsImported", len(ids)),
		IDs:     ids,
	})
}

// questionsFromImport converts every record or reports all invalid ones,
// prefixing field names with the record index.
func questionsFromImport(records []model.QuestionImport) ([]model.Question, error) {
	questions := make([]model.Question, 0, len(records))
	all := model.NewValidationError()
	for i, rec := range records {
		q, err := bank.FromImport(rec)
		if err != nil {
			var verr *model.ValidationError
			if !errors.As(err, &verr) {
				all.Add(fmt.Sprintf("[%d]", i), err.Error())
				continue
			}
			for _, f := range verr.Fields {
				all.Add(fmt.Sprintf("[%d].%s", i, f.Field), f.Error)
			}
			continue
		}
		questions = append(questions, q)
	}
	if err := all.OrNil(); err != nil {
		return nil, err
	}
	return questions, nil
}

func (h *Handler) handleReviseQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "questionID")
	if !ok {
		return
	}
	cur, err := h.store.GetQuestion(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var next model.Question
	if !decodeJSON(w, r, &next) {
		return
	}
	next.SubjectID = cur.SubjectID
	next.Active = true
	if err := bank.Validate(next); err != nil {
		writeError(w, r, err)
		return
	}

	q, err := h.store.ReviseQuestion(r.Context(), id, next)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("question revised", "question_id", id, "revision_id", q.ID, "version", q.Version)
	writeJSON(w, http.StatusOK, q)
}
