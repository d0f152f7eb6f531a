package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/validator"
)

// AssessmentHandler serves the candidate-facing assessment endpoints. Every
// route is addressed by the unique link id the candidate received.
type AssessmentHandler struct {
	manager *service.SessionManager
	log     zerolog.Logger
}

// NewAssessmentHandler creates a new AssessmentHandler.
func NewAssessmentHandler(manager *service.SessionManager, log zerolog.Logger) *AssessmentHandler {
	return &AssessmentHandler{
		manager: manager,
		log:     log.With().Str("component", "assessment_handler").Logger(),
	}
}

// session resolves the link id of the request. It writes the error
// response itself and returns false on failure.
func (h *AssessmentHandler) session(c *gin.Context) (*service.Session, bool) {
	linkID := c.Param("link_id")
	if _, err := uuid.Parse(linkID); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, false
	}

	s, err := h.manager.Open(c.Request.Context(), linkID)
	if err != nil {
		h.fail(c, err, response.ErrLoadFailed)
		return nil, false
	}
	return s, true
}

func (h *AssessmentHandler) fail(c *gin.Context, err error, fallback response.ErrCode) {
	e := classify(err, fallback)
	if e.status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	response.FailWithMessage(c, e.status, e.code, e.message)
}

// GetAssessment godoc
// GET /api/v1/assessments/:link_id
// Returns the screen to render and everything it needs. This is the reload
// path: question state, countdown and violations come back from storage.
func (h *AssessmentHandler) GetAssessment(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, s.Snapshot())
}

// GetLanguages godoc
// GET /api/v1/assessments/:link_id/languages
func (h *AssessmentHandler) GetLanguages(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, gin.H{"languages": s.Languages(c.Request.Context())})
}

// StartAssessment godoc
// POST /api/v1/assessments/:link_id/start
// Submits the intro form and starts the countdown.
func (h *AssessmentHandler) StartAssessment(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req model.StartAssessmentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := s.Begin(c.Request.Context(), req.FullName, req.Email); err != nil {
		h.fail(c, err, response.ErrStartFailed)
		return
	}
	response.Success(c, http.StatusOK, s.Snapshot())
}

// SelectQuestion godoc
// POST /api/v1/assessments/:link_id/questions/:index/select
func (h *AssessmentHandler) SelectQuestion(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidQuestion)
		return
	}

	if err := s.SelectQuestion(index); err != nil {
		h.fail(c, err, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, s.Snapshot())
}

// SkipQuestion godoc
// POST /api/v1/assessments/:link_id/skip
func (h *AssessmentHandler) SkipQuestion(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	index, err := s.Skip()
	if err != nil {
		h.fail(c, err, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"current_question": index})
}

// UpdateCode godoc
// PUT /api/v1/assessments/:link_id/code
// Saves the editor contents of the current question.
func (h *AssessmentHandler) UpdateCode(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req model.UpdateCodeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	qs, err := s.UpdateCode(c.Request.Context(), req.Code)
	if err != nil {
		h.fail(c, err, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question": qs})
}

// ChangeLanguage godoc
// PUT /api/v1/assessments/:link_id/language
func (h *AssessmentHandler) ChangeLanguage(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req model.ChangeLanguageRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	qs, err := s.ChangeLanguage(c.Request.Context(), req.LanguageID)
	if err != nil {
		h.fail(c, err, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question": qs})
}

// RunCode godoc
// POST /api/v1/assessments/:link_id/run
// Runs the current question's code against its sample test. Blocks until
// the judge returns a verdict or gives up.
func (h *AssessmentHandler) RunCode(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	result, err := s.RunCode(c.Request.Context())
	if err != nil {
		e := classify(err, response.ErrExecutionFailed)
		response.FailWithData(c, e.status, e.code, e.message, resultData(result))
		return
	}
	response.Success(c, http.StatusOK, resultData(result))
}

// SubmitCode godoc
// POST /api/v1/assessments/:link_id/submit
// Scores the current question against the hidden test suite.
func (h *AssessmentHandler) SubmitCode(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req model.SubmitCodeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := s.SubmitCode(c.Request.Context(), req.Confirmed)
	if err != nil {
		e := classify(err, response.ErrSubmissionFailed)
		response.FailWithData(c, e.status, e.code, e.message, resultData(result))
		return
	}
	response.Success(c, http.StatusOK, resultData(result))
}

func resultData(result *model.ActionResult) interface{} {
	if result == nil {
		return nil
	}
	return gin.H{"result": result}
}

// ReportViolation godoc
// POST /api/v1/assessments/:link_id/violations
// Records a tab switch or fullscreen exit observed by the UI.
func (h *AssessmentHandler) ReportViolation(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req model.ReportViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	verdict, err := s.ReportViolation(c.Request.Context(), req.Kind)
	if err != nil {
		h.fail(c, err, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"verdict": verdict})
}

// HandleKey godoc
// POST /api/v1/assessments/:link_id/keys
// Tells the UI whether to swallow a key combination.
func (h *AssessmentHandler) HandleKey(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req model.KeyCombo
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"key": s.HandleKey(c.Request.Context(), req)})
}

// DismissWarning godoc
// POST /api/v1/assessments/:link_id/dismiss
func (h *AssessmentHandler) DismissWarning(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, gin.H{"instruction": s.DismissWarning()})
}

// ResetAssessment godoc
// POST /api/v1/assessments/:link_id/reset
// Returns a completed assessment to the intro screen.
func (h *AssessmentHandler) ResetAssessment(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	if err := s.Reset(c.Request.Context()); err != nil {
		h.fail(c, err, response.ErrResetFailed)
		return
	}
	response.Success(c, http.StatusOK, s.Snapshot())
}

// GetTimer godoc
// GET /api/v1/assessments/:link_id/timer
func (h *AssessmentHandler) GetTimer(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	timer, running := s.Timer()
	if !running {
		response.Success(c, http.StatusOK, gin.H{"timer": nil})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"timer": timer})
}
