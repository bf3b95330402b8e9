package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"echovault-backend/application/services"
	"echovault-backend/pkg/auth"
	"echovault-backend/pkg/common"
	pkgerrors "echovault-backend/pkg/errors"
	"echovault-backend/pkg/utils"
)

// EchoHandler handles the echo endpoints.
type EchoHandler struct {
	echoes      *services.EchoService
	rediscovery *services.RediscoveryService
	logger      *zap.Logger
}

// NewEchoHandler creates a new echo handler
func NewEchoHandler(echoes *services.EchoService, rediscovery *services.RediscoveryService, logger *zap.Logger) *EchoHandler {
	return &EchoHandler{
		echoes:      echoes,
		rediscovery: rediscovery,
		logger:      logger,
	}
}

// CreateEchoRequest is the body of POST /echoes, sent once the audio upload
// has completed.
type CreateEchoRequest struct {
	Emotion      string   `json:"emotion" validate:"required"`
	AudioLocator string   `json:"audio_locator" validate:"required"`
	Tags         []string `json:"tags,omitempty" validate:"omitempty,max=10,dive,min=1,max=50"`
	Transcript   string   `json:"transcript,omitempty" validate:"omitempty,max=5000"`
}

// MintUploadURLRequest is the body of POST /echoes/upload-url.
type MintUploadURLRequest struct {
	FileType  string `json:"file_type" validate:"required"`
	SizeBytes int64  `json:"size_bytes" validate:"required,min=1"`
}

// UpdateEchoRequest is the body of PATCH /echoes/{echoID}. Only the
// user-editable fields are accepted.
type UpdateEchoRequest struct {
	Tags       *[]string `json:"tags,omitempty" validate:"omitempty,max=10,dive,min=1,max=50"`
	Transcript *string   `json:"transcript,omitempty" validate:"omitempty,max=5000"`
}

// CreateEcho handles POST /echoes
func (h *EchoHandler) CreateEcho(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, err)
		return
	}

	var req CreateEchoRequest
	if err := common.ParseJSONBody(r, &req, 1<<20); err != nil {
		common.RespondAppError(w, pkgerrors.NewValidationError("invalid request body").WithCause(err))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		common.RespondAppError(w, pkgerrors.NewValidationError(err.Error()))
		return
	}

	echo, err := h.echoes.CreateEcho(r.Context(), user.UserID, services.CreateEchoInput{
		Emotion:      req.Emotion,
		AudioLocator: req.AudioLocator,
		Tags:         req.Tags,
		Transcript:   req.Transcript,
	})
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusCreated, echo)
}

// MintUploadURL handles POST /echoes/upload-url
func (h *EchoHandler) MintUploadURL(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, err)
		return
	}

	var req MintUploadURLRequest
	if err := common.ParseJSONBody(r, &req, 1<<16); err != nil {
		common.RespondAppError(w, pkgerrors.NewValidationError("invalid request body").WithCause(err))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		common.RespondAppError(w, pkgerrors.NewValidationError(err.Error()))
		return
	}

	target, err := h.echoes.MintUploadURL(r.Context(), user.UserID, req.FileType, req.SizeBytes)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, target)
}

// ListEchoes handles GET /echoes
func (h *EchoHandler) ListEchoes(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, err)
		return
	}

	pageSize := 0
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		pageSize, err = strconv.Atoi(raw)
		if err != nil {
			common.RespondAppError(w, pkgerrors.NewValidationError("page_size must be an integer"))
			return
		}
	}

	result, err := h.echoes.ListEchoes(r.Context(), user.UserID,
		r.URL.Query().Get("emotion"),
		pageSize,
		r.URL.Query().Get("continuation_token"),
	)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}

// RandomEcho handles GET /echoes/random
func (h *EchoHandler) RandomEcho(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, err)
		return
	}

	selected, err := h.rediscovery.Pick(r.Context(), user.UserID, r.URL.Query().Get("emotion"))
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, selected)
}

// GetEcho handles GET /echoes/{echoID}
func (h *EchoHandler) GetEcho(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, err)
		return
	}

	echo, err := h.echoes.GetEcho(r.Context(), user.UserID, chi.URLParam(r, "echoID"))
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, echo)
}

// UpdateEcho handles PATCH /echoes/{echoID}
func (h *EchoHandler) UpdateEcho(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, err)
		return
	}

	var req UpdateEchoRequest
	if err := common.ParseJSONBody(r, &req, 1<<20); err != nil {
		common.RespondAppError(w, pkgerrors.NewValidationError("invalid request body").WithCause(err))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		common.RespondAppError(w, pkgerrors.NewValidationError(err.Error()))
		return
	}

	echo, err := h.echoes.UpdateEcho(r.Context(), user.UserID, chi.URLParam(r, "echoID"), services.UpdateEchoInput{
		Tags:       req.Tags,
		Transcript: req.Transcript,
	})
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, echo)
}

// DeleteEcho handles DELETE /echoes/{echoID}
func (h *EchoHandler) DeleteEcho(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, err)
		return
	}

	if err := h.echoes.DeleteEcho(r.Context(), user.UserID, chi.URLParam(r, "echoID")); err != nil {
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, map[string]string{"message": "echo deleted"})
}
