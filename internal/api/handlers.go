/**
 * @description
 * HTTP handlers for the wheel API. Handlers decode the request, call the application
 * service with the caller principal taken from the request context, and map domain
 * error kinds to HTTP statuses.
 *
 * @dependencies
 * - internal/app, internal/domain: service logic and models.
 * - github.com/go-chi/chi/v5: URL parameters.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ilbertt/ic-fortune-wheel/internal/app"
	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
)

const maxRequestBodyBytes = 1 << 20

// WheelHandlers holds the collaborators the handlers use.
type WheelHandlers struct {
	service            *app.Service
	refresher          *app.TokenRefresher
	staleExtractionAge time.Duration
}

func NewWheelHandlers(service *app.Service, refresher *app.TokenRefresher, staleExtractionAge time.Duration) *WheelHandlers {
	if staleExtractionAge <= 0 {
		staleExtractionAge = app.DefaultStaleExtractionAge
	}
	return &WheelHandlers{
		service:            service,
		refresher:          refresher,
		staleExtractionAge: staleExtractionAge,
	}
}

// ListWheelPrizesHandler returns the enabled prizes in display order.
func (h *WheelHandlers) ListWheelPrizesHandler(w http.ResponseWriter, r *http.Request) {
	prizes, err := h.service.ListWheelPrizes(r.Context())
	if err != nil {
		writeServiceError(w, "list_wheel_prizes", err)
		return
	}
	writeJSON(w, http.StatusOK, prizes)
}

func (h *WheelHandlers) UpdatePrizesOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdatePrizesOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.service.UpdatePrizesOrder(r.Context(), CallerPrincipal(r.Context()), req); err != nil {
		writeServiceError(w, "update_prizes_order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAssetsHandler lists assets, filtered by the optional `state` or `kind` query.
func (h *WheelHandlers) ListAssetsHandler(w http.ResponseWriter, r *http.Request) {
	caller := CallerPrincipal(r.Context())

	if rawKind := strings.TrimSpace(r.URL.Query().Get("kind")); rawKind != "" {
		kind, err := domain.ParseAssetKindTag(rawKind)
		if err != nil {
			writeServiceError(w, "list_assets", err)
			return
		}
		assets, err := h.service.ListAssetsByKind(r.Context(), caller, kind)
		if err != nil {
			writeServiceError(w, "list_assets", err)
			return
		}
		writeJSON(w, http.StatusOK, assets)
		return
	}

	var state *domain.AssetState
	if rawState := strings.TrimSpace(r.URL.Query().Get("state")); rawState != "" {
		parsed, err := domain.ParseAssetState(rawState)
		if err != nil {
			writeServiceError(w, "list_assets", err)
			return
		}
		state = &parsed
	}

	assets, err := h.service.ListAssets(r.Context(), caller, state)
	if err != nil {
		writeServiceError(w, "list_assets", err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

func (h *WheelHandlers) GetAssetHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	asset, err := h.service.GetAsset(r.Context(), CallerPrincipal(r.Context()), id)
	if err != nil {
		writeServiceError(w, "get_asset", err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (h *WheelHandlers) CreateAssetHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAssetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	asset, err := h.service.CreateAsset(r.Context(), CallerPrincipal(r.Context()), req)
	if err != nil {
		writeServiceError(w, "create_asset", err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (h *WheelHandlers) UpdateAssetHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.UpdateAssetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	asset, err := h.service.UpdateAsset(r.Context(), CallerPrincipal(r.Context()), id, req)
	if err != nil {
		writeServiceError(w, "update_asset", err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (h *WheelHandlers) DeleteAssetHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteAsset(r.Context(), CallerPrincipal(r.Context()), id); err != nil {
		writeServiceError(w, "delete_asset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WheelHandlers) SetDefaultAssetsHandler(w http.ResponseWriter, r *http.Request) {
	assets, err := h.service.SetDefaultAssets(r.Context(), CallerPrincipal(r.Context()))
	if err != nil {
		writeServiceError(w, "set_default_assets", err)
		return
	}
	writeJSON(w, http.StatusCreated, assets)
}

// RefreshTokensHandler refreshes every token asset and waits for the fetches.
func (h *WheelHandlers) RefreshTokensHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RefreshTokens(r.Context(), CallerPrincipal(r.Context())); err != nil {
		writeServiceError(w, "refresh_tokens", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateExtractionHandler spins the wheel for a claimant.
func (h *WheelHandlers) CreateExtractionHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateExtractionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	extraction, err := h.service.CreateExtraction(r.Context(), CallerPrincipal(r.Context()), req)
	if err != nil {
		writeServiceError(w, "create_extraction", err)
		return
	}
	writeJSON(w, http.StatusCreated, extraction)
}

// ListExtractionsHandler accepts one of the `state`, `user_id` or `asset_id` filters.
func (h *WheelHandlers) ListExtractionsHandler(w http.ResponseWriter, r *http.Request) {
	caller := CallerPrincipal(r.Context())
	query := r.URL.Query()

	var (
		extractions []domain.Extraction
		err         error
	)
	switch {
	case query.Get("user_id") != "":
		userID, parseErr := uuid.Parse(query.Get("user_id"))
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Invalid user_id")
			return
		}
		extractions, err = h.service.ListUserExtractions(r.Context(), caller, userID)
	case query.Get("asset_id") != "":
		assetID, parseErr := uuid.Parse(query.Get("asset_id"))
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Invalid asset_id")
			return
		}
		extractions, err = h.service.ListAssetExtractions(r.Context(), caller, assetID)
	default:
		var state *domain.ExtractionState
		if rawState := query.Get("state"); rawState != "" {
			var parsed domain.ExtractionState
			if parseErr := parsed.UnmarshalText([]byte(rawState)); parseErr != nil {
				writeServiceError(w, "list_extractions", parseErr)
				return
			}
			state = &parsed
		}
		extractions, err = h.service.ListExtractions(r.Context(), caller, state)
	}
	if err != nil {
		writeServiceError(w, "list_extractions", err)
		return
	}
	writeJSON(w, http.StatusOK, extractions)
}

func (h *WheelHandlers) GetExtractionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	extraction, err := h.service.GetExtraction(r.Context(), CallerPrincipal(r.Context()), id)
	if err != nil {
		writeServiceError(w, "get_extraction", err)
		return
	}
	writeJSON(w, http.StatusOK, extraction)
}

func (h *WheelHandlers) GetLastExtractionHandler(w http.ResponseWriter, r *http.Request) {
	extraction, err := h.service.GetLastExtraction(r.Context())
	if err != nil {
		writeServiceError(w, "get_last_extraction", err)
		return
	}
	writeJSON(w, http.StatusOK, extraction)
}

func (h *WheelHandlers) TransferTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := h.service.TransferToken(r.Context(), CallerPrincipal(r.Context()), req)
	if err != nil {
		writeServiceError(w, "transfer_token", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type internalRefreshRequest struct {
	AssetID *uuid.UUID `json:"asset_id,omitempty"`
}

// InternalRefreshTokensHandler refreshes one token asset, or all of them when the body
// names none.
func (h *WheelHandlers) InternalRefreshTokensHandler(w http.ResponseWriter, r *http.Request) {
	var req internalRefreshRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	if h.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "INTERNAL", "Token refresher is not configured")
		return
	}

	var err error
	if req.AssetID != nil {
		err = h.refresher.RefreshAsset(r.Context(), *req.AssetID)
	} else {
		err = h.refresher.RefreshAll(r.Context())
	}
	if err != nil {
		writeServiceError(w, "internal_refresh_tokens", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type internalSweepRequest struct {
	MaxAgeMinutes int `json:"max_age_minutes,omitempty"`
}

func (h *WheelHandlers) InternalSweepExtractionsHandler(w http.ResponseWriter, r *http.Request) {
	var req internalSweepRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	if req.MaxAgeMinutes < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "max_age_minutes cannot be negative")
		return
	}
	maxAge := h.staleExtractionAge
	if req.MaxAgeMinutes > 0 {
		maxAge = time.Duration(req.MaxAgeMinutes) * time.Minute
	}

	result, err := h.service.SweepStaleExtractions(r.Context(), maxAge)
	if err != nil {
		writeServiceError(w, "internal_sweep_extractions", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Invalid request body")
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Invalid request body")
		return false
	}
	return true
}

// statusForError maps a domain error kind to its HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrTooSoon), errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrOutOfStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrExternal):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	status := statusForError(err)
	message := domain.ErrorMessage(err)
	if status == http.StatusInternalServerError {
		log.Printf("level=error component=api endpoint=%s msg=\"request failed\" err=%v", endpoint, err)
		var domainErr *domain.Error
		if !errors.As(err, &domainErr) {
			message = "Internal server error"
		}
	}
	writeError(w, status, domain.ErrorCode(err), message)
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
