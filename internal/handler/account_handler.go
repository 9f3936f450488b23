package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/stellarlink/internal/model"
)

// AccountServiceInterface は連携アカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	// Link は公開鍵をユーザーに連携する。
	Link(ctx context.Context, userID, publicKey string, label *string) (*accountResponse, error)
	// List はユーザーの連携アカウントを作成日時の昇順で返す。
	List(ctx context.Context, userID string) ([]accountResponse, error)
	// Get はユーザーの連携アカウントを1件返す。
	Get(ctx context.Context, userID, accountID string) (*accountResponse, error)
	// Relabel はラベルを変更する。空文字列はラベルの削除。
	Relabel(ctx context.Context, userID, accountID, label string) (*accountResponse, error)
	// Unlink は連携を解除する。
	Unlink(ctx context.Context, userID, accountID string) error
	// SetActive は有効状態を変更する。
	SetActive(ctx context.Context, userID, accountID string, active bool) (*accountResponse, error)
}

// PrimaryServiceInterface はプライマリアカウント選択のサービスインターフェース。
type PrimaryServiceInterface interface {
	SetPrimary(ctx context.Context, userID, accountID string) error
}

// AccountHandler は連携アカウント管理のHTTPハンドラー。
type AccountHandler struct {
	service AccountServiceInterface
	primary PrimaryServiceInterface
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface, primary PrimaryServiceInterface) *AccountHandler {
	return &AccountHandler{
		service: service,
		primary: primary,
	}
}

// accountResponse は連携アカウントのAPIレスポンス。
type accountResponse struct {
	ID        string    `json:"id"`
	PublicKey string    `json:"public_key"`
	Label     *string   `json:"label"`
	IsActive  bool      `json:"is_active"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// linkAccountRequest はアカウント連携リクエストのボディ。
type linkAccountRequest struct {
	PublicKey string  `json:"public_key"`
	Label     *string `json:"label"`
}

// relabelRequest はラベル変更リクエストのボディ。
type relabelRequest struct {
	Label *string `json:"label"`
}

// setActiveRequest は有効状態変更リクエストのボディ。
type setActiveRequest struct {
	IsActive *bool `json:"is_active"`
}

// Link は公開鍵をユーザーに連携する。
// POST /api/users/me/accounts
func (h *AccountHandler) Link(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req linkAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	account, err := h.service.Link(r.Context(), userID, req.PublicKey, req.Label)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/api/users/me/accounts/"+account.ID)
	writeJSON(w, http.StatusCreated, account)
}

// List はユーザーの連携アカウント一覧を返す。
// GET /api/users/me/accounts
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accounts)
}

// Get は連携アカウントを1件返す。
// GET /api/users/me/accounts/{id}
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	account, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// Relabel はラベルを変更する。
// PATCH /api/users/me/accounts/{id}/label
func (h *AccountHandler) Relabel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req relabelRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Label == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	account, err := h.service.Relabel(r.Context(), userID, chi.URLParam(r, "id"), *req.Label)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// SetActive は有効状態を変更する。
// PATCH /api/users/me/accounts/{id}/active
func (h *AccountHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req setActiveRequest
	if err := decodeJSON(w, r, &req); err != nil || req.IsActive == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	account, err := h.service.SetActive(r.Context(), userID, chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// Unlink は連携を解除する。
// DELETE /api/users/me/accounts/{id}
func (h *AccountHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Unlink(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetPrimary は連携アカウントをプライマリにする。
// POST /api/users/me/accounts/{id}/primary
func (h *AccountHandler) SetPrimary(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.primary.SetPrimary(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// toAccountResponse はドメインのLinkedAccountをレスポンス型に変換する。
func toAccountResponse(a *model.LinkedAccount) accountResponse {
	return accountResponse{
		ID:        a.ID,
		PublicKey: a.PublicKey,
		Label:     a.Label,
		IsActive:  a.IsActive,
		IsPrimary: a.IsPrimary,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}
