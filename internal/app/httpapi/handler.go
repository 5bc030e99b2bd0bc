// Package httpapi exposes the switch ledger over a small REST surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	app "github.com/Vigil-Network/switch_ledger/internal/app"
	"github.com/Vigil-Network/switch_ledger/internal/app/domain/switchvault"
	switchvaultsvc "github.com/Vigil-Network/switch_ledger/internal/app/services/switchvault"
	tokensvc "github.com/Vigil-Network/switch_ledger/internal/app/services/token"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/vaults", h.vaults)
	mux.HandleFunc("/vaults/", h.vaultResources)
	mux.HandleFunc("/tokens/", h.tokenResources)
	mux.HandleFunc("/healthz", h.health)
	return mux
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) vaults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	vaults, err := h.app.Vaults.ListVaults(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	now := time.Now().UTC()
	result := make([]vaultResponse, 0, len(vaults))
	for _, v := range vaults {
		result = append(result, newVaultResponse(v, now))
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) vaultResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/vaults"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	vaultID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		v, err := h.app.Vaults.GetVault(r.Context(), vaultID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, newVaultResponse(v, time.Now().UTC()))
		return
	}

	switch parts[1] {
	case "deposit":
		h.vaultDeposit(w, r, vaultID)
	case "checkin":
		h.vaultCheckIn(w, r, vaultID)
	case "interval":
		h.vaultInterval(w, r, vaultID)
	case "withdraw":
		h.vaultWithdraw(w, r, vaultID)
	case "claim":
		h.vaultClaim(w, r, vaultID)
	case "beneficiaries":
		h.vaultBeneficiaries(w, r, vaultID, parts[2:])
	case "events":
		h.vaultEvents(w, r, vaultID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) vaultDeposit(w http.ResponseWriter, r *http.Request, vaultID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := h.app.Vaults.Deposit(r.Context(), vaultID, payload.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newVaultResponse(v, time.Now().UTC()))
}

func (h *handler) vaultCheckIn(w http.ResponseWriter, r *http.Request, vaultID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	v, err := h.app.Vaults.CheckIn(r.Context(), vaultID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newVaultResponse(v, time.Now().UTC()))
}

func (h *handler) vaultInterval(w http.ResponseWriter, r *http.Request, vaultID string) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Interval string `json:"interval"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	interval, err := time.ParseDuration(strings.TrimSpace(payload.Interval))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid interval: %w", err))
		return
	}
	v, err := h.app.Vaults.SetCheckInInterval(r.Context(), vaultID, interval)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newVaultResponse(v, time.Now().UTC()))
}

func (h *handler) vaultWithdraw(w http.ResponseWriter, r *http.Request, vaultID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := h.app.Vaults.Withdraw(r.Context(), vaultID, payload.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newVaultResponse(v, time.Now().UTC()))
}

func (h *handler) vaultClaim(w http.ResponseWriter, r *http.Request, vaultID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Beneficiary string `json:"beneficiary"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.Beneficiary) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("beneficiary is required"))
		return
	}
	amount, err := h.app.Vaults.WithdrawAsBeneficiary(r.Context(), payload.Beneficiary, vaultID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"vault_id":    vaultID,
		"beneficiary": payload.Beneficiary,
		"amount":      amount,
	})
}

func (h *handler) vaultBeneficiaries(w http.ResponseWriter, r *http.Request, vaultID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			v, err := h.app.Vaults.GetVault(r.Context(), vaultID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, v.Beneficiaries)
		case http.MethodPost:
			var payload struct {
				Beneficiary string `json:"beneficiary"`
			}
			if err := decodeJSON(r.Body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			v, err := h.app.Vaults.AddBeneficiary(r.Context(), vaultID, payload.Beneficiary)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, newVaultResponse(v, time.Now().UTC()))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if len(rest) != 1 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	beneficiary := rest[0]

	switch r.Method {
	case http.MethodGet:
		registered, err := h.app.Vaults.IsBeneficiary(r.Context(), vaultID, beneficiary)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"beneficiary": beneficiary,
			"registered":  registered,
		})
	case http.MethodDelete:
		if _, err := h.app.Vaults.RemoveBeneficiary(r.Context(), vaultID, beneficiary); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) vaultEvents(w http.ResponseWriter, r *http.Request, vaultID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	events, err := h.app.Vaults.Events(r.Context(), vaultID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *handler) tokenResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/tokens"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	address := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		balance, err := h.app.Tokens.BalanceOf(r.Context(), address)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"address": address,
			"balance": balance,
		})
		return
	}

	if len(parts) == 2 && parts[1] == "mint" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Amount int64 `json:"amount"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		holding, err := h.app.Tokens.Mint(r.Context(), address, payload.Amount)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, holding)
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

// vaultResponse augments a vault record with its derived expiry
// classification, evaluated fresh at response time.
type vaultResponse struct {
	switchvault.Vault
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired"`
}

func newVaultResponse(v switchvault.Vault, now time.Time) vaultResponse {
	resp := vaultResponse{Vault: v}
	if !v.LastCheckIn.IsZero() {
		at := v.ExpiresAt().UTC()
		resp.ExpiresAt = &at
		resp.Expired = v.Expired(now)
	}
	return resp
}

// writeServiceError maps the ledger's sentinel errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, switchvaultsvc.ErrBeneficiaryNotFound):
		status = http.StatusNotFound
	case errors.Is(err, switchvaultsvc.ErrDuplicateBeneficiary),
		errors.Is(err, switchvaultsvc.ErrInsufficientBalance),
		errors.Is(err, switchvaultsvc.ErrIntervalNotElapsed):
		status = http.StatusConflict
	case errors.Is(err, switchvaultsvc.ErrNotABeneficiary):
		status = http.StatusForbidden
	case errors.Is(err, switchvaultsvc.ErrTransferFailed),
		errors.Is(err, tokensvc.ErrTransferUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, tokensvc.ErrInsufficientFunds):
		status = http.StatusConflict
	}
	writeError(w, status, err)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
