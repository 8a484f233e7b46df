package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chat-wallet/chat-wallet/internal/storage"

	apperrors "github.com/chat-wallet/chat-wallet/pkg/errors"
)

var errMethodNotAllowed = apperrors.New(
	apperrors.ErrCodeBadRequest,
	"Method not allowed",
	http.StatusMethodNotAllowed,
)

// RegisterRequest creates an account for a phone-style handle.
type RegisterRequest struct {
	Handle        string `json:"handle"`
	Pin           string `json:"pin"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

// AccountResponse is the public view of an account record. The sealed PIN
// never leaves the store.
type AccountResponse struct {
	Handle        string `json:"handle"`
	WalletAddress string `json:"wallet_address,omitempty"`
	AuthTier      string `json:"auth_tier"`
	RiskTier      string `json:"risk_tier"`
	CreatedAt     int64  `json:"created_at"`
}

// ContactRequest creates or replaces a contact alias.
type ContactRequest struct {
	Alias      string `json:"alias"`
	PeerHandle string `json:"peer_handle,omitempty"`
	Address    string `json:"address,omitempty"`
}

// ContactResponse is a contact book entry.
type ContactResponse struct {
	Alias      string  `json:"alias"`
	PeerHandle *string `json:"peer_handle,omitempty"`
	Address    *string `json:"address,omitempty"`
}

// TransactionResponse is a recorded ledger action.
type TransactionResponse struct {
	ID          string  `json:"id"`
	Action      string  `json:"action"`
	Route       string  `json:"route"`
	Status      string  `json:"status"`
	ToAddress   *string `json:"to,omitempty"`
	ToHandle    *string `json:"to_handle,omitempty"`
	Amount      *string `json:"amount,omitempty"`
	TxHash      *string `json:"tx_hash,omitempty"`
	BlockNumber *int64  `json:"block_number,omitempty"`
	Detail      *string `json:"detail,omitempty"`
	CreatedAt   int64   `json:"created_at"`
}

// handleAccounts handles POST /v1/accounts
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, errMethodNotAllowed)
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeBadRequest, "Invalid JSON body", http.StatusBadRequest))
		return
	}

	account, err := s.actions.Register(r.Context(), req.Handle, req.Pin, req.WalletAddress, time.Now().UTC())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, AccountResponse{
		Handle:        account.Handle,
		WalletAddress: account.WalletAddress,
		AuthTier:      account.AuthTier.String(),
		RiskTier:      account.RiskTier.String(),
		CreatedAt:     account.CreatedAt.Unix(),
	})
}

// handleAccountOperations routes per-account sub-resources:
//
//	GET    /v1/accounts/{handle}/balance
//	GET    /v1/accounts/{handle}/transactions
//	PUT    /v1/accounts/{handle}/wallet
//	PUT    /v1/accounts/{handle}/pin
//	GET    /v1/accounts/{handle}/contacts
//	POST   /v1/accounts/{handle}/contacts
//	DELETE /v1/accounts/{handle}/contacts/{alias}
func (s *Server) handleAccountOperations(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/accounts/"), "/")
	if len(pathParts) < 2 || pathParts[0] == "" {
		s.writeError(w, apperrors.ErrNotFound)
		return
	}

	// Handles arrive URL-encoded (+ becomes %2B).
	handle, err := url.PathUnescape(pathParts[0])
	if err != nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeBadRequest, "Invalid handle encoding", http.StatusBadRequest))
		return
	}

	switch pathParts[1] {
	case "balance":
		if r.Method != http.MethodGet {
			s.writeError(w, errMethodNotAllowed)
			return
		}
		s.handleBalance(w, r, handle)

	case "transactions":
		if r.Method != http.MethodGet {
			s.writeError(w, errMethodNotAllowed)
			return
		}
		s.handleListTransactions(w, r, handle)

	case "wallet":
		if r.Method != http.MethodPut {
			s.writeError(w, errMethodNotAllowed)
			return
		}
		s.handleLinkWallet(w, r, handle)

	case "pin":
		if r.Method != http.MethodPut {
			s.writeError(w, errMethodNotAllowed)
			return
		}
		s.handleChangePin(w, r, handle)

	case "contacts":
		if len(pathParts) >= 3 && pathParts[2] != "" {
			if r.Method != http.MethodDelete {
				s.writeError(w, errMethodNotAllowed)
				return
			}
			s.handleDeleteContact(w, r, handle, pathParts[2])
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.handleListContacts(w, r, handle)
		case http.MethodPost:
			s.handleSaveContact(w, r, handle)
		default:
			s.writeError(w, errMethodNotAllowed)
		}

	default:
		s.writeError(w, apperrors.ErrNotFound)
	}
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request, handle string) {
	balances, err := s.actions.Balance(r.Context(), handle)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balances)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request, handle string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, apperrors.New(apperrors.ErrCodeBadRequest, "Invalid limit", http.StatusBadRequest))
			return
		}
		limit = n
	}

	txs, err := s.txs.ListByHandle(r.Context(), handle, limit)
	if err != nil {
		s.writeError(w, apperrors.StoreUnavailable(err))
		return
	}

	out := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, TransactionResponse{
			ID:          tx.ID.String(),
			Action:      string(tx.Action),
			Route:       tx.Route,
			Status:      tx.Status,
			ToAddress:   tx.ToAddress,
			ToHandle:    tx.ToHandle,
			Amount:      tx.Amount,
			TxHash:      tx.TxHash,
			BlockNumber: tx.BlockNumber,
			Detail:      tx.Detail,
			CreatedAt:   tx.CreatedAt.Unix(),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *Server) handleLinkWallet(w http.ResponseWriter, r *http.Request, handle string) {
	var req struct {
		WalletAddress string `json:"wallet_address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeBadRequest, "Invalid JSON body", http.StatusBadRequest))
		return
	}
	if err := s.actions.LinkWallet(r.Context(), handle, req.WalletAddress); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChangePin(w http.ResponseWriter, r *http.Request, handle string) {
	var req struct {
		CurrentPin string `json:"current_pin"`
		NewPin     string `json:"new_pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeBadRequest, "Invalid JSON body", http.StatusBadRequest))
		return
	}
	if err := s.actions.ChangePin(r.Context(), handle, req.CurrentPin, req.NewPin); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request, handle string) {
	contacts, err := s.actions.ListContacts(r.Context(), handle)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]ContactResponse, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, contactResponse(c))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *Server) handleSaveContact(w http.ResponseWriter, r *http.Request, handle string) {
	var req ContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeBadRequest, "Invalid JSON body", http.StatusBadRequest))
		return
	}
	if err := s.actions.SaveContact(r.Context(), handle, req.Alias, req.PeerHandle, req.Address); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request, handle, alias string) {
	alias, err := url.PathUnescape(alias)
	if err != nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeBadRequest, "Invalid alias encoding", http.StatusBadRequest))
		return
	}
	if err := s.actions.DeleteContact(r.Context(), handle, alias); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func contactResponse(c *storage.Contact) ContactResponse {
	return ContactResponse{
		Alias:      c.Alias,
		PeerHandle: c.PeerHandle,
		Address:    c.Address,
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response. Unrecognized errors are masked as
// internal; their detail is for logs, not clients.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.IsAppError(err)
	if !ok {
		appErr = apperrors.ErrInternalError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	json.NewEncoder(w).Encode(appErr)
}
