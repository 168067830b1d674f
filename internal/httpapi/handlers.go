package httpapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mentormesh/internal/audit"
	"mentormesh/internal/ceremony"
	"mentormesh/internal/ledger"
	"mentormesh/internal/recovery"
	"mentormesh/internal/token"
	"mentormesh/internal/wallet"
)

type sessionKey struct{}

// Handler exposes the passkey ceremony and recovery surface over HTTP.
type Handler struct {
	ceremonies *ceremony.Engine
	recoveries *recovery.Engine
	wallets    *wallet.Binding
	store      ledger.Store
	tokens     *token.Manager
	auditor    *audit.Recorder
	validate   *validator.Validate
	log        *logrus.Entry
}

func NewHandler(
	ceremonies *ceremony.Engine,
	recoveries *recovery.Engine,
	wallets *wallet.Binding,
	store ledger.Store,
	tokens *token.Manager,
	auditor *audit.Recorder,
	log *logrus.Entry,
) *Handler {
	return &Handler{
		ceremonies: ceremonies,
		recoveries: recoveries,
		wallets:    wallets,
		store:      store,
		tokens:     tokens,
		auditor:    auditor,
		validate:   validator.New(),
		log:        log,
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "missing or invalid fields")
		return false
	}
	return true
}

// parseSignature accepts a 0x-prefixed hex signature as produced by
// personal_sign in wallet clients.
func parseSignature(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	sig, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// --- Registration ---

type registerOptionsRequest struct {
	UserID   string `json:"userId" validate:"required,min=1,max=128"`
	UserName string `json:"userName" validate:"omitempty,max=128"`
	Wallet   string `json:"wallet" validate:"omitempty,max=64"`
}

type registerOptionsResponse struct {
	Success        bool   `json:"success"`
	Options        any    `json:"options"`
	ChallengeToken string `json:"challengeToken"`
}

func (h *Handler) RegisterOptions(w http.ResponseWriter, r *http.Request) {
	var req registerOptionsRequest
	if !h.decode(w, r, &req) {
		return
	}

	creation, challenge, err := h.ceremonies.RegistrationOptions(r.Context(), req.UserID, req.UserName, req.Wallet)
	if err != nil {
		if errors.Is(err, ledger.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "identity ledger unavailable")
			return
		}
		h.log.WithError(err).Error("registration options failed")
		writeError(w, http.StatusInternalServerError, "could not begin registration")
		return
	}

	challengeToken, err := h.tokens.IssueChallenge(challenge, token.PurposeRegistration)
	if err != nil {
		h.log.WithError(err).Error("challenge token issue failed")
		writeError(w, http.StatusInternalServerError, "could not begin registration")
		return
	}

	writeJSON(w, http.StatusOK, registerOptionsResponse{
		Success:        true,
		Options:        creation,
		ChallengeToken: challengeToken,
	})
}

type registerVerifyRequest struct {
	UserID         string          `json:"userId" validate:"required,min=1,max=128"`
	ChallengeToken string          `json:"challengeToken" validate:"required"`
	Origin         string          `json:"origin" validate:"required,url"`
	Wallet         string          `json:"wallet" validate:"omitempty,max=64"`
	DeviceName     string          `json:"deviceName" validate:"omitempty,max=128"`
	Credential     json.RawMessage `json:"credential" validate:"required"`
}

type registerVerifyResponse struct {
	Success      bool     `json:"success"`
	Verified     bool     `json:"verified"`
	Wallet       string   `json:"wallet"`
	CredentialID string   `json:"credentialId"`
	Counter      uint32   `json:"counter"`
	Transports   []string `json:"transports,omitempty"`
	TxHash       string   `json:"txHash,omitempty"`
	Token        string   `json:"token"`
}

func (h *Handler) RegisterVerify(w http.ResponseWriter, r *http.Request) {
	var req registerVerifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	challenge, err := h.tokens.ParseChallenge(req.ChallengeToken, token.PurposeRegistration)
	if err != nil {
		writeError(w, http.StatusBadRequest, "challenge expired or invalid")
		return
	}

	// A declared wallet attaches a new device credential to an existing
	// identity set. That is an owner-only operation: without proof of
	// control, anyone could park a credential under an arbitrary address
	// and walk away with a session for it.
	walletAddr := ledger.NormalizeWallet(req.Wallet)
	if walletAddr != "" {
		claims := h.bearerSession(r)
		if claims == nil || claims.Wallet != walletAddr {
			h.auditor.Log(audit.Event{
				Action:   "register",
				Wallet:   walletAddr,
				UserID:   req.UserID,
				ClientIP: clientIP(r),
				Success:  false,
				Details:  "declared wallet without matching session",
			})
			writeError(w, http.StatusForbidden, "adding a device to a wallet requires a session for that wallet")
			return
		}
	}

	reg, err := h.ceremonies.FinishRegistration(r.Context(), req.UserID, challenge, req.Origin, bytes.NewReader(req.Credential))
	if err != nil {
		h.writeCeremonyError(w, r, "register", req.Wallet, req.UserID, err)
		return
	}

	// Without a declared wallet the address comes from the local binding.
	if walletAddr == "" {
		addr, _, err := h.wallets.Ensure(req.UserID)
		if err != nil {
			h.log.WithError(err).Error("wallet binding failed")
			writeError(w, http.StatusInternalServerError, "could not bind wallet")
			return
		}
		walletAddr = addr
	}

	ident := ledger.Identity{
		Wallet:       walletAddr,
		UserID:       req.UserID,
		CredentialID: reg.CredentialID,
		PublicKey:    reg.PublicKey,
		Counter:      reg.Counter,
		Transports:   reg.Transports,
		DeviceName:   req.DeviceName,
	}
	receipt, err := h.store.CreateIdentity(r.Context(), ident)
	if err != nil {
		if errors.Is(err, ledger.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "identity ledger unavailable")
			return
		}
		h.log.WithError(err).Error("identity create failed")
		writeError(w, http.StatusInternalServerError, "could not record identity")
		return
	}
	h.auditor.RecordTx("identity.create", walletAddr, receipt)
	h.auditor.Log(audit.Event{
		Action:   "register",
		Wallet:   walletAddr,
		UserID:   req.UserID,
		ClientIP: clientIP(r),
		Success:  true,
	})

	session, err := h.tokens.IssueSession(walletAddr, req.UserID)
	if err != nil {
		h.log.WithError(err).Error("session token issue failed")
		writeError(w, http.StatusInternalServerError, "could not issue session")
		return
	}

	writeJSON(w, http.StatusOK, registerVerifyResponse{
		Success:      true,
		Verified:     true,
		Wallet:       walletAddr,
		CredentialID: reg.CredentialID,
		Counter:      reg.Counter,
		Transports:   reg.Transports,
		TxHash:       receipt.TxHash,
		Token:        session,
	})
}

// --- Authentication ---

type loginOptionsRequest struct {
	UserID string `json:"userId" validate:"omitempty,max=128"`
	Wallet string `json:"wallet" validate:"omitempty,max=64"`
}

type loginOptionsResponse struct {
	Success        bool   `json:"success"`
	Options        any    `json:"options"`
	ChallengeToken string `json:"challengeToken"`
}

func (h *Handler) LoginOptions(w http.ResponseWriter, r *http.Request) {
	var req loginOptionsRequest
	if !h.decode(w, r, &req) {
		return
	}

	assertion, challenge, err := h.ceremonies.AuthenticationOptions(r.Context(), req.UserID, req.Wallet)
	if err != nil {
		if errors.Is(err, ledger.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "identity ledger unavailable")
			return
		}
		h.log.WithError(err).Error("authentication options failed")
		writeError(w, http.StatusInternalServerError, "could not begin authentication")
		return
	}

	challengeToken, err := h.tokens.IssueChallenge(challenge, token.PurposeAuthentication)
	if err != nil {
		h.log.WithError(err).Error("challenge token issue failed")
		writeError(w, http.StatusInternalServerError, "could not begin authentication")
		return
	}

	writeJSON(w, http.StatusOK, loginOptionsResponse{
		Success:        true,
		Options:        assertion,
		ChallengeToken: challengeToken,
	})
}

type loginVerifyRequest struct {
	ChallengeToken string          `json:"challengeToken" validate:"required"`
	Origin         string          `json:"origin" validate:"required,url"`
	Wallet         string          `json:"wallet" validate:"omitempty,max=64"`
	Credential     json.RawMessage `json:"credential" validate:"required"`
}

type loginVerifyResponse struct {
	Success    bool   `json:"success"`
	Verified   bool   `json:"verified"`
	Wallet     string `json:"wallet"`
	UserID     string `json:"userId"`
	NewCounter uint32 `json:"newCounter"`
	Token      string `json:"token"`
}

type loginFailureResponse struct {
	Success          bool   `json:"success"`
	Verified         bool   `json:"verified"`
	Error            string `json:"error"`
	FoundOnArkiv     bool   `json:"foundOnArkiv,omitempty"`
	RecoveryPossible bool   `json:"recoveryPossible,omitempty"`
}

func (h *Handler) LoginVerify(w http.ResponseWriter, r *http.Request) {
	var req loginVerifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	challenge, err := h.tokens.ParseChallenge(req.ChallengeToken, token.PurposeAuthentication)
	if err != nil {
		writeError(w, http.StatusBadRequest, "challenge expired or invalid")
		return
	}

	res, err := h.ceremonies.FinishAuthentication(r.Context(), challenge, req.Origin, req.Wallet, bytes.NewReader(req.Credential))
	if err != nil {
		if errors.Is(err, ceremony.ErrCredentialNotFound) {
			h.auditor.Log(audit.Event{
				Action:   "login",
				Wallet:   req.Wallet,
				ClientIP: clientIP(r),
				Success:  false,
				Details:  "credential not found",
			})
			writeJSON(w, http.StatusNotFound, loginFailureResponse{
				Error:            "credential not registered",
				FoundOnArkiv:     res.FoundOnArkiv,
				RecoveryPossible: res.RecoveryPossible,
			})
			return
		}
		h.writeCeremonyError(w, r, "login", req.Wallet, "", err)
		return
	}

	if err := h.store.UpdateIdentityCounter(r.Context(), res.CredentialID, res.NewCounter); err != nil {
		if errors.Is(err, ledger.ErrUnavailable) {
			// The assertion itself already verified; only the counter
			// bookkeeping failed. The caller retries the write, not the
			// ceremony.
			writeError(w, http.StatusServiceUnavailable, "identity ledger unavailable")
			return
		}
		h.log.WithError(err).Error("counter update failed")
		writeError(w, http.StatusInternalServerError, "could not record sign-in")
		return
	}

	h.auditor.Log(audit.Event{
		Action:   "login",
		Wallet:   res.Wallet,
		UserID:   res.UserID,
		ClientIP: clientIP(r),
		Success:  true,
	})

	session, err := h.tokens.IssueSession(res.Wallet, res.UserID)
	if err != nil {
		h.log.WithError(err).Error("session token issue failed")
		writeError(w, http.StatusInternalServerError, "could not issue session")
		return
	}

	writeJSON(w, http.StatusOK, loginVerifyResponse{
		Success:    true,
		Verified:   true,
		Wallet:     res.Wallet,
		UserID:     res.UserID,
		NewCounter: res.NewCounter,
		Token:      session,
	})
}

func (h *Handler) writeCeremonyError(w http.ResponseWriter, r *http.Request, action, walletAddr, userID string, err error) {
	ev := audit.Event{
		Action:   action,
		Wallet:   walletAddr,
		UserID:   userID,
		ClientIP: clientIP(r),
		Success:  false,
		Details:  err.Error(),
	}
	h.auditor.Log(ev)

	switch {
	case errors.Is(err, ceremony.ErrChallengeMismatch):
		writeError(w, http.StatusBadRequest, "challenge mismatch")
	case errors.Is(err, ceremony.ErrOriginMismatch):
		writeError(w, http.StatusBadRequest, "origin not allowed")
	case errors.Is(err, ceremony.ErrRpIDMismatch):
		writeError(w, http.StatusBadRequest, "relying party mismatch")
	case errors.Is(err, ceremony.ErrPossibleClone):
		writeError(w, http.StatusConflict, "authenticator counter regressed; possible cloned credential")
	case errors.Is(err, ceremony.ErrSignatureInvalid):
		writeError(w, http.StatusUnauthorized, "signature verification failed")
	case errors.Is(err, ledger.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "identity ledger unavailable")
	default:
		h.log.WithError(err).WithField("action", action).Error("ceremony failed")
		writeError(w, http.StatusBadRequest, "ceremony verification failed")
	}
}

// --- Recovery ---

type backupRegisterRequest struct {
	BackupWallet string `json:"backupWallet" validate:"required,max=64"`
	Signature    string `json:"signature" validate:"required"`
}

type backupRegisterResponse struct {
	Success      bool   `json:"success"`
	Wallet       string `json:"wallet"`
	BackupWallet string `json:"backupWallet"`
	TxHash       string `json:"txHash,omitempty"`
}

func (h *Handler) BackupRegister(w http.ResponseWriter, r *http.Request) {
	claims := sessionFromContext(r.Context())
	var req backupRegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	sig, err := parseSignature(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed signature")
		return
	}

	receipt, err := h.recoveries.RegisterBackup(r.Context(), claims.Wallet, req.BackupWallet, sig)
	if err != nil {
		switch {
		case errors.Is(err, recovery.ErrProofInvalid):
			writeError(w, http.StatusUnauthorized, "backup signer proof invalid")
		case errors.Is(err, ledger.ErrDuplicateBackupLink):
			writeError(w, http.StatusConflict, "backup signer already registered")
		case errors.Is(err, ledger.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "identity ledger unavailable")
		default:
			h.log.WithError(err).Error("backup registration failed")
			writeError(w, http.StatusInternalServerError, "could not register backup signer")
		}
		return
	}
	h.auditor.RecordTx("backup.link", claims.Wallet, receipt)
	h.auditor.Log(audit.Event{
		Action:   "backup.register",
		Wallet:   claims.Wallet,
		UserID:   claims.UserID,
		ClientIP: clientIP(r),
		Success:  true,
	})

	writeJSON(w, http.StatusOK, backupRegisterResponse{
		Success:      true,
		Wallet:       claims.Wallet,
		BackupWallet: ledger.NormalizeWallet(req.BackupWallet),
		TxHash:       receipt.TxHash,
	})
}

type recoverRequest struct {
	Wallet         string          `json:"wallet" validate:"required,max=64"`
	BackupWallet   string          `json:"backupWallet" validate:"required,max=64"`
	Signature      string          `json:"signature" validate:"required"`
	NewUserID      string          `json:"newUserId" validate:"omitempty,max=128"`
	ChallengeToken string          `json:"challengeToken" validate:"required"`
	Origin         string          `json:"origin" validate:"required,url"`
	DeviceName     string          `json:"deviceName" validate:"omitempty,max=128"`
	Credential     json.RawMessage `json:"credential" validate:"required"`
}

type recoverResponse struct {
	Success      bool   `json:"success"`
	Address      string `json:"address"`
	UserID       string `json:"userId"`
	CredentialID string `json:"credentialId"`
	TxHash       string `json:"txHash,omitempty"`
	Token        string `json:"token"`
}

func (h *Handler) Recover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if !h.decode(w, r, &req) {
		return
	}

	challenge, err := h.tokens.ParseChallenge(req.ChallengeToken, token.PurposeRegistration)
	if err != nil {
		writeError(w, http.StatusBadRequest, "challenge expired or invalid")
		return
	}

	sig, err := parseSignature(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed signature")
		return
	}

	newUserID := req.NewUserID
	if newUserID == "" {
		newUserID = uuid.NewString()
	}

	res, err := h.recoveries.Recover(r.Context(), recovery.RecoverInput{
		Wallet:       req.Wallet,
		BackupWallet: req.BackupWallet,
		Signature:    sig,
		NewUserID:    newUserID,
		Challenge:    challenge,
		Origin:       req.Origin,
		DeviceName:   req.DeviceName,
		Response:     bytes.NewReader(req.Credential),
	})
	if err != nil {
		switch {
		case errors.Is(err, recovery.ErrBackupNotRegistered):
			writeError(w, http.StatusForbidden, "backup signer not registered for this wallet")
		case errors.Is(err, recovery.ErrProofInvalid):
			writeError(w, http.StatusUnauthorized, "recovery proof invalid")
		case errors.Is(err, ledger.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "identity ledger unavailable")
		default:
			h.writeCeremonyError(w, r, "recover", req.Wallet, newUserID, err)
		}
		return
	}
	h.auditor.RecordTx("identity.recover", res.Address, res.Receipt)
	h.auditor.Log(audit.Event{
		Action:   "recover",
		Wallet:   res.Address,
		UserID:   newUserID,
		ClientIP: clientIP(r),
		Success:  true,
		Details:  "recovered from " + ledger.NormalizeWallet(req.Wallet),
	})

	session, err := h.tokens.IssueSession(res.Address, newUserID)
	if err != nil {
		h.log.WithError(err).Error("session token issue failed")
		writeError(w, http.StatusInternalServerError, "could not issue session")
		return
	}

	writeJSON(w, http.StatusOK, recoverResponse{
		Success:      true,
		Address:      res.Address,
		UserID:       newUserID,
		CredentialID: res.CredentialID,
		TxHash:       res.Receipt.TxHash,
		Token:        session,
	})
}

// --- Devices ---

type deviceInfo struct {
	CredentialID string   `json:"credentialId"`
	DeviceName   string   `json:"deviceName,omitempty"`
	Transports   []string `json:"transports,omitempty"`
	Counter      uint32   `json:"counter"`
	CreatedAt    string   `json:"createdAt,omitempty"`
	LastUsed     string   `json:"lastUsed,omitempty"`
}

type devicesResponse struct {
	Success bool         `json:"success"`
	Wallet  string       `json:"wallet"`
	Devices []deviceInfo `json:"devices"`
}

func (h *Handler) Devices(w http.ResponseWriter, r *http.Request) {
	claims := sessionFromContext(r.Context())

	idents, err := h.store.ListIdentitiesByWallet(r.Context(), claims.Wallet)
	if err != nil {
		if errors.Is(err, ledger.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "identity ledger unavailable")
			return
		}
		h.log.WithError(err).Error("device listing failed")
		writeError(w, http.StatusInternalServerError, "could not list devices")
		return
	}

	devices := make([]deviceInfo, 0, len(idents))
	for _, id := range idents {
		info := deviceInfo{
			CredentialID: id.CredentialID,
			DeviceName:   id.DeviceName,
			Transports:   id.Transports,
			Counter:      id.Counter,
		}
		if !id.CreatedAt.IsZero() {
			info.CreatedAt = id.CreatedAt.UTC().Format(time.RFC3339)
		}
		if !id.LastUsed.IsZero() {
			info.LastUsed = id.LastUsed.UTC().Format(time.RFC3339)
		}
		devices = append(devices, info)
	}
	writeJSON(w, http.StatusOK, devicesResponse{Success: true, Wallet: claims.Wallet, Devices: devices})
}

// --- Local key reset ---

type resetRequest struct {
	UserID string `json:"userId" validate:"required,min=1,max=128"`
}

type resetResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	claims := sessionFromContext(r.Context())
	var req resetRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.wallets.Reset(req.UserID); err != nil {
		h.log.WithError(err).Error("key reset failed")
		writeError(w, http.StatusInternalServerError, "could not reset local key")
		return
	}
	h.auditor.Log(audit.Event{
		Action:   "reset",
		Wallet:   claims.Wallet,
		UserID:   req.UserID,
		ClientIP: clientIP(r),
		Success:  true,
	})
	writeJSON(w, http.StatusOK, resetResponse{Success: true})
}

type resetAllRequest struct {
	Force bool `json:"force"`
}

func (h *Handler) ResetAll(w http.ResponseWriter, r *http.Request) {
	claims := sessionFromContext(r.Context())
	var req resetAllRequest
	if !h.decode(w, r, &req) {
		return
	}

	// Clearing every local key is unrecoverable unless a backup signer
	// exists, so refuse unless the caller has one or insists.
	if !req.Force {
		links, err := h.store.ListBackupLinksByWallet(r.Context(), claims.Wallet)
		if err != nil && !errors.Is(err, ledger.ErrUnavailable) {
			h.log.WithError(err).Error("backup link lookup failed")
			writeError(w, http.StatusInternalServerError, "could not verify backup signer")
			return
		}
		if len(links) == 0 {
			writeError(w, http.StatusForbidden, "no backup signer registered; pass force to clear anyway")
			return
		}
	}

	if err := h.wallets.ResetAll(); err != nil {
		h.log.WithError(err).Error("key reset failed")
		writeError(w, http.StatusInternalServerError, "could not reset local keys")
		return
	}
	h.auditor.Log(audit.Event{
		Action:   "reset.all",
		Wallet:   claims.Wallet,
		UserID:   claims.UserID,
		ClientIP: clientIP(r),
		Success:  true,
		Details:  "forced=" + strconv.FormatBool(req.Force),
	})
	writeJSON(w, http.StatusOK, resetResponse{Success: true})
}

// --- Session middleware ---

func sessionFromContext(ctx context.Context) *token.SessionClaims {
	claims, _ := ctx.Value(sessionKey{}).(*token.SessionClaims)
	return claims
}

// bearerSession parses an optional Authorization bearer token. It returns
// nil when the header is absent or the token does not verify.
func (h *Handler) bearerSession(r *http.Request) *token.SessionClaims {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return nil
	}
	claims, err := h.tokens.ParseSession(strings.TrimPrefix(auth, "Bearer "))
	if err != nil {
		return nil
	}
	return claims
}

func (h *Handler) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.tokens.ParseSession(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "session expired or invalid")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, claims)))
	}
}

// Healthz reports process liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
