// Package recovery orchestrates backup-signer registration and
// recovery-by-proof-of-control, bridging a lost local credential to a new
// device without ever resurrecting the old private key.
package recovery

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"mentormesh/internal/ceremony"
	"mentormesh/internal/ledger"
	"mentormesh/internal/wallet"
)

// ErrBackupNotRegistered is returned when the vouching signer has no backup
// link for the target wallet. Fatal for the attempt; nothing is created.
var ErrBackupNotRegistered = errors.New("backup signer not registered for wallet")

// Engine drives the two recovery operations against the ledger, the ceremony
// engine and the wallet binding.
type Engine struct {
	store      ledger.Store
	ceremonies *ceremony.Engine
	wallets    *wallet.Binding
	log        *logrus.Entry
}

// NewEngine wires a recovery engine.
func NewEngine(store ledger.Store, ceremonies *ceremony.Engine, wallets *wallet.Binding, log *logrus.Entry) *Engine {
	return &Engine{store: store, ceremonies: ceremonies, wallets: wallets, log: log}
}

// RegisterBackup links a second, independently controlled signer to the
// passkey wallet. The signer's signature over LinkMessage is the proof of
// control; duplicates are rejected by the ledger's existence check.
func (e *Engine) RegisterBackup(ctx context.Context, walletAddr, backupAddr string, signature []byte) (ledger.Receipt, error) {
	walletAddr = ledger.NormalizeWallet(walletAddr)
	backupAddr = ledger.NormalizeWallet(backupAddr)

	if err := VerifyPersonalSign(backupAddr, LinkMessage(walletAddr, backupAddr), signature); err != nil {
		return ledger.Receipt{}, err
	}

	receipt, err := e.store.CreateBackupLink(ctx, ledger.BackupLink{
		Wallet:       walletAddr,
		BackupWallet: backupAddr,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return ledger.Receipt{}, err
	}

	e.log.WithFields(logrus.Fields{
		"wallet": walletAddr,
		"backup": backupAddr,
		"tx":     receipt.TxHash,
	}).Info("backup signer registered")
	return receipt, nil
}

// RecoverInput carries everything a recovery ceremony needs: the vouching
// signature plus a fresh registration response minted on the new device.
type RecoverInput struct {
	Wallet       string
	BackupWallet string
	Signature    []byte
	NewUserID    string
	Challenge    string
	Origin       string
	DeviceName   string
	Response     io.Reader
}

// RecoverResult reports the newly derived signing address and the ledger
// receipt for the new credential identity.
type RecoverResult struct {
	Address      string
	CredentialID string
	Receipt      ledger.Receipt
}

// Recover checks the backup signer's membership and proof, mints a brand-new
// local credential through the ceremony engine's registration path under the
// new user identifier, and returns the fresh signing address. Reconciling
// "new signer, same logical identity" is left to the surrounding
// application.
func (e *Engine) Recover(ctx context.Context, in RecoverInput) (*RecoverResult, error) {
	walletAddr := ledger.NormalizeWallet(in.Wallet)
	backupAddr := ledger.NormalizeWallet(in.BackupWallet)

	links, err := e.store.ListBackupLinksByWallet(ctx, walletAddr)
	if err != nil {
		return nil, err
	}
	registered := false
	for _, link := range links {
		if link.BackupWallet == backupAddr {
			registered = true
			break
		}
	}
	if !registered {
		return nil, ErrBackupNotRegistered
	}

	if err := VerifyPersonalSign(backupAddr, RecoveryMessage(walletAddr, backupAddr), in.Signature); err != nil {
		return nil, err
	}

	reg, err := e.ceremonies.FinishRegistration(ctx, in.NewUserID, in.Challenge, in.Origin, in.Response)
	if err != nil {
		return nil, err
	}

	addr, _, err := e.wallets.Ensure(in.NewUserID)
	if err != nil {
		return nil, err
	}

	receipt, err := e.store.CreateIdentity(ctx, ledger.Identity{
		Wallet:       addr,
		UserID:       in.NewUserID,
		CredentialID: reg.CredentialID,
		PublicKey:    reg.PublicKey,
		Counter:      reg.Counter,
		Transports:   reg.Transports,
		DeviceName:   in.DeviceName,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"wallet":     walletAddr,
		"backup":     backupAddr,
		"newWallet":  addr,
		"credential": reg.CredentialID,
	}).Info("wallet recovered onto new device")

	return &RecoverResult{
		Address:      addr,
		CredentialID: reg.CredentialID,
		Receipt:      receipt,
	}, nil
}
