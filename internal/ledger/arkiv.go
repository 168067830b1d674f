package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// ArkivClient talks JSON-RPC to an Arkiv node. Entities carry a CBOR payload
// plus string annotations; the annotations are the only queryable surface, so
// every lookup key (wallet, credentialId, type) is mirrored there.
type ArkivClient struct {
	endpoint string
	httpc    *http.Client
	log      *logrus.Entry
}

// NewArkivClient returns a client for the node at endpoint.
func NewArkivClient(endpoint string, timeout time.Duration, log *logrus.Entry) *ArkivClient {
	return &ArkivClient{
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: timeout},
		log:      log,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type createEntityParams struct {
	Payload     string            `json:"payload"`
	Annotations map[string]string `json:"annotations"`
}

type updateEntityParams struct {
	Key         string            `json:"key"`
	Payload     string            `json:"payload"`
	Annotations map[string]string `json:"annotations"`
}

type queryParams struct {
	Query string `json:"query"`
}

type entityResult struct {
	Key     string `json:"key"`
	Payload string `json:"payload"`
}

func (c *ArkivClient) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrUnavailable, method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: node returned %d", ErrUnavailable, method, resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
	}
	if rr.Error != nil {
		c.log.WithFields(logrus.Fields{"method": method, "code": rr.Error.Code}).Warn("arkiv call rejected")
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, method, rr.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(rr.Result, result); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
		}
	}
	return nil
}

func (c *ArkivClient) createEntity(ctx context.Context, payload []byte, annotations map[string]string) (Receipt, error) {
	var receipt Receipt
	params := createEntityParams{
		Payload:     base64.StdEncoding.EncodeToString(payload),
		Annotations: annotations,
	}
	if err := c.call(ctx, "arkiv_createEntity", params, &receipt); err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

func (c *ArkivClient) queryEntities(ctx context.Context, query string) ([]entityResult, error) {
	var entities []entityResult
	if err := c.call(ctx, "arkiv_queryEntities", queryParams{Query: query}, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// CreateIdentity writes a credential identity entity.
func (c *ArkivClient) CreateIdentity(ctx context.Context, ident Identity) (Receipt, error) {
	ident.Wallet = NormalizeWallet(ident.Wallet)
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Now().UTC()
	}
	payload, err := encodeIdentity(ident)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: encode identity: %v", ErrUnavailable, err)
	}
	return c.createEntity(ctx, payload, map[string]string{
		"type":         kindIdentity,
		"wallet":       ident.Wallet,
		"credentialId": ident.CredentialID,
	})
}

// FindIdentityByCredentialID returns the identity for a credential, or nil if
// no decodable entity matches.
func (c *ArkivClient) FindIdentityByCredentialID(ctx context.Context, credentialID string) (*Identity, error) {
	entities, err := c.queryEntities(ctx, fmt.Sprintf(`type = %q && credentialId = %q`, kindIdentity, credentialID))
	if err != nil {
		return nil, err
	}
	for _, ent := range entities {
		payload, err := base64.StdEncoding.DecodeString(ent.Payload)
		if err != nil {
			continue
		}
		if ident, ok := decodeIdentity(payload); ok {
			return ident, nil
		}
	}
	return nil, nil
}

// ListIdentitiesByWallet returns all decodable identities for a wallet.
func (c *ArkivClient) ListIdentitiesByWallet(ctx context.Context, wallet string) ([]Identity, error) {
	entities, err := c.queryEntities(ctx, fmt.Sprintf(`type = %q && wallet = %q`, kindIdentity, NormalizeWallet(wallet)))
	if err != nil {
		return nil, err
	}
	var out []Identity
	for _, ent := range entities {
		payload, err := base64.StdEncoding.DecodeString(ent.Payload)
		if err != nil {
			continue
		}
		if ident, ok := decodeIdentity(payload); ok {
			out = append(out, *ident)
		}
	}
	return out, nil
}

// UpdateIdentityCounter rewrites the identity entity with the new counter.
func (c *ArkivClient) UpdateIdentityCounter(ctx context.Context, credentialID string, counter uint32) error {
	entities, err := c.queryEntities(ctx, fmt.Sprintf(`type = %q && credentialId = %q`, kindIdentity, credentialID))
	if err != nil {
		return err
	}
	for _, ent := range entities {
		payload, err := base64.StdEncoding.DecodeString(ent.Payload)
		if err != nil {
			continue
		}
		ident, ok := decodeIdentity(payload)
		if !ok {
			continue
		}
		ident.Counter = counter
		ident.LastUsed = time.Now().UTC()

		updated, err := encodeIdentity(*ident)
		if err != nil {
			return fmt.Errorf("%w: encode identity: %v", ErrUnavailable, err)
		}
		params := updateEntityParams{
			Key:     ent.Key,
			Payload: base64.StdEncoding.EncodeToString(updated),
			Annotations: map[string]string{
				"type":         kindIdentity,
				"wallet":       ident.Wallet,
				"credentialId": ident.CredentialID,
			},
		}
		return c.call(ctx, "arkiv_updateEntity", params, nil)
	}
	return fmt.Errorf("%w: unknown credential %s", ErrUnavailable, credentialID)
}

// CreateBackupLink writes a backup link after an existence check; the check
// is what makes the write idempotent, there is no ledger-side lock.
func (c *ArkivClient) CreateBackupLink(ctx context.Context, link BackupLink) (Receipt, error) {
	link.Wallet = NormalizeWallet(link.Wallet)
	link.BackupWallet = NormalizeWallet(link.BackupWallet)

	existing, err := c.ListBackupLinksByWallet(ctx, link.Wallet)
	if err != nil {
		return Receipt{}, err
	}
	for _, l := range existing {
		if l.BackupWallet == link.BackupWallet {
			return Receipt{}, ErrDuplicateBackupLink
		}
	}

	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	payload, err := encodeBackupLink(link)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: encode backup link: %v", ErrUnavailable, err)
	}
	return c.createEntity(ctx, payload, map[string]string{
		"type":         kindBackupLink,
		"wallet":       link.Wallet,
		"backupWallet": link.BackupWallet,
	})
}

// ListBackupLinksByWallet returns all decodable backup links for a wallet.
func (c *ArkivClient) ListBackupLinksByWallet(ctx context.Context, wallet string) ([]BackupLink, error) {
	entities, err := c.queryEntities(ctx, fmt.Sprintf(`type = %q && wallet = %q`, kindBackupLink, NormalizeWallet(wallet)))
	if err != nil {
		return nil, err
	}
	var out []BackupLink
	for _, ent := range entities {
		payload, err := base64.StdEncoding.DecodeString(ent.Payload)
		if err != nil {
			continue
		}
		if link, ok := decodeBackupLink(payload); ok {
			out = append(out, *link)
		}
	}
	return out, nil
}

// CreateAuditRecord writes a bookkeeping entity.
func (c *ArkivClient) CreateAuditRecord(ctx context.Context, rec AuditRecord) (Receipt, error) {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	payload, err := encodeAuditRecord(rec)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: encode audit record: %v", ErrUnavailable, err)
	}
	annotations := map[string]string{"type": kindAudit, "operation": rec.Operation}
	if rec.Wallet != "" {
		annotations["wallet"] = NormalizeWallet(rec.Wallet)
	}
	return c.createEntity(ctx, payload, annotations)
}

var _ Store = (*ArkivClient)(nil)
