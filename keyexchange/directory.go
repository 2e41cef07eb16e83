package keyexchange

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sonet-social/messaging/limits"
)

// DirectoryClient talks to the Sonet key directory REST service:
// an idempotent public-key upsert and a fetch by user ID.
type DirectoryClient struct {
	baseURL string
	client  *http.Client
}

// publicKeyRecord is the wire form of a published key.
type publicKeyRecord struct {
	UserID    string `json:"user_id"`
	PublicKey string `json:"public_key"`
}

// NewDirectoryClient creates a client for the key directory at baseURL.
func NewDirectoryClient(baseURL string, timeout time.Duration) *DirectoryClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DirectoryClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// PublishPublicKey upserts the identity's public key. The operation is
// idempotent; republishing the same key is a no-op server-side.
func (dc *DirectoryClient) PublishPublicKey(ctx context.Context, id *Identity) error {
	body, err := json.Marshal(publicKeyRecord{
		UserID:    id.UserID,
		PublicKey: hex.EncodeToString(id.KeyPair.Public[:]),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize key record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		dc.baseURL+"/v1/keys/"+url.PathEscape(id.UserID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := dc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to publish public key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("key directory rejected publish: status %d", resp.StatusCode)
	}

	logrus.WithFields(logrus.Fields{
		"function": "PublishPublicKey",
		"user_id":  id.UserID,
		"status":   resp.StatusCode,
	}).Debug("Published public key")
	return nil
}

// FetchPeerPublicKey retrieves a peer's published public key. A peer that has
// never published fails with ErrPeerKeyUnavailable.
func (dc *DirectoryClient) FetchPeerPublicKey(ctx context.Context, userID string) ([32]byte, error) {
	var peerPK [32]byte

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		dc.baseURL+"/v1/keys/"+url.PathEscape(userID), nil)
	if err != nil {
		return peerPK, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := dc.client.Do(req)
	if err != nil {
		return peerPK, fmt.Errorf("failed to fetch peer key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return peerPK, fmt.Errorf("%w: %s", ErrPeerKeyUnavailable, userID)
	}
	if resp.StatusCode != http.StatusOK {
		return peerPK, fmt.Errorf("key directory fetch failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return peerPK, fmt.Errorf("failed to read fetch response: %w", err)
	}
	if err := limits.ValidateProcessingBuffer(body); err != nil {
		return peerPK, fmt.Errorf("invalid key directory response: %w", err)
	}

	var record publicKeyRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return peerPK, fmt.Errorf("failed to parse key record: %w", err)
	}

	raw, err := hex.DecodeString(record.PublicKey)
	if err != nil || len(raw) != 32 {
		return peerPK, fmt.Errorf("malformed public key for %s", userID)
	}
	copy(peerPK[:], raw)
	return peerPK, nil
}
