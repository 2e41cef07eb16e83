// Package messaging is the end-to-end encrypted messaging core of the Sonet
// platform: key exchange and session rotation, XChaCha20-Poly1305 message
// encryption, a reconnecting WebSocket transport, a durable offline queue,
// and rate limiting for anonymous ("ghost") posting.
//
// Client wires the components together for embedders that want the whole
// stack; each package is also usable on its own.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/sonet-social/messaging/abuse"
	"github.com/sonet-social/messaging/config"
	"github.com/sonet-social/messaging/coordinator"
	"github.com/sonet-social/messaging/crypto"
	"github.com/sonet-social/messaging/keyexchange"
	"github.com/sonet-social/messaging/queue"
	"github.com/sonet-social/messaging/transport"
)

// Client is one user's assembled messaging stack.
type Client struct {
	cfg      config.Config
	identity *keyexchange.Identity

	idStore   *keyexchange.IdentityStore
	directory *keyexchange.DirectoryClient
	manager   *transport.Manager
	outbox    *queue.Store
	dedup     *coordinator.DedupStore
	guard     *abuse.Guard
	coord     *coordinator.Coordinator
}

// NewClient assembles a client for userID. The identity is loaded from the
// encrypted store under cfg.DataDir, or generated and persisted on first use.
// bearerToken authenticates the gateway connection.
func NewClient(cfg config.Config, userID string, passphrase []byte, bearerToken string) (*Client, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	idStore, err := keyexchange.NewIdentityStore(cfg.DataDir, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity store: %w", err)
	}

	identity, err := idStore.Load(userID)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			idStore.Close()
			return nil, fmt.Errorf("failed to load identity: %w", err)
		}
		identity, err = keyexchange.GenerateIdentity(userID)
		if err != nil {
			idStore.Close()
			return nil, err
		}
		if err := idStore.Save(identity); err != nil {
			idStore.Close()
			return nil, fmt.Errorf("failed to persist identity: %w", err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "NewClient",
			"user_id":  userID,
		}).Info("Generated new identity")
	}

	outbox, err := queue.Open(filepath.Join(cfg.DataDir, cfg.Queue.Path), cfg.Queue, nil)
	if err != nil {
		idStore.Close()
		return nil, err
	}

	dedup, err := coordinator.OpenDedupStore(filepath.Join(cfg.DataDir, "seen.db"), 0, nil)
	if err != nil {
		outbox.Close()
		idStore.Close()
		return nil, err
	}

	directory := keyexchange.NewDirectoryClient(cfg.KeyDirectory.BaseURL, cfg.KeyDirectory.Timeout)
	guard := abuse.NewGuard(cfg.Abuse, nil)
	manager := transport.NewManager(cfg.Transport, bearerToken, nil)
	kx := keyexchange.NewService(crypto.DefaultTimeProvider{}, cfg.Session.Lifetime, cfg.Session.MaxMessages)

	coord, err := coordinator.New(coordinator.Deps{
		Identity:    identity,
		KeyExchange: kx,
		Directory:   directory,
		Transport:   manager,
		Outbox:      outbox,
		Guard:       guard,
		Dedup:       dedup,
	})
	if err != nil {
		dedup.Close()
		outbox.Close()
		idStore.Close()
		return nil, err
	}

	return &Client{
		cfg:       cfg,
		identity:  identity,
		idStore:   idStore,
		directory: directory,
		manager:   manager,
		outbox:    outbox,
		dedup:     dedup,
		guard:     guard,
		coord:     coord,
	}, nil
}

// Start publishes the public key, connects the transport, and begins
// processing inbound frames.
func (c *Client) Start(ctx context.Context) error {
	if err := c.directory.PublishPublicKey(ctx, c.identity); err != nil {
		return err
	}
	c.manager.Start(ctx)
	c.coord.Start(ctx)
	return nil
}

// Identity returns the loaded identity.
func (c *Client) Identity() *keyexchange.Identity { return c.identity }

// Coordinator exposes the messaging operations: Send, RegisterConversation,
// Messages, receipts.
func (c *Client) Coordinator() *coordinator.Coordinator { return c.coord }

// Outbox exposes the offline queue for inspection and explicit retry.
func (c *Client) Outbox() *queue.Store { return c.outbox }

// Guard exposes the abuse guard, for the moderation surface and classifier
// flag ingestion.
func (c *Client) Guard() *abuse.Guard { return c.guard }

// Transport exposes the connection manager for state observation.
func (c *Client) Transport() *transport.Manager { return c.manager }

// Close shuts the stack down in dependency order and wipes key material.
func (c *Client) Close() {
	c.coord.Close()
	c.manager.Shutdown()
	if err := c.outbox.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"error":    err.Error(),
		}).Warn("Failed to close outbox")
	}
	if err := c.dedup.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"error":    err.Error(),
		}).Warn("Failed to close dedup store")
	}
	c.idStore.Close()
	c.identity.Wipe()
}
