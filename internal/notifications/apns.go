package notifications

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// APNsConfig holds configuration for Apple Push Notification service
type APNsConfig struct {
	KeyPath    string // Path to .p8 key file
	KeyID      string // Key ID from Apple Developer Portal
	TeamID     string // Team ID from Apple Developer Portal
	BundleID   string
	Production bool
}

// pusher is the part of apns2.Client we use.
type pusher interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// APNsClient sends push notifications via Apple Push Notification service
type APNsClient struct {
	client   pusher
	bundleID string
	logger   zerolog.Logger
	mu       sync.Mutex
}

// NewAPNsClient creates a new APNs client. It returns nil, nil when APNs is
// not configured.
func NewAPNsClient(cfg APNsConfig, logger zerolog.Logger) (*APNsClient, error) {
	logger = logger.With().Str("component", "apns").Logger()
	if cfg.KeyPath == "" || cfg.KeyID == "" || cfg.TeamID == "" || cfg.BundleID == "" {
		logger.Info().Msg("missing configuration, push notifications disabled")
		return nil, nil
	}

	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read APNs key file: %w", err)
	}

	block, _ := pem.Decode(keyBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode APNs key PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs key: %w", err)
	}

	ecdsaKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("APNs key is not an ECDSA private key")
	}

	authToken := &token.Token{
		AuthKey: ecdsaKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(authToken).Development()
	if cfg.Production {
		client = client.Production()
	}

	logger.Info().Bool("production", cfg.Production).Str("bundle", cfg.BundleID).Msg("client initialized")
	return newAPNsClient(client, cfg.BundleID, logger), nil
}

func newAPNsClient(p pusher, bundleID string, logger zerolog.Logger) *APNsClient {
	return &APNsClient{client: p, bundleID: bundleID, logger: logger}
}

// SendMeetingNotification tells a device that a meeting was saved.
func (c *APNsClient) SendMeetingNotification(deviceToken string, m MeetingSaved) error {
	if c == nil || c.client == nil {
		return nil
	}

	p := payload.NewPayload().
		AlertTitle(fmt.Sprintf("%s saved", m.SyncupTitle)).
		AlertBody(preview(m.Transcript, 120)).
		Sound("default").
		Custom("syncup_id", m.SyncupID).
		Custom("meeting_id", m.MeetingID)

	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       c.bundleID,
		Payload:     p,
		Expiration:  time.Now().Add(24 * time.Hour),
	}

	c.mu.Lock()
	res, err := c.client.Push(notification)
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to send notification")
		return err
	}

	if res.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", res.StatusCode).Str("reason", res.Reason).Msg("notification rejected")
		return fmt.Errorf("APNs rejected notification: %s", res.Reason)
	}

	c.logger.Debug().Str("token", shortToken(deviceToken)).Msg("notification sent")
	return nil
}

func shortToken(t string) string {
	if len(t) > 16 {
		return t[:16] + "..."
	}
	return t
}
