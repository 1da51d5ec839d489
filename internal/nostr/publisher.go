package nostr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"go.uber.org/zap"
)

var (
	errMissingSecretKey = errors.New("secret key is required")
	errMissingRelays    = errors.New("at least one relay is required")
	errAllRelaysFailed  = errors.New("publish failed on every relay")
)

const defaultRelayTimeout = 30 * time.Second

// RelayConn is the slice of a relay connection the publisher needs.
type RelayConn interface {
	Publish(ctx context.Context, event nostr.Event) error
	Close() error
}

// DialFunc opens a connection to a relay URL.
type DialFunc func(ctx context.Context, url string) (RelayConn, error)

func dialRelay(ctx context.Context, url string) (RelayConn, error) {
	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	return relay, nil
}

// PublisherConfig assembles a Publisher.
type PublisherConfig struct {
	// SecretKey is the bot's signing key, nsec bech32 or raw hex.
	SecretKey string
	Relays    []string
	// TestMode logs what would be posted without touching the network.
	TestMode     bool
	RelayTimeout time.Duration
	Dial         DialFunc
	Logger       *zap.Logger
}

// Publisher signs kind-1 notes and fans them out to the configured relays.
// Per-relay failures are logged and counted, never retried.
type Publisher struct {
	secretKey    string
	publicKey    string
	relays       []string
	testMode     bool
	relayTimeout time.Duration
	dial         DialFunc
	logger       *zap.Logger
}

// NewPublisher decodes the signing key and validates the relay list.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Relays) == 0 {
		return nil, errMissingRelays
	}
	dial := cfg.Dial
	if dial == nil {
		dial = dialRelay
	}
	timeout := cfg.RelayTimeout
	if timeout <= 0 {
		timeout = defaultRelayTimeout
	}

	publisher := &Publisher{
		relays:       cfg.Relays,
		testMode:     cfg.TestMode,
		relayTimeout: timeout,
		dial:         dial,
		logger:       logger,
	}

	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		if !cfg.TestMode {
			return nil, errMissingSecretKey
		}
		return publisher, nil
	}

	secretKey, err := decodeSecretKey(key)
	if err != nil {
		return nil, err
	}
	publicKey, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	publisher.secretKey = secretKey
	publisher.publicKey = publicKey
	return publisher, nil
}

// PublicKey returns the bot's hex public key, empty in keyless test mode.
func (p *Publisher) PublicKey() string {
	return p.publicKey
}

// Publish signs the content as a kind-1 note and attempts delivery to every
// configured relay concurrently. It returns an error only when no relay
// accepted the event.
func (p *Publisher) Publish(ctx context.Context, content string, tags [][]string) error {
	event := nostr.Event{
		Kind:      nostr.KindTextNote,
		CreatedAt: nostr.Now(),
		Content:   content,
		Tags:      toNostrTags(tags),
	}

	if p.testMode {
		p.logger.Info("test mode, would post to relays",
			zap.String("content", content),
			zap.Int("tags", len(tags)),
			zap.Strings("relays", p.relays))
		return nil
	}

	if err := event.Sign(p.secretKey); err != nil {
		return fmt.Errorf("sign event: %w", err)
	}

	p.logger.Info("publishing to relays",
		zap.Int("relays", len(p.relays)),
		zap.String("event_id", event.ID))

	var wg sync.WaitGroup
	outcomes := make([]error, len(p.relays))
	for i, url := range p.relays {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			outcomes[i] = p.publishOne(ctx, url, event)
		}(i, url)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range outcomes {
		if err != nil {
			p.logger.Warn("failed to publish to relay",
				zap.String("relay", p.relays[i]),
				zap.Error(err))
			continue
		}
		succeeded++
	}
	p.logger.Info("publish results",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", len(p.relays)-succeeded))

	if succeeded == 0 {
		return errAllRelaysFailed
	}
	return nil
}

func (p *Publisher) publishOne(ctx context.Context, url string, event nostr.Event) error {
	relayCtx, cancel := context.WithTimeout(ctx, p.relayTimeout)
	defer cancel()

	conn, err := p.dial(relayCtx, url)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	if err := conn.Publish(relayCtx, event); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func decodeSecretKey(key string) (string, error) {
	if strings.HasPrefix(key, "nsec") {
		prefix, value, err := nip19.Decode(key)
		if err != nil {
			return "", fmt.Errorf("decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return "", fmt.Errorf("unexpected bech32 prefix %q", prefix)
		}
		secret, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("unexpected nsec payload type %T", value)
		}
		return secret, nil
	}
	return key, nil
}

func toNostrTags(tags [][]string) nostr.Tags {
	converted := make(nostr.Tags, 0, len(tags))
	for _, tag := range tags {
		converted = append(converted, nostr.Tag(tag))
	}
	return converted
}
