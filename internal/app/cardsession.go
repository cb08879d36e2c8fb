package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/kiosk/internal/domain"
	"github.com/bft-labs/kiosk/internal/ports"
	"github.com/bft-labs/kiosk/pkg/log"
)

// Card reader protocol.
const (
	CardRemovedPayload         = "Card removed"
	DefaultCardResponseTopic   = "card/response"
	cardAbsentMessage          = "Card is not inserted or data is missing"
	defaultUserUpsertTimeout   = 5 * time.Second
	defaultCardResponseTimeout = 5 * time.Second
)

var errMalformedCard = errors.New("malformed card message")

// BalanceLookup is the strict balance query used when a card is inserted.
type BalanceLookup interface {
	Balance(ctx context.Context, userID string) (float64, error)
}

// CardSession owns the state of the currently inserted card.
//
// Every transition bumps a generation counter. A card-present event only
// installs its session if no other transition happened while its balance
// lookup was in flight, so a removal or disconnect always wins.
type CardSession struct {
	mu         sync.RWMutex
	current    *domain.Card
	generation uint64

	balance   BalanceLookup
	users     ports.UserStore
	publisher ports.Publisher
	topic     string
	logger    log.Logger

	// upserts tracks fire-and-forget user upserts so tests can wait on them.
	upserts sync.WaitGroup
}

// NewCardSession creates an empty session. responseTopic defaults to
// DefaultCardResponseTopic.
func NewCardSession(balance BalanceLookup, users ports.UserStore, publisher ports.Publisher, responseTopic string, logger log.Logger) *CardSession {
	if responseTopic == "" {
		responseTopic = DefaultCardResponseTopic
	}
	return &CardSession{
		balance:   balance,
		users:     users,
		publisher: publisher,
		topic:     responseTopic,
		logger:    logger.With(log.String("component", "card")),
	}
}

// Current returns a copy of the inserted card, or nil when no card is present.
func (c *CardSession) Current() *domain.Card {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	card := *c.current
	return &card
}

// Remove clears the session unconditionally.
func (c *CardSession) Remove() {
	c.clear()
	c.logger.Info("card removed, session cleared")
}

// Disconnect clears the session after the reader link was lost.
func (c *CardSession) Disconnect() {
	c.clear()
	c.logger.Warn("card session cleared (broker connection lost)")
}

// HandleMessage processes one raw card-reader message and publishes the
// resulting session on the response topic.
func (c *CardSession) HandleMessage(ctx context.Context, payload []byte) {
	if string(payload) == CardRemovedPayload {
		c.Remove()
		c.publishState(ctx)
		return
	}

	card, err := c.present(ctx, payload)
	if err != nil {
		c.logger.Warn("invalid card data, session cleared",
			log.String("payload", string(payload)),
			log.Err(err),
		)
	} else {
		c.logger.Info("card inserted",
			log.String("userid", card.UserID),
			log.Float64("credit", card.Credit),
		)
	}
	c.publishState(ctx)
}

// present validates payload, looks up the balance and installs the session.
// Any failure leaves the session absent.
func (c *CardSession) present(ctx context.Context, payload []byte) (*domain.Card, error) {
	gen := c.clear()

	userID, userName, err := parseCardPayload(payload)
	if err != nil {
		return nil, err
	}

	credit, err := c.balance.Balance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("balance lookup: %w", err)
	}
	if credit < 0 {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidBalance, credit)
	}

	card := &domain.Card{UserID: userID, UserName: userName, Credit: credit}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return nil, errors.New("card state changed during balance lookup")
	}
	c.current = card
	c.generation++
	c.mu.Unlock()

	c.upsertUser(*card)
	return card, nil
}

// clear drops the session and returns the new generation.
func (c *CardSession) clear() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	c.generation++
	return c.generation
}

func (c *CardSession) upsertUser(card domain.Card) {
	if c.users == nil {
		return
	}
	c.upserts.Add(1)
	go func() {
		defer c.upserts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), defaultUserUpsertTimeout)
		defer cancel()
		if err := c.users.UpsertUser(ctx, card.UserID, card.UserName); err != nil {
			c.logger.Error("failed to upsert user from card data",
				log.String("userid", card.UserID),
				log.Err(err),
			)
			return
		}
		c.logger.Debug("user upserted from card data", log.String("userid", card.UserID))
	}()
}

type cardError struct {
	Error string `json:"error"`
}

func (c *CardSession) publishState(ctx context.Context) {
	if c.publisher == nil {
		return
	}
	var body any = cardError{Error: cardAbsentMessage}
	if card := c.Current(); card != nil {
		body = card
	}
	payload, err := json.Marshal(body)
	if err != nil {
		c.logger.Error("encode card response", log.Err(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, defaultCardResponseTimeout)
	defer cancel()
	if err := c.publisher.Publish(ctx, c.topic, payload); err != nil {
		c.logger.Error("failed to publish card data", log.String("topic", c.topic), log.Err(err))
		return
	}
	c.logger.Debug("published card data", log.String("payload", string(payload)))
}

// parseCardPayload requires userid and username to be non-empty strings.
func parseCardPayload(payload []byte) (string, string, error) {
	var raw struct {
		UserID   any `json:"userid"`
		UserName any `json:"username"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return "", "", fmt.Errorf("%w: %v", errMalformedCard, err)
	}
	userID, ok := raw.UserID.(string)
	if !ok || userID == "" {
		return "", "", fmt.Errorf("%w: userid must be a non-empty string", errMalformedCard)
	}
	userName, ok := raw.UserName.(string)
	if !ok || userName == "" {
		return "", "", fmt.Errorf("%w: username must be a non-empty string", errMalformedCard)
	}
	return userID, userName, nil
}
