package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidPackage   = errors.New("invalid package")
	ErrBadSignature     = errors.New("bad webhook signature")
	ErrPurchaseNotFound = errors.New("purchase not found")
	ErrNotConfigured    = errors.New("payments not configured")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusExpired   Status = "expired"
)

// Purchase tracks one checkout session from creation to fulfilment.
type Purchase struct {
	SessionID   string     `json:"sessionId"`
	AccountID   uuid.UUID  `json:"accountId"`
	PackageID   string     `json:"packageId"`
	Amethyst    int64      `json:"amethyst"`
	AmountCents int64      `json:"amount"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	FulfilledAt *time.Time `json:"fulfilledAt,omitempty"`
}

// Store records purchases. FulfillPurchase credits the purchase's amethyst to
// its account at most once and reports whether this call did the credit.
type Store interface {
	CreatePurchase(ctx context.Context, p Purchase) error
	FulfillPurchase(ctx context.Context, sessionID string, now time.Time) (Purchase, bool, error)
	ExpirePurchase(ctx context.Context, sessionID string) error
}

// Notifier is told about every purchase credited to an account.
type Notifier interface {
	PurchaseFulfilled(ctx context.Context, p Purchase)
}

// Provider event types handled by the webhook.
const (
	EventSessionCompleted      = "checkout.session.completed"
	EventSessionAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventSessionExpired        = "checkout.session.expired"
)

type CheckoutRequest struct {
	AccountID  uuid.UUID
	Package    Package
	SuccessURL string
	CancelURL  string
}

type SessionEvent struct {
	Type      string
	SessionID string
	Paid      bool
	Metadata  map[string]string
}

// Provider is the hosted checkout service.
type Provider interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (string, error)
	ParseEvent(payload []byte, signature string) (SessionEvent, error)
}

type Service struct {
	Provider Provider
	Store    Store
	Notifier Notifier
	AppURL   string
	Now      func() time.Time

	notifying sync.WaitGroup
}

func NewService(provider Provider, store Store, notifier Notifier, appURL string) *Service {
	return &Service{
		Provider: provider,
		Store:    store,
		Notifier: notifier,
		AppURL:   strings.TrimRight(strings.TrimSpace(appURL), "/"),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateCheckout opens a checkout session for packageID and records it as a
// pending purchase. It returns the provider's session id.
func (s *Service) CreateCheckout(ctx context.Context, accountID uuid.UUID, packageID string) (string, error) {
	pkg, ok := LookupPackage(strings.TrimSpace(packageID))
	if !ok {
		return "", ErrInvalidPackage
	}
	if s.Provider == nil {
		return "", ErrNotConfigured
	}
	sessionID, err := s.Provider.CreateSession(ctx, CheckoutRequest{
		AccountID:  accountID,
		Package:    pkg,
		SuccessURL: s.AppURL + "/payment-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.AppURL + "/store",
	})
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	err = s.Store.CreatePurchase(ctx, Purchase{
		SessionID:   sessionID,
		AccountID:   accountID,
		PackageID:   pkg.ID,
		Amethyst:    pkg.Amethyst,
		AmountCents: pkg.PriceCents,
		Status:      StatusPending,
		CreatedAt:   s.Now(),
	})
	if err != nil {
		return "", fmt.Errorf("record purchase: %w", err)
	}
	return sessionID, nil
}

// notify runs the Notifier in the background so a slow notifier never delays
// the webhook acknowledgement.
func (s *Service) notify(ctx context.Context, p Purchase) {
	ctx = context.WithoutCancel(ctx)
	s.notifying.Add(1)
	go func() {
		defer s.notifying.Done()
		s.Notifier.PurchaseFulfilled(ctx, p)
	}()
}

// Wait blocks until every pending purchase notification has been sent.
func (s *Service) Wait() {
	s.notifying.Wait()
}

type WebhookResult struct {
	EventType string
	Purchase  Purchase
	Credited  bool
}

// HandleWebhook verifies a provider event and applies it. Paid sessions credit
// their amethyst once; redelivered events are no-ops. Events for sessions this
// service never created are ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	if s.Provider == nil {
		return WebhookResult{}, ErrNotConfigured
	}
	ev, err := s.Provider.ParseEvent(payload, signature)
	if err != nil {
		return WebhookResult{}, err
	}
	res := WebhookResult{EventType: ev.Type}

	switch ev.Type {
	case EventSessionCompleted, EventSessionAsyncSucceeded:
		if !ev.Paid {
			return res, nil
		}
		p, credited, err := s.Store.FulfillPurchase(ctx, ev.SessionID, s.Now())
		if errors.Is(err, ErrPurchaseNotFound) {
			log.Printf("payments: webhook for unknown session %s", ev.SessionID)
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("fulfill purchase: %w", err)
		}
		res.Purchase = p
		res.Credited = credited
		if credited && s.Notifier != nil {
			s.notify(ctx, p)
		}
	case EventSessionExpired:
		if err := s.Store.ExpirePurchase(ctx, ev.SessionID); err != nil && !errors.Is(err, ErrPurchaseNotFound) {
			return res, fmt.Errorf("expire purchase: %w", err)
		}
	}
	return res, nil
}
