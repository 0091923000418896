// Package notify forwards high-urgency livefeed notifications to an external
// push service, so critical alerts reach the user even when no client UI is
// in the foreground.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/livefeed/livefeed-go/internal/wire"
)

const (
	// pushoverEndpoint is the Pushover API endpoint used for message delivery.
	pushoverEndpoint = "https://api.pushover.net/1/messages.json"
	// pushoverContentType is the HTTP form content type required by Pushover.
	pushoverContentType = "application/x-www-form-urlencoded"
	// defaultPushoverTimeout is the HTTP timeout used for Pushover requests.
	defaultPushoverTimeout = 10 * time.Second
	// defaultCooldown is the minimum interval between forwards per type tag.
	defaultCooldown = 5 * time.Minute
)

// PushoverConfig describes the credentials and defaults for Pushover delivery.
type PushoverConfig struct {
	// Token is the application API token.
	Token string
	// UserKey is the destination user key.
	UserKey string
	// Cooldown is the minimum interval between forwards per type tag.
	// Zero means defaultCooldown; critical notifications bypass it.
	Cooldown time.Duration
}

// Pushover forwards notifications to the Pushover service.
//
// Only high and critical priority notifications are forwarded. Forwards are
// rate-limited per type tag so a flapping alert cannot flood the user's phone;
// critical notifications bypass the cooldown.
type Pushover struct {
	token    string
	userKey  string
	cooldown time.Duration
	endpoint string

	client *http.Client

	mu        sync.Mutex
	lastSent  map[string]time.Time
	lastError error
}

// NewPushover creates a forwarder using the supplied config.
func NewPushover(cfg PushoverConfig) (*Pushover, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("pushover token is required")
	}
	if strings.TrimSpace(cfg.UserKey) == "" {
		return nil, fmt.Errorf("pushover user key is required")
	}
	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("pushover cooldown must be non-negative")
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = defaultCooldown
	}

	return &Pushover{
		token:    cfg.Token,
		userKey:  cfg.UserKey,
		cooldown: cfg.Cooldown,
		endpoint: pushoverEndpoint,
		client: &http.Client{
			Timeout: defaultPushoverTimeout,
		},
		lastSent: make(map[string]time.Time),
	}, nil
}

// Forward sends the notification to Pushover if its priority and the cooldown
// allow it. Low and normal priority notifications are silently skipped.
func (p *Pushover) Forward(ctx context.Context, n wire.Notification) error {
	if n.Priority != wire.PriorityHigh && n.Priority != wire.PriorityCritical {
		return nil
	}

	alertKey := n.TypeTag
	if alertKey == "" {
		alertKey = n.ID
	}
	now := time.Now()
	if n.Priority != wire.PriorityCritical && !p.shouldSend(alertKey, now) {
		return nil
	}

	if err := p.send(ctx, n); err != nil {
		p.setLastError(err)
		return err
	}
	p.markSent(alertKey, now)
	return nil
}

// LastError returns the most recent send error, if any.
func (p *Pushover) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastError
}

// shouldSend returns whether a forward is allowed under cooldown rules.
func (p *Pushover) shouldSend(alertKey string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastSent[alertKey]
	if !ok {
		return true
	}
	return now.Sub(last) >= p.cooldown
}

// markSent records a successful send time for a specific alert key.
func (p *Pushover) markSent(alertKey string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSent[alertKey] = now
	p.lastError = nil
}

// setLastError records the most recent send error.
func (p *Pushover) setLastError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastError = err
}

// send performs the HTTP request to Pushover.
func (p *Pushover) send(ctx context.Context, n wire.Notification) error {
	message := strings.TrimSpace(n.Body)
	if message == "" {
		message = strings.TrimSpace(n.Title)
	}
	if message == "" {
		return fmt.Errorf("notification %s has no content to forward", n.ID)
	}

	form := url.Values{}
	form.Set("token", p.token)
	form.Set("user", p.userKey)
	form.Set("message", message)
	if title := strings.TrimSpace(n.Title); title != "" {
		form.Set("title", title)
	}
	if n.Priority == wire.PriorityCritical {
		form.Set("priority", "1")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("pushover request build failed: %w", err)
	}
	req.Header.Set("Content-Type", pushoverContentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushover request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("pushover response read failed: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("pushover response %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
