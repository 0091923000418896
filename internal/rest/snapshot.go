package rest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/livefeed/livefeed-go/internal/wire"
)

// ErrSnapshotPartial reports that one or more baseline sections failed to
// load. The remaining sections are still usable; callers should degrade the
// failed sections rather than discard the baseline.
var ErrSnapshotPartial = errors.New("partial baseline")

// Baseline is the authoritative current state fetched at startup and on every
// reconnect.
type Baseline struct {
	Notifications []wire.Notification
	UnreadCount   int
	Messages      []wire.ChatMessage
	OnlineUsers   []string
	Profile       wire.Profile

	Sections SectionFlags
	// Degraded names the sections that failed, for UI degradation.
	Degraded []string
}

// SectionFlags marks which baseline sections loaded successfully.
type SectionFlags struct {
	Notifications bool
	Messages      bool
	Presence      bool
	Profile       bool
}

// LoadBaseline fetches all baseline sections. Each sub-fetch is independent:
// a failure in one never blocks the others. When some sections fail the
// result is still returned alongside an ErrSnapshotPartial; when everything
// fails the error wraps all section failures.
func (c *Client) LoadBaseline(ctx context.Context) (Baseline, error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		baseline Baseline
		failures []string
	)

	section := func(name string, fetch func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fetch()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", name, err))
				baseline.Degraded = append(baseline.Degraded, name)
				return
			}
			switch name {
			case "notifications":
				baseline.Sections.Notifications = true
			case "messages":
				baseline.Sections.Messages = true
			case "presence":
				baseline.Sections.Presence = true
			case "profile":
				baseline.Sections.Profile = true
			}
		}()
	}

	section("notifications", func() error {
		resp, err := c.Notifications(ctx, 1, MaxPageSize)
		if err != nil {
			return err
		}
		count, err := c.UnreadCount(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		baseline.Notifications = resp.Notifications
		baseline.UnreadCount = count
		mu.Unlock()
		return nil
	})
	section("messages", func() error {
		msgs, err := c.RecentMessages(ctx, DefaultRecentMessages)
		if err != nil {
			return err
		}
		mu.Lock()
		baseline.Messages = msgs
		mu.Unlock()
		return nil
	})
	section("presence", func() error {
		users, err := c.OnlineUsers(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		baseline.OnlineUsers = users
		mu.Unlock()
		return nil
	})
	section("profile", func() error {
		profile, err := c.Profile(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		baseline.Profile = profile
		mu.Unlock()
		return nil
	})

	wg.Wait()

	if len(failures) == 0 {
		return baseline, nil
	}
	return baseline, fmt.Errorf("%w: %s", ErrSnapshotPartial, strings.Join(failures, "; "))
}
