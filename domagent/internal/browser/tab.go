package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
)

// Tab is one page target with its protocol session and driver.
type Tab struct {
	Page    *rod.Page
	Session *cdp.RodSession
	Driver  *cdp.RodDriver

	router *rod.HijackRouter
}

// TargetID returns the page's target ID.
func (t *Tab) TargetID() string { return string(t.Page.TargetID) }

// Open creates a tab and navigates it to pageURL when non-empty.
func (m *Manager) Open(ctx context.Context, pageURL string) (*Tab, error) {
	b, err := m.current()
	if err != nil {
		return nil, err
	}
	var page *rod.Page
	if m.cfg.Stealth {
		page, err = stealth.Page(b.Context(ctx))
	} else {
		page, err = b.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	page = page.Context(context.Background())
	t := m.wrap(page)

	if pageURL != "" {
		if err := page.Context(ctx).Navigate(pageURL); err != nil {
			t.Close()
			return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
		}
		if err := page.Context(ctx).WaitLoad(); err != nil {
			m.cfg.Logger.Warn("browser: wait load", "url", pageURL, "error", err)
		}
	}
	return t, nil
}

// Attach wraps an existing page target, such as a tab opened by a click.
func (m *Manager) Attach(ctx context.Context, targetID string) (*Tab, error) {
	b, err := m.current()
	if err != nil {
		return nil, err
	}
	page, err := b.Context(ctx).PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("browser: attach %s: %w", targetID, err)
	}
	return m.wrap(page.Context(context.Background())), nil
}

func (m *Manager) wrap(page *rod.Page) *Tab {
	t := &Tab{
		Page:    page,
		Session: cdp.NewRodSession(page, m.cfg.CallTimeout),
		Driver:  cdp.NewRodDriver(page, m.cfg.CallTimeout),
	}
	if len(m.cfg.ResourceBlocking) > 0 {
		t.router = blockResources(page, m.cfg.ResourceBlocking)
	}
	return t
}

// Close stops request interception and closes the page.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
