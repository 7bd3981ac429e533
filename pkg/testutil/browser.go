// Package testutil drives headless Chrome for the e2e suite.
package testutil

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserConfig configures Chrome launch options.
type BrowserConfig struct {
	Headless bool          // default: true
	Timeout  time.Duration // per operation, default: 30s

	// InsecureTLS accepts self-signed certificates, needed to reach an
	// httptest TLS server. Chrome only honours Early Hints over HTTP/2,
	// which in practice means TLS.
	InsecureTLS bool
}

// DefaultBrowserConfig returns defaults for e2e tests.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:    true,
		Timeout:     30 * time.Second,
		InsecureTLS: true,
	}
}

// BrowserClient is a single Chrome instance with one current page.
type BrowserClient struct {
	browser *rod.Browser
	page    *rod.Page
	timeout time.Duration
}

// NewBrowserClient launches Chrome with media and autoplay restrictions
// lifted so WebCodecs and WebRTC pages run without a user gesture.
func NewBrowserClient(cfg BrowserConfig) (*BrowserClient, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	l := launcher.New().
		Headless(cfg.Headless).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("use-fake-device-for-media-stream").
		Set("use-fake-ui-for-media-stream").
		Set("autoplay-policy", "no-user-gesture-required")
	if cfg.InsecureTLS {
		l = l.Set("ignore-certificate-errors")
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	return &BrowserClient{
		browser: browser,
		timeout: cfg.Timeout,
	}, nil
}

// Navigate opens url in a new page, which becomes the current page.
func (c *BrowserClient) Navigate(url string) (*rod.Page, error) {
	page, err := c.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	c.page = page

	if err := page.Timeout(c.timeout).Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}
	page.CancelTimeout()
	return page, nil
}

// Page returns the current page, or nil if none is open.
func (c *BrowserClient) Page() *rod.Page {
	return c.page
}

// Eval runs js, a function expression such as "() => x", on the current
// page. A returned promise is awaited.
func (c *BrowserClient) Eval(js string) (any, error) {
	if c.page == nil {
		return nil, errors.New("no page open, call Navigate first")
	}
	result, err := c.page.Timeout(c.timeout).Eval(js)
	if err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}
	return result.Value.Val(), nil
}

// WaitResult polls the global variable name until the page sets it, then
// decodes it into out.
func (c *BrowserClient) WaitResult(name string, out any) error {
	if c.page == nil {
		return errors.New("no page open")
	}
	p := c.page.Timeout(c.timeout)
	check := fmt.Sprintf("() => window[%q] !== undefined", name)
	if err := p.Wait(rod.Eval(check)); err != nil {
		return fmt.Errorf("wait for %s: %w", name, err)
	}
	res, err := p.Eval(fmt.Sprintf("() => window[%q]", name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return res.Value.Unmarshal(out)
}

// WaitStable waits until the DOM stops changing.
func (c *BrowserClient) WaitStable() error {
	if c.page == nil {
		return errors.New("no page open")
	}
	return c.page.WaitStable(c.timeout)
}

// Close shuts Chrome down. Always defer it to avoid orphaned processes.
func (c *BrowserClient) Close() error {
	if c.browser != nil {
		return c.browser.Close()
	}
	return nil
}
