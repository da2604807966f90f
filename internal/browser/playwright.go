package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Selectors locate the page elements a session interacts with
type Selectors struct {
	MessageInput     string
	SendButton       string
	SendFailed       string
	RecipientMissing string
	UnreadBadge      string
}

// Config configures the Playwright launcher
type Config struct {
	Engine            string // firefox, chromium or webkit
	Headless          bool
	HomeURL           string
	ComposeURL        string // {recipient} is replaced by the escaped recipient
	NavigationTimeout time.Duration
	Selectors         Selectors
	// SkipInstall assumes the driver and browsers are already present
	SkipInstall bool
}

// Launcher starts persistent browser contexts with Playwright
type Launcher struct {
	cfg    Config
	logger *slog.Logger

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewLauncher creates a launcher. Playwright is started lazily on first Create.
func NewLauncher(cfg Config, logger *slog.Logger) *Launcher {
	if cfg.Engine == "" {
		cfg.Engine = "firefox"
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	return &Launcher{
		cfg:    cfg,
		logger: logger.With("component", "browser"),
	}
}

func (l *Launcher) start() (*playwright.Playwright, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pw != nil {
		return l.pw, nil
	}

	opts := &playwright.RunOptions{
		Browsers: []string{l.cfg.Engine},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if !l.cfg.SkipInstall {
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	l.logger.Info("playwright started", "engine", l.cfg.Engine)
	l.pw = pw
	return pw, nil
}

func (l *Launcher) browserType(pw *playwright.Playwright) playwright.BrowserType {
	switch l.cfg.Engine {
	case "chromium":
		return pw.Chromium
	case "webkit":
		return pw.WebKit
	default:
		return pw.Firefox
	}
}

// Create launches a persistent context on the profile directory at path
func (l *Launcher) Create(ctx context.Context, path string, opts Options) (Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := l.start()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResource, err)
	}

	headless := l.cfg.Headless && !opts.Headed
	bctx, err := l.browserType(pw).LaunchPersistentContext(path, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: &headless,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: launch %s: %v", ErrResource, path, err)
	}

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = bctx.NewPage()
		if err != nil {
			bctx.Close()
			return nil, fmt.Errorf("%w: new page: %v", ErrResource, err)
		}
	}

	timeout := float64(l.cfg.NavigationTimeout.Milliseconds())
	page.SetDefaultTimeout(timeout)

	s := &session{
		path:    path,
		cfg:     l.cfg,
		timeout: timeout,
		context: bctx,
		page:    page,
	}

	if l.cfg.HomeURL != "" {
		if err := s.goTo(l.cfg.HomeURL); err != nil {
			s.Close()
			return nil, err
		}
	}

	l.logger.Debug("browser session created", "profile_path", path, "headless", headless)
	return s, nil
}

// Stop shuts down the Playwright driver
func (l *Launcher) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pw == nil {
		return nil
	}
	err := l.pw.Stop()
	l.pw = nil
	return err
}

// session is a Resource backed by a persistent browser context
type session struct {
	path    string
	cfg     Config
	timeout float64

	context playwright.BrowserContext
	page    playwright.Page

	closeOnce sync.Once
	closeErr  error
}

func (s *session) Path() string { return s.path }

func (s *session) Alive() bool {
	if s.page == nil || s.page.IsClosed() {
		return false
	}
	_, err := s.page.Evaluate("() => true")
	return err == nil
}

func (s *session) goTo(target string) error {
	if _, err := s.page.Goto(target, playwright.PageGotoOptions{
		Timeout:   &s.timeout,
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return fmt.Errorf("%w: navigate %s: %v", ErrResource, target, err)
	}
	return nil
}

// present reports whether selector currently matches an element
func (s *session) present(selector string) bool {
	if selector == "" {
		return false
	}
	el, err := s.page.QuerySelector(selector)
	return err == nil && el != nil
}

func (s *session) SendMessage(ctx context.Context, recipient, text string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Rejected, err
	}

	target := strings.ReplaceAll(s.cfg.ComposeURL, "{recipient}", url.PathEscape(recipient))
	if err := s.goTo(target); err != nil {
		return Rejected, err
	}

	if s.present(s.cfg.Selectors.RecipientMissing) {
		return NotFound, nil
	}

	// A compose page without an input means the site will not accept a message
	if _, err := s.page.WaitForSelector(s.cfg.Selectors.MessageInput, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: &s.timeout,
	}); err != nil {
		if s.page.IsClosed() {
			return Rejected, fmt.Errorf("%w: page closed", ErrResource)
		}
		return Rejected, nil
	}

	if err := s.page.Fill(s.cfg.Selectors.MessageInput, text); err != nil {
		return Rejected, fmt.Errorf("%w: fill message: %v", ErrResource, err)
	}
	if err := s.page.Click(s.cfg.Selectors.SendButton); err != nil {
		return Rejected, fmt.Errorf("%w: click send: %v", ErrResource, err)
	}

	if s.present(s.cfg.Selectors.SendFailed) {
		return Rejected, nil
	}
	return Sent, nil
}

func (s *session) UnreadCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.cfg.HomeURL != "" {
		if err := s.goTo(s.cfg.HomeURL); err != nil {
			return 0, err
		}
	}
	if s.cfg.Selectors.UnreadBadge == "" {
		return 0, nil
	}

	badges, err := s.page.QuerySelectorAll(s.cfg.Selectors.UnreadBadge)
	if err != nil {
		return 0, fmt.Errorf("%w: query unread badges: %v", ErrResource, err)
	}

	total := 0
	for _, badge := range badges {
		text, err := badge.TextContent()
		if err != nil {
			continue
		}
		total += badgeCount(text)
	}
	return total, nil
}

// badgeCount reads a badge label; a badge without a number counts as one
func badgeCount(label string) int {
	label = strings.TrimSuffix(strings.TrimSpace(label), "+")
	if n, err := strconv.Atoi(label); err == nil && n >= 0 {
		return n
	}
	return 1
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		if s.context != nil {
			s.closeErr = s.context.Close()
		}
	})
	return s.closeErr
}
