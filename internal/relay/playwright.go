package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/coviewhq/coview/pkg/logger"
)

// PlaywrightOptions configures the embedded executor.
type PlaywrightOptions struct {
	Headless bool
	Timeout  time.Duration
}

// PlaywrightExecutor drives a single Chromium page and executes forwarded
// navigation, click, type and scroll actions against it.
type PlaywrightExecutor struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	log     *zap.Logger
}

type navigateAction struct {
	URL string `json:"url"`
}

type clickAction struct {
	Selector string   `json:"selector"`
	X        *float64 `json:"x"`
	Y        *float64 `json:"y"`
}

type typeAction struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

type scrollAction struct {
	DeltaX float64 `json:"deltaX"`
	DeltaY float64 `json:"deltaY"`
}

// NewPlaywrightExecutor installs and starts Playwright, launches Chromium
// and opens the shared page.
func NewPlaywrightExecutor(opts PlaywrightOptions) (*PlaywrightExecutor, error) {
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(runOpts); err != nil {
		return nil, fmt.Errorf("relay: install playwright: %w", err)
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("relay: start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("relay: launch browser: %w", err)
	}

	context, err := browser.NewContext()
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("relay: create context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		_ = context.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("relay: create page: %w", err)
	}

	if opts.Timeout > 0 {
		page.SetDefaultTimeout(float64(opts.Timeout.Milliseconds()))
	}

	return &PlaywrightExecutor{
		pw:      pw,
		browser: browser,
		context: context,
		page:    page,
		log:     logger.WithComponent("relay"),
	}, nil
}

// Forward executes the action against the shared page. Unknown actions and
// execution failures are logged and dropped.
func (e *PlaywrightExecutor) Forward(action string, data json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	switch action {
	case "navigate":
		err = e.navigate(data)
	case "click":
		err = e.click(data)
	case "type":
		err = e.typeText(data)
	case "scroll":
		err = e.scroll(data)
	default:
		e.log.Debug("unsupported action skipped", zap.String("action", action))
		return
	}

	if err != nil {
		e.log.Warn("action execution failed",
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (e *PlaywrightExecutor) navigate(data json.RawMessage) error {
	var payload navigateAction
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode navigate payload: %w", err)
	}
	if payload.URL == "" {
		return fmt.Errorf("navigate requires a url")
	}

	_, err := e.page.Goto(payload.URL)
	return err
}

func (e *PlaywrightExecutor) click(data json.RawMessage) error {
	var payload clickAction
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode click payload: %w", err)
	}

	if payload.Selector != "" {
		return e.page.Click(payload.Selector)
	}
	if payload.X != nil && payload.Y != nil {
		return e.page.Mouse().Click(*payload.X, *payload.Y)
	}
	return fmt.Errorf("click requires a selector or coordinates")
}

func (e *PlaywrightExecutor) typeText(data json.RawMessage) error {
	var payload typeAction
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode type payload: %w", err)
	}

	if payload.Selector != "" {
		return e.page.Fill(payload.Selector, payload.Text)
	}
	return e.page.Keyboard().Type(payload.Text)
}

func (e *PlaywrightExecutor) scroll(data json.RawMessage) error {
	var payload scrollAction
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode scroll payload: %w", err)
	}
	return e.page.Mouse().Wheel(payload.DeltaX, payload.DeltaY)
}

// Close tears down the page, browser and the Playwright driver.
func (e *PlaywrightExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs error
	if e.page != nil {
		errs = multierr.Append(errs, e.page.Close())
	}
	if e.context != nil {
		errs = multierr.Append(errs, e.context.Close())
	}
	if e.browser != nil {
		errs = multierr.Append(errs, e.browser.Close())
	}
	if e.pw != nil {
		errs = multierr.Append(errs, e.pw.Stop())
	}
	return errs
}
