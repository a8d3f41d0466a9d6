package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightAdapter is the default, full-capability Adapter backend. One
// instance wraps a single page within its own browser context.
type PlaywrightAdapter struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

// NewPlaywrightAdapter launches (or connects to, when remoteURL is set) a
// Chromium instance and opens a fresh page in its own context.
func NewPlaywrightAdapter(pw *playwright.Playwright, opts PlaywrightOptions) (*PlaywrightAdapter, error) {
	var browser playwright.Browser
	var err error
	if opts.RemoteURL != "" {
		browser, err = pw.Chromium.Connect(opts.RemoteURL)
	} else {
		browser, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(opts.Headless),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("driver: launch chromium: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  firstNonZero(opts.ViewportWidth, 1920),
			Height: firstNonZero(opts.ViewportHeight, 1080),
		},
		AcceptDownloads:   playwright.Bool(true),
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("driver: new context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		return nil, fmt.Errorf("driver: new page: %w", err)
	}

	return &PlaywrightAdapter{browser: browser, context: bctx, page: page}, nil
}

// PlaywrightOptions configures a PlaywrightAdapter's browser launch.
type PlaywrightOptions struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	// RemoteURL, when set, connects to an existing browser server instead
	// of launching a local Chromium process.
	RemoteURL string
}

func firstNonZero(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func (a *PlaywrightAdapter) Navigate(ctx context.Context, url string, policy WaitPolicy) (NavigateResult, error) {
	resp, err := a.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntilState(policy),
	})
	if err != nil {
		return NavigateResult{}, newErr("navigate", classifyPlaywrightErr(err), url, err)
	}
	result := NavigateResult{FinalURL: a.page.URL()}
	if resp != nil {
		result.Status = categorizeStatus(resp.Status())
	}
	return result, nil
}

func waitUntilState(policy WaitPolicy) *playwright.WaitUntilState {
	switch policy {
	case WaitDOMContent:
		return playwright.WaitUntilStateDomcontentloaded
	case WaitNetworkIdle:
		return playwright.WaitUntilStateNetworkidle
	case WaitNone:
		return playwright.WaitUntilStateCommit
	default:
		return playwright.WaitUntilStateLoad
	}
}

func categorizeStatus(code int) StatusCategory {
	switch {
	case code >= 200 && code < 300:
		return StatusOK
	case code >= 300 && code < 400:
		return StatusRedirect
	case code >= 400 && code < 500:
		return StatusClientError
	case code >= 500:
		return StatusServerError
	default:
		return StatusUnknown
	}
}

func (a *PlaywrightAdapter) CurrentURL(ctx context.Context) (string, error) {
	return a.page.URL(), nil
}

func (a *PlaywrightAdapter) Title(ctx context.Context) (string, error) {
	title, err := a.page.Title()
	if err != nil {
		return "", newErr("title", classifyPlaywrightErr(err), "", err)
	}
	return title, nil
}

func (a *PlaywrightAdapter) PageStatus(ctx context.Context) (StatusCategory, error) {
	result, err := a.page.Evaluate("() => (document.readyState === 'complete') ? 200 : 0")
	if err != nil {
		return StatusUnknown, newErr("page_status", classifyPlaywrightErr(err), "", err)
	}
	code, _ := result.(float64)
	if code == 0 {
		return StatusUnknown, nil
	}
	return categorizeStatus(int(code)), nil
}

func (a *PlaywrightAdapter) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	result, err := a.page.Evaluate(script, args...)
	if err != nil {
		return nil, newErr("evaluate", KindScriptError, "", err)
	}
	return result, nil
}

func (a *PlaywrightAdapter) Find(ctx context.Context, selectorCandidates []string, timeout time.Duration) (*Element, error) {
	var lastErr error
	for _, selector := range selectorCandidates {
		_, err := a.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
			Timeout: playwright.Float(float64(timeout.Milliseconds())),
			State:   playwright.WaitForSelectorStateAttached,
		})
		if err == nil {
			return &Element{BackendID: selector, Selector: selector}, nil
		}
		lastErr = err
	}
	return nil, newErr("find", KindNotFound, fmt.Sprintf("%d candidates", len(selectorCandidates)), lastErr)
}

func (a *PlaywrightAdapter) Click(ctx context.Context, el *Element, button MouseButton, modifiers ...Modifier) error {
	opts := playwright.PageClickOptions{Button: playwrightButton(button)}
	if mods := playwrightModifiers(modifiers); len(mods) > 0 {
		opts.Modifiers = mods
	}
	if err := a.page.Click(el.BackendID, opts); err != nil {
		return newErr("click", classifyPlaywrightErr(err), el.Selector, err)
	}
	return nil
}

func playwrightButton(b MouseButton) *playwright.MouseButton {
	switch b {
	case ButtonRight:
		return playwright.MouseButtonRight
	case ButtonMiddle:
		return playwright.MouseButtonMiddle
	default:
		return playwright.MouseButtonLeft
	}
}

func playwrightModifiers(mods []Modifier) []playwright.KeyboardModifier {
	out := make([]playwright.KeyboardModifier, 0, len(mods))
	for _, m := range mods {
		switch m {
		case ModShift:
			out = append(out, playwright.KeyboardModifierShift)
		case ModControl:
			out = append(out, playwright.KeyboardModifierControl)
		case ModAlt:
			out = append(out, playwright.KeyboardModifierAlt)
		case ModMeta:
			out = append(out, playwright.KeyboardModifierMeta)
		}
	}
	return out
}

func (a *PlaywrightAdapter) Type(ctx context.Context, el *Element, text string, opts TypeOptions) error {
	if opts.ClearFirst {
		if err := a.page.Fill(el.BackendID, ""); err != nil {
			return newErr("type_clear", classifyPlaywrightErr(err), el.Selector, err)
		}
	}
	if opts.DelayPerChar > 0 {
		err := a.page.Type(el.BackendID, text, playwright.PageTypeOptions{
			Delay: playwright.Float(float64(opts.DelayPerChar.Milliseconds())),
		})
		if err != nil {
			return newErr("type", classifyPlaywrightErr(err), el.Selector, err)
		}
		return nil
	}
	if err := a.page.Fill(el.BackendID, text); err != nil {
		return newErr("type", classifyPlaywrightErr(err), el.Selector, err)
	}
	return nil
}

func (a *PlaywrightAdapter) Select(ctx context.Context, el *Element, values []string) error {
	selectValues := playwright.SelectOptionValues{}
	if len(values) > 0 {
		valCopy := append([]string(nil), values...)
		selectValues.Values = &valCopy
	}
	if _, err := a.page.SelectOption(el.BackendID, selectValues); err != nil {
		return newErr("select", classifyPlaywrightErr(err), el.Selector, err)
	}
	return nil
}

func (a *PlaywrightAdapter) Scroll(ctx context.Context, el *Element) error {
	locator := a.page.Locator(el.BackendID)
	if err := locator.ScrollIntoViewIfNeeded(); err != nil {
		return newErr("scroll", classifyPlaywrightErr(err), el.Selector, err)
	}
	return nil
}

func (a *PlaywrightAdapter) Screenshot(ctx context.Context, scope ScreenshotScope) ([]byte, error) {
	if scope.Element != nil {
		locator := a.page.Locator(scope.Element.BackendID)
		data, err := locator.Screenshot()
		if err != nil {
			return nil, newErr("screenshot", classifyPlaywrightErr(err), scope.Element.Selector, err)
		}
		return data, nil
	}
	data, err := a.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(scope.FullPage),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, newErr("screenshot", classifyPlaywrightErr(err), "", err)
	}
	return data, nil
}

func (a *PlaywrightAdapter) IsAlive(ctx context.Context) bool {
	done := make(chan bool, 1)
	go func() {
		defer func() {
			if recover() != nil {
				done <- false
			}
		}()
		_ = a.page.URL()
		done <- true
	}()
	select {
	case alive := <-done:
		return alive
	case <-time.After(300 * time.Millisecond):
		return false
	case <-ctx.Done():
		return false
	}
}

func (a *PlaywrightAdapter) Close(ctx context.Context) error {
	if a.page != nil {
		a.page.Close()
	}
	if a.context != nil {
		a.context.Close()
	}
	if a.browser != nil {
		return a.browser.Close()
	}
	return nil
}

// classifyPlaywrightErr maps a playwright-go error into a driver Kind.
// playwright-go does not export typed errors; we classify on message
// substrings the way the underlying driver reports timeouts vs closed
// targets.
func classifyPlaywrightErr(err error) Kind {
	if err == nil {
		return KindScriptError
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Timeout"):
		return KindTimeout
	case strings.Contains(msg, "Target closed"), strings.Contains(msg, "has been closed"):
		return KindProtocolClosed
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no node found"):
		return KindNotFound
	case strings.Contains(msg, "detached"), strings.Contains(msg, "stale"):
		return KindStale
	default:
		return KindNavigation
	}
}
