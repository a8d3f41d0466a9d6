package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// CDPAdapter drives a tab directly over the Chrome DevTools Protocol. It
// skips Playwright's wrapper layer and is used by the Perception Engine's
// Lightning and Quick tiers, where IPC overhead eats into the budget.
type CDPAdapter struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	taskCtx     context.Context
	taskCancel  context.CancelFunc
}

// NewCDPAdapter attaches to an existing Chrome instance exposing
// --remote-debugging-port, optionally pinned to a specific targetID.
func NewCDPAdapter(ctx context.Context, debugURL, targetID string) (*CDPAdapter, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, debugURL)

	var taskOpts []chromedp.ContextOption
	if targetID != "" {
		taskOpts = append(taskOpts, chromedp.WithTargetID(cdp.TargetID(targetID)))
	}
	taskCtx, taskCancel := chromedp.NewContext(allocCtx, taskOpts...)

	if err := chromedp.Run(taskCtx); err != nil {
		taskCancel()
		allocCancel()
		return nil, fmt.Errorf("driver: attach cdp target: %w", err)
	}

	return &CDPAdapter{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		taskCtx:     taskCtx,
		taskCancel:  taskCancel,
	}, nil
}

func (a *CDPAdapter) Navigate(ctx context.Context, url string, policy WaitPolicy) (NavigateResult, error) {
	var finalURL string
	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
	}
	if policy != WaitNone {
		tasks = append(tasks, chromedp.WaitReady("body"))
	}
	tasks = append(tasks, chromedp.Location(&finalURL))

	if err := chromedp.Run(a.taskCtx, tasks); err != nil {
		return NavigateResult{}, newErr("navigate", classifyCDPErr(err), url, err)
	}
	return NavigateResult{FinalURL: finalURL, Status: StatusOK}, nil
}

func (a *CDPAdapter) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := chromedp.Run(a.taskCtx, chromedp.Location(&url)); err != nil {
		return "", newErr("current_url", classifyCDPErr(err), "", err)
	}
	return url, nil
}

func (a *CDPAdapter) Title(ctx context.Context) (string, error) {
	var title string
	if err := chromedp.Run(a.taskCtx, chromedp.Title(&title)); err != nil {
		return "", newErr("title", classifyCDPErr(err), "", err)
	}
	return title, nil
}

func (a *CDPAdapter) PageStatus(ctx context.Context) (StatusCategory, error) {
	var ready string
	if err := chromedp.Run(a.taskCtx, chromedp.Evaluate("document.readyState", &ready)); err != nil {
		return StatusUnknown, newErr("page_status", classifyCDPErr(err), "", err)
	}
	if ready == "complete" {
		return StatusOK, nil
	}
	return StatusUnknown, nil
}

func (a *CDPAdapter) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	var result any
	if err := chromedp.Run(a.taskCtx, chromedp.Evaluate(script, &result)); err != nil {
		return nil, newErr("evaluate", KindScriptError, "", err)
	}
	return result, nil
}

func (a *CDPAdapter) Find(ctx context.Context, selectorCandidates []string, timeout time.Duration) (*Element, error) {
	var lastErr error
	for _, selector := range selectorCandidates {
		waitCtx, cancel := context.WithTimeout(a.taskCtx, timeout)
		err := chromedp.Run(waitCtx, chromedp.WaitReady(selector, chromedp.ByQuery))
		cancel()
		if err == nil {
			return &Element{BackendID: selector, Selector: selector}, nil
		}
		lastErr = err
	}
	return nil, newErr("find", KindNotFound, fmt.Sprintf("%d candidates", len(selectorCandidates)), lastErr)
}

func (a *CDPAdapter) Click(ctx context.Context, el *Element, button MouseButton, modifiers ...Modifier) error {
	if err := chromedp.Run(a.taskCtx, chromedp.Click(el.BackendID, chromedp.ByQuery)); err != nil {
		return newErr("click", classifyCDPErr(err), el.Selector, err)
	}
	return nil
}

func (a *CDPAdapter) Type(ctx context.Context, el *Element, text string, opts TypeOptions) error {
	tasks := chromedp.Tasks{}
	if opts.ClearFirst {
		tasks = append(tasks, chromedp.SetValue(el.BackendID, "", chromedp.ByQuery))
	}
	tasks = append(tasks, chromedp.SendKeys(el.BackendID, text, chromedp.ByQuery))
	if err := chromedp.Run(a.taskCtx, tasks); err != nil {
		return newErr("type", classifyCDPErr(err), el.Selector, err)
	}
	return nil
}

func (a *CDPAdapter) Select(ctx context.Context, el *Element, values []string) error {
	if len(values) == 0 {
		return nil
	}
	if err := chromedp.Run(a.taskCtx, chromedp.SetValue(el.BackendID, values[0], chromedp.ByQuery)); err != nil {
		return newErr("select", classifyCDPErr(err), el.Selector, err)
	}
	return nil
}

func (a *CDPAdapter) Scroll(ctx context.Context, el *Element) error {
	if err := chromedp.Run(a.taskCtx, chromedp.ScrollIntoView(el.BackendID, chromedp.ByQuery)); err != nil {
		return newErr("scroll", classifyCDPErr(err), el.Selector, err)
	}
	return nil
}

func (a *CDPAdapter) Screenshot(ctx context.Context, scope ScreenshotScope) ([]byte, error) {
	var buf []byte
	var action chromedp.Action
	switch {
	case scope.Element != nil:
		action = chromedp.Screenshot(scope.Element.BackendID, &buf, chromedp.ByQuery)
	case scope.FullPage:
		action = chromedp.FullScreenshot(&buf, 90)
	default:
		action = chromedp.CaptureScreenshot(&buf)
	}
	if err := chromedp.Run(a.taskCtx, action); err != nil {
		return nil, newErr("screenshot", classifyCDPErr(err), "", err)
	}
	return buf, nil
}

func (a *CDPAdapter) IsAlive(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(a.taskCtx, 300*time.Millisecond)
	defer cancel()
	var url string
	return chromedp.Run(probeCtx, chromedp.Location(&url)) == nil
}

func (a *CDPAdapter) Close(ctx context.Context) error {
	if err := chromedp.Run(a.taskCtx, page.Close()); err != nil {
		// still tear down the allocator even if the page refused a clean close
		a.taskCancel()
		a.allocCancel()
		return newErr("close", classifyCDPErr(err), "", err)
	}
	a.taskCancel()
	a.allocCancel()
	return nil
}

func classifyCDPErr(err error) Kind {
	if err == nil {
		return KindScriptError
	}
	if err == context.DeadlineExceeded {
		return KindTimeout
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		return KindTimeout
	case strings.Contains(msg, "context canceled"), strings.Contains(msg, "target closed"), strings.Contains(msg, "session closed"):
		return KindProtocolClosed
	case strings.Contains(msg, "no node"), strings.Contains(msg, "could not find node"):
		return KindNotFound
	default:
		return KindNavigation
	}
}
