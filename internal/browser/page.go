package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"postql/internal/domain"
)

var ErrNoElement = errors.New("no element matches selector")

const mutationBinding = "__postqlMutated"

// mutationScript reports DOM mutations through the binding, at most once per
// 250 ms. It observes the document node so it can run before <html> exists.
const mutationScript = `(() => {
	let pending = false;
	const fire = () => {
		if (pending) return;
		pending = true;
		setTimeout(() => {
			pending = false;
			try { window.` + mutationBinding + `(''); } catch (e) {}
		}, 250);
	};
	new MutationObserver(fire).observe(document, {childList: true, subtree: true});
})();`

// Page is a live browser tab implementing domain.Page, domain.Interceptor
// and domain.ChangeNotifier.
type Page struct {
	tab    context.Context // chromedp tab context, owned by the Bridge
	logger *slog.Logger

	readySelectors []string
	readyTimeout   time.Duration

	interceptOnce sync.Once
	interceptErr  error
	clipboardMu   sync.Mutex
	clipboardOK   bool
	grant         func(ctx context.Context) error

	responses *responseLog
	changes   chan struct{}
}

func newPage(tab context.Context, logger *slog.Logger, readySelectors []string, readyTimeout time.Duration) *Page {
	p := &Page{
		tab:            tab,
		logger:         logger,
		readySelectors: readySelectors,
		readyTimeout:   readyTimeout,
		responses:      newResponseLog(),
		changes:        make(chan struct{}, 1),
	}
	p.grant = p.grantClipboard
	chromedp.ListenTarget(tab, p.onEvent)
	return p
}

// observeMutations makes every later document report DOM changes.
func (p *Page) observeMutations(ctx context.Context) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := runtime.AddBinding(mutationBinding).Do(ctx); err != nil {
			return fmt.Errorf("add binding: %w", err)
		}
		if _, err := cdppage.AddScriptToEvaluateOnNewDocument(mutationScript).Do(ctx); err != nil {
			return fmt.Errorf("install mutation observer: %w", err)
		}
		return nil
	}))
}

// run executes actions on the tab, aborting them when ctx is done.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for the document body, then for up to
// readyTimeout for any ready selector. A page that never renders one is
// left for the caller to judge.
func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	if err := p.run(ctx, chromedp.Navigate(rawURL), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate to %s: %w", rawURL, err)
	}
	if len(p.readySelectors) == 0 || p.readyTimeout <= 0 {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.readyTimeout)
	defer cancel()
	err := p.run(waitCtx, chromedp.WaitReady(strings.Join(p.readySelectors, ", "), chromedp.ByQuery))
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case waitCtx.Err() != nil:
		p.logger.Debug("response container not rendered in time", "url", rawURL, "timeout", p.readyTimeout)
	default:
		return fmt.Errorf("wait for response container: %w", err)
	}
	return nil
}

func (p *Page) Hostname(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	u, err := url.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("parse location %q: %w", loc, err)
	}
	return u.Hostname(), nil
}

func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	js := fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(selector))
	if err := p.run(ctx, chromedp.Evaluate(js, &found)); err != nil {
		return false, err
	}
	return found, nil
}

func (p *Page) Texts(ctx context.Context, selector string) ([]string, error) {
	var texts []string
	js := fmt.Sprintf(`Array.from(document.querySelectorAll(%s), el => el.innerText || el.textContent || '')`, jsString(selector))
	if err := p.run(ctx, chromedp.Evaluate(js, &texts)); err != nil {
		return nil, err
	}
	return texts, nil
}

// Click dispatches a DOM click on the first match without waiting for it to
// become visible.
func (p *Page) Click(ctx context.Context, selector string) error {
	var clicked bool
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.click();
		return true;
	})()`, jsString(selector))
	if err := p.run(ctx, chromedp.Evaluate(js, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("%s: %w", selector, ErrNoElement)
	}
	return nil
}

func (p *Page) ReadClipboard(ctx context.Context) (string, error) {
	if err := p.ensureClipboard(ctx); err != nil {
		return "", fmt.Errorf("grant clipboard access: %w", err)
	}

	var text string
	err := p.run(ctx, chromedp.Evaluate(`navigator.clipboard.readText()`, &text,
		func(ep *runtime.EvaluateParams) *runtime.EvaluateParams { return ep.WithAwaitPromise(true) }))
	if err != nil {
		return "", err
	}
	return text, nil
}

// ensureClipboard grants clipboard access once it succeeds; failed grants are
// retried on the next read.
func (p *Page) ensureClipboard(ctx context.Context) error {
	p.clipboardMu.Lock()
	defer p.clipboardMu.Unlock()
	if p.clipboardOK {
		return nil
	}
	if err := p.grant(ctx); err != nil {
		return err
	}
	p.clipboardOK = true
	return nil
}

func (p *Page) grantClipboard(ctx context.Context) error {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return err
	}
	u, err := url.Parse(loc)
	if err != nil {
		return err
	}
	origin := u.Scheme + "://" + u.Host

	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		c := chromedp.FromContext(ctx)
		return cdpbrowser.GrantPermissions([]cdpbrowser.PermissionType{
			cdpbrowser.PermissionTypeClipboardReadWrite,
			cdpbrowser.PermissionTypeClipboardSanitizedWrite,
		}).WithOrigin(origin).Do(cdp.WithExecutor(ctx, c.Browser))
	}))
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Intercept enables network events and starts recording responses whose URL
// passes match. Later calls return the first call's result.
func (p *Page) Intercept(ctx context.Context, match func(url string) bool) error {
	p.interceptOnce.Do(func() {
		p.responses.setFilter(match)
		p.interceptErr = p.run(ctx, network.Enable())
	})
	return p.interceptErr
}

func (p *Page) LastResponse() (domain.CapturedResponse, bool) {
	return p.responses.last()
}

func (p *Page) Changes() <-chan struct{} {
	return p.changes
}

func (p *Page) notify() {
	select {
	case p.changes <- struct{}{}:
	default:
	}
}

// onEvent runs on chromedp's event loop and must not block.
func (p *Page) onEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		p.responses.begin(e.RequestID, e.Response.URL)
	case *network.EventLoadingFailed:
		p.responses.drop(e.RequestID)
	case *network.EventLoadingFinished:
		target, seq, ok := p.responses.finish(e.RequestID)
		if !ok {
			return
		}
		go p.fetchBody(e.RequestID, target, seq)
	case *cdppage.EventLoadEventFired, *cdppage.EventNavigatedWithinDocument:
		p.notify()
	case *runtime.EventBindingCalled:
		if e.Name == mutationBinding {
			p.notify()
		}
	}
}

func (p *Page) fetchBody(id network.RequestID, target string, seq uint64) {
	var body []byte
	err := chromedp.Run(p.tab, chromedp.ActionFunc(func(ctx context.Context) error {
		b, err := network.GetResponseBody(id).Do(ctx)
		body = b
		return err
	}))
	if err != nil {
		p.logger.Debug("cannot read response body", "url", target, "err", err)
		return
	}
	if p.responses.store(seq, target, body) {
		p.notify()
	}
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
