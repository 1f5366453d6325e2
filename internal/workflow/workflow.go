// Package workflow holds the staff interface and OPAC steps of an iteration.
//
// UI assertions are recorded as checks and never abort the flow; only
// navigation and input failures are returned as errors.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/studiowebux/kohaload/internal/browser"
	"github.com/studiowebux/kohaload/internal/check"
	"github.com/studiowebux/kohaload/internal/logging"
	"github.com/studiowebux/kohaload/internal/types"
)

// check names recorded by the UI steps
const (
	CheckLoggedIn   = "logged in user matches"
	CheckCheckoutTo = "checkout user matches"
	CheckCheckedOut = "checked out item matches"
	CheckCheckedIn  = "checked in item matches"
	CheckResults    = "results are not empty"
)

const (
	DefaultLabelTimeout = 10 * time.Second
	DefaultWaitTimeout  = 30 * time.Second
)

// staff and OPAC page elements
var (
	localLoginButton = browser.CSS("#locallogin_button")
	userIDInput      = browser.CSS(`input[name="login_userid"]`)
	passwordInput    = browser.CSS(`input[name="login_password"]`)
	loginSubmit      = browser.CSS("#submit-button")
	loggedInUser     = browser.CSS("span.loggedinusername:nth-child(1)")
	pageBody         = browser.CSS("body")

	overrideLink    = browser.TextOf("a", "Override restriction temporarily")
	confirmCheckout = browser.TextOf("a", "Yes, check out")
	circBarcodeText = browser.CSS("label.circ_barcode")
	issueBarcode    = browser.CSS(`#circ_circulation_issue input[name="barcode"]`)
	issueSubmit     = browser.CSS(`#circ_circulation_issue button[type="submit"]`)
	lastChecked     = browser.CSS(".lastchecked p")

	returnBarcode  = browser.CSS("#barcode")
	returnSubmit   = browser.CSS(`#circ_returns_checkin button[type="submit"]`)
	checkedInTable = browser.CSS("#checkedintable")

	opacQuery   = browser.CSS(`input[name="q"]`)
	opacSubmit  = browser.CSS("#searchsubmit")
	opacResults = browser.CSS("#numresults")
)

// Config locates the staff interface and OPAC
type Config struct {
	StaffURL      string
	OPACURL       string
	User          string
	Pass          string
	ScreenshotDir string
	LabelTimeout  time.Duration
	WaitTimeout   time.Duration
}

// Flow runs UI steps on one page
type Flow struct {
	cfg    Config
	page   browser.Page
	checks *check.Recorder
	logger *slog.Logger
}

// New binds a flow to a page
func New(cfg Config, page browser.Page, checks *check.Recorder, logger *slog.Logger) *Flow {
	if cfg.LabelTimeout <= 0 {
		cfg.LabelTimeout = DefaultLabelTimeout
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	cfg.StaffURL = strings.TrimRight(cfg.StaffURL, "/")
	if checks == nil {
		checks = check.NewRecorder()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Flow{cfg: cfg, page: page, checks: checks, logger: logger}
}

// Page returns the page the flow drives
func (f *Flow) Page() browser.Page {
	return f.page
}

func (f *Flow) staffURL(path string) string {
	return f.cfg.StaffURL + "/cgi-bin/koha/" + path
}

// Screenshot saves the current page as name.png; failures are only logged
func (f *Flow) Screenshot(ctx context.Context, name string) {
	path := filepath.Join(f.cfg.ScreenshotDir, sanitizeFilename(name)+".png")
	if err := f.page.Screenshot(ctx, path); err != nil {
		f.logger.Warn("failed to capture screenshot", "path", path, "error", err)
		return
	}
	f.logger.Info("captured screenshot", "path", path)
}

// Login signs into the staff interface. A wrong username shown after login is a
// failed check, not an error.
func (f *Flow) Login(ctx context.Context) error {
	if err := f.login(ctx); err != nil {
		f.logger.Error("login failed", "error", err)
		f.Screenshot(ctx, "login_error")
		return fmt.Errorf("login: %w", err)
	}
	f.logger.Info("login successful")
	return nil
}

func (f *Flow) login(ctx context.Context) error {
	if err := f.page.GotoIdle(ctx, f.staffURL("mainpage.pl")); err != nil {
		return err
	}

	n, err := f.page.Count(ctx, localLoginButton)
	if err != nil {
		return err
	}
	if n > 0 {
		f.logger.Debug("local login button found, clicking to show login form")
		if err := f.page.Click(ctx, localLoginButton); err != nil {
			return err
		}
	}

	if err := f.page.Type(ctx, userIDInput, f.cfg.User); err != nil {
		return err
	}
	if err := f.page.Type(ctx, passwordInput, f.cfg.Pass); err != nil {
		return err
	}
	if err := f.page.ClickAndWaitNavigation(ctx, loginSubmit); err != nil {
		return err
	}

	user, err := f.page.TextContent(ctx, loggedInUser)
	if err != nil {
		f.logger.Warn("logged in user not found", "error", err)
	}
	f.checks.Check(CheckLoggedIn, err == nil && strings.TrimSpace(user) == f.cfg.User)
	return nil
}

// Logout ends the staff session
func (f *Flow) Logout(ctx context.Context) error {
	if err := f.page.Goto(ctx, f.staffURL("staff/logout.pl")); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if err := f.page.WaitFor(ctx, pageBody, f.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Checkout issues item to patron through the circulation page
func (f *Flow) Checkout(ctx context.Context, patron *types.Patron, item *types.Item) error {
	barcode := item.ExternalID
	card := patron.Cardnumber
	logger := f.logger.With("barcode", barcode, "cardnumber", card, "patron_id", patron.PatronID)
	logger.Info("check out")

	circURL := f.staffURL("circ/circulation.pl") + "?borrowernumber=" + url.QueryEscape(fmt.Sprint(patron.PatronID))
	if err := f.page.Goto(ctx, circURL); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}

	for _, link := range []browser.Locator{overrideLink, confirmCheckout} {
		n, err := f.page.Count(ctx, link)
		if err != nil {
			return fmt.Errorf("checkout: %w", err)
		}
		if n > 0 {
			logger.Info("following circulation link", "link", link.Text)
			if err := f.page.ClickAndWaitNavigation(ctx, link); err != nil {
				return fmt.Errorf("checkout: %w", err)
			}
		}
	}

	if err := f.page.WaitFor(ctx, circBarcodeText, f.cfg.LabelTimeout); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}

	label, err := f.page.TextContent(ctx, circBarcodeText)
	if !f.checks.Check(CheckCheckoutTo, err == nil && strings.Contains(label, card)) {
		logger.Error("failed to find checkout to patron", "label", label, "error", err)
		f.Screenshot(ctx, fmt.Sprintf("checkout_failure_to_%s_%s", barcode, card))
	}

	if err := f.page.Type(ctx, issueBarcode, barcode); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	if err := f.page.ClickAndWaitNavigation(ctx, issueSubmit); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}

	checked, err := f.page.TextContent(ctx, lastChecked)
	if !f.checks.Check(CheckCheckedOut, err == nil && strings.Contains(checked, barcode)) {
		logger.Error("failed to check out item", "last_checked", checked, "error", err)
		f.Screenshot(ctx, fmt.Sprintf("checkout_failure_%s_%s", barcode, card))
	}
	return nil
}

// Checkin returns item through the check-in page. When wasCheckedOut is set the
// checked-in table must list the barcode.
func (f *Flow) Checkin(ctx context.Context, item *types.Item, wasCheckedOut bool) error {
	barcode := item.ExternalID
	f.logger.Info("check in", "barcode", barcode)

	if err := f.page.Goto(ctx, f.staffURL("circ/returns.pl")); err != nil {
		return fmt.Errorf("checkin: %w", err)
	}
	if err := f.page.WaitFor(ctx, pageBody, f.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("checkin: %w", err)
	}
	if err := f.page.Type(ctx, returnBarcode, barcode); err != nil {
		return fmt.Errorf("checkin: %w", err)
	}
	if err := f.page.ClickAndWaitNavigation(ctx, returnSubmit); err != nil {
		return fmt.Errorf("checkin: %w", err)
	}
	if err := f.page.WaitFor(ctx, pageBody, f.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("checkin: %w", err)
	}

	if !wasCheckedOut {
		return nil
	}
	table, err := f.page.TextContent(ctx, checkedInTable)
	if !f.checks.Check(CheckCheckedIn, err == nil && strings.Contains(table, barcode)) {
		f.logger.Error("checked in item not listed", "barcode", barcode, "error", err)
		f.Screenshot(ctx, fmt.Sprintf("checkin_failure_%s", barcode))
	}
	return nil
}

// SearchOPAC runs a catalog search and checks that a result count is shown
func (f *Flow) SearchOPAC(ctx context.Context, term string) error {
	f.logger.Info("searching OPAC", "term", term)

	if err := f.page.Goto(ctx, f.cfg.OPACURL); err != nil {
		return fmt.Errorf("opac search: %w", err)
	}
	if err := f.page.Type(ctx, opacQuery, term); err != nil {
		return fmt.Errorf("opac search: %w", err)
	}
	if err := f.page.ClickAndWaitNavigation(ctx, opacSubmit); err != nil {
		return fmt.Errorf("opac search: %w", err)
	}
	if err := f.page.WaitFor(ctx, pageBody, f.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("opac search: %w", err)
	}

	results, err := f.page.TextContent(ctx, opacResults)
	if f.checks.Check(CheckResults, err == nil && strings.TrimSpace(results) != "") {
		f.logger.Info("search results", "term", term, "results", strings.TrimSpace(results))
		return nil
	}
	f.logger.Error("failed to get results for search term", "term", term, "error", err)
	f.Screenshot(ctx, "failed_opac_search_"+term)
	return nil
}

// sanitizeFilename keeps screenshot names inside the screenshot directory
func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
}
