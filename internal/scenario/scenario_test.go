package scenario_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/kohaload/internal/browser"
	"github.com/studiowebux/kohaload/internal/browser/browsertest"
	"github.com/studiowebux/kohaload/internal/check"
	"github.com/studiowebux/kohaload/internal/koha"
	"github.com/studiowebux/kohaload/internal/scenario"
	"github.com/studiowebux/kohaload/internal/twin"
	"github.com/studiowebux/kohaload/internal/types"
)

var (
	issueBarcode  = browser.CSS(`#circ_circulation_issue input[name="barcode"]`)
	issueSubmit   = browser.CSS(`#circ_circulation_issue button[type="submit"]`)
	returnBarcode = browser.CSS("#barcode")
	returnSubmit  = browser.CSS(`#circ_returns_checkin button[type="submit"]`)
)

// twinPage builds fake pages whose circulation actions are applied to the twin's store
func twinPage(tw *twin.Twin) func() *browsertest.Page {
	return func() *browsertest.Page {
		p := browsertest.NewPage()
		p.Texts["span.loggedinusername:nth-child(1)"] = "koha"
		p.Texts["#numresults"] = "Your search returned 0 results."

		var mu sync.Mutex
		var checkedIn string
		p.OnNavigate = func(p *browsertest.Page, loc browser.Locator) {
			switch loc {
			case issueSubmit:
				u, _ := url.Parse(p.URL)
				id, _ := strconv.Atoi(u.Query().Get("borrowernumber"))
				tw.Store().Checkout(id, p.TypedInto(issueBarcode), time.Now())
			case returnSubmit:
				barcode := p.TypedInto(returnBarcode)
				mu.Lock()
				checkedIn = ""
				if _, err := tw.Store().Checkin(barcode); err == nil {
					checkedIn = barcode
				}
				mu.Unlock()
			}
		}
		p.TextFunc = func(p *browsertest.Page, loc browser.Locator) (string, bool) {
			switch loc.String() {
			case "label.circ_barcode":
				u, _ := url.Parse(p.URL)
				id, _ := strconv.Atoi(u.Query().Get("borrowernumber"))
				patron, ok := tw.Store().Patron(id)
				if !ok {
					return "", false
				}
				return "Checking out to " + patron.Firstname + " " + patron.Surname + " (" + patron.Cardnumber + ")", true
			case ".lastchecked p":
				return "Checked out: (" + p.TypedInto(issueBarcode) + ")", true
			case "#checkedintable":
				mu.Lock()
				defer mu.Unlock()
				return checkedIn, checkedIn != ""
			}
			return "", false
		}
		return p
	}
}

type failingTransport struct {
	next   http.RoundTripper
	suffix string
}

func (f *failingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, f.suffix) {
		return nil, errors.New("connection reset by peer")
	}
	return f.next.RoundTrip(req)
}

type fixture struct {
	twin    *twin.Twin
	pages   *browsertest.Factory
	checks  *check.Recorder
	scen    *scenario.Scenario
	shotDir string
}

func setup(t *testing.T, failPostSuffix string) *fixture {
	t.Helper()
	tw := twin.New(twin.DefaultConfig(), nil)
	srv := httptest.NewServer(tw)
	t.Cleanup(srv.Close)

	hc := srv.Client()
	if failPostSuffix != "" {
		hc.Transport = &failingTransport{next: hc.Transport, suffix: failPostSuffix}
	}
	checks := check.NewRecorder()
	client, err := koha.NewClient(srv.URL, "koha", "koha", koha.WithHTTPClient(hc), koha.WithChecks(checks))
	require.NoError(t, err)

	pages := &browsertest.Factory{New: twinPage(tw)}
	dir := t.TempDir()
	scen := scenario.New(scenario.Config{
		StaffURL:      srv.URL,
		OPACURL:       srv.URL,
		User:          "koha",
		Pass:          "koha",
		ScreenshotDir: dir,
	}, client, pages, nil, checks, nil)
	scen.SetThinkFunc(func(ctx context.Context, max time.Duration) error { return ctx.Err() })

	_, err = scen.Setup(context.Background())
	require.NoError(t, err)
	return &fixture{twin: tw, pages: pages, checks: checks, scen: scen, shotDir: dir}
}

func TestIterate(t *testing.T) {
	f := setup(t, "")

	require.NoError(t, f.scen.Iterate(context.Background(), 1, 0))

	passes, fails := f.checks.Totals()
	assert.Zero(t, fails, "%+v", f.checks.Summary())
	assert.Equal(t, 1.0, f.checks.Rate())
	names := make(map[string]bool)
	for _, r := range f.checks.Summary() {
		names[r.Name] = true
	}
	for _, name := range []string{
		"status is 200", "Patron created", "Response body contains new patron data",
		"Status is 200", "Response body contains new biblio data", "Item created",
		"Response body contains new item data", "logged in user matches", "checkout user matches",
		"checked out item matches", "checked in item matches", "results are not empty",
		"Status is 204 No Content", "DELETE Status is 204 No Content",
	} {
		assert.True(t, names[name], "missing check %q", name)
	}
	assert.Greater(t, passes, 0)

	st := f.twin.Store().Snapshot()
	assert.Empty(t, st.Patrons)
	assert.Empty(t, st.Biblios)
	assert.Empty(t, st.Items)
	assert.Empty(t, st.Loans)

	pages := f.pages.Opened()
	require.Len(t, pages, 1)
	assert.True(t, pages[0].Closed)
	log := pages[0].ActionLog()
	assert.True(t, strings.HasSuffix(log[len(log)-2], "/cgi-bin/koha/staff/logout.pl"), "expected logout last, got %v", log)
	assert.Empty(t, pages[0].ScreenshotPaths())
}

func TestIterate_NotSetUp(t *testing.T) {
	client, err := koha.NewClient("http://kohadev-intra.localhost", "koha", "koha")
	require.NoError(t, err)
	scen := scenario.New(scenario.Config{}, client, &browsertest.Factory{}, nil, nil, nil)

	assert.ErrorIs(t, scen.Iterate(context.Background(), 1, 0), scenario.ErrNotSetUp)
}

func TestIterate_FailureCleansUp(t *testing.T) {
	f := setup(t, "/items")

	err := f.scen.Iterate(context.Background(), 2, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create item")

	// patron and biblio created before the failure are gone
	st := f.twin.Store().Snapshot()
	assert.Empty(t, st.Patrons)
	assert.Empty(t, st.Biblios)

	page := f.pages.Opened()[0]
	assert.Equal(t, []string{filepath.Join(f.shotDir, "vu2-iter3", "test_error.png")}, page.ScreenshotPaths())
	log := page.ActionLog()
	assert.True(t, strings.HasSuffix(log[len(log)-2], "/cgi-bin/koha/staff/logout.pl"), "expected logout after failure, got %v", log)
}

func TestIterate_LoginFailure(t *testing.T) {
	f := setup(t, "")
	f.pages.New = func() *browsertest.Page {
		p := browsertest.NewPage()
		p.Errors["click #submit-button"] = errors.New("navigation timeout")
		return p
	}

	err := f.scen.Iterate(context.Background(), 1, 0)
	require.Error(t, err)
	assert.Empty(t, f.twin.Store().Snapshot().Patrons)

	page := f.pages.Opened()[0]
	assert.Equal(t, []string{filepath.Join(f.shotDir, "vu1-iter0", "login_error.png")}, page.ScreenshotPaths())
	assert.True(t, page.Closed)
}

func TestIterate_CancelledWhileThinking(t *testing.T) {
	f := setup(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	f.scen.SetThinkFunc(func(ctx context.Context, max time.Duration) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})

	err := f.scen.Iterate(ctx, 1, 0)
	assert.ErrorIs(t, err, context.Canceled)

	log := f.pages.Opened()[0].ActionLog()
	assert.True(t, strings.HasSuffix(log[len(log)-2], "/cgi-bin/koha/staff/logout.pl"), "expected logout after cancel, got %v", log)
}

func TestSetup_MissingLibraries(t *testing.T) {
	tw := twin.New(twin.DefaultConfig(), nil)
	tw.Store().SetLibraries([]types.Library{})
	srv := httptest.NewServer(tw)
	defer srv.Close()

	client, err := koha.NewClient(srv.URL, "koha", "koha")
	require.NoError(t, err)
	scen := scenario.New(scenario.Config{}, client, &browsertest.Factory{}, nil, nil, nil)

	_, err = scen.Setup(context.Background())
	assert.ErrorIs(t, err, types.ErrNoReferenceData)
}
