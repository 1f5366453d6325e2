package browser_test

import (
	"context"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/studiowebux/kohaload/internal/browser"
	"github.com/studiowebux/kohaload/internal/twin"
)

func findChrome() string {
	if p := os.Getenv("KOHALOAD_CHROME"); p != "" {
		return p
	}
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

func TestChromePageAgainstTwin(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	chrome := findChrome()
	if chrome == "" {
		t.Skip("no Chrome or Chromium binary found")
	}

	srv := httptest.NewServer(twin.New(twin.DefaultConfig(), nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	opts := browser.DefaultOptions()
	opts.ExecPath = chrome
	opts.NoSandbox = true
	opts.IdleTimeout = 2 * time.Second
	b, err := browser.Launch(ctx, opts, nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer b.Close()

	page, err := b.NewPage(ctx)
	if err != nil {
		t.Fatalf("new page: %v", err)
	}
	defer page.Close()

	if err := page.GotoIdle(ctx, srv.URL+"/cgi-bin/koha/mainpage.pl"); err != nil {
		t.Fatalf("goto: %v", err)
	}
	n, err := page.Count(ctx, browser.CSS("#locallogin_button"))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no local login button, got %d", n)
	}

	if err := page.Type(ctx, browser.CSS(`input[name="login_userid"]`), "koha"); err != nil {
		t.Fatalf("type user: %v", err)
	}
	if err := page.Type(ctx, browser.CSS(`input[name="login_password"]`), "koha"); err != nil {
		t.Fatalf("type password: %v", err)
	}
	if err := page.ClickAndWaitNavigation(ctx, browser.CSS("#submit-button")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	user, err := page.TextContent(ctx, browser.CSS("span.loggedinusername:nth-child(1)"))
	if err != nil {
		t.Fatalf("text content: %v", err)
	}
	if user != "koha" {
		t.Errorf("expected logged in user koha, got %q", user)
	}

	n, err = page.Count(ctx, browser.TextOf("a", "Log out"))
	if err != nil {
		t.Fatalf("count logout links: %v", err)
	}
	if n != 1 {
		t.Errorf("expected one logout link, got %d", n)
	}

	shot := filepath.Join(t.TempDir(), "shots", "home.png")
	if err := page.Screenshot(ctx, shot); err != nil {
		t.Fatalf("screenshot: %v", err)
	}
	if info, err := os.Stat(shot); err != nil || info.Size() == 0 {
		t.Errorf("expected screenshot at %s", shot)
	}

	// a second page has its own browser context and therefore no session
	other, err := b.NewPage(ctx)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	defer other.Close()
	if err := other.Goto(ctx, srv.URL+"/cgi-bin/koha/mainpage.pl"); err != nil {
		t.Fatalf("goto second page: %v", err)
	}
	if err := other.WaitFor(ctx, browser.CSS("#submit-button"), 5*time.Second); err != nil {
		t.Errorf("expected login form on isolated page: %v", err)
	}
}
