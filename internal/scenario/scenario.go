// Package scenario runs one virtual-user iteration against Koha: log in,
// create a patron, a biblio and an item through the API, check the item in
// and out through the staff interface, search the OPAC, then delete what was
// created and log out.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"time"

	"github.com/studiowebux/kohaload/internal/browser"
	"github.com/studiowebux/kohaload/internal/check"
	"github.com/studiowebux/kohaload/internal/koha"
	"github.com/studiowebux/kohaload/internal/logging"
	"github.com/studiowebux/kohaload/internal/stub"
	"github.com/studiowebux/kohaload/internal/types"
	"github.com/studiowebux/kohaload/internal/workflow"
)

const (
	DefaultAPIThinkTime   = 10 * time.Second
	DefaultUIThinkTime    = 3 * time.Second
	DefaultCleanupTimeout = 30 * time.Second
)

// ErrNotSetUp is returned by Iterate before Setup has loaded reference data
var ErrNotSetUp = errors.New("scenario not set up")

// Config holds the scenario settings
type Config struct {
	StaffURL string `mapstructure:"staff_url"`
	OPACURL  string `mapstructure:"opac_url"`
	User     string `mapstructure:"user"`
	Pass     string `mapstructure:"pass"`

	// APIThinkTime bounds the random pause before each API create
	APIThinkTime time.Duration `mapstructure:"api_think_time"`
	// UIThinkTime bounds the random pause before each circulation step
	UIThinkTime time.Duration `mapstructure:"ui_think_time"`

	ScreenshotDir  string        `mapstructure:"screenshot_dir"`
	CleanupTimeout time.Duration `mapstructure:"cleanup_timeout"`
	LabelTimeout   time.Duration `mapstructure:"label_timeout"`
}

// Scenario holds what iterations share: the API client, page factory and reference data
type Scenario struct {
	cfg    Config
	client *koha.Client
	pages  browser.Factory
	gen    *stub.Generator
	checks *check.Recorder
	logger *slog.Logger

	mu  sync.RWMutex
	ref *types.ReferenceData

	// think pauses for a random duration below max; replaced in tests
	think func(ctx context.Context, max time.Duration) error
}

// New creates a scenario. checks should be the recorder the client reports to.
func New(cfg Config, client *koha.Client, pages browser.Factory, gen *stub.Generator, checks *check.Recorder, logger *slog.Logger) *Scenario {
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = DefaultCleanupTimeout
	}
	if gen == nil {
		gen = stub.NewGenerator(nil)
	}
	if checks == nil {
		checks = client.Checks()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scenario{
		cfg:    cfg,
		client: client,
		pages:  pages,
		gen:    gen,
		checks: checks,
		logger: logger,
		think:  randomThink,
	}
}

// SetThinkFunc replaces the random pause between steps
func (s *Scenario) SetThinkFunc(fn func(ctx context.Context, max time.Duration) error) {
	s.think = fn
}

// Setup loads the reference data once before iterations start
func (s *Scenario) Setup(ctx context.Context) (*types.ReferenceData, error) {
	ref, err := s.client.LoadReferenceData(ctx)
	if err != nil {
		return nil, err
	}
	// fail early rather than in every iteration
	if _, err := ref.PatronCategoryID(); err != nil {
		return nil, err
	}
	if _, err := ref.LibraryID(); err != nil {
		return nil, err
	}
	if _, err := ref.ItemTypeID(); err != nil {
		return nil, err
	}
	s.UseReferenceData(ref)
	return ref, nil
}

// UseReferenceData installs reference data loaded elsewhere
func (s *Scenario) UseReferenceData(ref *types.ReferenceData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref = ref
}

func (s *Scenario) referenceData() *types.ReferenceData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ref
}

// created tracks the entities an iteration must delete
type created struct {
	patron *types.Patron
	biblio *types.Biblio
	item   *types.Item
}

// Iterate runs one iteration for vu. The returned error fails the iteration;
// failed checks alone do not.
func (s *Scenario) Iterate(ctx context.Context, vu, iteration int) error {
	ref := s.referenceData()
	if ref == nil {
		return ErrNotSetUp
	}
	logger := s.logger.With("vu", vu, "iteration", iteration)

	page, err := s.pages.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	flow := workflow.New(workflow.Config{
		StaffURL:      s.cfg.StaffURL,
		OPACURL:       s.cfg.OPACURL,
		User:          s.cfg.User,
		Pass:          s.cfg.Pass,
		ScreenshotDir: filepath.Join(s.cfg.ScreenshotDir, fmt.Sprintf("vu%d-iter%d", vu, iteration)),
		LabelTimeout:  s.cfg.LabelTimeout,
	}, page, s.checks, logger)

	logger.Info("logging in to Koha")
	if err := flow.Login(ctx); err != nil {
		return err
	}
	logger.Info("logged in to Koha")

	// teardown runs even when ctx is already cancelled
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CleanupTimeout)
	defer cancel()
	defer func() {
		if logoutErr := flow.Logout(cleanupCtx); logoutErr != nil {
			logger.Warn("logout failed", "error", logoutErr)
		}
	}()

	var c created
	if err := s.run(ctx, flow, ref, &c, logger); err != nil {
		logger.Error("iteration failed", "error", err)
		flow.Screenshot(cleanupCtx, "test_error")
		if cleanupErr := s.cleanup(cleanupCtx, &c); cleanupErr != nil {
			logger.Warn("cleanup after failure incomplete", "error", cleanupErr)
		}
		return err
	}
	return nil
}

func (s *Scenario) run(ctx context.Context, flow *workflow.Flow, ref *types.ReferenceData, c *created, logger *slog.Logger) error {
	if err := s.think(ctx, s.cfg.APIThinkTime); err != nil {
		return err
	}
	p, err := s.gen.Patron(ref)
	if err != nil {
		return err
	}
	if c.patron, err = s.client.CreatePatron(ctx, p); err != nil {
		return fmt.Errorf("create patron: %w", err)
	}

	if err := s.think(ctx, s.cfg.APIThinkTime); err != nil {
		return err
	}
	if c.biblio, err = s.client.CreateBiblio(ctx, s.gen.Biblio()); err != nil {
		return fmt.Errorf("create biblio: %w", err)
	}

	if err := s.think(ctx, s.cfg.APIThinkTime); err != nil {
		return err
	}
	it, err := s.gen.Item(ref)
	if err != nil {
		return err
	}
	if c.item, err = s.client.CreateItem(ctx, c.biblio.ID, it); err != nil {
		return fmt.Errorf("create item: %w", err)
	}

	// check in, check out, check back in
	if err := s.think(ctx, s.cfg.UIThinkTime); err != nil {
		return err
	}
	if err := flow.Checkin(ctx, c.item, false); err != nil {
		return err
	}
	if err := s.think(ctx, s.cfg.UIThinkTime); err != nil {
		return err
	}
	if err := flow.Checkout(ctx, c.patron, c.item); err != nil {
		return err
	}
	if err := s.think(ctx, s.cfg.UIThinkTime); err != nil {
		return err
	}
	if err := flow.Checkin(ctx, c.item, true); err != nil {
		return err
	}

	term := s.gen.Words().Pick()
	logger.Info("using search term", "term", term)
	if err := flow.SearchOPAC(ctx, term); err != nil {
		return err
	}

	// delete failures are recorded as checks; the iteration carries on
	if err := s.cleanup(ctx, c); err != nil {
		logger.Warn("delete failed", "error", err)
	}
	return nil
}

// cleanup deletes whatever c holds, item first, and clears what was deleted
func (s *Scenario) cleanup(ctx context.Context, c *created) error {
	var errs []error
	if c.item != nil {
		if err := s.client.DeleteItem(ctx, c.item.ItemID); err != nil {
			errs = append(errs, fmt.Errorf("delete item %d: %w", c.item.ItemID, err))
		} else {
			c.item = nil
		}
	}
	if c.biblio != nil {
		if err := s.client.DeleteBiblio(ctx, c.biblio.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete biblio %d: %w", c.biblio.ID, err))
		} else {
			c.biblio = nil
		}
	}
	if c.patron != nil {
		if err := s.client.DeletePatron(ctx, c.patron.PatronID); err != nil {
			errs = append(errs, fmt.Errorf("delete patron %d: %w", c.patron.PatronID, err))
		} else {
			c.patron = nil
		}
	}
	return errors.Join(errs...)
}

// randomThink sleeps for a uniform random duration in [0, max)
func randomThink(ctx context.Context, max time.Duration) error {
	if max <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(rand.N(max))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
