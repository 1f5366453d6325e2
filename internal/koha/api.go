package koha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/studiowebux/kohaload/internal/types"
)

// check names recorded by the API operations
const (
	CheckStatus200     = "status is 200"
	CheckPatronCreated = "Patron created"
	CheckPatronBody    = "Response body contains new patron data"
	CheckPatronDeleted = "DELETE Status is 204 No Content"
	CheckBiblioCreated = "Status is 200"
	CheckBiblioBody    = "Response body contains new biblio data"
	CheckItemCreated   = "Item created"
	CheckItemBody      = "Response body contains new item data"
	CheckDeleted       = "Status is 204 No Content"
)

const referenceDataPageSize = 500

// endpoint templates, used as metrics labels
const (
	endpointPatronCategories = "/patron_categories"
	endpointLibraries        = "/libraries"
	endpointItemTypes        = "/item_types"
	endpointPatrons          = "/patrons"
	endpointPatron           = "/patrons/{patron_id}"
	endpointBiblios          = "/biblios"
	endpointBiblio           = "/biblios/{biblio_id}"
	endpointBiblioItems      = "/biblios/{biblio_id}/items"
	endpointItem             = "/items/{item_id}"
)

// LoadReferenceData fetches patron categories, libraries and item types concurrently
func (c *Client) LoadReferenceData(ctx context.Context) (*types.ReferenceData, error) {
	data := &types.ReferenceData{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.list(gctx, endpointPatronCategories, &data.PatronCategories)
	})
	g.Go(func() error {
		return c.list(gctx, endpointLibraries, &data.Libraries)
	})
	g.Go(func() error {
		return c.list(gctx, endpointItemTypes, &data.ItemTypes)
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load reference data: %w", err)
	}

	c.logger.Info(fmt.Sprintf("Loaded %d patron categories", len(data.PatronCategories)))
	c.logger.Info(fmt.Sprintf("Loaded %d libraries", len(data.Libraries)))
	c.logger.Info(fmt.Sprintf("Loaded %d item_types", len(data.ItemTypes)))
	return data, nil
}

func (c *Client) list(ctx context.Context, endpoint string, dest interface{}) error {
	path := fmt.Sprintf("%s?_per_page=%d", endpoint, referenceDataPageSize)
	res, err := c.do(ctx, http.MethodGet, endpoint, path, "", nil)
	if err != nil {
		c.checks.Check(CheckStatus200, false)
		return err
	}
	if !c.checks.Check(CheckStatus200, res.Status == http.StatusOK) {
		return c.statusError(http.MethodGet, endpoint, res)
	}
	if err := json.Unmarshal(res.Body, dest); err != nil {
		return fmt.Errorf("failed to decode %s: %w", endpoint, err)
	}
	return nil
}

// CreatePatron creates a patron and returns the stored record
func (c *Client) CreatePatron(ctx context.Context, p *types.Patron) (*types.Patron, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode patron: %w", err)
	}
	c.logger.Debug("createKohaPatron", "cardnumber", p.Cardnumber, "category_id", p.CategoryID, "library_id", p.LibraryID)

	res, err := c.do(ctx, http.MethodPost, endpointPatrons, endpointPatrons, ContentTypeJSON, payload)
	if err != nil {
		c.checks.Check(CheckPatronCreated, false)
		return nil, err
	}
	created := c.checks.Check(CheckPatronCreated, res.Status == http.StatusCreated)
	hasID := c.checks.Check(CheckPatronBody, hasField(res.Body, "patron_id"))
	if !created || !hasID {
		c.logger.Error("failed to create patron", "status", res.Status, "body", string(res.Body), "payload", string(payload))
		if !created {
			return nil, c.statusError(http.MethodPost, endpointPatrons, res)
		}
		return nil, fmt.Errorf("%w: patron_id", ErrMissingField)
	}

	var patron types.Patron
	if err := json.Unmarshal(res.Body, &patron); err != nil {
		return nil, fmt.Errorf("failed to decode patron: %w", err)
	}
	c.logger.Info("created stub patron", "patron_id", patron.PatronID, "cardnumber", patron.Cardnumber)
	return &patron, nil
}

// DeletePatron deletes a patron by id
func (c *Client) DeletePatron(ctx context.Context, patronID int) error {
	if err := c.delete(ctx, endpointPatron, fmt.Sprintf("/patrons/%d", patronID), CheckPatronDeleted); err != nil {
		return err
	}
	c.logger.Info("deleted patron", "patron_id", patronID)
	return nil
}

// CreateBiblio creates a bibliographic record from MARC-in-JSON
func (c *Client) CreateBiblio(ctx context.Context, rec *types.Record) (*types.Biblio, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode biblio: %w", err)
	}

	res, err := c.do(ctx, http.MethodPost, endpointBiblios, endpointBiblios, ContentTypeMARCInJSON, payload)
	if err != nil {
		c.checks.Check(CheckBiblioCreated, false)
		return nil, err
	}
	created := c.checks.Check(CheckBiblioCreated, res.Status == http.StatusOK)
	hasID := c.checks.Check(CheckBiblioBody, hasField(res.Body, "id"))
	if !created {
		return nil, c.statusError(http.MethodPost, endpointBiblios, res)
	}
	if !hasID {
		return nil, fmt.Errorf("%w: id", ErrMissingField)
	}

	var biblio types.Biblio
	if err := json.Unmarshal(res.Body, &biblio); err != nil {
		return nil, fmt.Errorf("failed to decode biblio: %w", err)
	}
	id, _ := extractString(res.Body, "id")
	c.logger.Info("created biblio", "biblio_id", id, "title", rec.Title())
	return &biblio, nil
}

// DeleteBiblio deletes a bibliographic record by id
func (c *Client) DeleteBiblio(ctx context.Context, biblioID int) error {
	if err := c.delete(ctx, endpointBiblio, fmt.Sprintf("/biblios/%d", biblioID), CheckDeleted); err != nil {
		return err
	}
	c.logger.Info("deleted biblio", "biblio_id", biblioID)
	return nil
}

// CreateItem attaches a new item to a biblio
func (c *Client) CreateItem(ctx context.Context, biblioID int, item *types.Item) (*types.Item, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to encode item: %w", err)
	}
	path := fmt.Sprintf("/biblios/%d/items", biblioID)
	c.logger.Info("creating item", "biblio_id", biblioID, "barcode", item.ExternalID)

	res, err := c.do(ctx, http.MethodPost, endpointBiblioItems, path, ContentTypeJSON, payload)
	if err != nil {
		c.checks.Check(CheckItemCreated, false)
		return nil, err
	}
	created := c.checks.Check(CheckItemCreated, res.Status == http.StatusCreated)
	hasID := c.checks.Check(CheckItemBody, hasField(res.Body, "item_id"))
	if !created {
		return nil, c.statusError(http.MethodPost, endpointBiblioItems, res)
	}
	if !hasID {
		return nil, fmt.Errorf("%w: item_id", ErrMissingField)
	}

	var createdItem types.Item
	if err := json.Unmarshal(res.Body, &createdItem); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}
	return &createdItem, nil
}

// DeleteItem deletes an item by id
func (c *Client) DeleteItem(ctx context.Context, itemID int) error {
	if err := c.delete(ctx, endpointItem, fmt.Sprintf("/items/%d", itemID), CheckDeleted); err != nil {
		return err
	}
	c.logger.Info("deleted item", "item_id", itemID)
	return nil
}

func (c *Client) delete(ctx context.Context, endpoint, path, checkName string) error {
	res, err := c.do(ctx, http.MethodDelete, endpoint, path, "", nil)
	if err != nil {
		c.checks.Check(checkName, false)
		return err
	}
	if !c.checks.Check(checkName, res.Status == http.StatusNoContent) {
		return c.statusError(http.MethodDelete, endpoint, res)
	}
	return nil
}
