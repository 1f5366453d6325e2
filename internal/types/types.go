package types

import (
	"errors"
	"fmt"
)

// ErrNoReferenceData is returned when setup data lacks a required list
var ErrNoReferenceData = errors.New("reference data missing")

// PatronCategory represents a patron category from /patron_categories
type PatronCategory struct {
	PatronCategoryID string `json:"patron_category_id" yaml:"patron_category_id"`
	Name             string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Library represents a library (branch) from /libraries
type Library struct {
	LibraryID string `json:"library_id" yaml:"library_id"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ItemType represents an item type from /item_types
type ItemType struct {
	ItemTypeID  string `json:"item_type_id" yaml:"item_type_id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Patron represents a library user
type Patron struct {
	PatronID    int    `json:"patron_id,omitempty" yaml:"patron_id,omitempty"`
	Firstname   string `json:"firstname" yaml:"firstname"`
	Surname     string `json:"surname" yaml:"surname"`
	Cardnumber  string `json:"cardnumber" yaml:"cardnumber"`
	LibraryID   string `json:"library_id" yaml:"library_id"`
	CategoryID  string `json:"category_id" yaml:"category_id"`
	DateOfBirth string `json:"date_of_birth,omitempty" yaml:"date_of_birth,omitempty"`
	Statistics1 string `json:"statistics_1,omitempty" yaml:"statistics_1,omitempty"`
}

// Biblio is the API response for a created bibliographic record
type Biblio struct {
	ID int `json:"id" yaml:"id"`
}

// Item represents a circulating copy of a biblio
type Item struct {
	ItemID           int    `json:"item_id,omitempty" yaml:"item_id,omitempty"`
	BiblioID         int    `json:"biblio_id,omitempty" yaml:"biblio_id,omitempty"`
	ExternalID       string `json:"external_id" yaml:"external_id"` // barcode
	ItemTypeID       string `json:"item_type_id" yaml:"item_type_id"`
	HomeLibraryID    string `json:"home_library_id" yaml:"home_library_id"`
	HoldingLibraryID string `json:"holding_library_id" yaml:"holding_library_id"`
}

// ReferenceData holds the lists loaded once before the run starts
type ReferenceData struct {
	PatronCategories []PatronCategory `json:"patron_categories" yaml:"patron_categories"`
	Libraries        []Library        `json:"libraries" yaml:"libraries"`
	ItemTypes        []ItemType       `json:"item_types" yaml:"item_types"`
}

// PatronCategoryID returns the category used for stub patrons (the first one)
func (d *ReferenceData) PatronCategoryID() (string, error) {
	if d == nil || len(d.PatronCategories) == 0 {
		return "", fmt.Errorf("%w: no patron categories", ErrNoReferenceData)
	}
	return d.PatronCategories[0].PatronCategoryID, nil
}

// LibraryID returns the library used for stub patrons and items.
// The second library is preferred; the first is used when only one exists.
func (d *ReferenceData) LibraryID() (string, error) {
	if d == nil || len(d.Libraries) == 0 {
		return "", fmt.Errorf("%w: no libraries", ErrNoReferenceData)
	}
	if len(d.Libraries) == 1 {
		return d.Libraries[0].LibraryID, nil
	}
	return d.Libraries[1].LibraryID, nil
}

// ItemTypeID returns the item type used for stub items (the first one)
func (d *ReferenceData) ItemTypeID() (string, error) {
	if d == nil || len(d.ItemTypes) == 0 {
		return "", fmt.Errorf("%w: no item types", ErrNoReferenceData)
	}
	return d.ItemTypes[0].ItemTypeID, nil
}
