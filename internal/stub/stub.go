package stub

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
	"github.com/studiowebux/kohaload/internal/types"
)

const (
	barcodeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	barcodeLength = 20

	stubDateOfBirth = "1990-01-01"
	stubStatistics  = "Koha Stress Test"
	stubLeader      = "00000nam a2200000 i 4500"
)

// RandomBarcode returns a 20 character alphanumeric barcode
func RandomBarcode() string {
	var b strings.Builder
	b.Grow(barcodeLength)
	for i := 0; i < barcodeLength; i++ {
		b.WriteByte(barcodeChars[rand.IntN(len(barcodeChars))])
	}
	return b.String()
}

// RandomCardnumber returns a time-ordered card number: 32 hex characters made of a
// 48-bit millisecond timestamp, a version 7 nibble and random bits
func RandomCardnumber() string {
	return strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")
}

// Generator builds stub entities from random words and reference data
type Generator struct {
	words *Words
}

// NewGenerator creates a generator; nil words falls back to the embedded list
func NewGenerator(words *Words) *Generator {
	if words == nil {
		words = DefaultWords()
	}
	return &Generator{words: words}
}

// Words returns the generator's word list
func (g *Generator) Words() *Words {
	return g.words
}

// Patron builds a stub patron in the first category at the stub library
func (g *Generator) Patron(ref *types.ReferenceData) (*types.Patron, error) {
	categoryID, err := ref.PatronCategoryID()
	if err != nil {
		return nil, err
	}
	libraryID, err := ref.LibraryID()
	if err != nil {
		return nil, err
	}
	return &types.Patron{
		Firstname:   g.words.Pick(),
		Surname:     g.words.Pick(),
		Cardnumber:  RandomCardnumber(),
		LibraryID:   libraryID,
		CategoryID:  categoryID,
		DateOfBirth: stubDateOfBirth,
		Statistics1: stubStatistics,
	}, nil
}

// Biblio builds a stub MARC record whose title is two random words
func (g *Generator) Biblio() *types.Record {
	return &types.Record{
		Leader: stubLeader,
		Fields: []types.Field{
			types.ControlField("001", "123456"),
			types.ControlField("005", "20250101000000.0"),
			types.ControlField("008", "250120s2025    xx            000 0 eng d"),
			types.DataField("100", "1", " ",
				types.Subfield{Code: "a", Value: "Hall, Kyle"}),
			types.DataField("245", "1", "0",
				types.Subfield{Code: "a", Value: fmt.Sprintf("%s %s", g.words.Pick(), g.words.Pick())},
				types.Subfield{Code: "b", Value: "A Load Testing Example for Koha"}),
			types.DataField("260", " ", " ",
				types.Subfield{Code: "a", Value: "USA"},
				types.Subfield{Code: "b", Value: "Load Testing Press"},
				types.Subfield{Code: "c", Value: "2025"}),
		},
	}
}

// Item builds a stub item with a random barcode
func (g *Generator) Item(ref *types.ReferenceData) (*types.Item, error) {
	itemTypeID, err := ref.ItemTypeID()
	if err != nil {
		return nil, err
	}
	libraryID, err := ref.LibraryID()
	if err != nil {
		return nil, err
	}
	return &types.Item{
		ExternalID:       RandomBarcode(),
		ItemTypeID:       itemTypeID,
		HomeLibraryID:    libraryID,
		HoldingLibraryID: libraryID,
	}, nil
}
