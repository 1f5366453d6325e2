package stub

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/studiowebux/kohaload/internal/types"
)

var barcodePattern = regexp.MustCompile(`^[A-Za-z0-9]{20}$`)

func testReferenceData() *types.ReferenceData {
	return &types.ReferenceData{
		PatronCategories: []types.PatronCategory{{PatronCategoryID: "PT"}},
		Libraries:        []types.Library{{LibraryID: "CPL"}, {LibraryID: "MPL"}},
		ItemTypes:        []types.ItemType{{ItemTypeID: "BK"}},
	}
}

func TestRandomBarcode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		b := RandomBarcode()
		if !barcodePattern.MatchString(b) {
			t.Fatalf("Barcode %q does not match expected format", b)
		}
		seen[b] = true
	}
	if len(seen) < 100 {
		t.Errorf("Expected 100 unique barcodes, got: %d", len(seen))
	}
}

func TestRandomCardnumber(t *testing.T) {
	card := RandomCardnumber()
	if len(card) != 32 {
		t.Fatalf("Expected 32 characters, got %d (%s)", len(card), card)
	}
	if _, err := hex.DecodeString(card); err != nil {
		t.Errorf("Expected hex card number, got: %s", card)
	}
	if card[12] != '7' {
		t.Errorf("Expected version nibble 7 at position 12, got: %c", card[12])
	}
	if RandomCardnumber() == card {
		t.Error("Expected distinct card numbers")
	}
}

func TestLoadWords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "words_alpha.txt")
	if err := os.WriteFile(path, []byte("alpha\n\nbeta\r\ngamma\n"), 0644); err != nil {
		t.Fatalf("Failed to write words file: %v", err)
	}

	w, err := LoadWords(path)
	if err != nil {
		t.Fatalf("LoadWords failed: %v", err)
	}
	if w.Len() != 3 {
		t.Errorf("Expected 3 words, got: %d", w.Len())
	}

	empty := filepath.Join(dir, "empty.txt")
	os.WriteFile(empty, []byte("\n\n"), 0644)
	if _, err := LoadWords(empty); err == nil {
		t.Error("Expected error for empty words file")
	}

	if _, err := LoadWords(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("Expected error for missing words file")
	}

	def, err := LoadWords("")
	if err != nil || def.Len() == 0 {
		t.Errorf("Expected embedded words, got len=%d err=%v", def.Len(), err)
	}
}

func TestLoadWords_OversizedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words_alpha.txt")
	data := "alpha\n" + strings.Repeat("x", 70*1024) + "\nbeta\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write words file: %v", err)
	}

	w, err := LoadWords(path)
	if err == nil {
		t.Fatalf("Expected scan error for oversized line, got %d words", w.Len())
	}
	if !strings.Contains(err.Error(), "token too long") {
		t.Errorf("Expected token too long error, got: %v", err)
	}
}

func TestRando(t *testing.T) {
	if got := Rando([]string{}); got != "" {
		t.Errorf("Expected zero value for empty slice, got: %q", got)
	}
	if got := Rando([]int{7}); got != 7 {
		t.Errorf("Expected 7, got: %d", got)
	}
}

func TestGenerator_Patron(t *testing.T) {
	g := NewGenerator(nil)
	p, err := g.Patron(testReferenceData())
	if err != nil {
		t.Fatalf("Patron failed: %v", err)
	}
	if p.CategoryID != "PT" || p.LibraryID != "MPL" {
		t.Errorf("Unexpected category/library: %s/%s", p.CategoryID, p.LibraryID)
	}
	if p.DateOfBirth != "1990-01-01" || p.Statistics1 != "Koha Stress Test" {
		t.Errorf("Unexpected fixed fields: %+v", p)
	}
	if p.Firstname == "" || p.Surname == "" || len(p.Cardnumber) != 32 {
		t.Errorf("Expected random names and card number, got: %+v", p)
	}

	if _, err := g.Patron(&types.ReferenceData{}); err == nil {
		t.Error("Expected error without reference data")
	}
}

func TestGenerator_BiblioAndItem(t *testing.T) {
	g := NewGenerator(nil)

	rec := g.Biblio()
	if rec.Leader != "00000nam a2200000 i 4500" {
		t.Errorf("Unexpected leader: %q", rec.Leader)
	}
	if rec.Subfield("100", "a") != "Hall, Kyle" {
		t.Errorf("Unexpected author: %q", rec.Subfield("100", "a"))
	}
	if rec.Subfield("245", "b") != "A Load Testing Example for Koha" {
		t.Errorf("Unexpected subtitle: %q", rec.Subfield("245", "b"))
	}
	if !regexp.MustCompile(`^\S+ \S+$`).MatchString(rec.Subfield("245", "a")) {
		t.Errorf("Expected two-word title, got: %q", rec.Subfield("245", "a"))
	}

	item, err := g.Item(testReferenceData())
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if !barcodePattern.MatchString(item.ExternalID) {
		t.Errorf("Unexpected barcode: %q", item.ExternalID)
	}
	if item.ItemTypeID != "BK" || item.HomeLibraryID != "MPL" || item.HoldingLibraryID != "MPL" {
		t.Errorf("Unexpected item fields: %+v", item)
	}
}
