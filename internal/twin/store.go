package twin

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studiowebux/kohaload/internal/types"
)

var (
	errNotFound  = errors.New("not found")
	errConflict  = errors.New("conflict")
	errNotOnLoan = errors.New("item is not checked out")
)

// Loan is an item currently checked out to a patron
type Loan struct {
	ItemID   int       `json:"item_id"`
	PatronID int       `json:"patron_id"`
	IssuedAt time.Time `json:"issued_at"`
	DueDate  time.Time `json:"due_date"`
}

// MemoryStore holds the twin's catalog, patrons, loans and staff sessions
type MemoryStore struct {
	mu sync.Mutex

	categories []types.PatronCategory
	libraries  []types.Library
	itemTypes  []types.ItemType

	patrons  map[int]types.Patron
	biblios  map[int]types.Record
	items    map[int]types.Item
	loans    map[int]Loan // keyed by item id
	sessions map[string]string

	restrictPatrons bool
	restricted      map[int]bool

	nextPatronID int
	nextBiblioID int
	nextItemID   int
}

// NewStore creates a store seeded with Koha's default reference data
func NewStore(restrictPatrons bool) *MemoryStore {
	s := &MemoryStore{restrictPatrons: restrictPatrons}
	s.reset()
	return s
}

func (s *MemoryStore) reset() {
	s.categories = []types.PatronCategory{
		{PatronCategoryID: "PT", Name: "Patron"},
		{PatronCategoryID: "S", Name: "Staff"},
	}
	s.libraries = []types.Library{
		{LibraryID: "CPL", Name: "Centerville"},
		{LibraryID: "FFL", Name: "Fairfield"},
		{LibraryID: "MPL", Name: "Midway"},
	}
	s.itemTypes = []types.ItemType{
		{ItemTypeID: "BK", Description: "Books"},
		{ItemTypeID: "CF", Description: "Computer Files"},
	}
	s.patrons = make(map[int]types.Patron)
	s.biblios = make(map[int]types.Record)
	s.items = make(map[int]types.Item)
	s.loans = make(map[int]Loan)
	s.sessions = make(map[string]string)
	s.restricted = make(map[int]bool)
	s.nextPatronID = 1
	s.nextBiblioID = 1
	s.nextItemID = 1
}

// Reset restores the seeded state
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// ReferenceData returns copies of the seeded lists
func (s *MemoryStore) ReferenceData() types.ReferenceData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.ReferenceData{
		PatronCategories: append([]types.PatronCategory(nil), s.categories...),
		Libraries:        append([]types.Library(nil), s.libraries...),
		ItemTypes:        append([]types.ItemType(nil), s.itemTypes...),
	}
}

// SetLibraries replaces the library list
func (s *MemoryStore) SetLibraries(libs []types.Library) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.libraries = append([]types.Library(nil), libs...)
}

// AddPatron stores a patron and assigns its id. Card numbers are unique.
func (s *MemoryStore) AddPatron(p types.Patron) (types.Patron, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.patrons {
		if existing.Cardnumber == p.Cardnumber {
			return types.Patron{}, errConflict
		}
	}
	p.PatronID = s.nextPatronID
	s.nextPatronID++
	s.patrons[p.PatronID] = p
	if s.restrictPatrons {
		s.restricted[p.PatronID] = true
	}
	return p, nil
}

// Patron looks up a patron by id
func (s *MemoryStore) Patron(id int) (types.Patron, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patrons[id]
	return p, ok
}

// IsRestricted reports whether the patron carries a restriction
func (s *MemoryStore) IsRestricted(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restricted[id]
}

// DeletePatron removes a patron without loans
func (s *MemoryStore) DeletePatron(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patrons[id]; !ok {
		return errNotFound
	}
	for _, loan := range s.loans {
		if loan.PatronID == id {
			return errConflict
		}
	}
	delete(s.patrons, id)
	delete(s.restricted, id)
	return nil
}

// AddBiblio stores a record and returns its id
func (s *MemoryStore) AddBiblio(rec types.Record) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextBiblioID
	s.nextBiblioID++
	s.biblios[id] = rec
	return id
}

// DeleteBiblio removes a record that has no items attached
func (s *MemoryStore) DeleteBiblio(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.biblios[id]; !ok {
		return errNotFound
	}
	for _, item := range s.items {
		if item.BiblioID == id {
			return errConflict
		}
	}
	delete(s.biblios, id)
	return nil
}

// AddItem attaches an item to a biblio. Barcodes are unique.
func (s *MemoryStore) AddItem(biblioID int, item types.Item) (types.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.biblios[biblioID]; !ok {
		return types.Item{}, errNotFound
	}
	for _, existing := range s.items {
		if existing.ExternalID == item.ExternalID {
			return types.Item{}, errConflict
		}
	}
	item.ItemID = s.nextItemID
	item.BiblioID = biblioID
	s.nextItemID++
	s.items[item.ItemID] = item
	return item, nil
}

// DeleteItem removes an item that is not checked out
func (s *MemoryStore) DeleteItem(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return errNotFound
	}
	if _, onLoan := s.loans[id]; onLoan {
		return errConflict
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) itemByBarcode(barcode string) (types.Item, bool) {
	for _, item := range s.items {
		if item.ExternalID == barcode {
			return item, true
		}
	}
	return types.Item{}, false
}

// ItemTitle returns the title of the biblio holding the barcode
func (s *MemoryStore) ItemTitle(barcode string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.itemByBarcode(barcode)
	if !ok {
		return ""
	}
	rec := s.biblios[item.BiblioID]
	return rec.Title()
}

// LoanHolder returns the patron holding the barcode, or 0
func (s *MemoryStore) LoanHolder(barcode string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.itemByBarcode(barcode)
	if !ok {
		return 0, errNotFound
	}
	return s.loans[item.ItemID].PatronID, nil
}

// Checkout issues the barcode to the patron, replacing any existing loan
func (s *MemoryStore) Checkout(patronID int, barcode string, now time.Time) (Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patrons[patronID]; !ok {
		return Loan{}, errNotFound
	}
	item, ok := s.itemByBarcode(barcode)
	if !ok {
		return Loan{}, errNotFound
	}
	loan := Loan{
		ItemID:   item.ItemID,
		PatronID: patronID,
		IssuedAt: now,
		DueDate:  now.AddDate(0, 0, 14),
	}
	s.loans[item.ItemID] = loan
	return loan, nil
}

// Checkin returns the barcode and the patron it was issued to
func (s *MemoryStore) Checkin(barcode string) (types.Patron, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.itemByBarcode(barcode)
	if !ok {
		return types.Patron{}, errNotFound
	}
	loan, onLoan := s.loans[item.ItemID]
	if !onLoan {
		return types.Patron{}, errNotOnLoan
	}
	delete(s.loans, item.ItemID)
	return s.patrons[loan.PatronID], nil
}

// SearchTitles counts biblios whose title contains every term, case-insensitively
func (s *MemoryStore) SearchTitles(query string) int {
	terms := strings.Fields(strings.ToLower(query))
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rec := range s.biblios {
		title := strings.ToLower(rec.Title())
		matched := true
		for _, term := range terms {
			if !strings.Contains(title, term) {
				matched = false
				break
			}
		}
		if matched {
			count++
		}
	}
	return count
}

// NewSession creates a staff session for user and returns its token
func (s *MemoryStore) NewSession(user string) string {
	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = user
	return token
}

// SessionUser returns the user of a session token
func (s *MemoryStore) SessionUser(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.sessions[token]
	return user, ok
}

// EndSession drops a session token
func (s *MemoryStore) EndSession(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// State is a point-in-time view of the store for /admin/state
type State struct {
	Patrons  []types.Patron `json:"patrons"`
	Biblios  []int          `json:"biblios"`
	Items    []types.Item   `json:"items"`
	Loans    []Loan         `json:"loans"`
	Sessions int            `json:"sessions"`
}

// Snapshot returns the current state sorted by id
func (s *MemoryStore) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Patrons:  make([]types.Patron, 0, len(s.patrons)),
		Biblios:  make([]int, 0, len(s.biblios)),
		Items:    make([]types.Item, 0, len(s.items)),
		Loans:    make([]Loan, 0, len(s.loans)),
		Sessions: len(s.sessions),
	}
	for _, p := range s.patrons {
		st.Patrons = append(st.Patrons, p)
	}
	for id := range s.biblios {
		st.Biblios = append(st.Biblios, id)
	}
	for _, item := range s.items {
		st.Items = append(st.Items, item)
	}
	for _, loan := range s.loans {
		st.Loans = append(st.Loans, loan)
	}
	sort.Slice(st.Patrons, func(i, j int) bool { return st.Patrons[i].PatronID < st.Patrons[j].PatronID })
	sort.Ints(st.Biblios)
	sort.Slice(st.Items, func(i, j int) bool { return st.Items[i].ItemID < st.Items[j].ItemID })
	sort.Slice(st.Loans, func(i, j int) bool { return st.Loans[i].ItemID < st.Loans[j].ItemID })
	return st
}
