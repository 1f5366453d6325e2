package twin

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/studiowebux/kohaload/internal/types"
)

func (t *Twin) apiRoutes(r chi.Router) {
	r.Get("/patron_categories", t.listPatronCategories)
	r.Get("/libraries", t.listLibraries)
	r.Get("/item_types", t.listItemTypes)

	r.Post("/patrons", t.createPatron)
	r.Delete("/patrons/{patron_id}", t.deletePatron)

	r.Post("/biblios", t.createBiblio)
	r.Delete("/biblios/{biblio_id}", t.deleteBiblio)
	r.Post("/biblios/{biblio_id}/items", t.createItem)

	r.Delete("/items/{item_id}", t.deleteItem)
}

func (t *Twin) listPatronCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, t.store.ReferenceData().PatronCategories)
}

func (t *Twin) listLibraries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, t.store.ReferenceData().Libraries)
}

func (t *Twin) listItemTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, t.store.ReferenceData().ItemTypes)
}

func (t *Twin) createPatron(w http.ResponseWriter, r *http.Request) {
	var p types.Patron
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid patron: "+err.Error())
		return
	}
	if p.Surname == "" || p.LibraryID == "" || p.CategoryID == "" {
		writeError(w, http.StatusBadRequest, "surname, library_id and category_id are required")
		return
	}

	created, err := t.store.AddPatron(p)
	if errors.Is(err, errConflict) {
		writeError(w, http.StatusConflict, "Duplicate cardnumber")
		return
	}
	w.Header().Set("Location", "/api/v1/patrons/"+strconv.Itoa(created.PatronID))
	writeJSON(w, http.StatusCreated, created)
}

func (t *Twin) deletePatron(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "patron_id")
	if !ok {
		return
	}
	t.writeDeleteResult(w, t.store.DeletePatron(id), "Patron not found", "Patron has items checked out")
}

func (t *Twin) createBiblio(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/marc-in-json" {
		writeError(w, http.StatusUnsupportedMediaType, "Unsupported media type: "+mediaType)
		return
	}
	var rec types.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid MARC-in-JSON: "+err.Error())
		return
	}
	if rec.Title() == "" {
		writeError(w, http.StatusBadRequest, "record has no title")
		return
	}
	id := t.store.AddBiblio(rec)
	writeJSON(w, http.StatusOK, types.Biblio{ID: id})
}

func (t *Twin) deleteBiblio(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "biblio_id")
	if !ok {
		return
	}
	t.writeDeleteResult(w, t.store.DeleteBiblio(id), "Bibliographic record not found", "Biblio has items attached")
}

func (t *Twin) createItem(w http.ResponseWriter, r *http.Request) {
	biblioID, ok := pathID(w, r, "biblio_id")
	if !ok {
		return
	}
	var item types.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, "invalid item: "+err.Error())
		return
	}
	if item.ExternalID == "" || item.HomeLibraryID == "" {
		writeError(w, http.StatusBadRequest, "external_id and home_library_id are required")
		return
	}

	created, err := t.store.AddItem(biblioID, item)
	switch {
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, "Bibliographic record not found")
	case errors.Is(err, errConflict):
		writeError(w, http.StatusConflict, "Duplicate barcode")
	default:
		writeJSON(w, http.StatusCreated, created)
	}
}

func (t *Twin) deleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "item_id")
	if !ok {
		return
	}
	t.writeDeleteResult(w, t.store.DeleteItem(id), "Item not found", "Item is checked out")
}

func (t *Twin) writeDeleteResult(w http.ResponseWriter, err error, notFound, conflict string) {
	switch {
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, errConflict):
		writeError(w, http.StatusConflict, conflict)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, param))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}
