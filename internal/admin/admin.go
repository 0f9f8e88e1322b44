// Package admin serves the signatory admin pages. Every page lives under
// /admin/<route>/, where route is a secret random path segment; any other
// path is answered with 404.
package admin

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smalltech/web0-mail/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("admin").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).ParseFS(templateFS, "templates/*.html"))

var metricAction = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "web0_admin_action_total",
		Help: "Admin changes to signatories, by action: update, delete, ban.",
	},
	[]string{"action"},
)

// Messages shown on the error page.
const (
	msgNothingToUpdate = "Nothing to update."
	msgNothingToDelete = "Nothing to delete."
	msgNothingToBan    = "Nothing to ban."
	msgNotFound        = "Signatory not found."
	msgBanned          = "That email address is banned."
)

// Handler serves the admin pages for one store.
type Handler struct {
	store *store.Store
	route string
	log   *slog.Logger
	mux   *http.ServeMux
}

// page is the data passed to every template.
type page struct {
	Route       string
	Signatories []store.Signatory
	Bans        []store.Ban
	Signatory   store.Signatory
	Emails      []string
	Message     string
}

// New returns a Handler serving the admin pages under /admin/<route>/.
// A nil logger uses slog.Default().
func New(st *store.Store, route string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		store: st,
		route: route,
		log:   logger,
		mux:   http.NewServeMux(),
	}

	base := "/admin/" + route
	h.mux.HandleFunc("GET "+base, h.list)
	h.mux.HandleFunc("GET "+base+"/{$}", h.list)
	h.mux.HandleFunc("GET "+base+"/edit/{id}", h.editForm)
	h.mux.HandleFunc("POST "+base+"/edit/{id}", h.edit)
	h.mux.HandleFunc("GET "+base+"/delete/{id}", h.deleteForm)
	h.mux.HandleFunc("POST "+base+"/delete/{id}", h.delete)
	h.mux.HandleFunc("POST "+base+"/ban", h.ban)
	h.mux.HandleFunc("POST "+base+"/ban/", h.ban)

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The route is a credential; keep it out of referrers and caches.
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "deny")
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	signatories, err := h.store.Signatories(r.Context())
	if err != nil {
		h.serverError(w, "failed to list signatories", err)
		return
	}
	bans, err := h.store.Bans(r.Context())
	if err != nil {
		h.serverError(w, "failed to list bans", err)
		return
	}
	h.render(w, http.StatusOK, "list", page{Signatories: signatories, Bans: bans})
}

func (h *Handler) editForm(w http.ResponseWriter, r *http.Request) {
	sig, ok := h.lookup(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	h.render(w, http.StatusOK, "edit", page{Signatory: sig})
}

// edit trusts the submitted fields: anyone holding the route is an admin.
func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	raw := r.PostFormValue("id")
	if raw == "" {
		h.renderError(w, http.StatusBadRequest, msgNothingToUpdate)
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.renderError(w, http.StatusNotFound, msgNotFound)
		return
	}

	sig := store.Signatory{
		ID:        id,
		Signatory: r.PostFormValue("signatory"),
		Link:      r.PostFormValue("link"),
		Name:      r.PostFormValue("name"),
		Email:     r.PostFormValue("email"),
	}
	if err := h.store.Update(r.Context(), sig); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.renderError(w, http.StatusNotFound, msgNotFound)
			return
		}
		if errors.Is(err, store.ErrBanned) {
			h.renderError(w, http.StatusBadRequest, msgBanned)
			return
		}
		h.serverError(w, "failed to update signatory", err)
		return
	}

	h.log.Info("updated signatory", "id", id, "email", sig.Email)
	metricAction.WithLabelValues("update").Inc()
	h.render(w, http.StatusOK, "updated", page{Signatory: sig})
}

func (h *Handler) deleteForm(w http.ResponseWriter, r *http.Request) {
	sig, ok := h.lookup(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	h.render(w, http.StatusOK, "delete", page{Signatory: sig})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	raw := r.PostFormValue("id")
	if raw == "" {
		h.renderError(w, http.StatusBadRequest, msgNothingToDelete)
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.renderError(w, http.StatusNotFound, msgNotFound)
		return
	}

	sig, err := h.store.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.renderError(w, http.StatusNotFound, msgNotFound)
			return
		}
		h.serverError(w, "failed to delete signatory", err)
		return
	}

	h.log.Info("deleted signatory", "id", id, "email", sig.Email)
	metricAction.WithLabelValues("delete").Inc()
	h.render(w, http.StatusOK, "deleted", page{Signatory: sig})
}

func (h *Handler) ban(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, http.StatusBadRequest, msgNothingToBan)
		return
	}
	values := r.PostForm["ban"]
	if len(values) == 0 {
		h.renderError(w, http.StatusBadRequest, msgNothingToBan)
		return
	}

	ids := make([]int64, 0, len(values))
	for _, v := range values {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			h.renderError(w, http.StatusNotFound, fmt.Sprintf("Signatory with id %s not found.", v))
			return
		}
		ids = append(ids, id)
	}

	emails, err := h.store.Ban(r.Context(), ids)
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.renderError(w, http.StatusNotFound, msgNotFound)
		return
	case errors.Is(err, store.ErrNoEmail):
		h.renderError(w, http.StatusBadRequest, "Cannot ban a signatory without an email address.")
		return
	case err != nil:
		h.serverError(w, "failed to ban signatories", err)
		return
	}

	for _, email := range emails {
		h.log.Info("banned email and deleted signature", "email", email)
	}
	metricAction.WithLabelValues("ban").Add(float64(len(emails)))
	h.render(w, http.StatusOK, "banned", page{Emails: emails})
}

// lookup loads the signatory named by a path id, answering 404 itself
// when there is none.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request, raw string) (store.Signatory, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.renderError(w, http.StatusNotFound, msgNotFound)
		return store.Signatory{}, false
	}
	sig, err := h.store.Signatory(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.renderError(w, http.StatusNotFound, msgNotFound)
			return store.Signatory{}, false
		}
		h.serverError(w, "failed to load signatory", err)
		return store.Signatory{}, false
	}
	return sig, true
}

func (h *Handler) render(w http.ResponseWriter, status int, name string, data page) {
	data.Route = h.route

	// Nothing is written until the template has executed.
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		h.serverError(w, "failed to render admin page", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		h.log.Debug("failed to write admin page", "error", err)
	}
}

func (h *Handler) renderError(w http.ResponseWriter, status int, message string) {
	h.render(w, status, "error", page{Message: message})
}

func (h *Handler) serverError(w http.ResponseWriter, msg string, err error) {
	h.log.Error(msg, "error", err)
	http.Error(w, "500 - internal server error", http.StatusInternalServerError)
}
