package tasks

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

var errInvalidJSON = errors.New("invalid JSON")

// Envelope wraps every response body.
type Envelope struct {
	Status  bool   `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func RegisterRoutes(r chi.Router, repo Repository, logger *slog.Logger) {
	h := &handler{repo: repo, logger: logger}
	r.Get("/tasks", h.listTasks)
	r.Post("/task", h.createTask)
	r.Get("/task/{id}", h.getTask)
	r.Put("/task/{id}", h.updateTask)
	r.Delete("/task/{id}", h.deleteTask)
}

type handler struct {
	repo   Repository
	logger *slog.Logger
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	// ?priority= with no value is treated like no filter at all.
	f := Filter{Priority: r.URL.Query().Get("priority")}

	tasks, err := h.repo.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []Task{}
	}
	WriteJSON(w, http.StatusOK, Envelope{Status: true, Data: tasks})
}

func (h *handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req NewTask
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.repo.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, Envelope{Status: true, Data: res, Message: "task created"})
}

func (h *handler) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	t, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, Envelope{Status: true, Data: t})
}

func (h *handler) updateTask(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var fields map[string]any
	if err := decodeBody(r, &fields); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.repo.Update(r.Context(), id, fields)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	msg := "task updated"
	if res.ModifiedCount == 0 {
		msg = "task matched, nothing changed"
	}
	WriteJSON(w, http.StatusOK, Envelope{Status: true, Data: res, Message: msg})
}

func (h *handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, Envelope{Status: true, Message: "task deleted"})
}

func decodeBody(r *http.Request, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errInvalidJSON
	}
	return nil
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		WriteJSON(w, http.StatusBadRequest, Envelope{Data: vErr.Fields, Message: vErr.Error()})
	case errors.Is(err, errInvalidJSON),
		errors.Is(err, ErrInvalidID),
		errors.Is(err, ErrEmptyUpdate),
		errors.Is(err, ErrImmutableID),
		errors.Is(err, ErrInvalidKey):
		WriteJSON(w, http.StatusBadRequest, Envelope{Message: err.Error()})
	case errors.Is(err, ErrNotFound):
		WriteJSON(w, http.StatusNotFound, Envelope{Message: err.Error()})
	default:
		h.logger.ErrorContext(r.Context(), "store_error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteJSON(w, http.StatusInternalServerError, Envelope{Message: err.Error()})
	}
}

// WriteJSON writes v as the JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigStd.NewEncoder(w).Encode(v)
}
