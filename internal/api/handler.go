package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jask/loanrecon/internal/service"
)

type reconcileRequest struct {
	BankAccount string `json:"bank_account"`
	FromDate    string `json:"from_date"`
	ToDate      string `json:"to_date"`
}

type selectedRequest struct {
	Transactions []string `json:"transactions"`
}

type regenerateRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// autoReconcile handles POST /api/reconcile/auto.
func (s *Server) autoReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	from, to, err := dateRange(req.FromDate, req.ToDate)
	if err != nil {
		writeErr(w, err, statusFor(err))
		return
	}
	res, err := s.Engine.AutoReconcile(r.Context(), req.BankAccount, from, to)
	if err != nil {
		writeErr(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// preview handles GET /api/reconcile/preview.
func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := dateRange(q.Get("from_date"), q.Get("to_date"))
	if err != nil {
		writeErr(w, err, statusFor(err))
		return
	}
	limit := 0
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil {
			writeErr(w, fmt.Errorf("limit %q: %w", v, service.ErrValidation), http.StatusBadRequest)
			return
		}
	}
	rows, err := s.Engine.Preview(r.Context(), q.Get("bank_account"), from, to, limit)
	if err != nil {
		writeErr(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// reconcileSelected handles POST /api/reconcile/selected.
func (s *Server) reconcileSelected(w http.ResponseWriter, r *http.Request) {
	var req selectedRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	items, err := s.Engine.ReconcileSelected(r.Context(), req.Transactions)
	if err != nil {
		writeErr(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// missingGL handles GET /api/gl/missing.
func (s *Server) missingGL(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Engine.PreviewMissingGL(r.Context())
	if err != nil {
		writeErr(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// regenerateGL handles POST /api/gl/regenerate. An empty body processes all.
func (s *Server) regenerateGL(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeErr(w, err, http.StatusBadRequest)
			return
		}
	}
	res, err := s.Engine.RegenerateGL(r.Context(), req.Limit, nil)
	if err != nil {
		writeErr(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) matchFilters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.MatchFilters())
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %v: %w", err, service.ErrValidation)
	}
	return nil
}

func dateRange(from, to string) (time.Time, time.Time, error) {
	f, err := service.ParseDateFlag(from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	t, err := service.ParseDateFlag(to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return f, t, nil
}
