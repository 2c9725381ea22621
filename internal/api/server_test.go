package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jask/loanrecon/internal/config"
	"github.com/jask/loanrecon/internal/database"
	"github.com/jask/loanrecon/internal/database/repository"
	"github.com/jask/loanrecon/internal/service"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func setupServer(t *testing.T) (*httptest.Server, func() error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	dbPath := filepath.Join(t.TempDir(), "api.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, repository.NewBankAccountRepo(db).Upsert(ctx, repository.BankAccount{ID: "HDFC-001", Name: "HDFC", GLAccount: "HDFC Bank - LC"}))
	require.NoError(t, repository.NewLoanRepo(db).Upsert(ctx, repository.Loan{
		ID: "LOAN-1", ApplicantType: "Customer", Applicant: "CUST-1",
		LoanAccount: "Loans - LC", PaymentAccount: "HDFC Bank - LC",
	}))
	ref := "ABC123"
	date, err := repository.ParseDate("2024-01-05")
	require.NoError(t, err)
	require.NoError(t, repository.NewBankTransactionRepo(db).Insert(ctx, repository.BankTransaction{
		ID: "BT-1", BankAccountID: "HDFC-001", Date: date,
		Deposit: decimal.RequireFromString("1000.00"), ReferenceNumber: &ref,
	}))
	require.NoError(t, repository.NewLoanRepaymentRepo(db).Insert(ctx, repository.LoanRepayment{
		ID: "LR-1", LoanID: "LOAN-1", ApplicantType: "Customer", Applicant: "CUST-1",
		PostingDate: date, AmountPaid: decimal.RequireFromString("1000.00"), ReferenceNumber: &ref,
	}))

	engine := service.NewEngine(db,
		config.ReconciliationConfig{PreviewLimit: 100, DocumentTypes: config.DefaultDocumentTypes},
		config.GLConfig{CurrencyPrecision: 2, SampleSize: 20},
		zaptest.NewLogger(t))
	ts := httptest.NewServer(NewServer(engine, zaptest.NewLogger(t)).Router())
	t.Cleanup(ts.Close)
	return ts, db.Close
}

func doJSON(t *testing.T, method, url string, body any, wantCode int, out any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantCode, resp.StatusCode)

	var env apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.Equal(t, wantCode < 400, env.Success, env.Error)
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
}

func TestHTTPReconcileFlow(t *testing.T) {
	t.Parallel()
	ts, _ := setupServer(t)

	doJSON(t, http.MethodGet, ts.URL+"/healthz", nil, http.StatusOK, nil)

	var rows []service.PreviewRow
	doJSON(t, http.MethodGet, ts.URL+"/api/reconcile/preview?bank_account=HDFC-001&from_date=2024-01-01&to_date=2024-01-31", nil, http.StatusOK, &rows)
	require.Len(t, rows, 1)
	require.Equal(t, "BT-1", rows[0].BankTransaction)
	require.Equal(t, "LR-1", rows[0].LoanRepayment)
	require.Equal(t, service.ConfidenceHigh, rows[0].Confidence)

	var res service.Result
	doJSON(t, http.MethodPost, ts.URL+"/api/reconcile/auto",
		map[string]string{"bank_account": "HDFC-001", "from_date": "2024-01-01", "to_date": "2024-01-31"},
		http.StatusOK, &res)
	require.Equal(t, 1, res.TotalProcessed)
	require.Equal(t, 1, res.Reconciled)

	var items []service.ItemResult
	doJSON(t, http.MethodPost, ts.URL+"/api/reconcile/selected",
		map[string][]string{"transactions": {"BT-1", "BT-NOPE"}}, http.StatusOK, &items)
	require.Len(t, items, 2)
	require.Equal(t, service.StatusSkipped, items[0].Status)
	require.Equal(t, service.StatusFailed, items[1].Status)
}

func TestHTTPGLFlow(t *testing.T) {
	t.Parallel()
	ts, _ := setupServer(t)

	var rep struct {
		TotalCount  int    `json:"total_count"`
		TotalAmount string `json:"total_amount"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/api/gl/missing", nil, http.StatusOK, &rep)
	require.Equal(t, 1, rep.TotalCount)
	require.Equal(t, "1000", rep.TotalAmount)

	var res service.RegenerateResult
	doJSON(t, http.MethodPost, ts.URL+"/api/gl/regenerate", map[string]int{"limit": 10}, http.StatusOK, &res)
	require.Equal(t, 1, res.Success)

	doJSON(t, http.MethodPost, ts.URL+"/api/gl/regenerate", nil, http.StatusOK, &res)
	require.Zero(t, res.Processed)
}

func TestHTTPErrors(t *testing.T) {
	t.Parallel()
	ts, closeDB := setupServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/api/reconcile/auto", map[string]string{"bank_account": ""}, http.StatusBadRequest, nil)
	doJSON(t, http.MethodPost, ts.URL+"/api/reconcile/auto", map[string]string{"bank_account": "NOPE"}, http.StatusBadRequest, nil)
	doJSON(t, http.MethodGet, ts.URL+"/api/reconcile/preview?bank_account=HDFC-001&from_date=01/02/2024", nil, http.StatusBadRequest, nil)
	doJSON(t, http.MethodGet, ts.URL+"/api/reconcile/preview?bank_account=HDFC-001&limit=x", nil, http.StatusBadRequest, nil)
	doJSON(t, http.MethodPost, ts.URL+"/api/reconcile/selected", map[string][]string{"transactions": {}}, http.StatusBadRequest, nil)
	doJSON(t, http.MethodPost, ts.URL+"/api/reconcile/selected", map[string]string{"bogus": "x"}, http.StatusBadRequest, nil)

	var filters []string
	doJSON(t, http.MethodGet, ts.URL+"/api/match-filters", nil, http.StatusOK, &filters)
	require.Contains(t, filters, "loan_repayment")

	require.NoError(t, closeDB())
	doJSON(t, http.MethodPost, ts.URL+"/api/gl/regenerate", nil, http.StatusServiceUnavailable, nil)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	require.Equal(t, http.StatusNotFound, statusFor(service.ErrNotFound))
	require.Equal(t, http.StatusInternalServerError, statusFor(context.Canceled))
}
