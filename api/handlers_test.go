/*
handlers_test.go - HTTP-level tests for the ledger API

Tests for:
- Transaction creation, status mapping and event publishing
- Profile-based visibility on listing
- Account opening, lookup and per-account history
- Token handling
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/banking-ledger/events"
	"github.com/warp/banking-ledger/ledger"
	"github.com/warp/banking-ledger/store/sqlite"
)

const testSecret = "test-secret"

// =============================================================================
// TEST HELPERS
// =============================================================================

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TransactionCompleted
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.TransactionCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type testServer struct {
	router    http.Handler
	publisher *recordingPublisher
	store     *sqlite.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gate := ledger.DefaultPolicyTable()
	pub := &recordingPublisher{}
	h := NewHandler(ledger.NewEngine(store, gate), ledger.NewBooks(store, gate), pub, nil)
	auth := NewAuthenticator(testSecret, "", "", nil)

	return &testServer{router: NewRouter(h, auth, nil), publisher: pub, store: store}
}

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func roleToken(t *testing.T, role string) string {
	return token(t, jwt.MapClaims{"sub": "7", "role": role})
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// openAccounts opens n accounts for client 1 as Admin.
func (s *testServer) openAccounts(t *testing.T, n int) []AccountDTO {
	t.Helper()
	admin := roleToken(t, "Admin")
	var out []AccountDTO
	for i := 0; i < n; i++ {
		rec := s.do(t, http.MethodPost, "/api/accounts", admin, OpenAccountRequest{ClientID: 1})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		out = append(out, decode[AccountDTO](t, rec))
	}
	return out
}

func (s *testServer) balance(t *testing.T, id int64) string {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/accounts/"+itoa(id), roleToken(t, "Admin"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	return decode[AccountDTO](t, rec).Balance
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestCreateTransaction_ScenariosAThroughD(t *testing.T) {
	s := newTestServer(t)
	accts := s.openAccounts(t, 2)
	one, two := accts[0].ID, accts[1].ID
	admin := roleToken(t, "Admin")

	// Scenario A: deposit 500.00 into a zero-balance account
	rec := s.do(t, http.MethodPost, "/api/transactions", admin, map[string]any{
		"transactionTypeCode": 1, "amount": "500.00", "accountId": one,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dto := decode[TransactionDTO](t, rec)
	assert.Equal(t, "500.00", dto.Amount)
	assert.Equal(t, "deposit", dto.Type)
	assert.Equal(t, "500.00", s.balance(t, one))

	// Scenario B: overdraw
	rec = s.do(t, http.MethodPost, "/api/transactions", admin, map[string]any{
		"transactionTypeCode": 2, "amount": 700, "accountId": one,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, string(ledger.KindInsufficientFunds), errResp.Kind)
	assert.Equal(t, "500.00", s.balance(t, one))

	// Scenario C: transfer via sourceAccountId
	rec = s.do(t, http.MethodPost, "/api/transactions", admin, map[string]any{
		"transactionTypeCode": 3, "amount": "200.00", "accountId": two,
		"sourceAccountId": one, "destinationAccountId": two,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, one, decode[TransactionDTO](t, rec).AccountID)
	assert.Equal(t, "300.00", s.balance(t, one))
	assert.Equal(t, "200.00", s.balance(t, two))

	// Scenario D: transfer to self
	rec = s.do(t, http.MethodPost, "/api/transactions", admin, map[string]any{
		"transactionTypeCode": 3, "amount": "10.00", "sourceAccountId": one, "destinationAccountId": one,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(ledger.KindInvalidTransfer), decode[ErrorResponse](t, rec).Kind)
	assert.Equal(t, "300.00", s.balance(t, one))

	// Only the two commits were announced.
	require.Len(t, s.publisher.events, 2)
	assert.Equal(t, ledger.AccountID(two), s.publisher.events[1].DestinationAccountID)
}

func TestCreateTransaction_StatusMapping(t *testing.T) {
	s := newTestServer(t)
	acct := s.openAccounts(t, 1)[0].ID
	admin := roleToken(t, "Admin")

	tests := []struct {
		name   string
		bearer string
		body   map[string]any
		status int
		kind   ledger.Kind
	}{
		{"zero amount", admin, map[string]any{"transactionTypeCode": 1, "amount": 0, "accountId": acct}, 400, ledger.KindInvalidAmount},
		{"unknown type", admin, map[string]any{"transactionTypeCode": 8, "amount": 1, "accountId": acct}, 400, ledger.KindInvalidTransactionType},
		{"missing account", admin, map[string]any{"transactionTypeCode": 1, "amount": 1, "accountId": 999}, 404, ledger.KindAccountNotFound},
		{"missing destination", admin, map[string]any{"transactionTypeCode": 3, "amount": 1, "accountId": acct, "destinationAccountId": 999}, 404, ledger.KindDestinationAccountNotFound},
		{"user forbidden", roleToken(t, "User"), map[string]any{"transactionTypeCode": 1, "amount": 1, "accountId": acct}, 403, ledger.KindForbidden},
		{"maintenance forbidden", roleToken(t, "Maintenance"), map[string]any{"transactionTypeCode": 1, "amount": 1, "accountId": acct}, 403, ledger.KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/transactions", tt.bearer, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, string(tt.kind), decode[ErrorResponse](t, rec).Kind)
		})
	}
	assert.Equal(t, "0.00", s.balance(t, acct))
	assert.Empty(t, s.publisher.events)
}

func TestCreateTransaction_InvalidBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/transactions", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+roleToken(t, "Admin"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTransaction_PublishFailureDoesNotFailRequest(t *testing.T) {
	s := newTestServer(t)
	s.publisher.err = errors.New("broker unavailable")
	acct := s.openAccounts(t, 1)[0].ID

	rec := s.do(t, http.MethodPost, "/api/transactions", roleToken(t, "Admin"), map[string]any{
		"transactionTypeCode": 1, "amount": "5", "accountId": acct,
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "5.00", s.balance(t, acct))
}

func TestCreateTransaction_KeepsSubCentPrecision(t *testing.T) {
	// GIVEN: An empty account
	// WHEN: Amounts with more than two fraction digits are deposited
	// THEN: Record and balance render every digit that was stored

	s := newTestServer(t)
	acct := s.openAccounts(t, 1)[0].ID
	admin := roleToken(t, "Admin")

	rec := s.do(t, http.MethodPost, "/api/transactions", admin, map[string]any{
		"transactionTypeCode": 1, "amount": "0.004", "accountId": acct,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "0.004", decode[TransactionDTO](t, rec).Amount)
	assert.Equal(t, "0.004", s.balance(t, acct))

	rec = s.do(t, http.MethodPost, "/api/transactions", admin, map[string]any{
		"transactionTypeCode": 1, "amount": "1.5", "accountId": acct,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "1.50", decode[TransactionDTO](t, rec).Amount)
	assert.Equal(t, "1.504", s.balance(t, acct))

	rec = s.do(t, http.MethodPost, "/api/transactions", admin, map[string]any{
		"transactionTypeCode": 2, "amount": "1.505", "accountId": acct,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	details, ok := decode[ErrorResponse](t, rec).Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.504", details["available"])
	assert.Equal(t, "1.505", details["requested"])
}

// conflictingStore never manages to commit.
type conflictingStore struct {
	*sqlite.Store
}

func (conflictingStore) SaveAll(context.Context, []ledger.Account, ledger.TransactionRecord) (ledger.TransactionRecord, error) {
	return ledger.TransactionRecord{}, ledger.ErrConcurrentModification
}

func TestCreateTransaction_PersistenceConflictIsRetryable500(t *testing.T) {
	// GIVEN: A store whose every commit loses the version race
	// WHEN: A deposit is posted
	// THEN: 500 persistence_conflict flagged retryable, nothing published

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	acc, err := db.CreateAccount(context.Background(), 1)
	require.NoError(t, err)

	cs := conflictingStore{db}
	gate := ledger.DefaultPolicyTable()
	pub := &recordingPublisher{}
	engine := ledger.NewEngine(cs, gate, ledger.WithRetry(3, time.Microsecond))
	h := NewHandler(engine, ledger.NewBooks(cs, gate), pub, nil)
	s := &testServer{router: NewRouter(h, NewAuthenticator(testSecret, "", "", nil), nil), publisher: pub, store: db}

	rec := s.do(t, http.MethodPost, "/api/transactions", roleToken(t, "Admin"), map[string]any{
		"transactionTypeCode": 1, "amount": "10", "accountId": int64(acc.ID),
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, string(ledger.KindPersistenceConflict), resp.Kind)
	assert.True(t, resp.Retryable)
	assert.Empty(t, pub.events)
	assert.Equal(t, "0.00", s.balance(t, int64(acc.ID)))
}

func TestListTransactions_VisibilityByProfile(t *testing.T) {
	// GIVEN: One deposit and one withdrawal on record
	// WHEN: Each profile lists transactions
	// THEN: Admin sees both, Maintenance sees the deposit, User is forbidden

	s := newTestServer(t)
	acct := s.openAccounts(t, 1)[0].ID
	admin := roleToken(t, "Admin")
	for _, body := range []map[string]any{
		{"transactionTypeCode": 1, "amount": "50", "accountId": acct},
		{"transactionTypeCode": 2, "amount": "20", "accountId": acct},
	} {
		require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/transactions", admin, body).Code)
	}

	rec := s.do(t, http.MethodGet, "/api/transactions", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TransactionDTO](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/transactions", roleToken(t, "Mantenimiento"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]TransactionDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].TransactionTypeCode)

	rec = s.do(t, http.MethodGet, "/api/transactions", roleToken(t, "User"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/transactions/2", roleToken(t, "Maintenance"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/transactions/2", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "20.00", decode[TransactionDTO](t, rec).Amount)

	rec = s.do(t, http.MethodGet, "/api/transactions/99", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/transactions/abc", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestAccounts(t *testing.T) {
	s := newTestServer(t)
	s.openAccounts(t, 2)
	admin := roleToken(t, "Admin")

	rec := s.do(t, http.MethodPost, "/api/accounts", admin, OpenAccountRequest{ClientID: 2})
	require.Equal(t, http.StatusCreated, rec.Code)
	opened := decode[AccountDTO](t, rec)
	assert.Equal(t, "0.00", opened.Balance)

	rec = s.do(t, http.MethodGet, "/api/accounts?clientId=1", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AccountDTO](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/accounts", admin, nil)
	assert.Len(t, decode[[]AccountDTO](t, rec), 3)

	rec = s.do(t, http.MethodGet, "/api/accounts/404", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/accounts", roleToken(t, "User"), OpenAccountRequest{ClientID: 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/accounts", admin, OpenAccountRequest{ClientID: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAccountTransactions(t *testing.T) {
	// GIVEN: Account 1 with a deposit and a transfer out to account 2,
	//        account 2 with its own withdrawal
	// WHEN: Per-account history is requested
	// THEN: Only that account's records, filtered by profile

	s := newTestServer(t)
	accts := s.openAccounts(t, 3)
	a, b, idle := accts[0].ID, accts[1].ID, accts[2].ID
	admin := roleToken(t, "Admin")
	for _, body := range []map[string]any{
		{"transactionTypeCode": 1, "amount": "50", "accountId": a},
		{"transactionTypeCode": 3, "amount": "30", "accountId": a, "destinationAccountId": b},
		{"transactionTypeCode": 2, "amount": "5", "accountId": b},
	} {
		require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/transactions", admin, body).Code)
	}

	rec := s.do(t, http.MethodGet, "/api/accounts/"+itoa(a)+"/transactions", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decode[[]TransactionDTO](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].ID)
	assert.Equal(t, int64(2), list[1].ID)
	assert.Equal(t, "transfer", list[1].Type)

	rec = s.do(t, http.MethodGet, "/api/accounts/"+itoa(b)+"/transactions", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[[]TransactionDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "5.00", list[0].Amount)

	rec = s.do(t, http.MethodGet, "/api/accounts/"+itoa(a)+"/transactions", roleToken(t, "Maintenance"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[[]TransactionDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].TransactionTypeCode)

	rec = s.do(t, http.MethodGet, "/api/accounts/"+itoa(idle)+"/transactions", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/accounts/"+itoa(a)+"/transactions", roleToken(t, "User"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/accounts/404/transactions", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(ledger.KindAccountNotFound), decode[ErrorResponse](t, rec).Kind)

	rec = s.do(t, http.MethodGet, "/api/accounts/x/transactions", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// AUTH
// =============================================================================

func TestAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/accounts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/accounts", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired := token(t, jwt.MapClaims{"role": "Admin", "exp": time.Now().Add(-time.Minute).Unix()})
	rec = s.do(t, http.MethodGet, "/api/accounts", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "Admin"}).SignedString([]byte("other"))
	require.NoError(t, err)
	rec = s.do(t, http.MethodGet, "/api/accounts", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/accounts", roleToken(t, "Auditor"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	dotNet := token(t, jwt.MapClaims{dotNetRoleClaim: []any{"Guest", "Admin"}})
	rec = s.do(t, http.MethodGet, "/api/accounts", dotNet, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_IssuerAndAudience(t *testing.T) {
	auth := NewAuthenticator(testSecret, "bank-idp", "ledger", nil)
	var seen ledger.Profile
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ProfileFrom(r.Context())
	}))

	serve := func(bearer string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+bearer)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	good := token(t, jwt.MapClaims{"role": "maintenance", "iss": "bank-idp", "aud": "ledger"})
	assert.Equal(t, http.StatusOK, serve(good))
	assert.Equal(t, ledger.ProfileMaintenance, seen)

	wrongIssuer := token(t, jwt.MapClaims{"role": "Admin", "iss": "elsewhere", "aud": "ledger"})
	assert.Equal(t, http.StatusUnauthorized, serve(wrongIssuer))
}

// =============================================================================
// DEMO
// =============================================================================

func TestLoadDemo(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	gate := ledger.DefaultPolicyTable()
	books := ledger.NewBooks(store, gate)

	results, err := LoadDemo(ctx, ledger.NewEngine(store, gate), books, nil)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, ledger.KindInsufficientFunds, results[1].Kind)

	first, _ := books.GetAccount(ctx, 1)
	second, _ := books.GetAccount(ctx, 2)
	assert.Equal(t, "300.00", first.Balance.StringFixed(2))
	assert.Equal(t, "200.00", second.Balance.StringFixed(2))

	recs, _ := books.ListTransactions(ctx, ledger.ProfileAdmin)
	assert.Len(t, recs, 2)
}
