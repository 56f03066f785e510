package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fieldsync/api/controllers"
	"github.com/angelmondragon/fieldsync/internal/connectivity"
	"github.com/angelmondragon/fieldsync/internal/fieldsync"
	"github.com/angelmondragon/fieldsync/internal/snapshot"
	"github.com/angelmondragon/fieldsync/internal/submission"
	"github.com/angelmondragon/fieldsync/internal/visitstatus"
	"github.com/angelmondragon/fieldsync/pkg/auth"
	"github.com/angelmondragon/fieldsync/pkg/config"
	"github.com/angelmondragon/fieldsync/pkg/db/models"
	"github.com/angelmondragon/fieldsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldsync/pkg/errors"
	"github.com/angelmondragon/fieldsync/pkg/kvstore"
	"github.com/angelmondragon/fieldsync/pkg/logger"
	"github.com/angelmondragon/fieldsync/pkg/pagination"
	"github.com/angelmondragon/fieldsync/pkg/syncqueue/idempotency"
)

const day = "2024-05-01"

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type recordingSubmitter struct {
	inputs []submission.Input
	opts   []submission.Options
	result submission.Result
	err    error
}

func (s *recordingSubmitter) SubmitOrder(_ context.Context, in submission.Input, opts submission.Options) (submission.Result, error) {
	s.inputs = append(s.inputs, in)
	s.opts = append(s.opts, opts)
	res := s.result
	res.OrderID = in.OrderID
	return res, s.err
}

type stubDeadLetters struct {
	rows []models.SyncDLQ
}

func (s *stubDeadLetters) ListDLQPage(_ context.Context, _ string, params pagination.Params) (pagination.Page[models.SyncDLQ], error) {
	if params.Cursor != "" {
		if _, err := pagination.ParseCursor(params.Cursor); err != nil {
			return pagination.Page[models.SyncDLQ]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
	}
	return pagination.Build(s.rows, params.Limit, func(row models.SyncDLQ) pagination.Cursor {
		return pagination.Cursor{At: row.FailedAt, ID: row.ID}
	}), nil
}

func (s *stubDeadLetters) Retry(_ context.Context, id uuid.UUID, userID string) (*models.SyncOperation, error) {
	for _, row := range s.rows {
		if row.ID == id && row.UserID == userID {
			return &models.SyncOperation{ID: uuid.New(), OperationType: row.OperationType, IdempotencyKey: row.IdempotencyKey, Status: enums.SyncStatusPending}, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found")
}

func (s *stubDeadLetters) Pending(context.Context, string) (int64, error) { return 2, nil }

type countingWaker struct{ n int }

func (w *countingWaker) Wake() { w.n++ }

type fixture struct {
	handler   http.Handler
	cfg       *config.Config
	submitter *recordingSubmitter
	snapshots *snapshot.Store
	cache     *visitstatus.Cache
	dlq       *stubDeadLetters
	waker     *countingWaker
	monitor   *connectivity.Monitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		App: config.AppConfig{Env: "dev"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "fieldsync", ExpirationMinutes: 60},
	}
	kv := kvstore.NewMemoryStore()
	snapshots, err := snapshot.NewStore(snapshot.StoreParams{KV: kv})
	require.NoError(t, err)
	cache := visitstatus.New(kv, nil)
	sub := &recordingSubmitter{result: submission.Result{Success: true, TotalAmount: 1950}}
	dlq := &stubDeadLetters{}
	waker := &countingWaker{}
	svc, err := fieldsync.NewService(fieldsync.ServiceParams{
		Submitter:   sub,
		Snapshots:   snapshots,
		VisitStatus: cache,
		DeadLetters: dlq,
		Drain:       waker,
	})
	require.NoError(t, err)
	monitor := connectivity.NewMonitor(connectivity.MonitorParams{})

	handler := NewRouter(RouterParams{
		Config:       cfg,
		Logger:       logger.Nop(),
		Orders:       svc,
		Days:         svc,
		Sync:         svc,
		Connectivity: monitor,
		Drain:        waker,
		Bus:          svc.Events(),
		Idempotency:  idempotency.NewMemoryStore(),
		Ready:        map[string]controllers.Pinger{"db": stubPinger{}},
		Gatherer:     prometheus.NewRegistry(),
	})
	return &fixture{
		handler:   handler,
		cfg:       cfg,
		submitter: sub,
		snapshots: snapshots,
		cache:     cache,
		dlq:       dlq,
		waker:     waker,
		monitor:   monitor,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := auth.MintAccessToken(f.cfg.JWT, time.Now(), auth.AccessTokenPayload{UserID: "u1"})
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

func TestHealthRoutes(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dev", rec.Header().Get("X-FieldSync-Env"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyReportsFailedDependency(t *testing.T) {
	cfg := &config.Config{JWT: config.JWTConfig{Secret: "s", Issuer: "i"}}
	handler := controllers.HealthReady(cfg, nil, map[string]controllers.Pinger{
		"db":    stubPinger{},
		"redis": stubPinger{err: errors.New("connection refused")},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis")
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/days/"+day+"/snapshot", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitOrderUsesTokenUser(t *testing.T) {
	f := newFixture(t)
	body := `{"orderId":"o1","retailerId":"r1","orderDate":"2024-05-01","totalAmount":1950.4,"items":[{"productId":"p1","productName":"Soap","quantity":2,"unitPrice":975.2}]}`

	rec := f.do(t, http.MethodPost, "/api/v1/orders", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, f.submitter.inputs, 1)
	assert.Equal(t, "u1", f.submitter.inputs[0].UserID)
	assert.True(t, f.submitter.opts[0].Online)

	var res submission.Result
	decodeData(t, rec, &res)
	assert.Equal(t, "o1", res.OrderID)
	assert.EqualValues(t, 1950, res.TotalAmount)
}

func TestSubmitOrderOfflineAnswersAccepted(t *testing.T) {
	f := newFixture(t)
	f.submitter.result = submission.Result{Success: true, Offline: true, TotalAmount: 500}

	rec := f.do(t, http.MethodPost, "/api/v1/orders", `{"retailerId":"r1","orderDate":"2024-05-01","totalAmount":500,"online":false}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.False(t, f.submitter.opts[0].Online)
	assert.Equal(t, 1, f.waker.n)
}

func TestSubmitOrderRejectsInvalidBody(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/orders", `{"orderDate":"01-05-2024","totalAmount":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), errorCode(t, rec))
	assert.Empty(t, f.submitter.inputs)
}

func TestSubmitOrderReplaysIdempotentRequest(t *testing.T) {
	f := newFixture(t)
	body := `{"orderId":"o1","retailerId":"r1","orderDate":"2024-05-01","totalAmount":10}`

	first := f.do(t, http.MethodPost, "/api/v1/orders", body, "Idempotency-Key", "k1")
	second := f.do(t, http.MethodPost, "/api/v1/orders", body, "Idempotency-Key", "k1")
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Len(t, f.submitter.inputs, 1)

	conflict := f.do(t, http.MethodPost, "/api/v1/orders", `{"orderId":"o2","retailerId":"r1","orderDate":"2024-05-01","totalAmount":10}`, "Idempotency-Key", "k1")
	assert.Equal(t, http.StatusConflict, conflict.Code)
}

func TestDayRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/days/"+day+"/snapshot", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/days/"+day+"/retailers", `{"id":"r1","name":"  Corner Store "}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/api/v1/days/"+day+"/beat-plans", `{"id":"bp1","beatName":"North Loop"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/api/v1/days/"+day+"/visits/r1", `{"status":"unproductive","noOrderReason":"  shop closed "}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var status controllers.VisitStatusResponse
	decodeData(t, rec, &status)
	assert.Equal(t, enums.VisitStatusUnproductive, status.Status)

	rec = f.do(t, http.MethodGet, "/api/v1/days/"+day+"/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap snapshot.Snapshot
	decodeData(t, rec, &snap)
	require.Len(t, snap.Retailers, 1)
	assert.Equal(t, "Corner Store", snap.Retailers[0].Name)
	assert.Equal(t, "North Loop", snap.CurrentBeatLabel)
	assert.Equal(t, 1, snap.ProgressStats.Unproductive)
	require.Len(t, snap.Visits, 1)
	require.NotNil(t, snap.Visits[0].NoOrderReason)
	assert.Equal(t, "shop closed", *snap.Visits[0].NoOrderReason)

	rec = f.do(t, http.MethodGet, "/api/v1/days/"+day+"/visit-status/r1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/days/"+day+"/visits/r1", `{"status":"lost"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/days/"+day+"/snapshot", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := f.snapshots.Load(context.Background(), "u1", day)
	assert.False(t, ok)
}

func TestDayRoutesRejectBadDate(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/days/2024-13-40/snapshot", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVisitStatusOfAnotherUserIsHidden(t *testing.T) {
	f := newFixture(t)
	f.cache.Set(context.Background(), visitstatus.Entry{RetailerID: "r1", Date: day, UserID: "u2", Status: enums.VisitStatusProductive})
	rec := f.do(t, http.MethodGet, "/api/v1/days/"+day+"/visit-status/r1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncRoutes(t *testing.T) {
	f := newFixture(t)
	dlqID := uuid.New()
	f.dlq.rows = []models.SyncDLQ{{
		ID:             dlqID,
		OperationID:    uuid.New(),
		OperationType:  enums.SyncOperationSubmitOrder,
		IdempotencyKey: "o1",
		UserID:         "u1",
		ErrorReason:    enums.SyncDLQReasonMaxAttempts,
		AttemptCount:   10,
	}}

	rec := f.do(t, http.MethodGet, "/api/v1/sync/dlq?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var letters pagination.Page[controllers.DeadLetterResponse]
	decodeData(t, rec, &letters)
	require.Len(t, letters.Items, 1)
	assert.Equal(t, "o1", letters.Items[0].OrderID)
	assert.Equal(t, enums.SyncDLQReasonMaxAttempts, letters.Items[0].Reason)
	assert.Empty(t, letters.NextCursor)

	rec = f.do(t, http.MethodGet, "/api/v1/sync/dlq?cursor=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/sync/dlq?limit=500", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/sync/dlq/"+dlqID.String()+"/retry", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, 1, f.waker.n)

	rec = f.do(t, http.MethodPost, "/api/v1/sync/dlq/"+uuid.NewString()+"/retry", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/sync/dlq/nope/retry", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/sync/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending map[string]int64
	decodeData(t, rec, &pending)
	assert.EqualValues(t, 2, pending["pending"])
}

func TestConnectivityRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/connectivity", `{"online":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.monitor.Online())
	assert.Equal(t, 0, f.waker.n)

	rec = f.do(t, http.MethodPut, "/api/v1/connectivity", `{"online":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.monitor.Online())
	assert.Equal(t, 1, f.waker.n)

	rec = f.do(t, http.MethodPut, "/api/v1/connectivity", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/connectivity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status connectivity.Status
	decodeData(t, rec, &status)
	assert.True(t, status.Online)
}

func TestCleanupSnapshotsRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/snapshots/cleanup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]int
	decodeData(t, rec, &out)
	assert.Equal(t, 0, out["removed"])
}
