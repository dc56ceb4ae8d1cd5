package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kyrosq/mqs/internal/domain"
	"github.com/kyrosq/mqs/internal/service"
)

type fakeService struct {
	createErr error
	queue     domain.Queue
	desc      domain.Description
	listErr   error
	queues    []domain.Queue
	listTotal int

	publishResult domain.PublishResult
	publishErr    error

	receiveMsg *service.ReceivedMessage
	receiveErr error

	deleteExisted bool
	deleteErr     error
}

func (f *fakeService) CreateQueue(_ context.Context, name string, cfg domain.QueueConfig) (domain.Queue, error) {
	if f.createErr != nil {
		return domain.Queue{}, f.createErr
	}
	return domain.Queue{Name: name, Config: cfg}, nil
}

func (f *fakeService) UpdateQueue(_ context.Context, name string, cfg domain.QueueConfig) (domain.Queue, error) {
	return domain.Queue{Name: name, Config: cfg}, nil
}

func (f *fakeService) DeleteQueue(_ context.Context, name string) (domain.Queue, error) {
	return f.queue, nil
}

func (f *fakeService) GetQueue(_ context.Context, name string) (domain.Description, error) {
	return f.desc, nil
}

func (f *fakeService) ListQueues(_ context.Context, offset, limit int) ([]domain.Queue, int, error) {
	return f.queues, f.listTotal, f.listErr
}

func (f *fakeService) Publish(_ context.Context, queue string, payload []byte, contentType, contentEncoding string, maxMessageSize int64) (domain.PublishResult, error) {
	return f.publishResult, f.publishErr
}

func (f *fakeService) Receive(_ context.Context, queue string, waitTime time.Duration) (*service.ReceivedMessage, error) {
	return f.receiveMsg, f.receiveErr
}

func (f *fakeService) DeleteMessage(_ context.Context, id string) (bool, error) {
	return f.deleteExisted, f.deleteErr
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(_ context.Context) error { return f.err }

func newTestHandler(svc *fakeService, ping *fakePinger) *Handler {
	return &Handler{service: svc, store: ping, maxMessageSize: domain.DefaultMaxMessageSize}
}

func TestCreateQueue(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandler(svc, &fakePinger{})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body := bytes.NewBufferString(`{"retention_timeout":3600,"visibility_timeout":30,"message_delay":0,"message_deduplication":false}`)
	req := httptest.NewRequest(http.MethodPut, "/queues/orders", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp queueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "orders", resp.Name)
	require.EqualValues(t, 3600, resp.RetentionTimeout)
}

func TestCreateQueueConflict(t *testing.T) {
	svc := &fakeService{createErr: domain.AlreadyExists("queue %q already exists", "orders")}
	h := newTestHandler(svc, &fakePinger{})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPut, "/queues/orders", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestListQueuesTotalIsIndependentOfPageSize(t *testing.T) {
	svc := &fakeService{
		queues:    []domain.Queue{{Name: "orders"}},
		listTotal: 150,
	}
	h := newTestHandler(svc, &fakePinger{})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/queues?offset=0&limit=1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp listQueuesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Queues, 1)
	require.Equal(t, 150, resp.Total)
}

func TestPublishMessageReturnsCreatedWithMessageIDHeader(t *testing.T) {
	svc := &fakeService{publishResult: domain.PublishResult{Message: domain.Message{ID: "abc-123"}}}
	h := newTestHandler(svc, &fakePinger{})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/messages/orders", bytes.NewBufferString("hello"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "abc-123", rec.Header().Get(headerMessageID))
}

func TestPublishMessageDeduplicatedReturnsOK(t *testing.T) {
	svc := &fakeService{publishResult: domain.PublishResult{Message: domain.Message{ID: "abc-123"}, Deduplicated: true}}
	h := newTestHandler(svc, &fakePinger{})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/messages/orders", bytes.NewBufferString("hello"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReceiveMessageEmptyReturnsNoContent(t *testing.T) {
	svc := &fakeService{receiveMsg: nil}
	h := newTestHandler(svc, &fakePinger{})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/messages/orders", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestReceiveMessageReturnsPayloadAndHeaders(t *testing.T) {
	svc := &fakeService{receiveMsg: &service.ReceivedMessage{
		ID: "abc-123", Payload: []byte("hello"), ContentType: "text/plain",
	}}
	h := newTestHandler(svc, &fakePinger{})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/messages/orders", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "abc-123", rec.Header().Get(headerMessageID))
	require.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	require.Equal(t, "hello", rec.Body.String())
}

func TestReceiveMessageRejectsNonNumericWaitHeader(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandler(svc, &fakePinger{})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/messages/orders", nil)
	req.Header.Set(headerMaxWaitTime, "not-a-number")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteMessageNotFound(t *testing.T) {
	svc := &fakeService{deleteExisted: false}
	h := newTestHandler(svc, &fakePinger{})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodDelete, "/messages/00000000-0000-0000-0000-000000000000", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthGreen(t *testing.T) {
	h := newTestHandler(&fakeService{}, &fakePinger{})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "green")
}
