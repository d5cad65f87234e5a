package reprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/tradervault/billing-engine/internal/models"
	"github.com/tradervault/billing-engine/internal/services/recovery"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Reprocess(ctx context.Context, req recovery.Request) (*recovery.Report, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*recovery.Report), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestReprocessHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    interface{}
		setupMocks     func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:        "success - by email",
			requestBody: Request{Email: "trader@example.com"},
			setupMocks: func(s *MockService) {
				s.On("Reprocess", mock.Anything, recovery.Request{
					Email: "trader@example.com",
				}).Return(&recovery.Report{
					ResolvedUID: "user-1",
					Results: []recovery.EventResult{
						{EventID: 1, Outcome: "reconciled", Detail: "completed", UserUID: "user-1"},
					},
				}, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody: `{"status":"OK","data":{"resolved_uid":"user-1",` +
				`"results":[{"event_id":1,"outcome":"reconciled","detail":"completed","user_uid":"user-1"}]}}`,
		},
		{
			name:        "success - by low profile id alone",
			requestBody: Request{LowProfileID: "lp-1"},
			setupMocks: func(s *MockService) {
				s.On("Reprocess", mock.Anything, recovery.Request{
					LowProfileID: "lp-1",
				}).Return(&recovery.Report{
					Results: []recovery.EventResult{
						{EventID: 2, LowProfileID: "lp-1", Outcome: "duplicate", Detail: "completed"},
					},
				}, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody: `{"status":"OK","data":{` +
				`"results":[{"event_id":2,"low_profile_id":"lp-1","outcome":"duplicate","detail":"completed"}]}}`,
		},
		{
			name:           "invalid JSON",
			requestBody:    "not a json",
			setupMocks:     func(*MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"invalid request body"}`,
		},
		{
			name:           "invalid email",
			requestBody:    Request{Email: "not-an-email"},
			setupMocks:     func(*MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `{"status":"Error","error":"field Email must be a valid email","code":"validation_error"}`,
		},
		{
			name:           "neither email nor low profile id",
			requestBody:    Request{},
			setupMocks:     func(*MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `{"status":"Error","error":"email or low_profile_id is required","code":"missing_target"}`,
		},
		{
			name:        "user not resolved",
			requestBody: Request{Email: "ghost@example.com"},
			setupMocks: func(s *MockService) {
				s.On("Reprocess", mock.Anything, mock.Anything).
					Return(nil, models.ErrUserNotResolved).Once()
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"status":"Error","error":"no user found for email","code":"user_not_resolved"}`,
		},
		{
			name:        "internal error",
			requestBody: Request{LowProfileID: "lp-1"},
			setupMocks: func(s *MockService) {
				s.On("Reprocess", mock.Anything, mock.Anything).
					Return(nil, errors.New("db error")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"status":"Error","error":"could not reprocess events"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockService)
			handler := New(newNoopLogger(), service)

			tt.setupMocks(service)

			var body []byte
			var err error
			if str, ok := tt.requestBody.(string); ok {
				body = []byte(str)
			} else {
				body, err = json.Marshal(tt.requestBody)
				assert.NoError(t, err)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/reprocess", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "req-id"))

			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.JSONEq(t, tt.expectedBody, w.Body.String())

			service.AssertExpectations(t)
		})
	}
}
