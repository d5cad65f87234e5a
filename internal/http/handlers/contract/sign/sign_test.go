package sign

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

	"github.com/tradervault/billing-engine/internal/http/middlewarectx"
	"github.com/tradervault/billing-engine/internal/models"
	"github.com/tradervault/billing-engine/internal/services/contract"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Sign(ctx context.Context, req contract.SignRequest) (int, error) {
	args := m.Called(ctx, req)
	return args.Int(0), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func validRequest() Request {
	return Request{
		PlanID:          "annual",
		FullName:        "Ada Trader",
		IDNumber:        "123456789",
		Email:           "trader@example.com",
		ContractHTML:    "<html>contract</html>",
		SignatureImage:  "data:image/png;base64,abc",
		AgreedTerms:     true,
		AgreedPrivacy:   true,
		ContractVersion: "v3",
	}
}

func TestSignHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    interface{}
		userUID        string
		forwardedFor   string
		setupMocks     func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:         "success - contract signed",
			requestBody:  validRequest(),
			userUID:      "user123",
			forwardedFor: "203.0.113.7",
			setupMocks: func(s *MockService) {
				s.On("Sign", mock.Anything, mock.MatchedBy(func(req contract.SignRequest) bool {
					return req.UserUID == "user123" &&
						req.PlanID == "annual" &&
						req.AgreedTerms && req.AgreedPrivacy &&
						req.IPAddress == "203.0.113.7" &&
						req.ContractVersion == "v3"
				})).Return(42, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"OK","data":{"signature_id":42}}`,
		},
		{
			name:           "invalid JSON",
			requestBody:    "not a json",
			userUID:        "user123",
			setupMocks:     func(*MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"invalid request body"}`,
		},
		{
			name: "missing contract html",
			requestBody: func() Request {
				r := validRequest()
				r.ContractHTML = ""
				return r
			}(),
			userUID:        "user123",
			setupMocks:     func(*MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `{"status":"Error","error":"field ContractHTML is a required field","code":"validation_error"}`,
		},
		{
			name:           "missing user UID",
			requestBody:    validRequest(),
			userUID:        "",
			setupMocks:     func(*MockService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"status":"Error","error":"unauthorized"}`,
		},
		{
			name: "consent missing",
			requestBody: func() Request {
				r := validRequest()
				r.AgreedPrivacy = false
				return r
			}(),
			userUID: "user123",
			setupMocks: func(s *MockService) {
				s.On("Sign", mock.Anything, mock.Anything).
					Return(0, models.ErrConsentRequired).Once()
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `{"status":"Error","error":"both consents are required","code":"consent_required"}`,
		},
		{
			name: "unknown plan",
			requestBody: func() Request {
				r := validRequest()
				r.PlanID = "platinum"
				return r
			}(),
			userUID: "user123",
			setupMocks: func(s *MockService) {
				s.On("Sign", mock.Anything, mock.Anything).
					Return(0, models.ErrUnknownPlan).Once()
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `{"status":"Error","error":"unknown plan","code":"unknown_plan"}`,
		},
		{
			name:        "internal error",
			requestBody: validRequest(),
			userUID:     "user123",
			setupMocks: func(s *MockService) {
				s.On("Sign", mock.Anything, mock.Anything).
					Return(0, errors.New("insert failed")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"status":"Error","error":"could not sign contract"}`,
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

			req := httptest.NewRequest(http.MethodPost, "/api/v1/contract/sign", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			if tt.forwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.forwardedFor)
			}

			ctx := req.Context()
			if tt.userUID != "" {
				ctx = context.WithValue(ctx, middlewarectx.UserUID, tt.userUID)
			}
			ctx = context.WithValue(ctx, middleware.RequestIDKey, "req-id")
			req = req.WithContext(ctx)

			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.JSONEq(t, tt.expectedBody, w.Body.String())

			service.AssertExpectations(t)
		})
	}
}
