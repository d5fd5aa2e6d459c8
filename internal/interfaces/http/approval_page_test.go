package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/taskflowhq/taskflow/internal/application/port"
	"github.com/taskflowhq/taskflow/internal/application/service"
	"github.com/taskflowhq/taskflow/internal/domain/task"
	"github.com/taskflowhq/taskflow/internal/token"
)

type stubTokenService struct {
	redeem func(ctx context.Context, raw string) (*task.Task, error)
}

func (s *stubTokenService) IssueApprovalLinks(ctx context.Context, taskID, approverID, assigneeScope string) (*service.ApprovalLinks, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *stubTokenService) Redeem(ctx context.Context, raw string) (*task.Task, error) {
	return s.redeem(ctx, raw)
}

type testLogger struct{}

func (testLogger) Info(msg string, keysAndValues ...interface{})  {}
func (testLogger) Error(msg string, keysAndValues ...interface{}) {}

func approvalRouter(redeem func(ctx context.Context, raw string) (*task.Task, error)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(nil, nil, &stubTokenService{redeem: redeem}, nil, nil, nil, nil, testLogger{})
	r := gin.New()
	r.GET("/approval/:token", h.RedeemApprovalLink)
	return r
}

func TestRedeemApprovalLink(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantText   string
	}{
		{
			name:       "success",
			wantStatus: http.StatusOK,
			wantText:   "Decision recorded",
		},
		{
			name:       "already used",
			err:        fmt.Errorf("redeem: %w", token.ErrTokenAlreadyUsed),
			wantStatus: http.StatusConflict,
			wantText:   "Already processed",
		},
		{
			name:       "task finalized",
			err:        fmt.Errorf("redeem: %w", service.ErrAlreadyFinalized),
			wantStatus: http.StatusConflict,
			wantText:   "Already processed",
		},
		{
			name:       "expired",
			err:        fmt.Errorf("redeem: %w", token.ErrTokenExpired),
			wantStatus: http.StatusGone,
			wantText:   "Link expired",
		},
		{
			name:       "scope mismatch",
			err:        fmt.Errorf("redeem: %w", token.ErrTokenScopeMismatch),
			wantStatus: http.StatusForbidden,
			wantText:   "Not authorized",
		},
		{
			name:       "self approval",
			err:        fmt.Errorf("redeem: %w", service.ErrNotAuthorized),
			wantStatus: http.StatusForbidden,
			wantText:   "Not authorized",
		},
		{
			name:       "bad signature",
			err:        fmt.Errorf("redeem: %w", token.ErrTokenInvalid),
			wantStatus: http.StatusNotFound,
			wantText:   "Link not recognized",
		},
		{
			name:       "task gone",
			err:        fmt.Errorf("redeem: %w", port.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantText:   "Link not recognized",
		},
		{
			name:       "storage failure",
			err:        fmt.Errorf("disk on fire"),
			wantStatus: http.StatusInternalServerError,
			wantText:   "Something went wrong",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := approvalRouter(func(ctx context.Context, raw string) (*task.Task, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return &task.Task{ID: "t1", Title: "quarterly report"}, nil
			})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/approval/some-token", nil)
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
			assert.Contains(t, w.Body.String(), tt.wantText)
		})
	}
}
