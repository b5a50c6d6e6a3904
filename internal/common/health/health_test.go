package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestStartupCompleteChecker(t *testing.T) {
	checker := NewStartupCompleteChecker()
	assert.Error(t, checker.Check())
	checker.MarkComplete()
	assert.NoError(t, checker.Check())
}

func TestMultiChecker(t *testing.T) {
	healthy := FunctionChecker(func() error { return nil })
	unhealthy := FunctionChecker(func() error { return errors.New("store unreachable") })

	assert.NoError(t, NewMultiChecker(healthy, healthy).Check())

	mc := NewMultiChecker(healthy)
	mc.Add(unhealthy)
	err := mc.Check()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store unreachable")
}

func TestHandler(t *testing.T) {
	healthy := FunctionChecker(func() error { return nil })
	unhealthy := FunctionChecker(func() error { return errors.New("store unreachable") })
	tests := map[string]struct {
		checker      Checker
		method       string
		expectedCode int
		expectedBody string
	}{
		"healthy": {
			checker:      healthy,
			method:       http.MethodGet,
			expectedCode: http.StatusNoContent,
		},
		"unhealthy": {
			checker:      unhealthy,
			method:       http.MethodGet,
			expectedCode: http.StatusServiceUnavailable,
			expectedBody: "store unreachable",
		},
		"unhealthy head has no body": {
			checker:      unhealthy,
			method:       http.MethodHead,
			expectedCode: http.StatusServiceUnavailable,
		},
		"post is rejected": {
			checker:      healthy,
			method:       http.MethodPost,
			expectedCode: http.StatusMethodNotAllowed,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			mux := http.NewServeMux()
			Register(mux, tc.checker)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tc.method, Path, nil))
			assert.Equal(t, tc.expectedCode, rec.Code)
			assert.Equal(t, tc.expectedBody, rec.Body.String())
		})
	}
}

func TestHandler_FollowsCheckerState(t *testing.T) {
	checker := NewStartupCompleteChecker()
	handler := NewHandler(checker)

	codes := []int{}
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Path, nil))
		codes = append(codes, rec.Code)
		checker.MarkComplete()
	}
	assert.Equal(t, []int{http.StatusServiceUnavailable, http.StatusNoContent}, codes)
	assert.False(t, handler.failing.Load())
}
