package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/serjinio/kmsg-queue/internal/testutil/testlog"
)

func TestTokenValidate(t *testing.T) {
	tests := []struct {
		name    string
		stored  Token
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.stored.Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestBearer(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for in, want := range cases {
		got, ok := Bearer(in)
		if got != want || ok != (want != "") {
			t.Fatalf("Bearer(%q) = %q, %v", in, got, ok)
		}
	}
}

func TestMiddleware(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/open", Middleware(nil), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/gated", Middleware(Token("s3cret")), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(path, header string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := do("/open", ""); code != http.StatusOK {
		t.Fatalf("open route status=%d", code)
	}
	if code := do("/gated", ""); code != http.StatusUnauthorized {
		t.Fatalf("missing token status=%d", code)
	}
	if code := do("/gated", "Bearer nope"); code != http.StatusUnauthorized {
		t.Fatalf("wrong token status=%d", code)
	}
	if code := do("/gated", "Bearer s3cret"); code != http.StatusOK {
		t.Fatalf("valid token status=%d", code)
	}
}
