package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "attendance-test"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("gate-1", RoleDevice, testIssuer, testKey, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := Parse(tok.Value, testKey, testIssuer)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "gate-1" || claims.Role != RoleDevice {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := Parse(tok.Value, "other-key", testIssuer); err == nil {
		t.Fatal("expected signature failure")
	}
	if _, err := Parse(tok.Value, testKey, "other-issuer"); err == nil {
		t.Fatal("expected issuer mismatch")
	}

	expired, _ := Issue("gate-1", RoleDevice, testIssuer, testKey, -time.Minute)
	if _, err := Parse(expired.Value, testKey, testIssuer); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", mw, func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(PrincipalKey))
	})
	return r
}

func serve(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestScanAuth(t *testing.T) {
	r := newRouter(ScanAuth([]string{"esp32-secret"}, testKey, testIssuer))
	device, _ := Issue("gate-1", RoleDevice, testIssuer, testKey, time.Hour)
	user, _ := Issue("STU1", RoleUser, testIssuer, testKey, time.Hour)

	cases := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{"no credentials", nil, http.StatusUnauthorized},
		{"valid key", map[string]string{APIKeyHeader: "esp32-secret"}, http.StatusOK},
		{"wrong key", map[string]string{APIKeyHeader: "nope"}, http.StatusForbidden},
		{"device token", map[string]string{"Authorization": "Bearer " + device.Value}, http.StatusOK},
		{"lowercase scheme", map[string]string{"Authorization": "bearer " + device.Value}, http.StatusOK},
		{"user token", map[string]string{"Authorization": "Bearer " + user.Value}, http.StatusForbidden},
		{"garbage token", map[string]string{"Authorization": "Bearer abc"}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := serve(r, tc.headers).Code; got != tc.status {
				t.Fatalf("status = %d, want %d", got, tc.status)
			}
		})
	}
}

func TestBearerAuthSetsPrincipal(t *testing.T) {
	r := newRouter(BearerAuth(testKey, testIssuer))
	tok, _ := Issue("STU1", RoleUser, testIssuer, testKey, time.Hour)
	rec := serve(r, map[string]string{"Authorization": "Bearer " + tok.Value})
	if rec.Code != http.StatusOK || rec.Body.String() != "user:STU1" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestReadAuthAcceptsSessionAndKey(t *testing.T) {
	r := newRouter(ReadAuth([]string{"esp32-secret"}, testKey, testIssuer))
	user, _ := Issue("STU1", RoleUser, testIssuer, testKey, time.Hour)
	admin, _ := Issue("ops", RoleAdmin, testIssuer, testKey, time.Hour)

	for _, h := range []map[string]string{
		{APIKeyHeader: "esp32-secret"},
		{"Authorization": "Bearer " + user.Value},
		{"Authorization": "Bearer " + admin.Value},
	} {
		if got := serve(r, h).Code; got != http.StatusOK {
			t.Fatalf("headers %v: status = %d", h, got)
		}
	}
	if got := serve(r, nil).Code; got != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", got)
	}
}

func TestAPIKeyPrincipalDistinguishesSharedPrefixes(t *testing.T) {
	keys := []string{"esp32-gate-north", "esp32-gate-south"}
	r := newRouter(APIKeyAuth(keys))

	a := serve(r, map[string]string{APIKeyHeader: keys[0]}).Body.String()
	b := serve(r, map[string]string{APIKeyHeader: keys[1]}).Body.String()
	if a == b {
		t.Fatalf("keys with a common prefix share principal %q", a)
	}
	for _, p := range []string{a, b} {
		if strings.Contains(p, "esp32") {
			t.Fatalf("principal %q leaks key material", p)
		}
	}
}
