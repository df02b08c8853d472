package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	j := JWT{Secret: []byte("test-secret"), TokenTTL: time.Hour}
	token, expiresAt, err := j.Sign(Claims{AgentID: "a1", Role: "trader"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expiresAt in the past: %v", expiresAt)
	}

	claims, err := j.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.AgentID != "a1" || claims.Role != "trader" {
		t.Fatalf("claims=%+v", claims)
	}
}

func TestVerify_WrongSecretFails(t *testing.T) {
	j := JWT{Secret: []byte("one"), TokenTTL: time.Hour}
	token, _, err := j.Sign(Claims{AgentID: "a1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := (JWT{Secret: []byte("two")}).Verify(token); err == nil {
		t.Fatalf("verify passed with wrong secret")
	}
}

func TestVerify_ExpiredFails(t *testing.T) {
	j := JWT{Secret: []byte("s"), TokenTTL: time.Hour}
	token, _, err := j.Sign(Claims{
		AgentID: "a1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := j.Verify(token); err == nil {
		t.Fatalf("expired token verified")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	j := JWT{Secret: []byte("s"), TokenTTL: time.Hour}
	token, _, err := j.Sign(Claims{AgentID: "a1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	r := gin.New()
	r.Use(Middleware(j))
	r.GET("/whoami", func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.String(http.StatusInternalServerError, "no claims")
			return
		}
		c.String(http.StatusOK, claims.AgentID)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "a1" {
		t.Fatalf("code=%d body=%q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token code=%d want=401", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token code=%d want=401", w.Code)
	}
}
