package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testKey = []byte("test-signing-key")

func testConfig() Config {
	return Config{Issuer: "medvault", Audience: "medvault-api", SigningKey: testKey}
}

func signToken(t *testing.T, claims Claims, key []byte, method jwt.SigningMethod) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func validClaims(sub string) Claims {
	return Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   sub,
		Issuer:    "medvault",
		Audience:  jwt.ClaimStrings{"medvault-api"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
}

func runMiddleware(cfg Config, token string) (uuid.UUID, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got uuid.UUID
	err := Middleware(cfg)(func(c echo.Context) error {
		got = UserID(c)
		return nil
	})(c)
	return got, err
}

func TestMiddleware_ValidToken(t *testing.T) {
	uid := uuid.New()
	token := signToken(t, validClaims(uid.String()), testKey, jwt.SigningMethodHS256)

	got, err := runMiddleware(testConfig(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != uid {
		t.Errorf("expected user id %s, got %s", uid, got)
	}
}

func TestMiddleware_MissingToken(t *testing.T) {
	_, err := runMiddleware(testConfig(), "")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestMiddleware_WrongKey(t *testing.T) {
	token := signToken(t, validClaims(uuid.New().String()), []byte("other-key"), jwt.SigningMethodHS256)
	_, err := runMiddleware(testConfig(), token)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestMiddleware_WrongIssuer(t *testing.T) {
	claims := validClaims(uuid.New().String())
	claims.Issuer = "someone-else"
	token := signToken(t, claims, testKey, jwt.SigningMethodHS256)
	if _, err := runMiddleware(testConfig(), token); err == nil {
		t.Fatal("expected rejection for wrong issuer")
	}
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims(uuid.New().String())
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	token := signToken(t, claims, testKey, jwt.SigningMethodHS256)
	if _, err := runMiddleware(testConfig(), token); err == nil {
		t.Fatal("expected rejection for expired token")
	}
}

func TestMiddleware_NonUUIDSubject(t *testing.T) {
	token := signToken(t, validClaims("alice"), testKey, jwt.SigningMethodHS256)
	_, err := runMiddleware(testConfig(), token)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestDevMiddleware(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got uuid.UUID
	err := DevMiddleware()(func(c echo.Context) error {
		got = UserID(c)
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != DevUserID {
		t.Errorf("expected dev user, got %s", got)
	}
}

func TestUserID_Unauthenticated(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if got := UserID(c); got != uuid.Nil {
		t.Errorf("expected uuid.Nil, got %s", got)
	}
}

func TestStaticCredential(t *testing.T) {
	tok, err := StaticCredential("sk_test").Token(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "sk_test" {
		t.Errorf("expected sk_test, got %q", tok)
	}
}
