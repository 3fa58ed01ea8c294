package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"messenger/internal/db/dbtest"
	"messenger/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "password123", false},
		{"empty password", "", false},
		{"long password", "a" + string(make([]byte, 70)), false}, // bcrypt max is 72 bytes
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("HashPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && hash == "" {
				t.Error("HashPassword() returned empty hash")
			}
		})
	}
}

func TestVerifyPassword(t *testing.T) {
	password := "testpassword123"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"correct password", hash, password, true},
		{"wrong password", hash, "wrongpassword", false},
		{"empty password", hash, "", false},
		{"invalid hash", "invalidhash", password, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.password); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseAccessToken(t *testing.T) {
	secret := "test-secret-key"
	userID := uuid.New()

	token, err := GenerateAccessToken(userID, secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	nilToken, err := GenerateAccessToken(uuid.Nil, secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		secret  string
		wantUID uuid.UUID
		wantErr bool
	}{
		{"valid token", token, secret, userID, false},
		{"wrong secret", token, "wrong-secret", uuid.Nil, true},
		{"invalid token", "invalid.token.here", secret, uuid.Nil, true},
		{"empty token", "", secret, uuid.Nil, true},
		{"nil user id", nilToken, secret, uuid.Nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseAccessToken(tt.token, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseAccessToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && claims.UserID != tt.wantUID {
				t.Errorf("ParseAccessToken() UserID = %v, want %v", claims.UserID, tt.wantUID)
			}
		})
	}
}

func TestParseAccessToken_Expired(t *testing.T) {
	secret := "test-secret"
	// Generate token with -1 minute TTL (already expired)
	token, err := GenerateAccessToken(uuid.New(), secret, -1)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseAccessToken(token, secret)
	if err == nil {
		t.Error("ParseAccessToken() should return error for expired token")
	}
	if claims != nil {
		t.Error("ParseAccessToken() should return nil claims for expired token")
	}
}

func TestGenerateRefreshToken(t *testing.T) {
	token1, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}
	token2, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}
	if token1 == token2 {
		t.Error("GenerateRefreshToken() should generate unique tokens")
	}
	// hex encoded 32 bytes = 64 chars
	if len(token1) != 64 {
		t.Errorf("GenerateRefreshToken() token length = %d, want 64", len(token1))
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	gdb := dbtest.New(t)
	userID := uuid.New()

	if err := SaveRefreshToken(gdb, userID, "tok", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}
	rec, err := ValidateRefreshToken(gdb, "tok")
	if err != nil || rec.UserID != userID {
		t.Fatalf("ValidateRefreshToken() = %v, %v", rec, err)
	}

	revoked, err := RevokeRefreshToken(gdb, "tok")
	if err != nil || !revoked {
		t.Fatalf("RevokeRefreshToken() = %v, %v, want true", revoked, err)
	}
	if _, err := ValidateRefreshToken(gdb, "tok"); err == nil {
		t.Error("revoked token should not validate")
	}
	if revoked, _ := RevokeRefreshToken(gdb, "tok"); revoked {
		t.Error("second revoke should report nothing revoked")
	}
}

func TestUserIDContext(t *testing.T) {
	if _, ok := UserIDFrom(context.Background()); ok {
		t.Error("empty context should be unauthenticated")
	}
	id := uuid.New()
	got, ok := UserIDFrom(WithUserID(context.Background(), id))
	if !ok || got != id {
		t.Errorf("UserIDFrom() = %v, %v", got, ok)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		url    string
		want   string
	}{
		{"header", "Bearer abc", "/graphql", "abc"},
		{"lowercase scheme", "bearer abc", "/graphql", "abc"},
		{"query param", "", "/subscriptions?token=xyz", "xyz"},
		{"header wins", "Bearer abc", "/subscriptions?token=xyz", "abc"},
		{"none", "", "/graphql", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := BearerToken(r); got != tt.want {
				t.Errorf("BearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gdb := dbtest.New(t)
	secret := "secret"
	user := models.User{Username: "alice", PasswordHash: "x"}
	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, _ := GenerateAccessToken(user.ID, secret, 15)

	r := gin.New()
	r.Use(OptionalAuth(secret, gdb))
	r.GET("/who", func(c *gin.Context) {
		id, ok := UserIDFrom(c.Request.Context())
		if !ok {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, id.String())
	})

	tests := []struct {
		name     string
		authz    string
		wantCode int
		wantBody string
	}{
		{"anonymous", "", http.StatusOK, "anonymous"},
		{"valid token", "Bearer " + token, http.StatusOK, user.ID.String()},
		{"invalid token", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/who", nil)
			if tt.authz != "" {
				req.Header.Set("Authorization", tt.authz)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}
