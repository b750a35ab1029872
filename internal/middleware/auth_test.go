package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/modelmint/backend/internal/utils"
)

func authRouter() *gin.Engine {
	router := gin.New()
	router.GET("/protected", AuthRequired(), func(c *gin.Context) {
		c.JSON(200, gin.H{"user_id": GetUserID(c), "username": GetUsername(c)})
	})
	return router
}

func TestAuthRequired_MissingHeader(t *testing.T) {
	utils.SetJWTSecret("test-secret-key-for-testing")
	router := authRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, expected 401", w.Code)
	}
}

func TestAuthRequired_MalformedHeader(t *testing.T) {
	utils.SetJWTSecret("test-secret-key-for-testing")
	router := authRouter()

	for _, header := range []string{"token-without-scheme", "Basic abc123", "Bearer"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", header)
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, expected 401", header, w.Code)
		}
	}
}

func TestAuthRequired_ValidToken(t *testing.T) {
	utils.SetJWTSecret("test-secret-key-for-testing")
	router := authRouter()

	token, err := utils.GenerateToken(7, "alice", 30)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200: %s", w.Code, w.Body.String())
	}
}

func TestAuthRequired_InvalidToken(t *testing.T) {
	utils.SetJWTSecret("test-secret-key-for-testing")
	router := authRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, expected 401", w.Code)
	}
}
