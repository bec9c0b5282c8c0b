package utils

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tnqbao/gau-music-dispatch/config"
)

func ExtractToken(c *gin.Context) string {
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token
	}
	authHeader := c.GetHeader("Authorization")
	parts := strings.Fields(authHeader)
	if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
		return parts[1]
	}
	return ""
}

func ParseToken(tokenString string, config *config.EnvConfig) (*jwt.Token, error) {
	secret := []byte(config.JWT.SecretKey)
	return jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
}

// IssueAdminToken signs an operator token carrying the admin permission.
func IssueAdminToken(subject string, config *config.EnvConfig) (string, error) {
	if config.JWT.SecretKey == "" {
		return "", errors.New("JWT secret is not configured")
	}
	claims := jwt.MapClaims{
		"sub":        subject,
		"permission": "admin",
		"iat":        time.Now().Unix(),
		"exp":        time.Now().Add(time.Duration(config.JWT.Expire) * time.Second).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(config.JWT.SecretKey))
}

func InjectClaimsToContext(c *gin.Context, claims jwt.MapClaims) error {
	subject, _ := claims["sub"].(string)
	permission, _ := claims["permission"].(string)
	if permission != "admin" {
		return errors.New("admin permission required")
	}
	c.Set("subject", subject)
	c.Set("permission", permission)
	return nil
}
