// Issues a bearer token for an existing user, for local testing and service accounts
// cmd/issue-token/main.go
package main

import (
	"flag"
	"fmt"
	"time"

	"permit-workflow-api/config"
	"permit-workflow-api/middleware"
	"permit-workflow-api/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
)

func main() {
	userID := flag.Int("user", 0, "user_id to issue the token for")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		config.Log.Info("No .env file found")
	}

	settings, err := config.LoadSettings()
	if err != nil {
		config.Log.WithError(err).Fatal("Invalid configuration")
	}
	if settings.JWTSecret == "" {
		config.Log.Fatal("JWT_SECRET is required")
	}
	if *userID <= 0 {
		config.Log.Fatal("-user is required")
	}

	db, err := config.InitDB(settings)
	if err != nil {
		config.Log.WithError(err).Fatal("Failed to initialize database")
	}

	var user models.User
	if err := db.Where("user_id = ? AND delete_at IS NULL", *userID).First(&user).Error; err != nil {
		config.Log.WithError(err).WithField("user_id", *userID).Fatal("User not found")
	}

	now := time.Now()
	claims := middleware.Claims{
		UserID: user.UserID,
		Email:  user.Email,
		RoleID: user.RoleID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(user.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(settings.JWTSecret))
	if err != nil {
		config.Log.WithError(err).Fatal("Failed to sign token")
	}
	fmt.Println(token)
}
