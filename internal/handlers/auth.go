package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"steward/pkg/api/steward"
	"steward/pkg/auth"
	"steward/pkg/models"
)

// Register creates a new account. Admin accounts cannot be self-registered.
func Register(c *gin.Context) {
	var req steward.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, steward.ErrorResponse{Error: "Invalid request body"})
		return
	}

	role := req.Role
	if role == "" {
		role = models.RoleUser
	}
	if role != models.RoleUser && role != models.RoleManager {
		c.JSON(http.StatusBadRequest, steward.ErrorResponse{Error: "Invalid role"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		logger.WithError(err).Error("Failed to hash password")
		c.JSON(http.StatusInternalServerError, steward.ErrorResponse{Error: "Failed to create account"})
		return
	}

	user := models.User{
		ID:    uuid.New().String(),
		Name:  req.Name,
		Email: req.Email,
		Role:  role,
	}

	err = db.QueryRowContext(c.Request.Context(), `
		INSERT INTO users (id, name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		user.ID, user.Name, user.Email, hash, user.Role,
	).Scan(&user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			c.JSON(http.StatusConflict, steward.ErrorResponse{Error: "Email already registered"})
			return
		}
		logger.WithError(err).Error("Failed to create user")
		c.JSON(http.StatusInternalServerError, steward.ErrorResponse{Error: "Failed to create account"})
		return
	}

	logger.WithField("user_id", user.ID).Info("User registered")
	c.JSON(http.StatusCreated, steward.UserResponse{User: user})
}

// Login authenticates an account and issues a session token.
func Login(c *gin.Context) {
	var req steward.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, steward.ErrorResponse{Error: "Invalid request body"})
		return
	}

	var user models.User
	var hash string
	err := db.QueryRowContext(c.Request.Context(), `
		SELECT id, name, email, password_hash, role, created_at
		FROM users WHERE email = $1`,
		req.Email,
	).Scan(&user.ID, &user.Name, &user.Email, &hash, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusUnauthorized, steward.ErrorResponse{Error: "Invalid credentials"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load user")
		c.JSON(http.StatusInternalServerError, steward.ErrorResponse{Error: "Login failed"})
		return
	}

	if !auth.CheckPassword(req.Password, hash) {
		c.JSON(http.StatusUnauthorized, steward.ErrorResponse{Error: "Invalid credentials"})
		return
	}

	token, err := auth.GenerateJWT(user.ID, user.Email, user.Role, tokenTTL, jwtSecret)
	if err != nil {
		logger.WithError(err).Error("Failed to sign token")
		c.JSON(http.StatusInternalServerError, steward.ErrorResponse{Error: "Login failed"})
		return
	}

	c.SetCookie("access_token", token, int(tokenTTL.Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, steward.LoginResponse{Token: token, User: user})
}
