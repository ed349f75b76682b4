package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"resonance-chat/internal/logger"
	"resonance-chat/internal/models"
	"resonance-chat/internal/repositories"
)

// UserHandler manages the minimal profile collection.
type UserHandler struct {
	users repositories.UserRepository
}

func NewUserHandler(users repositories.UserRepository) *UserHandler {
	return &UserHandler{users: users}
}

// CreateUser stores a profile unless the uid is already known.
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req struct {
		UID         string `json:"uid" binding:"required"`
		DisplayName string `json:"displayName"`
		Email       string `json:"email" binding:"omitempty,email"`
		PhotoURL    string `json:"photoURL"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile, created, err := h.users.CreateIfAbsent(c.Request.Context(), models.UserProfile{
		UID:         req.UID,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		PhotoURL:    req.PhotoURL,
	})
	if err != nil {
		logger.Errorf("create user %s: %v", req.UID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not create user"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"success": true, "user": profile})
}

func (h *UserHandler) GetUser(c *gin.Context) {
	profile, err := h.users.GetProfile(c.Request.Context(), c.Param("uid"))
	if errors.Is(err, repositories.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to load user"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *UserHandler) ListUsers(c *gin.Context) {
	profiles, err := h.users.ListProfiles(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to load users"})
		return
	}
	c.JSON(http.StatusOK, profiles)
}
