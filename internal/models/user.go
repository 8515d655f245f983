package models

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User represents an account created by an approved email
type User struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Email       string    `gorm:"uniqueIndex;not null" json:"email"`
	Password    string    `json:"-"` // Never return password in JSON
	DisplayName string    `json:"displayName"`
	AvatarRef   string    `json:"avatarRef,omitempty"`
	LastLogin   time.Time `json:"lastLogin,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ApprovedEmail is one entry of the signup whitelist
type ApprovedEmail struct {
	Email     string    `gorm:"primaryKey" json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName overrides the table name
func (ApprovedEmail) TableName() string {
	return "approved_emails"
}

// SignupRequest is the request structure for creating an account
type SignupRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"displayName" binding:"required"`
}

// SigninRequest is the request structure for signing in
type SigninRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// ProfileRequest updates the mutable participant attributes
type ProfileRequest struct {
	DisplayName string `json:"displayName" binding:"required"`
	AvatarRef   string `json:"avatarRef"`
}

// NormalizeEmail lowercases and trims an email for whitelist comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashPassword hashes a password for storage
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPasswordHash compares a password with a hash
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Participant converts the account into the identity used by the relay.
func (u *User) Participant() Participant {
	return Participant{
		ID:          strconv.FormatUint(uint64(u.ID), 10),
		DisplayName: u.DisplayName,
		AvatarRef:   u.AvatarRef,
	}
}
