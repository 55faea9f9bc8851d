package models

import (
	"strings"
	"time"
)

const (
	RoleVendor   = 1
	RoleReviewer = 2
	RoleApprover = 3
	RoleAdmin    = 4
)

type User struct {
	UserID    int        `gorm:"primaryKey;column:user_id" json:"user_id"`
	UserFname string     `gorm:"column:user_fname" json:"user_fname"`
	UserLname string     `gorm:"column:user_lname" json:"user_lname"`
	Email     string     `gorm:"column:email;unique" json:"email"`
	RoleID    int        `gorm:"column:role_id;index" json:"role_id"`
	Position  *string    `gorm:"column:position" json:"position,omitempty"`
	CreateAt  *time.Time `gorm:"column:create_at" json:"create_at"`
	UpdateAt  *time.Time `gorm:"column:update_at" json:"update_at"`
	DeleteAt  *time.Time `gorm:"column:delete_at" json:"delete_at,omitempty"`
}

// TableName overrides
func (User) TableName() string {
	return "users"
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.UserFname + " " + u.UserLname)
}
