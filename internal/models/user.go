package models

import "time"

// User is the presence/profile slice of the platform's users table.
type User struct {
	ID       string     `gorm:"column:id;primaryKey" json:"id"`
	Name     string     `gorm:"column:name" json:"name"`
	Avatar   string     `gorm:"column:avatar" json:"avatar,omitempty"`
	IsOnline bool       `gorm:"column:is_online" json:"is_online"`
	LastSeen *time.Time `gorm:"column:last_seen" json:"last_seen,omitempty"`
}

func (User) TableName() string { return "users" }

// Profile is the public card sent along with incoming-call events.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}
