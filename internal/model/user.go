package model

import "time"

// Role is the marketplace role of a user.
type Role string

const (
	RoleLocalShop Role = "local_shop"
	RoleCityShop  Role = "city_shop"
	RoleBuyer     Role = "buyer"
	RoleAdmin     Role = "admin"
)

// User is a row of the users table owned by the surrounding application.
type User struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string    `gorm:"size:128" json:"name"`
	Email     string    `gorm:"size:190;index" json:"email"`
	Role      Role      `gorm:"size:32" json:"role"`
	ShopName  string    `gorm:"size:128" json:"shop_name,omitempty"`
	Avatar    string    `gorm:"size:2048" json:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName pins the table name.
func (User) TableName() string {
	return "users"
}

// Summary returns the display form of the user.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		Name:     u.Name,
		ShopName: u.ShopName,
		Role:     u.Role,
		Avatar:   u.Avatar,
	}
}

// UserSummary holds the display fields attached to messages and conversations.
type UserSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	ShopName string `json:"shop_name,omitempty"`
	Role     Role   `json:"role,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}
