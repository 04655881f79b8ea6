package model

type User struct {
	BaseModel
	Username     string `gorm:"uniqueIndex;size:50;not null" json:"username"`
	PasswordHash string `gorm:"not null" json:"-"`
	Email        string `gorm:"size:100" json:"email"`

	// Platform-level role (sys_admin, user), not to be confused with OrganizationMember.Role.
	Role string `gorm:"default:'user'" json:"role"`

	Memberships []OrganizationMember `gorm:"foreignKey:UserID" json:"memberships"`
}
