package models

// User is an entry in the identity directory. Usernames are matched
// exactly and case-sensitively.
type User struct {
	ID       string `gorm:"primaryKey;size:64"`
	Username string `gorm:"size:64;not null;uniqueIndex"`
	Name     string `gorm:"size:128"`
	Email    string `gorm:"size:256"`
}
