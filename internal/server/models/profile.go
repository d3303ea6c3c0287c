package models

// Profile is the role-specific half of an account, one per user. Role tags
// the variant: for consumers Name is the person's full name, for markets it
// is the market name. Location fields are shared.
type Profile struct {
	ID       int64
	UserID   string
	Role     Role
	Name     string
	City     string
	District string
	Image    string
}
