package models

const (
	RoleAdmin     = "admin"
	RoleOrganizer = "organizer"
	RoleCustomer  = "customer"
)

// ActingAs is the caller capability passed into order and ticket operations.
type ActingAs struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles"`
}

func (a ActingAs) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (a ActingAs) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}
