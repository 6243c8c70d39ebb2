package models

type Role string

const (
	Administrator Role = "ADMINISTRATOR"
	Worker        Role = "WORKER"
	Client        Role = "CLIENT"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case Administrator, Worker, Client:
		return true
	}
	return false
}

// User is the owner of accounts and the creator of movements.
// DPI is the national identity number users are looked up by.
type User struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Username string `json:"username" db:"username"`
	DPI      string `json:"dpi" db:"dpi"`
	Role     Role   `json:"role" db:"role"`
	Active   bool   `json:"active" db:"active"`
}

// OwnerSummary is the user data joined into reports
type OwnerSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	DPI      string `json:"dpi"`
	Role     Role   `json:"role,omitempty"`
}

func (u *User) Summary() *OwnerSummary {
	return &OwnerSummary{
		ID:       u.ID,
		Name:     u.Name,
		Username: u.Username,
		DPI:      u.DPI,
		Role:     u.Role,
	}
}

// Actor is the authenticated caller of an operation
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
