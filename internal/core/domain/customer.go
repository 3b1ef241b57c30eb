package domain

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleCustomer Role = "CUSTOMER"
)

// Customer is the already-authenticated caller of a storefront operation.
type Customer struct {
	ID    int64
	Email string
	Role  Role
}

func (c Customer) IsAdmin() bool {
	return c.Role == RoleAdmin
}
