package models

// Role is the coarse account role carried into issued credentials.
type Role string

const (
	RoleUser            Role = "USER"
	RoleAcademicManager Role = "ACADEMIC_MANAGER"
)

var roleLabels = map[Role]string{
	RoleUser:            "User",
	RoleAcademicManager: "Academic Manager",
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleLabels[r]
	return ok
}

// Display returns the human readable label, falling back to the raw value.
func (r Role) Display() string {
	if label, ok := roleLabels[r]; ok {
		return label
	}
	return string(r)
}
