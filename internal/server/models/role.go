package models

// Role is a named capability tag. Names are unique.
type Role struct {
	ID   int64
	Name string
}
