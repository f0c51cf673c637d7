package appwrite

import "fmt"

const RoleAny = "any"

// Read builds a read permission string for role, e.g. read("any").
func Read(role string) string {
	return permission("read", role)
}

// Write builds a write permission string for role.
func Write(role string) string {
	return permission("write", role)
}

func permission(action, role string) string {
	return fmt.Sprintf("%s(%q)", action, role)
}
