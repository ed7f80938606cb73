package model

// Role groups a set of Permissions. Many-to-many via role_permissions;
// a user may additionally hold ad-hoc permissions via user_roles rows.
type Role struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	IsSystemRole bool   `json:"isSystemRole"`
}

// Permission is a single grantable capability, e.g. {resource:"documents", action:"download"}.
type Permission struct {
	Name     string `json:"name"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
}
