package domain

import "time"

// Role identifies who authored a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Storage labels for the role column of a persisted turn.
const (
	StoredRoleUser = "user"
	StoredRoleBot  = "bot"
)

// StorageLabel returns the label persisted for r.
func (r Role) StorageLabel() string {
	if r == RoleAssistant {
		return StoredRoleBot
	}
	return StoredRoleUser
}

// RoleFromStorage maps a persisted role label back to a Role.
func RoleFromStorage(label string) (Role, bool) {
	switch label {
	case StoredRoleUser:
		return RoleUser, true
	case StoredRoleBot:
		return RoleAssistant, true
	}
	return "", false
}

// Turn is a single persisted conversation message.
type Turn struct {
	UserID    string
	Role      Role
	Content   string
	CreatedAt time.Time
}
