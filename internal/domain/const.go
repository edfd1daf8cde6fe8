package domain

type Role string

const (
	RoleAdmin             Role = "admin"
	RoleWorkspacesManager Role = "workspaces_manager"
	RoleWorkspacesUser    Role = "workspaces_user"
	RoleChatbotUser       Role = "chatbot_user"
)

var Roles = []Role{RoleAdmin, RoleWorkspacesManager, RoleWorkspacesUser, RoleChatbotUser}

func ParseRole(s string) (Role, bool) {
	for _, r := range Roles {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

const (
	RequesterRoleCtxKey = "fi-requesterRole"
	RequesterIdCtxKey   = "fi-requesterId"
)

const (
	RequesterRoleHeader = "x-user-role"
	RequesterIdHeader   = "x-user-id"
)

const (
	ObjectTypeFeed = "feed"
	ObjectTypePost = "post"
)
