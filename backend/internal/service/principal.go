package service

import "strings"

// 角色常量，与上游令牌中的 role 声明一致
const (
	RoleLecturer    = "lecturer"
	RoleCoordinator = "coordinator"
	RoleManager     = "manager"
	RoleHR          = "hr"
)

// AdminRoles 可查看任意报销单文档的管理角色
var AdminRoles = []string{RoleCoordinator, RoleManager, RoleHR}

// Principal 上游已认证的调用方
type Principal struct {
	ID    string
	Email string
	Name  string
	Role  string
}

// IsAdmin 是否为管理角色
func (p Principal) IsAdmin() bool {
	for _, r := range AdminRoles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// HasRole 是否为指定角色之一
func (p Principal) HasRole(roles ...string) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// RoleLabel 意见署名中使用的角色名
func RoleLabel(role string) string {
	switch role {
	case RoleLecturer:
		return "Lecturer"
	case RoleCoordinator:
		return "Programme Coordinator"
	case RoleManager:
		return "Academic Manager"
	case RoleHR:
		return "HR"
	}
	return strings.TrimSpace(role)
}
