// 文件: pkg/registry/auth.go
// 权限判断
//
// 每个受限操作开头调用纯函数 Allowed(权限表, 调用者, 所需权限)

package registry

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
)

// Address 调用者身份 (账户或模块地址)
type Address string

// ZeroAddress 空地址
const ZeroAddress Address = ""

// IsZero 是否为空地址
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Permission 权限
type Permission string

const (
	// PermOwner 参数设置 / 暂停
	PermOwner Permission = "OWNER"

	// PermModule 已授权模块，可以修改账本 (流动性、全局仓位)
	PermModule Permission = "MODULE"
)

// PermissionSet 地址 -> 权限列表
type PermissionSet map[Address][]Permission

var (
	ErrUnauthorized = errors.New("caller is not authorized")
	ErrZeroAddress  = errors.New("zero address")
)

// Allowed 纯函数: 调用者是否拥有指定权限
func Allowed(perms PermissionSet, caller Address, perm Permission) bool {
	if caller.IsZero() {
		return false
	}
	return lo.Contains(perms[caller], perm)
}

// Check 同 Allowed，返回错误
func Check(perms PermissionSet, caller Address, perm Permission) error {
	if !Allowed(perms, caller, perm) {
		return fmt.Errorf("%w: %s lacks %s", ErrUnauthorized, caller, perm)
	}
	return nil
}

// Grant 返回新的权限表 (不修改原表)
func (p PermissionSet) Grant(addr Address, perm Permission) PermissionSet {
	next := make(PermissionSet, len(p)+1)
	for k, v := range p {
		next[k] = v
	}
	next[addr] = lo.Uniq(append(append([]Permission{}, p[addr]...), perm))
	return next
}

// Revoke 返回新的权限表
func (p PermissionSet) Revoke(addr Address, perm Permission) PermissionSet {
	next := make(PermissionSet, len(p))
	for k, v := range p {
		next[k] = v
	}
	next[addr] = lo.Without(p[addr], perm)
	return next
}
