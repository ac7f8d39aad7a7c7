// 文件: pkg/registry/registry.go
// 模块注册表
//
// 【职责】
// 1. 模块 key -> 地址 / 实现 (查找 keeper 费模块、预言机等协作方)
// 2. 模块暂停开关
// 3. 权限表 (owner / 已授权模块)

package registry

import (
	"errors"
	"fmt"
	"sync"
)

// ModuleKey 模块标识
type ModuleKey string

const (
	KeyVault        ModuleKey = "VAULT"
	KeyStable       ModuleKey = "STABLE"
	KeyDelayedOrder ModuleKey = "DELAYED_ORDER"
	KeyLiquidation  ModuleKey = "LIQUIDATION"
	KeyKeeperFee    ModuleKey = "KEEPER_FEE"
	KeyOracle       ModuleKey = "ORACLE"
)

var (
	ErrModuleNotFound = errors.New("module not found")
	ErrModuleType     = errors.New("module has unexpected type")
	ErrPaused         = errors.New("module is paused")
)

type module struct {
	addr Address
	impl any
}

// Registry 模块注册表
type Registry struct {
	mu      sync.RWMutex
	owner   Address
	modules map[ModuleKey]module
	paused  map[ModuleKey]bool
	perms   PermissionSet
}

func NewRegistry(owner Address) *Registry {
	return &Registry{
		owner:   owner,
		modules: make(map[ModuleKey]module),
		paused:  make(map[ModuleKey]bool),
		perms:   PermissionSet{owner: {PermOwner}},
	}
}

// Owner 当前 owner
func (r *Registry) Owner() Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// Register 注册模块，地址自动获得 PermModule
func (r *Registry) Register(caller Address, key ModuleKey, addr Address, impl any) error {
	if addr.IsZero() {
		return ErrZeroAddress
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := Check(r.perms, caller, PermOwner); err != nil {
		return err
	}

	if old, ok := r.modules[key]; ok && old.addr != addr {
		r.perms = r.perms.Revoke(old.addr, PermModule)
	}
	r.modules[key] = module{addr: addr, impl: impl}
	r.perms = r.perms.Grant(addr, PermModule)
	return nil
}

// Address 模块地址
func (r *Registry) Address(key ModuleKey) (Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[key]
	if !ok {
		return ZeroAddress, fmt.Errorf("%w: %s", ErrModuleNotFound, key)
	}
	return m.addr, nil
}

// SetPaused 暂停/恢复模块
func (r *Registry) SetPaused(caller Address, key ModuleKey, paused bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := Check(r.perms, caller, PermOwner); err != nil {
		return err
	}
	r.paused[key] = paused
	return nil
}

// IsPaused 模块是否暂停
func (r *Registry) IsPaused(key ModuleKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused[key]
}

// WhenNotPaused 暂停时返回 ErrPaused
func (r *Registry) WhenNotPaused(key ModuleKey) error {
	if r.IsPaused(key) {
		return fmt.Errorf("%w: %s", ErrPaused, key)
	}
	return nil
}

// Permissions 权限表快照
func (r *Registry) Permissions() PermissionSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.perms
}

// Authorize 调用者是否拥有权限
func (r *Registry) Authorize(caller Address, perm Permission) error {
	return Check(r.Permissions(), caller, perm)
}

// Lookup 按类型取出模块实现
//
// 例: fee, err := registry.Lookup[keeperfee.Provider](reg, registry.KeyKeeperFee)
func Lookup[T any](r *Registry, key ModuleKey) (T, error) {
	var zero T

	r.mu.RLock()
	m, ok := r.modules[key]
	r.mu.RUnlock()

	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrModuleNotFound, key)
	}
	impl, ok := m.impl.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T", ErrModuleType, key, m.impl)
	}
	return impl, nil
}
