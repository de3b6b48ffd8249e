package dao

import (
	"context"
	"gorm.io/gorm"
	"sync"
)

type txKey struct{}

// txScope 显式传递的事务作用域，替代线程绑定的连接缓存
type txScope struct {
	db    *gorm.DB
	mu    sync.Mutex
	hooks []func()
}

func (t *txScope) addHooks(hooks ...func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, hooks...)
}

func (t *txScope) flush() {
	t.mu.Lock()
	hooks := t.hooks
	t.hooks = nil
	t.mu.Unlock()

	for _, h := range hooks {
		h()
	}
}

func scopeFromContext(ctx context.Context) (*txScope, bool) {
	scope, ok := ctx.Value(txKey{}).(*txScope)
	return scope, ok && scope != nil
}

// ContextWithTx 让调度器的写操作加入调用方已经开启的事务，
// 调用方提交成功后需要调用返回的函数触发提交后回调
func ContextWithTx(ctx context.Context, tx *gorm.DB) (context.Context, func()) {
	scope := &txScope{db: tx}
	return context.WithValue(ctx, txKey{}, scope), scope.flush
}

// TxFromContext 取出ctx中携带的事务
func TxFromContext(ctx context.Context) (*gorm.DB, bool) {
	scope, ok := scopeFromContext(ctx)
	if !ok {
		return nil, false
	}
	return scope.db, true
}

// Transaction 在事务中执行fn，嵌套调用时使用保存点。
// 通过AfterCommit注册的回调只在最外层事务提交后执行，回滚时丢弃
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if parent, ok := scopeFromContext(ctx); ok {
		child := &txScope{}
		err := parent.db.Transaction(func(tx *gorm.DB) error {
			child.db = tx
			return fn(context.WithValue(ctx, txKey{}, child))
		})
		if err != nil {
			return err
		}
		parent.addHooks(child.hooks...)
		return nil
	}

	root := &txScope{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		root.db = tx
		return fn(context.WithValue(ctx, txKey{}, root))
	})
	if err != nil {
		return err
	}

	root.flush()
	return nil
}

// InTransaction ctx是否携带事务
func (s *Store) InTransaction(ctx context.Context) bool {
	_, ok := scopeFromContext(ctx)
	return ok
}

// AfterCommit 注册事务提交后的回调，ctx中没有事务时立即执行
func (s *Store) AfterCommit(ctx context.Context, fn func()) {
	scope, ok := scopeFromContext(ctx)
	if !ok {
		fn()
		return
	}
	scope.addHooks(fn)
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	if scope, ok := scopeFromContext(ctx); ok {
		return scope.db
	}
	return s.db.WithContext(ctx)
}
