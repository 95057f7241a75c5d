package statistics

import (
	"context"
	"fmt"

	"github.com/erp/backoffice/internal/domain/shared"
	"github.com/erp/backoffice/internal/infrastructure/cache"
	"go.uber.org/zap"
)

// CacheAdmin exposes manual cache eviction to operators
type CacheAdmin struct {
	cache  *cache.TieredCache
	logger *zap.Logger
}

// NewCacheAdmin creates a CacheAdmin
func NewCacheAdmin(c *cache.TieredCache, logger *zap.Logger) *CacheAdmin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheAdmin{cache: c, logger: logger}
}

// parseNamespace accepts only known namespace names
func parseNamespace(name string) (cache.Namespace, error) {
	for _, ns := range cache.Namespaces() {
		if string(ns) == name {
			return ns, nil
		}
	}
	return "", shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("unknown cache namespace %q", name))
}

// EvictNamespace drops every entry of one namespace
func (a *CacheAdmin) EvictNamespace(ctx context.Context, name string) error {
	ns, err := parseNamespace(name)
	if err != nil {
		return err
	}
	if err := a.cache.Evict(ctx, ns); err != nil {
		return fmt.Errorf("evict namespace %s: %w", ns, err)
	}
	a.logger.Info("Cache namespace evicted by operator", zap.String("namespace", name))
	return nil
}

// EvictBranch drops a branch's entries from one namespace, or from every sales
// namespace when name is empty
func (a *CacheAdmin) EvictBranch(ctx context.Context, branchID int64, name string) error {
	if branchID <= 0 {
		return shared.NewDomainError("INVALID_INPUT", "branch id must be positive")
	}
	if name == "" {
		if err := a.cache.EvictBranchData(ctx, branchID); err != nil {
			return fmt.Errorf("evict branch %d: %w", branchID, err)
		}
	} else {
		ns, err := parseNamespace(name)
		if err != nil {
			return err
		}
		if err := a.cache.EvictBranch(ctx, ns, branchID); err != nil {
			return fmt.Errorf("evict branch %d from %s: %w", branchID, ns, err)
		}
	}
	a.logger.Info("Branch cache entries evicted by operator",
		zap.Int64("branch_id", branchID),
		zap.String("namespace", name),
	)
	return nil
}

// EvictAll drops every namespace. It keeps going after a failure and returns the last error.
func (a *CacheAdmin) EvictAll(ctx context.Context) error {
	var lastErr error
	for _, ns := range cache.Namespaces() {
		if err := a.cache.Evict(ctx, ns); err != nil {
			a.logger.Warn("Failed to evict namespace", zap.String("namespace", string(ns)), zap.Error(err))
			lastErr = err
		}
	}
	a.logger.Info("All cache namespaces evicted by operator")
	return lastErr
}

// Stats returns the cache counters
func (a *CacheAdmin) Stats() cache.Stats {
	return a.cache.Stats()
}
