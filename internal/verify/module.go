package verify

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tangzhangming/ilengine/internal/meta"
)

// VerifyModule 校验模块中所有 IL 方法，单个方法失败不影响其余方法
// 返回的错误由 multierr 合并，可用 multierr.Errors 拆开
func VerifyModule(mod *meta.Module, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	var errs error
	checked := 0
	for _, m := range mod.Methods() {
		if m.Impl != meta.ImplIL || m.Body == nil {
			continue
		}
		checked++
		errs = multierr.Append(errs, Verify(m, nil, opts))
	}
	log.Debug("module verified",
		zap.String("module", mod.Name),
		zap.Int("methods", checked),
		zap.Int("failed", len(multierr.Errors(errs))))
	return errs
}
