package engine

import (
	"context"

	"ideinfo/internal/settings"
	logx "ideinfo/pkg/logx"
)

// SyncShared mirrors the project's visibility into the public setting. Only
// the owner's client writes it; errors are logged and dropped.
func (e *Engine) SyncShared(ctx context.Context) {
	if e.shared == nil {
		return
	}
	p, err := e.shared.Project(ctx, e.cfg.ProjectID)
	if err != nil {
		e.log.Debug("shared status lookup failed", logx.Err(err))
		return
	}
	if string(p.Owner.ID) != e.cfg.UserID {
		e.log.Trace("shared status ignored: not the owner", logx.String("owner", string(p.Owner.ID)))
		return
	}
	if err := e.settings.SetBool(ctx, settings.Public, p.Public()); err != nil {
		e.log.Warn("persist shared status failed", logx.Err(err))
	}
}
