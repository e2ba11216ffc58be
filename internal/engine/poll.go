package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ideinfo/internal/eventbus"
	"ideinfo/internal/provision"
	"ideinfo/internal/remote"
	logx "ideinfo/pkg/logx"
)

// Outcome is how one poll request ended.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeDropped      Outcome = "dropped"
	OutcomeDisconnected Outcome = "disconnected"
	OutcomeProvisioning Outcome = "provisioning"
	OutcomeFailed       Outcome = "failed"
	OutcomeParse        Outcome = "parse"
	OutcomeStopped      Outcome = "stopped"
)

// ErrStopped is returned by Poll after Stop and until the next Start.
var ErrStopped = errors.New("engine stopped")

const sharedSyncTimeout = 15 * time.Second

// StatsEvent is the Data of stats.updated events. Stats is redacted.
type StatsEvent struct {
	Stats   map[string]any `json:"stats"`
	Version *int           `json:"version"`
}

// tryLock sets the poll flag if it is clear.
func (e *Engine) tryLock() bool {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	if e.locked {
		return false
	}
	e.locked = true
	return true
}

func (e *Engine) unlock() {
	e.lockMu.Lock()
	e.locked = false
	e.lockMu.Unlock()
}

func (e *Engine) isLocked() bool {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	return e.locked
}

// Budget is the time the probe gets for one run, in seconds.
func (e *Engine) Budget() int { return e.polling.Interval() + budgetSlack }

// Poll runs the probe once. A poll requested while another is in flight
// returns OutcomeDropped and does nothing else; after Stop it returns
// ErrStopped. Disconnects return a nil error; every other failure is
// returned after it has been handled.
func (e *Engine) Poll(ctx context.Context) (Outcome, error) {
	wg, ok := e.enter()
	if !ok {
		e.metrics.polls.WithLabelValues(string(OutcomeStopped)).Inc()
		return OutcomeStopped, ErrStopped
	}
	defer wg.Done()

	if !e.tryLock() {
		e.metrics.polls.WithLabelValues(string(OutcomeDropped)).Inc()
		e.log.Trace("poll dropped: previous poll still running")
		return OutcomeDropped, nil
	}

	if e.cfg.Hosted && e.shared != nil {
		e.track(func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedSyncTimeout)
			defer cancel()
			e.SyncShared(sctx)
		})
	}

	budget := e.Budget()
	cmd := remote.Command{
		Path:    "./" + e.probe.Name,
		Dir:     e.cfg.InstallDir,
		Args:    []string{e.domain, e.Fingerprint(), strconv.Itoa(budget)},
		Timeout: time.Duration(budget) * time.Second,
	}
	start := e.now()
	res, err := e.exec.Exec(ctx, cmd)
	e.unlock()

	e.metrics.pollDuration.Observe(time.Since(start).Seconds())
	out, err := e.handle(ctx, res, err)
	e.mu.Lock()
	e.lastPoll = e.now()
	e.lastOutcome = out
	e.mu.Unlock()
	e.metrics.polls.WithLabelValues(string(out)).Inc()
	return out, err
}

func (e *Engine) handle(ctx context.Context, res remote.Result, err error) (Outcome, error) {
	if err != nil {
		switch remote.CodeOf(err) {
		case remote.CodeDisconnected:
			e.log.Debug("probe interrupted by disconnect", logx.Err(err))
			return OutcomeDisconnected, nil
		case remote.CodeNotFound, remote.CodePermissionDenied:
			e.provisioningProblem(ctx, err)
			return OutcomeProvisioning, err
		default:
			e.log.Error("probe failed", logx.Err(err))
			e.version.OnStatsUpdate(nil)
			return OutcomeFailed, err
		}
	}

	st, perr := ParseStats(res.Stdout)
	if perr != nil {
		e.log.Warn("probe output rejected; keeping previous stats", logx.Err(perr))
		return OutcomeParse, perr
	}

	e.mu.Lock()
	e.stats = st
	e.mu.Unlock()

	cur := st.Version()
	e.log.Debug("stats updated", logx.IntPtr("version", cur))
	e.version.OnStatsUpdate(cur)
	e.publish(eventbus.TopicStatsUpdated, StatsEvent{Stats: st.Redacted(), Version: cur})
	return OutcomeOK, nil
}

// provisioningProblem forgets the probe's installed revision so the next
// provisioning run rewrites it, and tells the user how to fix access.
func (e *Engine) provisioningProblem(ctx context.Context, err error) {
	if rerr := e.settings.SetInt(ctx, e.probe.RevisionKey, 0); rerr != nil {
		e.log.Warn("reset probe revision failed", logx.Err(rerr))
	}
	msg := RemediationMessage(e.cfg.InstallDir, e.probe.Path)
	e.log.Warn("probe not runnable", logx.String("code", string(remote.CodeOf(err))), logx.Err(err))
	e.surface.Error(msg)
}

// RemediationMessage names the chmod needed to make the probe runnable.
func RemediationMessage(dir, file string) string {
	return fmt.Sprintf("Could not access %s. Try chmod %o %s, chmod %o %s, then reload the page!",
		file, provision.ExecMode, dir, provision.ExecMode, file)
}

// IsParseError reports whether err is a rejected probe output.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
