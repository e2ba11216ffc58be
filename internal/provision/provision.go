// Package provision keeps helper scripts installed on the target, rewriting
// one only when it is missing or its persisted revision is behind.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"

	"ideinfo/internal/assets"
	"ideinfo/internal/fsys"
	"ideinfo/internal/notifier"
	"ideinfo/internal/settings"
	logx "ideinfo/pkg/logx"
)

// ExecMode is the permission every provisioned script gets.
const ExecMode os.FileMode = 0o755

// Spec declares one script to keep current.
type Spec struct {
	Name        string
	Path        string
	Content     []byte
	Revision    int
	RevisionKey settings.IntKey
}

type Stage string

const (
	StageWrite   Stage = "write"
	StageChmod   Stage = "chmod"
	StagePersist Stage = "persist"
)

// Error reports which step of the install sequence failed.
type Error struct {
	Stage  Stage
	Script string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provision %s: %s: %v", e.Script, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result outcomes passed to Observer.
const (
	ResultInstalled = "installed"
	ResultCurrent   = "current"
	ResultFailed    = "failed"
)

// Observer is told how each Ensure ended, for metrics.
type Observer func(script, result string)

type Provisioner struct {
	fs       fsys.FS
	settings *settings.Store
	surface  notifier.Surface
	log      logx.Logger
	observe  Observer
}

func New(fs fsys.FS, st *settings.Store, surface notifier.Surface, log logx.Logger) *Provisioner {
	return &Provisioner{fs: fs, settings: st, surface: surface, log: log}
}

func (p *Provisioner) SetObserver(fn Observer) { p.observe = fn }

// Ensure installs spec when the file is absent or the persisted revision is
// below spec.Revision. The sequence is write, chmod, persist revision; any
// failure stops it with the revision untouched and is reported to the error
// surface.
func (p *Provisioner) Ensure(ctx context.Context, spec Spec) error {
	log := p.log.With(logx.String("script", spec.Name))

	exists, err := p.fs.Exists(ctx, spec.Path)
	if err != nil {
		log.Debug("existence check failed; treating as absent", logx.Err(err))
		exists = false
	}
	installed := p.settings.Int(ctx, spec.RevisionKey)
	if exists && installed >= spec.Revision {
		p.note(spec.Name, ResultCurrent)
		return nil
	}

	if err := p.fs.WriteFile(ctx, spec.Path, spec.Content); err != nil {
		return p.fail(log, spec, StageWrite, err)
	}
	if err := p.fs.Chmod(ctx, spec.Path, ExecMode); err != nil {
		return p.fail(log, spec, StageChmod, err)
	}
	if err := p.settings.SetInt(ctx, spec.RevisionKey, spec.Revision); err != nil {
		return p.fail(log, spec, StagePersist, err)
	}

	log.Info("script installed",
		logx.String("path", spec.Path),
		logx.Int("revision", spec.Revision),
		logx.Int("previous", installed),
		logx.Bool("existed", exists),
	)
	p.note(spec.Name, ResultInstalled)
	return nil
}

// EnsureAll runs Ensure for every spec and joins the failures.
func (p *Provisioner) EnsureAll(ctx context.Context, specs []Spec) error {
	var errs []error
	for _, s := range specs {
		if err := p.Ensure(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reset forgets the installed revision so the next Ensure rewrites the script.
func (p *Provisioner) Reset(ctx context.Context, spec Spec) error {
	return p.settings.SetInt(ctx, spec.RevisionKey, 0)
}

func (p *Provisioner) fail(log logx.Logger, spec Spec, stage Stage, err error) error {
	perr := &Error{Stage: stage, Script: spec.Name, Err: err}
	log.Warn("script install failed", logx.String("stage", string(stage)), logx.Err(err))
	if p.surface != nil {
		p.surface.Error(fmt.Sprintf("Could not install %s (%s failed). It will be retried on the next load.", spec.Name, stage))
	}
	p.note(spec.Name, ResultFailed)
	return perr
}

func (p *Provisioner) note(script, result string) {
	if p.observe != nil {
		p.observe(script, result)
	}
}

// DefaultScripts declares the probe and update scripts under dir.
func DefaultScripts(dir string) []Spec {
	return []Spec{
		{
			Name:        assets.ProbeName,
			Path:        assets.Join(dir, assets.ProbeName),
			Content:     assets.Probe(),
			Revision:    assets.ProbeRevision,
			RevisionKey: settings.InfoRevision,
		},
		{
			Name:        assets.UpdaterName,
			Path:        assets.Join(dir, assets.UpdaterName),
			Content:     assets.Updater(),
			Revision:    assets.UpdaterRevision,
			RevisionKey: settings.UpdateRevision,
		},
	}
}
