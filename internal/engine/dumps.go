package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/confsync/internal/confstore"
	"github.com/alexjbarnes/confsync/internal/dumpstore"
)

// CreateDump snapshots the handle for the pair when its in-memory state
// has diverged from the last persisted dump. It returns nil when there is
// nothing to dump; callers must not persist a no-op dump. The snapshot is
// not marked persisted until FlushDumps or flushDump succeeds in writing
// one.
func (e *Engine) CreateDump(ns confstore.Namespace, owner string) (*dumpstore.Dump, error) {
	var dump *dumpstore.Dump

	_, err := e.registry.Mutate(ns, owner, func(h *confstore.Handle) error {
		if !h.NeedsDump() {
			return nil
		}

		dump = &dumpstore.Dump{
			Namespace:   ns,
			Owner:       owner,
			Data:        h.Save(),
			CreatedAtMs: e.now().UnixMilli(),
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return dump, nil
}

// RestoreDumps rehydrates every persisted dump into the registry and
// creates fresh empty handles for any of the owner's namespaces with no
// dump yet. It must run at startup before any mutation.
func (e *Engine) RestoreDumps() error {
	dumps, err := e.dumps.All()
	if err != nil {
		return fmt.Errorf("restoring dumps: %w", err)
	}

	for _, d := range dumps {
		h, err := confstore.LoadHandle(d.Namespace, d.Owner, d.Data)
		if err != nil {
			return fmt.Errorf("restoring %s dump for %s: %w", d.Namespace, d.Owner, err)
		}

		e.registry.Register(h)

		e.logger.Info("restored config dump",
			slog.String("namespace", string(d.Namespace)),
			slog.Int64("created_at_ms", d.CreatedAtMs),
		)
	}

	for _, ns := range confstore.AllNamespaces() {
		if !e.registry.Exists(ns, e.owner) {
			e.registry.Register(confstore.NewHandle(ns, e.owner))
		}
	}

	return nil
}

// FlushDumps persists a dump for every registered handle that needs one.
// A failure on one handle is logged and does not stop the rest; the
// in-memory state stays authoritative until the next successful flush.
func (e *Engine) FlushDumps(ctx context.Context) {
	for _, ref := range e.registry.Registered() {
		e.flushDump(ctx, ref.Namespace, ref.Owner)
	}
}

// flushDump persists the handle's state and confirms it dumped, both
// under the same exclusive mutation so a concurrent edit cannot slip
// between the snapshot and the confirmation. Dump failures are logged,
// never fatal. A cancelled context skips the flush; the handle stays
// diverged for the next cycle.
func (e *Engine) flushDump(ctx context.Context, ns confstore.Namespace, owner string) {
	if err := ctx.Err(); err != nil {
		e.logger.Warn("skipping config dump flush",
			slog.String("namespace", string(ns)),
			slog.String("error", err.Error()),
		)

		return
	}

	_, err := e.registry.Mutate(ns, owner, func(h *confstore.Handle) error {
		if !h.NeedsDump() {
			return nil
		}

		err := e.dumps.Put(dumpstore.Dump{
			Namespace:   ns,
			Owner:       owner,
			Data:        h.Save(),
			CreatedAtMs: e.now().UnixMilli(),
		})
		if err != nil {
			return err
		}

		h.ConfirmDumped()

		return nil
	})
	if err != nil {
		e.logger.Error("persisting config dump failed",
			slog.String("namespace", string(ns)),
			slog.String("error", err.Error()),
		)
	}
}
