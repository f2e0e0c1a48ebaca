package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"cr-go/internal/config"
	"cr-go/internal/cr"
	"cr-go/internal/database"
	"cr-go/internal/encryption"
	"cr-go/internal/fs"
	"cr-go/internal/lock"
	"cr-go/internal/snapshot"
	"cr-go/internal/wastebin"
)

// CRApp is the application layer between the CLI and CRService. It builds
// every collaborator from config, accepts names where the service wants
// ids, records the operation audit, and tears everything down on Close.
type CRApp struct {
	cfg         *config.Config
	principal   cr.Principal
	db          *database.SQLiteDatabase
	locker      cr.Locker
	closeLocker func() error
	registry    *prometheus.Registry
	snapshots   cr.SnapshotStore
	encryptor   cr.Encryptor
	scanner     cr.TreeScanner
	clock       cr.Clock
	service     *cr.CRService
	logger      cr.Logger
	op          *Operation
	logFile     *os.File
}

// NewCRApp creates a fully wired CRApp. operation names the CLI command
// being run; the caller must call Close when done.
func NewCRApp(ctx context.Context, cfg *config.Config, operation string) (*CRApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opID := cr.UUIDGenerator{}.New()
	slogger, logFile, err := newLogger(cfg.LogDir, opID, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := (&slogAdapter{l: slogger}).With("command", operation)

	a := &CRApp{
		cfg:       cfg,
		principal: cr.Principal(cfg.Principal),
		registry:  prometheus.NewRegistry(),
		scanner:   fs.NewScanner(cfg.Import.Ignore, logger),
		clock:     cr.RealClock{},
		logger:    logger,
		op:        NewOperation(operation, ""),
		logFile:   logFile,
	}
	if err := a.open(ctx); err != nil {
		a.release()
		return nil, err
	}
	return a, nil
}

func (a *CRApp) open(ctx context.Context) error {
	db, err := database.NewDatabaseFromConfig(a.cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db
	if err := db.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}

	locker, closeLocker, err := lock.NewLockerFromConfig(ctx, a.cfg.Locks, a.logger, lock.NewMetrics(a.registry))
	if err != nil {
		return fmt.Errorf("creating locker: %w", err)
	}
	a.locker, a.closeLocker = locker, closeLocker

	if a.snapshots, err = snapshot.NewStoreFromConfig(ctx, a.cfg.Snapshots, a.clock); err != nil {
		return fmt.Errorf("creating snapshot store: %w", err)
	}
	if a.encryptor, err = encryption.NewEncryptorFromConfig(a.cfg.Encryption); err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}

	a.service = cr.NewCRService(db, db, locker, a.logger, a.clock,
		cr.WithLockTimeout(a.cfg.Locks.LockTimeout()),
		cr.WithImportConcurrency(a.cfg.Import.Concurrency),
	)
	return nil
}

// release closes whatever open managed to create.
func (a *CRApp) release() error {
	var errs []error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	if a.closeLocker != nil {
		if err := a.closeLocker(); err != nil {
			errs = append(errs, fmt.Errorf("closing locker: %w", err))
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// Service exposes the wired service for callers that need an operation the
// app does not wrap.
func (a *CRApp) Service() *cr.CRService {
	return a.service
}

// persistOperation saves the operation to the audit log. Only mutating
// commands call it.
func (a *CRApp) persistOperation(ctx context.Context, params string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = params
	dbOp, err := a.db.CreateOperation(ctx, a.op.Operation, params)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// mutate persists the operation, runs fn and records its outcome.
func (a *CRApp) mutate(ctx context.Context, params string, fn func() error) error {
	if err := a.persistOperation(ctx, params); err != nil {
		return err
	}
	return a.op.Fail(fn())
}

// channel maps a node name to its id; "" selects the root (channel 0).
func (a *CRApp) channel(ctx context.Context, name string) (cr.NodeID, error) {
	if name == "" {
		return 0, nil
	}
	n, err := a.service.FindNodeByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if n == nil {
		return 0, fmt.Errorf("node %q: %w", name, cr.ErrNotFound)
	}
	return n.ID, nil
}

// CreateNode creates a root node and grants the configured principal every
// action on it.
func (a *CRApp) CreateNode(ctx context.Context, name string, pubDirSegment bool) (*cr.Node, error) {
	var node *cr.Node
	err := a.mutate(ctx, name, func() error {
		n, err := a.service.CreateNode(ctx, name, pubDirSegment)
		if err != nil {
			return err
		}
		node = n
		return a.db.GrantAll(ctx, a.principal, n.ID)
	})
	return node, err
}

// CreateChannel attaches a channel below the node named master.
func (a *CRApp) CreateChannel(ctx context.Context, master, name string) (*cr.Node, error) {
	var node *cr.Node
	err := a.mutate(ctx, master+" "+name, func() error {
		masterID, err := a.channel(ctx, master)
		if err != nil {
			return err
		}
		if masterID == 0 {
			return fmt.Errorf("channel needs a master node")
		}
		node, err = a.service.CreateChannel(ctx, masterID, name)
		return err
	})
	return node, err
}

// ListNodes returns every node, roots followed by their channels.
func (a *CRApp) ListNodes(ctx context.Context) ([]*cr.Node, error) {
	return a.service.ListNodes(ctx)
}

// MasterChain returns the chain from the named channel up to its root.
func (a *CRApp) MasterChain(ctx context.Context, channel string) ([]*cr.Node, error) {
	id, err := a.channel(ctx, channel)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, fmt.Errorf("node name required")
	}
	return a.service.MasterChain(ctx, id)
}

// RootFolder returns the channel set id of the named node's root folder.
func (a *CRApp) RootFolder(ctx context.Context, node string) (cr.ObjectID, error) {
	n, err := a.service.FindNodeByName(ctx, node)
	if err != nil {
		return 0, err
	}
	if n == nil {
		return 0, fmt.Errorf("node %q: %w", node, cr.ErrNotFound)
	}
	return n.RootFolderID, nil
}

// Show resolves one logical object in channel under the given wastebin mode.
func (a *CRApp) Show(ctx context.Context, cs cr.ObjectID, channel string, mode wastebin.Mode) (*cr.Resolved, error) {
	ch, err := a.channel(ctx, channel)
	if err != nil {
		return nil, err
	}
	return wastebin.Do(ctx, mode, func(ctx context.Context) (*cr.Resolved, error) {
		return a.service.Resolve(ctx, cs, ch)
	})
}

// List resolves the children of a folder in channel.
func (a *CRApp) List(ctx context.Context, folder cr.ObjectID, channel string, mode wastebin.Mode) ([]*cr.Resolved, error) {
	ch, err := a.channel(ctx, channel)
	if err != nil {
		return nil, err
	}
	return wastebin.Do(ctx, mode, func(ctx context.Context) ([]*cr.Resolved, error) {
		return a.service.ListFolder(ctx, folder, ch)
	})
}

// Variants returns every stored row of a logical object.
func (a *CRApp) Variants(ctx context.Context, cs cr.ObjectID) ([]*cr.Object, error) {
	return a.service.Variants(ctx, cs)
}

// CreateObject creates a master object. channel names the request context.
func (a *CRApp) CreateObject(ctx context.Context, channel string, req cr.CreateRequest) (*cr.Object, error) {
	var obj *cr.Object
	err := a.mutate(ctx, fmt.Sprintf("%d/%s", req.FolderID, req.Name), func() error {
		ch, err := a.channel(ctx, channel)
		if err != nil {
			return err
		}
		req.ChannelID = ch
		obj, err = a.service.CreateObject(ctx, a.principal, req)
		return err
	})
	return obj, err
}

// Rename renames the object as seen from channel.
func (a *CRApp) Rename(ctx context.Context, cs cr.ObjectID, channel, name string) (*cr.Object, error) {
	var obj *cr.Object
	err := a.mutate(ctx, fmt.Sprintf("%d %s", cs, name), func() error {
		ch, err := a.channel(ctx, channel)
		if err != nil {
			return err
		}
		obj, err = a.service.Rename(ctx, a.principal, cs, ch, name)
		return err
	})
	return obj, err
}

// Localize copies the visible variant into channel.
func (a *CRApp) Localize(ctx context.Context, cs cr.ObjectID, channel string) (*cr.Object, error) {
	var obj *cr.Object
	err := a.mutate(ctx, fmt.Sprintf("%d %s", cs, channel), func() error {
		ch, err := a.channel(ctx, channel)
		if err != nil {
			return err
		}
		obj, err = a.service.Localize(ctx, a.principal, cs, ch)
		return err
	})
	return obj, err
}

// Unlocalize removes channel's localized copy.
func (a *CRApp) Unlocalize(ctx context.Context, cs cr.ObjectID, channel string) error {
	return a.mutate(ctx, fmt.Sprintf("%d %s", cs, channel), func() error {
		ch, err := a.channel(ctx, channel)
		if err != nil {
			return err
		}
		return a.service.Unlocalize(ctx, a.principal, cs, ch)
	})
}

// Delete moves an object and, for a master, everything depending on it
// into the wastebin.
func (a *CRApp) Delete(ctx context.Context, cs cr.ObjectID, channel string) (*cr.DeleteResult, error) {
	var res *cr.DeleteResult
	err := a.mutate(ctx, fmt.Sprintf("%d %s", cs, channel), func() error {
		ch, err := a.channel(ctx, channel)
		if err != nil {
			return err
		}
		res, err = a.service.Delete(ctx, a.principal, cs, ch)
		return err
	})
	return res, err
}

// Restore brings a deleted object back from the wastebin.
func (a *CRApp) Restore(ctx context.Context, cs cr.ObjectID) (*cr.Object, error) {
	var obj *cr.Object
	err := a.mutate(ctx, fmt.Sprint(cs), func() error {
		var err error
		obj, err = a.service.Restore(ctx, a.principal, cs)
		return err
	})
	return obj, err
}

// Wastebin lists the deleted objects of a node as seen from channel.
func (a *CRApp) Wastebin(ctx context.Context, node, channel string) ([]*cr.Resolved, error) {
	n, err := a.service.FindNodeByName(ctx, node)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("node %q: %w", node, cr.ErrNotFound)
	}
	ch, err := a.channel(ctx, channel)
	if err != nil {
		return nil, err
	}
	return a.service.ListWastebin(ctx, n.ID, ch)
}

// DisinheritSpec is the name-based form of cr.DisinheritRequest.
type DisinheritSpec struct {
	Default   bool
	Excluded  []string
	Included  []string
	Recursive bool
}

// SetDisinheritance replaces the exclusion settings of a logical object.
func (a *CRApp) SetDisinheritance(ctx context.Context, cs cr.ObjectID, spec DisinheritSpec) (*cr.DisinheritResult, error) {
	var res *cr.DisinheritResult
	err := a.mutate(ctx, fmt.Sprint(cs), func() error {
		req := cr.DisinheritRequest{Default: spec.Default, Recursive: spec.Recursive}
		var err error
		if req.Excluded, err = a.channels(ctx, spec.Excluded); err != nil {
			return err
		}
		if req.Included, err = a.channels(ctx, spec.Included); err != nil {
			return err
		}
		res, err = a.service.SetDisinheritance(ctx, a.principal, cs, req)
		return err
	})
	return res, err
}

func (a *CRApp) channels(ctx context.Context, names []string) ([]cr.NodeID, error) {
	var ids []cr.NodeID
	for _, name := range names {
		id, err := a.channel(ctx, name)
		if err != nil {
			return nil, err
		}
		if id == 0 {
			return nil, fmt.Errorf("empty channel name: %w", cr.ErrInvalidChannel)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Translate returns the page's translation into language, creating it when
// missing. created reports whether a new page was made.
func (a *CRApp) Translate(ctx context.Context, page cr.ObjectID, language string) (obj *cr.Object, created bool, err error) {
	err = a.mutate(ctx, fmt.Sprintf("%d %s", page, language), func() error {
		var err error
		obj, created, err = a.service.Translate(ctx, a.principal, page, language)
		return err
	})
	return obj, created, err
}

// Translations lists every page sharing contentSetID.
func (a *CRApp) Translations(ctx context.Context, contentSetID int64) ([]*cr.Object, error) {
	return a.service.ListTranslations(ctx, contentSetID)
}

// Import scans localPath and mirrors it below folder.
func (a *CRApp) Import(ctx context.Context, localPath string, folder cr.ObjectID, channel string) (*cr.ImportResult, error) {
	var res *cr.ImportResult
	err := a.mutate(ctx, fmt.Sprintf("%s -> %d", localPath, folder), func() error {
		ch, err := a.channel(ctx, channel)
		if err != nil {
			return err
		}
		entries, err := a.scanner.Scan(localPath)
		if err != nil {
			return fmt.Errorf("scanning %s: %w", localPath, err)
		}
		res, err = a.service.ImportTree(ctx, a.principal, folder, ch, entries)
		return err
	})
	return res, err
}

// Grant stores an allow or deny rule for principal on the named node.
func (a *CRApp) Grant(ctx context.Context, principal, node string, action cr.Action, allowed bool) error {
	return a.mutate(ctx, fmt.Sprintf("%s %s %s %v", principal, node, action, allowed), func() error {
		id, err := a.channel(ctx, node)
		if err != nil {
			return err
		}
		if id == 0 {
			return fmt.Errorf("node name required")
		}
		return a.db.SetPermission(ctx, cr.Principal(principal), id, action, allowed)
	})
}

// GetHistory returns the most recent operations.
func (a *CRApp) GetHistory(ctx context.Context, limit int) ([]*cr.Operation, error) {
	return a.service.GetHistory(ctx, limit)
}

// LockStat is one lock acquisition counter.
type LockStat struct {
	Backend string
	Outcome string
	Count   float64
}

// LockStats reads the acquisition counters recorded by this process.
func (a *CRApp) LockStats() ([]LockStat, error) {
	families, err := a.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering lock metrics: %w", err)
	}

	var stats []LockStat
	for _, fam := range families {
		if fam.GetName() != "cr_lock_acquisitions_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			s := LockStat{Count: m.GetCounter().GetValue()}
			for _, l := range m.GetLabel() {
				switch l.GetName() {
				case "backend":
					s.Backend = l.GetValue()
				case "outcome":
					s.Outcome = l.GetValue()
				}
			}
			stats = append(stats, s)
		}
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Backend != stats[j].Backend {
			return stats[i].Backend < stats[j].Backend
		}
		return stats[i].Outcome < stats[j].Outcome
	})
	return stats, nil
}

// Close finalizes the operation and closes all resources. Persisted
// operations are marked finished and, with auto_export, followed by a
// snapshot of the database.
func (a *CRApp) Close() error {
	var errs []error

	if a.op.Persisted() {
		ctx := context.Background()
		if err := a.db.FinishOperation(ctx, a.op.ID, a.op.Status); err != nil {
			errs = append(errs, fmt.Errorf("finishing operation: %w", err))
		}
		if a.cfg.Snapshots.AutoExport && a.op.Status == "success" {
			if _, err := a.ExportSnapshot(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := a.release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
