package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"apiflow/internal/artifacts"
	"apiflow/internal/config"
	flowerrors "apiflow/internal/errors"
	"apiflow/internal/gitrev"
	"apiflow/internal/logging"
	"apiflow/internal/store"

	"apiflow/internal/gensvc"
)

const accountController = `package com.shop.account;

@RestController
@RequestMapping("/accounts")
public class AccountController {

    private AccountService accountService;

    @PutMapping
    public Account update(@RequestBody Account account) {
        return accountService.update(account);
    }
}
`

const accountService = `package com.shop.account;

@Service
public class AccountService {

    private AccountRepository accountRepository;

    public Account update(Account account) {
        return accountRepository.save(account);
    }
}
`

const orderController = `package com.shop.order;

@RestController
public class OrderController {

    private OrderService orderService;

    @GetMapping("/orders")
    public List list() { return orderService.list(); }
}
`

type fakeTracker struct {
	lister   *gitrev.Tracker
	revision string
	diff     *gitrev.ChangeSet
}

func (f *fakeTracker) CurrentRevision(ctx context.Context) (string, error) {
	return f.revision, nil
}

func (f *fakeTracker) Diff(ctx context.Context, from, to string) (*gitrev.ChangeSet, error) {
	if f.diff == nil {
		return nil, flowerrors.New(flowerrors.DiffFailure, "no diff configured", nil)
	}
	return f.diff, nil
}

func (f *fakeTracker) ListSourceFiles() ([]string, error) {
	return f.lister.ListSourceFiles()
}

type fakeGenerator struct {
	calls    []string
	failKeys map[string]bool
}

func (f *fakeGenerator) Generate(ctx context.Context, meta gensvc.Metadata) (string, error) {
	key := strings.ToUpper(meta.Method) + "_" + meta.Path
	f.calls = append(f.calls, key)
	if f.failKeys[key] {
		return "", flowerrors.New(flowerrors.GenerationFailure, "simulated outage", nil)
	}
	return fmt.Sprintf("Feature: %s %s", meta.Method, meta.Path), nil
}

type testEnv struct {
	t       *testing.T
	root    string
	cfg     *config.Config
	store   *store.Store
	tracker *fakeTracker
	gen     *fakeGenerator
	engine  *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	logger := logging.Discard()

	cfg := config.DefaultConfig()
	cfg.RepoRoot = root
	cfg.Workers = 2

	st := store.New(cfg.StateDir(), logger)
	tracker := &fakeTracker{
		lister: gitrev.NewTracker(root, cfg.SourceExt, cfg.Extract.TestDirs,
			[]string{config.StateDirName, "summary"}, logger),
		revision: "rev1",
	}
	gen := &fakeGenerator{failKeys: map[string]bool{}}
	writer := artifacts.NewWriter(filepath.Join(root, cfg.Output.ArtifactsDir), cfg.Output.ArchiveDir, logger)

	eng := New(Options{
		Config:    cfg,
		Store:     st,
		Tracker:   tracker,
		Generator: gen,
		Artifacts: writer,
		Logger:    logger,
	})

	return &testEnv{t: t, root: root, cfg: cfg, store: st, tracker: tracker, gen: gen, engine: eng}
}

func (e *testEnv) write(rel, content string) {
	e.t.Helper()
	path := filepath.Join(e.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		e.t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		e.t.Fatal(err)
	}
}

func (e *testEnv) remove(rel string) {
	e.t.Helper()
	if err := os.Remove(filepath.Join(e.root, filepath.FromSlash(rel))); err != nil {
		e.t.Fatal(err)
	}
}

func (e *testEnv) run(mode Mode) *RunReport {
	e.t.Helper()
	report, err := e.engine.Run(context.Background(), mode)
	if err != nil {
		e.t.Fatalf("Run(%s): %v", mode, err)
	}
	return report
}

func TestFullScanFirstRun(t *testing.T) {
	env := newTestEnv(t)
	env.write("src/AccountController.java", accountController)
	env.write("src/AccountService.java", accountService)
	env.write("src/OrderController.java", orderController)

	report := env.run(ModeFull)

	if !report.FullScan {
		t.Error("expected full scan")
	}
	if report.Status != "success" {
		t.Errorf("Status = %q: %+v", report.Status, report)
	}

	want := []string{"GET_/orders", "PUT_/accounts"}
	if !reflect.DeepEqual(report.GeneratedArtifacts, want) {
		t.Errorf("GeneratedArtifacts = %v, want %v", report.GeneratedArtifacts, want)
	}

	index, err := env.store.LoadIndex()
	if err != nil {
		t.Fatal(err)
	}
	if len(index) != 3 {
		t.Errorf("indexed files = %d, want 3", len(index))
	}

	marker, ok, err := env.store.LoadRevision()
	if err != nil || !ok {
		t.Fatalf("revision marker missing: ok=%v err=%v", ok, err)
	}
	if marker.RevisionID != "rev1" {
		t.Errorf("RevisionID = %q", marker.RevisionID)
	}

	artifact := filepath.Join(env.root, env.cfg.Output.ArtifactsDir, "PUT_accounts.feature")
	if _, err := os.Stat(artifact); err != nil {
		t.Errorf("artifact not written: %v", err)
	}
}

func TestIncrementalWithoutBaselineFallsBackToFullScan(t *testing.T) {
	env := newTestEnv(t)
	env.write("src/AccountController.java", accountController)

	report := env.run(ModeIncremental)

	if !report.FullScan {
		t.Error("expected full scan fallback")
	}
	if len(report.GeneratedArtifacts) != 1 || report.GeneratedArtifacts[0] != "PUT_/accounts" {
		t.Errorf("GeneratedArtifacts = %v", report.GeneratedArtifacts)
	}
}

func TestNoOpWhenRevisionAlreadyApplied(t *testing.T) {
	env := newTestEnv(t)
	env.write("src/AccountController.java", accountController)
	env.run(ModeFull)

	env.gen.calls = nil
	report := env.run(ModeIncremental)

	if !report.NoOp {
		t.Errorf("expected no-op: %+v", report)
	}
	if len(env.gen.calls) != 0 {
		t.Errorf("generator called during no-op: %v", env.gen.calls)
	}
}

func TestServiceModificationRegeneratesReferencingEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.write("src/AccountController.java", accountController)
	env.write("src/AccountService.java", accountService)
	env.write("src/OrderController.java", orderController)
	env.run(ModeFull)

	env.gen.calls = nil
	env.tracker.revision = "rev2"
	env.tracker.diff = &gitrev.ChangeSet{Modified: []string{"src/AccountService.java"}}

	report := env.run(ModeIncremental)

	want := []string{"PUT_/accounts"}
	if !reflect.DeepEqual(report.AffectedEndpoints, want) {
		t.Errorf("AffectedEndpoints = %v, want %v", report.AffectedEndpoints, want)
	}
	if !reflect.DeepEqual(env.gen.calls, want) {
		t.Errorf("generator calls = %v, want %v", env.gen.calls, want)
	}
	if report.FilesModified != 1 {
		t.Errorf("FilesModified = %d", report.FilesModified)
	}

	marker, _, _ := env.store.LoadRevision()
	if marker.RevisionID != "rev2" {
		t.Errorf("RevisionID = %q, want rev2", marker.RevisionID)
	}
}

func TestDeletedControllerArchivesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.write("src/AccountController.java", accountController)
	env.write("src/OrderController.java", orderController)
	env.run(ModeFull)

	env.remove("src/OrderController.java")
	env.gen.calls = nil
	env.tracker.revision = "rev2"
	env.tracker.diff = &gitrev.ChangeSet{Deleted: []string{"src/OrderController.java"}}

	report := env.run(ModeIncremental)

	if !reflect.DeepEqual(report.ArchivedEndpoints, []string{"GET_/orders"}) {
		t.Errorf("ArchivedEndpoints = %v", report.ArchivedEndpoints)
	}
	// The endpoint is affected but gone, so it must not be regenerated.
	if len(env.gen.calls) != 0 {
		t.Errorf("generator calls = %v, want none", env.gen.calls)
	}

	live, err := os.ReadFile(filepath.Join(env.root, env.cfg.Output.ArtifactsDir, "GET_orders.feature"))
	if err != nil {
		t.Fatalf("live artifact missing: %v", err)
	}
	if !strings.HasPrefix(string(live), "# DEPRECATED") {
		t.Error("retired artifact not marked deprecated")
	}

	index, _ := env.store.LoadIndex()
	if _, ok := index["src/OrderController.java"]; ok {
		t.Error("deleted file still indexed")
	}
}

func TestParseFailureKeepsPreviousEntry(t *testing.T) {
	env := newTestEnv(t)
	env.write("src/AccountController.java", accountController)
	env.run(ModeFull)

	env.write("src/AccountController.java", "public class Broken { void oops( }")
	env.tracker.revision = "rev2"
	env.tracker.diff = &gitrev.ChangeSet{Modified: []string{"src/AccountController.java"}}

	report := env.run(ModeIncremental)

	if !reflect.DeepEqual(report.ParseFailures, []string{"src/AccountController.java"}) {
		t.Errorf("ParseFailures = %v", report.ParseFailures)
	}
	if report.Status != "warnings" {
		t.Errorf("Status = %q, want warnings", report.Status)
	}

	// The previous entry survives, so the endpoint is still indexed.
	index, _ := env.store.LoadIndex()
	entry := index["src/AccountController.java"]
	if entry == nil || len(entry.Flow.Endpoints) != 1 {
		t.Fatalf("previous entry not preserved: %+v", entry)
	}

	// The revision still advances: the failure is per-file, not per-run.
	marker, _, _ := env.store.LoadRevision()
	if marker.RevisionID != "rev2" {
		t.Errorf("RevisionID = %q, want rev2", marker.RevisionID)
	}
}

func TestUpdateOnlyRequiresBaseline(t *testing.T) {
	env := newTestEnv(t)
	env.write("src/AccountController.java", accountController)

	_, err := env.engine.Run(context.Background(), ModeUpdateOnly)
	if err == nil {
		t.Fatal("expected error without baseline revision")
	}
	if !flowerrors.HasCode(err, flowerrors.DiffFailure) {
		t.Errorf("expected DIFF_FAILURE, got %v", err)
	}

	// Nothing was committed.
	if _, ok, _ := env.store.LoadRevision(); ok {
		t.Error("revision marker written despite failed run")
	}
}

func TestGenerationFailureIsPerEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.write("src/AccountController.java", accountController)
	env.write("src/OrderController.java", orderController)
	env.gen.failKeys["GET_/orders"] = true

	report := env.run(ModeFull)

	if !reflect.DeepEqual(report.GeneratedArtifacts, []string{"PUT_/accounts"}) {
		t.Errorf("GeneratedArtifacts = %v", report.GeneratedArtifacts)
	}
	if !reflect.DeepEqual(report.GenerationFailures, []string{"GET_/orders"}) {
		t.Errorf("GenerationFailures = %v", report.GenerationFailures)
	}
	if report.Status != "warnings" {
		t.Errorf("Status = %q, want warnings", report.Status)
	}

	// The run still commits: generation failures never block indexing.
	marker, ok, _ := env.store.LoadRevision()
	if !ok || marker.RevisionID != "rev1" {
		t.Errorf("marker = %+v ok=%v", marker, ok)
	}
}

func TestFailedGenerationRetriedNextRun(t *testing.T) {
	env := newTestEnv(t)
	env.write("src/AccountController.java", accountController)
	env.write("src/OrderController.java", orderController)
	env.gen.failKeys["GET_/orders"] = true

	env.run(ModeFull)

	pending, err := env.store.LoadPending()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(pending, []string{"GET_/orders"}) {
		t.Fatalf("pending = %v, want [GET_/orders]", pending)
	}

	// The service recovers; no source changed and no revision moved.
	delete(env.gen.failKeys, "GET_/orders")
	env.gen.calls = nil

	report := env.run(ModeIncremental)

	if report.NoOp {
		t.Fatal("run with pending generation must not no-op")
	}
	if !reflect.DeepEqual(env.gen.calls, []string{"GET_/orders"}) {
		t.Errorf("generator calls = %v, want only the pending endpoint", env.gen.calls)
	}
	if !reflect.DeepEqual(report.GeneratedArtifacts, []string{"GET_/orders"}) {
		t.Errorf("GeneratedArtifacts = %v", report.GeneratedArtifacts)
	}
	if _, err := os.Stat(filepath.Join(env.root, env.cfg.Output.ArtifactsDir, "GET_orders.feature")); err != nil {
		t.Errorf("retried artifact not written: %v", err)
	}

	pending, _ = env.store.LoadPending()
	if len(pending) != 0 {
		t.Errorf("pending not cleared after success: %v", pending)
	}
}

func TestPendingEndpointDroppedWhenSourceDeleted(t *testing.T) {
	env := newTestEnv(t)
	env.write("src/AccountController.java", accountController)
	env.write("src/OrderController.java", orderController)
	env.gen.failKeys["GET_/orders"] = true
	env.run(ModeFull)

	env.remove("src/OrderController.java")
	env.gen.calls = nil
	env.tracker.revision = "rev2"
	env.tracker.diff = &gitrev.ChangeSet{Deleted: []string{"src/OrderController.java"}}

	report := env.run(ModeIncremental)

	if len(env.gen.calls) != 0 {
		t.Errorf("generator calls = %v, want none", env.gen.calls)
	}
	if !reflect.DeepEqual(report.ArchivedEndpoints, []string{"GET_/orders"}) {
		t.Errorf("ArchivedEndpoints = %v", report.ArchivedEndpoints)
	}
	pending, _ := env.store.LoadPending()
	if len(pending) != 0 {
		t.Errorf("pending should drop deleted endpoints, got %v", pending)
	}
}

func TestCancelledRunDoesNotCommit(t *testing.T) {
	env := newTestEnv(t)
	env.write("src/AccountController.java", accountController)
	env.run(ModeFull)

	env.write("src/AccountController.java", accountController+"\n// touched\n")
	env.tracker.revision = "rev2"
	env.tracker.diff = &gitrev.ChangeSet{Modified: []string{"src/AccountController.java"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.engine.Run(ctx, ModeIncremental)
	if err == nil {
		t.Fatal("cancelled run must fail, not commit")
	}

	marker, ok, loadErr := env.store.LoadRevision()
	if loadErr != nil || !ok {
		t.Fatalf("LoadRevision: ok=%v err=%v", ok, loadErr)
	}
	if marker.RevisionID != "rev1" {
		t.Errorf("RevisionID = %q, want rev1 (marker must not advance)", marker.RevisionID)
	}
}

func TestCommitFailureLeavesMarkerUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.write("src/AccountController.java", accountController)
	env.run(ModeFull)

	// A directory squatting on the temp path makes the flow document
	// save fail after the index save succeeded.
	if err := os.MkdirAll(filepath.Join(env.cfg.StateDir(), "global_flow.json.tmp"), 0755); err != nil {
		t.Fatal(err)
	}

	env.write("src/AccountController.java", accountController+"\n// touched\n")
	env.tracker.revision = "rev2"
	env.tracker.diff = &gitrev.ChangeSet{Modified: []string{"src/AccountController.java"}}

	_, err := env.engine.Run(context.Background(), ModeIncremental)
	if err == nil {
		t.Fatal("expected commit failure")
	}
	if !flowerrors.HasCode(err, flowerrors.StoreIOFailure) {
		t.Errorf("expected STORE_IO_FAILURE, got %v", err)
	}

	marker, ok, loadErr := env.store.LoadRevision()
	if loadErr != nil || !ok {
		t.Fatalf("LoadRevision: ok=%v err=%v", ok, loadErr)
	}
	if marker.RevisionID != "rev1" {
		t.Errorf("RevisionID = %q, want rev1", marker.RevisionID)
	}
}

func TestFullRescanPreservesArchivedEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.write("src/AccountController.java", accountController)
	env.write("src/OrderController.java", orderController)
	env.run(ModeFull)

	env.remove("src/OrderController.java")
	env.tracker.revision = "rev2"

	report := env.run(ModeFull)

	if !reflect.DeepEqual(report.ArchivedEndpoints, []string{"GET_/orders"}) {
		t.Fatalf("ArchivedEndpoints = %v", report.ArchivedEndpoints)
	}

	archived := filepath.Join(env.root, env.cfg.Output.ArtifactsDir, "archived", "GET_orders.feature")
	if _, err := os.Stat(archived); err != nil {
		t.Errorf("archived copy missing after full rescan: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.root, env.cfg.Output.ArtifactsDir, "GET_orders.feature")); !os.IsNotExist(err) {
		t.Error("retired live artifact should be cleared by the full rescan")
	}
	if _, err := os.Stat(filepath.Join(env.root, env.cfg.Output.ArtifactsDir, "PUT_accounts.feature")); err != nil {
		t.Errorf("surviving artifact not regenerated: %v", err)
	}
}

func TestFullScanIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.write("src/AccountController.java", accountController)
	env.write("src/AccountService.java", accountService)
	env.run(ModeFull)

	first, err := os.ReadFile(filepath.Join(env.cfg.StateDir(), "index.json"))
	if err != nil {
		t.Fatal(err)
	}

	env.run(ModeFull)
	second, err := os.ReadFile(filepath.Join(env.cfg.StateDir(), "index.json"))
	if err != nil {
		t.Fatal(err)
	}

	if string(first) != string(second) {
		t.Error("repeated full scan changed the index document")
	}
}

func TestRunWithoutGeneratorSkipsArtifacts(t *testing.T) {
	env := newTestEnv(t)
	env.write("src/AccountController.java", accountController)

	eng := New(Options{
		Config:    env.cfg,
		Store:     env.store,
		Tracker:   env.tracker,
		Generator: nil,
		Artifacts: nil,
		Logger:    logging.Discard(),
	})

	report, err := eng.Run(context.Background(), ModeFull)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.GeneratedArtifacts) != 0 {
		t.Errorf("GeneratedArtifacts = %v", report.GeneratedArtifacts)
	}

	index, _ := env.store.LoadIndex()
	if len(index) != 1 {
		t.Errorf("index should still be written, got %d entries", len(index))
	}
}
