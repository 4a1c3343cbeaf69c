package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tasksync-dev/tasksync/internal/event"
	"github.com/tasksync-dev/tasksync/internal/optimizer"
	"github.com/tasksync-dev/tasksync/internal/remote"
	"github.com/tasksync-dev/tasksync/internal/store"
	"github.com/tasksync-dev/tasksync/internal/task"
)

// fakeTracker is an in-memory remote.Client.
type fakeTracker struct {
	mu      sync.Mutex
	issues  map[int64]*remote.Issue
	nextNum int64
	clock   time.Time

	failCreate  error
	failCreateN int // fail this many more creates with a 503
	failUpdate  error
	failList    error

	listCalls   int
	createCalls int
	updateCalls int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		issues:  make(map[int64]*remote.Issue),
		nextNum: 100,
		clock:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeTracker) addIssue(title, body, state string) *remote.Issue {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextNum++
	is := &remote.Issue{
		ID: f.nextNum + 1000, Number: f.nextNum,
		Title: title, Body: body, State: state,
		CreatedAt: f.clock, UpdatedAt: f.clock,
	}
	f.issues[is.Number] = is
	return is
}

func (f *fakeTracker) ListIssues(ctx context.Context, label string, page, perPage int) ([]*remote.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.failList != nil {
		return nil, f.failList
	}
	if page > 1 {
		return nil, nil
	}
	var out []*remote.Issue
	for _, is := range f.issues {
		cp := *is
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeTracker) GetIssue(ctx context.Context, number int64) (*remote.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	is, ok := f.issues[number]
	if !ok {
		return nil, &remote.APIError{StatusCode: 404, Message: "not found"}
	}
	cp := *is
	return &cp, nil
}

func (f *fakeTracker) CreateIssue(ctx context.Context, req remote.IssueRequest) (*remote.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failCreateN > 0 {
		f.failCreateN--
		return nil, &remote.APIError{StatusCode: 503, Message: "unavailable"}
	}
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	f.nextNum++
	is := &remote.Issue{
		ID: f.nextNum + 1000, Number: f.nextNum,
		State:     "open",
		CreatedAt: f.clock, UpdatedAt: f.clock,
	}
	if req.Title != nil {
		is.Title = *req.Title
	}
	if req.Body != nil {
		is.Body = *req.Body
	}
	if req.State != nil {
		is.State = *req.State
	}
	f.issues[is.Number] = is
	cp := *is
	return &cp, nil
}

func (f *fakeTracker) UpdateIssue(ctx context.Context, number int64, req remote.IssueRequest) (*remote.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.failUpdate != nil {
		return nil, f.failUpdate
	}
	is, ok := f.issues[number]
	if !ok {
		return nil, &remote.APIError{StatusCode: 404, Message: "not found"}
	}
	if req.Title != nil {
		is.Title = *req.Title
	}
	if req.Body != nil {
		is.Body = *req.Body
	}
	if req.State != nil {
		is.State = *req.State
	}
	f.clock = f.clock.Add(time.Second)
	is.UpdatedAt = f.clock
	cp := *is
	return &cp, nil
}

func newTestSyncer(t *testing.T, tracker remote.Client, cfg Config) (*Syncer, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	if cfg.Label == "" {
		cfg.Label = "tasksync"
	}
	cfg.Logger = log.New(os.Stderr, "[test] ", 0)
	return New(st, tracker, nil, event.NewBus(16), cfg), st
}

func createLocalTask(t *testing.T, st *store.Store, content string, status task.Status) *task.Task {
	t.Helper()
	created, err := st.CreateTask(context.Background(), &task.Task{
		Content:         content,
		Status:          status,
		SessionID:       "session-1",
		ProjectPath:     "/p",
		NeedsRemoteSync: true,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return created
}

func TestFullSyncPushesDirtyTask(t *testing.T) {
	tracker := newFakeTracker()
	s, st := newTestSyncer(t, tracker, Config{})
	ctx := context.Background()

	created := createLocalTask(t, st, "Fix login bug", task.StatusInProgress)

	res, err := s.FullSync(ctx)
	if err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	if res.Errors != 0 || res.Processed == 0 {
		t.Fatalf("result = %+v", res)
	}
	if tracker.createCalls != 1 {
		t.Fatalf("create calls = %d, want 1", tracker.createCalls)
	}

	got, err := st.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.RemoteID == nil {
		t.Fatal("pushed task must be linked to its issue")
	}
	if got.NeedsRemoteSync {
		t.Error("pushed task must not stay dirty")
	}
	if got.LastSyncHash == "" {
		t.Error("push must record the sync point hash")
	}
	is := tracker.issues[*got.RemoteID]
	if is.Title != "Fix login bug" || is.State != task.StateOpen {
		t.Errorf("issue = %+v", is)
	}
}

func TestRoundTripIsStable(t *testing.T) {
	tracker := newFakeTracker()
	s, st := newTestSyncer(t, tracker, Config{})
	ctx := context.Background()

	created := createLocalTask(t, st, "Stable task", task.StatusPending)

	if _, err := s.FullSync(ctx); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	after1, _ := st.GetTask(ctx, created.ID)

	// Nothing changed on either side; a second pass must not write.
	if _, err := s.FullSync(ctx); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	after2, _ := st.GetTask(ctx, created.ID)

	if tracker.createCalls != 1 || tracker.updateCalls != 0 {
		t.Errorf("remote writes = %d create, %d update; want exactly one create",
			tracker.createCalls, tracker.updateCalls)
	}
	if after2.LastSyncHash != after1.LastSyncHash {
		t.Error("sync point hash must be stable across no-op passes")
	}
	if after2.SyncVersion != after1.SyncVersion {
		t.Error("no-op pass must not rewrite the task")
	}
}

func TestFullSyncAdoptsRemoteIssue(t *testing.T) {
	tracker := newFakeTracker()
	is := tracker.addIssue("Remote-born task", "from the tracker", "open")
	s, st := newTestSyncer(t, tracker, Config{})
	ctx := context.Background()

	if _, err := s.FullSync(ctx); err != nil {
		t.Fatalf("FullSync: %v", err)
	}

	got, err := st.GetTaskByRemoteID(ctx, is.Number)
	if err != nil {
		t.Fatalf("adopted task not found: %v", err)
	}
	if got.Content != "Remote-born task" || got.Status != task.StatusPending {
		t.Errorf("adopted task = %+v", got)
	}
	if got.NeedsRemoteSync || got.NeedsLocalSync {
		t.Error("freshly adopted task should be clean")
	}
}

func TestClosedIssueMapsToCompleted(t *testing.T) {
	tracker := newFakeTracker()
	is := tracker.addIssue("Done elsewhere", "", "closed")
	s, st := newTestSyncer(t, tracker, Config{})

	if _, err := s.FullSync(context.Background()); err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	got, err := st.GetTaskByRemoteID(context.Background(), is.Number)
	if err != nil {
		t.Fatalf("GetTaskByRemoteID: %v", err)
	}
	if got.Status != task.StatusCompleted {
		t.Errorf("status = %s, want completed for a closed issue", got.Status)
	}
}

func TestRemoteEditFastForwardsCleanTask(t *testing.T) {
	tracker := newFakeTracker()
	s, st := newTestSyncer(t, tracker, Config{})
	ctx := context.Background()

	created := createLocalTask(t, st, "Shared task", task.StatusPending)
	if _, err := s.FullSync(ctx); err != nil {
		t.Fatalf("initial pass: %v", err)
	}

	linked, _ := st.GetTask(ctx, created.ID)
	tracker.mu.Lock()
	is := tracker.issues[*linked.RemoteID]
	is.Title = "Shared task, clarified"
	is.UpdatedAt = is.UpdatedAt.Add(time.Minute)
	tracker.mu.Unlock()

	if _, err := s.FullSync(ctx); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	got, _ := st.GetTask(ctx, created.ID)
	if got.Content != "Shared task, clarified" {
		t.Errorf("content = %q, want the remote edit applied", got.Content)
	}
	if got.ConflictDetected {
		t.Error("clean local side must not be treated as a conflict")
	}
}

func TestBothSidesChangedResolvesAndRecordsConflict(t *testing.T) {
	tracker := newFakeTracker()
	s, st := newTestSyncer(t, tracker, Config{})
	ctx := context.Background()

	created := createLocalTask(t, st, "Contested task", task.StatusPending)
	if _, err := s.FullSync(ctx); err != nil {
		t.Fatalf("initial pass: %v", err)
	}

	// Local moves to completed, remote is edited independently.
	status := task.StatusCompleted
	on := true
	if _, err := st.UpdateTask(ctx, created.ID, store.TaskUpdate{Status: &status, NeedsRemoteSync: &on}); err != nil {
		t.Fatalf("local edit: %v", err)
	}
	linked, _ := st.GetTask(ctx, created.ID)
	tracker.mu.Lock()
	is := tracker.issues[*linked.RemoteID]
	is.Title = "Contested task, reworded"
	is.UpdatedAt = is.UpdatedAt.Add(time.Minute)
	tracker.mu.Unlock()

	if _, err := s.FullSync(ctx); err != nil {
		t.Fatalf("conflicted pass: %v", err)
	}

	got, _ := st.GetTask(ctx, created.ID)
	if got.Status != task.StatusCompleted {
		t.Errorf("status = %s, want completed (status priority)", got.Status)
	}
	if got.ConflictDetected {
		t.Error("auto-resolved conflict must not freeze the task")
	}

	records, err := st.ListConflicts(ctx, false)
	if err != nil {
		t.Fatalf("ListConflicts: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("conflict records = %d, want 1 audit entry", len(records))
	}
	if records[0].ResolvedBy != store.ResolvedByAuto {
		t.Errorf("resolved_by = %q, want auto", records[0].ResolvedBy)
	}
}

func TestBudgetExhaustionDefersToQueue(t *testing.T) {
	tracker := newFakeTracker()
	s, st := newTestSyncer(t, tracker, Config{HourlyBudget: 1})
	ctx := context.Background()

	createLocalTask(t, st, "Deferred task", task.StatusPending)

	// The single budget slot goes to the pull listing; the push must be
	// deferred without touching the tracker.
	res, err := s.FullSync(ctx)
	if err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	if res.Errors != 0 {
		t.Errorf("deferral must not count as an error: %+v", res)
	}
	if tracker.createCalls != 0 {
		t.Errorf("create calls = %d, want 0 under an exhausted budget", tracker.createCalls)
	}
	pending, err := st.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if pending != 1 {
		t.Errorf("pending queue entries = %d, want the deferred push", pending)
	}
}

func TestQueueDrainReplaysDeferredPush(t *testing.T) {
	tracker := newFakeTracker()
	s, st := newTestSyncer(t, tracker, Config{HourlyBudget: 1})
	ctx := context.Background()

	created := createLocalTask(t, st, "Deferred task", task.StatusPending)
	if _, err := s.FullSync(ctx); err != nil {
		t.Fatalf("exhausted pass: %v", err)
	}

	// Fresh budget on the next engine start.
	s2, _ := func() (*Syncer, *store.Store) { return New(st, tracker, nil, event.NewBus(16), Config{Label: "tasksync"}), st }()
	if _, err := s2.IncrementalSync(ctx); err != nil {
		t.Fatalf("drain pass: %v", err)
	}

	got, err := st.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.RemoteID == nil || got.NeedsRemoteSync {
		t.Errorf("drained task = %+v, want pushed and clean", got)
	}
	pending, _ := st.PendingCount(ctx)
	if pending != 0 {
		t.Errorf("pending after drain = %d, want 0", pending)
	}
}

func TestQueueReplayPushesCurrentState(t *testing.T) {
	tracker := newFakeTracker()
	tracker.failCreateN = 2
	s, st := newTestSyncer(t, tracker, Config{})
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	offset := time.Duration(0)
	clock := func() time.Time { return base.Add(offset) }
	s.SetClock(clock)
	st.SetClock(clock)

	created := createLocalTask(t, st, "v1 content", task.StatusPending)

	// The first push fails transiently and is deferred onto the queue.
	if _, err := s.IncrementalSync(ctx); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	// The task is edited again while its write waits in the queue.
	v2 := "v2 content"
	on := true
	if _, err := st.UpdateTask(ctx, created.ID, store.TaskUpdate{Content: &v2, NeedsRemoteSync: &on}); err != nil {
		t.Fatalf("edit: %v", err)
	}

	// Next pass: the direct push fails transiently too, and the drain
	// replays the first entry. The newer edit must reach the remote; the
	// older queued snapshot must not win and strand it.
	offset = 2 * time.Second
	if _, err := s.IncrementalSync(ctx); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	got, err := st.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Content != "v2 content" {
		t.Fatalf("content = %q, want the newer edit kept", got.Content)
	}
	if got.RemoteID == nil {
		t.Fatal("replay must link the task to its issue")
	}
	if is := tracker.issues[*got.RemoteID]; is.Title != "v2 content" {
		t.Errorf("remote title = %q, want the newer edit pushed", is.Title)
	}
	if got.NeedsRemoteSync {
		t.Error("converged task must not stay dirty")
	}
	if pending, _ := st.PendingCount(ctx); pending != 0 {
		t.Errorf("pending = %d, want 0 once the replay superseded the later entry", pending)
	}
	if len(tracker.issues) != 1 {
		t.Errorf("remote issues = %d, want exactly one", len(tracker.issues))
	}
}

func TestObsoleteQueueEntrySkipped(t *testing.T) {
	tracker := newFakeTracker()
	s, st := newTestSyncer(t, tracker, Config{})
	ctx := context.Background()

	created := createLocalTask(t, st, "Already pushed", task.StatusPending)
	if _, err := s.FullSync(ctx); err != nil {
		t.Fatalf("FullSync: %v", err)
	}

	// A leftover entry for a clean row has nothing valid left to write.
	if _, err := st.Enqueue(ctx, &store.QueueEntry{
		TaskID:      created.ID,
		Operation:   store.OpUpdate,
		Target:      store.TargetRemote,
		MaxRetries:  3,
		ScheduledAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	updatesBefore := tracker.updateCalls
	if _, err := s.IncrementalSync(ctx); err != nil {
		t.Fatalf("drain pass: %v", err)
	}
	if tracker.updateCalls != updatesBefore {
		t.Error("obsolete entry must not produce a remote write")
	}
	if pending, _ := st.PendingCount(ctx); pending != 0 {
		t.Errorf("pending = %d, want the obsolete entry completed", pending)
	}
}

func TestNewNormalizesOptimizerBounds(t *testing.T) {
	tracker := newFakeTracker()
	s, _ := newTestSyncer(t, tracker, Config{})

	def := optimizer.DefaultConfig()
	if s.cfg.Optimizer.BatchSize != def.BatchSize {
		t.Errorf("batch size = %d, want the %d default", s.cfg.Optimizer.BatchSize, def.BatchSize)
	}
	if s.cfg.Optimizer.ConcurrentLimit != def.ConcurrentLimit {
		t.Errorf("concurrent limit = %d, want %d", s.cfg.Optimizer.ConcurrentLimit, def.ConcurrentLimit)
	}
}

func TestDeferredPushIsNotCached(t *testing.T) {
	tracker := newFakeTracker()
	s, st := newTestSyncer(t, tracker, Config{HourlyBudget: 1})
	ctx := context.Background()

	created := createLocalTask(t, st, "Deferred task", task.StatusPending)
	if _, err := s.FullSync(ctx); err != nil {
		t.Fatalf("FullSync: %v", err)
	}

	got, err := st.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if s.Optimizer().Cache().Hit(got) {
		t.Error("a push deferred to the queue must not be cached as synced")
	}
}

func TestTransientErrorQueuesTerminalErrorSurfaces(t *testing.T) {
	tracker := newFakeTracker()
	s, st := newTestSyncer(t, tracker, Config{})
	ctx := context.Background()

	createLocalTask(t, st, "Flaky push", task.StatusPending)

	tracker.failCreate = &remote.APIError{StatusCode: 503, Message: "unavailable"}
	res, err := s.IncrementalSync(ctx)
	if err != nil {
		t.Fatalf("IncrementalSync: %v", err)
	}
	if res.Errors != 0 {
		t.Errorf("transient failure must queue, not error: %+v", res)
	}
	pending, _ := st.PendingCount(ctx)
	if pending == 0 {
		t.Error("transient failure should leave a queue entry")
	}

	createLocalTask(t, st, "Rejected push", task.StatusPending)
	tracker.failCreate = &remote.APIError{StatusCode: 422, Message: "validation failed"}
	res, err = s.IncrementalSync(ctx)
	if err != nil {
		t.Fatalf("IncrementalSync: %v", err)
	}
	if res.Errors == 0 {
		t.Error("terminal failure must surface as an item error")
	}
}

func TestConcurrentPassRejected(t *testing.T) {
	tracker := newFakeTracker()
	s, _ := newTestSyncer(t, tracker, Config{})

	gate := make(chan struct{})
	blocker := &blockingClient{Client: tracker, gate: gate, entered: make(chan struct{})}
	s.client = blocker

	done := make(chan error, 1)
	go func() {
		_, err := s.FullSync(context.Background())
		done <- err
	}()

	<-blocker.entered
	if _, err := s.IncrementalSync(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("second pass error = %v, want ErrSyncInProgress", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first pass: %v", err)
	}
}

// blockingClient parks the first ListIssues call until gate closes.
type blockingClient struct {
	remote.Client
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (b *blockingClient) ListIssues(ctx context.Context, label string, page, perPage int) ([]*remote.Issue, error) {
	b.once.Do(func() {
		close(b.entered)
		<-b.gate
	})
	return b.Client.ListIssues(ctx, label, page, perPage)
}

func TestPullPhaseFailureAbortsPass(t *testing.T) {
	tracker := newFakeTracker()
	tracker.failList = fmt.Errorf("listing exploded")
	s, st := newTestSyncer(t, tracker, Config{})
	ctx := context.Background()

	createLocalTask(t, st, "Should not push", task.StatusPending)

	if _, err := s.FullSync(ctx); err == nil {
		t.Fatal("total pull failure must abort the pass")
	}
	if tracker.createCalls != 0 {
		t.Error("push phase must not run after a pull abort")
	}
	if s.Syncing() {
		t.Error("aborted pass must release the mutual-exclusion guard")
	}
}

func TestConflictFrozenTaskIsSkipped(t *testing.T) {
	tracker := newFakeTracker()
	s, st := newTestSyncer(t, tracker, Config{})
	ctx := context.Background()

	created := createLocalTask(t, st, "Frozen task", task.StatusPending)
	on := true
	if _, err := st.UpdateTask(ctx, created.ID, store.TaskUpdate{ConflictDetected: &on}); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	if _, err := s.FullSync(ctx); err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	if tracker.createCalls != 0 {
		t.Error("frozen task must not be pushed")
	}
}
