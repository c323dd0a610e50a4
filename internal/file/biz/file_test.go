package biz

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- in-memory fakes ----

var errDuplicateKey = errors.New("duplicate key value violates unique constraint")

type fakeContentRepo struct {
	mu        sync.Mutex
	contents  map[string]*Content
	hashLocks []string
}

func newFakeContentRepo() *fakeContentRepo {
	return &fakeContentRepo{contents: make(map[string]*Content)}
}

func (r *fakeContentRepo) GetByHashForUpdate(ctx context.Context, hash string) (*Content, error) {
	return r.GetByHash(ctx, hash)
}

func (r *fakeContentRepo) GetByHash(_ context.Context, hash string) (*Content, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contents[hash]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *fakeContentRepo) AcquireHashLock(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hashLocks = append(r.hashLocks, hash)
	return nil
}

func (r *fakeContentRepo) Create(_ context.Context, content *Content) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contents[content.Hash]; ok {
		return errDuplicateKey
	}
	cp := *content
	r.contents[content.Hash] = &cp
	return nil
}

func (r *fakeContentRepo) IncrementRef(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contents[hash]
	if !ok {
		return errors.New("no row")
	}
	c.RefCount++
	return nil
}

func (r *fakeContentRepo) DecrementRef(_ context.Context, hash string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contents[hash]
	if !ok || c.RefCount <= 0 {
		return 0, nil
	}
	c.RefCount--
	return 1, nil
}

func (r *fakeContentRepo) Delete(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contents, hash)
	return nil
}

func (r *fakeContentRepo) CountBySize(_ context.Context, sizeBytes int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, c := range r.contents {
		if c.SizeBytes == sizeBytes {
			n++
		}
	}
	return n, nil
}

func (r *fakeContentRepo) Aggregates(_ context.Context) (*ContentAggregates, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agg := &ContentAggregates{}
	for _, c := range r.contents {
		agg.UniqueContents++
		agg.PhysicalSize += c.SizeBytes
		agg.LogicalSize += c.SizeBytes * c.RefCount
	}
	return agg, nil
}

func (r *fakeContentRepo) IsDuplicateKeyError(err error) bool {
	return errors.Is(err, errDuplicateKey)
}

func (r *fakeContentRepo) refCount(hash string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contents[hash]; ok {
		return c.RefCount
	}
	return 0
}

type fakeFileRepo struct {
	mu    sync.Mutex
	files map[string]*File
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{files: make(map[string]*File)}
}

func (r *fakeFileRepo) Create(_ context.Context, file *File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *file
	r.files[file.ID] = &cp
	return nil
}

func (r *fakeFileRepo) GetByID(_ context.Context, id string) (*File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *fakeFileRepo) DeleteByID(_ context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return "", ErrNotFound
	}
	delete(r.files, id)
	return f.ContentHash, nil
}

func (r *fakeFileRepo) List(_ context.Context, offset, limit int) ([]*File, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*File, 0, len(r.files))
	for _, f := range r.files {
		cp := *f
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UploadedAt.After(all[j].UploadedAt) })
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *fakeFileRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.files)), nil
}

type fakeBlobStore struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	reclaimed []string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (b *fakeBlobStore) Write(_ context.Context, path string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[path] = data
	return nil
}

func (b *fakeBlobStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[path]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBlobStore) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blobs[path]
	return ok, nil
}

func (b *fakeBlobStore) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, path)
	return nil
}

func (b *fakeBlobStore) ReclaimDirs(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reclaimed = append(b.reclaimed, path)
}

func (b *fakeBlobStore) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blobs)
}

type fakeNotifier struct {
	mu      sync.Mutex
	created []string
	deleted []string
}

func (n *fakeNotifier) FileCreated(_ context.Context, fileID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, fileID)
}

func (n *fakeNotifier) FileDeleted(_ context.Context, fileID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, fileID)
}

type nopTransactor struct{}

func (nopTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (nopTransactor) InSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	uc       *FileUseCase
	contents *fakeContentRepo
	files    *fakeFileRepo
	blob     *fakeBlobStore
	notifier *fakeNotifier
}

func newFixture(sizeLimit int64) *fixture {
	contents := newFakeContentRepo()
	files := newFakeFileRepo()
	blob := newFakeBlobStore()
	notifier := &fakeNotifier{}

	store := NewContentStore(contents, blob, nil)
	uc := NewFileUseCase(files, store, NewHashingPipeline(sizeLimit), nopTransactor{}, notifier, nil)

	return &fixture{uc: uc, contents: contents, files: files, blob: blob, notifier: notifier}
}

func (f *fixture) upload(t *testing.T, content, filename string) (*File, bool) {
	t.Helper()
	file, dup, err := f.uc.Upload(context.Background(), bytes.NewReader([]byte(content)), int64(len(content)), filename, "application/octet-stream")
	require.NoError(t, err)
	return file, dup
}

// ---- tests ----

func TestUploadDeduplicatesIdenticalContent(t *testing.T) {
	f := newFixture(0)

	first, dup1 := f.upload(t, "hello", "a.txt")
	second, dup2 := f.upload(t, "hello", "b.txt")

	assert.False(t, dup1)
	assert.True(t, dup2)
	assert.Equal(t, first.ContentHash, second.ContentHash)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, int64(2), f.contents.refCount(first.ContentHash))
	assert.Equal(t, 1, f.blob.count(), "identical content must be written exactly once")

	count, err := f.files.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestUploadNTimesRefCountN(t *testing.T) {
	f := newFixture(0)

	const n = 5
	var hash string
	for i := 0; i < n; i++ {
		file, _ := f.upload(t, "same bytes every time", fmt.Sprintf("copy-%d.bin", i))
		hash = file.ContentHash
	}

	assert.Equal(t, int64(n), f.contents.refCount(hash))
	assert.Equal(t, 1, f.blob.count())
	assert.Len(t, f.notifier.created, n)
}

func TestDeleteKeepsSharedContent(t *testing.T) {
	f := newFixture(0)

	first, _ := f.upload(t, "shared", "a.txt")
	second, _ := f.upload(t, "shared", "b.txt")

	physical, err := f.uc.Delete(context.Background(), first.ID)
	require.NoError(t, err)
	assert.False(t, physical, "bytes must survive while a reference remains")
	assert.Equal(t, int64(1), f.contents.refCount(first.ContentHash))
	assert.Equal(t, 1, f.blob.count())

	physical, err = f.uc.Delete(context.Background(), second.ID)
	require.NoError(t, err)
	assert.True(t, physical)
	assert.Equal(t, int64(0), f.contents.refCount(first.ContentHash))
	assert.Equal(t, 0, f.blob.count())
	assert.Len(t, f.notifier.deleted, 2)
}

func TestDeleteLastOfTwoDistinctContents(t *testing.T) {
	f := newFixture(0)

	a, _ := f.upload(t, "0123456789", "a.bin")          // 10 bytes
	_, _ = f.upload(t, "01234567890123456789", "b.bin") // 20 bytes

	physical, err := f.uc.Delete(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, physical)

	m, err := f.uc.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.TotalFiles)
	assert.Equal(t, int64(1), m.UniqueContents)
	assert.Equal(t, int64(0), m.StorageSaved)
	assert.Equal(t, int64(20), m.PhysicalSize)
	assert.Equal(t, 1, f.blob.count(), "only B's bytes remain")
}

func TestDeleteUnknownIDNoMutation(t *testing.T) {
	f := newFixture(0)
	f.upload(t, "keep me", "a.txt")

	_, err := f.uc.Delete(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)

	m, err := f.uc.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.TotalFiles)
	assert.Equal(t, int64(1), m.UniqueContents)
	assert.Equal(t, 1, f.blob.count())
	assert.Empty(t, f.notifier.deleted)
}

// gatedTransactor 在第 gateOn 次 InTx 调用前暂停，用于制造提交与字节
// 清理之间的窗口。
type gatedTransactor struct {
	mu      sync.Mutex
	calls   int
	gateOn  int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	if n == g.gateOn {
		close(g.entered)
		<-g.release
	}
	return fn(ctx)
}

func (g *gatedTransactor) InSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func TestDeleteKeepsBytesOfConcurrentReupload(t *testing.T) {
	f := newFixture(0)

	// 第 1 次：上传；第 2 次：删除的元数据事务；第 3 次：字节清理事务。
	gate := &gatedTransactor{gateOn: 3, entered: make(chan struct{}), release: make(chan struct{})}
	store := NewContentStore(f.contents, f.blob, nil)
	f.uc = NewFileUseCase(f.files, store, NewHashingPipeline(0), gate, f.notifier, nil)

	victim, _ := f.upload(t, "shared bytes", "a.txt")

	type deleteResult struct {
		physical bool
		err      error
	}
	done := make(chan deleteResult, 1)
	go func() {
		physical, err := f.uc.Delete(context.Background(), victim.ID)
		done <- deleteResult{physical, err}
	}()

	// 删除方已提交元数据事务（记录已不在），正停在字节清理之前。
	<-gate.entered
	assert.Equal(t, int64(0), f.contents.refCount(victim.ContentHash))

	// 同内容重新上传：走全新插入分支，提交出一条 ref_count=1 的新记录。
	survivor, dup := f.upload(t, "shared bytes", "b.txt")
	assert.False(t, dup)
	assert.Equal(t, victim.ContentHash, survivor.ContentHash)

	close(gate.release)
	res := <-done

	// 清理方复查后必须保留新记录的字节。
	require.NoError(t, res.err)
	assert.False(t, res.physical, "bytes claimed by the new record must not count as deleted")
	assert.Equal(t, int64(1), f.contents.refCount(survivor.ContentHash))
	assert.Equal(t, 1, f.blob.count())

	_, rc, err := f.uc.OpenContent(context.Background(), survivor.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "shared bytes", string(data))
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(8)

	_, _, err := f.uc.Upload(context.Background(), bytes.NewReader([]byte("x")), 1, "   ", "text/plain")
	assert.ErrorIs(t, err, ErrInvalidFilename)

	_, _, err = f.uc.Upload(context.Background(), bytes.NewReader(nil), 0, "empty.txt", "text/plain")
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, _, err = f.uc.Upload(context.Background(), bytes.NewReader([]byte("123456789")), 9, "big.txt", "text/plain")
	assert.ErrorIs(t, err, ErrSizeLimitExceeded)
}

func TestDeleteMissingContentRecordIsLoud(t *testing.T) {
	f := newFixture(0)

	// file record pointing at a hash with no content record
	orphan := &File{ID: "orphan", ContentHash: hexOfLen(64), Filename: "x"}
	require.NoError(t, f.files.Create(context.Background(), orphan))

	_, err := f.uc.Delete(context.Background(), "orphan")
	assert.True(t, IsConsistencyViolation(err), "expected consistency violation, got %v", err)
}

func TestConcurrentUploadsConverge(t *testing.T) {
	f := newFixture(0)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := f.uc.Upload(context.Background(),
				bytes.NewReader([]byte("contended content")),
				-1, fmt.Sprintf("f-%d.bin", i), "application/octet-stream")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok int64
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	require.NotZero(t, ok)

	s, err := NewHashingPipeline(0).Consume(bytes.NewReader([]byte("contended content")))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, ok, f.contents.refCount(s.Hash()),
		"refCount must equal the number of successful uploads")
	assert.Equal(t, 1, f.blob.count())
}

func TestOpenContent(t *testing.T) {
	f := newFixture(0)
	file, _ := f.upload(t, "round trip", "r.txt")

	got, rc, err := f.uc.OpenContent(context.Background(), file.ID)
	require.NoError(t, err)
	defer rc.Close()

	assert.Equal(t, file.ID, got.ID)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "round trip", string(data))

	_, _, err = f.uc.OpenContent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPagination(t *testing.T) {
	f := newFixture(0)
	for i := 0; i < 5; i++ {
		f.upload(t, fmt.Sprintf("content %d", i), fmt.Sprintf("f%d.txt", i))
	}

	page, total, err := f.uc.List(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page, 3)

	page, _, err = f.uc.List(context.Background(), 2, 3)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}
