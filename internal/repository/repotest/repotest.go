// Package repotest holds the behavioural tests every persistence backend
// must pass.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
)

// Run executes the contract against stores returned by open. Each subtest
// gets a fresh, migrated store.
func Run(t *testing.T, open func(t *testing.T) domain.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s domain.Store)
	}{
		{"ImageCreateAndLookup", testImageCreateAndLookup},
		{"ImageUniqueHash", testImageUniqueHash},
		{"ImageUniqueName", testImageUniqueName},
		{"ImageAdjustCounter", testImageAdjustCounter},
		{"ImageRename", testImageRename},
		{"ImageListAndCount", testImageListAndCount},
		{"ImageDeleteRequiresNoThumbnails", testImageDeleteRequiresNoThumbnails},
		{"ThumbnailLifecycle", testThumbnailLifecycle},
		{"ThumbnailUniqueSize", testThumbnailUniqueSize},
		{"ThumbnailRequiresImage", testThumbnailRequiresImage},
		{"TxRollback", testTxRollback},
		{"TxNested", testTxNested},
		{"TxConcurrentIncrements", testTxConcurrentIncrements},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

func strp(s string) *string { return &s }

// NewImage returns an unsaved image with a random id and the given hash.
func NewImage(hash string) *domain.Image {
	return &domain.Image{
		ID:               uuid.NewString(),
		OriginalFilename: "cat.png",
		FileType:         "png",
		Hash:             hash,
		Size:             1234,
		DuplicateCounter: 1,
	}
}

func mustCreateImage(t *testing.T, s domain.Store, hash string) *domain.Image {
	t.Helper()
	img := NewImage(hash)
	if err := s.Images().Create(context.Background(), img); err != nil {
		t.Fatalf("create image: %v", err)
	}
	return img
}

func mustCreateThumbnail(t *testing.T, s domain.Store, imageID string, w, h int) *domain.Thumbnail {
	t.Helper()
	th := &domain.Thumbnail{ID: uuid.NewString(), ImageID: imageID, Width: w, Height: h, FileType: "png", Size: 10}
	if err := s.Thumbnails().Create(context.Background(), th); err != nil {
		t.Fatalf("create thumbnail %dx%d: %v", w, h, err)
	}
	return th
}

func testImageCreateAndLookup(t *testing.T, s domain.Store) {
	ctx := context.Background()
	img := NewImage("sha256:aa")
	img.Name = strp("kitty")
	if err := s.Images().Create(ctx, img); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if img.CreatedAt.IsZero() || img.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}

	byID, err := s.Images().GetByID(ctx, img.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if byID.Hash != "sha256:aa" || byID.Size != 1234 || byID.DuplicateCounter != 1 || byID.FileType != "png" {
		t.Fatalf("unexpected image: %+v", byID)
	}
	if byID.Name == nil || *byID.Name != "kitty" {
		t.Fatalf("expected name kitty, got %v", byID.Name)
	}
	if !byID.CreatedAt.Equal(img.CreatedAt) {
		t.Fatalf("created_at changed: %v vs %v", byID.CreatedAt, img.CreatedAt)
	}

	byHash, err := s.Images().GetByHash(ctx, "sha256:aa")
	if err != nil || byHash.ID != img.ID {
		t.Fatalf("GetByHash = %v, %v", byHash, err)
	}
	byName, err := s.Images().GetByName(ctx, "kitty")
	if err != nil || byName.ID != img.ID {
		t.Fatalf("GetByName = %v, %v", byName, err)
	}

	if _, err := s.Images().GetByID(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Images().GetByHash(ctx, "sha256:bb"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Images().GetByName(ctx, "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testImageUniqueHash(t *testing.T, s domain.Store) {
	mustCreateImage(t, s, "h1")
	err := s.Images().Create(context.Background(), NewImage("h1"))
	if !errors.Is(err, domain.ErrDuplicateHash) || !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrDuplicateHash, got %v", err)
	}
}

func testImageUniqueName(t *testing.T, s domain.Store) {
	ctx := context.Background()
	a := NewImage("h1")
	a.Name = strp("same")
	if err := s.Images().Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	b := NewImage("h2")
	b.Name = strp("same")
	if err := s.Images().Create(ctx, b); !errors.Is(err, domain.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}

	// Unnamed images never collide.
	mustCreateImage(t, s, "h3")
	mustCreateImage(t, s, "h4")
}

func testImageAdjustCounter(t *testing.T, s domain.Store) {
	ctx := context.Background()
	img := mustCreateImage(t, s, "h1")

	got, err := s.Images().AdjustCounter(ctx, img.ID, 1)
	if err != nil {
		t.Fatalf("AdjustCounter +1: %v", err)
	}
	if got.DuplicateCounter != 2 {
		t.Fatalf("expected counter 2, got %d", got.DuplicateCounter)
	}
	if got.UpdatedAt.Before(img.UpdatedAt) {
		t.Fatal("updated_at went backwards")
	}

	got, err = s.Images().AdjustCounter(ctx, img.ID, -2)
	if err != nil {
		t.Fatalf("AdjustCounter -2: %v", err)
	}
	if got.DuplicateCounter != 0 {
		t.Fatalf("expected counter 0, got %d", got.DuplicateCounter)
	}

	if _, err := s.Images().AdjustCounter(ctx, uuid.NewString(), 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testImageRename(t *testing.T, s domain.Store) {
	ctx := context.Background()
	a := mustCreateImage(t, s, "h1")
	b := mustCreateImage(t, s, "h2")

	got, err := s.Images().Rename(ctx, a.ID, strp("first"))
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if got.Name == nil || *got.Name != "first" {
		t.Fatalf("expected name first, got %v", got.Name)
	}

	if _, err := s.Images().Rename(ctx, b.ID, strp("first")); !errors.Is(err, domain.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}

	// Renaming to the current name is allowed.
	if _, err := s.Images().Rename(ctx, a.ID, strp("first")); err != nil {
		t.Fatalf("rename to same name: %v", err)
	}

	// The old name becomes free after a rename.
	if _, err := s.Images().Rename(ctx, a.ID, strp("second")); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := s.Images().Rename(ctx, b.ID, strp("first")); err != nil {
		t.Fatalf("reuse released name: %v", err)
	}
	if _, err := s.Images().GetByName(ctx, "second"); err != nil {
		t.Fatalf("GetByName second: %v", err)
	}

	// Clearing.
	got, err = s.Images().Rename(ctx, a.ID, nil)
	if err != nil {
		t.Fatalf("clear name: %v", err)
	}
	if got.Name != nil {
		t.Fatalf("expected nil name, got %q", *got.Name)
	}
	if _, err := s.Images().GetByName(ctx, "second"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected cleared name to be free, got %v", err)
	}

	if _, err := s.Images().Rename(ctx, uuid.NewString(), strp("x")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testImageListAndCount(t *testing.T, s domain.Store) {
	ctx := context.Background()
	var ids []string
	for i := range 5 {
		ids = append(ids, mustCreateImage(t, s, fmt.Sprintf("h%d", i)).ID)
	}

	n, err := s.Images().Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 images, got %d", n)
	}

	first, err := s.Images().List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	second, err := s.Images().List(ctx, 2, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	last, err := s.Images().List(ctx, 2, 4)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(first) != 2 || len(second) != 2 || len(last) != 1 {
		t.Fatalf("unexpected page sizes %d/%d/%d", len(first), len(second), len(last))
	}

	// Pages are disjoint and in creation order.
	var got []string
	for _, page := range [][]domain.Image{first, second, last} {
		for _, img := range page {
			got = append(got, img.ID)
		}
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Fatalf("position %d: expected %s, got %s", i, ids[i], got[i])
		}
	}

	empty, err := s.Images().List(ctx, 10, 50)
	if err != nil {
		t.Fatalf("List past end: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %d", len(empty))
	}
}

func testImageDeleteRequiresNoThumbnails(t *testing.T, s domain.Store) {
	ctx := context.Background()
	img := mustCreateImage(t, s, "h1")
	img.Name = strp("n")
	if _, err := s.Images().Rename(ctx, img.ID, img.Name); err != nil {
		t.Fatalf("rename: %v", err)
	}
	mustCreateThumbnail(t, s, img.ID, 10, 10)

	if err := s.Images().Delete(ctx, img.ID); err == nil {
		t.Fatal("expected delete with thumbnails to fail")
	}

	if err := s.Thumbnails().DeleteByImage(ctx, img.ID); err != nil {
		t.Fatalf("DeleteByImage: %v", err)
	}
	if err := s.Images().Delete(ctx, img.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Images().Delete(ctx, img.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	// Hash and name are released.
	again := NewImage("h1")
	again.Name = strp("n")
	if err := s.Images().Create(ctx, again); err != nil {
		t.Fatalf("recreate with released hash and name: %v", err)
	}
}

func testThumbnailLifecycle(t *testing.T, s domain.Store) {
	ctx := context.Background()
	img := mustCreateImage(t, s, "h1")
	other := mustCreateImage(t, s, "h2")

	big := mustCreateThumbnail(t, s, img.ID, 200, 100)
	small := mustCreateThumbnail(t, s, img.ID, 20, 10)
	mustCreateThumbnail(t, s, other.ID, 20, 10)

	got, err := s.Thumbnails().GetBySize(ctx, img.ID, 20, 10)
	if err != nil {
		t.Fatalf("GetBySize: %v", err)
	}
	if got.ID != small.ID {
		t.Fatalf("expected %s, got %s", small.ID, got.ID)
	}
	if _, err := s.Thumbnails().GetBySize(ctx, img.ID, 21, 10); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	byID, err := s.Thumbnails().GetByID(ctx, big.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if byID.Width != 200 || byID.Height != 100 || byID.ImageID != img.ID {
		t.Fatalf("unexpected thumbnail: %+v", byID)
	}

	list, err := s.Thumbnails().ListByImage(ctx, img.ID)
	if err != nil {
		t.Fatalf("ListByImage: %v", err)
	}
	if len(list) != 2 || list[0].ID != small.ID || list[1].ID != big.ID {
		t.Fatalf("expected [small big], got %+v", list)
	}

	if err := s.Thumbnails().Delete(ctx, small.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Thumbnails().Delete(ctx, small.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// The size is free again.
	mustCreateThumbnail(t, s, img.ID, 20, 10)

	if err := s.Thumbnails().DeleteByImage(ctx, img.ID); err != nil {
		t.Fatalf("DeleteByImage: %v", err)
	}
	list, err = s.Thumbnails().ListByImage(ctx, img.ID)
	if err != nil {
		t.Fatalf("ListByImage: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no thumbnails, got %d", len(list))
	}

	// Other images are untouched.
	list, err = s.Thumbnails().ListByImage(ctx, other.ID)
	if err != nil {
		t.Fatalf("ListByImage other: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 thumbnail on other image, got %d", len(list))
	}
}

func testThumbnailUniqueSize(t *testing.T, s domain.Store) {
	img := mustCreateImage(t, s, "h1")
	mustCreateThumbnail(t, s, img.ID, 50, 50)

	dup := &domain.Thumbnail{ID: uuid.NewString(), ImageID: img.ID, Width: 50, Height: 50, FileType: "png"}
	err := s.Thumbnails().Create(context.Background(), dup)
	if !errors.Is(err, domain.ErrAlreadyExists) || !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func testThumbnailRequiresImage(t *testing.T, s domain.Store) {
	th := &domain.Thumbnail{ID: uuid.NewString(), ImageID: uuid.NewString(), Width: 5, Height: 5, FileType: "png"}
	if err := s.Thumbnails().Create(context.Background(), th); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testTxRollback(t *testing.T, s domain.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	var id string
	err := s.InTx(ctx, func(ctx context.Context) error {
		img := NewImage("h1")
		id = img.ID
		if err := s.Images().Create(ctx, img); err != nil {
			return err
		}
		// Visible inside the transaction.
		if _, err := s.Images().GetByID(ctx, id); err != nil {
			return fmt.Errorf("read own write: %w", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.Images().GetByID(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected rolled back image to be gone, got %v", err)
	}
	if _, err := s.Images().GetByHash(ctx, "h1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected rolled back hash to be free, got %v", err)
	}
}

func testTxNested(t *testing.T, s domain.Store) {
	ctx := context.Background()
	img := NewImage("outer")
	err := s.InTx(ctx, func(ctx context.Context) error {
		if err := s.Images().Create(ctx, img); err != nil {
			return err
		}
		return s.InTx(ctx, func(ctx context.Context) error {
			_, err := s.Images().AdjustCounter(ctx, img.ID, 1)
			return err
		})
	})
	if err != nil {
		t.Fatalf("nested tx: %v", err)
	}

	got, err := s.Images().GetByID(ctx, img.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.DuplicateCounter != 2 {
		t.Fatalf("expected counter 2 after commit, got %d", got.DuplicateCounter)
	}
}

// testTxConcurrentIncrements checks that read-modify-write sequences run in
// InTx do not lose updates. Transient failures are retried once, as the
// services do.
func testTxConcurrentIncrements(t *testing.T, s domain.Store) {
	ctx := context.Background()
	img := mustCreateImage(t, s, "h1")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			op := func() error {
				return s.InTx(ctx, func(ctx context.Context) error {
					cur, err := s.Images().GetByID(ctx, img.ID)
					if err != nil {
						return err
					}
					_, err = s.Images().AdjustCounter(ctx, cur.ID, 1)
					return err
				})
			}
			var err error
			for range 20 {
				if err = op(); !errors.Is(err, domain.ErrTransient) {
					break
				}
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	got, err := s.Images().GetByID(ctx, img.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.DuplicateCounter != 1+workers {
		t.Fatalf("expected counter %d, got %d", 1+workers, got.DuplicateCounter)
	}
}
