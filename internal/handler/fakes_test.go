package handler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

// store - общее in-memory хранилище для репозиториев в тестах хендлеров
type store struct {
	mu        sync.Mutex
	clock     time.Time
	nextID    int64
	assets    map[uuid.UUID]domain.Asset
	manifests map[int64]*domain.Manifest
	links     map[int64][]uuid.UUID
	updaters  map[string]*domain.Updater
	builds    []domain.Build
	releases  []domain.ElectronRelease
}

func newStore() *store {
	return &store{
		clock:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		assets:    map[uuid.UUID]domain.Asset{},
		manifests: map[int64]*domain.Manifest{},
		links:     map[int64][]uuid.UUID{},
		updaters:  map[string]*domain.Updater{},
	}
}

func (s *store) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *store) id() int64 {
	s.nextID++
	return s.nextID
}

type fakeTx struct{}

func (fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeAssets struct{ *store }

func (r fakeAssets) GetByUUID(_ context.Context, id uuid.UUID) (*domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, domain.ErrNotFound)
	}
	return &a, nil
}

func (r fakeAssets) FindByUUIDs(_ context.Context, ids []uuid.UUID) ([]domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Asset
	for _, id := range ids {
		if a, ok := r.assets[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r fakeAssets) CreateMany(_ context.Context, assets []domain.Asset) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var inserted []uuid.UUID
	for _, a := range assets {
		if _, ok := r.assets[a.UUID]; !ok {
			a.CreatedAt = r.tick()
			r.assets[a.UUID] = a
			inserted = append(inserted, a.UUID)
		}
	}
	return inserted, nil
}

type fakeManifests struct{ *store }

func (r fakeManifests) live() []*domain.Manifest {
	var out []*domain.Manifest
	for _, m := range r.manifests {
		if m.DeletedAt == nil {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (r fakeManifests) Exists(_ context.Context, id uuid.UUID, releaseName string, platform domain.Platform) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.live() {
		if m.UUID == id && m.ReleaseName == releaseName && m.Platform == platform {
			return true, nil
		}
	}
	return false, nil
}

func (r fakeManifests) CreateMany(_ context.Context, manifests []*domain.Manifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range manifests {
		m.ID = r.id()
		m.CreatedAt = r.tick()
		stored := *m
		r.manifests[m.ID] = &stored
		r.links[m.ID] = append([]uuid.UUID(nil), m.AssetUUIDs...)
	}
	return nil
}

func (r fakeManifests) GetLatest(_ context.Context, key domain.ManifestKey) (*domain.Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.live() {
		if m.Key() == key {
			out := *m
			return &out, nil
		}
	}
	return nil, fmt.Errorf("latest manifest: %w", domain.ErrNotFound)
}

func (r fakeManifests) GetByID(_ context.Context, id int64) (*domain.Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.manifests[id]
	if !ok || m.DeletedAt != nil {
		return nil, fmt.Errorf("manifest %d: %w", id, domain.ErrNotFound)
	}
	out := *m
	return &out, nil
}

func (r fakeManifests) AssetUUIDs(_ context.Context, manifestID int64) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.links[manifestID]...), nil
}

func (r fakeManifests) List(_ context.Context, filter domain.ManifestFilter) ([]domain.ManifestSummary, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rows []domain.ManifestSummary
	for _, m := range r.live() {
		if filter.Platform != "" && m.Platform != filter.Platform {
			continue
		}
		if filter.ReleaseName != "" && m.ReleaseName != filter.ReleaseName {
			continue
		}
		rows = append(rows, domain.ManifestSummary{ID: m.ID, ReleaseName: m.ReleaseName, RuntimeVersion: m.RuntimeVersion, Platform: m.Platform})
	}
	return rows, len(rows), nil
}

func (r fakeManifests) Info(context.Context) (*domain.ManifestInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := &domain.ManifestInfo{Channel: []string{}, RuntimeVersion: []string{}}
	seen := map[string]bool{}
	for _, m := range r.live() {
		if !seen["c"+m.ReleaseName] {
			seen["c"+m.ReleaseName] = true
			info.Channel = append(info.Channel, m.ReleaseName)
		}
		if !seen["r"+m.RuntimeVersion] {
			seen["r"+m.RuntimeVersion] = true
			info.RuntimeVersion = append(info.RuntimeVersion, m.RuntimeVersion)
		}
	}
	sort.Strings(info.Channel)
	sort.Strings(info.RuntimeVersion)
	return info, nil
}

func (r fakeManifests) SoftDelete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.manifests[id]
	if !ok || m.DeletedAt != nil {
		return fmt.Errorf("manifest %d: %w", id, domain.ErrNotFound)
	}
	now := r.tick()
	m.DeletedAt = &now
	return nil
}

type fakeUpdaters struct{ *store }

func (r fakeUpdaters) GetByUpdaterID(_ context.Context, updaterID string) (*domain.Updater, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.updaters[updaterID]
	if !ok {
		return nil, fmt.Errorf("updater %s: %w", updaterID, domain.ErrNotFound)
	}
	out := *u
	return &out, nil
}

func (r fakeUpdaters) CreateIfAbsent(_ context.Context, updaterID string, manifestID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.updaters[updaterID]; ok {
		return false, nil
	}
	now := r.tick()
	r.updaters[updaterID] = &domain.Updater{ID: r.id(), UpdaterID: updaterID, ManifestID: manifestID, CreatedAt: now, UpdatedAt: now}
	return true, nil
}

func (r fakeUpdaters) SetManifest(_ context.Context, updaterID string, manifestID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.updaters[updaterID]
	if !ok {
		return fmt.Errorf("updater %s: %w", updaterID, domain.ErrNotFound)
	}
	u.ManifestID = manifestID
	u.UpdatedAt = r.tick()
	return nil
}

type fakeBuilds struct{ *store }

func (r fakeBuilds) Create(_ context.Context, b *domain.Build) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.builds {
		if existing.Version == b.Version && existing.Channel == b.Channel && existing.Platform == b.Platform {
			return fmt.Errorf("build %s/%s/%s: %w", b.Version, b.Channel, b.Platform, domain.ErrConflict)
		}
	}
	b.ID = r.id()
	r.builds = append(r.builds, *b)
	return nil
}

func (r fakeBuilds) List(_ context.Context, filter domain.BuildFilter) ([]domain.Build, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Build
	for _, b := range r.builds {
		if filter.Platform != "" && b.Platform != filter.Platform {
			continue
		}
		out = append(out, b)
	}
	return out, len(out), nil
}

type fakeReleases struct{ *store }

func (r fakeReleases) FindOrCreate(_ context.Context, rel *domain.ElectronRelease) (*domain.ElectronRelease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.releases {
		if existing.GithubReleaseName == rel.GithubReleaseName && existing.Platform == rel.Platform &&
			existing.ReleaseName == rel.ReleaseName && existing.Version == rel.Version {
			out := existing
			return &out, nil
		}
	}
	rel.ID = r.id()
	rel.CreatedAt = r.tick()
	r.releases = append(r.releases, *rel)
	out := *rel
	return &out, nil
}

func (r fakeReleases) GetLatest(_ context.Context, q domain.ElectronReleaseQuery) (*domain.ElectronRelease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.releases) - 1; i >= 0; i-- {
		rel := r.releases[i]
		if rel.Platform != q.Platform {
			continue
		}
		if (q.ReleaseName == "" || rel.ReleaseName == q.ReleaseName) && (q.Version == "" || rel.Version == q.Version) {
			return &rel, nil
		}
	}
	return nil, fmt.Errorf("latest release: %w", domain.ErrNotFound)
}

func (r fakeReleases) GetByID(_ context.Context, id int64) (*domain.ElectronRelease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rel := range r.releases {
		if rel.ID == id {
			out := rel
			return &out, nil
		}
	}
	return nil, fmt.Errorf("release %d: %w", id, domain.ErrNotFound)
}

type fakeRegistry struct {
	tags map[string]bool
}

func (f fakeRegistry) Exists(_ context.Context, tag string) (bool, error) {
	return f.tags[tag], nil
}

func (f fakeRegistry) ResolveDownloadURL(_ context.Context, tag, platformHint string) (string, error) {
	if !f.tags[tag] {
		return "", fmt.Errorf("release %s: %w", tag, domain.ErrNotFound)
	}
	return "https://github.example.com/download/" + tag + "/app" + platformHint, nil
}
