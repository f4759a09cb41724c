package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
	"github.com/Ablestor/expo-electron-updates-server/internal/service/blob"
)

// memDB - хранилище в памяти с транзакциями через снимки
type memDB struct {
	mu sync.Mutex

	clock     time.Time
	assets    map[uuid.UUID]domain.Asset
	manifests map[int64]*domain.Manifest
	links     map[int64][]uuid.UUID
	updaters  map[string]*domain.Updater
	nextID    int64

	assetInserts    int
	updaterWrites   int
	failManifests   error
	createRaceOnPin *domain.Updater
	// raceAssetCreate выполняется один раз перед вставкой ассетов,
	// как параллельная загрузка, успевшая раньше
	raceAssetCreate func()
}

func newMemDB() *memDB {
	return &memDB{
		clock:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		assets:    map[uuid.UUID]domain.Asset{},
		manifests: map[int64]*domain.Manifest{},
		links:     map[int64][]uuid.UUID{},
		updaters:  map[string]*domain.Updater{},
	}
}

func (db *memDB) tick() time.Time {
	db.clock = db.clock.Add(time.Minute)
	return db.clock
}

type memSnapshot struct {
	assets    map[uuid.UUID]domain.Asset
	manifests map[int64]domain.Manifest
	links     map[int64][]uuid.UUID
	updaters  map[string]domain.Updater
	nextID    int64
}

func (db *memDB) snapshot() memSnapshot {
	s := memSnapshot{
		assets:    map[uuid.UUID]domain.Asset{},
		manifests: map[int64]domain.Manifest{},
		links:     map[int64][]uuid.UUID{},
		updaters:  map[string]domain.Updater{},
		nextID:    db.nextID,
	}
	for k, v := range db.assets {
		s.assets[k] = v
	}
	for k, v := range db.manifests {
		s.manifests[k] = *v
	}
	for k, v := range db.links {
		s.links[k] = append([]uuid.UUID(nil), v...)
	}
	for k, v := range db.updaters {
		s.updaters[k] = *v
	}
	return s
}

func (db *memDB) restore(s memSnapshot) {
	db.assets = s.assets
	db.manifests = map[int64]*domain.Manifest{}
	for k, v := range s.manifests {
		m := v
		db.manifests[k] = &m
	}
	db.links = s.links
	db.updaters = map[string]*domain.Updater{}
	for k, v := range s.updaters {
		u := v
		db.updaters[k] = &u
	}
	db.nextID = s.nextID
}

type memTx struct{ db *memDB }

func (t memTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.db.mu.Lock()
	snap := t.db.snapshot()
	t.db.mu.Unlock()

	if err := fn(ctx); err != nil {
		t.db.mu.Lock()
		t.db.restore(snap)
		t.db.mu.Unlock()
		return err
	}
	return nil
}

type memAssets struct{ db *memDB }

func (r memAssets) GetByUUID(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, domain.ErrNotFound)
	}
	return &a, nil
}

func (r memAssets) FindByUUIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Asset, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.Asset
	seen := map[uuid.UUID]bool{}
	for _, id := range ids {
		if a, ok := r.db.assets[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, a)
		}
	}
	return out, nil
}

func (r memAssets) CreateMany(ctx context.Context, assets []domain.Asset) ([]uuid.UUID, error) {
	if race := r.db.raceAssetCreate; race != nil {
		r.db.raceAssetCreate = nil
		race()
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var inserted []uuid.UUID
	for _, a := range assets {
		if _, ok := r.db.assets[a.UUID]; ok {
			continue
		}
		a.CreatedAt = r.db.tick()
		r.db.assets[a.UUID] = a
		r.db.assetInserts++
		inserted = append(inserted, a.UUID)
	}
	return inserted, nil
}

type memManifests struct{ db *memDB }

func (r memManifests) live() []*domain.Manifest {
	var out []*domain.Manifest
	for _, m := range r.db.manifests {
		if m.DeletedAt == nil {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r memManifests) Exists(ctx context.Context, id uuid.UUID, releaseName string, platform domain.Platform) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, m := range r.live() {
		if m.UUID == id && m.ReleaseName == releaseName && m.Platform == platform {
			return true, nil
		}
	}
	return false, nil
}

func (r memManifests) CreateMany(ctx context.Context, manifests []*domain.Manifest) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.failManifests != nil {
		return r.db.failManifests
	}
	for _, m := range manifests {
		r.db.nextID++
		m.ID = r.db.nextID
		m.CreatedAt = r.db.tick()
		stored := *m
		r.db.manifests[m.ID] = &stored
		r.db.links[m.ID] = append([]uuid.UUID(nil), m.AssetUUIDs...)
	}
	return nil
}

func (r memManifests) GetLatest(ctx context.Context, key domain.ManifestKey) (*domain.Manifest, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, m := range r.live() {
		if m.Key() == key {
			out := *m
			return &out, nil
		}
	}
	return nil, fmt.Errorf("latest manifest: %w", domain.ErrNotFound)
}

func (r memManifests) GetByID(ctx context.Context, id int64) (*domain.Manifest, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.manifests[id]
	if !ok || m.DeletedAt != nil {
		return nil, fmt.Errorf("manifest %d: %w", id, domain.ErrNotFound)
	}
	out := *m
	return &out, nil
}

func (r memManifests) AssetUUIDs(ctx context.Context, manifestID int64) ([]uuid.UUID, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return append([]uuid.UUID(nil), r.db.links[manifestID]...), nil
}

func (r memManifests) List(ctx context.Context, filter domain.ManifestFilter) ([]domain.ManifestSummary, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var rows []domain.ManifestSummary
	for _, m := range r.live() {
		if filter.Platform != "" && m.Platform != filter.Platform {
			continue
		}
		if filter.RuntimeVersion != "" && m.RuntimeVersion != filter.RuntimeVersion {
			continue
		}
		if filter.ReleaseName != "" && m.ReleaseName != filter.ReleaseName {
			continue
		}
		rows = append(rows, domain.ManifestSummary{
			ID:             m.ID,
			RuntimeVersion: m.RuntimeVersion,
			ReleaseName:    m.ReleaseName,
			Platform:       m.Platform,
			CreatedAt:      m.CreatedAt,
		})
	}
	count := len(rows)
	start := filter.Offset()
	if start > len(rows) {
		start = len(rows)
	}
	end := start + filter.Limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end], count, nil
}

func (r memManifests) Info(ctx context.Context) (*domain.ManifestInfo, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	channels := map[string]bool{}
	runtimes := map[string]bool{}
	for _, m := range r.live() {
		channels[m.ReleaseName] = true
		runtimes[m.RuntimeVersion] = true
	}
	info := &domain.ManifestInfo{Channel: []string{}, RuntimeVersion: []string{}}
	for c := range channels {
		info.Channel = append(info.Channel, c)
	}
	for v := range runtimes {
		info.RuntimeVersion = append(info.RuntimeVersion, v)
	}
	sort.Strings(info.Channel)
	sort.Strings(info.RuntimeVersion)
	return info, nil
}

func (r memManifests) SoftDelete(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.manifests[id]
	if !ok || m.DeletedAt != nil {
		return fmt.Errorf("manifest %d: %w", id, domain.ErrNotFound)
	}
	now := r.db.tick()
	m.DeletedAt = &now
	return nil
}

type memUpdaters struct{ db *memDB }

func (r memUpdaters) GetByUpdaterID(ctx context.Context, updaterID string) (*domain.Updater, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.updaters[updaterID]
	if !ok {
		return nil, fmt.Errorf("updater %s: %w", updaterID, domain.ErrNotFound)
	}
	out := *u
	return &out, nil
}

func (r memUpdaters) CreateIfAbsent(ctx context.Context, updaterID string, manifestID int64) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	// имитация параллельного опроса, успевшего вставить строку первым
	if race := r.db.createRaceOnPin; race != nil {
		r.db.createRaceOnPin = nil
		u := *race
		r.db.updaters[updaterID] = &u
		return false, nil
	}
	if _, ok := r.db.updaters[updaterID]; ok {
		return false, nil
	}
	now := r.db.tick()
	r.db.nextID++
	r.db.updaters[updaterID] = &domain.Updater{
		ID:         r.db.nextID,
		UpdaterID:  updaterID,
		ManifestID: manifestID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return true, nil
}

func (r memUpdaters) SetManifest(ctx context.Context, updaterID string, manifestID int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.updaters[updaterID]
	if !ok {
		return fmt.Errorf("updater %s: %w", updaterID, domain.ErrNotFound)
	}
	u.ManifestID = manifestID
	u.UpdatedAt = r.db.tick()
	r.db.updaterWrites++
	return nil
}

type testEnv struct {
	db        *memDB
	fs        afero.Fs
	assets    *AssetService
	manifests *ManifestService
	updaters  *UpdaterService
}

func newTestEnv(policy domain.AssetCollisionPolicy) *testEnv {
	db := newMemDB()
	fs := afero.NewMemMapFs()
	assets := NewAssetService(memAssets{db}, blob.NewFsStore(fs), policy)
	return &testEnv{
		db:        db,
		fs:        fs,
		assets:    assets,
		manifests: NewManifestService(memTx{db}, memManifests{db}, memUpdaters{db}, assets, "https://updates.example.com"),
		updaters:  NewUpdaterService(memUpdaters{db}, memManifests{db}),
	}
}

func (e *testEnv) manifestCount() int {
	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	return len(e.db.manifests)
}

func (e *testEnv) assetCount() int {
	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	return len(e.db.assets)
}
