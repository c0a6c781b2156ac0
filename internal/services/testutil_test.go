package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cloudstorm/backend/internal/config"
	"github.com/cloudstorm/backend/internal/database"
	"github.com/cloudstorm/backend/internal/models"
	"github.com/cloudstorm/backend/pkg/utils"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const testEncryptionKey = "test-encryption-secret-32-bytes-long!!"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}
	return db
}

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string]int64
	deleted   []string
	uploadErr error
	deleteErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string]int64{}}
}

func (f *fakeBlobs) Upload(_ context.Context, objectName string, reader io.Reader, size int64, _ string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	if reader != nil {
		if _, err := io.Copy(io.Discard, reader); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectName] = size
	return nil
}

func (f *fakeBlobs) Delete(_ context.Context, objectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, objectName)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, objectName)
	return nil
}

func (f *fakeBlobs) PresignedGetURL(_ context.Context, objectName string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + objectName, nil
}

func (f *fakeBlobs) has(objectName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[objectName]
	return ok
}

type testEnv struct {
	db          *gorm.DB
	memberships *MembershipStore
	registry    *GroupRegistry
	vault       *PasscodeVault
	gate        *StateGate
	access      *AccessService
	blobs       *fakeBlobs
	groups      *GroupService
	files       *FileService
	mass        *MassDeleteService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)

	cipher, err := utils.NewCipher(testEncryptionKey)
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	vault, err := NewPasscodeVault(db, cipher)
	if err != nil {
		t.Fatalf("NewPasscodeVault() error = %v", err)
	}

	memberships := NewMembershipStore(db)
	registry := NewGroupRegistry(db, memberships)
	gate := NewStateGate(db)
	access := NewAccessService(memberships, registry, vault, gate)
	blobs := newFakeBlobs()

	return &testEnv{
		db:          db,
		memberships: memberships,
		registry:    registry,
		vault:       vault,
		gate:        gate,
		access:      access,
		blobs:       blobs,
		groups: &GroupService{
			DB:             db,
			Access:         access,
			Registry:       registry,
			Memberships:    memberships,
			Vault:          vault,
			Blobs:          blobs,
			DefaultMaxSize: models.DefaultGroupMaxSize,
		},
		files: &FileService{
			DB:          db,
			Access:      access,
			Registry:    registry,
			Memberships: memberships,
			Gate:        gate,
			Blobs:       blobs,
		},
		mass: NewMassDeleteService(db, access, blobs, nil),
	}
}

// withQueue attaches an enrichment queue whose worker is never started, so
// tests drive processJob themselves.
func (e *testEnv) withQueue(enricher Enricher) *EnrichmentQueue {
	q := &EnrichmentQueue{
		DB:       e.db,
		Gate:     e.gate,
		Enricher: enricher,
		queue:    make(chan EnrichmentTask, 16),
		config: config.EnrichmentConfig{
			QueueBufferSize: 16,
			MaxAttempts:     2,
			RetryDelays:     []time.Duration{time.Millisecond},
			StaleAfter:      time.Minute,
		},
	}
	e.files.Queue = q
	return q
}

func (e *testEnv) createUser(t *testing.T, name string, verified bool) Principal {
	t.Helper()
	user := &models.User{
		Email:      fmt.Sprintf("%s@test.com", name),
		Username:   name,
		IsVerified: verified,
	}
	if err := e.db.Create(user).Error; err != nil {
		t.Fatalf("failed creating user %s: %v", name, err)
	}
	return Principal{ID: user.ID, IsAuthenticated: true, IsVerified: verified}
}

func (e *testEnv) createGroup(t *testing.T, owner Principal, name string, private bool, passcode string) *models.Group {
	t.Helper()
	group, err := e.groups.Create(context.Background(), owner, CreateGroupInput{
		Name:      name,
		IsPrivate: private,
		Passcode:  passcode,
	})
	if err != nil {
		t.Fatalf("failed creating group %s: %v", name, err)
	}
	return group
}

func (e *testEnv) addMember(t *testing.T, group *models.Group, user Principal, m models.GroupMembership) {
	t.Helper()
	m.UserID = user.ID
	m.GroupID = group.ID
	if m.Role == "" {
		m.Role = models.GroupRoleMember
	}
	if err := e.memberships.CreateMembership(context.Background(), nil, &m); err != nil {
		t.Fatalf("failed adding member: %v", err)
	}
}

func (e *testEnv) createFile(t *testing.T, group *models.Group, name string, size int64, status models.FileStatus) *models.File {
	t.Helper()
	file := &models.File{
		Name:        name,
		GroupID:     group.ID,
		StoragePath: "uploads/" + group.ID.String() + "/" + name,
		FileType:    DetectFileType(name),
		FileSize:    size,
		Status:      status,
	}
	if err := e.db.Create(file).Error; err != nil {
		t.Fatalf("failed creating file %s: %v", name, err)
	}
	e.blobs.objects[file.StoragePath] = size
	return file
}

func fileStatus(t *testing.T, db *gorm.DB, id uuid.UUID) models.FileStatus {
	t.Helper()
	var file models.File
	if err := db.First(&file, "id = ?", id).Error; err != nil {
		t.Fatalf("failed loading file: %v", err)
	}
	return file.Status
}

func denialReason(t *testing.T, err error) Reason {
	t.Helper()
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected *DeniedError, got %v", err)
	}
	return denied.Verdict.Reason
}
