package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cloudstorm/backend/internal/database"
	"github.com/cloudstorm/backend/internal/middleware"
	"github.com/cloudstorm/backend/internal/models"
	"github.com/cloudstorm/backend/internal/services"
	"github.com/cloudstorm/backend/pkg/utils"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"
)

type memoryBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryBlobs) Upload(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectName] = data
	return nil
}

func (m *memoryBlobs) Delete(_ context.Context, objectName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectName)
	return nil
}

func (m *memoryBlobs) PresignedGetURL(_ context.Context, objectName string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + objectName, nil
}

type testEnv struct {
	app   *fiber.App
	db    *gorm.DB
	blobs *memoryBlobs
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		utils.ConfigureJWT("test-secret", 24)
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	cipher, err := utils.NewCipher("handler-test-encryption-secret")
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	vault, err := services.NewPasscodeVault(db, cipher)
	if err != nil {
		t.Fatalf("NewPasscodeVault() error = %v", err)
	}

	blobs := &memoryBlobs{objects: map[string][]byte{}}
	memberships := services.NewMembershipStore(db)
	registry := services.NewGroupRegistry(db, memberships)
	gate := services.NewStateGate(db)
	access := services.NewAccessService(memberships, registry, vault, gate)

	groups := &services.GroupService{
		DB:             db,
		Access:         access,
		Registry:       registry,
		Memberships:    memberships,
		Vault:          vault,
		Blobs:          blobs,
		DefaultMaxSize: models.DefaultGroupMaxSize,
	}
	files := &services.FileService{
		DB:          db,
		Access:      access,
		Registry:    registry,
		Memberships: memberships,
		Gate:        gate,
		Blobs:       blobs,
	}

	router := &Router{
		Auth:   middleware.NewAuthMiddleware(db),
		Groups: NewGroupsHandler(groups),
		Files:  NewFilesHandler(files, services.NewMassDeleteService(db, access, blobs, nil)),
		Access: NewAccessHandler(access),
	}

	app := fiber.New()
	app.Use(recover.New())
	router.Register(app)

	return &testEnv{app: app, db: db, blobs: blobs}
}

func createTestUser(t *testing.T, db *gorm.DB, name string, verified bool) (*models.User, string) {
	t.Helper()

	user := &models.User{
		Email:      name + "@test.com",
		Username:   name,
		IsVerified: verified,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}
	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}
	return user, token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func withPasscode(headers map[string]string, passcode string) map[string]string {
	out := map[string]string{passcodeHeader: passcode}
	for k, v := range headers {
		out[k] = v
	}
	return out
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
		requestHeaders["Content-Type"] = "application/json"
	}
	return performRequest(t, app, method, path, body, requestHeaders)
}

type formFile struct {
	name    string
	content []byte
}

func performUpload(t *testing.T, app *fiber.App, groupID, filename, content, tags string, headers map[string]string) *http.Response {
	t.Helper()

	fields := map[string]string{"groupID": groupID}
	if tags != "" {
		fields["tags"] = tags
	}
	return performMultipart(t, app, "/api/files/upload", fields, []formFile{{name: filename, content: []byte(content)}}, headers)
}

func performMultipart(t *testing.T, app *fiber.App, path string, fields map[string]string, files []formFile, headers map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		_ = writer.WriteField(key, value)
	}
	for _, file := range files {
		part, err := writer.CreateFormFile("file", file.name)
		if err != nil {
			t.Fatalf("failed creating form file: %v", err)
		}
		_, _ = part.Write(file.content)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}

	requestHeaders := map[string]string{"Content-Type": writer.FormDataContentType()}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	return performRequest(t, app, http.MethodPost, path, &buf, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("failed decoding response body %q: %v", raw, err)
	}
	return body
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertReason(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if body["reason"] != expected {
		t.Fatalf("expected denial reason %q, got %v", expected, body["reason"])
	}
}

func dataMap(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected object data, got %v", body["data"])
	}
	return data
}
