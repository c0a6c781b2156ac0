package handlers

import (
	"archive/zip"
	"bytes"
	"net/http"
	"sort"
	"testing"

	"github.com/cloudstorm/backend/internal/models"
)

func fileNames(t *testing.T, body map[string]any) []string {
	t.Helper()
	items, ok := body["data"].([]any)
	if !ok {
		t.Fatalf("expected array data, got %v", body["data"])
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.(map[string]any)["name"].(string))
	}
	sort.Strings(names)
	return names
}

func zipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for name, content := range entries {
		part, err := writer.Create(name)
		if err != nil {
			t.Fatalf("failed creating zip entry: %v", err)
		}
		_, _ = part.Write([]byte(content))
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing zip writer: %v", err)
	}
	return buf.Bytes()
}

func TestFileBatchUploadEndpoints(t *testing.T) {
	env := setupTestEnv(t)
	_, ownerToken := createTestUser(t, env.db, "batch-owner", true)
	member, memberToken := createTestUser(t, env.db, "batch-member", true)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/groups/", map[string]any{"name": "Batch"}, authHeaders(ownerToken))
	assertStatus(t, resp, http.StatusCreated)
	groupID := dataMap(t, decodeJSONMap(t, resp))["id"].(string)

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/groups/"+groupID+"/members", map[string]any{
		"userID":  member.ID.String(),
		"canView": true,
	}, authHeaders(ownerToken))
	assertStatus(t, resp, http.StatusCreated)

	t.Run("POST /api/files/upload with several parts", func(t *testing.T) {
		resp := performMultipart(t, env.app, "/api/files/upload", map[string]string{"groupID": groupID, "tags": "batch"}, []formFile{
			{name: "one.txt", content: []byte("one")},
			{name: "two.png", content: []byte("two")},
		}, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusCreated)
		files := dataMap(t, decodeJSONMap(t, resp))["files"].([]any)
		if len(files) != 2 {
			t.Fatalf("expected 2 files, got %d", len(files))
		}

		var count int64
		env.db.Model(&models.File{}).Where("group_id = ?", groupID).Count(&count)
		if count != 2 {
			t.Fatalf("expected 2 stored rows, got %d", count)
		}
	})

	t.Run("POST /api/files/upload without a file part", func(t *testing.T) {
		resp := performMultipart(t, env.app, "/api/files/upload", map[string]string{"groupID": groupID}, nil, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("POST /api/files/upload several parts without can_add", func(t *testing.T) {
		resp := performMultipart(t, env.app, "/api/files/upload", map[string]string{"groupID": groupID}, []formFile{
			{name: "a.txt", content: []byte("a")},
			{name: "b.txt", content: []byte("b")},
		}, authHeaders(memberToken))
		assertStatus(t, resp, http.StatusForbidden)
		assertReason(t, decodeJSONMap(t, resp), "insufficient_capability")
	})

	t.Run("POST /api/files/upload batch over quota stores nothing", func(t *testing.T) {
		env.db.Model(&models.Group{}).Where("id = ?", groupID).Update("max_size", 10)
		defer env.db.Model(&models.Group{}).Where("id = ?", groupID).Update("max_size", models.DefaultGroupMaxSize)

		resp := performMultipart(t, env.app, "/api/files/upload", map[string]string{"groupID": groupID}, []formFile{
			{name: "c.txt", content: []byte("cccc")},
			{name: "d.txt", content: []byte("dddd")},
		}, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusRequestEntityTooLarge)

		var count int64
		env.db.Model(&models.File{}).Where("name IN ?", []string{"c.txt", "d.txt"}).Count(&count)
		if count != 0 {
			t.Fatalf("expected no rows from the rejected batch, got %d", count)
		}
	})

	t.Run("POST /api/files/zip-upload unpacks entries", func(t *testing.T) {
		archive := zipBytes(t, map[string]string{
			"docs/readme.txt": "read me",
			"docs/chart.png":  "png",
			"__MACOSX/._x":    "junk",
			"docs/.hidden":    "hidden",
			"docs/empty.txt":  "",
		})
		resp := performMultipart(t, env.app, "/api/files/zip-upload", map[string]string{"groupID": groupID}, []formFile{
			{name: "bundle.zip", content: archive},
		}, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusCreated)
		files := dataMap(t, decodeJSONMap(t, resp))["files"].([]any)
		if len(files) != 2 {
			t.Fatalf("expected 2 unpacked files, got %d", len(files))
		}

		var stored models.File
		if err := env.db.First(&stored, "group_id = ? AND name = ?", groupID, "readme.txt").Error; err != nil {
			t.Fatalf("expected readme.txt row: %v", err)
		}
		if string(env.blobs.objects[stored.StoragePath]) != "read me" {
			t.Fatalf("unexpected blob content at %s", stored.StoragePath)
		}
	})

	t.Run("POST /api/files/zip-upload rejects other formats", func(t *testing.T) {
		resp := performMultipart(t, env.app, "/api/files/zip-upload", map[string]string{"groupID": groupID}, []formFile{
			{name: "notes.txt", content: []byte("plain")},
		}, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("POST /api/files/zip-upload without can_add", func(t *testing.T) {
		resp := performMultipart(t, env.app, "/api/files/zip-upload", map[string]string{"groupID": groupID}, []formFile{
			{name: "bundle.zip", content: zipBytes(t, map[string]string{"x.txt": "x"})},
		}, authHeaders(memberToken))
		assertStatus(t, resp, http.StatusForbidden)
		assertReason(t, decodeJSONMap(t, resp), "insufficient_capability")
	})
}

func TestFileListingEndpoint(t *testing.T) {
	env := setupTestEnv(t)
	_, ownerToken := createTestUser(t, env.db, "listing-owner", true)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/groups/", map[string]any{"name": "Listing"}, authHeaders(ownerToken))
	assertStatus(t, resp, http.StatusCreated)
	groupID := dataMap(t, decodeJSONMap(t, resp))["id"].(string)

	for _, upload := range []struct{ name, tags string }{
		{"report.pdf", "finance"},
		{"photo.png", "travel"},
		{"report_draft.txt", "finance, draft"},
	} {
		resp := performUpload(t, env.app, groupID, upload.name, "content", upload.tags, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusCreated)
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"all", "", []string{"photo.png", "report.pdf", "report_draft.txt"}},
		{"exact name", "&name=report.pdf", []string{"report.pdf"}},
		{"file type", "&fileType=image", []string{"photo.png"}},
		{"search", "&search=REPORT", []string{"report.pdf", "report_draft.txt"}},
		{"tags", "&tags=draft,travel", []string{"photo.png", "report_draft.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := performRequest(t, env.app, http.MethodGet, "/api/files/?groupID="+groupID+tt.query, nil, authHeaders(ownerToken))
			assertStatus(t, resp, http.StatusOK)
			got := fileNames(t, decodeJSONMap(t, resp))
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}

	t.Run("pagination block", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/files/?groupID="+groupID+"&page=2&limit=2", nil, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusOK)
		body := decodeJSONMap(t, resp)
		if got := fileNames(t, body); len(got) != 1 {
			t.Fatalf("expected 1 file on page 2, got %v", got)
		}
		pagination := body["pagination"].(map[string]any)
		if pagination["total"] != float64(3) || pagination["totalPages"] != float64(2) || pagination["page"] != float64(2) {
			t.Fatalf("unexpected pagination %v", pagination)
		}
	})

	t.Run("invalid group id", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/files/?groupID=nope", nil, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusBadRequest)
	})
}
