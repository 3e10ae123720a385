package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/inkwelldms/inkwell/internal/annotations"
	"github.com/inkwelldms/inkwell/internal/auth"
	"github.com/inkwelldms/inkwell/internal/documents"
	"github.com/inkwelldms/inkwell/internal/filestore"
	"github.com/inkwelldms/inkwell/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testIssuer = "inkwell-api"
	testSecret = "test-signing-secret"
)

type testAPI struct {
	server     *httptest.Server
	issuer     *auth.TokenIssuer
	dispatcher *realtime.Dispatcher
	documents  *documents.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	models := []interface{}{&annotations.Record{}, &annotations.MarkupBlob{}, &annotations.DocumentLock{}}
	models = append(models, documents.Models()...)
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	annotationStore, err := annotations.NewStore(annotations.StoreConfig{
		Database:   db,
		IDProvider: annotations.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct annotation store: %v", err)
	}
	blobStore, err := annotations.NewBlobStore(annotations.BlobStoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct blob store: %v", err)
	}
	lockGate, err := annotations.NewLockGate(annotations.LockGateConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct lock gate: %v", err)
	}

	files, err := filestore.NewLocalStore(t.TempDir(), "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("failed to construct file store: %v", err)
	}
	documentService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		Files:      files,
		IDProvider: annotations.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct document service: %v", err)
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSecret),
		Issuer:        testIssuer,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	dispatcher := realtime.NewDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		Validator:   validator,
		Annotations: annotationStore,
		Blobs:       blobStore,
		Locks:       lockGate,
		Documents:   documentService,
		Dispatcher:  dispatcher,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testAPI{
		server: server,
		issuer: auth.NewTokenIssuer(auth.TokenIssuerConfig{
			SigningSecret: []byte(testSecret),
			Issuer:        testIssuer,
		}),
		dispatcher: dispatcher,
		documents:  documentService,
	}
}

func (api *testAPI) token(t *testing.T, userID, displayName string, roles ...string) string {
	t.Helper()
	token, err := api.issuer.IssueToken(userID, displayName, roles)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (api *testAPI) request(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	request, err := http.NewRequest(method, api.server.URL+path, body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	response, err := api.server.Client().Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return response
}

func (api *testAPI) jsonRequest(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	return api.request(t, method, path, token, reader, "application/json")
}

func decodeJSON(t *testing.T, response *http.Response, target interface{}) {
	t.Helper()
	defer response.Body.Close()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func (api *testAPI) uploadDocument(t *testing.T, token, title string) string {
	t.Helper()

	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	if err := writer.WriteField("title", title); err != nil {
		t.Fatalf("failed to write title field: %v", err)
	}
	part, err := writer.CreateFormFile("file", "contract.pdf")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte("%PDF-1.7 test")); err != nil {
		t.Fatalf("failed to write file body: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	response := api.request(t, http.MethodPost, "/documents", token, &buffer, writer.FormDataContentType())
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("expected document creation, got status %d", response.StatusCode)
	}
	var payload struct {
		DocumentID string `json:"document_id"`
	}
	decodeJSON(t, response, &payload)
	if payload.DocumentID == "" {
		t.Fatal("expected a document id")
	}
	return payload.DocumentID
}
