package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	v1 "github.com/stacklok/cargo-registry-server/internal/api/v1"
	"github.com/stacklok/cargo-registry-server/internal/api/common"
	"github.com/stacklok/cargo-registry-server/internal/errs"
	"github.com/stacklok/cargo-registry-server/internal/publish"
	"github.com/stacklok/cargo-registry-server/internal/service/mocks"
	"github.com/stacklok/cargo-registry-server/internal/status"
)

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body common.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Errors, 1)
	return body.Errors[0].Detail
}

func TestPublish(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "accepted", wantStatus: http.StatusOK},
		{
			name:       "truncated payload",
			err:        errs.Validationf("publish.Decode", "request body ended before the archive"),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "duplicate version",
			err:        errs.E(errs.KindConflict, "publish.Ingest", errors.New("crate abc@1.0.0 already exists")),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "database down",
			err:        errs.E(errs.KindTransient, "store.Insert", errors.New("connection refused")),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "internal failure",
			err:        errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			mockSvc := mocks.NewMockRegistryService(ctrl)

			if tt.err != nil {
				mockSvc.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil, tt.err)
			} else {
				mockSvc.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(&publish.Result{
					ID:      1,
					Name:    "abc",
					Version: "1.0.0",
				}, nil)
			}

			req := httptest.NewRequest(http.MethodPut, "/crates/new", bytes.NewReader([]byte("payload")))
			rr := httptest.NewRecorder()
			v1.Router(mockSvc).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			if tt.err != nil {
				assert.NotEmpty(t, decodeError(t, rr))
				return
			}
			var resp map[string]map[string][]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, map[string][]string{
				"invalid_categories": {},
				"invalid_badges":     {},
				"other":              {},
			}, resp["warnings"])
		})
	}
}

func TestDownload(t *testing.T) {
	t.Parallel()

	const url = "http://localhost:8080/api/v1/files/3/abc/1.0.0.crate"

	tests := []struct {
		name         string
		path         string
		setupMock    func(*mocks.MockRegistryService)
		wantStatus   int
		wantLocation string
	}{
		{
			name: "redirects to stored url",
			path: "/crates/abc/1.0.0",
			setupMock: func(m *mocks.MockRegistryService) {
				m.EXPECT().ResolveDownload(gomock.Any(), "abc", "1.0.0").Return(url, nil)
			},
			wantStatus:   http.StatusFound,
			wantLocation: url,
		},
		{
			name: "cargo download suffix",
			path: "/crates/abc/1.0.0/download",
			setupMock: func(m *mocks.MockRegistryService) {
				m.EXPECT().ResolveDownload(gomock.Any(), "abc", "1.0.0").Return(url, nil)
			},
			wantStatus:   http.StatusFound,
			wantLocation: url,
		},
		{
			name: "unknown version",
			path: "/crates/abc/9.9.9",
			setupMock: func(m *mocks.MockRegistryService) {
				m.EXPECT().ResolveDownload(gomock.Any(), "abc", "9.9.9").
					Return("", errs.E(errs.KindNotFound, "store.LookupDownloadURL", errors.New("not found")))
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "whitespace in name",
			path:       "/crates/a%20bc/1.0.0",
			setupMock:  func(*mocks.MockRegistryService) {},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			mockSvc := mocks.NewMockRegistryService(ctrl)
			tt.setupMock(mockSvc)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rr := httptest.NewRecorder()
			v1.Router(mockSvc).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantLocation != "" {
				assert.Equal(t, tt.wantLocation, rr.Header().Get("Location"))
			}
		})
	}
}

func TestServeArchive(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "3/abc/1.0.0.crate", []byte("crate bytes"), 0o644))

	ctrl := gomock.NewController(t)
	mockSvc := mocks.NewMockRegistryService(ctrl)
	mockSvc.EXPECT().OpenArchive(gomock.Any(), "3/abc/1.0.0.crate").DoAndReturn(
		func(_ context.Context, p string) (billy.File, os.FileInfo, error) {
			f, err := fs.Open(p)
			require.NoError(t, err)
			info, err := fs.Stat(p)
			require.NoError(t, err)
			return f, info, nil
		})
	mockSvc.EXPECT().OpenArchive(gomock.Any(), "3/abc/2.0.0.crate").
		Return(nil, nil, errs.E(errs.KindNotFound, "storage.Stat", errors.New("archive not found")))

	router := v1.Router(mockSvc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/files/3/abc/1.0.0.crate", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "crate bytes", rr.Body.String())
	assert.Equal(t, "application/x-tar", rr.Header().Get("Content-Type"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/files/3/abc/2.0.0.crate", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "storage.Stat: archive not found", decodeError(t, rr))
}

func TestIndexStatus(t *testing.T) {
	t.Parallel()

	t.Run("running worker", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		mockSvc := mocks.NewMockRegistryService(ctrl)
		mockSvc.EXPECT().WorkerStatus().Return(&status.WorkerStatus{
			Phase:      status.PhaseComplete,
			LastCommit: "c0ffee",
		})

		rr := httptest.NewRecorder()
		v1.Router(mockSvc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/index/status", nil))
		assert.Equal(t, http.StatusOK, rr.Code)

		var got status.WorkerStatus
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, status.PhaseComplete, got.Phase)
		assert.Equal(t, "c0ffee", got.LastCommit)
	})

	t.Run("no worker", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		mockSvc := mocks.NewMockRegistryService(ctrl)
		mockSvc.EXPECT().WorkerStatus().Return(nil)

		rr := httptest.NewRecorder()
		v1.Router(mockSvc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/index/status", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
