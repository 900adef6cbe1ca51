package profile

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/gemini-chat/internal/model/profile"
)

func TestListProfiles(t *testing.T) {
	r := chi.NewRouter()
	New(profile.NewMemoryStore(profile.Seed())).RegisterRoutes(r)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/profiles", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var got []profile.Profile
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	require.NotEmpty(t, got)
	assert.Equal(t, profile.DefaultID, got[0].ID)
}
