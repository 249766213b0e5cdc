package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rizo-card-bot/internal/domain/card"
	"rizo-card-bot/internal/domain/credential"
)

func newFakeUpstream(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func imageResponse(t *testing.T, w http.ResponseWriter, payload []byte) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]interface{}{
		"created": 1700000000,
		"data": []map[string]string{
			{"b64_json": base64.StdEncoding.EncodeToString(payload)},
		},
	})
	require.NoError(t, err)
}

func TestClient_GenerateImage(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]interface{}
	srv := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		imageResponse(t, w, []byte("png-bytes"))
	})

	client, err := New(Config{BaseURL: srv.URL + "/v1"}, []credential.Credential{"key-one"})
	require.NoError(t, err)

	png, err := client.GenerateImage(context.Background(), "key-one", "a prompt",
		card.Size{Width: 1024, Height: 1536})
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), png)

	assert.Equal(t, "Bearer key-one", gotAuth)
	assert.Equal(t, "/v1/images/generations", gotPath)
	assert.Equal(t, "gpt-image-1", gotBody["model"])
	assert.Equal(t, "1024x1536", gotBody["size"])
}

func TestClient_EditImageSendsMultipart(t *testing.T) {
	srv := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "/v1/images/edits", r.URL.Path)
		assert.Equal(t, "gpt-image-1", r.FormValue("model"))
		assert.NotEmpty(t, r.FormValue("prompt"))

		file, header, err := r.FormFile("image[]")
		if err != nil {
			file, header, err = r.FormFile("image")
		}
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "meme.png", header.Filename)

		imageResponse(t, w, []byte("edited-bytes"))
	})

	client, err := New(Config{BaseURL: srv.URL + "/v1"}, []credential.Credential{"key-one"})
	require.NoError(t, err)

	png, err := client.EditImage(context.Background(), "key-one", []byte("meme"), "a prompt",
		card.Size{Width: 1024, Height: 1536})
	require.NoError(t, err)
	assert.Equal(t, []byte("edited-bytes"), png)
}

func TestClient_UnknownCredentialRejected(t *testing.T) {
	client, err := New(Config{}, []credential.Credential{"key-one"})
	require.NoError(t, err)

	_, err = client.GenerateImage(context.Background(), "stranger", "p", card.Size{Width: 1, Height: 1})
	require.Error(t, err)
}

func TestClient_EmptyResponseIsError(t *testing.T) {
	srv := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"created": 1700000000, "data": []}`))
	})

	client, err := New(Config{BaseURL: srv.URL + "/v1"}, []credential.Credential{"key-one"})
	require.NoError(t, err)

	_, err = client.GenerateImage(context.Background(), "key-one", "p", card.Size{Width: 1, Height: 1})
	require.Error(t, err)
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)
}
