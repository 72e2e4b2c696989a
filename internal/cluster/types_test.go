package cluster

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/iddir/internal/directory"
)

// TestErrorKindJSON checks that outcomes travel by name
func TestErrorKindJSON(t *testing.T) {
	resp := Response{Status: NameCollision, Text: "taken"}

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"NAME_COLLISION","text":"taken"}`, string(data))

	var decoded Response
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, resp, decoded)
	assert.False(t, decoded.OK())

	err = json.Unmarshal([]byte(`{"status":"BOGUS"}`), &decoded)
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{err: nil, want: None},
		{err: fmt.Errorf("lookup: %w", directory.ErrNoSuchUser), want: NoSuchUser},
		{err: directory.ErrNameCollision, want: NameCollision},
		{err: fmt.Errorf("delete: %w", directory.ErrIncorrectCredential), want: IncorrectCredential},
		{err: directory.ErrMalformedInput, want: MalformedInput},
		{err: io.EOF, want: MalformedInput},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}

	resp := Fail(directory.ErrNoSuchUser)
	assert.Equal(t, NoSuchUser, resp.Status)
	assert.Equal(t, "no such user", resp.Text)
}

// TestSyncPayloadGob covers the gob edge cases the peer transport relies on:
// an empty snapshot still decodes as a full snapshot, and times keep equality.
func TestSyncPayloadGob(t *testing.T) {
	at := time.Now().UTC()

	tests := []struct {
		name    string
		payload SyncPayload
	}{
		{name: "up to date", payload: SyncPayload{UpToDate: true}},
		{name: "empty snapshot", payload: SyncPayload{Full: true, AsOf: 12}},
		{
			name: "snapshot",
			payload: SyncPayload{Full: true, AsOf: 4, Snapshot: map[string]directory.Record{
				"alice": {LoginName: "alice", UniqueID: "u1", CreatedAt: at, LastChangedAt: at},
			}},
		},
		{
			name: "tail",
			payload: SyncPayload{Tail: []LogEntry{
				{Timestamp: 5, Action: Action{Kind: ActionCreate, LoginName: "bob", UniqueID: "u2", At: at}},
				{Timestamp: 7, Action: Action{Kind: ActionDelete, LoginName: "bob", Credential: "h"}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, gob.NewEncoder(&buf).Encode(SyncReply{Clock: 9, Payload: tt.payload}))

			var got SyncReply
			require.NoError(t, gob.NewDecoder(&buf).Decode(&got))
			assert.Equal(t, int64(9), got.Clock)
			assert.Equal(t, tt.payload.UpToDate, got.Payload.UpToDate)
			assert.Equal(t, tt.payload.Full, got.Payload.Full)
			assert.Equal(t, tt.payload.AsOf, got.Payload.AsOf)
			assert.Equal(t, len(tt.payload.Snapshot), len(got.Payload.Snapshot))
			for name, r := range tt.payload.Snapshot {
				assert.Equal(t, r, got.Payload.Snapshot[name])
			}
			assert.Equal(t, tt.payload.Tail, got.Payload.Tail)
		})
	}
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "CREATE alice (u1)", Action{Kind: ActionCreate, LoginName: "alice", UniqueID: "u1"}.String())
	assert.Equal(t, "MODIFY alice -> alice2", Action{Kind: ActionModify, LoginName: "alice", Aux: "alice2"}.String())
	assert.Equal(t, "DELETE bob", Action{Kind: ActionDelete, LoginName: "bob"}.String())
	assert.Equal(t, "ActionKind(9)", ActionKind(9).String())
}

// TestPostJSON tests the PostJSON function with various scenarios
func TestPostJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		requestBody    interface{}
		responseBody   interface{}
		expectError    bool
		contextTimeout bool
	}{
		{
			name:           "successful POST with response",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"NONE","text":"u-1"}`,
			requestBody:    CreateArgs{LoginName: "alice", Credential: "h"},
			responseBody:   &Response{},
		},
		{
			name:           "successful POST without response body",
			serverResponse: http.StatusNoContent,
			requestBody:    map[string]string{"test": "data"},
		},
		{
			name:           "server error response",
			serverResponse: http.StatusInternalServerError,
			serverBody:     `{"error":"internal error"}`,
			requestBody:    map[string]string{"test": "data"},
			expectError:    true,
		},
		{
			name:           "bad request",
			serverResponse: http.StatusBadRequest,
			serverBody:     `{"status":"MALFORMED_INPUT"}`,
			requestBody:    map[string]string{"test": "data"},
			expectError:    true,
		},
		{
			name:           "context timeout",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"NONE"}`,
			requestBody:    map[string]string{"test": "data"},
			expectError:    true,
			contextTimeout: true,
		},
		{
			name:           "unmarshalable request body",
			serverResponse: http.StatusOK,
			requestBody:    make(chan int),
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				if tt.contextTimeout {
					time.Sleep(100 * time.Millisecond)
				}
				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			ctx := context.Background()
			if tt.contextTimeout {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, 1*time.Millisecond)
				defer cancel()
			}

			err := PostJSON(ctx, server.URL, tt.requestBody, tt.responseBody)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if resp, ok := tt.responseBody.(*Response); ok {
				assert.True(t, resp.OK())
				assert.Equal(t, "u-1", resp.Text)
			}
		})
	}
}

// TestPostJSONInvalidURL tests PostJSON with invalid URL
func TestPostJSONInvalidURL(t *testing.T) {
	ctx := context.Background()

	err := PostJSON(ctx, "://invalid-url", map[string]string{"test": "data"}, nil)
	assert.Error(t, err)

	err = PostJSON(ctx, "http://localhost:99999", map[string]string{"test": "data"}, nil)
	assert.Error(t, err)
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/coordinator":
			w.Write([]byte(`{"status":"NONE","text":"10.0.0.3:5185"}`))
		case "/broken":
			w.Write([]byte(`{not json`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	var resp Response
	require.NoError(t, GetJSON(context.Background(), server.URL+"/coordinator", &resp))
	assert.Equal(t, "10.0.0.3:5185", resp.Text)

	assert.Error(t, GetJSON(context.Background(), server.URL+"/broken", &resp))
	assert.Error(t, GetJSON(context.Background(), server.URL+"/missing", &resp))
}

func TestDoJSONMethods(t *testing.T) {
	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, method, r.Method)
				var body DeleteArgs
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "h", body.Credential)
				w.Write([]byte(`{"status":"INCORRECT_CREDENTIAL"}`))
			}))
			defer server.Close()

			var resp Response
			err := DoJSON(context.Background(), method, server.URL+"/users/alice", DeleteArgs{Credential: "h"}, &resp)
			require.NoError(t, err)
			assert.Equal(t, IncorrectCredential, resp.Status)
		})
	}
}

func TestHTTPClient(t *testing.T) {
	require.NotNil(t, httpClient)
	assert.Equal(t, 5*time.Second, httpClient.Timeout)
}
