package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"testing"

	"branchdown/internal/api"
	"branchdown/internal/engine"
	"branchdown/pkg/client"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands(t *testing.T) {
	srv := httptest.NewServer(api.NewServer(engine.New(engine.Options{}), api.Options{}))
	defer srv.Close()

	out, err := runCmd(t, srv.URL, "stream", "create")
	require.NoError(t, err)
	var s client.Stream
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	sid := strconv.FormatInt(s.ID, 10)

	out, err = runCmd(t, srv.URL, "stream", "points", sid)
	require.NoError(t, err)
	var points []client.Point
	require.NoError(t, json.Unmarshal([]byte(out), &points))
	require.Len(t, points, 1)
	rootID := strconv.FormatInt(points[0].ID, 10)

	out, err = runCmd(t, srv.URL, "point", "add", rootID, "item-001")
	require.NoError(t, err)
	var first client.Point
	require.NoError(t, json.Unmarshal([]byte(out), &first))
	assert.Equal(t, 0, first.BranchNum)

	_, err = runCmd(t, srv.URL, "point", "add", rootID, "item-002")
	require.NoError(t, err)

	out, err = runCmd(t, srv.URL, "branch", "points", sid, "0", "--depth", "0")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &points))
	require.Len(t, points, 1)
	assert.Equal(t, first.ID, points[0].ID)

	out, err = runCmd(t, srv.URL, "point", "ancestors", strconv.FormatInt(first.ID, 10))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &points))
	assert.Len(t, points, 1)

	_, err = runCmd(t, srv.URL, "stream", "delete", sid)
	require.NoError(t, err)

	_, err = runCmd(t, srv.URL, "stream", "get", sid)
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestArgumentValidation(t *testing.T) {
	_, err := runCmd(t, "http://127.0.0.1:1", "stream", "get", "abc")
	assert.ErrorContains(t, err, "invalid stream id")

	_, err = runCmd(t, "http://127.0.0.1:1", "branch", "points", "1", "two")
	assert.ErrorContains(t, err, "invalid branch number")

	_, err = runCmd(t, "http://127.0.0.1:1", "point", "add", "1")
	assert.Error(t, err)

	_, err = runCmd(t, "not a url", "stream", "create")
	assert.Error(t, err)
}

func TestServerFromEnvironment(t *testing.T) {
	srv := httptest.NewServer(api.NewServer(engine.New(engine.Options{}), api.Options{}))
	defer srv.Close()
	t.Setenv("BRANCHDOWN_URL", srv.URL)

	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"stream", "create"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"id": 1`)
}
