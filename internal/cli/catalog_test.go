package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decodeResponse(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	var resp struct {
		CLIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	if data != nil && resp.Data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp.CLIResponse
}

func TestCatalog_ListsEveryItem(t *testing.T) {
	out, err := execute(t, "catalog")
	require.NoError(t, err)

	assert.Contains(t, out, "0x100  Sunrise")
	assert.Contains(t, out, "Trinity Mirror")
}

func TestCatalog_ResolveJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "catalog", "0x100", "0x13", "0x0FE")
	require.NoError(t, err)

	var got catalogResult
	resp := decodeResponse(t, out, &got)
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, got.Items, 3)

	assert.Equal(t, catalogItem{ID: 0x100, Name: "Sunrise", Category: "brush", Grants: "brush 0"}, got.Items[0])
	assert.Equal(t, "Trinity Mirror", got.Items[1].Name)
	assert.Equal(t, "item 0x13", got.Items[1].Grants)
	assert.Equal(t, "filler", got.Items[2].Grants, "uncatalogued ids in a known range are filler")
}

func TestCatalog_Errors(t *testing.T) {
	tests := []struct {
		name     string
		arg      string
		wantCode int
		wantErr  string
	}{
		{"unknown range", "0x999", ExitFailure, CodeUnknownID},
		{"not a number", "sunrise", ExitCommandError, CodeConfig},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "--format", "json", "catalog", tt.arg)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, GetExitCode(err))

			resp := decodeResponse(t, out, nil)
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantErr, resp.Error.Code)
		})
	}
}
