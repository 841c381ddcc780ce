package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommands(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	csvPath := filepath.Join(dir, "capitals.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("France,Paris\nSpain,Madrid\nbroken\n"), 0o644))

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"--db", dbPath, "decks"}, &out))
	assert.Contains(t, out.String(), "No decks yet")

	out.Reset()
	require.NoError(t, run(ctx, []string{"--db", dbPath, "import", csvPath}, &out))
	assert.Contains(t, out.String(), `Imported 2 cards into deck "capitals" (id 1).`)
	assert.Contains(t, out.String(), "1 rows skipped")

	out.Reset()
	require.NoError(t, run(ctx, []string{"--db", dbPath, "import", "--name", "Europe", csvPath}, &out))
	assert.Contains(t, out.String(), `deck "Europe" (id 2)`)

	out.Reset()
	require.NoError(t, run(ctx, []string{"--db", dbPath, "decks"}, &out))
	assert.Contains(t, out.String(), "capitals")
	assert.Contains(t, out.String(), "Europe")

	out.Reset()
	require.NoError(t, run(ctx, []string{"--db", dbPath, "stats", "1"}, &out))
	assert.Contains(t, out.String(), "Cards:    2 (2 new, 2 due)")
	assert.Contains(t, out.String(), "Progress: 0 learning, 0 mastered, 0% seen")
	assert.NotContains(t, out.String(), "Needs practice")

	out.Reset()
	src := t.TempDir()
	require.NoError(t, run(ctx, []string{"--db", dbPath, "add-source", src}, &out))
	assert.Contains(t, out.String(), "Added local source")
	out.Reset()
	require.NoError(t, run(ctx, []string{"--db", dbPath, "add-source", src}, &out))
	assert.Contains(t, out.String(), "Source already exists")

	out.Reset()
	require.NoError(t, run(ctx, []string{"--db", dbPath, "--repos-dir", filepath.Join(dir, "repos"), "sync"}, &out))
	assert.Contains(t, out.String(), src)
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	var out bytes.Buffer

	testCases := []struct {
		name string
		args []string
	}{
		{name: "no command", args: []string{"--db", dbPath}},
		{name: "unknown command", args: []string{"--db", dbPath, "fly"}},
		{name: "import without file", args: []string{"--db", dbPath, "import"}},
		{name: "missing file", args: []string{"--db", dbPath, "import", "nope.csv"}},
		{name: "bad deck id", args: []string{"--db", dbPath, "stats", "x"}},
		{name: "missing deck", args: []string{"--db", dbPath, "stats", "42"}},
		{name: "bad log level", args: []string{"--db", dbPath, "--log-level", "loud", "decks"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, run(ctx, tc.args, &out))
		})
	}
}
