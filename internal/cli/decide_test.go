package cli

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/pdf-toolkit/pkg/batch"
)

func existingItems(n int) []batch.WorkItem {
	items := make([]batch.WorkItem, n)
	for i := range items {
		items[i] = batch.WorkItem{ID: i, Output: fmt.Sprintf("/out/doc%d_compressed.pdf", i)}
	}
	return items
}

func TestTerminalDecider_DecideExisting(t *testing.T) {
	testCases := []struct {
		input string
		want  batch.Decision
	}{
		{input: "o\n", want: batch.DecisionOverwrite},
		{input: "Overwrite\n", want: batch.DecisionOverwrite},
		{input: "s\n", want: batch.DecisionSkip},
		{input: "a\n", want: batch.DecisionAbort},
		{input: "maybe\nskip\n", want: batch.DecisionSkip},
		{input: "", want: batch.DecisionAbort},
		{input: "x", want: batch.DecisionAbort},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%q", tc.input), func(t *testing.T) {
			var out bytes.Buffer
			d := NewTerminalDecider(strings.NewReader(tc.input), &out, true, "")

			got, err := d.DecideExisting(existingItems(2))

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Contains(t, out.String(), "2 output(s) already exist")
		})
	}
}

func TestTerminalDecider_DecideExistingCapsList(t *testing.T) {
	var out bytes.Buffer
	d := NewTerminalDecider(strings.NewReader("s\n"), &out, true, "")

	_, err := d.DecideExisting(existingItems(8))

	require.NoError(t, err)
	text := out.String()
	assert.Contains(t, text, "/out/doc4_compressed.pdf")
	assert.NotContains(t, text, "/out/doc5_compressed.pdf")
	assert.Contains(t, text, "... and 3 more")
	assert.Equal(t, 1, strings.Count(text, "[o]verwrite"), "asked once for the whole run")
}

func TestTerminalDecider_NotInteractive(t *testing.T) {
	d := NewTerminalDecider(strings.NewReader("o\n"), &bytes.Buffer{}, false, "")

	_, err := d.DecideExisting(existingItems(1))
	assert.ErrorIs(t, err, ErrNotInteractive)

	dir, err := d.ChooseDirectory(1, map[string]string{"/ro": "read-only"})
	require.NoError(t, err)
	assert.Empty(t, dir)
}

func TestTerminalDecider_Suspend(t *testing.T) {
	d := NewTerminalDecider(strings.NewReader("/alt\n"), &bytes.Buffer{}, true, "")

	d.Suspend(true)
	dir, err := d.ChooseDirectory(1, map[string]string{"/ro": "read-only"})
	require.NoError(t, err)
	assert.Empty(t, dir, "no prompt while the UI owns the terminal")

	d.Suspend(false)
	dir, err = d.ChooseDirectory(1, map[string]string{"/ro": "read-only"})
	require.NoError(t, err)
	assert.Equal(t, "/alt", dir)
}

func TestTerminalDecider_ChooseDirectory(t *testing.T) {
	t.Run("preset answers first attempt", func(t *testing.T) {
		var out bytes.Buffer
		d := NewTerminalDecider(strings.NewReader("/typed\n"), &out, true, "/preset")

		dir, err := d.ChooseDirectory(1, map[string]string{"/ro": "read-only"})
		require.NoError(t, err)
		assert.Equal(t, "/preset", dir)
		assert.Empty(t, out.String())

		dir, err = d.ChooseDirectory(2, map[string]string{"/preset": "read-only"})
		require.NoError(t, err)
		assert.Equal(t, "/typed", dir)
	})

	t.Run("prompt lists directories", func(t *testing.T) {
		var out bytes.Buffer
		d := NewTerminalDecider(strings.NewReader("  /elsewhere  \n"), &out, true, "")

		dir, err := d.ChooseDirectory(1, map[string]string{"/b": "permission denied", "/a": "read-only file system"})

		require.NoError(t, err)
		assert.Equal(t, "/elsewhere", dir)
		text := out.String()
		assert.Less(t, strings.Index(text, "/a (read-only"), strings.Index(text, "/b (permission"))
		assert.Contains(t, text, "attempt 1")
	})

	t.Run("empty answer gives up", func(t *testing.T) {
		d := NewTerminalDecider(strings.NewReader("\n"), &bytes.Buffer{}, true, "")
		dir, err := d.ChooseDirectory(1, map[string]string{"/ro": "x"})
		require.NoError(t, err)
		assert.Empty(t, dir)
	})
}
