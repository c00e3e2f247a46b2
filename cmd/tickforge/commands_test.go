package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	got, err := parseTime("2021-05-13")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 5, 13, 0, 0, 0, 0, time.UTC), got)

	got, err = parseTime("2021-05-13T12:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 5, 13, 10, 30, 0, 0, time.UTC), got)

	_, err = parseTime("13/05/2021")
	assert.Error(t, err)
}

func TestBackfillCmdRequiresChart(t *testing.T) {
	cmd := newBackfillCmd()
	cmd.SetArgs([]string{"--from", "2021-05-13"})
	assert.ErrorContains(t, cmd.Execute(), "chart")
}
