package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	name   string
	fail   bool
	events *[]string
}

func (r recorder) Name() string { return r.name }

func (r recorder) Start(context.Context) error {
	if r.fail {
		return errors.New("no")
	}
	*r.events = append(*r.events, "start "+r.name)
	return nil
}

func (r recorder) Stop(context.Context) { *r.events = append(*r.events, "stop "+r.name) }

func TestStartStopOrder(t *testing.T) {
	var events []string
	m := NewManager(recorder{name: "a", events: &events})
	require.NoError(t, m.Add(recorder{name: "b", events: &events}))
	assert.Equal(t, []string{"a", "b"}, m.Names())

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))
	assert.Error(t, m.Add(recorder{name: "c", events: &events}))

	m.Stop(context.Background())
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, events)
}

func TestStartFailureRollsBack(t *testing.T) {
	var events []string
	m := NewManager(
		recorder{name: "a", events: &events},
		recorder{name: "b", events: &events, fail: true},
		recorder{name: "c", events: &events},
	)
	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "module b failed")
	assert.Equal(t, []string{"start a", "stop a"}, events)
}

func TestRunStopsOnCancel(t *testing.T) {
	var events []string
	m := NewManager(recorder{name: "a", events: &events})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.Run(ctx, time.Second))
	assert.Equal(t, []string{"start a", "stop a"}, events)
}
