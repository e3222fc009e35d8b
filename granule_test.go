package rmm

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const testBase = 0x8000_0000

func newTestTable(t *testing.T, count int) *GranuleTable {
	t.Helper()
	gt, err := NewGranuleTable(testBase, count)
	require.NoError(t, err)
	return gt
}

func TestNewGranuleTableValidation(t *testing.T) {
	tests := []struct {
		name  string
		base  uint64
		count int
	}{
		{"unaligned base", testBase + 1, 4},
		{"zero count", testBase, 0},
		{"negative count", testBase, -1},
		{"overflow", 0xFFFF_FFFF_FFFF_F000, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGranuleTable(tt.base, tt.count); err == nil {
				t.Errorf("NewGranuleTable(0x%x, %d) succeeded, want error", tt.base, tt.count)
			}
		})
	}
}

func TestGranuleInitialState(t *testing.T) {
	gt := newTestTable(t, 8)
	for i := 0; i < gt.Len(); i++ {
		s, err := gt.State(gt.Addr(i))
		require.NoError(t, err)
		require.Equal(t, GranuleUndelegated, s)
	}
	require.Equal(t, map[GranuleState]int{GranuleUndelegated: 8}, gt.Counts())
}

func TestGranuleIndex(t *testing.T) {
	gt := newTestTable(t, 4)

	idx, err := gt.Index(testBase + 3*GranuleSize)
	require.NoError(t, err)
	require.Equal(t, 3, idx)

	for _, addr := range []uint64{testBase + 1, testBase - GranuleSize, testBase + 4*GranuleSize, 0} {
		_, err := gt.Index(addr)
		require.ErrorIs(t, err, ErrInvalidGranule, "addr 0x%x", addr)
	}
}

func TestGranuleTransitionPrecondition(t *testing.T) {
	states := []GranuleState{GranuleUndelegated, GranuleDelegated, GranuleRD}

	// Drive a granule into each state, then try every legal edge from every
	// expected state: only the edge whose expected state matches may succeed.
	reach := map[GranuleState][][2]GranuleState{
		GranuleUndelegated: nil,
		GranuleDelegated:   {{GranuleUndelegated, GranuleDelegated}},
		GranuleRD:          {{GranuleUndelegated, GranuleDelegated}, {GranuleDelegated, GranuleRD}},
	}

	for _, current := range states {
		for _, expected := range states {
			for _, next := range states {
				if !legalTransition(expected, next) {
					continue
				}
				gt := newTestTable(t, 1)
				for _, step := range reach[current] {
					require.NoError(t, gt.Transition(testBase, step[0], step[1]))
				}

				err := gt.Transition(testBase, expected, next)
				got, _ := gt.State(testBase)
				if expected == current {
					require.NoError(t, err, "%v: %v->%v", current, expected, next)
					require.Equal(t, next, got)
				} else {
					require.ErrorIs(t, err, ErrWrongState, "%v: %v->%v", current, expected, next)
					require.Equal(t, current, got, "failed transition must not change state")
				}
			}
		}
	}
}

func TestGranuleIllegalTransition(t *testing.T) {
	gt := newTestTable(t, 1)

	tests := []struct {
		from, to GranuleState
	}{
		{GranuleUndelegated, GranuleRD},
		{GranuleRD, GranuleUndelegated},
		{GranuleUndelegated, GranuleUndelegated},
		{GranuleDelegated, GranuleDelegated},
		{GranuleState(9), GranuleDelegated},
	}

	for _, tt := range tests {
		err := gt.Transition(testBase, tt.from, tt.to)
		if !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("Transition(%v, %v) = %v, want ErrIllegalTransition", tt.from, tt.to, err)
		}
	}
	s, _ := gt.State(testBase)
	require.Equal(t, GranuleUndelegated, s)
}

func TestGranuleStampClearedOnLeave(t *testing.T) {
	gt := newTestTable(t, 1)
	require.NoError(t, gt.Transition(testBase, GranuleUndelegated, GranuleDelegated))
	require.NoError(t, gt.stamp(testBase, 42))

	id, err := gt.RealmID(testBase)
	require.NoError(t, err)
	require.Equal(t, uint64(42), id)

	require.NoError(t, gt.Transition(testBase, GranuleRD, GranuleDelegated))
	_, err = gt.RealmID(testBase)
	require.ErrorIs(t, err, ErrWrongState)

	// A bare transition into RD stamps id zero rather than a stale one.
	require.NoError(t, gt.Transition(testBase, GranuleDelegated, GranuleRD))
	id, err = gt.RealmID(testBase)
	require.NoError(t, err)
	require.Zero(t, id)
}

func TestGranuleStampRejectsWideID(t *testing.T) {
	gt := newTestTable(t, 1)
	require.NoError(t, gt.Transition(testBase, GranuleUndelegated, GranuleDelegated))
	require.Error(t, gt.stamp(testBase, MaxRealmID+1))

	s, _ := gt.State(testBase)
	require.Equal(t, GranuleDelegated, s)
}

func TestGranuleConcurrentDelegate(t *testing.T) {
	const cores = 16
	gt := newTestTable(t, 4)

	for round := 0; round < 50; round++ {
		for i := 0; i < gt.Len(); i++ {
			addr := gt.Addr(i)
			var winners atomic.Int32
			var g errgroup.Group
			for c := 0; c < cores; c++ {
				g.Go(func() error {
					err := gt.Transition(addr, GranuleUndelegated, GranuleDelegated)
					switch {
					case err == nil:
						winners.Add(1)
					case !errors.Is(err, ErrWrongState):
						return err
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())
			require.Equal(t, int32(1), winners.Load(), "exactly one core may delegate granule 0x%x", addr)
			require.NoError(t, gt.Transition(addr, GranuleDelegated, GranuleUndelegated))
		}
	}
}
