package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetd/internal/config"
	"fleetd/internal/modules/request"
	"fleetd/internal/types"
)

func TestDispatch_RaceForSingleDriver(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t, nil)
		f.addDriver(t, "drv-only", 1, 1)
		a := f.trip(t)
		b := f.trip(t)

		start := make(chan struct{})
		var wg sync.WaitGroup
		results := make([]error, 2)
		drivers := make([]types.ID, 2)
		for i, id := range []types.ID{a.ID, b.ID} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				drivers[i], results[i] = f.coord.Dispatch(context.Background(), tenant, id)
			}()
		}
		close(start)
		wg.Wait()

		won := 0
		for i, err := range results {
			if err == nil {
				won++
				assert.Equal(t, types.ID("drv-only"), drivers[i])
				continue
			}
			var de *DispatchError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, ReasonNoDriver, de.Reason)
		}
		assert.Equal(t, 1, won)
		assert.Equal(t, 1, f.active(t, "drv-only"))

		assigned := 0
		for _, id := range []types.ID{a.ID, b.ID} {
			r := f.reload(t, id)
			if r.Status == request.StatusAssigned {
				assigned++
				require.NotNil(t, r.AssignedDriverID)
			} else {
				assert.Nil(t, r.AssignedDriverID)
				assert.Len(t, r.Events, 1)
			}
		}
		assert.Equal(t, 1, assigned)
	}
}

func TestDispatch_ManyRequestsNeverOverclaim(t *testing.T) {
	f := newFixture(t, nil)
	f.addDriver(t, "drv-a", 1, 2)
	f.addDriver(t, "drv-b", 2, 3)

	var ids []types.ID
	for i := 0; i < 12; i++ {
		ids = append(ids, f.trip(t).ID)
	}

	results := f.coord.DispatchBatch(context.Background(), tenant, ids)
	require.Len(t, results, len(ids))

	perDriver := map[types.ID]int{}
	for i, res := range results {
		assert.Equal(t, ids[i], res.RequestID)
		if res.Err == nil {
			perDriver[res.DriverID]++
		}
	}
	assert.Equal(t, 2, perDriver["drv-a"])
	assert.Equal(t, 3, perDriver["drv-b"])
	assert.Equal(t, 2, f.active(t, "drv-a"))
	assert.Equal(t, 3, f.active(t, "drv-b"))
}

func TestCancel_WaitsForInFlightDispatch(t *testing.T) {
	f := newFixture(t, nil)
	f.addDriver(t, "drv-1", 1, 1)
	r := f.trip(t)
	stall := newStallingMatcher(f.engine)
	coord := f.newCoordinator(t, f.store, stall)

	dispatched := make(chan error, 1)
	go func() {
		_, err := coord.Dispatch(context.Background(), tenant, r.ID)
		dispatched <- err
	}()
	<-stall.entered

	cancelled := make(chan error, 1)
	go func() {
		_, _, err := coord.Cancel(context.Background(), tenant, r.ID, request.Actor{ID: "cust-1", Role: request.RoleCustomer}, "")
		cancelled <- err
	}()

	select {
	case err := <-cancelled:
		t.Fatalf("cancel finished while dispatch held the lock: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(stall.release)
	require.NoError(t, <-dispatched)
	require.NoError(t, <-cancelled)

	after := f.reload(t, r.ID)
	assert.Equal(t, request.StatusCancelled, after.Status)
	assert.Nil(t, after.AssignedDriverID)
	assert.Equal(t,
		[]request.Status{request.StatusRequested, request.StatusAssigned, request.StatusCancelled},
		eventStatuses(after))
	assert.Equal(t, 0, f.active(t, "drv-1"))
}

func TestCancel_BeforeDispatchStarts(t *testing.T) {
	f := newFixture(t, nil)
	f.addDriver(t, "drv-1", 1, 1)
	r := f.trip(t)

	_, _, err := f.coord.Cancel(context.Background(), tenant, r.ID, request.Actor{ID: "cust-1", Role: request.RoleCustomer}, "")
	require.NoError(t, err)

	_, err = f.coord.Dispatch(context.Background(), tenant, r.ID)
	var ite *request.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, 0, f.active(t, "drv-1"))
}

func TestDispatch_FailFastReportsConcurrentDispatch(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Dispatch.LockPolicy = "fail_fast" })
	f.addDriver(t, "drv-1", 1, 1)
	r := f.trip(t)
	stall := newStallingMatcher(f.engine)
	coord := f.newCoordinator(t, f.store, stall)

	first := make(chan error, 1)
	go func() {
		_, err := coord.Dispatch(context.Background(), tenant, r.ID)
		first <- err
	}()
	<-stall.entered

	_, err := coord.Dispatch(context.Background(), tenant, r.ID)
	var cde *ConcurrentDispatchError
	require.ErrorAs(t, err, &cde)
	assert.Equal(t, r.ID, cde.RequestID)

	close(stall.release)
	require.NoError(t, <-first)
}

func TestDispatch_WaitPolicySecondCallerSeesAssigned(t *testing.T) {
	f := newFixture(t, nil)
	f.addDriver(t, "drv-1", 1, 1)
	r := f.trip(t)
	stall := newStallingMatcher(f.engine)
	coord := f.newCoordinator(t, f.store, stall)

	first := make(chan error, 1)
	go func() {
		_, err := coord.Dispatch(context.Background(), tenant, r.ID)
		first <- err
	}()
	<-stall.entered

	second := make(chan error, 1)
	go func() {
		_, err := coord.Dispatch(context.Background(), tenant, r.ID)
		second <- err
	}()
	close(stall.release)

	require.NoError(t, <-first)
	err := <-second
	var ite *request.InvalidTransitionError
	assert.True(t, errors.As(err, &ite), "second dispatch must see the request already assigned, got %v", err)
	assert.Equal(t, 1, f.active(t, "drv-1"))
}
