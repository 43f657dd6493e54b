// README: Tests for request lifecycle tables and the transition function.
package request

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetd/internal/types"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTrip(t *testing.T) *Request {
	t.Helper()
	r, err := New("tenant-a", CreateCommand{
		CustomerID: "cust-1",
		Kind:       KindTrip,
		Pickup:     types.Place{Point: types.Point{Lat: -6.2, Lng: 106.8}, Address: "Jl. Sudirman"},
		Dropoff:    types.Place{Point: types.Point{Lat: -6.25, Lng: 106.85}},
	}, t0)
	require.NoError(t, err)
	return r
}

func newParcel(t *testing.T) *Request {
	t.Helper()
	r, err := New("tenant-a", CreateCommand{
		CustomerID: "cust-2",
		Kind:       KindParcel,
		Pickup:     types.Place{Point: types.Point{Lat: 1, Lng: 1}},
		Dropoff:    types.Place{Point: types.Point{Lat: 1.1, Lng: 1.1}},
	}, t0)
	require.NoError(t, err)
	return r
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		kind Kind
		from Status
		to   Status
		want bool
	}{
		{KindTrip, StatusRequested, StatusAssigned, true},
		{KindTrip, StatusRequested, StatusStarted, false},
		{KindTrip, StatusAssigned, StatusDriverArrived, true},
		{KindTrip, StatusDriverArrived, StatusStarted, true},
		{KindTrip, StatusStarted, StatusCompleted, true},
		{KindTrip, StatusStarted, StatusCancelled, true},
		{KindTrip, StatusCompleted, StatusCancelled, false},
		{KindTrip, StatusCancelled, StatusRequested, false},
		{KindTrip, StatusAssigned, StatusPickedUp, false},
		{KindParcel, StatusCreated, StatusAssigned, true},
		{KindParcel, StatusAssigned, StatusPickedUp, true},
		{KindParcel, StatusPickedUp, StatusInTransit, true},
		{KindParcel, StatusInTransit, StatusDelivered, true},
		{KindParcel, StatusCreated, StatusDelivered, false},
		{KindParcel, StatusDelivered, StatusCancelled, false},
		{KindParcel, StatusAssigned, StatusDriverArrived, false},
	}
	for _, tc := range tests {
		got := CanTransition(tc.kind, tc.from, tc.to)
		assert.Equalf(t, tc.want, got, "%s %s -> %s", tc.kind, tc.from, tc.to)
	}
}

func TestNew_InitialState(t *testing.T) {
	trip := newTrip(t)
	assert.Equal(t, StatusRequested, trip.Status)
	assert.Equal(t, ModeInTown, trip.Mode)
	assert.Equal(t, 1, trip.RequiredCapacity)
	require.Len(t, trip.Events, 1)
	assert.Equal(t, StatusRequested, trip.Events[0].Status)

	parcel := newParcel(t)
	assert.Equal(t, StatusCreated, parcel.Status)
	assert.Equal(t, 1, parcel.RequiredCapacity)
}

func TestNew_Validation(t *testing.T) {
	base := CreateCommand{
		CustomerID: "c",
		Kind:       KindTrip,
		Pickup:     types.Place{Point: types.Point{Lat: 1, Lng: 1}},
		Dropoff:    types.Place{Point: types.Point{Lat: 2, Lng: 2}},
	}

	cases := map[string]func(c *CreateCommand){
		"unknown kind":      func(c *CreateCommand) { c.Kind = "BOAT" },
		"unknown mode":      func(c *CreateCommand) { c.Mode = "ORBIT" },
		"parcel with mode":  func(c *CreateCommand) { c.Kind = KindParcel; c.Mode = ModeInTown },
		"parcel capacity 2": func(c *CreateCommand) { c.Kind = KindParcel; c.RequiredCapacity = 2 },
		"negative capacity": func(c *CreateCommand) { c.RequiredCapacity = -1 },
		"bad latitude":      func(c *CreateCommand) { c.Pickup.Point.Lat = 91 },
		"missing customer":  func(c *CreateCommand) { c.CustomerID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cmd := base
			mutate(&cmd)
			_, err := New("tenant-a", cmd, t0)
			assert.ErrorIs(t, err, ErrBadRequest)
		})
	}

	_, err := New("", base, t0)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestApply_TripHappyPath(t *testing.T) {
	r := newTrip(t)
	driver := types.ID("drv-1")
	driverActor := Actor{ID: driver, Role: RoleDriver}

	_, err := Apply(r, TransitionInput{To: StatusAssigned, Actor: SystemActor, DriverID: &driver, At: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.NotNil(t, r.AssignedDriverID)
	assert.Equal(t, driver, *r.AssignedDriverID)

	loc := types.Point{Lat: -6.2, Lng: 106.8}
	_, err = Apply(r, TransitionInput{To: StatusDriverArrived, Actor: driverActor, Location: &loc, At: t0.Add(2 * time.Minute)})
	require.NoError(t, err)
	_, err = Apply(r, TransitionInput{To: StatusStarted, Actor: driverActor, At: t0.Add(3 * time.Minute)})
	require.NoError(t, err)
	ev, err := Apply(r, TransitionInput{To: StatusCompleted, Actor: driverActor, At: t0.Add(30 * time.Minute)})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, r.Status)
	assert.Nil(t, r.AssignedDriverID)
	assert.Equal(t, "drv-1", ev.Metadata[MetaDriverID])
	assert.Equal(t, r.Status, r.LastEvent().Status)
	assert.Equal(t, 5, r.Version)

	statuses := make([]Status, len(r.Events))
	for i, e := range r.Events {
		statuses[i] = e.Status
		assert.Equal(t, i+1, e.Seq)
	}
	assert.True(t, ValidPath(KindTrip, statuses))
}

func TestApply_ParcelHappyPath(t *testing.T) {
	r := newParcel(t)
	driver := types.ID("courier-9")
	actor := Actor{ID: driver, Role: RoleDriver}
	steps := []TransitionInput{
		{To: StatusAssigned, Actor: SystemActor, DriverID: &driver},
		{To: StatusPickedUp, Actor: actor},
		{To: StatusInTransit, Actor: actor},
		{To: StatusDelivered, Actor: actor},
	}
	for i, in := range steps {
		in.At = t0.Add(time.Duration(i+1) * time.Minute)
		_, err := Apply(r, in)
		require.NoErrorf(t, err, "step %d to %s", i, in.To)
	}
	assert.Equal(t, StatusDelivered, r.Status)
	assert.Nil(t, r.AssignedDriverID)
}

func TestApply_InvalidTransitionLeavesRequestUnchanged(t *testing.T) {
	r := newTrip(t)
	before := r.Clone()

	_, err := Apply(r, TransitionInput{To: StatusStarted, Actor: SystemActor, At: t0.Add(time.Minute)})
	var invalid *InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, StatusRequested, invalid.From)
	assert.Equal(t, StatusStarted, invalid.To)
	assert.Equal(t, ReasonNoEdge, invalid.Reason)
	assert.Equal(t, before, r)
}

func TestApply_AssignRequiresDriver(t *testing.T) {
	r := newTrip(t)
	_, err := Apply(r, TransitionInput{To: StatusAssigned, Actor: SystemActor, At: t0})
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonDriverRequired, invalid.Reason)
	assert.Equal(t, StatusRequested, r.Status)
}

func TestApply_ActorMustBeAssignedDriver(t *testing.T) {
	r := newTrip(t)
	driver := types.ID("drv-1")
	_, err := Apply(r, TransitionInput{To: StatusAssigned, Actor: SystemActor, DriverID: &driver, At: t0})
	require.NoError(t, err)

	_, err = Apply(r, TransitionInput{To: StatusDriverArrived, Actor: Actor{ID: "drv-2", Role: RoleDriver}, At: t0})
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonNotAssignee, invalid.Reason)

	_, err = Apply(r, TransitionInput{To: StatusDriverArrived, Actor: Actor{ID: "ops-1", Role: RoleDispatcher}, At: t0})
	require.NoError(t, err)

	_, err = Apply(r, TransitionInput{To: StatusCancelled, Actor: Actor{ID: "cust-1", Role: RoleCustomer}, At: t0})
	require.NoError(t, err, "owner may cancel")
	assert.Nil(t, r.AssignedDriverID)
}

func TestApply_TerminalRejectsEverything(t *testing.T) {
	r := newTrip(t)
	_, err := Apply(r, TransitionInput{To: StatusCancelled, Actor: Actor{ID: "cust-1", Role: RoleCustomer}, At: t0})
	require.NoError(t, err)

	for _, to := range []Status{StatusRequested, StatusAssigned, StatusCancelled, StatusCompleted} {
		_, err := Apply(r, TransitionInput{To: to, Actor: SystemActor, DriverID: types.ID("d").Ptr(), At: t0})
		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, ReasonTerminal, invalid.Reason)
	}
	assert.Len(t, r.Events, 2)
}

func TestApply_TimestampsStrictlyIncrease(t *testing.T) {
	r := newTrip(t)
	driver := types.ID("drv-1")
	// Clock went backwards relative to the creation event.
	ev, err := Apply(r, TransitionInput{To: StatusAssigned, Actor: SystemActor, DriverID: &driver, At: t0.Add(-time.Hour)})
	require.NoError(t, err)
	assert.True(t, ev.At.After(r.Events[0].At))
}

func TestClone_IsDeep(t *testing.T) {
	r := newTrip(t)
	driver := types.ID("drv-1")
	_, err := Apply(r, TransitionInput{To: StatusAssigned, Actor: SystemActor, DriverID: &driver, At: t0.Add(time.Second)})
	require.NoError(t, err)

	c := r.Clone()
	*c.AssignedDriverID = "other"
	c.Events[1].Metadata[MetaDriverID] = "other"
	c.Events = append(c.Events, Event{})

	assert.Equal(t, driver, *r.AssignedDriverID)
	assert.Equal(t, "drv-1", r.Events[1].Metadata[MetaDriverID])
	assert.Len(t, r.Events, 2)
}
