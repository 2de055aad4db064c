package realtime

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/whiteboard/internal/services"
	"github.com/charlesng35/whiteboard/pkg/errors"
)

func TestNewEngineRequiresCollaborators(t *testing.T) {
	_, err := NewEngine(nil, newFakeRepository())
	require.Error(t, err)

	_, err = NewEngine(newFakeVerifier(), nil)
	require.Error(t, err)
}

func TestEventsBeforeAuthenticationAreUnauthorized(t *testing.T) {
	f := newEngineFixture(t)
	f.repo.add("c1", "alice")
	conn, session := f.connect("conn-1")

	events := map[string]any{
		EventJoinCanvas:   map[string]string{"canvasId": "c1"},
		EventLeaveCanvas:  map[string]string{"canvasId": "c1"},
		EventCanvasUpdate: map[string]any{"canvasId": "c1", "elements": []any{}},
		EventNotifyShare:  map[string]string{"targetUserId": "bob", "canvasId": "c1", "canvasName": "c1"},
		"drawShape":       map[string]string{},
	}

	for event, data := range events {
		conn.reset()
		f.send(session, event, data)

		requireError(t, conn.last(t), EventError, errors.ErrUnauthorized.Code)
		require.Len(t, conn.sent(), 1, event)
	}

	require.False(t, conn.isClosed())
	require.Equal(t, StateUnauthenticated, session.State())
	require.Zero(t, f.engine.Rooms().Len())
	require.Zero(t, f.engine.Presence().Len())
	require.Zero(t, f.repo.writeCount())
}

func TestAuthenticateAcceptsStringAndObjectCredentials(t *testing.T) {
	f := newEngineFixture(t)
	f.verifier.add("jwt-a", "alice", "alice@example.com")
	f.verifier.add("jwt-b", "bob", "bob@example.com")

	connA, sessionA := f.connect("conn-a")
	f.send(sessionA, EventAuthenticate, "jwt-a")

	msg := connA.last(t)
	require.Equal(t, EventAuthenticationSuccess, msg.Event)
	require.Equal(t, AuthenticationSuccess{UserID: "alice"}, msg.Data)
	require.Equal(t, StateAuthenticated, sessionA.State())

	connB, sessionB := f.connect("conn-b")
	f.send(sessionB, EventAuthenticate, map[string]string{"token": "jwt-b"})
	require.Equal(t, EventAuthenticationSuccess, connB.last(t).Event)

	identity, ok := sessionB.Identity()
	require.True(t, ok)
	require.Equal(t, "bob@example.com", identity.Email)

	live, ok := f.engine.Presence().Get("alice")
	require.True(t, ok)
	require.Equal(t, "conn-a", live.ID())
}

func TestAuthenticationFailureIsFatal(t *testing.T) {
	cases := map[string]any{
		"invalid token": "forged",
		"empty string":  "  ",
		"missing data":  nil,
		"empty object":  map[string]string{},
		"wrong type":    42,
	}

	for name, credential := range cases {
		t.Run(name, func(t *testing.T) {
			f := newEngineFixture(t)
			conn, session := f.connect("conn-1")

			f.send(session, EventAuthenticate, credential)

			requireError(t, conn.last(t), EventAuthenticationError, errors.ErrAuthentication.Code)
			require.True(t, conn.isClosed())
			require.Zero(t, f.engine.Presence().Len())
			_, ok := session.Identity()
			require.False(t, ok)
		})
	}
}

func TestEmptyCredentialSkipsVerifier(t *testing.T) {
	f := newEngineFixture(t)
	_, session := f.connect("conn-1")

	f.send(session, EventAuthenticate, "")
	require.Zero(t, f.verifier.calls)
}

func TestReauthenticationIsRejected(t *testing.T) {
	f := newEngineFixture(t)
	conn, session := f.login(t, "conn-1", "alice")
	f.verifier.add("other", "mallory", "mallory@example.com")

	f.send(session, EventAuthenticate, "other")

	requireError(t, conn.last(t), EventAuthenticationError, errors.ErrAuthentication.Code)
	require.True(t, conn.isClosed())

	identity, _ := session.Identity()
	require.Equal(t, "alice", identity.UserID)
	_, ok := f.engine.Presence().Get("mallory")
	require.False(t, ok)
}

func TestNewestConnectionOwnsPresence(t *testing.T) {
	f := newEngineFixture(t)
	first, firstSession := f.login(t, "conn-1", "alice")
	_, _ = f.login(t, "conn-2", "alice")

	live, ok := f.engine.Presence().Get("alice")
	require.True(t, ok)
	require.Equal(t, "conn-2", live.ID())
	require.False(t, first.isClosed())

	// A stale disconnect must not evict the newer connection.
	f.engine.Disconnect(firstSession)
	live, ok = f.engine.Presence().Get("alice")
	require.True(t, ok)
	require.Equal(t, "conn-2", live.ID())
}

func TestJoinCanvasSendsSnapshotToRequesterOnly(t *testing.T) {
	f := newEngineFixture(t)
	f.repo.add("c1", "alice", "bob")
	alice, aliceSession := f.login(t, "conn-a", "alice")
	bob, bobSession := f.login(t, "conn-b", "bob")

	f.send(aliceSession, EventJoinCanvas, map[string]string{"canvasId": "c1"})
	snapshot := requireSnapshot(t, alice.last(t), EventLoadCanvas)
	require.Equal(t, "alice", snapshot.OwnerID)
	require.Equal(t, []string{"bob"}, snapshot.SharedWith)
	require.Empty(t, bob.sent())

	alice.reset()
	f.send(bobSession, EventJoinCanvas, map[string]string{"canvasId": "c1"})
	requireSnapshot(t, bob.last(t), EventLoadCanvas)

	require.Equal(t, []string{EventUserJoined}, alice.events())
	require.Equal(t, UserJoined{UserID: "bob", Email: "bob@example.com", CanvasID: "c1"}, alice.last(t).Data)

	require.Equal(t, []string{"conn-a", "conn-b"}, f.engine.Rooms().Members("c1"))
	require.Equal(t, []string{"c1"}, bobSession.Rooms())
}

func TestJoinCanvasDenied(t *testing.T) {
	f := newEngineFixture(t)
	f.repo.add("c1", "alice")
	conn, session := f.login(t, "conn-1", "mallory")

	f.send(session, EventJoinCanvas, map[string]string{"canvasId": "c1"})
	requireError(t, conn.last(t), EventCanvasError, errors.ErrForbidden.Code)

	f.send(session, EventJoinCanvas, map[string]string{"canvasId": "missing"})
	requireError(t, conn.last(t), EventCanvasError, errors.ErrNotFound.Code)

	require.Zero(t, f.engine.Rooms().Len())
	require.Empty(t, session.Rooms())
	require.False(t, conn.isClosed())
}

func TestMalformedPayloadsAreValidationErrors(t *testing.T) {
	f := newEngineFixture(t)
	f.repo.add("c1", "alice")
	conn, session := f.login(t, "conn-1", "alice")

	f.send(session, EventJoinCanvas, map[string]any{})
	payload := requireError(t, conn.last(t), EventCanvasError, errors.ErrValidation.Code)
	require.Equal(t, "canvasId is required", payload.Message)

	f.send(session, EventJoinCanvas, map[string]any{"canvasId": 7})
	requireError(t, conn.last(t), EventCanvasError, errors.ErrValidation.Code)

	f.send(session, EventCanvasUpdate, map[string]any{"canvasId": "c1"})
	requireError(t, conn.last(t), EventCanvasUpdateError, errors.ErrValidation.Code)

	f.send(session, EventNotifyShare, map[string]any{"canvasId": "c1"})
	requireError(t, conn.last(t), EventError, errors.ErrValidation.Code)

	require.Zero(t, f.engine.Rooms().Len())
	require.Zero(t, f.repo.writeCount())
	require.False(t, conn.isClosed())
}

func TestMalformedEnvelopeAndUnknownEvent(t *testing.T) {
	f := newEngineFixture(t)
	conn, session := f.login(t, "conn-1", "alice")

	f.engine.Handle(context.Background(), session, []byte("{not json"))
	requireError(t, conn.last(t), EventError, errors.ErrValidation.Code)

	f.engine.Handle(context.Background(), session, []byte(`{"data":{}}`))
	requireError(t, conn.last(t), EventError, errors.ErrValidation.Code)

	f.send(session, "eraseEverything", nil)
	payload := requireError(t, conn.last(t), EventError, errors.ErrValidation.Code)
	require.Contains(t, payload.Message, "eraseEverything")
	require.False(t, conn.isClosed())
}

func TestCanvasUpdateBroadcastsToEveryMemberOnce(t *testing.T) {
	f := newEngineFixture(t)
	f.repo.add("c1", "alice", "bob")
	f.repo.add("c2", "carol")
	alice, aliceSession := f.login(t, "conn-a", "alice")
	bob, bobSession := f.login(t, "conn-b", "bob")
	carol, carolSession := f.login(t, "conn-c", "carol")

	f.send(aliceSession, EventJoinCanvas, map[string]string{"canvasId": "c1"})
	f.send(bobSession, EventJoinCanvas, map[string]string{"canvasId": "c1"})
	// A duplicate join must not duplicate deliveries.
	f.send(bobSession, EventJoinCanvas, map[string]string{"canvasId": "c1"})
	f.send(carolSession, EventJoinCanvas, map[string]string{"canvasId": "c2"})
	alice.reset()
	bob.reset()
	carol.reset()

	f.send(aliceSession, EventCanvasUpdate, map[string]any{
		"canvasId": "c1",
		"elements": []any{map[string]string{"id": "shape1"}},
	})

	for _, conn := range []*fakeConn{alice, bob} {
		require.Equal(t, 1, conn.count(EventCanvasUpdate), conn.ID())
		snapshot := requireSnapshot(t, conn.last(t), EventCanvasUpdate)
		require.Equal(t, []string{"shape1"}, elementIDs(t, snapshot.Elements))
	}
	require.Empty(t, carol.sent())
	require.Equal(t, 1, f.repo.writeCount())
}

func TestCanvasUpdateRequiresMembership(t *testing.T) {
	f := newEngineFixture(t)
	f.repo.add("c1", "alice")
	conn, session := f.login(t, "conn-1", "alice")

	f.send(session, EventCanvasUpdate, map[string]any{"canvasId": "c1", "elements": []any{}})

	requireError(t, conn.last(t), EventCanvasUpdateError, errors.ErrForbidden.Code)
	require.Zero(t, f.repo.writeCount())
}

func TestCanvasUpdateRechecksAuthorization(t *testing.T) {
	f := newEngineFixture(t)
	f.repo.add("c1", "alice", "bob")
	alice, aliceSession := f.login(t, "conn-a", "alice")
	bob, bobSession := f.login(t, "conn-b", "bob")
	f.send(aliceSession, EventJoinCanvas, map[string]string{"canvasId": "c1"})
	f.send(bobSession, EventJoinCanvas, map[string]string{"canvasId": "c1"})
	alice.reset()
	bob.reset()

	f.repo.revoke("c1", "bob")
	f.send(bobSession, EventCanvasUpdate, map[string]any{"canvasId": "c1", "elements": []any{}})

	requireError(t, bob.last(t), EventCanvasUpdateError, errors.ErrForbidden.Code)
	require.Empty(t, alice.sent())
	require.Zero(t, f.repo.writeCount())
}

func TestRepositoryFailureIsReportedAsInternal(t *testing.T) {
	f := newEngineFixture(t)
	f.repo.add("c1", "alice")
	conn, session := f.login(t, "conn-1", "alice")
	f.repo.fail(stdErrors.New("database is locked"))

	f.send(session, EventJoinCanvas, map[string]string{"canvasId": "c1"})

	payload := requireError(t, conn.last(t), EventCanvasError, errors.ErrInternalServer.Code)
	require.NotContains(t, payload.Message, "database")
	require.False(t, conn.isClosed())
}

func TestLeaveCanvasStopsDelivery(t *testing.T) {
	f := newEngineFixture(t)
	f.repo.add("c1", "alice", "bob")
	alice, aliceSession := f.login(t, "conn-a", "alice")
	bob, bobSession := f.login(t, "conn-b", "bob")
	f.send(aliceSession, EventJoinCanvas, map[string]string{"canvasId": "c1"})
	f.send(bobSession, EventJoinCanvas, map[string]string{"canvasId": "c1"})

	f.send(bobSession, EventLeaveCanvas, map[string]string{"canvasId": "c1"})
	require.Equal(t, Message{Event: EventCanvasLeft, Data: CanvasLeft{CanvasID: "c1"}}, bob.last(t))
	require.Empty(t, bobSession.Rooms())

	// Leaving twice is harmless.
	f.send(bobSession, EventLeaveCanvas, map[string]string{"canvasId": "c1"})
	require.Equal(t, EventCanvasLeft, bob.last(t).Event)

	alice.reset()
	bob.reset()
	f.send(aliceSession, EventCanvasUpdate, map[string]any{"canvasId": "c1", "elements": []any{}})
	require.Equal(t, 1, alice.count(EventCanvasUpdate))
	require.Empty(t, bob.sent())
}

func TestDisconnectReleasesRoomsAndPresence(t *testing.T) {
	f := newEngineFixture(t)
	f.repo.add("c1", "alice", "bob")
	f.repo.add("c2", "alice")
	alice, aliceSession := f.login(t, "conn-a", "alice")
	_, bobSession := f.login(t, "conn-b", "bob")
	f.send(aliceSession, EventJoinCanvas, map[string]string{"canvasId": "c1"})
	f.send(aliceSession, EventJoinCanvas, map[string]string{"canvasId": "c2"})
	f.send(bobSession, EventJoinCanvas, map[string]string{"canvasId": "c1"})

	f.engine.Disconnect(aliceSession)
	f.engine.Disconnect(aliceSession)

	require.Equal(t, StateClosed, aliceSession.State())
	require.Equal(t, []string{"conn-b"}, f.engine.Rooms().Members("c1"))
	require.Empty(t, f.engine.Rooms().Members("c2"))
	require.Equal(t, 1, f.engine.Rooms().Len())
	_, ok := f.engine.Presence().Get("alice")
	require.False(t, ok)

	// Events on a closed session are ignored.
	alice.reset()
	f.send(aliceSession, EventJoinCanvas, map[string]string{"canvasId": "c1"})
	require.Empty(t, alice.sent())
}

func TestDisconnectBeforeAuthentication(t *testing.T) {
	f := newEngineFixture(t)
	_, session := f.connect("conn-1")

	f.engine.Disconnect(session)

	require.Equal(t, StateClosed, session.State())
	require.Zero(t, f.engine.Stats().Connections)
}

func TestNotifyShareTargetsLiveUserOnly(t *testing.T) {
	f := newEngineFixture(t)
	alice, aliceSession := f.login(t, "conn-a", "alice")

	f.send(aliceSession, EventNotifyShare, map[string]string{"targetUserId": "bob", "canvasId": "c1", "canvasName": "Roadmap"})
	require.Empty(t, alice.sent())

	bob, _ := f.login(t, "conn-b", "bob")
	f.send(aliceSession, EventNotifyShare, map[string]string{"targetUserId": "bob", "canvasId": "c1", "canvasName": "Roadmap"})

	require.Empty(t, alice.sent())
	require.Equal(t, 1, bob.count(EventCanvasShared))
	require.Equal(t, CanvasShared{CanvasID: "c1", CanvasName: "Roadmap", SharedAt: f.now}, bob.last(t).Data)
}

func TestNotifyShareToGoneConnectionIsSilent(t *testing.T) {
	f := newEngineFixture(t)
	alice, aliceSession := f.login(t, "conn-a", "alice")
	bob, _ := f.login(t, "conn-b", "bob")
	require.NoError(t, bob.Close())

	f.send(aliceSession, EventNotifyShare, map[string]string{"targetUserId": "bob", "canvasId": "c1", "canvasName": "x"})

	require.Empty(t, alice.sent())
	require.False(t, f.engine.NotifyCanvasShared("bob", "c1", "x"))
}

func TestStatsAndShutdown(t *testing.T) {
	f := newEngineFixture(t)
	f.repo.add("c1", "alice")
	alice, aliceSession := f.login(t, "conn-a", "alice")
	pending, pendingSession := f.connect("conn-p")
	f.send(aliceSession, EventJoinCanvas, map[string]string{"canvasId": "c1"})

	require.Equal(t, Stats{Connections: 2, Authenticated: 1, Presence: 1, Rooms: 1}, f.engine.Stats())

	alice.onClose = func() { f.engine.Disconnect(aliceSession) }
	pending.onClose = func() { f.engine.Disconnect(pendingSession) }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.engine.Shutdown(ctx))

	require.True(t, alice.isClosed())
	require.True(t, pending.isClosed())
	require.Equal(t, Stats{Draining: true}, f.engine.Stats())
}

func TestShutdownHonoursContext(t *testing.T) {
	f := newEngineFixture(t)
	_, _ = f.connect("conn-stuck")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := f.engine.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnectRefusedOnceDraining(t *testing.T) {
	f := newEngineFixture(t)
	stuck, stuckSession := f.connect("conn-stuck")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.engine.Shutdown(ctx) }()

	require.Eventually(t, stuck.isClosed, time.Second, 5*time.Millisecond)
	require.True(t, f.engine.Draining())

	late, lateSession := f.connect("conn-late")
	require.Nil(t, lateSession)
	require.True(t, late.isClosed())
	require.Equal(t, 1, f.engine.Stats().Connections)

	f.engine.Disconnect(stuckSession)
	require.NoError(t, <-done)
	require.Equal(t, Stats{Draining: true}, f.engine.Stats())
}

func TestClosedSessionGetsNoReplies(t *testing.T) {
	f := newEngineFixture(t)
	conn, session := f.login(t, "conn-1", "alice")
	f.engine.Disconnect(session)

	f.engine.Handle(context.Background(), session, []byte("{not json"))
	f.send(session, EventJoinCanvas, map[string]string{"canvasId": "c1"})
	require.Empty(t, conn.sent())
}

func TestDisconnectDuringVerificationIsSilent(t *testing.T) {
	f := newEngineFixture(t)
	f.verifier.add("token-alice", "alice", "alice@example.com")
	conn, session := f.connect("conn-1")
	f.verifier.during = func() { f.engine.Disconnect(session) }

	f.send(session, EventAuthenticate, "token-alice")

	require.Empty(t, conn.sent())
	require.False(t, conn.isClosed())
	_, ok := f.engine.Presence().Get("alice")
	require.False(t, ok)
}

func TestDisconnectDuringJoinLeavesNoMembership(t *testing.T) {
	f := newEngineFixture(t)
	f.repo.add("c1", "alice")
	conn, session := f.login(t, "conn-1", "alice")
	f.repo.onGet = func() { f.engine.Disconnect(session) }

	f.send(session, EventJoinCanvas, map[string]string{"canvasId": "c1"})

	require.Empty(t, conn.sent())
	require.Empty(t, f.engine.Rooms().Members("c1"))
	require.Zero(t, f.engine.Rooms().Len())
}

func TestPublishCanvasUpdateReachesRoom(t *testing.T) {
	f := newEngineFixture(t)
	f.repo.add("c1", "alice", "bob")
	alice, aliceSession := f.login(t, "conn-a", "alice")
	bob, bobSession := f.login(t, "conn-b", "bob")
	f.send(aliceSession, EventJoinCanvas, map[string]string{"canvasId": "c1"})
	f.send(bobSession, EventJoinCanvas, map[string]string{"canvasId": "c1"})
	alice.reset()
	bob.reset()

	snapshot := &services.CanvasSnapshot{CanvasID: "c1", OwnerID: "alice"}
	require.Equal(t, 2, f.engine.PublishCanvasUpdate(snapshot))
	require.Zero(t, f.engine.PublishCanvasUpdate(nil))
	require.Equal(t, snapshot, requireSnapshot(t, alice.last(t), EventCanvasUpdate))
	require.Equal(t, snapshot, requireSnapshot(t, bob.last(t), EventCanvasUpdate))
}
